package booking

import (
	"evently-core/internal/shared/config"
	"evently-core/internal/shared/middleware"
	"evently-core/internal/tokengate"

	"github.com/gin-gonic/gin"
)

// Router mounts the booking-lifecycle subset of the §6 /bookings
// surface. The ticket sub-resources (/bookings/:id/tickets,
// /bookings/ticket-status/:jobId) are mounted by tickets.Router under
// the same group from the composition root, since this package cannot
// import the Ticket Generator without an import cycle.
type Router struct {
	controller *Controller
	config     *config.Config
	gate       tokengate.Service
}

func NewRouter(controller *Controller, cfg *config.Config, gate tokengate.Service) *Router {
	return &Router{controller: controller, config: cfg, gate: gate}
}

func (r *Router) SetupRoutes(rg *gin.RouterGroup) *gin.RouterGroup {
	bookings := rg.Group("/bookings")
	bookings.Use(middleware.JWTAuthWithGate(r.config, r.gate))
	{
		bookings.POST("/create", r.controller.Create)
		bookings.GET("/my-bookings", r.controller.MyBookings)
		bookings.GET("/:id", r.controller.GetByID)
		bookings.POST("/:id/cancel", r.controller.Cancel)
	}
	return bookings
}
