package tickets

import (
	"evently-core/internal/shared/config"
	"evently-core/internal/tokengate"

	"github.com/gin-gonic/gin"
)

// Router mounts its routes onto a booking group the caller already
// built (booking.Router.SetupRoutes' return value), so both packages
// contribute to one /bookings prefix without importing each other.
type Router struct {
	controller *Controller
	config     *config.Config
	gate       tokengate.Service
}

func NewRouter(controller *Controller, cfg *config.Config, gate tokengate.Service) *Router {
	return &Router{controller: controller, config: cfg, gate: gate}
}

func (r *Router) SetupRoutes(bookings *gin.RouterGroup) {
	bookings.GET("/:id/tickets", r.controller.GetTickets)
	bookings.GET("/ticket-status/:jobId", r.controller.JobStatus)
}
