package catalog

import (
	"evently-core/internal/shared/config"
	"evently-core/internal/shared/middleware"
	"evently-core/internal/tokengate"
	"evently-core/internal/users"

	"github.com/gin-gonic/gin"
)

// Router mounts the seat-type management surface. Listing is open to
// any authenticated caller; mutation requires the organizer (or admin)
// role, with per-event ownership enforced in the service.
type Router struct {
	controller *Controller
	config     *config.Config
	gate       tokengate.Service
}

func NewRouter(controller *Controller, cfg *config.Config, gate tokengate.Service) *Router {
	return &Router{controller: controller, config: cfg, gate: gate}
}

func (r *Router) SetupRoutes(rg *gin.RouterGroup) {
	group := rg.Group("/seats/:eventId/seat-types")
	group.Use(middleware.JWTAuthWithGate(r.config, r.gate))
	{
		group.GET("", r.controller.List)

		organizer := group.Group("")
		organizer.Use(middleware.RequireRoles(string(users.RoleOrganizer), string(users.RoleAdmin)))
		{
			organizer.POST("", r.controller.Create)
			organizer.PUT("/:seatTypeId", r.controller.Update)
			organizer.DELETE("/:seatTypeId", r.controller.Delete)
		}
	}
}
