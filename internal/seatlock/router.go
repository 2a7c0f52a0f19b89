package seatlock

import (
	"evently-core/internal/shared/config"
	"evently-core/internal/shared/middleware"
	"evently-core/internal/tokengate"

	"github.com/gin-gonic/gin"
)

// Router mounts the §4.1 lock/release/extend/get surface under
// /seats/:eventId/seat-types/:seatTypeId, mirroring auth.Router's shape.
type Router struct {
	controller *Controller
	config     *config.Config
	gate       tokengate.Service
}

func NewRouter(controller *Controller, cfg *config.Config, gate tokengate.Service) *Router {
	return &Router{controller: controller, config: cfg, gate: gate}
}

func (r *Router) SetupRoutes(rg *gin.RouterGroup) {
	seats := rg.Group("/seats/:eventId/seat-types/:seatTypeId")
	seats.Use(middleware.JWTAuthWithGate(r.config, r.gate))
	{
		seats.POST("/lock", r.controller.Lock)
		seats.DELETE("/:seatLabel/lock", r.controller.Release)
		seats.PATCH("/:seatLabel/lock", r.controller.Extend)
		seats.GET("/:seatLabel/lock", r.controller.Get)
	}
	rg.GET("/seats/:eventId/my-locks", middleware.JWTAuthWithGate(r.config, r.gate), r.controller.ListMine)
}
