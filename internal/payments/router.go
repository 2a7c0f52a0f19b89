package payments

import (
	"evently-core/internal/shared/config"
	"evently-core/internal/shared/middleware"
	"evently-core/internal/tokengate"

	"github.com/gin-gonic/gin"
)

// Router mounts the §6 /payments surface. The webhook route carries no
// JWT middleware: the provider signs deliveries with the shared webhook
// secret instead of a bearer token (§4.3).
type Router struct {
	controller *Controller
	config     *config.Config
	gate       tokengate.Service
}

func NewRouter(controller *Controller, cfg *config.Config, gate tokengate.Service) *Router {
	return &Router{controller: controller, config: cfg, gate: gate}
}

func (r *Router) SetupRoutes(rg *gin.RouterGroup) {
	payments := rg.Group("/payments")
	{
		payments.POST("/webhook", r.controller.Webhook)

		protected := payments.Group("")
		protected.Use(middleware.JWTAuthWithGate(r.config, r.gate))
		protected.POST("/create-order", r.controller.CreateOrder)
		protected.GET("/verify/:orderId", r.controller.Verify)
	}
}
