package rest

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/landlordhub/billing-service/internal/api/rest/handlers"
	restmiddleware "github.com/landlordhub/billing-service/internal/api/rest/middleware"
	"github.com/landlordhub/billing-service/internal/middleware"
	"github.com/landlordhub/billing-service/pkg/logger"
)

// SetupRouter настраивает маршрутизатор Gin с маршрутами и middleware
func SetupRouter(
	log *logger.Logger,
	registry *prometheus.Registry,
	auth *middleware.JWTMiddleware,
	billingHandler *handlers.BillingHandler,
	webhookHandler *handlers.WebhookHandler,
) *gin.Engine {
	r := gin.New()

	r.Use(restmiddleware.LoggerMiddleware(log))
	r.Use(gin.Recovery())

	r.GET("/health", handlers.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	v1 := r.Group("/api/v1")
	{
		billing := v1.Group("/billing")
		billing.Use(auth.RequireAuth())
		{
			billing.POST("/checkout", billingHandler.CreateCheckout)
			billing.GET("/subscription", billingHandler.GetSubscription)
			billing.POST("/portal", billingHandler.CreatePortal)
			billing.GET("/entitlement", billingHandler.GetEntitlement)
		}
	}

	// Вебхуки без аутентификации: их защищает подпись провайдера
	webhooks := r.Group("/webhooks")
	{
		webhooks.POST("/stripe", webhookHandler.HandleStripeWebhook)
	}

	return r
}
