package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/manthanshiroya/alert-bot-project-api-sub003/internal/config"
	"github.com/manthanshiroya/alert-bot-project-api-sub003/internal/handlers"
)

// Handlers groups the HTTP handlers mounted by SetupRoutes
type Handlers struct {
	Alerts   *handlers.AlertHandler
	Payments *handlers.PaymentHandler
}

// SetupRoutes configures all the routes for the application
func SetupRoutes(r *gin.Engine, h Handlers, cfg *config.Config) {
	api := r.Group("/api/v1")
	{
		// TradingView webhook endpoint
		api.POST("/webhook/tradingview", handlers.WebhookSecret(cfg.Webhook.Secret), h.Alerts.HandleWebhook)

		api.GET("/plans", h.Payments.ListPlans)
		api.GET("/users/:id/subscriptions", h.Payments.GetUserSubscriptions)

		payments := api.Group("/payments")
		{
			payments.POST("", h.Payments.CreatePayment)
			payments.GET("/:id", h.Payments.GetPayment)
			payments.GET("/:id/qr", h.Payments.GetPaymentQR)
			payments.POST("/:id/proof", h.Payments.SubmitProof)
		}

		admin := api.Group("/admin", handlers.AdminAuth(cfg.Admin.JWTSecret))
		{
			admin.GET("/alerts", h.Alerts.GetAlerts)
			admin.GET("/alerts/:id", h.Alerts.GetAlert)
			admin.POST("/alerts/:id/retry", h.Alerts.RetryAlert)

			admin.GET("/payments", h.Payments.ListPayments)
			admin.POST("/payments/:id/approve", h.Payments.ApprovePayment)
			admin.POST("/payments/:id/reject", h.Payments.RejectPayment)
			admin.POST("/payments/sweep", h.Payments.SweepPayments)

			admin.POST("/subscriptions/:id/cancel", h.Payments.CancelSubscription)
		}
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "alertbot",
		})
	})

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "Trading Alert Bot",
			"version": "1.0.0",
			"endpoints": gin.H{
				"webhook":  "/api/v1/webhook/tradingview",
				"plans":    "/api/v1/plans",
				"payments": "/api/v1/payments",
				"admin":    "/api/v1/admin",
				"health":   "/health",
			},
		})
	})
}
