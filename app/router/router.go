package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"streamscaler/app/handler"
	"streamscaler/app/middleware"
)

// Router Router
type Router struct {
	notificationHandler *handler.NotificationHandler
	scalerHandler       *handler.ScalerHandler
}

// NewRouter creates a new Router
func NewRouter(notificationHandler *handler.NotificationHandler, scalerHandler *handler.ScalerHandler) *Router {
	return &Router{
		notificationHandler: notificationHandler,
		scalerHandler:       scalerHandler,
	}
}

// Setup sets up routes
func (r *Router) Setup(engine *gin.Engine) {
	engine.Use(middleware.Recovery())
	engine.Use(middleware.Logger())

	// Notification channel delivery endpoint
	engine.POST("/notifications", r.notificationHandler.Receive)

	// Operator API
	api := engine.Group("/api/v1")
	api.Use(middleware.AuthMiddleware())
	{
		sc := api.Group("/scaler")
		{
			sc.GET("/status", r.scalerHandler.GetStatus)
			sc.GET("/history", r.scalerHandler.GetHistory)
			sc.POST("/trigger", r.scalerHandler.TriggerScale)
		}
	}

	// Prometheus scrape endpoint
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
}
