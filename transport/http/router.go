package http

import (
	"github.com/gin-gonic/gin"
	"github.com/layer-3/pearauth/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// SetupRouter sets up the Gin router for the dashboard API
func SetupRouter(handlers *FlowHandlers, flow *service.Flow, apiKey string, log zerolog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(log))

	router.GET("/healthz", Health)

	api := router.Group("/")
	api.Use(RequireAPIKey(apiKey))
	{
		api.GET("/metrics", gin.WrapH(promhttp.Handler()))
		api.GET("/session", handlers.Session)

		api.POST("/wallet/connect", handlers.Connect)
		api.POST("/wallet/disconnect", handlers.Disconnect)
		api.POST("/auth/authenticate", handlers.Authenticate)
		api.POST("/agent/approve", handlers.Approve)
		api.POST("/agent/approve/retry", handlers.RetryApprovals)
	}

	orders := api.Group("/orders")
	orders.Use(RequireTradingEnabled(flow))
	{
		orders.POST("/spot", handlers.PlaceSpotOrder)
		orders.GET("/open", handlers.OpenOrders)
		orders.DELETE("/:id", handlers.CancelOrder)
	}

	return router
}
