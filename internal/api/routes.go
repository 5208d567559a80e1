package api

import (
	"net/http"

	"essay-grader/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var endpoints = []string{
	"GET  /health",
	"GET  /metrics",
	"POST /api/essays",
	"POST /api/essays/sync",
	"GET  /api/essays",
	"GET  /api/essays/:taskId",
	"GET  /api/essays/:taskId/report.pdf",
	"GET  /api/essays/:taskId/report.json",
	"GET  /api/essays/:taskId/ws",
	"POST /api/auth/login",
	"GET  /api/points/balance",
	"POST /api/points/redeem",
	"GET  /api/points/transactions",
	"POST /api/admin/generate-codes",
	"POST /api/admin/users/adjust-points",
}

// SetupRoutes configures all API routes
func SetupRoutes(handlers *Handlers, cfg *config.Config) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	// Add CORS middleware
	router.Use(corsMiddleware())

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"service": "essay-grader", "endpoints": endpoints})
	})
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	optional := handlers.authMiddleware(false)
	required := handlers.authMiddleware(true)

	api := router.Group("/api")
	{
		essays := api.Group("/essays")
		{
			essays.POST("", optional, handlers.SubmitEssayHandler)
			essays.POST("/sync", optional, handlers.GradeSyncHandler)
			essays.GET("", required, handlers.HistoryHandler)
			essays.GET("/:taskId", handlers.GetTaskStatusHandler)
			essays.GET("/:taskId/report.pdf", handlers.DownloadPDFHandler)
			essays.GET("/:taskId/report.json", handlers.DownloadJSONHandler)
			essays.GET("/:taskId/ws", handlers.StatusStreamHandler)
		}

		api.POST("/auth/login", handlers.LoginHandler)

		points := api.Group("/points", required)
		{
			points.GET("/balance", handlers.BalanceHandler)
			points.POST("/redeem", handlers.RedeemHandler)
			points.GET("/transactions", handlers.TransactionsHandler)
		}

		admin := api.Group("/admin", adminMiddleware(cfg.Admin.Token))
		{
			admin.POST("/generate-codes", handlers.GenerateCodesHandler)
			admin.POST("/users/adjust-points", handlers.AdjustPointsHandler)
		}
	}

	return router
}

// corsMiddleware adds CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, X-Admin-Token, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
