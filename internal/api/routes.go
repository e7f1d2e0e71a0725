package api

import (
	"embed"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

//go:embed static/index.html
var static embed.FS

// SetupRoutes sets up the API routes. hub may be nil when live refresh is
// disabled.
func SetupRoutes(handler *Handler, hub *Hub, logger *slog.Logger) *gin.Engine {
	router := gin.New()

	// Middleware
	router.Use(Recovery())
	router.Use(CORS())
	router.Use(Logger(logger))

	router.GET("/", func(c *gin.Context) {
		page, err := static.ReadFile("static/index.html")
		if err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", page)
	})
	router.GET("/health", handler.HealthCheck)
	if hub != nil {
		router.GET("/ws", hub.ServeWS)
	}

	// API v1
	v1 := router.Group("/api/v1")
	{
		v1.GET("/overview", handler.GetOverview)
		v1.GET("/runs", handler.GetRuns)
		v1.GET("/runs/:id", handler.GetRun)

		tables := v1.Group("/tables")
		{
			tables.GET("", handler.GetTables)
			tables.GET("/:table/total", handler.GetTotal)
			tables.GET("/:table/rolling", handler.GetRolling)
			tables.GET("/:table/truncated", handler.GetTruncated)
			tables.GET("/:table/series", handler.GetSeries)
		}
	}

	return router
}
