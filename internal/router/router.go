package router

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"ltvsync/internal/handler/api"
	"ltvsync/internal/middleware"
)

// Handlers bundles the API handlers mounted under /api.
type Handlers struct {
	Sync   *api.SyncHandler
	Config *api.ConfigHandler
	Email  *api.EmailHandler
}

// Setup configures all routes for the Echo server.
func Setup(e *echo.Echo, h Handlers, logger *zap.Logger) {
	e.Validator = api.NewValidator()

	// Global middleware
	e.Use(echomw.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger(logger))
	e.Use(middleware.Metrics())

	apiGroup := e.Group("/api")

	apiGroup.GET("/config", h.Config.Get)
	apiGroup.POST("/config", h.Config.Save)
	apiGroup.GET("/custom-fields", h.Config.CustomFields)

	apiGroup.POST("/sync/trigger", h.Sync.Trigger)
	apiGroup.GET("/sync/status", h.Sync.Status)
	apiGroup.GET("/sync/history", h.Sync.History)
	apiGroup.GET("/sync/:id", h.Sync.Detail)
	apiGroup.GET("/sync/:id/export", h.Sync.Export)

	apiGroup.POST("/email/test", h.Email.Test)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
}
