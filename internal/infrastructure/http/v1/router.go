// Package v1 provides HTTP API version 1 of the costing engine.
package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"costengine/internal/app"
	"costengine/internal/infrastructure/http/v1/handlers"
	"costengine/internal/infrastructure/http/v1/middleware"
	"costengine/pkg/logger"
)

// RouterConfig holds router dependencies.
type RouterConfig struct {
	App    *app.App
	Logger *logger.Logger
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// NewRouter creates the gin engine with every route registered.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}

	router := gin.New()

	// Order matters: the error handler must run inside the logger.
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())

	healthHandler := handlers.NewHealthHandler(cfg.App.Ping)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
	}
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	base := handlers.NewBaseHandler()
	runs := handlers.NewRunHandler(base, cfg.App.Engine)
	reports := handlers.NewLedgerHandler(base, cfg.App.Costs, cfg.App.Ledger, cfg.App)
	stock := handlers.NewStockHandler(base, cfg.App, cfg.App.Allocator)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/runs", runs.Run)
		v1.POST("/runs/retry", runs.Retry)

		branches := v1.Group("/branches/:id")
		branches.POST("/reset", runs.Reset)
		branches.GET("/cost", reports.DailyCost)
		branches.GET("/consistency", reports.Consistency)
		branches.GET("/audit", reports.Audit)
		branches.POST("/receipts", stock.Receive)
		branches.POST("/wastage", stock.Waste)
		branches.GET("/stock", stock.Available)
	}

	return router
}
