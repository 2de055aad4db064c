package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/charlesng35/whiteboard/internal/app"
	"github.com/charlesng35/whiteboard/internal/handlers"
	"github.com/charlesng35/whiteboard/internal/middleware"
	"github.com/charlesng35/whiteboard/internal/monitoring"
	"github.com/charlesng35/whiteboard/internal/monitoring/checks"
	"github.com/charlesng35/whiteboard/internal/realtime"
	"github.com/charlesng35/whiteboard/internal/services"
)

// NewRouter builds the Gin engine, wires middleware and registers the canvas API and
// the realtime endpoint. rateStore may be nil to disable rate limiting.
func NewRouter(cfg *app.Config, db *gorm.DB, verifier middleware.TokenVerifier, canvases *services.CanvasService, engine *realtime.Engine, rateStore middleware.RateStore) (*gin.Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if verifier == nil {
		return nil, fmt.Errorf("token verifier must be provided")
	}
	if engine == nil {
		return nil, fmt.Errorf("realtime engine must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Realtime.AllowedOrigins...))
	r.Use(middleware.RateLimit(rateStore, cfg.Server.RateLimit.Requests, cfg.Server.RateLimit.Window))

	// Health endpoints (public)
	healthManager := monitoring.NewHealthManager(2 * time.Second)
	healthManager.RegisterLiveness(checks.Realtime(engine))
	healthManager.RegisterReadiness(checks.Database(db))

	healthHandler := handlers.NewHealthHandler(healthManager)
	r.GET("/health", healthHandler.Health)
	r.GET("/health/live", healthHandler.Live)
	r.GET("/health/ready", healthHandler.Ready)
	r.GET("/api/health", healthHandler.Health)

	// Realtime endpoint; authentication happens in-band
	realtimeHandler := handlers.NewRealtimeHandler(realtime.NewServer(engine, cfg.Realtime.ServerOptions()))
	r.GET("/ws", realtimeHandler.Stream)

	canvasHandler, err := handlers.NewCanvasHandler(canvases, engine)
	if err != nil {
		return nil, err
	}

	api := r.Group("/api")
	api.Use(middleware.Auth(verifier))

	registerCanvasRoutes(api, canvasHandler)

	if cfg.Monitoring.Prometheus.Enabled {
		r.GET(metricsEndpoint(cfg.Monitoring.Prometheus.Endpoint), gin.WrapH(promhttp.Handler()))
	}

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}

func registerCanvasRoutes(api *gin.RouterGroup, handler *handlers.CanvasHandler) {
	canvases := api.Group("/canvases")
	{
		canvases.GET("", handler.List)
		canvases.POST("", handler.Create)
		canvases.GET("/:id", handler.Get)
		canvases.PUT("/:id", handler.Update)
		canvases.PUT("/:id/share", handler.Share)
	}
}

func metricsEndpoint(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "/metrics"
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return endpoint
}
