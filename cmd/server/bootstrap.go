package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/whiteboard/internal/api"
	"github.com/charlesng35/whiteboard/internal/app"
	"github.com/charlesng35/whiteboard/internal/app/maintenance"
	iauth "github.com/charlesng35/whiteboard/internal/auth"
	"github.com/charlesng35/whiteboard/internal/database"
	"github.com/charlesng35/whiteboard/internal/middleware"
	"github.com/charlesng35/whiteboard/internal/realtime"
	"github.com/charlesng35/whiteboard/internal/services"
	"github.com/charlesng35/whiteboard/pkg/logger"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB        *gorm.DB
	Engine    *realtime.Engine
	Reporter  *maintenance.Reporter
	RateStore *middleware.MemoryRateStore
	Router    *gin.Engine
}

// bootstrapRuntime initialises the database, services, the sync engine and the HTTP router.
func bootstrapRuntime(cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mode
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	users, err := services.NewUserService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise user service: %w", err)
	}

	canvases, err := services.NewCanvasService(stack.DB, users)
	if err != nil {
		return nil, fmt.Errorf("initialise canvas service: %w", err)
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTOptions())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}
	verifier := iauth.NewTokenVerifier(jwtSvc, users)

	stack.Engine, err = realtime.NewEngine(verifier, canvases)
	if err != nil {
		return nil, fmt.Errorf("initialise realtime engine: %w", err)
	}

	stack.RateStore = middleware.NewMemoryRateStore()

	stack.Reporter = maintenance.NewReporter(stack.Engine,
		maintenance.WithStatsSchedule(cfg.Monitoring.StatsSchedule),
		maintenance.WithPruner(stack.RateStore),
	)
	if err := stack.Reporter.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	stack.Router, err = api.NewRouter(cfg, stack.DB, verifier, canvases, stack.Engine, stack.RateStore)
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown closes realtime connections, stops background jobs and releases the database.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Engine != nil {
		if err := s.Engine.Shutdown(ctx); err != nil {
			log.Warn("realtime shutdown", zap.Error(err))
		}
	}

	if s.Reporter != nil {
		stopCtx := s.Reporter.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
		}
		if err := s.Reporter.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown run failed", zap.Error(err))
		}
	}

	if s.DB != nil {
		if err := database.Close(s.DB); err != nil {
			log.Warn("failed to close database", zap.Error(err))
		}
		s.DB = nil
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.Prepare(db); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("prepare database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", dbCfg.Driver))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver:             strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:               strings.TrimSpace(cfg.Database.Path),
		DSN:                strings.TrimSpace(cfg.Database.DSN),
		MaxOpenConns:       cfg.Database.MaxOpenConns,
		MaxIdleConns:       cfg.Database.MaxIdleConns,
		ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
		SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		applyHostConfig(&dbCfg, cfg.Database.Postgres)
	case "mysql":
		applyHostConfig(&dbCfg, cfg.Database.MySQL)
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

func applyHostConfig(dbCfg *database.Config, host app.DBAuthConfig) {
	dbCfg.Host = strings.TrimSpace(host.Host)
	dbCfg.Port = host.Port
	dbCfg.Name = strings.TrimSpace(host.Database)
	dbCfg.User = strings.TrimSpace(host.Username)
	dbCfg.Password = strings.TrimSpace(host.Password)
}
