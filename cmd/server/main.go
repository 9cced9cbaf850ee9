package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nycbuildings/lotline/internal/checkpoint"
	"github.com/nycbuildings/lotline/internal/config"
	"github.com/nycbuildings/lotline/internal/database"
	"github.com/nycbuildings/lotline/internal/handlers"
	"github.com/nycbuildings/lotline/internal/logger"
	"github.com/nycbuildings/lotline/internal/middleware"
	"github.com/nycbuildings/lotline/internal/pipeline"
	"github.com/nycbuildings/lotline/internal/services"
)

const (
	shutdownTimeout = 30 * time.Second
)

func main() {
	// Load configuration from environment variables
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	log := logger.New(cfg.Server.Env)
	log.Info("Starting Lotline report API", map[string]interface{}{
		"version":     handlers.APIVersion,
		"environment": cfg.Server.Env,
		"port":        cfg.Server.Port,
	})

	store, err := checkpoint.NewStore(cfg.Pipeline.CheckpointDir, log)
	if err != nil {
		log.Fatal("Failed to open checkpoint store", err, map[string]interface{}{
			"dir": cfg.Pipeline.CheckpointDir,
		})
	}

	// The database is optional for the report API; it only feeds the
	// readiness check when configured.
	ctx := context.Background()
	var db *database.Database
	if cfg.Database.Enabled() {
		db, err = database.NewPostgresPool(ctx, cfg.Database)
		if err != nil {
			log.Fatal("Failed to connect to database", err, map[string]interface{}{
				"host": cfg.Database.Host,
				"port": cfg.Database.Port,
				"name": cfg.Database.Name,
			})
		}
		defer db.Close()
	}

	// Setup Gin router
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Add middleware in order: RequestID -> Logger -> Recovery -> CORS
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.CORS(cfg.CORS.Origins))

	// Register health check routes
	healthHandler := handlers.NewHealthHandler(db, store, pipeline.FinalStage, cfg.Server.Env)
	router.GET("/health", healthHandler.Health)
	router.GET("/health/ready", healthHandler.Ready)
	router.GET("/api/v1/info", healthHandler.Info)

	// Resolution results are served from the pipeline's final checkpoint.
	resolutionService := services.NewResolutionService(store, pipeline.FinalStage, log)
	resolutionHandler := handlers.NewResolutionHandler(resolutionService)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/report", resolutionHandler.Report)
		v1.GET("/records/:id", resolutionHandler.Record)
		v1.GET("/lots/:bbl", resolutionHandler.Lot)
		v1.GET("/complexes", resolutionHandler.Complexes)
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server listening", map[string]interface{}{
			"port": cfg.Server.Port,
			"addr": srv.Addr,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", err, nil)
		}
	}()

	// Wait for interrupt signal (SIGINT or SIGTERM)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// Graceful shutdown
	log.Info("Shutting down server...", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", err, map[string]interface{}{
			"timeout": shutdownTimeout.String(),
		})
	}

	log.Info("Server exited", nil)
}
