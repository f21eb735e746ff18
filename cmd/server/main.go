package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stwalsh4118/plotsync/internal/app"
	"github.com/stwalsh4118/plotsync/internal/config"
	"github.com/stwalsh4118/plotsync/internal/handlers"
	"github.com/stwalsh4118/plotsync/internal/logger"
	"github.com/stwalsh4118/plotsync/internal/middleware"
)

const (
	shutdownTimeout = 30 * time.Second
	// uploadMemory bounds the multipart form kept in memory per request
	uploadMemory = 32 << 20
)

func main() {
	// Load configuration from environment variables
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Server.Env)
	log.Info("Starting plotsync API", map[string]interface{}{
		"version":     handlers.APIVersion,
		"environment": cfg.Server.Env,
		"port":        cfg.Server.Port,
	})

	ctx := context.Background()
	pipeline, err := app.New(ctx, cfg, app.Options{WithCatalog: true}, log)
	if err != nil {
		log.Fatal("Failed to initialize import pipeline", err, map[string]interface{}{
			"db_host": cfg.Database.Host,
			"db_name": cfg.Database.Name,
		})
	}
	defer pipeline.Close()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.MaxMultipartMemory = uploadMemory

	// Add middleware in order: RequestID -> Logger -> Recovery -> CORS
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.CORS(cfg.CORS.Origins))

	healthHandler := pipeline.HealthHandler()
	router.GET("/health", healthHandler.Health)
	router.GET("/health/ready", healthHandler.Ready)
	router.GET("/api/v1/info", healthHandler.Info)

	importHandler := handlers.NewImportHandler(pipeline.Service, log)

	v1 := router.Group("/api/v1")
	{
		imports := v1.Group("/imports")
		{
			imports.POST("/preview", importHandler.Preview)
			imports.POST("/preview/upload", importHandler.PreviewUpload)
			imports.POST("/commit", importHandler.Commit)
			imports.GET("/logs", importHandler.Logs)
		}
	}

	// No WriteTimeout: preview and commit stream for as long as the run lasts.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Server listening", map[string]interface{}{
			"port": cfg.Server.Port,
			"addr": srv.Addr,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed to start", err, nil)
		}
	}()

	// Wait for interrupt signal (SIGINT or SIGTERM)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// In-flight commits keep running until they finish or the timeout expires.
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
