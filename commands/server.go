package commands

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"ashare_backend/middleware"
	"ashare_backend/routes"
	"ashare_backend/scheduler"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the HTTP API, the sync worker and the scheduler",
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("port", cfg.Port).
		Msg("A-share backend starting")

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	a.orch.Start()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())
	router.Use(middleware.RequestLogger(logger))
	setupHealthEndpoints(router, a)

	limiter := middleware.NewLoginRateLimiter()
	go limiter.RunCleanup(ctx, 10*time.Minute)

	deps := routes.Deps{
		DB:           a.db,
		Store:        a.store,
		Runner:       a.orch,
		JWTSecret:    cfg.AdminJWTSecret,
		LoginLimiter: limiter,
		Logger:       logger,
	}
	if a.recorder != nil {
		deps.Runs = a.recorder
	}
	routes.SetupRoutes(router, deps)

	var jobScheduler *scheduler.Scheduler
	if cfg.SchedulerEnabled {
		jobScheduler = scheduler.NewScheduler(a.orch, a.db, cfg.Location(), cfg.DataUpdateHour, cfg.DataUpdateMinute, logger)
		if err := jobScheduler.Start(); err != nil {
			return err
		}
	}

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutdown signal received, shutting down gracefully")
	case err := <-serveErr:
		if err != nil {
			logger.Error().Err(err).Msg("Server error")
		}
	}

	gracefulShutdown(server, jobScheduler, a)
	return nil
}

// gracefulShutdown stops the scheduler and the listener, then the worker.
func gracefulShutdown(server *http.Server, jobScheduler *scheduler.Scheduler, a *app) {
	if jobScheduler != nil {
		jobScheduler.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Server forced to shutdown")
	}

	// Cancels a run in progress; its finalizer records the interruption.
	a.orch.Stop()
	a.logger.Info().Msg("Server shutdown completed")
}

// setupHealthEndpoints registers the liveness and readiness probes
func setupHealthEndpoints(router *gin.Engine, a *app) {
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "A-share Backend API",
			"version": version,
		})
	})

	// Liveness probe
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	// Readiness probe
	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := a.store.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database ping failed",
			})
			return
		}

		resp := gin.H{"status": "ready", "sync_running": a.orch.Status().IsRunning}
		if a.recorder != nil {
			resp["mongodb"] = a.recorder.GetConnectionStatus()
		}
		c.JSON(http.StatusOK, resp)
	})

	router.GET("/startup", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "started",
		})
	})
}
