package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"ashare_backend/admin"
	"ashare_backend/controllers"
	"ashare_backend/metrics"
	"ashare_backend/middleware"
	"ashare_backend/services/marketstore"
)

// Deps are the services the HTTP layer is built from. Runs may be nil.
type Deps struct {
	DB           *gorm.DB
	Store        *marketstore.Store
	Runner       admin.Runner
	Runs         admin.RunLister
	JWTSecret    string
	LoginLimiter *middleware.RateLimiter
	Logger       zerolog.Logger
}

// SetupRoutes sets up all API routes
func SetupRoutes(router *gin.Engine, d Deps) {
	if d.LoginLimiter == nil {
		d.LoginLimiter = middleware.NewLoginRateLimiter()
	}

	stockController := controllers.NewStockController(d.Store, d.Logger)
	syncController := admin.NewSyncController(d.Runner, d.Runs, d.Logger)
	adminStocks := admin.NewStockController(d.Store, d.Logger)
	authController := admin.NewAuthController(d.DB, d.JWTSecret, d.LoginLimiter, d.Logger)

	metrics.InitMetrics()
	router.GET("/metrics", metrics.GetMetrics)

	// API v1 group
	api := router.Group("/api/v1")
	{
		stocks := api.Group("/stocks")
		{
			stocks.GET("", stockController.GetStocks)
			stocks.GET("/:code/bars", stockController.GetBars)
			stocks.GET("/:code/latest", stockController.GetLatest)
		}
	}

	router.POST("/admin/login", middleware.LoginRateLimit(d.LoginLimiter), authController.Login)

	if d.JWTSecret == "" {
		d.Logger.Warn().Msg("ADMIN_JWT_SECRET is empty: admin routes are unauthenticated")
	}

	adminRoutes := router.Group("/admin", middleware.AdminJWT(d.JWTSecret, d.DB))
	{
		adminRoutes.POST("/logout", authController.Logout)

		// Sync control
		adminRoutes.GET("/init-all", syncController.InitAll)
		adminRoutes.POST("/init-all", syncController.InitAll)
		adminRoutes.GET("/daily-update", syncController.DailyUpdate)
		adminRoutes.POST("/daily-update", syncController.DailyUpdate)
		adminRoutes.POST("/instruments/refresh", syncController.RefreshInstruments)
		adminRoutes.GET("/status", syncController.Status)
		adminRoutes.GET("/status/ws", syncController.StatusStream)
		adminRoutes.GET("/runs", syncController.Runs)

		// Instruments
		adminRoutes.GET("/stocks", adminStocks.ListStocks)
		adminRoutes.GET("/stocks/:code", adminStocks.GetStock)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "not found"})
	})
}
