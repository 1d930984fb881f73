package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/foretell/foretell-api/internal/auth"
	"github.com/foretell/foretell-api/internal/database"
	"github.com/foretell/foretell-api/internal/markets"
	"github.com/foretell/foretell-api/internal/trading"
	"github.com/foretell/foretell-api/internal/wallet"
	"github.com/foretell/foretell-api/internal/ws"
	"github.com/foretell/foretell-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the prediction-market API server with graceful
// shutdown support.
func main() {
	// Optional .env for local development
	if err := godotenv.Load(); err == nil {
		zlog.Debug().Msg("loaded .env file")
	}

	// Initialize database
	db, err := database.NewDatabase()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize router
	router := gin.Default()

	// Live event hub
	hub := ws.NewHub()

	// Initialize services and handlers
	authService := auth.NewService(middleware.JWTSecret())
	authHandlers := auth.NewGinHandlers(authService)
	// Register demo credentials
	authService.RegisterAPICredentials(auth.DemoAPIKey, auth.DemoAPISecret)
	if secret := os.Getenv("FORETELL_ADMIN_SECRET"); secret != "" {
		auth.AdminAPISecret = secret
	}
	authService.RegisterAdminCredentials(auth.AdminAPIKey, auth.AdminAPISecret)

	marketService := markets.NewService(db, hub)
	marketHandlers := markets.NewGinHandlers(marketService)

	tradingService := trading.NewService(db, hub)
	tradingHandlers := trading.NewGinHandlers(tradingService)

	walletService := wallet.NewService(db)
	walletHandlers := wallet.NewGinHandlers(walletService)

	// Create the submission reviewer
	reviewer := markets.NewReviewer(marketService.GetDB(), reviewDeadline())

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, hub, authHandlers, marketHandlers, tradingHandlers, walletHandlers)

	// Get port from env otherwise it's 8080
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Create server
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := hub.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		reviewer.Start(gctx)
		return nil
	})
	g.Go(func() error {
		zlog.Info().Str("port", port).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	// Wait for interrupt signal or a fatal worker error
	<-gctx.Done()
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding requests 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	if err := g.Wait(); err != nil {
		zlog.Error().Err(err).Msg("background worker failed")
	}

	zlog.Info().Msg("Server exiting")
}

// reviewDeadline reads the auto-reject window for pending submissions from
// ADMIN_AUTO_REJECT_MINUTES.
func reviewDeadline() time.Duration {
	raw := os.Getenv("ADMIN_AUTO_REJECT_MINUTES")
	if raw == "" {
		return markets.DefaultReviewDeadline
	}
	minutes, err := strconv.Atoi(raw)
	if err != nil || minutes <= 0 {
		zlog.Warn().Str("value", raw).Msg("invalid ADMIN_AUTO_REJECT_MINUTES, using default")
		return markets.DefaultReviewDeadline
	}
	return time.Duration(minutes) * time.Minute
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Market routes: Public browse endpoints
// - Order/submission/wallet routes: Protected by JWT authentication
// - Admin routes: Protected by the admin permission
func setupRoutes(
	router *gin.Engine,
	hub *ws.Hub,
	authHandlers *auth.GinHandlers,
	marketHandlers *markets.GinHandlers,
	tradingHandlers *trading.GinHandlers,
	walletHandlers *wallet.GinHandlers,
) {
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", func(c *gin.Context) {
		hub.HandleWS(c.Writer, c.Request)
	})

	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Public browse routes
		marketsGroup := v1.Group("/markets")
		{
			marketsGroup.GET("", marketHandlers.ListMarketsHandler())
			marketsGroup.GET("/:market_id", marketHandlers.GetMarketHandler())
			marketsGroup.GET("/:market_id/orderbook", tradingHandlers.OrderBookHandler())
			marketsGroup.GET("/:market_id/trades", tradingHandlers.TradesHandler())
		}

		// Order routes
		orders := v1.Group("/orders")
		orders.Use(middleware.JWTAuth())
		{
			orders.POST("", tradingHandlers.PlaceOrderHandler())
			orders.GET("", tradingHandlers.ListOrdersHandler())
			orders.GET("/:order_id", tradingHandlers.GetOrderStatusHandler())
			orders.DELETE("/:order_id", tradingHandlers.CancelOrderHandler())
		}

		// Submission routes
		submissions := v1.Group("/submissions")
		submissions.Use(middleware.JWTAuth())
		{
			submissions.POST("", marketHandlers.CreateSubmissionHandler())
		}

		// Wallet routes
		walletGroup := v1.Group("/wallet")
		walletGroup.Use(middleware.JWTAuth())
		{
			walletGroup.GET("", walletHandlers.GetWalletHandler())
			walletGroup.PUT("", walletHandlers.UpdateWalletHandler())
		}

		// Admin review routes
		admin := v1.Group("/admin")
		admin.Use(middleware.AdminAuth())
		{
			admin.GET("/submissions", marketHandlers.ListSubmissionsHandler())
			admin.POST("/submissions/:submission_id/approve", marketHandlers.ApproveSubmissionHandler())
			admin.POST("/submissions/:submission_id/reject", marketHandlers.RejectSubmissionHandler())
		}
	}
}
