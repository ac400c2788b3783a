package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/facebookgo/clock"
	h "github.com/gorilla/handlers"
	"github.com/pressly/goose/v3"
	"github.com/pushboard/pushboard-api/internal/config"
	"github.com/pushboard/pushboard-api/internal/handlers"
	"github.com/pushboard/pushboard-api/internal/middleware"
	"github.com/pushboard/pushboard-api/internal/migration"
	"github.com/pushboard/pushboard-api/internal/notification"
	"github.com/pushboard/pushboard-api/internal/push"
	"github.com/pushboard/pushboard-api/internal/repository"
	"github.com/pushboard/pushboard-api/internal/routes"
	"github.com/pushboard/pushboard-api/internal/scheduler"
	"github.com/pushboard/pushboard-api/internal/template"
	"github.com/rs/zerolog"

	_ "github.com/lib/pq" // PostgreSQL driver
)

type application struct {
	config    *config.Config
	db        *sql.DB
	logger    zerolog.Logger
	scheduler *scheduler.Scheduler
	templates template.Service
}

func main() {
	// Set up structured, level-based logging.
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	logger := zerolog.New(consoleWriter).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.SetFlags(0)
	log.SetOutput(logger)

	gooseAdapter := migration.NewGooseAdapter(logger)
	goose.SetLogger(gooseAdapter)

	// Load configuration.
	cfg := config.Load()

	// Initialize database connection.
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to the database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to ping database")
	}

	// Run database migrations.
	migration.RunMigrations(cfg.DatabaseURL, logger)

	// Wire the dispatch pipeline.
	clk := clock.New()
	templateRepo := repository.NewTemplateRepository(db)
	recipientRepo := repository.NewRecipientRepository(db)
	deliveryRepo := repository.NewDeliveryRepository(db)

	gateway := push.NewFCMGateway(cfg.FCM, logger)
	limiter := notification.NewRateLimiter(deliveryRepo, clk)
	dispatcher := notification.NewDispatcher(gateway, deliveryRepo, limiter, logger)
	audience := notification.NewAudienceResolver(recipientRepo)
	orchestrator := notification.NewOrchestrator(templateRepo, audience, dispatcher, clk, logger)

	sched := scheduler.New(templateRepo, orchestrator, clk, cfg.Scheduler.SweepLookback, logger)
	templateService := template.NewService(templateRepo, audience, orchestrator, sched, clk, cfg.Scheduler.ApproveGrace, logger)

	// Create the application instance.
	app := &application{
		config:    cfg,
		db:        db,
		logger:    logger,
		scheduler: sched,
		templates: templateService,
	}

	// Re-arm pending timers and start the recovery sweep.
	if err := sched.Start(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start scheduler")
	}

	// Initialize the HTTP router and middleware.
	router := app.initRouter(templateRepo, recipientRepo, deliveryRepo, orchestrator, dispatcher, limiter, logger)
	loggedRouter := middleware.LoggingMiddleware(app.logger)(router)
	corsHandler := h.CORS(
		h.AllowedOrigins([]string{cfg.CORSOrigin}),
		h.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		h.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		h.AllowCredentials(),
	)(loggedRouter)

	// Start the HTTP server and handle graceful shutdown.
	app.startServer(corsHandler, logger)

	logger.Info().Msg("Application terminated.")
}

// initRouter sets up all HTTP handlers and returns the router.
func (app *application) initRouter(
	templateRepo repository.TemplateRepository,
	recipientRepo repository.RecipientRepository,
	deliveryRepo repository.DeliveryRepository,
	orchestrator *notification.Orchestrator,
	dispatcher *notification.Dispatcher,
	limiter *notification.RateLimiter,
	logger zerolog.Logger,
) http.Handler {
	flash := notification.NewFlashService(templateRepo, recipientRepo, dispatcher, limiter, logger)

	authHandler := handlers.NewAuthHandler(app.db, app.config, logger)
	templateHandler := handlers.NewTemplateHandler(app.templates, logger)
	notificationHandler := handlers.NewNotificationHandler(templateRepo, deliveryRepo, orchestrator, flash, logger)
	recipientHandler := handlers.NewRecipientHandler(recipientRepo, logger)

	return routes.NewRouter(authHandler, templateHandler, notificationHandler, recipientHandler)
}

// startServer launches the HTTP server and handles graceful shutdown.
func (app *application) startServer(handler http.Handler, logger zerolog.Logger) {
	server := &http.Server{
		Addr:    ":" + app.config.ServerPort,
		Handler: handler,
	}

	// Channel to listen for server errors
	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	// Wait for an interrupt signal or a server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Msgf("Received signal: %s. Shutting down...", sig)
	case err := <-serverErrCh:
		logger.Error().Err(err).Msg("Server error occurred")
	}

	// Gracefully shut down the HTTP server.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		logger.Info().Msg("HTTP server shutdown complete.")
	}

	// Stop the dispatch scheduler.
	app.scheduler.Stop()
}
