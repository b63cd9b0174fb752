package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bracketforge/tournament-engine/brackets"
	"github.com/bracketforge/tournament-engine/config"
	"github.com/bracketforge/tournament-engine/db"
	"github.com/bracketforge/tournament-engine/events"
	"github.com/bracketforge/tournament-engine/handlers"
	"github.com/bracketforge/tournament-engine/repositories"
	api "github.com/bracketforge/tournament-engine/routes"
	"github.com/bracketforge/tournament-engine/services"
	"github.com/bracketforge/tournament-engine/storage"
	_ "github.com/lib/pq"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("configuration loaded", slog.Int("port", cfg.ServerPort))

	dbConn, err := db.Connect(cfg.DatabaseURL, 5*time.Second)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Error("failed to close database connection", slog.Any("error", err))
		}
	}()
	logger.Info("database connection established")

	if err := db.Migrate(dbConn, cfg.MigrationsPath); err != nil {
		logger.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("migrations applied")

	// Bracket archiving is optional; without R2 credentials completed
	// brackets simply stay in the database.
	var uploader storage.FileUploader
	if cfg.R2Configured() {
		uploader, err = storage.NewCloudflareR2Uploader(storage.CloudflareR2UploaderConfig{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			PublicBaseURL:   cfg.R2PublicBaseURL,
		})
		if err != nil {
			logger.Error("failed to initialize Cloudflare R2 uploader", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("Cloudflare R2 uploader initialized")
	} else {
		logger.Info("bracket archiving disabled, R2 credentials not configured")
	}

	wsHub := brackets.NewHub(logger)
	go wsHub.Run()

	bus := events.NewBus(logger)
	defer bus.Close()

	tournamentRepo := repositories.NewPostgresTournamentRepository(dbConn)
	participantRepo := repositories.NewPostgresParticipantRepository(dbConn)
	matchRepo := repositories.NewPostgresMatchRepository(dbConn)
	resultRepo := repositories.NewPostgresResultRepository(dbConn)
	standingRepo := repositories.NewPostgresStandingRepository(dbConn)
	txManager := repositories.NewTxManager(dbConn)

	notifier := services.NewHubNotifier(wsHub)

	matchService := services.NewMatchService(
		matchRepo, resultRepo, tournamentRepo, participantRepo, txManager, bus, logger)
	registryService := services.NewRegistryService(
		participantRepo, tournamentRepo, matchRepo, matchService, txManager, logger)
	tournamentService := services.NewTournamentService(
		tournamentRepo, participantRepo, matchRepo, resultRepo, standingRepo,
		txManager, registryService, bus, notifier, uploader, logger)
	sessionService := services.NewSessionService(matchRepo, services.LocalSessionCreator{}, logger)

	var archiver services.BracketArchiver
	if uploader != nil {
		archiver = tournamentService
	}
	advancerService := services.NewAdvancerService(
		matchRepo, tournamentRepo, participantRepo, standingRepo,
		txManager, matchService, notifier, archiver, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := bus.SubscribeMatchSettled(ctx, advancerService.HandleMatchSettled); err != nil {
		logger.Error("failed to subscribe round advancer", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("round advancer subscribed")

	sweeper := services.NewConfirmationSweeper(
		matchRepo, matchService, cfg.ConfirmTimeout, cfg.SweepInterval, logger)
	go sweeper.Run(ctx)

	router := api.InitRoutes(api.Handlers{
		Tournament:  handlers.NewTournamentHandler(tournamentService, advancerService),
		Participant: handlers.NewParticipantHandler(registryService, tournamentService),
		Match:       handlers.NewMatchHandler(matchService, sessionService),
		WebSocket:   handlers.NewWebSocketHandler(wsHub, tournamentService, logger),
	}, cfg.JWTSecretKey)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("address", server.Addr))
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("server stopped gracefully")
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancelShutdown()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", slog.Any("error", err))
			if closeErr := server.Close(); closeErr != nil {
				logger.Error("failed to force close server", slog.Any("error", closeErr))
			}
			os.Exit(1)
		}
		logger.Info("server shutdown complete")
	}
	logger.Info("application exited")
}
