package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/channelpay/tonconnect-server-go/internal/config"
	"github.com/channelpay/tonconnect-server-go/internal/database"
	"github.com/channelpay/tonconnect-server-go/internal/events"
	"github.com/channelpay/tonconnect-server-go/internal/handler"
	"github.com/channelpay/tonconnect-server-go/internal/jobs"
	"github.com/channelpay/tonconnect-server-go/internal/middleware"
	"github.com/channelpay/tonconnect-server-go/internal/model"
	"github.com/channelpay/tonconnect-server-go/internal/redis"
	"github.com/channelpay/tonconnect-server-go/internal/repository"
	"github.com/channelpay/tonconnect-server-go/internal/service"
	"github.com/channelpay/tonconnect-server-go/internal/sessionstore"
	"github.com/channelpay/tonconnect-server-go/internal/sse"
	"github.com/channelpay/tonconnect-server-go/internal/tonconnect"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	sessionRepo := repository.NewWalletSessionRepository(db.DB)
	profileRepo := repository.NewProfileRepository(db.DB)

	ownerStore := sessionstore.New(sessionRepo, model.PrincipalOwner, cfg.EncryptionKey)
	subscriberStore := sessionstore.New(sessionRepo, model.PrincipalSubscriber, cfg.EncryptionKey)

	registry := service.NewConnectorRegistry(
		func(storage tonconnect.SessionStorage) tonconnect.Connector {
			return tonconnect.NewBridgeConnector(cfg.ManifestURL, storage)
		},
		ownerStore, subscriberStore,
	)
	defer registry.Close()

	walletsRegistry := tonconnect.NewWalletsRegistry(cfg.WalletsListURL)
	publisher := events.NewPublisher(redisClient)

	broker := sse.NewBroker(redisClient)
	defer broker.Close()

	walletService := service.NewWalletService(registry, walletsRegistry, profileRepo, publisher, cfg)

	authMiddleware := middleware.NewAuthMiddleware(cfg.InternalAPIToken)
	rateLimitMiddleware := middleware.NewRedisRateLimitMiddleware(redisClient.Client, config.DefaultRateLimitPerMin)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)

	walletHandler := handler.NewWalletHandler(walletService)
	eventsHandler := handler.NewEventsHandler(broker)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/v1/wallets", func(r chi.Router) {
		r.Use(authMiddleware.Handler)
		r.Use(rateLimitMiddleware.Handler)
		r.Mount("/", walletHandler.Routes())
	})

	r.Route("/v1/events", func(r chi.Router) {
		r.Use(authMiddleware.Handler)
		r.Use(rateLimitMiddleware.Handler)
		r.Get("/{kind}/{userID}", eventsHandler.ServeHTTP)
	})

	cleanupJob := jobs.NewCleanupJob(sessionRepo, config.CleanupJobInterval)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	server := &http.Server{
		Addr:        cfg.Addr(),
		Handler:     r,
		ReadTimeout: config.ServerReadTimeout,
		// SSE responses stay open past any fixed write window.
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
