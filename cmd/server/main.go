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

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/remote-mirror/backend/api/handlers"
	"github.com/remote-mirror/backend/internal/auth"
	"github.com/remote-mirror/backend/internal/config"
	"github.com/remote-mirror/backend/internal/db"
	"github.com/remote-mirror/backend/internal/repository"
	"github.com/remote-mirror/backend/internal/ws"
)

const shutdownTimeout = 5 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Console logging until the config says otherwise, so config.Load can log.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogging(cfg)

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("server exited gracefully")
}

func setupLogging(cfg *config.Config) {
	if cfg.LogFormat == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func run(ctx context.Context, cfg *config.Config) error {
	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()
	log.Info().Str("module", "db").Str("dialect", string(database.Dialect)).Msg("credential store ready")

	authenticator, err := auth.NewAuthenticator(
		repository.NewUserRepository(database),
		auth.NewTokenSigner([]byte(cfg.JWTSecret), cfg.TokenTTL),
		cfg.BcryptCost,
	)
	if err != nil {
		return err
	}

	hub := ws.NewHub(authenticator, ws.Options{
		HandshakeTimeout: cfg.HandshakeTimeout,
		PongWait:         cfg.PongWait,
		PingPeriod:       cfg.PingPeriod,
		WriteWait:        cfg.WriteWait,
		MaxMessageSize:   cfg.MaxMessageSize,
		SendQueueSize:    cfg.SendQueueSize,
	})

	router := handlers.SetupRouter(handlers.RouterConfig{
		Mode:     cfg.Mode,
		Accounts: authenticator,
		Verifier: authenticator,
		Hub:      hub,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("relay server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// http.Server.Shutdown does not wait for hijacked sockets; the hub does.
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http server forced to shutdown")
		}
		if err := hub.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("relay connections did not close in time")
		}
		return nil
	})

	return g.Wait()
}
