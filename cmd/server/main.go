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

	"github.com/npezzotti/nests/internal/access"
	"github.com/npezzotti/nests/internal/api"
	"github.com/npezzotti/nests/internal/config"
	"github.com/npezzotti/nests/internal/database"
	"github.com/npezzotti/nests/internal/liveness"
	"github.com/npezzotti/nests/internal/media"
	"github.com/npezzotti/nests/internal/presence"
	"github.com/npezzotti/nests/internal/stats"
	"github.com/npezzotti/nests/internal/token"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.LogFormat == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}

	return logger.Level(level).With().Timestamp().Str("service", "nests").Logger()
}

func main() {
	configPath := pflag.StringP("config", "c", "", "path to a YAML config file")
	pflag.Parse()

	bootLog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog.Fatal().Err(err).Msg("load config")
	}
	if err := cfg.Validate(); err != nil {
		bootLog.Fatal().Err(err).Msg("invalid config")
	}

	logger := newLogger(cfg)
	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("server exited")
		os.Exit(1)
	}

	logger.Info().Msg("shutdown complete")
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	if err := database.Migrate(cfg.Database.Driver, cfg.Database.DSN); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	repo, err := database.NewNestsRepository(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("db open: %w", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			logger.Error().Err(err).Msg("db close")
		}
	}()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)
	statsUpdater.Run()
	defer statsUpdater.Stop()

	lk := media.NewLiveKit(cfg.LiveKit.URL, cfg.LiveKit.APIKey, cfg.LiveKit.APISecret, media.EgressConfig{
		Enabled:  cfg.Egress.Enabled,
		Endpoint: cfg.Egress.Endpoint,
		Bucket:   cfg.Egress.Bucket,
		Key:      cfg.Egress.Key,
		Secret:   cfg.Egress.Secret,
		Region:   cfg.Egress.Region,
	})

	issuer := token.NewIssuer(cfg.LiveKit.APIKey, cfg.LiveKit.APISecret, cfg.LiveKit.TokenTTL)
	synchronizer := media.NewSynchronizer(logger, lk, statsUpdater, cfg.LiveKit.PushTimeout, cfg.LiveKit.PushRetries)
	svc := access.NewService(logger, repo, issuer, synchronizer, statsUpdater)

	var lobby api.Lobby
	var tracker *liveness.Tracker
	if cfg.Lobby.Enabled {
		tracker = liveness.NewTracker(liveness.Options{
			PresenceWindow: cfg.Lobby.PresenceWindow,
			ShowEmptyRooms: cfg.Lobby.ShowEmptyRooms,
		})
		lobby = tracker
	}

	app, err := api.NewNestsApp(mux, logger, svc, repo, lobby, cfg)
	if err != nil {
		return fmt.Errorf("new api: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	go synchronizer.Run()

	if tracker != nil {
		sub := presence.NewSubscriber(logger, cfg.Lobby.Relays, tracker, statsUpdater, cfg.Lobby.PresenceWindow)
		g.Go(func() error {
			return sub.Run(ctx)
		})
	}

	g.Go(func() error {
		if err := app.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := app.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return synchronizer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
