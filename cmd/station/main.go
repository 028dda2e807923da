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

	"github.com/BrandonDHaskell/Portunus/station/internal/config"
	"github.com/BrandonDHaskell/Portunus/station/internal/db"
	"github.com/BrandonDHaskell/Portunus/station/internal/grpcapi"
	"github.com/BrandonDHaskell/Portunus/station/internal/httpapi"
	"github.com/BrandonDHaskell/Portunus/station/internal/logging"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/service"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/store/sqlite"
)

func main() {
	cfg := config.FromEnv()
	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("station exited")
		os.Exit(1)
	}
}

func run(cfg config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env})
	if err != nil {
		return fmt.Errorf("open database %s: %w", cfg.DBPath, err)
	}
	defer conn.Close()

	if cfg.Env == "dev" {
		cards := db.ParseDevCards(cfg.DevRFIDCards)
		if err := db.SeedDev(ctx, conn, db.SeedDevOptions{Cards: cards}); err != nil {
			return fmt.Errorf("seed dev data: %w", err)
		}
		if len(cards) > 0 {
			logger.Info().Int("cards", len(cards)).Msg("dev cards seeded")
		}
	}

	writer := db.NewWorker(conn)
	defer writer.Close()

	// Stores
	users := sqlite.NewUserDirectory(conn, writer)
	audit := sqlite.NewAccessLogStore(conn, writer)
	bindings := sqlite.NewBindingStore(conn, writer)

	station := service.New(service.Config{
		BaudRate:      cfg.BaudRate,
		RetryInterval: time.Duration(cfg.ReconnectSeconds) * time.Second,
		FPMaxSlot:     cfg.FPMaxSlot,
		RFIDGrab:      cfg.RFIDGrab,
	}, service.Deps{
		Users:    users,
		Audit:    audit,
		Bindings: bindings,
		Logger:   logger,
	})
	station.Start(ctx)

	pruner := service.NewAuditPruner(audit, service.PrunerConfig{
		RetentionDays: cfg.LogRetentionDays,
		IntervalHours: cfg.PruneIntervalHours,
	}, logger)
	pruner.Start(ctx)
	defer pruner.Stop()

	// HTTP
	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:  logger,
		Addr:    cfg.HTTPAddr,
		Station: station,
		Events:  station.Events(),
	})

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server error")
			stop()
		}
	}()

	// gRPC health
	var health *grpcapi.Server
	if cfg.GRPCAddr != "" {
		health = grpcapi.NewServer(cfg.GRPCAddr, logger)
		go health.Track(ctx, station, station.Events())
		go func() {
			if err := health.Start(); err != nil {
				logger.Error().Err(err).Msg("grpc server error")
				stop()
			}
		}()
	}

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if health != nil {
		_ = health.Shutdown(shutdownCtx)
	}
	if err := station.Close(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("station close")
	}
	return nil
}
