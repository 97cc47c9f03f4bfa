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

	"github.com/asaskevich/EventBus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"retailpos/backend/internal/config"
	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/hold"
	"retailpos/backend/internal/httpapi"
	"retailpos/backend/internal/logging"
	"retailpos/backend/internal/metrics"
	"retailpos/backend/internal/service"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/store/memory"
	pgstore "retailpos/backend/internal/store/postgres"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(config.Load())
	},
}

func serve(cfg config.Config) error {
	if err := validateSecurityConfig(cfg); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}
	logger, err := logging.New(logging.Options{Mode: cfg.LogMode, File: cfg.LogFile})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres unavailable and DATABASE_URL is set, refusing to start with in-memory fallback: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return fmt.Errorf("migrate schema: %w", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		logger.Info("repository: in-memory")
	}

	var holds hold.Store = hold.NewMemory()
	if cfg.RedisAddr != "" {
		redisHolds := hold.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.HoldTTL)
		if err := redisHolds.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, held sales stay in process memory", zap.Error(err))
			_ = redisHolds.Close()
		} else {
			holds = redisHolds
			closers = append(closers, redisHolds.Close)
			logger.Info("held sales: redis", zap.Duration("ttl", cfg.HoldTTL))
		}
	} else {
		logger.Info("held sales: in-memory")
	}

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}

	svc := service.New(repo, holds, service.Options{
		TaxRate:         cfg.TaxRate,
		WalkInID:        cfg.WalkInCustomerID,
		DefaultBranchID: cfg.BranchID,
		ReceiptTitle:    cfg.ReceiptTitle,
		Logger:          logger,
		Metrics:         m,
		Bus:             EventBus.New(),
	})
	if err := subscribeSaleLog(svc, logger); err != nil {
		return err
	}

	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.ManagerPIN, repo)
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		Logger:        logger,
		Metrics:       m,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("POS backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	var runErr error
	select {
	case <-sig:
	case runErr = <-serverErr:
		logger.Error("server error", zap.Error(runErr))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warn("close error", zap.Error(err))
		}
	}

	logger.Info("server stopped")
	if runErr != nil {
		return fmt.Errorf("http server: %w", runErr)
	}
	return nil
}

// subscribeSaleLog writes one structured line per recorded sale or refund.
func subscribeSaleLog(svc *service.Service, logger *zap.Logger) error {
	return svc.Subscribe(service.TopicSaleRecorded, func(sale domain.Sale) {
		logger.Info("sale recorded",
			zap.String("sale_id", sale.ID),
			zap.String("branch_id", sale.BranchID),
			zap.String("status", string(sale.Status)),
			zap.Int64("amount_cents", sale.AmountCents),
			zap.String("original_sale_id", sale.OriginalSaleID),
		)
	})
}
