package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xiaot623/paybridge/internal/auth"
	"github.com/xiaot623/paybridge/internal/bootstrap"
	"github.com/xiaot623/paybridge/internal/config"
	"github.com/xiaot623/paybridge/internal/handoff"
	internalhttp "github.com/xiaot623/paybridge/internal/http"
	"github.com/xiaot623/paybridge/internal/hub"
	"github.com/xiaot623/paybridge/internal/instance"
	"github.com/xiaot623/paybridge/internal/logger"
	"github.com/xiaot623/paybridge/internal/platform"
	"github.com/xiaot623/paybridge/internal/policy"
	"github.com/xiaot623/paybridge/internal/repository"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer log.Sync()

	log.Info("starting paybridge",
		zap.Int("http_port", cfg.HTTPPort),
		zap.String("default_environment", cfg.DefaultEnvironment),
		zap.String("payment_region", cfg.PaymentRegion),
		zap.Duration("stop_grace", cfg.StopGrace),
	)

	store, err := repository.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer store.Close()

	engine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		return fmt.Errorf("failed to load handoff policy: %w", err)
	}

	connectionHub := hub.NewHub(log)
	go connectionHub.Run()
	defer connectionHub.Close()

	platformFor := func(environment, token string) bootstrap.Platform {
		return platform.NewClient(platform.BaseURL(environment), token, cfg.PlatformTimeout)
	}

	registry := instance.NewRegistry(
		connectionHub,
		store,
		auth.NewImplicitGrant(cfg.ClientID, cfg.RedirectURI),
		platformFor,
		handoff.New(cfg.PaymentRegion, cfg.PaymentProductID, engine, store, log),
		instance.Options{
			DefaultEnvironment: cfg.DefaultEnvironment,
			MaxStateDepth:      cfg.MaxStateDepth,
			StopGrace:          cfg.StopGrace,
			RedirectRetention:  cfg.RedirectRetention,
		},
		log,
	)

	server := internalhttp.NewServer(cfg, connectionHub, registry, store, log)

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	log.Info("http server started", zap.Int("port", cfg.HTTPPort))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	}

	log.Info("shutting down paybridge")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := registry.Shutdown(shutdownCtx); err != nil {
		log.Warn("instances did not stop in time", zap.Error(err))
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("failed to shutdown http server gracefully", zap.Error(err))
	}

	log.Info("paybridge stopped")
	return nil
}
