package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/SupportDesk/presence/internal/infrastructure/config"
	"github.com/GriffinCanCode/SupportDesk/presence/internal/infrastructure/logging"
	"github.com/GriffinCanCode/SupportDesk/presence/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/SupportDesk/presence/internal/sandbox"
)

const shutdownTimeout = 5 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, err := newRootCmd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command with flag defaults taken from the
// environment.
func newRootCmd() (*cobra.Command, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cmd := &cobra.Command{
		Use:   "presence-sandbox",
		Short: "Serve the session and stream contracts for local development",
		Long: `presence-sandbox is a stand-in for the dashboard server.

It answers the start, heartbeat and end session contracts, forgets
sessions that stop heartbeating, and serves the message stream at /ws.
Prometheus metrics are exposed at /metrics.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.Sandbox.Host, "host", cfg.Sandbox.Host, "listen host")
	flags.StringVarP(&cfg.Sandbox.Port, "port", "p", cfg.Sandbox.Port, "listen port")
	flags.DurationVar(&cfg.Sandbox.SessionTTL, "ttl", cfg.Sandbox.SessionTTL, "forget sessions silent for this long (negative never forgets)")
	flags.IntVar(&cfg.Sandbox.RateLimitRPS, "rate-limit", cfg.Sandbox.RateLimitRPS, "requests per second per client (0 disables)")
	return cmd, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logging.FromLevel(cfg.Logging.Level, cfg.Logging.Development)
	defer logger.Sync()

	srv := sandbox.New(sandbox.Config{
		SessionTTL: cfg.Sandbox.SessionTTL,
		RateLimit: sandbox.RateLimitConfig{
			RequestsPerSecond: cfg.Sandbox.RateLimitRPS,
			Burst:             cfg.Sandbox.RateLimitBurst,
		},
		Development: cfg.Logging.Development,
		Logger:      logger,
		Metrics:     monitoring.NewMetrics(prometheus.DefaultRegisterer),
	})

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.ListenAndServe(net.JoinHostPort(cfg.Sandbox.Host, cfg.Sandbox.Port))
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error during shutdown", zap.Error(err))
			return err
		}
		return nil
	case err := <-errChan:
		return err
	}
}
