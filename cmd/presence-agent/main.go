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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/SupportDesk/presence/internal/infrastructure/config"
	"github.com/GriffinCanCode/SupportDesk/presence/internal/infrastructure/logging"
	"github.com/GriffinCanCode/SupportDesk/presence/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/SupportDesk/presence/internal/presence"
	"github.com/GriffinCanCode/SupportDesk/presence/internal/stream"
	"github.com/GriffinCanCode/SupportDesk/presence/internal/tab"
)

type options struct {
	configPath   string
	metricsAddr  string
	logoutOnExit bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "presence-agent",
		Short: "Keep one dashboard tab's session and message stream alive",
		Long: `presence-agent runs one tab of the support dashboard's presence layer.

It registers the tab in the profile's shared session, heartbeats while
running, keeps the message stream connected and logs every inbound
envelope. Interrupt or terminate it to close the tab; --logout ends the
session for every tab of the profile instead.

Settings come from the environment (PRESENCE_*, STREAM_*, ACCESS_TOKEN,
LOG_*), optionally overlaid by a YAML or TOML file.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "YAML or TOML config file layered over the environment")
	flags.StringVar(&opts.metricsAddr, "metrics", "", "address to serve Prometheus metrics on (disabled when empty)")
	flags.BoolVar(&opts.logoutOnExit, "logout", false, "log out instead of closing the tab on shutdown")
	return cmd
}

func run(ctx context.Context, opts options) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.FromLevel(cfg.Logging.Level, cfg.Logging.Development)
	defer logger.Sync()

	metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer)
	if opts.metricsAddr != "" {
		srv := metricsServer(opts.metricsAddr)
		go func() {
			logger.Info("Serving metrics", zap.String("addr", opts.metricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	t, err := tab.Open(cfg, tab.Options{
		Logger:   logger,
		Metrics:  metrics,
		Handlers: streamHandlers(logger),
	})
	if err != nil {
		return fmt.Errorf("failed to open tab: %w", err)
	}

	logger.Info("Presence agent starting",
		zap.String("api", cfg.Presence.APIURL),
		zap.String("stream", cfg.Stream.URL),
		zap.String("profile", cfg.Presence.ProfileDir),
		zap.Duration("heartbeat", cfg.Presence.HeartbeatInterval))

	if err := t.Mount(ctx); err != nil {
		logger.Warn("Tab mounted with errors", zap.Error(err))
	}

	<-ctx.Done()
	logger.Info("Shutting down gracefully...")

	if opts.logoutOnExit {
		logoutCtx, cancel := context.WithTimeout(context.Background(), cfg.Presence.RequestTimeout)
		if err := t.Logout(logoutCtx); err != nil {
			logger.Warn("Logout failed", zap.Error(err))
		}
		cancel()
	}
	return t.Close(presence.ReasonWindowClose)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFile(path)
}

func streamHandlers(logger *zap.Logger) stream.Handlers {
	return stream.Handlers{
		OnConnect: func() {
			logger.Info("Stream connected")
		},
		OnDisconnect: func(code int) {
			logger.Info("Stream disconnected", zap.Int("code", code))
		},
		OnMessage: func(env stream.Envelope) {
			logger.Info("Stream message",
				zap.String("type", env.Type),
				zap.String("event", env.Event),
				zap.String("conversation_id", string(env.ConversationID)))
		},
		OnError: func(err error) {
			var cerr *stream.ConnectionError
			if errors.As(err, &cerr) {
				logger.Error("Stream connection failed", zap.Error(err), zap.Bool("terminal", cerr.Terminal()))
				return
			}
			logger.Warn("Stream error", zap.Error(err))
		},
	}
}

func metricsServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           monitoring.Handler(nil),
		ReadHeaderTimeout: 5 * time.Second,
	}
}
