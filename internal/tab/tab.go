// Package tab wires the presence and stream managers for one tab and
// tears them down together.
package tab

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/GriffinCanCode/SupportDesk/presence/internal/auth"
	"github.com/GriffinCanCode/SupportDesk/presence/internal/infrastructure/config"
	"github.com/GriffinCanCode/SupportDesk/presence/internal/infrastructure/logging"
	"github.com/GriffinCanCode/SupportDesk/presence/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/SupportDesk/presence/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/SupportDesk/presence/internal/presence"
	"github.com/GriffinCanCode/SupportDesk/presence/internal/presence/api"
	"github.com/GriffinCanCode/SupportDesk/presence/internal/presence/beacon"
	"github.com/GriffinCanCode/SupportDesk/presence/internal/presence/broadcast"
	"github.com/GriffinCanCode/SupportDesk/presence/internal/presence/store"
	"github.com/GriffinCanCode/SupportDesk/presence/internal/shared/paths"
	"github.com/GriffinCanCode/SupportDesk/presence/internal/stream"
)

const (
	// BusName is the broadcast channel shared by a profile's tabs.
	BusName = "presence"

	// DefaultFlushTimeout bounds how long Close waits for the end beacon.
	DefaultFlushTimeout = 2 * time.Second
)

// Options are optional collaborators. Zero values build the defaults from
// the config.
type Options struct {
	Logger   *zap.Logger
	Metrics  *monitoring.Metrics
	Tokens   auth.TokenSource
	Handlers stream.Handlers

	// Durable and Bus replace the profile directory's file store and
	// file bus.
	Durable presence.KeyValueStore
	Bus     presence.BroadcastBus

	FlushTimeout time.Duration
}

// Tab is one open tab: a presence manager and a stream manager.
type Tab struct {
	Presence *presence.Manager
	Stream   *stream.Manager

	beacon       *beacon.Sender
	tabStore     *store.MemoryStore
	durable      io.Closer
	tracer       *tracing.Tracer
	logger       *zap.Logger
	flushTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// Open builds a tab from cfg. Nothing talks to the network until Mount.
func Open(cfg *config.Config, opts Options) (*Tab, error) {
	logger := logging.OrNop(opts.Logger)

	tokens := opts.Tokens
	if tokens == nil {
		tokens = auth.Static(cfg.Auth.AccessToken)
	}

	var owned io.Closer
	durable := opts.Durable
	if durable == nil {
		ds, closer, err := openDurable(cfg)
		if err != nil {
			return nil, err
		}
		durable = ds
		owned = closer
	}

	bus := opts.Bus
	if bus == nil {
		fb, err := broadcast.OpenFileBus(cfg.Presence.ProfileDir, BusName, cfg.Presence.BroadcastPoll, logger)
		if err != nil {
			closeOwned(owned)
			return nil, err
		}
		bus = fb
	}

	tracer := tracing.New("presence", logger, tracing.WithLevel(zapcore.DebugLevel))
	client := api.NewClient(cfg.Presence.APIURL,
		api.WithTracer(tracer),
		api.WithTimeout(cfg.Presence.RequestTimeout),
		api.WithRateLimit(cfg.Presence.RateLimitRPS),
		api.WithTokenSource(tokens),
		api.WithMetrics(opts.Metrics),
	)
	sender := beacon.New(
		beacon.WithLogger(logger),
		beacon.WithTokenSource(tokens),
		beacon.WithTimeout(cfg.Presence.RequestTimeout),
	)
	tabStore := store.NewMemoryStore()

	pm, err := presence.New(presence.Deps{
		Durable:   durable,
		TabScoped: tabStore,
		API:       client,
		Bus:       bus,
		Teardown:  sender,
	}, presence.Config{
		HeartbeatInterval: cfg.Presence.HeartbeatInterval,
		EndTimeout:        cfg.Presence.RequestTimeout,
		Logger:            logger,
		Metrics:           opts.Metrics,
	})
	if err != nil {
		_ = bus.Close()
		closeOwned(owned)
		tracer.Close()
		return nil, err
	}

	sm, err := stream.New(stream.Config{
		URL:                  cfg.Stream.URL,
		AutoReconnect:        cfg.Stream.AutoReconnect,
		ReconnectDelay:       cfg.Stream.ReconnectDelay,
		MaxReconnectAttempts: cfg.Stream.MaxReconnectAttempts,
		HandshakeTimeout:     cfg.Stream.HandshakeTimeout,
		Tokens:               tokens,
		Logger:               logger,
		Metrics:              opts.Metrics,
	})
	if err != nil {
		_ = bus.Close()
		closeOwned(owned)
		tracer.Close()
		return nil, err
	}
	sm.SetHandlers(opts.Handlers)

	flush := opts.FlushTimeout
	if flush <= 0 {
		flush = DefaultFlushTimeout
	}

	return &Tab{
		Presence:     pm,
		Stream:       sm,
		beacon:       sender,
		tabStore:     tabStore,
		durable:      owned,
		tracer:       tracer,
		logger:       logger.Named("tab"),
		flushTimeout: flush,
	}, nil
}

// Mount starts the session and opens the stream. A stream that cannot
// connect for lack of a token is reported, but presence keeps running.
func (t *Tab) Mount(ctx context.Context) error {
	if err := t.Presence.Mount(ctx); err != nil {
		return fmt.Errorf("mount presence: %w", err)
	}
	if err := t.Stream.Connect(ctx); err != nil {
		return fmt.Errorf("connect stream: %w", err)
	}
	return nil
}

// SetVisible forwards the tab's visibility.
func (t *Tab) SetVisible(visible bool) {
	t.Presence.SetVisible(visible)
}

// Logout ends the session everywhere and drops the stream.
func (t *Tab) Logout(ctx context.Context) error {
	err := t.Presence.Logout(ctx)
	t.Stream.Disconnect()
	return err
}

// Close tears the tab down. The stream closes first; the session end goes
// out through the beacon, which gets a bounded time to deliver.
func (t *Tab) Close(reason presence.Reason) error {
	t.closeOnce.Do(func() {
		var errs []error
		if err := t.Stream.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := t.Presence.Unmount(reason); err != nil {
			errs = append(errs, err)
		}
		if !t.beacon.Close(t.flushTimeout) {
			t.logger.Warn("Session end beacon still in flight at close")
		}
		if err := t.tabStore.Close(); err != nil {
			errs = append(errs, err)
		}
		if t.durable != nil {
			if err := t.durable.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		t.tracer.Close()
		t.closeErr = errors.Join(errs...)
	})
	return t.closeErr
}

// openDurable opens the profile's durable store. The returned closer is
// nil when the store holds nothing open.
func openDurable(cfg *config.Config) (presence.KeyValueStore, io.Closer, error) {
	profile := paths.Profile{Dir: cfg.Presence.ProfileDir}
	if err := profile.Ensure(); err != nil {
		return nil, nil, err
	}

	switch cfg.Presence.Store {
	case config.StoreSQLite:
		db, err := store.OpenSQLiteStore(profile.Database())
		if err != nil {
			return nil, nil, err
		}
		return db, db, nil
	default:
		fs, err := store.NewFileStore(profile.Store())
		if err != nil {
			return nil, nil, err
		}
		return fs, nil, nil
	}
}

func closeOwned(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
