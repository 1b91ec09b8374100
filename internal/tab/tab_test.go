package tab

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/SupportDesk/presence/internal/infrastructure/config"
	"github.com/GriffinCanCode/SupportDesk/presence/internal/presence"
	"github.com/GriffinCanCode/SupportDesk/presence/internal/sandbox"
	"github.com/GriffinCanCode/SupportDesk/presence/internal/stream"
)

func setup(t *testing.T) (*sandbox.Server, *config.Config) {
	t.Helper()
	srv := sandbox.New(sandbox.Config{})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	cfg := config.Default()
	cfg.Presence.APIURL = ts.URL
	cfg.Presence.ProfileDir = t.TempDir()
	cfg.Presence.HeartbeatInterval = 20 * time.Millisecond
	cfg.Presence.BroadcastPoll = 10 * time.Millisecond
	cfg.Presence.RequestTimeout = 2 * time.Second
	cfg.Stream.URL = "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	cfg.Stream.ReconnectDelay = 20 * time.Millisecond
	cfg.Auth.AccessToken = "tok"
	return srv, cfg
}

func open(t *testing.T, cfg *config.Config, opts Options) *Tab {
	t.Helper()
	tab, err := Open(cfg, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tab.Close(presence.ReasonTabClose) })
	return tab
}

func TestTabsShareSession(t *testing.T) {
	srv, cfg := setup(t)
	a := open(t, cfg, Options{})
	b := open(t, cfg, Options{})

	require.NoError(t, a.Mount(context.Background()))
	require.NoError(t, b.Mount(context.Background()))

	sa, sb := a.Presence.Stats(), b.Presence.Stats()
	assert.Equal(t, sa.SessionID, sb.SessionID)
	assert.NotEqual(t, sa.TabID, sb.TabID)

	info, ok := srv.Session(sa.SessionID)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{sa.TabID, sb.TabID}, info.Tabs)

	require.Eventually(t, func() bool {
		return a.Presence.Stats().HeartbeatsSent > 0 && b.Presence.Stats().HeartbeatsSent > 0
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return a.Stream.State() == stream.StateConnected && b.Stream.State() == stream.StateConnected
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSQLiteStoreSharesSession(t *testing.T) {
	_, cfg := setup(t)
	cfg.Presence.Store = config.StoreSQLite
	a := open(t, cfg, Options{})
	b := open(t, cfg, Options{})

	require.NoError(t, a.Mount(context.Background()))
	require.NoError(t, b.Mount(context.Background()))

	assert.Equal(t, a.Presence.Stats().SessionID, b.Presence.Stats().SessionID)
	assert.FileExists(t, filepath.Join(cfg.Presence.ProfileDir, "presence.db"))
}

func TestForgottenSessionIsRestarted(t *testing.T) {
	srv, cfg := setup(t)
	tab := open(t, cfg, Options{})
	require.NoError(t, tab.Mount(context.Background()))
	sessionID := tab.Presence.Stats().SessionID

	require.True(t, srv.Forget(sessionID))

	require.Eventually(t, func() bool {
		_, ok := srv.Session(sessionID)
		return ok && tab.Presence.Stats().Recoveries >= 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, sessionID, tab.Presence.Stats().SessionID)
	assert.Equal(t, presence.StateActive, tab.Presence.State())
}

func TestLogoutReachesSiblingTab(t *testing.T) {
	srv, cfg := setup(t)
	a := open(t, cfg, Options{})
	b := open(t, cfg, Options{})
	require.NoError(t, a.Mount(context.Background()))
	require.NoError(t, b.Mount(context.Background()))
	sessionID := a.Presence.Stats().SessionID

	require.NoError(t, a.Logout(context.Background()))
	_, ok := srv.Session(sessionID)
	assert.False(t, ok)
	assert.Equal(t, stream.StateDisconnected, a.Stream.State())

	require.Eventually(t, func() bool {
		return b.Presence.State() == presence.StateEnded
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, b.Presence.Stats().SessionID)

	// B no longer keeps the ended session alive.
	time.Sleep(60 * time.Millisecond)
	_, ok = srv.Session(sessionID)
	assert.False(t, ok)
}

func TestCloseSendsEndBeacon(t *testing.T) {
	srv, cfg := setup(t)
	a := open(t, cfg, Options{})
	b := open(t, cfg, Options{})
	require.NoError(t, a.Mount(context.Background()))
	require.NoError(t, b.Mount(context.Background()))
	sa, sb := a.Presence.Stats(), b.Presence.Stats()

	require.NoError(t, a.Close(presence.ReasonTabClose))

	info, ok := srv.Session(sa.SessionID)
	require.True(t, ok)
	assert.Equal(t, []string{sb.TabID}, info.Tabs)
	assert.Equal(t, presence.StateEnded, a.Presence.State())
	assert.Equal(t, stream.StateDisconnected, a.Stream.State())

	// Closing twice is harmless.
	require.NoError(t, a.Close(presence.ReasonTabClose))
}

func TestMountWithoutToken(t *testing.T) {
	_, cfg := setup(t)
	cfg.Auth.AccessToken = ""

	var (
		mu   sync.Mutex
		errs []error
	)
	tab := open(t, cfg, Options{Handlers: stream.Handlers{
		OnError: func(err error) {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		},
	}})

	err := tab.Mount(context.Background())
	assert.ErrorIs(t, err, stream.ErrMissingToken)
	assert.Equal(t, presence.StateActive, tab.Presence.State())
	assert.Equal(t, stream.StateDisconnected, tab.Stream.State())

	mu.Lock()
	assert.Len(t, errs, 1)
	mu.Unlock()
}

func TestHiddenTabStopsHeartbeating(t *testing.T) {
	_, cfg := setup(t)
	tab := open(t, cfg, Options{})
	require.NoError(t, tab.Mount(context.Background()))

	tab.SetVisible(false)
	// Let an in-flight tick finish.
	time.Sleep(30 * time.Millisecond)
	sent := tab.Presence.Stats().HeartbeatsSent

	require.Eventually(t, func() bool {
		return tab.Presence.Stats().HeartbeatsSkipped >= 3
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, sent, tab.Presence.Stats().HeartbeatsSent)

	tab.SetVisible(true)
	require.Eventually(t, func() bool {
		return tab.Presence.Stats().HeartbeatsSent > sent
	}, 2*time.Second, 5*time.Millisecond)
}
