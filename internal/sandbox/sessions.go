package sandbox

import (
	"sync"
	"time"

	"github.com/GriffinCanCode/SupportDesk/presence/internal/presence"
	"github.com/GriffinCanCode/SupportDesk/presence/internal/presence/api"
)

// SessionInfo describes a live session.
type SessionInfo struct {
	SessionID string
	Tabs      []string
	Device    api.DeviceInfo
	StartedAt time.Time
	LastSeen  time.Time
}

type sessionRecord struct {
	tabs      map[string]time.Time
	device    api.DeviceInfo
	startedAt time.Time
	lastSeen  time.Time
}

// sessionTable is the in-memory session store. Expired sessions are
// dropped lazily, on the next access.
type sessionTable struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[string]*sessionRecord
}

func newSessionTable(ttl time.Duration, now func() time.Time) *sessionTable {
	return &sessionTable{
		ttl:      ttl,
		now:      now,
		sessions: make(map[string]*sessionRecord),
	}
}

// start upserts the session and adds the tab. It reports whether the
// session was created.
func (t *sessionTable) start(req api.StartRequest) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.expireLocked(now)

	rec, ok := t.sessions[req.SessionID]
	if !ok {
		rec = &sessionRecord{tabs: make(map[string]time.Time), startedAt: now}
		t.sessions[req.SessionID] = rec
	}
	rec.tabs[req.TabID] = now
	rec.device = req.DeviceInfo
	rec.lastSeen = now
	return !ok
}

// heartbeat refreshes a session. It reports false for unknown sessions.
func (t *sessionTable) heartbeat(sessionID, tabID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.expireLocked(now)

	rec, ok := t.sessions[sessionID]
	if !ok {
		return false
	}
	rec.tabs[tabID] = now
	rec.lastSeen = now
	return true
}

// end removes the tab, or the whole session on logout.
func (t *sessionTable) end(req api.EndRequest) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expireLocked(t.now())

	rec, ok := t.sessions[req.SessionID]
	if !ok {
		return false
	}
	if presence.Reason(req.Reason) == presence.ReasonLogout {
		delete(t.sessions, req.SessionID)
		return true
	}
	delete(rec.tabs, req.TabID)
	return true
}

func (t *sessionTable) forget(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.sessions[sessionID]
	delete(t.sessions, sessionID)
	return ok
}

func (t *sessionTable) lookup(sessionID string) (SessionInfo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expireLocked(t.now())

	rec, ok := t.sessions[sessionID]
	if !ok {
		return SessionInfo{}, false
	}
	info := SessionInfo{
		SessionID: sessionID,
		Device:    rec.device,
		StartedAt: rec.startedAt,
		LastSeen:  rec.lastSeen,
	}
	for tab := range rec.tabs {
		info.Tabs = append(info.Tabs, tab)
	}
	return info, true
}

func (t *sessionTable) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expireLocked(t.now())
	return len(t.sessions)
}

func (t *sessionTable) expireLocked(now time.Time) {
	if t.ttl <= 0 {
		return
	}
	for id, rec := range t.sessions {
		if now.Sub(rec.lastSeen) > t.ttl {
			delete(t.sessions, id)
		}
	}
}
