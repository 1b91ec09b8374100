package presence

import (
	"fmt"

	"github.com/GriffinCanCode/SupportDesk/presence/internal/shared/id"
)

// Store keys.
const (
	SessionKey = "presence.session_id"
	TabKey     = "presence.tab_id"
)

// KeyValueStore is the storage the identity lives in. Implementations are
// not expected to coordinate writers.
type KeyValueStore interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(key string) error
}

// Identity produces and caches the session and tab ids.
type Identity struct {
	durable      KeyValueStore
	tabScoped    KeyValueStore
	newSessionID func() string
	newTabID     func() string
}

// NewIdentity creates an Identity over the two stores.
func NewIdentity(durable, tabScoped KeyValueStore) *Identity {
	return &Identity{
		durable:      durable,
		tabScoped:    tabScoped,
		newSessionID: func() string { return id.NewSessionID().String() },
		newTabID:     func() string { return id.NewTabID().String() },
	}
}

// SessionID returns the profile's session id, creating it if absent. After
// creating, it reads the store back so a tab that lost a creation race
// returns the surviving value.
func (i *Identity) SessionID() (string, error) {
	return getOrCreate(i.durable, SessionKey, i.newSessionID)
}

// PeekSessionID returns the stored session id without creating one.
func (i *Identity) PeekSessionID() (string, bool, error) {
	v, ok, err := i.durable.Get(SessionKey)
	if err != nil {
		return "", false, fmt.Errorf("read session id: %w", err)
	}
	return v, ok && v != "", nil
}

// TabID returns this tab's id, creating it if absent.
func (i *Identity) TabID() (string, error) {
	return getOrCreate(i.tabScoped, TabKey, i.newTabID)
}

// Clear removes both ids. Only logout clears the session.
func (i *Identity) Clear() error {
	if err := i.durable.Remove(SessionKey); err != nil {
		return fmt.Errorf("clear session id: %w", err)
	}
	if err := i.tabScoped.Remove(TabKey); err != nil {
		return fmt.Errorf("clear tab id: %w", err)
	}
	return nil
}

func getOrCreate(s KeyValueStore, key string, generate func() string) (string, error) {
	v, ok, err := s.Get(key)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	if ok && v != "" {
		return v, nil
	}

	created := generate()
	if err := s.Set(key, created); err != nil {
		return "", fmt.Errorf("write %s: %w", key, err)
	}

	v, ok, err = s.Get(key)
	if err != nil || !ok || v == "" {
		// The write landed; a failed read-back falls back to our value.
		return created, nil
	}
	return v, nil
}
