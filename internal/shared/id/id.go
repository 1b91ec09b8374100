// Package id provides identifier generation for the presence layer.
//
// Session ids are UUIDs: they are shared with the remote collaborator and
// with every tab of a profile, and the server keys its idempotent upserts
// on them. Tab, request and trace ids are prefixed ULIDs, which sort by
// creation time and read well in logs (tab_01H..., req_01H...).
package id

import (
	"crypto/rand"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// SessionID identifies one logical login across all tabs of a profile.
type SessionID string

// TabID identifies one execution context.
type TabID string

// RequestID identifies one outbound API request.
type RequestID string

func (s SessionID) String() string { return string(s) }
func (t TabID) String() string     { return string(t) }
func (r RequestID) String() string { return string(r) }

// Prefixes for ULID-based ids.
const (
	TabPrefix     = "tab"
	RequestPrefix = "req"
)

const separator = "_"

// Generator mints ULIDs. Ids minted within the same millisecond are
// strictly increasing, so tab ids opened in a burst still sort in order.
type Generator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	now     func() time.Time
}

// Option configures a Generator.
type Option func(*Generator)

// WithEntropy replaces crypto/rand as the entropy source.
func WithEntropy(r io.Reader) Option {
	return func(g *Generator) { g.entropy = ulid.Monotonic(r, 0) }
}

// WithClock replaces time.Now as the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// NewGenerator creates a generator backed by crypto/rand.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

var (
	defaultGenerator *Generator
	defaultOnce      sync.Once
)

// Default returns the process-wide generator.
func Default() *Generator {
	defaultOnce.Do(func() { defaultGenerator = NewGenerator() })
	return defaultGenerator
}

// Generate mints a ULID.
func (g *Generator) Generate() ulid.ULID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(g.now()), g.entropy)
}

// GenerateWithPrefix mints "prefix_<ulid>".
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return prefix + separator + g.Generate().String()
}

// NewSessionID generates a random session id.
func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

// NewTabID generates a tab id.
func NewTabID() TabID {
	return TabID(Default().GenerateWithPrefix(TabPrefix))
}

// NewRequestID generates a request id.
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

// IsValidSession reports whether s is a UUID-shaped session id.
func IsValidSession(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// IsValidTab reports whether s is a tab id produced by NewTabID.
func IsValidTab(s string) bool {
	rest, ok := strings.CutPrefix(s, TabPrefix+separator)
	if !ok {
		return false
	}
	_, err := ulid.ParseStrict(rest)
	return err == nil
}

// Timestamp extracts the creation time of a ULID-based id, prefixed or not.
func Timestamp(s string) (time.Time, error) {
	if i := strings.LastIndex(s, separator); i >= 0 {
		s = s[i+len(separator):]
	}
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()), nil
}
