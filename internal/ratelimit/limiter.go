package ratelimit

import (
	"strings"
	"sync"
	"time"

	"ssh-sentry/internal/logging"
	"ssh-sentry/internal/metrics"
	"ssh-sentry/internal/state"
	"ssh-sentry/internal/types"
)

// DefaultMaxEntries bounds the table when no explicit cap is configured
const DefaultMaxEntries = 10000

// Policy holds the minimum seconds between notifications per category.
// A zero threshold notifies unconditionally.
type Policy struct {
	Login      int64
	Failed     int64
	Logout     int64
	RootBypass bool
}

// PolicyFromConfig builds a Policy from the rate_limit config section
func PolicyFromConfig(cfg types.RateLimitConfig) Policy {
	return Policy{
		Login:      int64(cfg.Login),
		Failed:     int64(cfg.Failed),
		Logout:     int64(cfg.Logout),
		RootBypass: cfg.RootAlwaysNotify,
	}
}

// Threshold resolves the cool-down for a composed event key by its prefix
func (p Policy) Threshold(eventKey string) int64 {
	switch {
	case strings.HasPrefix(eventKey, "login_"):
		return p.Login
	case strings.HasPrefix(eventKey, "failed_"):
		return p.Failed
	case strings.HasPrefix(eventKey, "logout_"):
		return p.Logout
	default:
		return 0
	}
}

// MaxThreshold is the longest configured cool-down
func (p Policy) MaxThreshold() int64 {
	return max(p.Login, p.Failed, p.Logout)
}

// Limiter decides whether an event may notify now. It exclusively owns the
// rate-limit table; every decision and table write happens under mu.
type Limiter struct {
	mu         sync.Mutex
	entries    map[string]int64
	policy     Policy
	store      state.Store
	maxEntries int
	now        func() time.Time
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithMaxEntries caps the table size; the oldest entry is evicted to make room
func WithMaxEntries(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.maxEntries = n
		}
	}
}

// NewLimiter creates a limiter and restores the persisted table from store
func NewLimiter(policy Policy, store state.Store, opts ...Option) (*Limiter, error) {
	l := &Limiter{
		entries:    make(map[string]int64),
		policy:     policy,
		store:      store,
		maxEntries: DefaultMaxEntries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	if store != nil {
		entries, err := store.Load()
		if err != nil {
			return nil, err
		}
		if entries != nil {
			l.entries = entries
		}
	}
	metrics.RateLimitEntries.Set(float64(len(l.entries)))

	return l, nil
}

// Key composes the table key "{ip}_{eventKey}"
func Key(ip string, kind types.EventKind, user string) string {
	return ip + "_" + types.EventKey(kind, user)
}

// ShouldNotify reports whether a notification for (ip, kind, user) may fire now.
// When it returns true for a rate-limited category the table is updated and persisted.
func (l *Limiter) ShouldNotify(ip string, kind types.EventKind, user string) bool {
	eventKey := types.EventKey(kind, user)

	l.mu.Lock()
	defer l.mu.Unlock()

	// Root logins are never suppressed and never consume the table.
	if l.policy.RootBypass && user == types.RootUser && strings.HasPrefix(eventKey, "login_") {
		return true
	}

	threshold := l.policy.Threshold(eventKey)
	if threshold == 0 {
		return true
	}

	key := Key(ip, kind, user)
	now := l.now().Unix()
	last, exists := l.entries[key] // missing entry is epoch 0
	if now-last < threshold {
		return false
	}

	if !exists && len(l.entries) >= l.maxEntries {
		l.evictOldest()
	}
	l.entries[key] = now
	l.persist()

	return true
}

// SetPolicy replaces the thresholds; existing entries are kept
func (l *Limiter) SetPolicy(p Policy) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.policy = p
}

// Sweep evicts entries older than the longest cool-down; they can no longer
// suppress anything. Returns the number of entries removed.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Unix() - l.policy.MaxThreshold()
	removed := 0
	for k, ts := range l.entries {
		if ts < cutoff {
			delete(l.entries, k)
			removed++
		}
	}

	if removed > 0 {
		l.persist()
		logging.Info().Int("removed", removed).Int("remaining", len(l.entries)).Msg("[RATE LIMIT] Swept expired entries")
	}
	return removed
}

// Flush writes the current table to the store
func (l *Limiter) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.store == nil {
		return nil
	}
	return l.store.Save(l.snapshot())
}

// Snapshot returns a copy of the table
func (l *Limiter) Snapshot() map[string]int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshot()
}

// Len returns the number of table entries
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// persist saves the table. Caller must hold lock.
// A failed write keeps the in-memory table authoritative.
func (l *Limiter) persist() {
	metrics.RateLimitEntries.Set(float64(len(l.entries)))
	if l.store == nil {
		return
	}
	if err := l.store.Save(l.snapshot()); err != nil {
		logging.Error().Err(err).Msg("[RATE LIMIT] Failed to persist table")
	}
}

// snapshot copies the table. Caller must hold lock.
func (l *Limiter) snapshot() map[string]int64 {
	out := make(map[string]int64, len(l.entries))
	for k, v := range l.entries {
		out[k] = v
	}
	return out
}

// evictOldest removes the entry with the oldest timestamp. Caller must hold lock.
func (l *Limiter) evictOldest() {
	var oldestKey string
	var oldest int64
	first := true
	for k, ts := range l.entries {
		if first || ts < oldest {
			oldestKey, oldest, first = k, ts, false
		}
	}
	if !first {
		delete(l.entries, oldestKey)
	}
}
