// Package cache stores API responses together with their ETag so unchanged
// responses can be revalidated instead of re-downloaded.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"ytsheets/internal/logging"
)

// ErrNotModified is returned by a revalidation fetch when the upstream
// confirms the cached validator is still current.
var ErrNotModified = errors.New("cache: not modified")

// Entry is one cached response. Payload is opaque bytes, never re-encoded,
// so a revalidated payload is returned exactly as it was stored.
type Entry struct {
	Key       string    `json:"key"`
	Payload   []byte    `json:"payload"`
	Validator string    `json:"validator"`
	StoredAt  time.Time `json:"stored_at"`
}

// Backend is the durable store behind a ResponseCache.
type Backend interface {
	// Load returns every persisted entry.
	Load(ctx context.Context) (map[string]Entry, error)
	// Store persists a single entry, replacing any previous value.
	Store(ctx context.Context, e Entry) error
	// Close releases backend resources.
	Close() error
}

// Stats reports cache effectiveness.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

// HitRate returns hits / (hits + misses), or 0 when nothing was requested.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// ResponseCache is a write-through key to (payload, validator) map that is
// loaded fully at construction. It is safe for concurrent use.
type ResponseCache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	backend Backend
	hits    atomic.Int64
	misses  atomic.Int64
	now     func() time.Time
	log     zerolog.Logger
	onHit   func()
	onMiss  func()
}

// Option configures a ResponseCache.
type Option func(*ResponseCache)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *ResponseCache) { c.log = l }
}

// WithClock overrides the time source used for StoredAt.
func WithClock(now func() time.Time) Option {
	return func(c *ResponseCache) { c.now = now }
}

// WithHooks registers callbacks for revalidation hits and misses.
func WithHooks(onHit, onMiss func()) Option {
	return func(c *ResponseCache) {
		c.onHit = onHit
		c.onMiss = onMiss
	}
}

// New loads every entry from backend. A nil backend keeps the cache in
// memory only. A backend that cannot be read is logged and the cache starts
// empty; this is never fatal.
func New(ctx context.Context, backend Backend, opts ...Option) *ResponseCache {
	c := &ResponseCache{
		entries: make(map[string]Entry),
		backend: backend,
		now:     time.Now,
		log:     logging.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}

	if backend != nil {
		loaded, err := backend.Load(ctx)
		if err != nil {
			c.log.Warn().Err(err).Msg("cache: backing store unreadable, starting empty")
		} else {
			c.entries = loaded
		}
	}
	return c
}

// Key builds a request fingerprint from an endpoint name and its parameters.
// Parameter order is irrelevant.
func Key(endpoint string, params map[string]string) string {
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(endpoint)
	for _, k := range names {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}

// Get returns the cached entry for key. It does not touch statistics.
func (c *ResponseCache) Get(key string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok
}

// Put stores payload under key and writes it through to the backend.
func (c *ResponseCache) Put(ctx context.Context, key string, payload []byte, validator string) error {
	e := Entry{
		Key:       key,
		Payload:   append([]byte(nil), payload...),
		Validator: validator,
		StoredAt:  c.now().UTC(),
	}

	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()

	if c.backend == nil {
		return nil
	}
	if err := c.backend.Store(ctx, e); err != nil {
		return fmt.Errorf("cache: store %s: %w", key, err)
	}
	return nil
}

// FetchFunc performs the upstream request. validator is empty when nothing
// is cached. It returns ErrNotModified when the upstream reports the
// validator is current, otherwise the fresh payload and its validator.
type FetchFunc func(ctx context.Context, validator string) (payload []byte, newValidator string, err error)

// Revalidate runs the conditional-request protocol for key. On "not modified"
// the cached payload is returned unchanged and counted as a hit; on a fresh
// response the entry is overwritten and counted as a miss. Persistence
// failures are logged, not returned, because the caller already has the data.
func (c *ResponseCache) Revalidate(ctx context.Context, key string, fetch FetchFunc) (payload []byte, hit bool, err error) {
	cached, ok := c.Get(key)
	validator := ""
	if ok {
		validator = cached.Validator
	}

	fresh, newValidator, err := fetch(ctx, validator)
	if errors.Is(err, ErrNotModified) {
		if !ok {
			return nil, false, fmt.Errorf("cache: %s reported not modified without a cached entry", key)
		}
		c.hits.Add(1)
		if c.onHit != nil {
			c.onHit()
		}
		return cached.Payload, true, nil
	}
	if err != nil {
		return nil, false, err
	}

	c.misses.Add(1)
	if c.onMiss != nil {
		c.onMiss()
	}
	if newValidator != "" {
		if perr := c.Put(ctx, key, fresh, newValidator); perr != nil {
			c.log.Warn().Err(perr).Str("key", key).Msg("cache: write-through failed")
		}
	}
	return fresh, false, nil
}

// Stats returns a snapshot of cache statistics.
func (c *ResponseCache) Stats() Stats {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: n,
	}
}

// HitRate is shorthand for Stats().HitRate().
func (c *ResponseCache) HitRate() float64 {
	return c.Stats().HitRate()
}

// Close closes the backend.
func (c *ResponseCache) Close() error {
	if c.backend == nil {
		return nil
	}
	return c.backend.Close()
}
