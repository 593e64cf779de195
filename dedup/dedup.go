// Package dedup tracks which videos have already been written to a
// destination tab for a channel.
package dedup

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"ytsheets/internal/logging"
	"ytsheets/internal/storage"
)

// Key is the dedup scope: a video is unique per (video, channel, tab).
type Key = storage.SeenKey

// Backend durably stores seen keys.
type Backend interface {
	LoadAll(ctx context.Context) ([]Key, error)
	Insert(ctx context.Context, keys []Key) error
	Close() error
}

// Statistics summarises deduplicator activity.
type Statistics struct {
	SeenVideosTotal          int   `json:"seen_videos_total"`
	DuplicatesPreventedTotal int64 `json:"duplicates_prevented_total"`
}

// Deduplicator is an in-memory set of seen keys, loaded once from a Backend
// and written through on every MarkSeen. It is safe for concurrent use.
type Deduplicator struct {
	mu        sync.RWMutex
	seen      map[Key]struct{}
	prevented int64
	backend   Backend
	log       zerolog.Logger
	onPrevent func(n int)
}

// Option configures a Deduplicator.
type Option func(*Deduplicator)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Deduplicator) { d.log = l }
}

// WithPreventedHook is called with the number of duplicates each FilterNew
// call removed, when non-zero.
func WithPreventedHook(fn func(n int)) Option {
	return func(d *Deduplicator) { d.onPrevent = fn }
}

// New loads all keys from backend. A nil backend keeps state in memory only.
// An unreadable backend is logged and the set starts empty.
func New(ctx context.Context, backend Backend, opts ...Option) *Deduplicator {
	d := &Deduplicator{
		seen:    make(map[Key]struct{}),
		backend: backend,
		log:     logging.Logger,
	}
	for _, opt := range opts {
		opt(d)
	}

	if backend != nil {
		keys, err := backend.LoadAll(ctx)
		if err != nil {
			d.log.Warn().Err(err).Msg("dedup: seen store unreadable, starting empty")
		}
		for _, k := range keys {
			d.seen[k] = struct{}{}
		}
	}
	return d
}

// MarkSeen records ids as written to tab for channelID. The in-memory set is
// updated even if persistence fails; the persistence error is returned.
func (d *Deduplicator) MarkSeen(ctx context.Context, ids []string, channelID, tab string) error {
	fresh := make([]Key, 0, len(ids))

	d.mu.Lock()
	for _, id := range ids {
		k := Key{VideoID: id, ChannelID: channelID, Tab: tab}
		if _, ok := d.seen[k]; ok {
			continue
		}
		d.seen[k] = struct{}{}
		fresh = append(fresh, k)
	}
	d.mu.Unlock()

	if len(fresh) == 0 || d.backend == nil {
		return nil
	}
	return d.backend.Insert(ctx, fresh)
}

// FilterNew returns the ids not yet seen for (channelID, tab), preserving
// input order. Repeated ids in the input are returned once.
func (d *Deduplicator) FilterNew(ids []string, channelID, tab string) []string {
	out := make([]string, 0, len(ids))
	returned := make(map[string]struct{}, len(ids))
	dups := 0

	d.mu.RLock()
	for _, id := range ids {
		if _, ok := returned[id]; ok {
			continue
		}
		if _, ok := d.seen[Key{VideoID: id, ChannelID: channelID, Tab: tab}]; ok {
			dups++
			continue
		}
		returned[id] = struct{}{}
		out = append(out, id)
	}
	d.mu.RUnlock()

	if dups > 0 {
		d.mu.Lock()
		d.prevented += int64(dups)
		d.mu.Unlock()
		if d.onPrevent != nil {
			d.onPrevent(dups)
		}
	}
	return out
}

// IsSeen reports whether a single key is in the set.
func (d *Deduplicator) IsSeen(id, channelID, tab string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.seen[Key{VideoID: id, ChannelID: channelID, Tab: tab}]
	return ok
}

// Statistics returns totals since construction; SeenVideosTotal includes
// keys loaded from the backend.
func (d *Deduplicator) Statistics() Statistics {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Statistics{
		SeenVideosTotal:          len(d.seen),
		DuplicatesPreventedTotal: d.prevented,
	}
}

// Close closes the backend.
func (d *Deduplicator) Close() error {
	if d.backend == nil {
		return nil
	}
	return d.backend.Close()
}
