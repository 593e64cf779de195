// Package pipeline drives channels through fetch, filter, dedup and write,
// sequentially or with a bounded worker pool, and aggregates a RunResult.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ytsheets/dedup"
	"ytsheets/filter"
	"ytsheets/internal/logging"
	"ytsheets/quota"
	"ytsheets/sheet"
	"ytsheets/youtube"
)

// errWorkerPanic marks a recovered panic in the concurrent strategy.
var errWorkerPanic = errors.New("pipeline: worker panicked")

// Orchestrator runs RunConfigs against shared caches, quota and dedup state.
// Run may be called concurrently for different destinations.
type Orchestrator struct {
	resolver   *youtube.Resolver
	fetcher    *youtube.Fetcher
	sheets     sheet.Service
	seen       *dedup.Deduplicator
	quota      *quota.Tracker
	writerOpts []sheet.Option
	observe    func(*RunResult)
	now        func() time.Time
	log        zerolog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithQuota sets the tracker whose growth is reported as APIQuotaUsed. It
// should be the tracker given to the youtube.Client.
func WithQuota(t *quota.Tracker) Option {
	return func(o *Orchestrator) { o.quota = t }
}

// WithWriterOptions passes options to the per-run sheet.Writer.
func WithWriterOptions(opts ...sheet.Option) Option {
	return func(o *Orchestrator) { o.writerOpts = append(o.writerOpts, opts...) }
}

// WithRunObserver is called with every finished RunResult.
func WithRunObserver(fn func(*RunResult)) Option {
	return func(o *Orchestrator) { o.observe = fn }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// New creates an Orchestrator. client supplies channel resolution and
// fetching; svc is the spreadsheet service writes go to.
func New(client *youtube.Client, svc sheet.Service, seen *dedup.Deduplicator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		resolver: youtube.NewResolver(client),
		fetcher:  youtube.NewFetcher(client),
		sheets:   svc,
		seen:     seen,
		now:      time.Now,
		log:      logging.Logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// pending is a video waiting to be written, tagged with its channel slot.
type pending struct {
	slot  int
	video youtube.Video
}

// run holds the state of one Run call.
type run struct {
	o        *Orchestrator
	cfg      RunConfig
	writer   *sheet.Writer
	existing map[string]struct{}
	log      zerolog.Logger

	mu       sync.Mutex
	claimed  map[dedup.Key]struct{}
	channels []ChannelResult
	failed   error
}

// Run executes cfg and always returns a finalized result. Invalid configs
// fail before any network call.
func (o *Orchestrator) Run(ctx context.Context, cfg RunConfig) *RunResult {
	res := &RunResult{
		RunID:     uuid.NewString(),
		Status:    StatusRunning,
		StartedAt: o.now(),
		Errors:    []string{},
	}
	log := o.log.With().Str("run_id", res.RunID).Logger()
	var quotaStart int64
	if o.quota != nil {
		quotaStart = o.quota.Total()
	}
	defer func() {
		if o.quota != nil {
			res.APIQuotaUsed = o.quota.Total() - quotaStart
		}
		res.FinishedAt = o.now()
		res.DurationSeconds = res.FinishedAt.Sub(res.StartedAt).Seconds()
		log.Info().
			Str("status", string(res.Status)).
			Str("strategy", string(res.Strategy)).
			Int("processed", res.VideosProcessed).
			Int("written", res.VideosWritten).
			Int("duplicates", res.DuplicatesPrevented).
			Int64("units", res.APIQuotaUsed).
			Int("errors", len(res.Errors)).
			Float64("duration_s", res.DurationSeconds).
			Msg("run finished")
		if o.observe != nil {
			o.observe(res)
		}
	}()

	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		res.Status = StatusFailed
		res.err = err
		res.Errors = append(res.Errors, err.Error())
		return res
	}
	log = log.With().Str("tab", cfg.Destination.Tab).Logger()
	log.Info().Int("channels", len(cfg.Channels)).Msg("run started")

	writer := sheet.NewWriter(o.sheets, cfg.Destination.SpreadsheetID, append([]sheet.Option{sheet.WithLogger(log)}, o.writerOpts...)...)
	existing, err := prepare(ctx, writer, cfg.Destination.Tab)
	if err != nil {
		res.Status = StatusFailed
		if errors.Is(err, context.Canceled) {
			res.Status = StatusCancelled
		}
		res.err = fmt.Errorf("%w: %w", ErrDestinationUnavailable, err)
		res.Errors = append(res.Errors, res.err.Error())
		return res
	}

	newRun := func() *run {
		r := &run{
			o:        o,
			cfg:      cfg,
			writer:   writer,
			existing: existing,
			log:      log,
			claimed:  make(map[dedup.Key]struct{}),
			channels: make([]ChannelResult, len(cfg.Channels)),
		}
		for i, ref := range cfg.Channels {
			r.channels[i].Reference = ref
		}
		return r
	}

	var r *run
	if len(cfg.Channels) == 1 || cfg.Sequential || cfg.Concurrency == 1 {
		res.Strategy = StrategySequential
		r = newRun()
		r.sequential(ctx)
	} else {
		res.Strategy = StrategyConcurrent
		r = newRun()
		if err := r.concurrent(ctx); err != nil {
			log.Warn().Err(err).Msg("concurrent strategy failed, falling back to sequential")
			res.Strategy = StrategySequential
			res.Fallback = true
			r = newRun()
			r.sequential(ctx)
		}
	}

	if r.failed == nil && ctx.Err() == nil {
		if _, err := writer.EnsureFormatting(ctx, cfg.Destination.Tab); err != nil {
			log.Warn().Err(err).Msg("conditional formatting not applied")
			res.Errors = append(res.Errors, fmt.Sprintf("formatting: %v", err))
		}
	}

	r.finish(ctx, res)
	return res
}

// prepare ensures the tab and its table exist and returns the IDs already
// written to it.
func prepare(ctx context.Context, w *sheet.Writer, tab string) (map[string]struct{}, error) {
	if err := w.EnsureTable(ctx, tab); err != nil {
		return nil, err
	}
	return w.ExistingIDs(ctx, tab)
}

// finish aggregates channel outcomes into res and sets the final status.
func (r *run) finish(ctx context.Context, res *RunResult) {
	res.Channels = r.channels
	channelErrs := make([]string, 0)
	failures := 0
	for _, c := range r.channels {
		res.VideosProcessed += c.Fetched
		res.VideosWritten += c.Written
		res.DuplicatesPrevented += c.Duplicates
		if c.err != nil {
			failures++
			channelErrs = append(channelErrs, c.Error)
		}
	}
	res.Errors = append(channelErrs, res.Errors...)

	switch {
	case r.failed != nil:
		res.Status = StatusFailed
		res.err = r.failed
		res.Errors = append(res.Errors, r.failed.Error())
	case ctx.Err() != nil:
		res.Status = StatusCancelled
		res.err = ctx.Err()
	case failures == len(r.channels):
		res.Status = StatusFailed
		res.err = fmt.Errorf("all %d channels failed", failures)
	default:
		res.Status = StatusCompleted
	}
}

// process fetches, filters and dedups one channel. It never returns an
// error; failures are recorded on the channel's result.
func (r *run) process(ctx context.Context, slot int) []pending {
	ref := r.cfg.Channels[slot]
	cr := &r.channels[slot]
	log := r.log.With().Str("channel", ref).Logger()

	fail := func(err error) []pending {
		cr.err = err
		cr.Error = fmt.Sprintf("%s: %v", ref, err)
		log.Warn().Err(err).Msg("channel failed")
		return nil
	}

	channelID, err := r.o.resolver.Resolve(ctx, ref)
	if err != nil {
		return fail(err)
	}
	cr.ChannelID = channelID

	videos, err := r.o.fetcher.Fetch(ctx, channelID, r.cfg.MaxResultsPerChannel)
	if err != nil {
		return fail(err)
	}
	cr.Fetched = len(videos)

	matched := filter.Apply(videos, r.cfg.Filters)
	cr.Matched = len(matched)

	tab := r.cfg.Destination.Tab
	ids := make([]string, len(matched))
	var present []string
	for i, v := range matched {
		ids[i] = v.ID
		if _, ok := r.existing[v.ID]; ok {
			present = append(present, v.ID)
		}
	}
	if len(present) > 0 {
		if err := r.o.seen.MarkSeen(ctx, present, channelID, tab); err != nil {
			log.Warn().Err(err).Msg("seed seen store from destination")
		}
	}

	fresh := make(map[string]struct{})
	for _, id := range r.o.seen.FilterNew(ids, channelID, tab) {
		fresh[id] = struct{}{}
	}

	out := make([]pending, 0, len(fresh))
	r.mu.Lock()
	for _, v := range matched {
		if _, ok := fresh[v.ID]; !ok {
			continue
		}
		key := dedup.Key{VideoID: v.ID, ChannelID: channelID, Tab: tab}
		if _, dup := r.claimed[key]; dup {
			continue
		}
		r.claimed[key] = struct{}{}
		out = append(out, pending{slot: slot, video: v})
	}
	r.mu.Unlock()

	cr.Duplicates = len(matched) - len(out)
	log.Debug().
		Int("fetched", cr.Fetched).
		Int("matched", cr.Matched).
		Int("new", len(out)).
		Msg("channel processed")
	return out
}

// safeProcess converts a panic in process into an error.
func (r *run) safeProcess(ctx context.Context, slot int) (out []pending, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", errWorkerPanic, p)
		}
	}()
	return r.process(ctx, slot), nil
}

// sequential processes channels in order, flushing whenever the batch
// reaches BatchSize. It stops issuing channels once ctx is done or a write
// is rejected.
func (r *run) sequential(ctx context.Context) {
	var batch []pending
	for slot := range r.cfg.Channels {
		if ctx.Err() != nil {
			r.log.Info().Int("processed", slot).Int("total", len(r.cfg.Channels)).Msg("run cancelled")
			return
		}
		out, err := r.safeProcess(ctx, slot)
		if err != nil {
			r.channels[slot].err = err
			r.channels[slot].Error = fmt.Sprintf("%s: %v", r.cfg.Channels[slot], err)
			continue
		}
		batch = append(batch, out...)
		if len(batch) >= r.cfg.BatchSize {
			if err := r.flush(ctx, batch); err != nil {
				return
			}
			batch = nil
		}
	}
	if ctx.Err() == nil {
		_ = r.flush(ctx, batch)
	}
}

// concurrent processes channels with at most Concurrency workers, then
// writes the accumulated videos in channel order. A recovered worker panic
// is returned before anything is written.
func (r *run) concurrent(ctx context.Context) error {
	var (
		wg       sync.WaitGroup
		sem      = make(chan struct{}, r.cfg.Concurrency)
		outs     = make([][]pending, len(r.cfg.Channels))
		panicMu  sync.Mutex
		panicErr error
	)

dispatch:
	for slot := range r.cfg.Channels {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			break dispatch
		}
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			defer func() { <-sem }()
			out, err := r.safeProcess(ctx, slot)
			if err != nil {
				panicMu.Lock()
				if panicErr == nil {
					panicErr = fmt.Errorf("channel %q: %w", r.cfg.Channels[slot], err)
				}
				panicMu.Unlock()
				return
			}
			outs[slot] = out
		}(slot)
	}
	wg.Wait()

	if panicErr != nil {
		return panicErr
	}
	if ctx.Err() != nil {
		return nil
	}

	var all []pending
	for _, out := range outs {
		all = append(all, out...)
	}
	for start := 0; start < len(all); start += r.cfg.BatchSize {
		end := min(start+r.cfg.BatchSize, len(all))
		if err := r.flush(ctx, all[start:end]); err != nil {
			return nil
		}
	}
	return nil
}

// flush writes batch and, once the destination accepted it, records the
// videos as seen. A rejected write is recorded as the run's failure.
func (r *run) flush(ctx context.Context, batch []pending) error {
	if len(batch) == 0 {
		return nil
	}
	tab := r.cfg.Destination.Tab
	videos := make([]youtube.Video, len(batch))
	for i, p := range batch {
		videos[i] = p.video
	}

	n, err := r.writer.WriteVideos(ctx, tab, videos)
	if err != nil {
		r.failed = fmt.Errorf("write %d rows: %w", len(batch), err)
		r.log.Error().Err(err).Int("rows", len(batch)).Msg("batch write failed")
		return err
	}

	bySlot := make(map[int][]string)
	var order []int
	for _, p := range batch {
		if _, ok := bySlot[p.slot]; !ok {
			order = append(order, p.slot)
		}
		bySlot[p.slot] = append(bySlot[p.slot], p.video.ID)
	}
	// The rows are in the sheet; record them even if ctx ends now.
	markCtx := context.WithoutCancel(ctx)
	for _, slot := range order {
		ids := bySlot[slot]
		r.channels[slot].Written += len(ids)
		if err := r.o.seen.MarkSeen(markCtx, ids, r.channels[slot].ChannelID, tab); err != nil {
			r.log.Warn().Err(err).Str("channel", r.channels[slot].ChannelID).Msg("seen store write failed")
		}
	}
	r.log.Debug().Int("rows", n).Msg("batch flushed")
	return nil
}
