// Package quota tracks YouTube Data API cost against a daily budget.
//
// The tracker is advisory: it never blocks or rejects a call. The API itself
// enforces the hard limit; the tracker exists so runs can warn before that
// happens and report how many units they spent.
package quota

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ytsheets/internal/logging"
	"ytsheets/internal/storage"
)

// DefaultDailyBudget is the default YouTube Data API allocation per project.
const DefaultDailyBudget = 10000

// HistoryDays bounds the rolling window of archived daily totals.
const HistoryDays = 30

// Unit costs of the Data API operations used by ytsheets.
const (
	CostChannelsList      = 1
	CostPlaylistItemsList = 1
	CostVideosList        = 1
	CostSearchList        = 100
)

const dateLayout = "2006-01-02"

// Status is the health classification of the day's usage.
type Status int

const (
	// Healthy means less than 70% of the budget is used.
	Healthy Status = iota
	// Warning means 70% to 85% is used.
	Warning
	// Critical means 85% to 95% is used.
	Critical
	// Exhausted means 95% or more is used.
	Exhausted
)

// String returns the lowercase name of the status.
func (s Status) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Warning:
		return "warning"
	case Critical:
		return "critical"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// StatusFor classifies used units against budget.
func StatusFor(used, budget int) Status {
	if budget <= 0 {
		return Exhausted
	}
	pct := float64(used) / float64(budget) * 100
	switch {
	case pct >= 95:
		return Exhausted
	case pct >= 85:
		return Critical
	case pct >= 70:
		return Warning
	default:
		return Healthy
	}
}

// DayUsage is one archived day.
type DayUsage struct {
	Date string `json:"date"`
	Used int    `json:"used"`
}

// State is the persisted counter for the current UTC day.
type State struct {
	Date    string     `json:"date"`
	Used    int        `json:"used"`
	Budget  int        `json:"budget"`
	History []DayUsage `json:"history,omitempty"`
}

// Status classifies the state.
func (s State) Status() Status { return StatusFor(s.Used, s.Budget) }

// Remaining returns the units left today, never negative.
func (s State) Remaining() int {
	if r := s.Budget - s.Used; r > 0 {
		return r
	}
	return 0
}

// Percent returns usage as a percentage of the budget.
func (s State) Percent() float64 {
	if s.Budget <= 0 {
		return 100
	}
	return float64(s.Used) / float64(s.Budget) * 100
}

// Tracker is a concurrency-safe quota counter with lazy UTC-midnight rollover.
type Tracker struct {
	mu         sync.Mutex
	state      State
	total      int64
	lastStatus Status
	now        func() time.Time
	path       string
	log        zerolog.Logger
	observer   func(units int, status Status)
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithLogger sets the logger used for threshold transitions.
func WithLogger(l zerolog.Logger) Option {
	return func(t *Tracker) { t.log = l }
}

// WithPersistence loads state from path and rewrites it after every Consume.
// A missing or corrupt file starts a fresh day.
func WithPersistence(path string) Option {
	return func(t *Tracker) { t.path = path }
}

// WithObserver registers fn to be called after every Consume.
func WithObserver(fn func(units int, status Status)) Option {
	return func(t *Tracker) { t.observer = fn }
}

// New creates a tracker for the given daily budget.
func New(budget int, opts ...Option) *Tracker {
	if budget <= 0 {
		budget = DefaultDailyBudget
	}
	t := &Tracker{
		now: time.Now,
		log: logging.Logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.state = State{Date: t.today(), Budget: budget}

	if t.path != "" {
		var loaded State
		err := storage.ReadJSON(t.path, &loaded)
		switch {
		case err == nil:
			loaded.Budget = budget
			t.state = loaded
		case errors.Is(err, storage.ErrNotFound):
		default:
			t.log.Warn().Err(err).Str("path", t.path).Msg("quota: state unreadable, starting fresh")
		}
	}
	t.rollover()
	t.lastStatus = t.state.Status()
	return t
}

func (t *Tracker) today() string {
	return t.now().UTC().Format(dateLayout)
}

// rollover archives the previous day's total when the UTC date has changed.
// Must be called with mutex held (or before the tracker is shared).
func (t *Tracker) rollover() bool {
	today := t.today()
	if t.state.Date == today {
		return false
	}
	if t.state.Date != "" {
		t.state.History = append(t.state.History, DayUsage{Date: t.state.Date, Used: t.state.Used})
		if n := len(t.state.History); n > HistoryDays {
			t.state.History = append([]DayUsage(nil), t.state.History[n-HistoryDays:]...)
		}
		t.log.Info().Str("date", t.state.Date).Int("used", t.state.Used).Msg("quota: reset (new day)")
	}
	t.state.Date = today
	t.state.Used = 0
	t.lastStatus = Healthy
	return true
}

// Consume adds cost units to today's usage and returns the resulting state.
// It never fails: persistence errors are logged.
func (t *Tracker) Consume(cost int) State {
	if cost < 0 {
		cost = 0
	}

	t.mu.Lock()
	t.rollover()
	t.state.Used += cost
	t.total += int64(cost)
	snap := t.snapshotLocked()
	status := snap.Status()
	changed := status != t.lastStatus
	t.lastStatus = status
	if t.path != "" {
		if err := storage.WriteJSON(t.path, snap); err != nil {
			t.log.Warn().Err(err).Msg("quota: failed to persist state")
		}
	}
	observer := t.observer
	t.mu.Unlock()

	if changed {
		evt := t.log.Info()
		switch status {
		case Warning:
			evt = t.log.Warn()
		case Critical, Exhausted:
			evt = t.log.Error()
		}
		evt.Str("status", status.String()).
			Int("used", snap.Used).
			Int("budget", snap.Budget).
			Msg("quota: status changed")
	}
	if observer != nil {
		observer(cost, status)
	}
	return snap
}

// Status returns the current health classification.
func (t *Tracker) Status() Status {
	return t.Snapshot().Status()
}

// Snapshot returns a copy of the current state after any pending rollover.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() State {
	s := t.state
	s.History = append([]DayUsage(nil), t.state.History...)
	return s
}

// Total returns the units consumed by this tracker since it was created,
// unaffected by day rollover. Runs use the difference of two readings.
func (t *Tracker) Total() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}
