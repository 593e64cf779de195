package pipeline

import (
	"errors"
	"time"
)

// ErrDestinationUnavailable means the destination tab could not be prepared
// or read before any channel was processed.
var ErrDestinationUnavailable = errors.New("pipeline: destination unavailable")

// Status is the lifecycle state of a run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Strategy names how channels were processed.
type Strategy string

const (
	StrategySequential Strategy = "sequential"
	StrategyConcurrent Strategy = "concurrent"
)

// ChannelResult is the outcome for one channel reference.
type ChannelResult struct {
	Reference string `json:"reference"`
	ChannelID string `json:"channel_id,omitempty"`
	// Fetched is the number of hydrated uploads returned.
	Fetched int `json:"fetched"`
	// Matched is the number that passed the filters.
	Matched int `json:"matched"`
	// Duplicates were matched but already present in the destination.
	Duplicates int    `json:"duplicates"`
	Written    int    `json:"written"`
	Error      string `json:"error,omitempty"`

	err error
}

// Err returns the channel's failure, or nil.
func (c ChannelResult) Err() error { return c.err }

// RunResult is the outcome of one invocation.
//
// Status is completed whenever the destination accepted every write, even
// when some channels failed; their errors are listed in Errors. Status is
// failed when the config is invalid, the destination cannot be prepared,
// a write is rejected, or every channel failed. Status is cancelled when
// the context ended before all channels were processed.
type RunResult struct {
	RunID               string          `json:"run_id"`
	Status              Status          `json:"status"`
	Strategy            Strategy        `json:"strategy,omitempty"`
	Fallback            bool            `json:"fallback,omitempty"`
	VideosProcessed     int             `json:"videos_processed"`
	VideosWritten       int             `json:"videos_written"`
	DuplicatesPrevented int             `json:"duplicates_prevented"`
	APIQuotaUsed        int64           `json:"api_quota_used"`
	DurationSeconds     float64         `json:"duration_seconds"`
	StartedAt           time.Time       `json:"started_at"`
	FinishedAt          time.Time       `json:"finished_at"`
	Errors              []string        `json:"errors"`
	Channels            []ChannelResult `json:"channels"`

	err error
}

// Err returns the run-level failure behind a failed or cancelled status.
func (r *RunResult) Err() error { return r.err }

// ChannelErrors returns how many channels failed.
func (r *RunResult) ChannelErrors() int {
	n := 0
	for _, c := range r.Channels {
		if c.err != nil {
			n++
		}
	}
	return n
}
