package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"ytsheets/filter"
)

// Execution defaults.
const (
	DefaultConcurrency = 10
	MaxConcurrency     = 50
	DefaultBatchSize   = 500
)

// ErrInvalidConfig is returned for a RunConfig that fails validation.
var ErrInvalidConfig = errors.New("pipeline: invalid run config")

// Destination identifies the spreadsheet tab a run writes to.
type Destination struct {
	SpreadsheetID string `json:"spreadsheet_id"`
	Tab           string `json:"tab"`
}

// RunConfig holds the parameters of one invocation. It is not modified
// during a run.
type RunConfig struct {
	// Channels are channel IDs, @handles or channel URLs, in write order.
	Channels    []string       `json:"channels"`
	Filters     filter.Filters `json:"filters"`
	Destination Destination    `json:"destination"`
	// MaxResultsPerChannel caps the uploads fetched per channel.
	MaxResultsPerChannel int `json:"max_results_per_channel,omitempty"`
	// Concurrency bounds the worker pool of the concurrent strategy.
	Concurrency int `json:"concurrency,omitempty"`
	// BatchSize is the number of rows accumulated before a write.
	BatchSize int `json:"batch_size,omitempty"`
	// Sequential forces the sequential strategy for multi-channel runs.
	Sequential bool `json:"sequential,omitempty"`
}

// Normalize trims channel references, drops blanks and repeats, and fills
// zero-valued limits with defaults.
func (c RunConfig) Normalize() RunConfig {
	seen := make(map[string]struct{}, len(c.Channels))
	channels := make([]string, 0, len(c.Channels))
	for _, ref := range c.Channels {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}
		channels = append(channels, ref)
	}
	c.Channels = channels
	c.Destination.Tab = strings.TrimSpace(c.Destination.Tab)
	c.Destination.SpreadsheetID = strings.TrimSpace(c.Destination.SpreadsheetID)

	if c.Concurrency == 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	return c
}

// Validate checks the config. Filter errors also match filter.ErrFilterConfig.
func (c RunConfig) Validate() error {
	if len(c.Channels) == 0 {
		return fmt.Errorf("%w: no channels", ErrInvalidConfig)
	}
	if c.Destination.SpreadsheetID == "" {
		return fmt.Errorf("%w: spreadsheet id is empty", ErrInvalidConfig)
	}
	if c.Destination.Tab == "" {
		return fmt.Errorf("%w: tab name is empty", ErrInvalidConfig)
	}
	if c.MaxResultsPerChannel < 0 {
		return fmt.Errorf("%w: max results per channel is negative", ErrInvalidConfig)
	}
	if c.Concurrency < 0 || c.Concurrency > MaxConcurrency {
		return fmt.Errorf("%w: concurrency must be between 1 and %d", ErrInvalidConfig, MaxConcurrency)
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("%w: batch size is negative", ErrInvalidConfig)
	}
	if err := c.Filters.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
