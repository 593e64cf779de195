// Package http provides the resilient transport beneath the Google API
// clients: per-host token buckets, Retry-After aware backoff and a
// per-host circuit breaker.
package http

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Well-known Google API hosts.
const (
	HostYouTube       = "youtube.googleapis.com"
	HostGoogleAPIs    = "www.googleapis.com"
	HostSheets        = "sheets.googleapis.com"
	DefaultDataAPIRPS = 10.0
	DefaultSheetsRPS  = 1.0
)

// Backoff defaults applied after a 429/503.
const (
	InitialBackoff        = 1 * time.Second
	MaxBackoff            = 60 * time.Second
	BackoffMultiplier     = 2.0
	BackoffCooldownPeriod = 5 * time.Minute
	MinRPSMultiplier      = 0.25
)

// BackoffState tracks rate limit backoff for a host.
type BackoffState struct {
	CurrentBackoff    time.Duration
	LastError         time.Time
	ConsecutiveErrors int
	OriginalRPS       float64
	// ReducedRPS is the current reduced rate (0 means using original).
	ReducedRPS float64
}

// RateLimiterConfig defines rate limiting behavior.
type RateLimiterConfig struct {
	// DataAPIRPS is requests per second for the YouTube Data API hosts.
	DataAPIRPS float64
	// SheetsRPS is requests per second for the Sheets API host.
	SheetsRPS float64
	// DefaultRPS applies to any other host. Zero means unlimited.
	DefaultRPS float64
	// CustomRates maps host names to RPS values.
	CustomRates map[string]float64
	// EnableDynamicBackoff reduces a host's rate after 429/503 responses.
	EnableDynamicBackoff bool
}

// DefaultRateLimiterConfig returns defaults sized for the Data API's per-user
// limit and the Sheets write quota of 60 requests per minute.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		DataAPIRPS:           DefaultDataAPIRPS,
		SheetsRPS:            DefaultSheetsRPS,
		CustomRates:          make(map[string]float64),
		EnableDynamicBackoff: true,
	}
}

// RateLimiter manages per-host request rate limiting with token buckets.
type RateLimiter struct {
	limiters     map[string]*rate.Limiter
	backoffState map[string]*BackoffState
	mu           sync.Mutex
	config       RateLimiterConfig
	now          func() time.Time
}

// NewRateLimiter creates a new rate limiter with the given configuration.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.DataAPIRPS == 0 {
		cfg.DataAPIRPS = DefaultDataAPIRPS
	}
	if cfg.SheetsRPS == 0 {
		cfg.SheetsRPS = DefaultSheetsRPS
	}
	if cfg.CustomRates == nil {
		cfg.CustomRates = make(map[string]float64)
	}
	return &RateLimiter{
		limiters:     make(map[string]*rate.Limiter),
		backoffState: make(map[string]*BackoffState),
		config:       cfg,
		now:          time.Now,
	}
}

// Wait blocks until the host's bucket allows a request.
func (rl *RateLimiter) Wait(ctx context.Context, host string) error {
	if rl == nil {
		return nil
	}
	limiter := rl.limiter(host)
	if limiter == nil {
		return nil
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit %s: %w", host, err)
	}
	return nil
}

func (rl *RateLimiter) limiter(host string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if l, ok := rl.limiters[host]; ok {
		return l
	}
	rps := rl.rpsFor(host)
	if rps == 0 {
		return nil
	}
	l := rate.NewLimiter(rate.Limit(rps), 1)
	rl.limiters[host] = l
	return l
}

// rpsFor must be called with mu held.
func (rl *RateLimiter) rpsFor(host string) float64 {
	if rps, ok := rl.config.CustomRates[host]; ok {
		return rps
	}
	switch host {
	case HostYouTube, HostGoogleAPIs:
		return rl.config.DataAPIRPS
	case HostSheets:
		return rl.config.SheetsRPS
	default:
		return rl.config.DefaultRPS
	}
}

// RPS returns the current configured or reduced rate for host.
func (rl *RateLimiter) RPS(host string) float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if st, ok := rl.backoffState[host]; ok && st.ReducedRPS > 0 {
		return st.ReducedRPS
	}
	return rl.rpsFor(host)
}

// SetCustomRate overrides the rate for a host.
func (rl *RateLimiter) SetCustomRate(host string, rps float64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.config.CustomRates[host] = rps
	delete(rl.limiters, host)
}

// RecordRateLimitError records a 429/503 for host and returns how long the
// caller should wait. A longer server Retry-After wins.
func (rl *RateLimiter) RecordRateLimitError(host string, retryAfter time.Duration) time.Duration {
	if rl == nil || !rl.config.EnableDynamicBackoff {
		if retryAfter > 0 {
			return retryAfter
		}
		return InitialBackoff
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	state, ok := rl.backoffState[host]
	if !ok {
		state = &BackoffState{
			CurrentBackoff: InitialBackoff,
			OriginalRPS:    rl.rpsFor(host),
		}
		rl.backoffState[host] = state
	}
	state.LastError = now
	state.ConsecutiveErrors++

	// 1s, 2s, 4s ... capped.
	if state.ConsecutiveErrors > 1 {
		state.CurrentBackoff = time.Duration(float64(state.CurrentBackoff) * BackoffMultiplier)
		if state.CurrentBackoff > MaxBackoff {
			state.CurrentBackoff = MaxBackoff
		}
	}
	if retryAfter > state.CurrentBackoff {
		state.CurrentBackoff = retryAfter
	}

	rl.reduceRate(host, state)
	return state.CurrentBackoff
}

// reduceRate must be called with mu held.
func (rl *RateLimiter) reduceRate(host string, state *BackoffState) {
	if state.OriginalRPS == 0 {
		return
	}
	factor := MinRPSMultiplier
	switch state.ConsecutiveErrors {
	case 1:
		factor = 0.75
	case 2:
		factor = 0.5
	}
	state.ReducedRPS = state.OriginalRPS * factor
	if l, ok := rl.limiters[host]; ok {
		l.SetLimit(rate.Limit(state.ReducedRPS))
	}
}

// RecordSuccess decays backoff for host; the full rate is restored once the
// cooldown period has passed since the last error.
func (rl *RateLimiter) RecordSuccess(host string) {
	if rl == nil || !rl.config.EnableDynamicBackoff {
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	state, ok := rl.backoffState[host]
	if !ok {
		return
	}
	if rl.now().Sub(state.LastError) > BackoffCooldownPeriod {
		if l, ok := rl.limiters[host]; ok && state.ReducedRPS > 0 {
			l.SetLimit(rate.Limit(state.OriginalRPS))
		}
		delete(rl.backoffState, host)
		return
	}
	if state.ConsecutiveErrors > 0 {
		state.ConsecutiveErrors--
		if state.ConsecutiveErrors == 0 && state.ReducedRPS > 0 {
			half := state.OriginalRPS * 0.5
			if half > state.ReducedRPS {
				state.ReducedRPS = half
				if l, ok := rl.limiters[host]; ok {
					l.SetLimit(rate.Limit(half))
				}
			}
		}
	}
}

// Backoff returns a copy of host's backoff state, or nil.
func (rl *RateLimiter) Backoff(host string) *BackoffState {
	if rl == nil {
		return nil
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if st, ok := rl.backoffState[host]; ok {
		cp := *st
		return &cp
	}
	return nil
}

// WaitForBackoff waits out any remaining backoff for host.
func (rl *RateLimiter) WaitForBackoff(ctx context.Context, host string) error {
	state := rl.Backoff(host)
	if state == nil {
		return nil
	}
	remaining := state.CurrentBackoff - rl.now().Sub(state.LastError)
	if remaining <= 0 {
		return nil
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
