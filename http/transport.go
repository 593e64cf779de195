package http

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	htransport "google.golang.org/api/transport/http"

	"ytsheets/internal/logging"
)

// Config holds transport configuration.
type Config struct {
	// Timeout bounds a whole request including reading the body.
	Timeout time.Duration
	// UserAgent is set on requests that do not carry one.
	UserAgent string
	// RateLimiter configuration.
	RateLimiter RateLimiterConfig
	// CircuitBreaker configuration.
	CircuitBreaker CircuitBreakerConfig
	// Pool configures connection pooling of the underlying transport.
	Pool PoolConfig
}

// PoolConfig configures the connection pool of the base transport.
type PoolConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration
	ForceAttemptHTTP2   bool
}

// DefaultConfig returns sensible defaults for the Google API hosts.
func DefaultConfig() *Config {
	return &Config{
		Timeout:        30 * time.Second,
		UserAgent:      "ytsheets/1.0",
		RateLimiter:    DefaultRateLimiterConfig(),
		CircuitBreaker: DefaultCircuitBreakerConfig(),
		Pool:           DefaultPoolConfig(),
	}
}

// DefaultPoolConfig returns pooling defaults sized for a worker pool of 10.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}
}

// Transport is an http.RoundTripper that rate limits per host, honours
// Retry-After backoff and trips a per-host circuit breaker. HTTP error
// responses are passed through unchanged so API client libraries can decode
// them; only transport failures and open circuits surface as errors.
type Transport struct {
	base      http.RoundTripper
	limiter   *RateLimiter
	breaker   *CircuitBreaker
	userAgent string
	timeout   time.Duration
	log       zerolog.Logger
}

// NewTransport builds a Transport over a pooled http.Transport.
func NewTransport(cfg *Config) *Transport {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	base := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Pool.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.Pool.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.Pool.MaxConnsPerHost,
		IdleConnTimeout:     cfg.Pool.IdleConnTimeout,
		ForceAttemptHTTP2:   cfg.Pool.ForceAttemptHTTP2,
	}
	return NewTransportWithBase(base, cfg)
}

// NewTransportWithBase wraps an existing RoundTripper.
func NewTransportWithBase(base http.RoundTripper, cfg *Config) *Transport {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{
		base:      base,
		limiter:   NewRateLimiter(cfg.RateLimiter),
		breaker:   NewCircuitBreaker(cfg.CircuitBreaker),
		userAgent: cfg.UserAgent,
		timeout:   cfg.Timeout,
		log:       logging.Logger,
	}
}

// WithLogger sets the logger and returns t.
func (t *Transport) WithLogger(l zerolog.Logger) *Transport {
	t.log = l
	return t
}

// Client returns an *http.Client using t.
func (t *Transport) Client() *http.Client {
	return &http.Client{Transport: t, Timeout: t.timeout}
}

// AuthenticatedClient layers Google credentials from opts (API key, service
// account file, ...) over t and returns a client for the generated API
// packages.
func (t *Transport) AuthenticatedClient(ctx context.Context, opts ...option.ClientOption) (*http.Client, error) {
	rt, err := htransport.NewTransport(ctx, t, opts...)
	if err != nil {
		return nil, fmt.Errorf("google transport: %w", err)
	}
	return &http.Client{Transport: rt, Timeout: t.timeout}, nil
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	host := req.URL.Hostname()

	if err := t.breaker.Allow(host); err != nil {
		return nil, fmt.Errorf("%s: %w", host, err)
	}
	if err := t.limiter.WaitForBackoff(ctx, host); err != nil {
		return nil, err
	}
	if err := t.limiter.Wait(ctx, host); err != nil {
		return nil, err
	}

	if t.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req = req.Clone(ctx)
		req.Header.Set("User-Agent", t.userAgent)
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		// A request abandoned by its caller says nothing about the host.
		if ctx.Err() == nil {
			t.breaker.RecordFailure(host, err)
		}
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		wait := t.limiter.RecordRateLimitError(host, parseRetryAfter(resp.Header))
		t.breaker.RecordFailure(host, &RateLimitError{Host: host, StatusCode: resp.StatusCode, RetryAfter: wait})
		t.log.Warn().Str("host", host).Int("status", resp.StatusCode).Dur("backoff", wait).Msg("upstream rate limited request")
	case resp.StatusCode >= 500:
		t.breaker.RecordFailure(host, &HTTPError{StatusCode: resp.StatusCode})
	case resp.StatusCode < 400:
		t.limiter.RecordSuccess(host)
		t.breaker.RecordSuccess(host)
	}
	return resp, nil
}

// CircuitState returns the breaker state for host.
func (t *Transport) CircuitState(host string) CircuitState {
	return t.breaker.State(host)
}

// Limiter exposes the rate limiter.
func (t *Transport) Limiter() *RateLimiter {
	return t.limiter
}

// CloseIdleConnections closes idle connections of the base transport.
func (t *Transport) CloseIdleConnections() {
	type closer interface{ CloseIdleConnections() }
	if c, ok := t.base.(closer); ok {
		c.CloseIdleConnections()
	}
}

// parseRetryAfter reads a Retry-After header in seconds or HTTP-date form.
func parseRetryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
