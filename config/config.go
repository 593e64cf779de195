// Package config manages application configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"ytsheets/filter"
	"ytsheets/internal/retry"
	"ytsheets/quota"
)

// Cache backends.
const (
	CacheFile  = "file"
	CacheRedis = "redis"
	CacheNone  = "none"
)

// Config holds all application configuration for channel-to-sheet syncs.
type Config struct {
	// APIKey authenticates YouTube Data API calls. Either APIKey or
	// CredentialsFile must be set.
	APIKey string `json:"api_key"`
	// CredentialsFile is a service-account JSON key used for both APIs.
	CredentialsFile string `json:"credentials_file"`

	// SpreadsheetID is the destination spreadsheet.
	SpreadsheetID string `json:"spreadsheet_id"`
	// Tab is the destination tab name.
	Tab string `json:"tab"`
	// Channels are the channel references synced when none are given on the
	// command line.
	Channels []string `json:"channels"`

	// StateDir holds the response cache, seen store and quota state.
	StateDir string `json:"state_dir"`
	// CacheBackend is "file", "redis" or "none".
	CacheBackend string `json:"cache_backend"`
	// RedisURL is used when CacheBackend is "redis".
	RedisURL string `json:"redis_url"`

	// DailyQuota is the Data API budget in units.
	DailyQuota int `json:"daily_quota"`
	// Concurrency bounds parallel channel fetches.
	Concurrency int `json:"concurrency"`
	// BatchSize is the number of rows per sheet append.
	BatchSize int `json:"batch_size"`
	// MaxResultsPerChannel caps uploads fetched per channel.
	MaxResultsPerChannel int `json:"max_results_per_channel"`
	// RowCapacity is the number of rows covered by the table and formatting.
	RowCapacity int64 `json:"row_capacity"`

	// Filters applied to every run.
	MinDurationSeconds int64    `json:"min_duration_seconds"`
	ExcludeShorts      bool     `json:"exclude_shorts"`
	Keywords           []string `json:"keywords"`
	KeywordMode        string   `json:"keyword_mode"`
	MinViews           int64    `json:"min_views"`
	MinLikes           int64    `json:"min_likes"`

	// RequestTimeout bounds each API attempt.
	RequestTimeout time.Duration `json:"request_timeout"`
	// MaxRetries is the maximum number of retries for failed operations
	MaxRetries int `json:"max_retries"`
	// InitialBackoff is the initial backoff duration for retries
	InitialBackoff time.Duration `json:"initial_backoff"`
	// MaxBackoff is the maximum backoff duration for retries
	MaxBackoff time.Duration `json:"max_backoff"`
	// BackoffMultiplier is the multiplier for exponential backoff (must be > 1)
	BackoffMultiplier float64 `json:"backoff_multiplier"`

	// DataAPIRPS and SheetsRPS are per-host request rates.
	DataAPIRPS float64 `json:"data_api_rps"`
	SheetsRPS  float64 `json:"sheets_rps"`

	LogLevel    string `json:"log_level"`
	LogConsole  bool   `json:"log_console"`
	MetricsAddr string `json:"metrics_addr"`
}

// DefaultConfig returns configuration with safe defaults.
func DefaultConfig() *Config {
	return &Config{
		Tab:                  "Videos",
		StateDir:             defaultStateDir(),
		CacheBackend:         CacheFile,
		DailyQuota:           quota.DefaultDailyBudget,
		Concurrency:          10,
		BatchSize:            500,
		MaxResultsPerChannel: 50,
		RowCapacity:          50000,
		RequestTimeout:       30 * time.Second,
		MaxRetries:           3,
		InitialBackoff:       1 * time.Second,
		MaxBackoff:           30 * time.Second,
		BackoffMultiplier:    2.0,
		DataAPIRPS:           10,
		SheetsRPS:            1,
		LogLevel:             "info",
		MetricsAddr:          ":9090",
	}
}

func defaultStateDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "ytsheets")
	}
	return ".ytsheets"
}

// Load loads configuration from environment variables, config file, and applies defaults.
// Priority: env vars > config file > defaults
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.loadFromFile(searchPaths()); err != nil {
		// Config file is optional
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// searchPaths lists config files in priority order. YTSHEETS_CONFIG, when
// set, is the only candidate.
func searchPaths() []string {
	if p := os.Getenv("YTSHEETS_CONFIG"); p != "" {
		return []string{p}
	}
	paths := []string{"ytsheets.json"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "ytsheets", "ytsheets.json"))
	}
	return paths
}

// loadFromFile loads the first existing file in paths.
func (c *Config) loadFromFile(paths []string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}

		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		return nil
	}

	return os.ErrNotExist
}

// loadFromEnv overrides config with YTSHEETS_* environment variables. A
// malformed value is an error rather than silently ignored.
func (c *Config) loadFromEnv() error {
	var errs []error
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	int64v := func(key string, dst *int64) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}
	list := func(key string, dst *[]string) {
		if v := os.Getenv(key); v != "" {
			var out []string
			for _, s := range strings.Split(v, ",") {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			}
			*dst = out
		}
	}

	str("YTSHEETS_API_KEY", &c.APIKey)
	str("YTSHEETS_CREDENTIALS_FILE", &c.CredentialsFile)
	str("YTSHEETS_SPREADSHEET_ID", &c.SpreadsheetID)
	str("YTSHEETS_TAB", &c.Tab)
	list("YTSHEETS_CHANNELS", &c.Channels)
	str("YTSHEETS_STATE_DIR", &c.StateDir)
	str("YTSHEETS_CACHE_BACKEND", &c.CacheBackend)
	str("YTSHEETS_REDIS_URL", &c.RedisURL)
	integer("YTSHEETS_DAILY_QUOTA", &c.DailyQuota)
	integer("YTSHEETS_CONCURRENCY", &c.Concurrency)
	integer("YTSHEETS_BATCH_SIZE", &c.BatchSize)
	integer("YTSHEETS_MAX_RESULTS", &c.MaxResultsPerChannel)
	int64v("YTSHEETS_ROW_CAPACITY", &c.RowCapacity)
	int64v("YTSHEETS_MIN_DURATION", &c.MinDurationSeconds)
	boolean("YTSHEETS_EXCLUDE_SHORTS", &c.ExcludeShorts)
	list("YTSHEETS_KEYWORDS", &c.Keywords)
	str("YTSHEETS_KEYWORD_MODE", &c.KeywordMode)
	int64v("YTSHEETS_MIN_VIEWS", &c.MinViews)
	int64v("YTSHEETS_MIN_LIKES", &c.MinLikes)
	duration("YTSHEETS_REQUEST_TIMEOUT", &c.RequestTimeout)
	integer("YTSHEETS_MAX_RETRIES", &c.MaxRetries)
	duration("YTSHEETS_INITIAL_BACKOFF", &c.InitialBackoff)
	duration("YTSHEETS_MAX_BACKOFF", &c.MaxBackoff)
	float("YTSHEETS_DATA_API_RPS", &c.DataAPIRPS)
	float("YTSHEETS_SHEETS_RPS", &c.SheetsRPS)
	str("YTSHEETS_LOG_LEVEL", &c.LogLevel)
	boolean("YTSHEETS_LOG_CONSOLE", &c.LogConsole)
	str("YTSHEETS_METRICS_ADDR", &c.MetricsAddr)

	return errors.Join(errs...)
}

// Validate checks that configuration values are valid and consistent.
// It returns an error if any configuration value is invalid.
func (c *Config) Validate() error {
	if c.DailyQuota <= 0 {
		return fmt.Errorf("daily_quota must be positive")
	}
	if c.Concurrency < 1 || c.Concurrency > 50 {
		return fmt.Errorf("concurrency must be between 1 and 50")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	if c.MaxResultsPerChannel < 0 {
		return fmt.Errorf("max_results_per_channel must be non-negative")
	}
	if c.RowCapacity <= 0 {
		return fmt.Errorf("row_capacity must be positive")
	}
	switch c.CacheBackend {
	case CacheFile, CacheNone:
	case CacheRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("redis_url is required for the redis cache backend")
		}
	default:
		return fmt.Errorf("cache_backend must be %q, %q or %q", CacheFile, CacheRedis, CacheNone)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}
	if c.InitialBackoff <= 0 {
		return fmt.Errorf("initial_backoff must be positive")
	}
	if c.MaxBackoff <= 0 {
		return fmt.Errorf("max_backoff must be positive")
	}
	if c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("max_backoff must be >= initial_backoff")
	}
	if c.BackoffMultiplier <= 1 {
		return fmt.Errorf("backoff_multiplier must be > 1")
	}
	if c.DataAPIRPS < 0 || c.SheetsRPS < 0 {
		return fmt.Errorf("request rates must be non-negative")
	}
	if err := c.Filters().Validate(); err != nil {
		return err
	}
	return nil
}

// Filters returns the configured filter set.
func (c *Config) Filters() filter.Filters {
	return filter.Filters{
		MinDurationSeconds: c.MinDurationSeconds,
		ExcludeShorts:      c.ExcludeShorts,
		Keywords:           c.Keywords,
		KeywordMode:        filter.KeywordMode(strings.ToLower(c.KeywordMode)),
		MinViews:           c.MinViews,
		MinLikes:           c.MinLikes,
	}
}

// Retry returns the retry settings for API calls.
func (c *Config) Retry() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.MaxRetries = c.MaxRetries
	cfg.InitialBackoff = c.InitialBackoff
	cfg.MaxBackoff = c.MaxBackoff
	cfg.Multiplier = c.BackoffMultiplier
	cfg.AttemptTimeout = c.RequestTimeout
	return cfg
}

// CachePath is the response cache file under StateDir.
func (c *Config) CachePath() string { return filepath.Join(c.StateDir, "cache.json") }

// SeenPath is the dedup database under StateDir.
func (c *Config) SeenPath() string { return filepath.Join(c.StateDir, "seen.db") }

// QuotaPath is the persisted quota state under StateDir.
func (c *Config) QuotaPath() string { return filepath.Join(c.StateDir, "quota.json") }
