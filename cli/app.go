package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
	yt "google.golang.org/api/youtube/v3"

	"ytsheets/cache"
	"ytsheets/config"
	"ytsheets/dedup"
	ythttp "ytsheets/http"
	"ytsheets/internal/logging"
	"ytsheets/metrics"
	"ytsheets/pipeline"
	"ytsheets/quota"
	"ytsheets/sheet"
	"ytsheets/youtube"
)

// app holds the long-lived dependencies shared by every run in a process.
type app struct {
	cfg       *config.Config
	log       zerolog.Logger
	metrics   *metrics.Metrics
	transport *ythttp.Transport
	tracker   *quota.Tracker
	cache     *cache.ResponseCache
	seen      *dedup.Deduplicator
	orch      *pipeline.Orchestrator
}

// newApp wires configuration into the pipeline: one rate-limited transport
// beneath both Google clients, and the shared cache, seen store and quota
// tracker.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if cfg.CredentialsFile == "" {
		return nil, errors.New("credentials_file is required to write to Google Sheets")
	}
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	a := &app{cfg: cfg, log: logging.Logger, metrics: metrics.New()}

	tcfg := ythttp.DefaultConfig()
	tcfg.Timeout = cfg.RequestTimeout
	tcfg.RateLimiter.DataAPIRPS = cfg.DataAPIRPS
	tcfg.RateLimiter.SheetsRPS = cfg.SheetsRPS
	a.transport = ythttp.NewTransport(tcfg).WithLogger(a.log)

	a.tracker = quota.New(cfg.DailyQuota,
		quota.WithPersistence(cfg.QuotaPath()),
		quota.WithObserver(a.metrics.QuotaObserver()),
	)
	a.metrics.TrackQuota(a.tracker)

	backend, err := openCacheBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	onHit, onMiss := a.metrics.CacheHooks()
	a.cache = cache.New(ctx, backend, cache.WithHooks(onHit, onMiss))

	seenDB, err := dedup.OpenSQLite(cfg.SeenPath())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open seen store: %w", err)
	}
	if rerr := seenDB.Recovered(); rerr != nil {
		a.log.Warn().Err(rerr).Msg("seen store was corrupt and has been reset")
	}
	a.seen = dedup.New(ctx, seenDB, dedup.WithPreventedHook(a.metrics.PreventedHook()))

	ytOpts := []option.ClientOption{option.WithScopes(yt.YoutubeReadonlyScope)}
	if cfg.APIKey != "" {
		ytOpts = []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	} else {
		ytOpts = append(ytOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	ytHTTP, err := a.transport.AuthenticatedClient(ctx, ytOpts...)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("youtube credentials: %w", err)
	}
	dataAPI, err := youtube.NewDataAPI(ctx, ytHTTP)
	if err != nil {
		a.Close()
		return nil, err
	}

	sheetsHTTP, err := a.transport.AuthenticatedClient(ctx,
		option.WithCredentialsFile(cfg.CredentialsFile),
		option.WithScopes(sheets.SpreadsheetsScope),
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("sheets credentials: %w", err)
	}
	sheetsSvc, err := sheet.NewGoogleService(ctx, sheetsHTTP)
	if err != nil {
		a.Close()
		return nil, err
	}

	client := youtube.NewClient(dataAPI,
		youtube.WithCache(a.cache),
		youtube.WithQuota(a.tracker),
		youtube.WithRetry(cfg.Retry()),
	)
	a.orch = pipeline.New(client, sheetsSvc, a.seen,
		pipeline.WithQuota(a.tracker),
		pipeline.WithRunObserver(a.metrics.ObserveRun),
		pipeline.WithWriterOptions(
			sheet.WithRowCapacity(cfg.RowCapacity),
			sheet.WithRetry(cfg.Retry()),
		),
	)
	return a, nil
}

func openCacheBackend(ctx context.Context, cfg *config.Config) (cache.Backend, error) {
	switch cfg.CacheBackend {
	case config.CacheRedis:
		b, err := cache.OpenRedis(ctx, cfg.RedisURL, cache.DefaultRedisPrefix)
		if err != nil {
			return nil, fmt.Errorf("open redis cache: %w", err)
		}
		return b, nil
	case config.CacheNone:
		return nil, nil
	default:
		b, err := cache.OpenFile(cfg.CachePath())
		if err != nil {
			return nil, fmt.Errorf("open cache file: %w", err)
		}
		if rerr := b.Recovered(); rerr != nil {
			logging.Logger.Warn().Err(rerr).Msg("response cache was corrupt and has been reset")
		}
		return b, nil
	}
}

// runConfig builds a RunConfig from configuration, overridden by channels
// given on the command line.
func (a *app) runConfig(channels []string) pipeline.RunConfig {
	if len(channels) == 0 {
		channels = a.cfg.Channels
	}
	return pipeline.RunConfig{
		Channels: channels,
		Filters:  a.cfg.Filters(),
		Destination: pipeline.Destination{
			SpreadsheetID: a.cfg.SpreadsheetID,
			Tab:           a.cfg.Tab,
		},
		MaxResultsPerChannel: a.cfg.MaxResultsPerChannel,
		Concurrency:          a.cfg.Concurrency,
		BatchSize:            a.cfg.BatchSize,
	}
}

// Close releases the stores and idle connections.
func (a *app) Close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.Warn().Err(err).Msg("close cache")
		}
	}
	if a.seen != nil {
		if err := a.seen.Close(); err != nil {
			a.log.Warn().Err(err).Msg("close seen store")
		}
	}
	if a.transport != nil {
		a.transport.CloseIdleConnections()
	}
}
