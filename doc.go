// Package ytsheets syncs the uploads of YouTube channels into a Google
// Sheets tab.
//
// # Overview
//
// A run resolves each channel reference, fetches the channel's most recent
// uploads through the YouTube Data API v3, applies the configured filters,
// drops videos already written to the destination tab, and appends the rest
// as rows of a typed table with a fixed set of column-wide conditional
// formats.
//
// The work is split across packages:
//
//   - youtube: channel resolution, upload listing and statistics hydration
//   - cache: ETag-revalidated response cache over a file or Redis backend
//   - quota: daily Data API quota accounting with persisted history
//   - dedup: persistent seen-set scoped by video, channel and tab
//   - filter: duration, Shorts, keyword, view, like and date predicates
//   - sheet: tab, table, formatting and row writes through Sheets v4
//   - pipeline: the orchestrator that ties them together into a RunResult
//   - http: rate-limited, circuit-breaking transport beneath both APIs
//   - metrics: Prometheus collectors and the /metrics and /healthz router
//
// # Quick Start
//
// Wire the dependencies once and reuse them across runs:
//
//	ctx := context.Background()
//	tracker := quota.New(quota.DefaultDailyBudget)
//	responses := cache.New(ctx, nil)
//	seen := dedup.New(ctx, nil)
//
//	api, err := youtube.NewDataAPI(ctx, ytHTTPClient)
//	if err != nil {
//		log.Fatal(err)
//	}
//	svc, err := sheet.NewGoogleService(ctx, sheetsHTTPClient)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	client := youtube.NewClient(api, youtube.WithCache(responses), youtube.WithQuota(tracker))
//	orch := pipeline.New(client, svc, seen, pipeline.WithQuota(tracker))
//
//	res := orch.Run(ctx, pipeline.RunConfig{
//		Channels:    []string{"@GoogleDevelopers"},
//		Filters:     filter.Filters{MinDurationSeconds: 60},
//		Destination: pipeline.Destination{SpreadsheetID: id, Tab: "Videos"},
//	})
//	fmt.Println(res.Status, res.VideosWritten)
//
// Run never panics or returns an error; failures are reported in the
// RunResult. A run is completed when every write was accepted, even if some
// channels failed; it is failed when the configuration is invalid, the
// destination cannot be prepared, a write is rejected, or every channel
// failed.
//
// # Error Handling
//
// See errors.go for the sentinel errors and error types re-exported here.
package ytsheets
