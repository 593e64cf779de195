package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"

	"ytsheets/dedup"
	"ytsheets/filter"
	"ytsheets/internal/retry"
	"ytsheets/quota"
	"ytsheets/sheet"
	"ytsheets/sheet/sheettest"
	"ytsheets/youtube"
	"ytsheets/youtube/youtubetest"
)

const testTab = "Uploads"

type testEnv struct {
	yt      *youtubetest.Fake
	sheets  *sheettest.Fake
	seen    *dedup.Deduplicator
	tracker *quota.Tracker
	orch    *Orchestrator
}

func fastRetry() retry.Config {
	return retry.Config{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, Multiplier: 2}
}

func newTestEnv(t *testing.T, chs ...youtubetest.Channel) *testEnv {
	t.Helper()
	e := &testEnv{
		yt:      youtubetest.New(chs...),
		sheets:  sheettest.New(),
		seen:    dedup.New(context.Background(), nil, dedup.WithLogger(zerolog.Nop())),
		tracker: quota.New(quota.DefaultDailyBudget, quota.WithLogger(zerolog.Nop())),
	}
	e.orch = e.newOrchestrator(e.seen)
	return e
}

func (e *testEnv) newOrchestrator(seen *dedup.Deduplicator, opts ...Option) *Orchestrator {
	client := youtube.NewClient(e.yt,
		youtube.WithQuota(e.tracker),
		youtube.WithRetry(fastRetry()),
		youtube.WithLogger(zerolog.Nop()),
	)
	base := []Option{
		WithQuota(e.tracker),
		WithLogger(zerolog.Nop()),
		WithWriterOptions(
			sheet.WithRowCapacity(1000),
			sheet.WithRetry(fastRetry()),
			sheet.WithLogger(zerolog.Nop()),
		),
	}
	return New(client, e.sheets, seen, append(base, opts...)...)
}

// testChannel builds a channel whose videos have the given durations.
func testChannel(name string, durations ...int64) youtubetest.Channel {
	ch := youtubetest.Channel{
		ID:     youtubetest.ChannelID(name),
		Handle: name,
		Title:  "Channel " + name,
	}
	for i, d := range durations {
		ch.Videos = append(ch.Videos, youtubetest.Video{
			ID:       fmt.Sprintf("%s-v%02d", name, i),
			Title:    fmt.Sprintf("Video %d of %s", i, name),
			Duration: fmt.Sprintf("PT%dS", d),
			Views:    int64(1000 * (i + 1)),
			Likes:    youtubetest.Int64(int64(10 * i)),
			Comments: int64(i),
		})
	}
	return ch
}

func repeat(n int, d int64) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = d
	}
	return out
}

func runConfig(channels ...string) RunConfig {
	return RunConfig{
		Channels:    channels,
		Destination: Destination{SpreadsheetID: "sheet-1", Tab: testTab},
	}
}

// dataRows returns the sheet rows below the header.
func dataRows(t *testing.T, f *sheettest.Fake) [][]any {
	t.Helper()
	rows := f.Rows(testTab)
	if len(rows) == 0 {
		return nil
	}
	if rows[0][sheet.ColVideoID] != "Video ID" {
		t.Fatalf("first row is not the header: %v", rows[0])
	}
	return rows[1:]
}

func TestRunResolvesHandleAndFiltersShortVideos(t *testing.T) {
	env := newTestEnv(t, testChannel("ExampleChannel", 30, 65, 200, 45, 3700))
	cfg := runConfig("@ExampleChannel")
	cfg.Filters = filter.Filters{MinDurationSeconds: 60}

	res := env.orch.Run(context.Background(), cfg)
	if res.Status != StatusCompleted {
		t.Fatalf("status = %s, errors = %v", res.Status, res.Errors)
	}
	if res.Strategy != StrategySequential {
		t.Errorf("strategy = %s, want sequential for one channel", res.Strategy)
	}
	if res.VideosProcessed != 5 || res.VideosWritten != 3 {
		t.Errorf("processed = %d written = %d, want 5 and 3", res.VideosProcessed, res.VideosWritten)
	}

	rows := dataRows(t, env.sheets)
	want := []string{"0:01:05", "0:03:20", "1:01:40"}
	if len(rows) != len(want) {
		t.Fatalf("rows = %d, want %d", len(rows), len(want))
	}
	for i, w := range want {
		if got := rows[i][sheet.ColDuration]; got != w {
			t.Errorf("row %d duration = %v, want %s", i, got, w)
		}
	}
	if env.yt.Calls("channels.forHandle") != 1 {
		t.Errorf("forHandle calls = %d, want 1", env.yt.Calls("channels.forHandle"))
	}
	if env.yt.Calls("search") != 0 {
		t.Errorf("search used although forHandle resolved")
	}
}

func TestRunTwiceWritesNothingNew(t *testing.T) {
	ch := testChannel("alpha", repeat(10, 300)...)
	env := newTestEnv(t, ch)
	cfg := runConfig(ch.ID)

	first := env.orch.Run(context.Background(), cfg)
	if first.Status != StatusCompleted || first.VideosWritten != 10 {
		t.Fatalf("run 1: status = %s written = %d errors = %v", first.Status, first.VideosWritten, first.Errors)
	}
	second := env.orch.Run(context.Background(), cfg)
	if second.Status != StatusCompleted {
		t.Fatalf("run 2 status = %s", second.Status)
	}
	if second.VideosWritten != 0 {
		t.Errorf("run 2 written = %d, want 0", second.VideosWritten)
	}
	if second.DuplicatesPrevented != 10 {
		t.Errorf("run 2 duplicates = %d, want 10", second.DuplicatesPrevented)
	}
	if rows := dataRows(t, env.sheets); len(rows) != 10 {
		t.Errorf("sheet rows = %d, want 10", len(rows))
	}
	if first.RunID == second.RunID {
		t.Error("run ids repeat")
	}
}

func TestRunSeedsFromDestination(t *testing.T) {
	ch := testChannel("alpha", repeat(10, 300)...)
	env := newTestEnv(t, ch)
	cfg := runConfig(ch.ID)

	if res := env.orch.Run(context.Background(), cfg); res.VideosWritten != 10 {
		t.Fatalf("run 1 written = %d", res.VideosWritten)
	}

	// A new, empty seen store must learn the existing rows from the sheet.
	fresh := dedup.New(context.Background(), nil, dedup.WithLogger(zerolog.Nop()))
	res := env.newOrchestrator(fresh).Run(context.Background(), cfg)
	if res.VideosWritten != 0 || res.DuplicatesPrevented != 10 {
		t.Errorf("written = %d duplicates = %d, want 0 and 10", res.VideosWritten, res.DuplicatesPrevented)
	}
	if !fresh.IsSeen("alpha-v00", ch.ID, testTab) {
		t.Error("existing row not recorded in seen store")
	}
}

func TestPartialFailureIsolation(t *testing.T) {
	for _, sequential := range []bool{true, false} {
		t.Run(fmt.Sprintf("sequential=%v", sequential), func(t *testing.T) {
			one := testChannel("one", 100, 200)
			three := testChannel("three", 100, 200, 300)
			env := newTestEnv(t, one, three)
			cfg := runConfig(one.ID, "@missing", three.ID)
			cfg.Sequential = sequential

			res := env.orch.Run(context.Background(), cfg)
			if res.Status != StatusCompleted {
				t.Fatalf("status = %s, want completed", res.Status)
			}
			if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "@missing") {
				t.Fatalf("errors = %v, want one entry for @missing", res.Errors)
			}
			if res.VideosWritten != 5 {
				t.Errorf("written = %d, want 5", res.VideosWritten)
			}
			var rerr *youtube.ResolutionError
			if !errors.As(res.Channels[1].Err(), &rerr) {
				t.Errorf("channel 2 err = %v, want ResolutionError", res.Channels[1].Err())
			}
			if !errors.Is(res.Channels[1].Err(), youtube.ErrChannelNotFound) {
				t.Errorf("channel 2 err should match ErrChannelNotFound")
			}
			if res.Channels[0].Written != 2 || res.Channels[2].Written != 3 {
				t.Errorf("per-channel written = %d, %d", res.Channels[0].Written, res.Channels[2].Written)
			}
		})
	}
}

func TestConcurrentResultsInInputOrder(t *testing.T) {
	names := []string{"c0", "c1", "c2", "c3", "c4"}
	var chs []youtubetest.Channel
	var refs []string
	for _, n := range names {
		ch := testChannel(n, 100, 200)
		chs = append(chs, ch)
		refs = append(refs, ch.ID)
	}
	env := newTestEnv(t, chs...)
	notFound := &googleapi.Error{Code: http.StatusNotFound, Message: "channelNotFound"}
	env.yt.Fail(chs[1].ID, notFound)
	env.yt.Fail(chs[3].ID, notFound)

	// Finish later channels first.
	env.yt.OnCall = func(endpoint string) {
		if endpoint == "channels.id" {
			time.Sleep(time.Millisecond)
		}
	}

	cfg := runConfig(refs...)
	cfg.Concurrency = 5
	res := env.orch.Run(context.Background(), cfg)

	if res.Strategy != StrategyConcurrent || res.Fallback {
		t.Errorf("strategy = %s fallback = %v", res.Strategy, res.Fallback)
	}
	if res.Status != StatusCompleted {
		t.Fatalf("status = %s errors = %v", res.Status, res.Errors)
	}
	if len(res.Errors) != 2 ||
		!strings.HasPrefix(res.Errors[0], chs[1].ID) ||
		!strings.HasPrefix(res.Errors[1], chs[3].ID) {
		t.Errorf("errors = %v, want channel 1 then channel 3", res.Errors)
	}

	rows := dataRows(t, env.sheets)
	var got []string
	for _, r := range rows {
		got = append(got, r[sheet.ColVideoID].(string))
	}
	want := []string{"c0-v00", "c0-v01", "c2-v00", "c2-v01", "c4-v00", "c4-v01"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("row order = %v, want %v", got, want)
	}
}

func TestInvalidFiltersFailBeforeNetwork(t *testing.T) {
	env := newTestEnv(t, testChannel("alpha", 100))
	cfg := runConfig(youtubetest.ChannelID("alpha"))
	cfg.Filters = filter.Filters{Keywords: []string{"tutorial"}}

	res := env.orch.Run(context.Background(), cfg)
	if res.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}
	if !errors.Is(res.Err(), filter.ErrFilterConfig) || !errors.Is(res.Err(), ErrInvalidConfig) {
		t.Errorf("err = %v, want filter config error", res.Err())
	}
	if n := env.yt.TotalCalls(); n != 0 {
		t.Errorf("youtube calls = %d, want 0", n)
	}
	if env.sheets.BatchUpdates != 0 || env.sheets.Appends != 0 {
		t.Errorf("sheet touched before validation")
	}
}

func TestInvalidConfig(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name string
		cfg  RunConfig
	}{
		{"no channels", runConfig()},
		{"blank channels", runConfig("  ", "")},
		{"no tab", RunConfig{Channels: []string{"@x"}, Destination: Destination{SpreadsheetID: "s"}}},
		{"no spreadsheet", RunConfig{Channels: []string{"@x"}, Destination: Destination{Tab: "t"}}},
		{"negative max", RunConfig{Channels: []string{"@x"}, Destination: Destination{SpreadsheetID: "s", Tab: "t"}, MaxResultsPerChannel: -1}},
		{"too concurrent", RunConfig{Channels: []string{"@x"}, Destination: Destination{SpreadsheetID: "s", Tab: "t"}, Concurrency: 500}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := env.orch.Run(context.Background(), tt.cfg)
			if res.Status != StatusFailed || !errors.Is(res.Err(), ErrInvalidConfig) {
				t.Errorf("status = %s err = %v", res.Status, res.Err())
			}
			if len(res.Errors) != 1 {
				t.Errorf("errors = %v", res.Errors)
			}
		})
	}
}

func TestCellLimitFailsRun(t *testing.T) {
	ch := testChannel("alpha", repeat(10, 300)...)
	env := newTestEnv(t, ch)
	env.sheets.MaxDataRows = 5

	res := env.orch.Run(context.Background(), runConfig(ch.ID))
	if res.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}
	if !errors.Is(res.Err(), sheet.ErrCellLimit) {
		t.Errorf("err = %v, want ErrCellLimit", res.Err())
	}
	if res.VideosWritten != 0 {
		t.Errorf("written = %d, want 0", res.VideosWritten)
	}
	if env.seen.IsSeen("alpha-v00", ch.ID, testTab) {
		t.Error("rejected rows recorded as seen")
	}

	env.sheets.MaxDataRows = 0
	res = env.orch.Run(context.Background(), runConfig(ch.ID))
	if res.Status != StatusCompleted || res.VideosWritten != 10 {
		t.Errorf("retry run: status = %s written = %d", res.Status, res.VideosWritten)
	}
}

func TestDestinationUnavailable(t *testing.T) {
	env := newTestEnv(t, testChannel("alpha", 100))
	env.sheets.GetErr = &googleapi.Error{Code: http.StatusForbidden, Message: "permission denied"}

	res := env.orch.Run(context.Background(), runConfig(youtubetest.ChannelID("alpha")))
	if res.Status != StatusFailed {
		t.Fatalf("status = %s", res.Status)
	}
	if !errors.Is(res.Err(), ErrDestinationUnavailable) || !errors.Is(res.Err(), sheet.ErrWriteRejected) {
		t.Errorf("err = %v", res.Err())
	}
	if env.yt.TotalCalls() != 0 {
		t.Errorf("channels fetched despite unusable destination")
	}
}

func TestAllChannelsFailing(t *testing.T) {
	env := newTestEnv(t)
	res := env.orch.Run(context.Background(), runConfig("@nobody", "@none"))
	if res.Status != StatusFailed {
		t.Errorf("status = %s, want failed", res.Status)
	}
	if len(res.Errors) != 2 {
		t.Errorf("errors = %v", res.Errors)
	}
}

func TestCancellationStopsNewChannels(t *testing.T) {
	chs := []youtubetest.Channel{testChannel("a1", 100), testChannel("a2", 100), testChannel("a3", 100)}
	env := newTestEnv(t, chs...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var lookups atomic.Int32
	env.yt.OnCall = func(endpoint string) {
		if endpoint == "channels.id" && lookups.Add(1) == 2 {
			cancel()
		}
	}

	cfg := runConfig(chs[0].ID, chs[1].ID, chs[2].ID)
	cfg.Sequential = true
	res := env.orch.Run(ctx, cfg)

	if res.Status != StatusCancelled {
		t.Fatalf("status = %s, want cancelled", res.Status)
	}
	if !errors.Is(res.Err(), context.Canceled) {
		t.Errorf("err = %v", res.Err())
	}
	if n := lookups.Load(); n != 2 {
		t.Errorf("channel lookups = %d, want 2", n)
	}
	if res.VideosWritten != 0 {
		t.Errorf("written = %d after cancel", res.VideosWritten)
	}
}

func TestConcurrentPanicFallsBackToSequential(t *testing.T) {
	chs := []youtubetest.Channel{testChannel("p1", 100, 200), testChannel("p2", 100), testChannel("p3", 300)}
	env := newTestEnv(t, chs...)
	var once sync.Once
	env.yt.OnCall = func(endpoint string) {
		if endpoint == "videos" {
			once.Do(func() { panic("boom") })
		}
	}

	res := env.orch.Run(context.Background(), runConfig(chs[0].ID, chs[1].ID, chs[2].ID))
	if !res.Fallback || res.Strategy != StrategySequential {
		t.Fatalf("strategy = %s fallback = %v", res.Strategy, res.Fallback)
	}
	if res.Status != StatusCompleted || res.VideosWritten != 4 {
		t.Errorf("status = %s written = %d errors = %v", res.Status, res.VideosWritten, res.Errors)
	}
	if rows := dataRows(t, env.sheets); len(rows) != 4 {
		t.Errorf("sheet rows = %d, want 4", len(rows))
	}
}

func TestQuotaUsedIsPerRun(t *testing.T) {
	ch := testChannel("alpha", 100, 200, 300)
	env := newTestEnv(t, ch)

	res := env.orch.Run(context.Background(), runConfig(ch.ID))
	// channels.list + playlistItems.list + videos.list
	if res.APIQuotaUsed != 3 {
		t.Errorf("quota used = %d, want 3", res.APIQuotaUsed)
	}
	res = env.orch.Run(context.Background(), runConfig("@alpha"))
	// forHandle lookup on top of the same three calls
	if res.APIQuotaUsed != 4 {
		t.Errorf("second run quota used = %d, want 4", res.APIQuotaUsed)
	}
}

func TestBatching(t *testing.T) {
	chs := []youtubetest.Channel{testChannel("b1", 1, 2, 3), testChannel("b2", 1, 2, 3), testChannel("b3", 1, 2, 3)}
	refs := []string{chs[0].ID, chs[1].ID, chs[2].ID}

	t.Run("sequential", func(t *testing.T) {
		env := newTestEnv(t, chs...)
		cfg := runConfig(refs...)
		cfg.Sequential = true
		cfg.BatchSize = 2
		res := env.orch.Run(context.Background(), cfg)
		if res.VideosWritten != 9 {
			t.Fatalf("written = %d", res.VideosWritten)
		}
		if env.sheets.Appends != 3 {
			t.Errorf("appends = %d, want 3", env.sheets.Appends)
		}
	})
	t.Run("concurrent", func(t *testing.T) {
		env := newTestEnv(t, chs...)
		cfg := runConfig(refs...)
		cfg.BatchSize = 4
		res := env.orch.Run(context.Background(), cfg)
		if res.VideosWritten != 9 {
			t.Fatalf("written = %d", res.VideosWritten)
		}
		if env.sheets.Appends != 3 {
			t.Errorf("appends = %d, want 3", env.sheets.Appends)
		}
	})
}

func TestDuplicateReferenceWrittenOnce(t *testing.T) {
	ch := testChannel("dup", 100, 200)
	env := newTestEnv(t, ch)
	// Same channel by ID and by handle.
	res := env.orch.Run(context.Background(), runConfig(ch.ID, "@dup"))
	if res.VideosWritten != 2 {
		t.Errorf("written = %d, want 2", res.VideosWritten)
	}
	if res.DuplicatesPrevented != 2 {
		t.Errorf("duplicates = %d, want 2", res.DuplicatesPrevented)
	}
}

func TestRunObserverAndTiming(t *testing.T) {
	ch := testChannel("alpha", 100)
	env := newTestEnv(t, ch)
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	ticks := 0
	clock := func() time.Time {
		ticks++
		return start.Add(time.Duration(ticks) * time.Second)
	}
	var seen []*RunResult
	orch := env.newOrchestrator(env.seen, WithClock(clock), WithRunObserver(func(r *RunResult) { seen = append(seen, r) }))

	res := orch.Run(context.Background(), runConfig(ch.ID))
	if len(seen) != 1 || seen[0] != res {
		t.Fatalf("observer calls = %d", len(seen))
	}
	if !res.Status.Terminal() {
		t.Errorf("status %s not terminal", res.Status)
	}
	if res.DurationSeconds != 1 {
		t.Errorf("duration = %v, want 1", res.DurationSeconds)
	}
}

func TestFormattingAppliedOnce(t *testing.T) {
	ch := testChannel("alpha", 100, 200)
	env := newTestEnv(t, ch)
	env.orch.Run(context.Background(), runConfig(ch.ID))
	env.orch.Run(context.Background(), runConfig(ch.ID))

	s := env.sheets.Sheet(testTab)
	if got, want := len(s.ConditionalFormats), len(sheet.DefaultRules()); got != want {
		t.Errorf("rules = %d, want %d", got, want)
	}
	if len(s.Tables) != 1 || s.Tables[0].Name != testTab {
		t.Errorf("tables = %v", s.Tables)
	}
}
