package sheet

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/sheets/v4"

	"ytsheets/internal/retry"
	"ytsheets/sheet/sheettest"
	"ytsheets/youtube"
)

var fixedNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func newTestWriter(svc Service, opts ...Option) *Writer {
	base := []Option{
		WithRowCapacity(20000),
		WithRetry(retry.Config{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, Multiplier: 2}),
		WithClock(func() time.Time { return fixedNow }),
		WithLogger(zerolog.Nop()),
	}
	return NewWriter(svc, "sheet-1", append(base, opts...)...)
}

func videos(n int, prefix string) []youtube.Video {
	out := make([]youtube.Video, n)
	for i := range out {
		likes := int64(i * 10)
		id := fmt.Sprintf("%s%03d", prefix, i)
		out[i] = youtube.Video{
			ID:              id,
			ChannelTitle:    "Test Channel",
			Title:           "Video " + id,
			PublishedAt:     time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
			DurationSeconds: 65,
			ViewCount:       1234,
			LikeCount:       &likes,
			URL:             youtube.WatchURL(id),
		}
	}
	return out
}

func countHeaders(rows [][]any) int {
	n := 0
	for _, r := range rows {
		if len(r) > 0 && r[0] == Columns[ColVideoID].Name {
			n++
		}
	}
	return n
}

func TestWriteVideosHeaderOnce(t *testing.T) {
	ctx := context.Background()
	fake := sheettest.New()
	w := newTestWriter(fake)

	n, err := w.WriteVideos(ctx, "Uploads", videos(3, "a"))
	if err != nil {
		t.Fatalf("first write: %v", err)
	}
	if n != 3 {
		t.Errorf("first write count = %d, want 3", n)
	}
	if _, err := w.WriteVideos(ctx, "Uploads", videos(2, "b")); err != nil {
		t.Fatalf("second write: %v", err)
	}

	// A fresh writer has no cached header state and must read it back.
	w2 := newTestWriter(fake)
	if _, err := w2.WriteVideos(ctx, "Uploads", videos(4, "c")); err != nil {
		t.Fatalf("third write: %v", err)
	}

	rows := fake.Rows("Uploads")
	if got := countHeaders(rows); got != 1 {
		t.Fatalf("header rows = %d, want 1", got)
	}
	if rows[0][ColVideoID] != "Video ID" {
		t.Errorf("first row = %v, want header", rows[0])
	}
	if len(rows) != 1+3+2+4 {
		t.Errorf("rows = %d, want 10", len(rows))
	}
}

func TestWriteRowsEmptyIsNoop(t *testing.T) {
	fake := sheettest.New()
	w := newTestWriter(fake)
	n, err := w.WriteRows(context.Background(), "Uploads", nil)
	if err != nil || n != 0 {
		t.Fatalf("WriteRows(nil) = %d, %v", n, err)
	}
	if fake.Appends != 0 || fake.BatchUpdates != 0 {
		t.Errorf("empty write made calls: appends=%d batch=%d", fake.Appends, fake.BatchUpdates)
	}
}

func TestFormattingRuleCountIndependentOfRows(t *testing.T) {
	ctx := context.Background()
	want := len(DefaultRules())

	for _, rows := range []int{10, 10000} {
		t.Run(fmt.Sprintf("rows=%d", rows), func(t *testing.T) {
			fake := sheettest.New()
			w := newTestWriter(fake)
			tab := "Tab"
			if _, err := w.WriteVideos(ctx, tab, videos(rows, "v")); err != nil {
				t.Fatalf("write: %v", err)
			}
			added, err := w.EnsureFormatting(ctx, tab)
			if err != nil {
				t.Fatalf("EnsureFormatting: %v", err)
			}
			if added != want {
				t.Errorf("added = %d, want %d", added, want)
			}
			got, err := w.RuleCount(ctx, tab)
			if err != nil {
				t.Fatalf("RuleCount: %v", err)
			}
			if got != want {
				t.Errorf("rule count = %d, want %d", got, want)
			}
		})
	}
}

func TestEnsureFormattingIdempotent(t *testing.T) {
	ctx := context.Background()
	fake := sheettest.New()
	w := newTestWriter(fake)

	if _, err := w.EnsureFormatting(ctx, "Tab"); err != nil {
		t.Fatal(err)
	}
	added, err := w.EnsureFormatting(ctx, "Tab")
	if err != nil || added != 0 {
		t.Fatalf("second EnsureFormatting = %d, %v; want 0, nil", added, err)
	}

	// A new writer inspects the existing rules instead of trusting its cache.
	w2 := newTestWriter(fake)
	added, err = w2.EnsureFormatting(ctx, "Tab")
	if err != nil || added != 0 {
		t.Fatalf("fresh writer EnsureFormatting = %d, %v; want 0, nil", added, err)
	}
	if got, _ := w2.RuleCount(ctx, "Tab"); got != len(DefaultRules()) {
		t.Errorf("rule count = %d, want %d", got, len(DefaultRules()))
	}
}

func TestEnsureTabAndTable(t *testing.T) {
	ctx := context.Background()
	fake := sheettest.New()
	w := newTestWriter(fake, WithRowCapacity(500))

	id, err := w.EnsureTab(ctx, "Uploads")
	if err != nil {
		t.Fatalf("EnsureTab: %v", err)
	}
	id2, err := w.EnsureTab(ctx, "Uploads")
	if err != nil || id2 != id {
		t.Fatalf("second EnsureTab = %d, %v; want %d", id2, err, id)
	}

	if err := w.EnsureTable(ctx, "Uploads"); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}
	calls := fake.BatchUpdates
	if err := w.EnsureTable(ctx, "Uploads"); err != nil {
		t.Fatalf("second EnsureTable: %v", err)
	}
	if fake.BatchUpdates != calls {
		t.Errorf("second EnsureTable issued %d batch updates", fake.BatchUpdates-calls)
	}

	s := fake.Sheet("Uploads")
	if s.Properties.SheetId != id {
		t.Errorf("sheet id = %d, want %d", s.Properties.SheetId, id)
	}
	if got := s.Properties.GridProperties.FrozenRowCount; got != 1 {
		t.Errorf("frozen rows = %d, want 1", got)
	}
	if len(s.Tables) != 1 {
		t.Fatalf("tables = %d, want 1", len(s.Tables))
	}
	tbl := s.Tables[0]
	if tbl.Name != "Uploads" || tbl.Range.EndRowIndex != 501 || tbl.Range.EndColumnIndex != NumColumns {
		t.Errorf("table = %s rows %d cols %d", tbl.Name, tbl.Range.EndRowIndex, tbl.Range.EndColumnIndex)
	}
	if len(tbl.ColumnProperties) != NumColumns {
		t.Fatalf("column properties = %d", len(tbl.ColumnProperties))
	}
	if cp := tbl.ColumnProperties[ColLikes]; cp.ColumnName != "Likes" || cp.ColumnType != TypeDouble {
		t.Errorf("likes column = %+v", cp)
	}
	if cp := tbl.ColumnProperties[ColReviewed]; cp.ColumnType != TypeBoolean {
		t.Errorf("reviewed column type = %s", cp.ColumnType)
	}
}

func TestEnsureTableGrowsExistingTab(t *testing.T) {
	ctx := context.Background()
	fake := sheettest.New()
	fake.Seed("Legacy", nil) // 1000 x 26 grid

	w := newTestWriter(fake, WithRowCapacity(5000))
	if err := w.EnsureTable(ctx, "Legacy"); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}
	s := fake.Sheet("Legacy")
	if got := s.Properties.GridProperties.RowCount; got != 5001 {
		t.Errorf("row count = %d, want 5001", got)
	}
	if len(s.Tables) != 1 {
		t.Errorf("tables = %d, want 1", len(s.Tables))
	}
}

func TestCellLimitRejected(t *testing.T) {
	fake := sheettest.New()
	fake.MaxDataRows = 3
	w := newTestWriter(fake)

	_, err := w.WriteVideos(context.Background(), "Uploads", videos(5, "x"))
	if !errors.Is(err, ErrCellLimit) {
		t.Fatalf("err = %v, want ErrCellLimit", err)
	}
	if !errors.Is(err, ErrWriteRejected) {
		t.Errorf("cell limit should also match ErrWriteRejected")
	}
	var werr *WriteError
	if !errors.As(err, &werr) || werr.Op != "append" || werr.Tab != "Uploads" {
		t.Errorf("err = %#v, want *WriteError for append", err)
	}
	if fake.Appends != 1 {
		t.Errorf("appends = %d, want 1 (no retry)", fake.Appends)
	}
}

func TestPermissionDeniedRejected(t *testing.T) {
	fake := sheettest.New()
	fake.AppendErr = &googleapi.Error{Code: http.StatusForbidden, Message: "The caller does not have permission"}
	w := newTestWriter(fake)

	_, err := w.WriteVideos(context.Background(), "Uploads", videos(1, "x"))
	if !errors.Is(err, ErrWriteRejected) {
		t.Fatalf("err = %v, want ErrWriteRejected", err)
	}
	if errors.Is(err, ErrCellLimit) {
		t.Errorf("403 classified as cell limit")
	}
	if fake.Appends != 1 {
		t.Errorf("appends = %d, want 1", fake.Appends)
	}
}

func TestTransientAppendRetried(t *testing.T) {
	fake := sheettest.New()
	fake.AppendErr = &googleapi.Error{Code: http.StatusServiceUnavailable, Message: "backend error"}
	w := newTestWriter(fake)

	_, err := w.WriteVideos(context.Background(), "Uploads", videos(1, "x"))
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrWriteRejected) {
		t.Errorf("503 classified as rejected")
	}
	if fake.Appends < 2 {
		t.Errorf("appends = %d, want retries", fake.Appends)
	}
}

// droppedAck applies the first append and then reports it as failed, as when
// the response is lost after the server committed the rows.
type droppedAck struct {
	*sheettest.Fake
	failed bool
}

func (d *droppedAck) AppendValues(ctx context.Context, id, rng string, rows [][]any) (*sheets.AppendValuesResponse, error) {
	resp, err := d.Fake.AppendValues(ctx, id, rng, rows)
	if err != nil || d.failed {
		return resp, err
	}
	d.failed = true
	return nil, &googleapi.Error{Code: http.StatusServiceUnavailable, Message: "backend error"}
}

func TestAppendAppliedDespiteErrorNotResent(t *testing.T) {
	ctx := context.Background()
	svc := &droppedAck{Fake: sheettest.New()}
	w := newTestWriter(svc)

	n, err := w.WriteVideos(ctx, "Uploads", videos(2, "a"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != 2 {
		t.Errorf("written = %d, want 2", n)
	}
	rows := svc.Rows("Uploads")
	if len(rows) != 3 {
		t.Errorf("tab has %d rows, want header + 2", len(rows))
	}
	if h := countHeaders(rows); h != 1 {
		t.Errorf("headers = %d, want 1", h)
	}
	if svc.Appends != 1 {
		t.Errorf("appends = %d, want 1", svc.Appends)
	}

	// A later batch still appends normally below the existing rows.
	if _, err := w.WriteVideos(ctx, "Uploads", videos(1, "b")); err != nil {
		t.Fatalf("second write: %v", err)
	}
	if rows := svc.Rows("Uploads"); len(rows) != 4 || countHeaders(rows) != 1 {
		t.Errorf("after second write: %d rows, %d headers", len(rows), countHeaders(rows))
	}
}

func TestExistingIDs(t *testing.T) {
	ctx := context.Background()
	fake := sheettest.New()
	w := newTestWriter(fake)

	if _, err := w.WriteVideos(ctx, "Bob's uploads", videos(3, "id")); err != nil {
		t.Fatal(err)
	}
	ids, err := w.ExistingIDs(ctx, "Bob's uploads")
	if err != nil {
		t.Fatalf("ExistingIDs: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("ids = %v, want 3", ids)
	}
	for _, id := range []string{"id000", "id001", "id002"} {
		if _, ok := ids[id]; !ok {
			t.Errorf("missing %s", id)
		}
	}
	if _, ok := ids["Video ID"]; ok {
		t.Error("header leaked into ids")
	}
}

func TestAddedColumnUsesClock(t *testing.T) {
	fake := sheettest.New()
	w := newTestWriter(fake)
	if _, err := w.WriteVideos(context.Background(), "T", videos(1, "a")); err != nil {
		t.Fatal(err)
	}
	rows := fake.Rows("T")
	if got := rows[1][ColAdded]; got != "2025-03-14 09:30:00" {
		t.Errorf("added = %v", got)
	}
}

func TestQuoteTab(t *testing.T) {
	if got := quoteTab("Bob's"); got != "'Bob''s'" {
		t.Errorf("quoteTab = %s", got)
	}
}
