// Package sheet writes video rows into a Google Sheets tab, maintaining a
// typed table object and a constant-size set of column-scoped conditional
// formats.
package sheet

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/api/sheets/v4"

	"ytsheets/internal/logging"
	"ytsheets/internal/retry"
	"ytsheets/youtube"
)

// DefaultRowCapacity is the number of data rows the table and formatting
// rules cover. Large enough that the table never needs re-creating.
const DefaultRowCapacity = 50000

// tabState caches what is known about a tab so idempotent operations skip
// their round trips after the first success.
type tabState struct {
	sheetID   int64
	hasTable  bool
	formatted bool
	hasHeader bool
}

// Writer idempotently prepares a destination tab and appends rows to it.
// Write calls are serialised; a Writer is safe for concurrent use.
type Writer struct {
	svc           Service
	spreadsheetID string
	rowCapacity   int64
	rules         []Rule
	shorts        time.Duration
	retry         retry.Config
	now           func() time.Time
	log           zerolog.Logger

	mu   sync.Mutex
	tabs map[string]*tabState
}

// Option configures a Writer.
type Option func(*Writer)

// WithRowCapacity overrides DefaultRowCapacity.
func WithRowCapacity(n int64) Option {
	return func(w *Writer) {
		if n > 0 {
			w.rowCapacity = n
		}
	}
}

// WithRules replaces the conditional formatting rule set.
func WithRules(rules []Rule) Option {
	return func(w *Writer) { w.rules = rules }
}

// WithShortsThreshold sets the duration at or under which a row is typed Short.
func WithShortsThreshold(d time.Duration) Option {
	return func(w *Writer) { w.shorts = d }
}

// WithRetry overrides the retry configuration.
func WithRetry(cfg retry.Config) Option {
	return func(w *Writer) { w.retry = cfg }
}

// WithClock overrides the time source for the Added column.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) { w.now = now }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(w *Writer) { w.log = l }
}

// NewWriter creates a Writer for one spreadsheet.
func NewWriter(svc Service, spreadsheetID string, opts ...Option) *Writer {
	w := &Writer{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		rowCapacity:   DefaultRowCapacity,
		rules:         DefaultRules(),
		shorts:        youtube.DefaultShortsThreshold,
		retry:         retry.DefaultConfig(),
		now:           time.Now,
		log:           logging.Logger,
		tabs:          make(map[string]*tabState),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// quoteTab returns the tab name quoted for A1 notation.
func quoteTab(tab string) string {
	return "'" + strings.ReplaceAll(tab, "'", "''") + "'"
}

func (w *Writer) do(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, w.retry, IsTransient, fn)
}

// findSheet returns the tab titled tab, or nil.
func (w *Writer) findSheet(ctx context.Context, tab string) (*sheets.Sheet, error) {
	var doc *sheets.Spreadsheet
	err := w.do(ctx, func(ctx context.Context) error {
		var err error
		doc, err = w.svc.Get(ctx, w.spreadsheetID)
		return err
	})
	if err != nil {
		return nil, err
	}
	for _, s := range doc.Sheets {
		if s != nil && s.Properties != nil && s.Properties.Title == tab {
			return s, nil
		}
	}
	return nil, nil
}

func (w *Writer) batch(ctx context.Context, reqs []*sheets.Request) (*sheets.BatchUpdateSpreadsheetResponse, error) {
	var resp *sheets.BatchUpdateSpreadsheetResponse
	err := w.do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = w.svc.BatchUpdate(ctx, w.spreadsheetID, reqs)
		return err
	})
	return resp, err
}

// state must be called with mu held.
func (w *Writer) state(tab string) *tabState {
	st, ok := w.tabs[tab]
	if !ok {
		st = &tabState{sheetID: -1}
		w.tabs[tab] = st
	}
	return st
}

// EnsureTab creates tab if it does not exist and returns its sheet ID.
func (w *Writer) EnsureTab(ctx context.Context, tab string) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ensureTab(ctx, tab)
}

func (w *Writer) ensureTab(ctx context.Context, tab string) (int64, error) {
	st := w.state(tab)
	if st.sheetID >= 0 {
		return st.sheetID, nil
	}

	s, err := w.findSheet(ctx, tab)
	if err != nil {
		return 0, classify(tab, "ensure_tab", err)
	}
	if s != nil {
		st.sheetID = s.Properties.SheetId
		st.hasTable = len(s.Tables) > 0
		return st.sheetID, nil
	}

	resp, err := w.batch(ctx, []*sheets.Request{{
		AddSheet: &sheets.AddSheetRequest{
			Properties: &sheets.SheetProperties{
				Title: tab,
				GridProperties: &sheets.GridProperties{
					RowCount:       w.rowCapacity + 1,
					ColumnCount:    NumColumns,
					FrozenRowCount: 1,
				},
			},
		},
	}})
	if err != nil {
		return 0, classify(tab, "ensure_tab", err)
	}
	if len(resp.Replies) == 0 || resp.Replies[0].AddSheet == nil || resp.Replies[0].AddSheet.Properties == nil {
		return 0, &WriteError{Tab: tab, Op: "ensure_tab", Err: fmt.Errorf("addSheet returned no properties")}
	}
	st.sheetID = resp.Replies[0].AddSheet.Properties.SheetId
	w.log.Info().Str("tab", tab).Int64("sheet_id", st.sheetID).Msg("tab created")
	return st.sheetID, nil
}

// EnsureTable creates a typed table named after tab covering the header and
// the full row capacity. It is a no-op if the tab already has a table.
func (w *Writer) EnsureTable(ctx context.Context, tab string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.ensureTab(ctx, tab); err != nil {
		return err
	}
	st := w.state(tab)
	if st.hasTable {
		return nil
	}

	s, err := w.findSheet(ctx, tab)
	if err != nil {
		return classify(tab, "ensure_table", err)
	}
	if s == nil {
		return &WriteError{Tab: tab, Op: "ensure_table", Err: ErrTabNotFound}
	}
	if len(s.Tables) > 0 {
		st.hasTable = true
		return nil
	}

	var reqs []*sheets.Request
	want := w.rowCapacity + 1
	if gp := s.Properties.GridProperties; gp != nil && gp.RowCount < want {
		reqs = append(reqs, &sheets.Request{
			AppendDimension: &sheets.AppendDimensionRequest{
				SheetId:   st.sheetID,
				Dimension: "ROWS",
				Length:    want - gp.RowCount,
			},
		})
	}
	if gp := s.Properties.GridProperties; gp != nil && gp.ColumnCount < NumColumns {
		reqs = append(reqs, &sheets.Request{
			AppendDimension: &sheets.AppendDimensionRequest{
				SheetId:   st.sheetID,
				Dimension: "COLUMNS",
				Length:    NumColumns - gp.ColumnCount,
			},
		})
	}

	props := make([]*sheets.TableColumnProperties, 0, NumColumns)
	for i, c := range Columns {
		props = append(props, &sheets.TableColumnProperties{
			ColumnIndex: int64(i),
			ColumnName:  c.Name,
			ColumnType:  c.Type,
		})
	}
	reqs = append(reqs, &sheets.Request{
		AddTable: &sheets.AddTableRequest{
			Table: &sheets.Table{
				Name: tab,
				Range: &sheets.GridRange{
					SheetId:          st.sheetID,
					StartRowIndex:    0,
					EndRowIndex:      want,
					StartColumnIndex: 0,
					EndColumnIndex:   NumColumns,
				},
				ColumnProperties: props,
			},
		},
	})

	if _, err := w.batch(ctx, reqs); err != nil {
		return classify(tab, "ensure_table", err)
	}
	st.hasTable = true
	w.log.Info().Str("tab", tab).Int64("rows", w.rowCapacity).Msg("table created")
	return nil
}

// EnsureFormatting adds whichever rules of the fixed set are not yet present
// on tab and returns how many were added. Rules cover whole columns, so the
// count is independent of the row count and repeated calls add nothing.
func (w *Writer) EnsureFormatting(ctx context.Context, tab string) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	sheetID, err := w.ensureTab(ctx, tab)
	if err != nil {
		return 0, err
	}
	st := w.state(tab)
	if st.formatted {
		return 0, nil
	}

	s, err := w.findSheet(ctx, tab)
	if err != nil {
		return 0, classify(tab, "ensure_formatting", err)
	}
	if s == nil {
		return 0, &WriteError{Tab: tab, Op: "ensure_formatting", Err: ErrTabNotFound}
	}

	have := existingFingerprints(s)
	var reqs []*sheets.Request
	for _, r := range w.rules {
		if _, ok := have[r.fingerprint()]; ok {
			continue
		}
		reqs = append(reqs, r.request(sheetID, w.rowCapacity))
	}
	if len(reqs) > 0 {
		if _, err := w.batch(ctx, reqs); err != nil {
			return 0, classify(tab, "ensure_formatting", err)
		}
	}
	st.formatted = true
	w.log.Info().Str("tab", tab).Int("added", len(reqs)).Int("rules", len(w.rules)).Msg("formatting ensured")
	return len(reqs), nil
}

// ExistingIDs reads the Video ID column below the header.
func (w *Writer) ExistingIDs(ctx context.Context, tab string) (map[string]struct{}, error) {
	var vr *sheets.ValueRange
	err := w.do(ctx, func(ctx context.Context) error {
		var err error
		vr, err = w.svc.GetValues(ctx, w.spreadsheetID, quoteTab(tab)+"!A2:A")
		return err
	})
	if err != nil {
		return nil, classify(tab, "read_ids", err)
	}

	ids := make(map[string]struct{}, len(vr.Values))
	for _, row := range vr.Values {
		if len(row) == 0 {
			continue
		}
		if id := strings.TrimSpace(fmt.Sprint(row[0])); id != "" {
			ids[id] = struct{}{}
		}
	}
	return ids, nil
}

// WriteVideos renders videos and appends them to tab.
func (w *Writer) WriteVideos(ctx context.Context, tab string, videos []youtube.Video) (int, error) {
	added := w.now()
	rows := make([][]any, 0, len(videos))
	for _, v := range videos {
		rows = append(rows, Row(v, added, w.shorts))
	}
	return w.WriteRows(ctx, tab, rows)
}

// WriteRows appends rows after the existing content of tab. The header row is
// written first only when the header range is empty. It returns the number of
// data rows written.
func (w *Writer) WriteRows(ctx context.Context, tab string, rows [][]any) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.ensureTab(ctx, tab); err != nil {
		return 0, err
	}
	st := w.state(tab)

	prepended := false
	if !st.hasHeader {
		var vr *sheets.ValueRange
		err := w.do(ctx, func(ctx context.Context) error {
			var err error
			vr, err = w.svc.GetValues(ctx, w.spreadsheetID, quoteTab(tab)+"!A1:"+LastColumn+"1")
			return err
		})
		if err != nil {
			return 0, classify(tab, "read_header", err)
		}
		if isEmpty(vr) {
			rows = append([][]any{Header()}, rows...)
			prepended = true
		}
	}

	written := len(rows)
	if prepended {
		written--
	}

	// Append is not idempotent: a failed attempt may still have been
	// applied, so later attempts send only the rows that did not land.
	remaining, headerPending := rows, prepended
	attempts := 0
	err := w.do(ctx, func(ctx context.Context) error {
		if attempts > 0 {
			left, header, err := w.unwritten(ctx, tab, remaining, headerPending)
			if err != nil {
				return err
			}
			remaining, headerPending = left, header
			if len(remaining) == 0 {
				return nil
			}
		}
		attempts++
		_, err := w.svc.AppendValues(ctx, w.spreadsheetID, quoteTab(tab)+"!A1", remaining)
		return err
	})
	if err != nil {
		return 0, classify(tab, "append", err)
	}

	st.hasHeader = true
	w.log.Info().Str("tab", tab).Int("rows", written).Msg("rows appended")
	return written, nil
}

// unwritten drops from rows the header, when headerFirst and the tab already
// has one, and every data row whose Video ID is already in the tab.
func (w *Writer) unwritten(ctx context.Context, tab string, rows [][]any, headerFirst bool) ([][]any, bool, error) {
	vr, err := w.svc.GetValues(ctx, w.spreadsheetID, quoteTab(tab)+"!A1:A")
	if err != nil {
		return nil, headerFirst, err
	}
	present := make(map[string]struct{}, len(vr.Values))
	for i, row := range vr.Values {
		if i == 0 || len(row) == 0 {
			continue
		}
		present[strings.TrimSpace(fmt.Sprint(row[0]))] = struct{}{}
	}

	data := rows
	if headerFirst {
		data = rows[1:]
		if !isEmpty(vr) {
			headerFirst = false
		}
	}
	left := make([][]any, 0, len(rows))
	if headerFirst {
		left = append(left, rows[0])
	}
	for _, row := range data {
		if len(row) > 0 {
			if _, ok := present[strings.TrimSpace(fmt.Sprint(row[0]))]; ok {
				continue
			}
		}
		left = append(left, row)
	}
	if dropped := len(rows) - len(left); dropped > 0 {
		w.log.Warn().Str("tab", tab).Int("rows", dropped).Msg("append applied despite error, not resending")
	}
	return left, headerFirst, nil
}

// RuleCount returns the number of conditional format rules on tab.
func (w *Writer) RuleCount(ctx context.Context, tab string) (int, error) {
	s, err := w.findSheet(ctx, tab)
	if err != nil {
		return 0, classify(tab, "read_rules", err)
	}
	if s == nil {
		return 0, &WriteError{Tab: tab, Op: "read_rules", Err: ErrTabNotFound}
	}
	return len(s.ConditionalFormats), nil
}

func isEmpty(vr *sheets.ValueRange) bool {
	if vr == nil {
		return true
	}
	for _, row := range vr.Values {
		for _, cell := range row {
			if s := fmt.Sprint(cell); strings.TrimSpace(s) != "" {
				return false
			}
		}
	}
	return true
}
