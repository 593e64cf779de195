// Package sheettest provides an in-memory implementation of sheet.Service.
package sheettest

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/sheets/v4"
)

// CellLimitMessage is the error text the Sheets API returns at its cell ceiling.
const CellLimitMessage = "This action would increase the number of cells in the workbook above the limit of 10000000 cells."

// Fake is a single in-memory spreadsheet. It interprets the subset of
// batchUpdate requests the writer issues and keeps cell values per tab.
type Fake struct {
	mu     sync.Mutex
	sheets []*sheets.Sheet
	values map[string][][]any
	nextID int64

	// MaxDataRows makes appends fail with the cell-limit error once a tab
	// would hold more rows than this. Zero disables the check.
	MaxDataRows int
	// AppendErr, when set, is returned by every AppendValues call.
	AppendErr error
	// GetErr, when set, is returned by every Get call.
	GetErr error

	Appends      int
	BatchUpdates int
}

// New returns an empty spreadsheet.
func New() *Fake {
	return &Fake{values: make(map[string][][]any), nextID: 100}
}

// Rows returns a copy of the values stored in tab.
func (f *Fake) Rows(tab string) [][]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]any, len(f.values[tab]))
	for i, r := range f.values[tab] {
		out[i] = append([]any(nil), r...)
	}
	return out
}

// Seed stores rows directly in tab, creating the tab if needed.
func (f *Fake) Seed(tab string, rows [][]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.find(tab) == nil {
		f.addSheet(&sheets.SheetProperties{Title: tab, GridProperties: &sheets.GridProperties{RowCount: 1000, ColumnCount: 26}})
	}
	f.values[tab] = append(f.values[tab], rows...)
}

// Sheet returns a copy of the tab's metadata, or nil.
func (f *Fake) Sheet(tab string) *sheets.Sheet {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.find(tab)
	if s == nil {
		return nil
	}
	return copySheet(s)
}

func (f *Fake) find(tab string) *sheets.Sheet {
	for _, s := range f.sheets {
		if s.Properties.Title == tab {
			return s
		}
	}
	return nil
}

func (f *Fake) findID(id int64) *sheets.Sheet {
	for _, s := range f.sheets {
		if s.Properties.SheetId == id {
			return s
		}
	}
	return nil
}

func (f *Fake) addSheet(p *sheets.SheetProperties) *sheets.Sheet {
	props := *p
	props.SheetId = f.nextID
	f.nextID++
	if props.GridProperties == nil {
		props.GridProperties = &sheets.GridProperties{RowCount: 1000, ColumnCount: 26}
	} else {
		gp := *props.GridProperties
		props.GridProperties = &gp
	}
	s := &sheets.Sheet{Properties: &props}
	f.sheets = append(f.sheets, s)
	return s
}

func copySheet(s *sheets.Sheet) *sheets.Sheet {
	props := *s.Properties
	if s.Properties.GridProperties != nil {
		gp := *s.Properties.GridProperties
		props.GridProperties = &gp
	}
	return &sheets.Sheet{
		Properties:         &props,
		Tables:             append([]*sheets.Table(nil), s.Tables...),
		ConditionalFormats: append([]*sheets.ConditionalFormatRule(nil), s.ConditionalFormats...),
	}
}

func badRequest(format string, args ...any) error {
	return &googleapi.Error{Code: http.StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

// Get implements sheet.Service.
func (f *Fake) Get(ctx context.Context, spreadsheetID string) (*sheets.Spreadsheet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	doc := &sheets.Spreadsheet{SpreadsheetId: spreadsheetID}
	for _, s := range f.sheets {
		doc.Sheets = append(doc.Sheets, copySheet(s))
	}
	return doc, nil
}

// BatchUpdate implements sheet.Service. Requests are applied in order; the
// first invalid request aborts the batch without applying later ones.
func (f *Fake) BatchUpdate(ctx context.Context, spreadsheetID string, reqs []*sheets.Request) (*sheets.BatchUpdateSpreadsheetResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.BatchUpdates++

	resp := &sheets.BatchUpdateSpreadsheetResponse{SpreadsheetId: spreadsheetID}
	for _, r := range reqs {
		reply := &sheets.Response{}
		switch {
		case r.AddSheet != nil:
			if f.find(r.AddSheet.Properties.Title) != nil {
				return nil, badRequest("A sheet with the name %q already exists.", r.AddSheet.Properties.Title)
			}
			s := f.addSheet(r.AddSheet.Properties)
			reply.AddSheet = &sheets.AddSheetResponse{Properties: s.Properties}
		case r.AppendDimension != nil:
			s := f.findID(r.AppendDimension.SheetId)
			if s == nil {
				return nil, badRequest("no sheet %d", r.AppendDimension.SheetId)
			}
			if r.AppendDimension.Dimension == "ROWS" {
				s.Properties.GridProperties.RowCount += r.AppendDimension.Length
			} else {
				s.Properties.GridProperties.ColumnCount += r.AppendDimension.Length
			}
		case r.AddTable != nil:
			t := r.AddTable.Table
			s := f.findID(t.Range.SheetId)
			if s == nil {
				return nil, badRequest("no sheet %d", t.Range.SheetId)
			}
			if t.Range.EndRowIndex > s.Properties.GridProperties.RowCount {
				return nil, badRequest("table range exceeds grid")
			}
			for _, other := range f.sheets {
				for _, ot := range other.Tables {
					if ot.Name == t.Name {
						return nil, badRequest("table name %q already used", t.Name)
					}
				}
			}
			cp := *t
			cp.TableId = strconv.FormatInt(int64(len(s.Tables)+1), 10)
			s.Tables = append(s.Tables, &cp)
		case r.AddConditionalFormatRule != nil:
			rule := r.AddConditionalFormatRule.Rule
			if len(rule.Ranges) == 0 {
				return nil, badRequest("rule without ranges")
			}
			s := f.findID(rule.Ranges[0].SheetId)
			if s == nil {
				return nil, badRequest("no sheet %d", rule.Ranges[0].SheetId)
			}
			s.ConditionalFormats = append(s.ConditionalFormats, rule)
		default:
			return nil, badRequest("unsupported request")
		}
		resp.Replies = append(resp.Replies, reply)
	}
	return resp, nil
}

// parseRange splits "'Tab'!A2:A" into the tab, the zero-based first row,
// and whether only the first column was requested. A bounded end row sets
// rows to the number of rows requested; zero means unbounded.
func parseRange(rng string) (tab string, first, rows int, firstColOnly bool, err error) {
	i := strings.LastIndex(rng, "!")
	if i < 0 {
		return "", 0, 0, false, badRequest("range %q has no sheet", rng)
	}
	tab = rng[:i]
	if strings.HasPrefix(tab, "'") && strings.HasSuffix(tab, "'") && len(tab) >= 2 {
		tab = strings.ReplaceAll(tab[1:len(tab)-1], "''", "'")
	}

	cells := strings.SplitN(rng[i+1:], ":", 2)
	start, err := rowOf(cells[0])
	if err != nil {
		return "", 0, 0, false, err
	}
	first = start - 1
	if len(cells) == 2 {
		end := cells[1]
		firstColOnly = strings.TrimRight(end, "0123456789") == "A"
		if n, err := rowOf(end); err == nil {
			rows = n - start + 1
		}
	}
	return tab, first, rows, firstColOnly, nil
}

func rowOf(cell string) (int, error) {
	digits := strings.TrimLeft(cell, "ABCDEFGHIJKLMNOPQRSTUVWXYZ")
	if digits == "" {
		return 0, badRequest("cell %q has no row", cell)
	}
	return strconv.Atoi(digits)
}

// GetValues implements sheet.Service. Trailing empty rows are omitted as the
// real API does.
func (f *Fake) GetValues(ctx context.Context, spreadsheetID, rng string) (*sheets.ValueRange, error) {
	tab, first, rows, firstColOnly, err := parseRange(rng)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.find(tab) == nil {
		return nil, badRequest("Unable to parse range: %s", rng)
	}

	all := f.values[tab]
	vr := &sheets.ValueRange{Range: rng}
	for i := first; i < len(all); i++ {
		if rows > 0 && i >= first+rows {
			break
		}
		row := all[i]
		if firstColOnly && len(row) > 1 {
			row = row[:1]
		}
		vr.Values = append(vr.Values, append([]any(nil), row...))
	}
	return vr, nil
}

// AppendValues implements sheet.Service.
func (f *Fake) AppendValues(ctx context.Context, spreadsheetID, rng string, rows [][]any) (*sheets.AppendValuesResponse, error) {
	tab, _, _, _, err := parseRange(rng)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.Appends++
	if f.AppendErr != nil {
		return nil, f.AppendErr
	}
	if f.find(tab) == nil {
		return nil, badRequest("Unable to parse range: %s", rng)
	}
	if f.MaxDataRows > 0 && len(f.values[tab])+len(rows) > f.MaxDataRows {
		return nil, badRequest("%s", CellLimitMessage)
	}
	for _, r := range rows {
		f.values[tab] = append(f.values[tab], append([]any(nil), r...))
	}
	return &sheets.AppendValuesResponse{
		SpreadsheetId: spreadsheetID,
		Updates:       &sheets.UpdateValuesResponse{UpdatedRows: int64(len(rows))},
	}, nil
}
