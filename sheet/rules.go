package sheet

import (
	"fmt"
	"strings"

	"google.golang.org/api/sheets/v4"
)

// Condition types used by the rule set.
const (
	CondTextEq        = "TEXT_EQ"
	CondCustomFormula = "CUSTOM_FORMULA"
)

// RGB is a colour with 0..1 components.
type RGB struct {
	R, G, B float64
}

// Palette holds the colours the rule set uses.
type Palette struct {
	Short     RGB
	Long      RGB
	Viral     RGB
	Popular   RGB
	LowViews  RGB
	NoLikes   RGB
	Liked     RGB
	Discussed RGB
	Reviewed  RGB
	ThisYear  RGB
	Old       RGB
	LongForm  RGB
}

// DefaultPalette matches the reference spreadsheet's pastel scheme.
var DefaultPalette = Palette{
	Short:     RGB{1.0, 0.95, 0.8},
	Long:      RGB{0.85, 0.92, 1.0},
	Viral:     RGB{0.72, 0.88, 0.72},
	Popular:   RGB{0.85, 0.94, 0.85},
	LowViews:  RGB{0.96, 0.96, 0.96},
	NoLikes:   RGB{0.9, 0.9, 0.9},
	Liked:     RGB{1.0, 0.9, 0.95},
	Discussed: RGB{0.95, 0.9, 1.0},
	Reviewed:  RGB{0.8, 0.8, 0.8},
	ThisYear:  RGB{0.88, 1.0, 0.88},
	Old:       RGB{1.0, 0.88, 0.88},
	LongForm:  RGB{0.93, 0.87, 1.0},
}

// Thresholds holds the numeric cut-offs the rule set uses.
type Thresholds struct {
	Viral     int64
	Popular   int64
	LowViews  int64
	Liked     int64
	Discussed int64
}

// DefaultThresholds are the reference spreadsheet's cut-offs.
var DefaultThresholds = Thresholds{
	Viral:     1_000_000,
	Popular:   100_000,
	LowViews:  1_000,
	Liked:     10_000,
	Discussed: 1_000,
}

// Rule is one column-scoped conditional format.
type Rule struct {
	Name       string
	Column     int
	Condition  string
	Value      string
	Background RGB
}

// fingerprint identifies a rule by what it matches, ignoring colour.
func (r Rule) fingerprint() string {
	return fmt.Sprintf("%d|%s|%s", r.Column, r.Condition, r.Value)
}

// colRef returns the anchored column with the first data row, e.g. "$H2".
func colRef(col int) string {
	return fmt.Sprintf("$%c2", 'A'+col)
}

// Rules builds the fixed 12-rule set. The count does not depend on the
// number of rows.
func Rules(p Palette, t Thresholds) []Rule {
	views, likes, comments := colRef(ColViews), colRef(ColLikes), colRef(ColComments)
	published, duration, reviewed := colRef(ColPublished), colRef(ColDuration), colRef(ColReviewed)

	return []Rule{
		{"short", ColType, CondTextEq, TypeShort, p.Short},
		{"long", ColType, CondTextEq, TypeLong, p.Long},
		{"viral", ColViews, CondCustomFormula, fmt.Sprintf("=AND(ISNUMBER(%s),%s>=%d)", views, views, t.Viral), p.Viral},
		{"popular", ColViews, CondCustomFormula, fmt.Sprintf("=AND(ISNUMBER(%s),%s>=%d,%s<%d)", views, views, t.Popular, views, t.Viral), p.Popular},
		{"low-views", ColViews, CondCustomFormula, fmt.Sprintf("=AND(ISNUMBER(%s),%s<%d)", views, views, t.LowViews), p.LowViews},
		{"likes-hidden", ColLikes, CondTextEq, LikesUnknown, p.NoLikes},
		{"liked", ColLikes, CondCustomFormula, fmt.Sprintf("=AND(ISNUMBER(%s),%s>=%d)", likes, likes, t.Liked), p.Liked},
		{"discussed", ColComments, CondCustomFormula, fmt.Sprintf("=AND(ISNUMBER(%s),%s>=%d)", comments, comments, t.Discussed), p.Discussed},
		{"reviewed", ColReviewed, CondCustomFormula, fmt.Sprintf("=%s=TRUE", reviewed), p.Reviewed},
		{"this-year", ColPublished, CondCustomFormula, fmt.Sprintf("=AND(ISNUMBER(%s),YEAR(%s)=YEAR(TODAY()))", published, published), p.ThisYear},
		{"old", ColPublished, CondCustomFormula, fmt.Sprintf("=AND(ISNUMBER(%s),YEAR(%s)<YEAR(TODAY())-1)", published, published), p.Old},
		{"long-form", ColDuration, CondCustomFormula, fmt.Sprintf("=AND(ISNUMBER(%s),%s>=1/24)", duration, duration), p.LongForm},
	}
}

// DefaultRules is Rules(DefaultPalette, DefaultThresholds).
func DefaultRules() []Rule {
	return Rules(DefaultPalette, DefaultThresholds)
}

// request builds the AddConditionalFormatRule request covering the whole
// column for rows 2..rowCapacity+1.
func (r Rule) request(sheetID, rowCapacity int64) *sheets.Request {
	return &sheets.Request{
		AddConditionalFormatRule: &sheets.AddConditionalFormatRuleRequest{
			Rule: &sheets.ConditionalFormatRule{
				Ranges: []*sheets.GridRange{{
					SheetId:          sheetID,
					StartRowIndex:    1,
					EndRowIndex:      rowCapacity + 1,
					StartColumnIndex: int64(r.Column),
					EndColumnIndex:   int64(r.Column) + 1,
				}},
				BooleanRule: &sheets.BooleanRule{
					Condition: &sheets.BooleanCondition{
						Type:   r.Condition,
						Values: []*sheets.ConditionValue{{UserEnteredValue: r.Value}},
					},
					Format: &sheets.CellFormat{
						BackgroundColor: &sheets.Color{
							Red:   r.Background.R,
							Green: r.Background.G,
							Blue:  r.Background.B,
						},
					},
				},
			},
		},
	}
}

// existingFingerprints returns the fingerprints of boolean rules already
// present on a sheet.
func existingFingerprints(s *sheets.Sheet) map[string]struct{} {
	out := make(map[string]struct{})
	for _, cf := range s.ConditionalFormats {
		if cf == nil || cf.BooleanRule == nil || cf.BooleanRule.Condition == nil || len(cf.Ranges) == 0 {
			continue
		}
		cond := cf.BooleanRule.Condition
		vals := make([]string, 0, len(cond.Values))
		for _, v := range cond.Values {
			vals = append(vals, v.UserEnteredValue)
		}
		fp := Rule{
			Column:    int(cf.Ranges[0].StartColumnIndex),
			Condition: cond.Type,
			Value:     strings.Join(vals, ","),
		}.fingerprint()
		out[fp] = struct{}{}
	}
	return out
}
