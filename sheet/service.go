package sheet

import (
	"context"
	"fmt"
	"net/http"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// Service is the subset of the Sheets API v4 used by Writer.
type Service interface {
	// Get returns sheet properties, tables and conditional formats; no cell
	// data.
	Get(ctx context.Context, spreadsheetID string) (*sheets.Spreadsheet, error)
	BatchUpdate(ctx context.Context, spreadsheetID string, reqs []*sheets.Request) (*sheets.BatchUpdateSpreadsheetResponse, error)
	GetValues(ctx context.Context, spreadsheetID, rng string) (*sheets.ValueRange, error)
	// AppendValues writes rows after the last non-empty row of rng.
	AppendValues(ctx context.Context, spreadsheetID, rng string, rows [][]any) (*sheets.AppendValuesResponse, error)
}

// GoogleService implements Service over the generated sheets/v4 client.
type GoogleService struct {
	svc *sheets.Service
}

// NewGoogleService creates a Sheets client over an authenticated HTTP client.
func NewGoogleService(ctx context.Context, client *http.Client, opts ...option.ClientOption) (*GoogleService, error) {
	if client == nil {
		return nil, fmt.Errorf("sheet: http client required")
	}
	opts = append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &GoogleService{svc: svc}, nil
}

func (g *GoogleService) Get(ctx context.Context, spreadsheetID string) (*sheets.Spreadsheet, error) {
	return g.svc.Spreadsheets.Get(spreadsheetID).
		Fields("spreadsheetId,sheets(properties,tables,conditionalFormats)").
		Context(ctx).
		Do()
}

func (g *GoogleService) BatchUpdate(ctx context.Context, spreadsheetID string, reqs []*sheets.Request) (*sheets.BatchUpdateSpreadsheetResponse, error) {
	return g.svc.Spreadsheets.BatchUpdate(spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: reqs,
	}).Context(ctx).Do()
}

func (g *GoogleService) GetValues(ctx context.Context, spreadsheetID, rng string) (*sheets.ValueRange, error) {
	return g.svc.Spreadsheets.Values.Get(spreadsheetID, rng).
		ValueRenderOption("UNFORMATTED_VALUE").
		Context(ctx).
		Do()
}

func (g *GoogleService) AppendValues(ctx context.Context, spreadsheetID, rng string, rows [][]any) (*sheets.AppendValuesResponse, error) {
	return g.svc.Spreadsheets.Values.Append(spreadsheetID, rng, &sheets.ValueRange{Values: rows}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("OVERWRITE").
		Context(ctx).
		Do()
}
