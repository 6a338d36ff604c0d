/**
 * @description
 * This package wraps the Google Sheets and Drive APIs for the closing-speed
 * report export. The service hands it a ranked set of rows; the exporter
 * creates a spreadsheet, shares it with the configured account, and writes
 * the values.
 *
 * @dependencies
 * - google.golang.org/api/sheets/v4, google.golang.org/api/drive/v3: Google API clients.
 * - golang.org/x/oauth2/google: service account JWT flow for the API clients.
 */
package sheets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2/google"
	drivev3 "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	sheetsv4 "google.golang.org/api/sheets/v4"
)

const (
	spreadsheetTitle = "Charity fund reports"
	reportSheetTitle = "Project closing speed rating"
)

// ReportRow is one exported line: a closed project and how long it took to
// collect its target.
type ReportRow struct {
	Name        string
	Duration    time.Duration
	Description string
}

// Exporter writes report rows to a freshly created Google spreadsheet.
type Exporter struct {
	sheets     *sheetsv4.Service
	drive      *drivev3.Service
	shareEmail string
}

// NewExporter builds an Exporter from service-account credentials JSON. The
// spreadsheet is shared with shareEmail as a writer so a human can open it.
func NewExporter(ctx context.Context, credentialsJSON []byte, shareEmail string) (*Exporter, error) {
	if len(credentialsJSON) == 0 {
		return nil, errors.New("google credentials are required")
	}

	conf, err := google.JWTConfigFromJSON(credentialsJSON, sheetsv4.SpreadsheetsScope, drivev3.DriveScope)
	if err != nil {
		return nil, fmt.Errorf("parse google credentials: %w", err)
	}
	httpClient := conf.Client(ctx)

	sheetsSvc, err := sheetsv4.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("create sheets client: %w", err)
	}
	driveSvc, err := drivev3.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("create drive client: %w", err)
	}

	return &Exporter{
		sheets:     sheetsSvc,
		drive:      driveSvc,
		shareEmail: shareEmail,
	}, nil
}

// ExportClosingSpeedReport creates a spreadsheet holding the given rows and
// returns its URL. Rows are written in the order given; the caller ranks them.
func (e *Exporter) ExportClosingSpeedReport(ctx context.Context, rows []ReportRow) (string, error) {
	spreadsheetID, err := e.createSpreadsheet(ctx, len(rows)+1)
	if err != nil {
		return "", err
	}
	if err := e.shareWithUser(ctx, spreadsheetID); err != nil {
		return "", err
	}
	if err := e.writeRows(ctx, spreadsheetID, rows); err != nil {
		return "", err
	}
	return fmt.Sprintf("https://docs.google.com/spreadsheets/d/%s", spreadsheetID), nil
}

func (e *Exporter) createSpreadsheet(ctx context.Context, rowCount int) (string, error) {
	spreadsheet := &sheetsv4.Spreadsheet{
		Properties: &sheetsv4.SpreadsheetProperties{
			Title: spreadsheetTitle,
		},
		Sheets: []*sheetsv4.Sheet{
			{
				Properties: &sheetsv4.SheetProperties{
					SheetType: "GRID",
					SheetId:   0,
					Title:     reportSheetTitle,
					GridProperties: &sheetsv4.GridProperties{
						RowCount:    int64(rowCount),
						ColumnCount: 3,
					},
				},
			},
		},
	}
	created, err := e.sheets.Spreadsheets.Create(spreadsheet).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("create spreadsheet: %w", err)
	}
	return created.SpreadsheetId, nil
}

func (e *Exporter) shareWithUser(ctx context.Context, spreadsheetID string) error {
	if e.shareEmail == "" {
		return nil
	}
	permission := &drivev3.Permission{
		Type:         "user",
		Role:         "writer",
		EmailAddress: e.shareEmail,
	}
	_, err := e.drive.Permissions.Create(spreadsheetID, permission).Fields("id").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("share spreadsheet: %w", err)
	}
	return nil
}

func (e *Exporter) writeRows(ctx context.Context, spreadsheetID string, rows []ReportRow) error {
	values := [][]interface{}{
		{"Project name", "Time spent collecting funds", "Description"},
	}
	for _, row := range rows {
		values = append(values, []interface{}{
			row.Name,
			row.Duration.String(),
			row.Description,
		})
	}

	valueRange := &sheetsv4.ValueRange{
		MajorDimension: "ROWS",
		Values:         values,
	}
	writeRange := fmt.Sprintf("%s!A1:C%d", reportSheetTitle, len(values))
	_, err := e.sheets.Spreadsheets.Values.
		Update(spreadsheetID, writeRange, valueRange).
		ValueInputOption("USER_ENTERED").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("write report values: %w", err)
	}
	return nil
}
