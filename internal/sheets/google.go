// ABOUTME: Google Sheets and Drive backed spreadsheet service
// ABOUTME: Rate limits every call and retries throttled or failed requests with backoff

package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
	driveapi "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"
)

const (
	defaultRetryInitialInterval = 500 * time.Millisecond
	defaultRetryMaxInterval     = 10 * time.Second
)

// headerGrey is the background applied to the header row.
var headerGrey = &sheetsapi.Color{Red: 0.9, Green: 0.9, Blue: 0.9}

var updatedRowPattern = regexp.MustCompile(`!\$?[A-Za-z]+\$?(\d+)`)

// GoogleOptions configures a GoogleService.
type GoogleOptions struct {
	CredentialsFile   string
	CredentialsJSON   string
	SheetName         string
	SharePublic       bool
	RequestsPerSecond float64
	MaxRetries        int
	Logger            *slog.Logger

	// ClientOptions are appended after the credential options for both APIs.
	ClientOptions []option.ClientOption

	retryInitialInterval time.Duration
}

// GoogleService implements Service against the Google Sheets v4 and Drive v3 APIs.
type GoogleService struct {
	sheets  *sheetsapi.Service
	drive   *driveapi.Service
	opts    GoogleOptions
	limiter *rate.Limiter
	logger  *slog.Logger
}

var _ Service = (*GoogleService)(nil)

// NewGoogleService authenticates with the configured service account credentials.
func NewGoogleService(ctx context.Context, opts GoogleOptions) (*GoogleService, error) {
	var clientOpts []option.ClientOption
	switch {
	case opts.CredentialsJSON != "":
		clientOpts = append(clientOpts, option.WithCredentialsJSON([]byte(opts.CredentialsJSON)))
	case opts.CredentialsFile != "":
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	clientOpts = append(clientOpts, option.WithScopes(sheetsapi.SpreadsheetsScope, driveapi.DriveScope))
	clientOpts = append(clientOpts, opts.ClientOptions...)

	sheetsSrv, err := sheetsapi.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating sheets client: %w", err)
	}
	driveSrv, err := driveapi.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating drive client: %w", err)
	}
	return newGoogleService(sheetsSrv, driveSrv, opts), nil
}

func newGoogleService(sheetsSrv *sheetsapi.Service, driveSrv *driveapi.Service, opts GoogleOptions) *GoogleService {
	if opts.SheetName == "" {
		opts.SheetName = "Vendor Inventory"
	}
	if opts.retryInitialInterval == 0 {
		opts.retryInitialInterval = defaultRetryInitialInterval
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &GoogleService{
		sheets:  sheetsSrv,
		drive:   driveSrv,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.With("component", "sheets"),
	}
}

func (g *GoogleService) DefaultSheetName() string {
	return g.opts.SheetName
}

func (g *GoogleService) URLFor(id string) string {
	return SpreadsheetURL(id)
}

// CreateResource creates a spreadsheet with one tab, writes and formats the
// header row, and optionally shares it with anyone holding the link.
func (g *GoogleService) CreateResource(ctx context.Context, title string, headers []string) (*Resource, error) {
	var created *sheetsapi.Spreadsheet
	err := g.call(ctx, "create", func() error {
		var err error
		created, err = g.sheets.Spreadsheets.Create(&sheetsapi.Spreadsheet{
			Properties: &sheetsapi.SpreadsheetProperties{Title: title},
			Sheets: []*sheetsapi.Sheet{
				{Properties: &sheetsapi.SheetProperties{Title: g.opts.SheetName}},
			},
		}).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating spreadsheet: %w", err)
	}
	id := created.SpreadsheetId

	var tabID int64
	if len(created.Sheets) > 0 && created.Sheets[0].Properties != nil {
		tabID = created.Sheets[0].Properties.SheetId
	}

	if len(headers) > 0 {
		err = g.call(ctx, "write headers", func() error {
			_, err := g.sheets.Spreadsheets.Values.Update(id, QuoteSheetName(g.opts.SheetName)+"!A1",
				&sheetsapi.ValueRange{Values: [][]interface{}{toInterfaces(headers)}}).
				ValueInputOption("RAW").Context(ctx).Do()
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("writing headers: %w", err)
		}

		err = g.call(ctx, "format headers", func() error {
			_, err := g.sheets.Spreadsheets.BatchUpdate(id, &sheetsapi.BatchUpdateSpreadsheetRequest{
				Requests: []*sheetsapi.Request{{
					RepeatCell: &sheetsapi.RepeatCellRequest{
						Range: &sheetsapi.GridRange{
							SheetId:         tabID,
							StartRowIndex:   0,
							EndRowIndex:     1,
							ForceSendFields: []string{"SheetId", "StartRowIndex"},
						},
						Cell: &sheetsapi.CellData{
							UserEnteredFormat: &sheetsapi.CellFormat{
								TextFormat:      &sheetsapi.TextFormat{Bold: true},
								BackgroundColor: headerGrey,
							},
						},
						Fields: "userEnteredFormat(textFormat,backgroundColor)",
					},
				}},
			}).Context(ctx).Do()
			return err
		})
		if err != nil {
			g.logger.Warn("formatting header row failed", "spreadsheet_id", id, "error", err)
		}
	}

	if g.opts.SharePublic {
		err = g.call(ctx, "share", func() error {
			_, err := g.drive.Permissions.Create(id, &driveapi.Permission{Type: "anyone", Role: "reader"}).
				Fields("id").Context(ctx).Do()
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("sharing spreadsheet: %w", err)
		}
	}

	g.logger.Info("spreadsheet created", "spreadsheet_id", id, "title", title)
	return &Resource{ID: id, URL: g.URLFor(id)}, nil
}

func (g *GoogleService) AppendRow(ctx context.Context, id, sheetName string, values []string) (*AppendResult, error) {
	var resp *sheetsapi.AppendValuesResponse
	err := g.call(ctx, "append", func() error {
		var err error
		resp, err = g.sheets.Spreadsheets.Values.Append(id, g.tabRange(sheetName, "A1"),
			&sheetsapi.ValueRange{Values: [][]interface{}{toInterfaces(values)}}).
			ValueInputOption("USER_ENTERED").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
		return err
	})
	if err != nil {
		if isBadRequest(err) {
			return &AppendResult{Success: false}, nil
		}
		return nil, err
	}

	result := &AppendResult{Success: true}
	if resp.Updates != nil {
		if m := updatedRowPattern.FindStringSubmatch(resp.Updates.UpdatedRange); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				result.Position = n - 1
			}
		}
	}
	return result, nil
}

func (g *GoogleService) UpdateRow(ctx context.Context, id, sheetName string, rowIndex int, values []string) (*UpdateResult, error) {
	if rowIndex < 1 {
		return &UpdateResult{Success: false}, nil
	}
	records, err := g.values(ctx, id, g.tabRange(sheetName, "A:A"))
	if err != nil {
		if isBadRequest(err) {
			return &UpdateResult{Success: false}, nil
		}
		return nil, err
	}
	// records includes the header row
	if rowIndex > len(records)-1 {
		return &UpdateResult{Success: false}, nil
	}

	sheetRow := strconv.Itoa(rowIndex + 1)
	err = g.call(ctx, "update", func() error {
		_, err := g.sheets.Spreadsheets.Values.Update(id, g.tabRange(sheetName, "A"+sheetRow),
			&sheetsapi.ValueRange{Values: [][]interface{}{toInterfaces(values)}}).
			ValueInputOption("USER_ENTERED").Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}
	return &UpdateResult{Success: true}, nil
}

func (g *GoogleService) AddColumn(ctx context.Context, id, sheetName, columnName string) (*ColumnResult, error) {
	records, err := g.values(ctx, id, g.tabRange(sheetName, "1:1"))
	if err != nil {
		if isBadRequest(err) {
			return &ColumnResult{Success: false}, nil
		}
		return nil, err
	}
	next := 1
	if len(records) > 0 {
		next = len(records[0]) + 1
	}
	label := ColumnLetter(next)

	err = g.call(ctx, "add column", func() error {
		_, err := g.sheets.Spreadsheets.Values.Update(id, g.tabRange(sheetName, label+"1"),
			&sheetsapi.ValueRange{Values: [][]interface{}{{columnName}}}).
			ValueInputOption("RAW").Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}
	return &ColumnResult{Success: true, ColumnLabel: label}, nil
}

// ReadTable reads rangeA1 and treats its first row as the header row.
func (g *GoogleService) ReadTable(ctx context.Context, id, rangeA1 string) ([]Row, error) {
	if rangeA1 == "" {
		rangeA1 = QuoteSheetName(g.opts.SheetName)
	}
	records, err := g.values(ctx, id, rangeA1)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return buildRows(records[0], records[1:]), nil
}

func (g *GoogleService) values(ctx context.Context, id, rangeA1 string) ([][]string, error) {
	var vr *sheetsapi.ValueRange
	err := g.call(ctx, "get values", func() error {
		var err error
		vr, err = g.sheets.Spreadsheets.Values.Get(id, rangeA1).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([][]string, 0, len(vr.Values))
	for _, row := range vr.Values {
		rec := make([]string, len(row))
		for i, v := range row {
			rec[i] = fmt.Sprint(v)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (g *GoogleService) tabRange(sheetName, cells string) string {
	if sheetName == "" {
		sheetName = g.opts.SheetName
	}
	return QuoteSheetName(sheetName) + "!" + cells
}

// call waits on the rate limiter and runs fn, retrying transient API errors.
func (g *GoogleService) call(ctx context.Context, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.opts.retryInitialInterval
	b.MaxInterval = defaultRetryMaxInterval
	b.RandomizationFactor = 0.5
	b.Reset()
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(g.opts.MaxRetries, 0))), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return backoff.Permanent(err)
		}
		g.logger.Warn("sheets call failed, retrying", "op", op, "attempt", attempt, "error", err)
		return err
	}, policy)
}

func isRetryable(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
}

func isBadRequest(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusBadRequest
}

func toInterfaces(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
