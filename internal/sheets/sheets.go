// ABOUTME: Spreadsheet service capability used by the action executor
// ABOUTME: Declares the Service interface, result types, and A1-notation helpers

package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/2389/palladium-gateway/internal/config"
)

// ErrSpreadsheetNotFound is returned when an operation names an unknown spreadsheet.
var ErrSpreadsheetNotFound = errors.New("spreadsheet not found")

// Resource identifies a created spreadsheet.
type Resource struct {
	ID  string
	URL string
}

// AppendResult reports the outcome of appending a row. Position is the
// 1-based data row the values landed in; the header row is not counted.
type AppendResult struct {
	Success  bool
	Position int
}

// UpdateResult reports the outcome of overwriting a row.
type UpdateResult struct {
	Success bool
}

// ColumnResult reports the outcome of adding a column. ColumnLabel is the
// A1 column letter the new header was written to.
type ColumnResult struct {
	Success     bool
	ColumnLabel string
}

// Cell is one header/value pair of a row.
type Cell struct {
	Header string
	Value  string
}

// Row is an ordered header to value mapping.
type Row []Cell

// Get returns the value stored under header.
func (r Row) Get(header string) (string, bool) {
	for _, c := range r {
		if c.Header == header {
			return c.Value, true
		}
	}
	return "", false
}

// Service is the set of spreadsheet operations actions can perform.
// Data rows are addressed 1-based, below the header row.
type Service interface {
	CreateResource(ctx context.Context, title string, headers []string) (*Resource, error)
	AppendRow(ctx context.Context, id, sheetName string, values []string) (*AppendResult, error)
	UpdateRow(ctx context.Context, id, sheetName string, rowIndex int, values []string) (*UpdateResult, error)
	AddColumn(ctx context.Context, id, sheetName, columnName string) (*ColumnResult, error)
	ReadTable(ctx context.Context, id, rangeA1 string) ([]Row, error)
	URLFor(id string) string
	DefaultSheetName() string
}

// New builds the service selected by cfg.Backend.
func New(ctx context.Context, cfg config.SheetsConfig, logger *slog.Logger) (Service, error) {
	switch cfg.Backend {
	case config.SheetsBackendMemory:
		return NewMemory(cfg.SheetName), nil
	case config.SheetsBackendGoogle, "":
		share := true
		if cfg.SharePublic != nil {
			share = *cfg.SharePublic
		}
		return NewGoogleService(ctx, GoogleOptions{
			CredentialsFile:   cfg.CredentialsFile,
			CredentialsJSON:   cfg.CredentialsJSON,
			SheetName:         cfg.SheetName,
			SharePublic:       share,
			RequestsPerSecond: cfg.RequestsPerSecond,
			MaxRetries:        cfg.MaxRetries,
			Logger:            logger,
		})
	default:
		return nil, fmt.Errorf("unknown sheets backend %q", cfg.Backend)
	}
}

// SpreadsheetURL is the browser link for a Google spreadsheet id.
func SpreadsheetURL(id string) string {
	return "https://docs.google.com/spreadsheets/d/" + id + "/edit"
}

// ColumnLetter converts a 1-based column number to its A1 letters.
func ColumnLetter(n int) string {
	if n < 1 {
		return ""
	}
	var b []byte
	for n > 0 {
		n--
		b = append([]byte{byte('A' + n%26)}, b...)
		n /= 26
	}
	return string(b)
}

// QuoteSheetName quotes a tab name for use in an A1 range.
func QuoteSheetName(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

// splitRange separates "'Tab'!A1:B2" into the unquoted tab name and the
// cell part. A bare range without a tab yields an empty tab name.
func splitRange(rangeA1 string) (tab, cells string) {
	rangeA1 = strings.TrimSpace(rangeA1)
	if i := strings.LastIndex(rangeA1, "!"); i >= 0 {
		tab, cells = rangeA1[:i], rangeA1[i+1:]
	} else {
		tab = rangeA1
	}
	if len(tab) >= 2 && tab[0] == '\'' && tab[len(tab)-1] == '\'' {
		tab = strings.ReplaceAll(tab[1:len(tab)-1], "''", "'")
	}
	return tab, cells
}

// buildRows pairs each record with the header row. Cells beyond the headers
// are keyed by their column letter.
func buildRows(headers []string, records [][]string) []Row {
	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		n := len(headers)
		if len(rec) > n {
			n = len(rec)
		}
		row := make(Row, 0, n)
		for i := 0; i < n; i++ {
			h := ColumnLetter(i + 1)
			if i < len(headers) && headers[i] != "" {
				h = headers[i]
			}
			v := ""
			if i < len(rec) {
				v = rec[i]
			}
			row = append(row, Cell{Header: h, Value: v})
		}
		rows = append(rows, row)
	}
	return rows
}
