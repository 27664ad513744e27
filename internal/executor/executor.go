// ABOUTME: Executes spreadsheet actions and turns every outcome into a human sentence
// ABOUTME: Failures from the spreadsheet service never escape as errors

package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"

	"github.com/2389/palladium-gateway/internal/action"
	"github.com/2389/palladium-gateway/internal/session"
	"github.com/2389/palladium-gateway/internal/sheets"
	"github.com/2389/palladium-gateway/internal/store"
)

// DefaultTitle names spreadsheets created without an explicit title.
const DefaultTitle = "Vendor Inventory"

// maxReadRows bounds how many rows read-table renders into the reply.
const maxReadRows = 20

// ErrConversationNotFound is returned when an idempotent action names an
// unknown conversation.
var ErrConversationNotFound = errors.New("conversation not found")

var (
	// errMissingField marks a request rejected before any spreadsheet call.
	errMissingField  = errors.New("required field missing")
	errNoSpreadsheet = fmt.Errorf("%w: spreadsheet id", errMissingField)
)

// Result is the outcome of one action.
type Result struct {
	Kind      action.Kind
	Success   bool
	HumanText string
	Patch     session.MetadataPatch
}

// Executor runs actions against the spreadsheet service.
type Executor struct {
	sheets sheets.Service
	store  store.Store
	logger *slog.Logger

	provision singleflight.Group
}

// New creates an executor.
func New(svc sheets.Service, st store.Store, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		sheets: svc,
		store:  st,
		logger: logger.With("component", "executor"),
	}
}

// Execute runs p for sess, applies the resulting metadata patch to sess, and
// returns the sentence to show the user. It never fails.
func (e *Executor) Execute(ctx context.Context, p *action.Payload, sess *session.Session) (res Result) {
	res.Kind = p.Kind
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("action panicked", "kind", p.Kind, "conversation_id", sess.ID, "panic", r)
			res = Result{Kind: p.Kind, HumanText: "Sorry, something went wrong while working on the spreadsheet."}
		}
	}()

	args := newArgs(p)

	switch p.Kind {
	case action.KindCreateResource:
		res = e.create(ctx, args, sess)
	case action.KindAppendRow:
		res = e.appendRow(ctx, args, sess)
	case action.KindUpdateRow:
		res = e.updateRow(ctx, args, sess)
	case action.KindAddColumn:
		res = e.addColumn(ctx, args, sess)
	case action.KindFetchLink:
		res = e.fetchLink(ctx, args, sess)
	case action.KindReadTable:
		res = e.readTable(ctx, args, sess)
	default:
		res = failure(fmt.Sprintf("I couldn't understand the spreadsheet action %q.", describe(p)))
	}
	res.Kind = p.Kind

	if !res.Patch.Empty() {
		sess.UpdateMetadata(res.Patch)
	}

	logArgs := []any{"kind", p.Kind, "conversation_id", sess.ID, "success", res.Success, "structured", p.Structured}
	if res.Success {
		e.logger.Info("action executed", logArgs...)
	} else {
		e.logger.Warn("action failed", logArgs...)
	}
	return res
}

func (e *Executor) create(ctx context.Context, a args, sess *session.Session) Result {
	title := a.str([]string{"title", "name"}, func(raw string) (string, bool) { return action.ExtractTitle(raw) })
	if title == "" {
		title = DefaultTitle
	}
	headers := a.list([]string{"headers", "columns"}, func(raw string) []string {
		h, _ := action.ExtractHeaders(raw)
		return h
	})
	if len(headers) == 0 {
		headers = append([]string(nil), action.DefaultHeaders...)
	}

	created, err := e.sheets.CreateResource(ctx, title, headers)
	if err != nil {
		return failure(fmt.Sprintf("Sorry, I couldn't create the spreadsheet %q: %v", title, err))
	}

	sheetName := e.sheets.DefaultSheetName()
	if _, err := e.store.SetResource(ctx, sess.ID, created.ID, created.URL); err != nil && !errors.Is(err, store.ErrNotFound) {
		e.logger.Warn("recording spreadsheet on conversation failed", "conversation_id", sess.ID, "error", err)
	}

	return Result{
		Success:   true,
		HumanText: fmt.Sprintf("I've created the spreadsheet %q. You can open it here: %s", title, created.URL),
		Patch: session.MetadataPatch{
			SpreadsheetID:  &created.ID,
			SpreadsheetURL: &created.URL,
			SheetName:      &sheetName,
		},
	}
}

func (e *Executor) appendRow(ctx context.Context, a args, sess *session.Session) Result {
	tgt, err := e.resolve(ctx, a, sess)
	if err != nil {
		return failure(missing("add the row", err))
	}
	values := a.list([]string{"values", "row"}, func(raw string) []string {
		return action.ExtractList(raw, "values", "row", "data")
	})
	if len(values) == 0 {
		return tgt.fail(missing("add the row", fmt.Errorf("%w: values", errMissingField)))
	}

	out, err := e.sheets.AppendRow(ctx, tgt.id, tgt.sheet, values)
	if err != nil {
		return tgt.fail(fmt.Sprintf("Sorry, I couldn't add the row to the spreadsheet: %v", err))
	}
	if !out.Success {
		return tgt.fail("Sorry, I couldn't add the row to the spreadsheet.")
	}
	text := "I've added the row to the spreadsheet."
	if out.Position > 0 {
		text = fmt.Sprintf("I've added the row to the spreadsheet as row %d.", out.Position)
	}
	return tgt.ok(text)
}

func (e *Executor) updateRow(ctx context.Context, a args, sess *session.Session) Result {
	tgt, err := e.resolve(ctx, a, sess)
	if err != nil {
		return failure(missing("update the row", err))
	}
	rowText := a.str([]string{"row", "row_index", "row_number"}, func(raw string) (string, bool) {
		return action.ExtractField(raw, "row", "row number", "row index")
	})
	row, convErr := strconv.Atoi(strings.TrimSpace(rowText))
	if rowText == "" || convErr != nil {
		return tgt.fail(missing("update the row", fmt.Errorf("%w: row", errMissingField)))
	}
	values := a.list([]string{"values"}, func(raw string) []string {
		return action.ExtractList(raw, "values", "data")
	})
	if len(values) == 0 {
		return tgt.fail(missing("update the row", fmt.Errorf("%w: values", errMissingField)))
	}

	out, err := e.sheets.UpdateRow(ctx, tgt.id, tgt.sheet, row, values)
	if err != nil {
		return tgt.fail(fmt.Sprintf("Sorry, I couldn't update row %d: %v", row, err))
	}
	if !out.Success {
		return tgt.fail(fmt.Sprintf("Sorry, I couldn't update row %d of the spreadsheet.", row))
	}
	return tgt.ok(fmt.Sprintf("I've updated row %d of the spreadsheet.", row))
}

func (e *Executor) addColumn(ctx context.Context, a args, sess *session.Session) Result {
	tgt, err := e.resolve(ctx, a, sess)
	if err != nil {
		return failure(missing("add the column", err))
	}
	name := a.str([]string{"column", "column_name", "name"}, func(raw string) (string, bool) {
		return action.ExtractField(raw, "column", "column name", "name", "header")
	})
	if name == "" {
		return tgt.fail(missing("add the column", fmt.Errorf("%w: column", errMissingField)))
	}

	out, err := e.sheets.AddColumn(ctx, tgt.id, tgt.sheet, name)
	if err != nil {
		return tgt.fail(fmt.Sprintf("Sorry, I couldn't add the column %q: %v", name, err))
	}
	if !out.Success {
		return tgt.fail(fmt.Sprintf("Sorry, I couldn't add the column %q to the spreadsheet.", name))
	}
	return tgt.ok(fmt.Sprintf("I've added the column %q as column %s.", name, out.ColumnLabel))
}

func (e *Executor) fetchLink(ctx context.Context, a args, sess *session.Session) Result {
	tgt, err := e.resolve(ctx, a, sess)
	if err != nil {
		return failure(missing("find the spreadsheet link", err))
	}
	return tgt.ok("Here is the link to your spreadsheet: " + tgt.url)
}

func (e *Executor) readTable(ctx context.Context, a args, sess *session.Session) Result {
	tgt, err := e.resolve(ctx, a, sess)
	if err != nil {
		return failure(missing("read the spreadsheet", err))
	}
	rangeA1 := a.str([]string{"range"}, func(raw string) (string, bool) {
		return action.ExtractField(raw, "range")
	})
	if rangeA1 == "" {
		rangeA1 = sheets.QuoteSheetName(tgt.sheet)
	}

	rows, err := e.sheets.ReadTable(ctx, tgt.id, rangeA1)
	if err != nil {
		return tgt.fail(fmt.Sprintf("Sorry, I couldn't read the spreadsheet: %v", err))
	}
	return tgt.ok(renderRows(rows))
}

// target is a resolved spreadsheet plus the metadata patch that resolving it
// implies for the session.
type target struct {
	id    string
	url   string
	sheet string
	patch session.MetadataPatch
}

func (t target) ok(text string) Result {
	return Result{Success: true, HumanText: text, Patch: t.patch}
}

func (t target) fail(text string) Result {
	return Result{HumanText: text, Patch: t.patch}
}

// resolve finds the spreadsheet an action applies to: explicit arguments
// first, then session metadata, then the persisted conversation record.
func (e *Executor) resolve(ctx context.Context, a args, sess *session.Session) (target, error) {
	meta := sess.Metadata()
	t := target{sheet: meta.SheetName}

	if name := a.str([]string{"sheet_name", "sheet"}, func(raw string) (string, bool) {
		return action.ExtractField(raw, "sheet", "sheet name", "tab")
	}); name != "" {
		t.sheet = name
	}
	if t.sheet == "" {
		t.sheet = e.sheets.DefaultSheetName()
	}

	if id := a.structuredString("spreadsheet_id"); id != "" {
		t.id = id
		t.url = e.sheets.URLFor(id)
		if id == meta.SpreadsheetID && meta.SpreadsheetURL != "" {
			t.url = meta.SpreadsheetURL
		}
		return t, nil
	}

	if meta.SpreadsheetID != "" {
		t.id = meta.SpreadsheetID
		t.url = meta.SpreadsheetURL
		if t.url == "" {
			t.url = e.sheets.URLFor(t.id)
		}
		return t, nil
	}

	chat, err := e.store.GetChat(ctx, sess.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		e.logger.Warn("looking up conversation record failed", "conversation_id", sess.ID, "error", err)
	}
	if err == nil && chat.HasResource() {
		t.id = chat.SpreadsheetID
		t.url = chat.SpreadsheetURL
		if t.url == "" {
			t.url = e.sheets.URLFor(t.id)
		}
		t.patch = session.MetadataPatch{SpreadsheetID: &t.id, SpreadsheetURL: &t.url}
		return t, nil
	}

	return target{}, errNoSpreadsheet
}

func failure(text string) Result {
	return Result{HumanText: text}
}

func missing(verb string, err error) string {
	if errors.Is(err, errNoSpreadsheet) {
		return fmt.Sprintf("Sorry, I couldn't %s: %v. Please create a spreadsheet first.", verb, err)
	}
	return fmt.Sprintf("Sorry, I couldn't %s: %v.", verb, err)
}

func describe(p *action.Payload) string {
	if p.Function != "" {
		return p.Function
	}
	return p.Directive
}

func renderRows(rows []sheets.Row) string {
	if len(rows) == 0 {
		return "The spreadsheet has no rows yet."
	}

	var b strings.Builder
	if len(rows) == 1 {
		b.WriteString("The spreadsheet has 1 row:\n")
	} else {
		fmt.Fprintf(&b, "The spreadsheet has %d rows:\n", len(rows))
	}

	headers := make([]string, len(rows[0]))
	for i, c := range rows[0] {
		headers[i] = c.Header
	}
	b.WriteString("| " + strings.Join(headers, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(headers)) + "\n")

	for i, row := range rows {
		if i == maxReadRows {
			fmt.Fprintf(&b, "(%d more rows not shown)\n", len(rows)-maxReadRows)
			break
		}
		values := make([]string, len(row))
		for j, c := range row {
			values[j] = c.Value
		}
		b.WriteString("| " + strings.Join(values, " | ") + " |\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// args reads action arguments from function-call JSON or free-text markup.
type args struct {
	p    *action.Payload
	json gjson.Result
}

func newArgs(p *action.Payload) args {
	a := args{p: p}
	if p.Structured && gjson.Valid(p.RawArguments) {
		a.json = gjson.Parse(p.RawArguments)
	}
	return a
}

func (a args) structuredString(key string) string {
	if !a.p.Structured {
		return ""
	}
	return strings.TrimSpace(a.json.Get(key).String())
}

// str returns the first non-empty structured key, or the markup extraction.
func (a args) str(keys []string, fromMarkup func(string) (string, bool)) string {
	if a.p.Structured {
		for _, k := range keys {
			if v := a.structuredString(k); v != "" {
				return v
			}
		}
		return ""
	}
	v, _ := fromMarkup(a.p.RawArguments)
	return strings.TrimSpace(v)
}

// list returns a structured array (or comma string), or the markup extraction.
func (a args) list(keys []string, fromMarkup func(string) []string) []string {
	if !a.p.Structured {
		return fromMarkup(a.p.RawArguments)
	}
	for _, k := range keys {
		v := a.json.Get(k)
		if !v.Exists() {
			continue
		}
		var out []string
		if v.IsArray() {
			for _, item := range v.Array() {
				if s := strings.TrimSpace(item.String()); s != "" {
					out = append(out, s)
				}
			}
		} else {
			for _, part := range strings.Split(v.String(), ",") {
				if s := strings.TrimSpace(part); s != "" {
					out = append(out, s)
				}
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}
