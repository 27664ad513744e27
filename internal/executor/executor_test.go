// ABOUTME: Tests for action execution, resource resolution, and idempotent provisioning
// ABOUTME: Uses the in-memory spreadsheet service and an in-memory SQLite store

package executor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/palladium-gateway/internal/action"
	"github.com/2389/palladium-gateway/internal/session"
	"github.com/2389/palladium-gateway/internal/sheets"
	"github.com/2389/palladium-gateway/internal/store"
)

// countingSheets wraps Memory and counts creations.
type countingSheets struct {
	*sheets.Memory
	creates atomic.Int32
}

func (c *countingSheets) CreateResource(ctx context.Context, title string, headers []string) (*sheets.Resource, error) {
	c.creates.Add(1)
	return c.Memory.CreateResource(ctx, title, headers)
}

// failingSheets returns err from every mutating call.
type failingSheets struct {
	*sheets.Memory
	err error
}

func (f *failingSheets) CreateResource(context.Context, string, []string) (*sheets.Resource, error) {
	return nil, f.err
}

func (f *failingSheets) AppendRow(context.Context, string, string, []string) (*sheets.AppendResult, error) {
	return nil, f.err
}

// panickingSheets panics on append.
type panickingSheets struct {
	*sheets.Memory
}

func (p *panickingSheets) AppendRow(context.Context, string, string, []string) (*sheets.AppendResult, error) {
	panic("boom")
}

type fixture struct {
	exec  *Executor
	mem   *sheets.Memory
	store *store.SQLiteStore
	sess  *session.Session
}

func newFixture(t *testing.T, wrap func(*sheets.Memory) sheets.Service) *fixture {
	t.Helper()
	mem := sheets.NewMemory("Vendor Inventory")
	var svc sheets.Service = mem
	if wrap != nil {
		svc = wrap(mem)
	}

	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	_, err = st.EnsureChat(context.Background(), "conv-1")
	require.NoError(t, err)

	return &fixture{
		exec:  New(svc, st, nil),
		mem:   mem,
		store: st,
		sess:  session.New("conv-1", "gpt-4o"),
	}
}

func markup(raw string) *action.Payload {
	r := action.NewRecognizer()
	segs := r.Feed(action.OpenMarker + raw + action.CloseMarker)
	for _, s := range segs {
		if s.IsAction() {
			return s.Action
		}
	}
	panic("no action in " + raw)
}

func (f *fixture) withSpreadsheet(t *testing.T, headers ...string) string {
	t.Helper()
	res, err := f.mem.CreateResource(context.Background(), "T", headers)
	require.NoError(t, err)
	id, url := res.ID, res.URL
	f.sess.UpdateMetadata(session.MetadataPatch{SpreadsheetID: &id, SpreadsheetURL: &url})
	return id
}

func TestExecute_CreateFromMarkup(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res := f.exec.Execute(ctx, markup(" Create a spreadsheet\nTitle: Vendors\nHeaders:\n- Name\n- Status\n"), f.sess)

	require.True(t, res.Success, res.HumanText)
	assert.Equal(t, action.KindCreateResource, res.Kind)
	meta := f.sess.Metadata()
	require.NotEmpty(t, meta.SpreadsheetID)
	assert.Contains(t, res.HumanText, `"Vendors"`)
	assert.Contains(t, res.HumanText, meta.SpreadsheetURL)
	assert.Equal(t, "Vendor Inventory", meta.SheetName)

	title, _ := f.mem.Title(meta.SpreadsheetID)
	assert.Equal(t, "Vendors", title)
	assert.Equal(t, []string{"Name", "Status"}, f.mem.Headers(meta.SpreadsheetID, "Vendor Inventory"))

	chat, err := f.store.GetChat(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, meta.SpreadsheetID, chat.SpreadsheetID)
}

func TestExecute_CreateFallsBackToDefaults(t *testing.T) {
	f := newFixture(t, nil)

	res := f.exec.Execute(context.Background(), markup(" Create a spreadsheet"), f.sess)

	require.True(t, res.Success)
	id := f.sess.Metadata().SpreadsheetID
	title, _ := f.mem.Title(id)
	assert.Equal(t, DefaultTitle, title)
	assert.Equal(t, action.DefaultHeaders, f.mem.Headers(id, "Vendor Inventory"))
}

func TestExecute_CreateDoesNotReplaceStoredResource(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.store.SetResource(ctx, "conv-1", "first", "https://example.com/first")
	require.NoError(t, err)

	res := f.exec.Execute(ctx, action.FromFunctionCall("c1", action.FunctionCreateSpreadsheet, `{"title":"Second"}`), f.sess)
	require.True(t, res.Success)

	chat, err := f.store.GetChat(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "first", chat.SpreadsheetID)
	assert.NotEqual(t, "first", f.sess.Metadata().SpreadsheetID)
}

func TestExecute_CreateFromFunctionCall(t *testing.T) {
	f := newFixture(t, nil)

	p := action.FromFunctionCall("call_1", action.FunctionCreateSpreadsheet, `{"title":"Suppliers","headers":["Vendor","Tier"]}`)
	res := f.exec.Execute(context.Background(), p, f.sess)

	require.True(t, res.Success)
	id := f.sess.Metadata().SpreadsheetID
	title, _ := f.mem.Title(id)
	assert.Equal(t, "Suppliers", title)
	assert.Equal(t, []string{"Vendor", "Tier"}, f.mem.Headers(id, "Vendor Inventory"))
}

func TestExecute_MissingResourceIsRejectedBeforeCalling(t *testing.T) {
	f := newFixture(t, func(m *sheets.Memory) sheets.Service {
		return &panickingSheets{Memory: m}
	})

	for _, p := range []*action.Payload{
		markup(" Add a row\nValues: Acme, Active"),
		markup(" update row\nRow: 1\nValues: x"),
		markup(" add column\nColumn: Owner"),
		markup(" get link"),
		markup(" read the table"),
	} {
		res := f.exec.Execute(context.Background(), p, f.sess)
		assert.False(t, res.Success, p.Directive)
		assert.Contains(t, res.HumanText, "required field missing", p.Directive)
		assert.Contains(t, res.HumanText, "create a spreadsheet first", p.Directive)
	}
}

func TestExecute_AppendRow(t *testing.T) {
	f := newFixture(t, nil)
	id := f.withSpreadsheet(t, "Name", "Status")

	res := f.exec.Execute(context.Background(), markup(" Add a row\nValues: Acme, Active"), f.sess)
	require.True(t, res.Success, res.HumanText)
	assert.Equal(t, "I've added the row to the spreadsheet as row 1.", res.HumanText)

	res = f.exec.Execute(context.Background(),
		action.FromFunctionCall("c", action.FunctionAppendRow, `{"values":["Globex","Pending"]}`), f.sess)
	require.True(t, res.Success)
	assert.Contains(t, res.HumanText, "row 2")

	rows, err := f.mem.ReadTable(context.Background(), id, "Vendor Inventory")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	v, _ := rows[1].Get("Status")
	assert.Equal(t, "Pending", v)
}

func TestExecute_AppendRowReportedFailureBecomesSentence(t *testing.T) {
	f := newFixture(t, nil)
	f.withSpreadsheet(t, "Name")

	p := action.FromFunctionCall("c", action.FunctionAppendRow, `{"sheet_name":"Missing","values":["x"]}`)
	res := f.exec.Execute(context.Background(), p, f.sess)

	assert.False(t, res.Success)
	assert.Equal(t, "Sorry, I couldn't add the row to the spreadsheet.", res.HumanText)
}

func TestExecute_AppendRowWithoutValues(t *testing.T) {
	f := newFixture(t, nil)
	f.withSpreadsheet(t, "Name")

	res := f.exec.Execute(context.Background(), markup(" Add a row"), f.sess)
	assert.False(t, res.Success)
	assert.Contains(t, res.HumanText, "required field missing: values")
}

func TestExecute_ServiceErrorBecomesSentence(t *testing.T) {
	f := newFixture(t, func(m *sheets.Memory) sheets.Service {
		return &failingSheets{Memory: m, err: errors.New("quota exceeded")}
	})
	f.withSpreadsheet(t, "Name")

	res := f.exec.Execute(context.Background(), markup(" Add a row\nValues: x"), f.sess)
	assert.False(t, res.Success)
	assert.Contains(t, res.HumanText, "quota exceeded")

	res = f.exec.Execute(context.Background(), markup(" Create a spreadsheet\nTitle: X"), f.sess)
	assert.False(t, res.Success)
	assert.Contains(t, res.HumanText, "couldn't create the spreadsheet")
}

func TestExecute_PanicBecomesSentence(t *testing.T) {
	f := newFixture(t, func(m *sheets.Memory) sheets.Service {
		return &panickingSheets{Memory: m}
	})
	f.withSpreadsheet(t, "Name")

	res := f.exec.Execute(context.Background(), markup(" Add a row\nValues: x"), f.sess)
	assert.False(t, res.Success)
	assert.Equal(t, action.KindAppendRow, res.Kind)
	assert.NotEmpty(t, res.HumanText)
}

func TestExecute_ResolvesFromConversationRecord(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	created, err := f.mem.CreateResource(ctx, "T", []string{"Name"})
	require.NoError(t, err)
	_, err = f.store.SetResource(ctx, "conv-1", created.ID, created.URL)
	require.NoError(t, err)

	res := f.exec.Execute(ctx, markup(" get link"), f.sess)

	require.True(t, res.Success)
	assert.Equal(t, "Here is the link to your spreadsheet: "+created.URL, res.HumanText)
	assert.Equal(t, created.ID, f.sess.Metadata().SpreadsheetID)
}

func TestExecute_StructuredIDWins(t *testing.T) {
	f := newFixture(t, nil)
	f.withSpreadsheet(t, "Name")
	other, err := f.mem.CreateResource(context.Background(), "Other", []string{"Name"})
	require.NoError(t, err)

	p := action.FromFunctionCall("c", action.FunctionGetLink, `{"spreadsheet_id":"`+other.ID+`"}`)
	res := f.exec.Execute(context.Background(), p, f.sess)
	require.True(t, res.Success)
	assert.Contains(t, res.HumanText, other.ID)
}

func TestExecute_UpdateRow(t *testing.T) {
	f := newFixture(t, nil)
	f.withSpreadsheet(t, "Name")
	f.exec.Execute(context.Background(), markup(" Add a row\nValues: Acme"), f.sess)

	res := f.exec.Execute(context.Background(), markup(" Update row\nRow: 5\nValues: x"), f.sess)
	assert.False(t, res.Success)
	assert.Equal(t, "Sorry, I couldn't update row 5 of the spreadsheet.", res.HumanText)

	res = f.exec.Execute(context.Background(),
		action.FromFunctionCall("c", action.FunctionUpdateRow, `{"row":1,"values":["Initech"]}`), f.sess)
	assert.True(t, res.Success, res.HumanText)

	res = f.exec.Execute(context.Background(), markup(" Update row\nValues: x"), f.sess)
	assert.Contains(t, res.HumanText, "required field missing: row")
}

func TestExecute_AddColumn(t *testing.T) {
	f := newFixture(t, nil)
	id := f.withSpreadsheet(t, "Name", "Status")

	res := f.exec.Execute(context.Background(), markup(" Add column\nColumn: Owner"), f.sess)
	require.True(t, res.Success, res.HumanText)
	assert.Equal(t, `I've added the column "Owner" as column C.`, res.HumanText)
	assert.Equal(t, []string{"Name", "Status", "Owner"}, f.mem.Headers(id, "Vendor Inventory"))
}

func TestExecute_ReadTable(t *testing.T) {
	f := newFixture(t, nil)
	f.withSpreadsheet(t, "Name", "Status")

	res := f.exec.Execute(context.Background(), markup(" Read the table"), f.sess)
	require.True(t, res.Success)
	assert.Equal(t, "The spreadsheet has no rows yet.", res.HumanText)

	f.exec.Execute(context.Background(), markup(" Add a row\nValues: Acme, Active"), f.sess)
	res = f.exec.Execute(context.Background(), markup(" Read the table"), f.sess)
	require.True(t, res.Success)
	assert.Equal(t, "The spreadsheet has 1 row:\n| Name | Status |\n| --- | --- |\n| Acme | Active |", res.HumanText)
}

func TestExecute_UnknownAction(t *testing.T) {
	f := newFixture(t, nil)

	res := f.exec.Execute(context.Background(), markup(" Dance wildly"), f.sess)
	assert.False(t, res.Success)
	assert.Equal(t, action.KindUnknown, res.Kind)
	assert.Contains(t, res.HumanText, "Dance wildly")
}

func TestEnsureResource_UnknownConversation(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.exec.EnsureResource(context.Background(), "nope", "", nil)
	assert.True(t, errors.Is(err, ErrConversationNotFound))
}

func TestEnsureResource_IsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.exec.EnsureResource(ctx, "conv-1", "Vendors", []string{"Name"})
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.NotEmpty(t, first.SpreadsheetID)

	second, err := f.exec.EnsureResource(ctx, "conv-1", "Other", nil)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.SpreadsheetID, second.SpreadsheetID)
	assert.Equal(t, first.URL, second.URL)
}

func TestEnsureResource_ConcurrentCallsCreateOnce(t *testing.T) {
	var counter *countingSheets
	f := newFixture(t, func(m *sheets.Memory) sheets.Service {
		counter = &countingSheets{Memory: m}
		return counter
	})

	var wg sync.WaitGroup
	ids := make([]string, 16)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.exec.EnsureResource(context.Background(), "conv-1", "", nil)
			if err != nil {
				t.Errorf("EnsureResource: %v", err)
				return
			}
			ids[i] = res.SpreadsheetID
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), counter.creates.Load())
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestRecord(t *testing.T) {
	f := newFixture(t, nil)
	res, err := f.exec.EnsureResource(context.Background(), "conv-1", "", nil)
	require.NoError(t, err)

	f.exec.Record(f.sess, res)
	f.exec.Record(f.sess, res)

	history := f.sess.Snapshot()
	require.Len(t, history, 1)
	assert.Equal(t, session.RoleSystem, history[0].Role)
	assert.Equal(t, "Created spreadsheet: "+res.URL, history[0].Content)
	assert.Equal(t, res.SpreadsheetID, f.sess.Metadata().SpreadsheetID)
	assert.True(t, strings.HasPrefix(res.URL, "https://docs.google.com/spreadsheets/d/"))
}
