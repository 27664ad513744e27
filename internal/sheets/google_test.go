// ABOUTME: Tests for the Google backed spreadsheet service against a fake API server
// ABOUTME: Verifies request shapes, retry on transient errors, and failure mapping

package sheets

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	driveapi "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"
)

type fakeGoogle struct {
	mu       sync.Mutex
	calls    []string
	bodies   map[string]string
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
}

func (f *fakeGoogle) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	key := r.Method + " " + r.URL.Path

	f.mu.Lock()
	f.calls = append(f.calls, key)
	f.bodies[key] = string(body)
	h := f.handlers[key]
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if h == nil {
		_, _ = io.WriteString(w, `{}`)
		return
	}
	h(w, r)
}

func (f *fakeGoogle) handle(key string, h func(http.ResponseWriter, *http.Request)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[key] = h
}

func (f *fakeGoogle) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeGoogle) Body(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[key]
}

func newFakeGoogle(t *testing.T, opts GoogleOptions) (*fakeGoogle, *GoogleService) {
	t.Helper()
	fake := &fakeGoogle{
		bodies:   map[string]string{},
		handlers: map[string]func(http.ResponseWriter, *http.Request){},
	}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	ctx := context.Background()
	sheetsSrv, err := sheetsapi.NewService(ctx,
		option.WithEndpoint(srv.URL+"/"), option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	driveSrv, err := driveapi.NewService(ctx,
		option.WithEndpoint(srv.URL+"/drive/v3/"), option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	opts.retryInitialInterval = time.Millisecond
	return fake, newGoogleService(sheetsSrv, driveSrv, opts)
}

func writeAPIError(w http.ResponseWriter, code int) {
	w.WriteHeader(code)
	_, _ = fmt.Fprintf(w, `{"error":{"code":%d,"message":"nope"}}`, code)
}

const createKey = "POST /v4/spreadsheets"

func createResponse(w http.ResponseWriter, _ *http.Request) {
	_, _ = io.WriteString(w, `{"spreadsheetId":"sheet-1","sheets":[{"properties":{"sheetId":0,"title":"Vendor Inventory"}}]}`)
}

func TestGoogle_CreateResource(t *testing.T) {
	fake, g := newFakeGoogle(t, GoogleOptions{SheetName: "Vendor Inventory", SharePublic: true})
	fake.handle(createKey, createResponse)

	res, err := g.CreateResource(context.Background(), "Vendors", []string{"Name", "Status"})
	require.NoError(t, err)
	assert.Equal(t, "sheet-1", res.ID)
	assert.Equal(t, "https://docs.google.com/spreadsheets/d/sheet-1/edit", res.URL)

	calls := fake.Calls()
	require.Len(t, calls, 4)
	assert.Equal(t, createKey, calls[0])
	assert.Equal(t, "PUT /v4/spreadsheets/sheet-1/values/'Vendor Inventory'!A1", calls[1])
	assert.Equal(t, "POST /v4/spreadsheets/sheet-1:batchUpdate", calls[2])
	assert.Equal(t, "POST /drive/v3/files/sheet-1/permissions", calls[3])

	assert.Contains(t, fake.Body(createKey), `"title":"Vendors"`)
	assert.Contains(t, fake.Body(calls[1]), `["Name","Status"]`)
	format := fake.Body(calls[2])
	assert.Contains(t, format, `"bold":true`)
	assert.Contains(t, format, `"sheetId":0`)
	assert.Contains(t, fake.Body(calls[3]), `"type":"anyone"`)
	assert.Contains(t, fake.Body(calls[3]), `"role":"reader"`)
}

func TestGoogle_CreateResourceWithoutSharing(t *testing.T) {
	fake, g := newFakeGoogle(t, GoogleOptions{SheetName: "Vendor Inventory"})
	fake.handle(createKey, createResponse)

	_, err := g.CreateResource(context.Background(), "Vendors", []string{"Name"})
	require.NoError(t, err)
	for _, c := range fake.Calls() {
		assert.NotContains(t, c, "permissions")
	}
}

func TestGoogle_RetriesTransientErrors(t *testing.T) {
	fake, g := newFakeGoogle(t, GoogleOptions{MaxRetries: 3})
	var attempts atomic.Int32
	fake.handle(createKey, func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			writeAPIError(w, http.StatusServiceUnavailable)
			return
		}
		createResponse(w, r)
	})

	res, err := g.CreateResource(context.Background(), "Vendors", nil)
	require.NoError(t, err)
	assert.Equal(t, "sheet-1", res.ID)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestGoogle_DoesNotRetryClientErrors(t *testing.T) {
	fake, g := newFakeGoogle(t, GoogleOptions{MaxRetries: 3})
	var attempts atomic.Int32
	fake.handle(createKey, func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		writeAPIError(w, http.StatusForbidden)
	})

	_, err := g.CreateResource(context.Background(), "Vendors", nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestGoogle_AppendRowPosition(t *testing.T) {
	fake, g := newFakeGoogle(t, GoogleOptions{SheetName: "Vendor Inventory"})
	fake.handle("POST /v4/spreadsheets/sheet-1/values/'Vendor Inventory'!A1:append", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "USER_ENTERED", r.URL.Query().Get("valueInputOption"))
		_, _ = io.WriteString(w, `{"updates":{"updatedRange":"'Vendor Inventory'!A5:B5"}}`)
	})

	res, err := g.AppendRow(context.Background(), "sheet-1", "", []string{"Acme", "Active"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 4, res.Position)
}

func TestGoogle_AppendRowBadRequestIsFailure(t *testing.T) {
	fake, g := newFakeGoogle(t, GoogleOptions{})
	fake.handle("POST /v4/spreadsheets/sheet-1/values/'Missing'!A1:append", func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, http.StatusBadRequest)
	})

	res, err := g.AppendRow(context.Background(), "sheet-1", "Missing", []string{"x"})
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestGoogle_UpdateRowOutOfRange(t *testing.T) {
	fake, g := newFakeGoogle(t, GoogleOptions{SheetName: "S"})
	fake.handle("GET /v4/spreadsheets/sheet-1/values/'S'!A:A", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"values":[["Name"],["Acme"]]}`)
	})

	res, err := g.UpdateRow(context.Background(), "sheet-1", "", 2, []string{"x"})
	require.NoError(t, err)
	assert.False(t, res.Success)

	res, err = g.UpdateRow(context.Background(), "sheet-1", "", 1, []string{"Globex"})
	require.NoError(t, err)
	assert.True(t, res.Success)

	calls := fake.Calls()
	assert.Equal(t, "PUT /v4/spreadsheets/sheet-1/values/'S'!A2", calls[len(calls)-1])
}

func TestGoogle_AddColumnAndReadTable(t *testing.T) {
	fake, g := newFakeGoogle(t, GoogleOptions{SheetName: "S"})
	fake.handle("GET /v4/spreadsheets/sheet-1/values/'S'!1:1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"values":[["Name","Status"]]}`)
	})
	fake.handle("GET /v4/spreadsheets/sheet-1/values/'S'", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"values":[["Name","Status"],["Acme","Active"],["Globex"]]}`)
	})

	col, err := g.AddColumn(context.Background(), "sheet-1", "", "Owner")
	require.NoError(t, err)
	assert.True(t, col.Success)
	assert.Equal(t, "C", col.ColumnLabel)
	assert.Contains(t, fake.Calls(), "PUT /v4/spreadsheets/sheet-1/values/'S'!C1")

	rows, err := g.ReadTable(context.Background(), "sheet-1", "")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, Row{{Header: "Name", Value: "Acme"}, {Header: "Status", Value: "Active"}}, rows[0])
	assert.Equal(t, Row{{Header: "Name", Value: "Globex"}, {Header: "Status", Value: ""}}, rows[1])
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(&googleapi.Error{Code: 429}))
	assert.True(t, isRetryable(&googleapi.Error{Code: 503}))
	assert.False(t, isRetryable(&googleapi.Error{Code: 404}))
	assert.False(t, isRetryable(context.Canceled))
	assert.True(t, strings.HasPrefix(SpreadsheetURL("x"), "https://docs.google.com/"))
}
