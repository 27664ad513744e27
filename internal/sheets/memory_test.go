// ABOUTME: Tests for the in-memory spreadsheet service and A1 helpers
// ABOUTME: Covers success reporting for out-of-range rows and unknown tabs

package sheets

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_CreateAndAppend(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("Vendor Inventory")

	res, err := m.CreateResource(ctx, "Vendors", []string{"Name", "Status"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, "https://docs.google.com/spreadsheets/d/"+res.ID+"/edit", res.URL)

	title, ok := m.Title(res.ID)
	assert.True(t, ok)
	assert.Equal(t, "Vendors", title)

	first, err := m.AppendRow(ctx, res.ID, "", []string{"Acme", "Active"})
	require.NoError(t, err)
	assert.True(t, first.Success)
	assert.Equal(t, 1, first.Position)

	second, err := m.AppendRow(ctx, res.ID, "Vendor Inventory", []string{"Globex"})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Position)

	rows, err := m.ReadTable(ctx, res.ID, "'Vendor Inventory'!A1:B10")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	v, ok := rows[1].Get("Status")
	assert.True(t, ok)
	assert.Equal(t, "", v)
	v, _ = rows[0].Get("Name")
	assert.Equal(t, "Acme", v)
}

func TestMemory_UnknownTabReportsFailure(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("")
	res, err := m.CreateResource(ctx, "T", nil)
	require.NoError(t, err)

	app, err := m.AppendRow(ctx, res.ID, "Nope", []string{"x"})
	require.NoError(t, err)
	assert.False(t, app.Success)

	col, err := m.AddColumn(ctx, res.ID, "Nope", "Owner")
	require.NoError(t, err)
	assert.False(t, col.Success)

	_, err = m.ReadTable(ctx, res.ID, "Nope")
	assert.Error(t, err)
}

func TestMemory_UpdateRowBounds(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("Sheet")
	res, err := m.CreateResource(ctx, "T", []string{"A"})
	require.NoError(t, err)
	_, err = m.AppendRow(ctx, res.ID, "", []string{"one"})
	require.NoError(t, err)

	for _, idx := range []int{0, 2, -1} {
		up, err := m.UpdateRow(ctx, res.ID, "", idx, []string{"x"})
		require.NoError(t, err)
		assert.False(t, up.Success, "row %d", idx)
	}

	up, err := m.UpdateRow(ctx, res.ID, "", 1, []string{"uno"})
	require.NoError(t, err)
	assert.True(t, up.Success)

	rows, err := m.ReadTable(ctx, res.ID, "Sheet")
	require.NoError(t, err)
	v, _ := rows[0].Get("A")
	assert.Equal(t, "uno", v)
}

func TestMemory_AddColumn(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("Sheet")
	res, err := m.CreateResource(ctx, "T", []string{"A", "B"})
	require.NoError(t, err)

	col, err := m.AddColumn(ctx, res.ID, "", "Owner")
	require.NoError(t, err)
	assert.True(t, col.Success)
	assert.Equal(t, "C", col.ColumnLabel)
	assert.Equal(t, []string{"A", "B", "Owner"}, m.Headers(res.ID, "Sheet"))
}

func TestMemory_UnknownSpreadsheet(t *testing.T) {
	m := NewMemory("Sheet")
	_, err := m.AppendRow(context.Background(), "missing", "", []string{"x"})
	assert.True(t, errors.Is(err, ErrSpreadsheetNotFound))
}

func TestColumnLetter(t *testing.T) {
	tests := map[int]string{0: "", 1: "A", 2: "B", 26: "Z", 27: "AA", 52: "AZ", 53: "BA", 702: "ZZ", 703: "AAA"}
	for n, want := range tests {
		assert.Equal(t, want, ColumnLetter(n), "column %d", n)
	}
}

func TestSplitRange(t *testing.T) {
	tests := []struct {
		in, tab, cells string
	}{
		{"Sheet1", "Sheet1", ""},
		{"'Vendor Inventory'!A1:C3", "Vendor Inventory", "A1:C3"},
		{"'It''s'!A:A", "It's", "A:A"},
		{"", "", ""},
	}
	for _, tt := range tests {
		tab, cells := splitRange(tt.in)
		assert.Equal(t, tt.tab, tab, tt.in)
		assert.Equal(t, tt.cells, cells, tt.in)
	}
	assert.Equal(t, "'It''s'", QuoteSheetName("It's"))
}
