// ABOUTME: In-process spreadsheet service for local development and tests
// ABOUTME: Mirrors the Google backend's addressing and success reporting

package sheets

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

type memTab struct {
	headers []string
	rows    [][]string
}

type memSpreadsheet struct {
	title string
	tabs  map[string]*memTab
}

// Memory is a Service that keeps spreadsheets in memory.
type Memory struct {
	sheetName string

	mu     sync.Mutex
	sheets map[string]*memSpreadsheet
}

var _ Service = (*Memory)(nil)

// NewMemory returns an empty in-memory service. New spreadsheets get a single
// tab named sheetName.
func NewMemory(sheetName string) *Memory {
	if sheetName == "" {
		sheetName = "Vendor Inventory"
	}
	return &Memory{
		sheetName: sheetName,
		sheets:    make(map[string]*memSpreadsheet),
	}
}

func (m *Memory) DefaultSheetName() string {
	return m.sheetName
}

func (m *Memory) URLFor(id string) string {
	return SpreadsheetURL(id)
}

func (m *Memory) CreateResource(ctx context.Context, title string, headers []string) (*Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := uuid.New().String()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sheets[id] = &memSpreadsheet{
		title: title,
		tabs: map[string]*memTab{
			m.sheetName: {headers: append([]string(nil), headers...)},
		},
	}
	return &Resource{ID: id, URL: m.URLFor(id)}, nil
}

func (m *Memory) AppendRow(ctx context.Context, id, sheetName string, values []string) (*AppendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tab, err := m.tab(id, sheetName)
	if err != nil {
		return nil, err
	}
	if tab == nil {
		return &AppendResult{Success: false}, nil
	}
	tab.rows = append(tab.rows, append([]string(nil), values...))
	return &AppendResult{Success: true, Position: len(tab.rows)}, nil
}

func (m *Memory) UpdateRow(ctx context.Context, id, sheetName string, rowIndex int, values []string) (*UpdateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tab, err := m.tab(id, sheetName)
	if err != nil {
		return nil, err
	}
	if tab == nil || rowIndex < 1 || rowIndex > len(tab.rows) {
		return &UpdateResult{Success: false}, nil
	}
	tab.rows[rowIndex-1] = append([]string(nil), values...)
	return &UpdateResult{Success: true}, nil
}

func (m *Memory) AddColumn(ctx context.Context, id, sheetName, columnName string) (*ColumnResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tab, err := m.tab(id, sheetName)
	if err != nil {
		return nil, err
	}
	if tab == nil {
		return &ColumnResult{Success: false}, nil
	}
	tab.headers = append(tab.headers, columnName)
	return &ColumnResult{Success: true, ColumnLabel: ColumnLetter(len(tab.headers))}, nil
}

func (m *Memory) ReadTable(ctx context.Context, id, rangeA1 string) ([]Row, error) {
	name, _ := splitRange(rangeA1)

	m.mu.Lock()
	defer m.mu.Unlock()

	tab, err := m.tab(id, name)
	if err != nil {
		return nil, err
	}
	if tab == nil {
		return nil, fmt.Errorf("unknown sheet %q", name)
	}
	return buildRows(tab.headers, tab.rows), nil
}

// Title returns the title a spreadsheet was created with.
func (m *Memory) Title(id string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sheets[id]
	if !ok {
		return "", false
	}
	return s.title, true
}

// Headers returns a copy of a tab's header row.
func (m *Memory) Headers(id, sheetName string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	tab, _ := m.tab(id, sheetName)
	if tab == nil {
		return nil
	}
	return append([]string(nil), tab.headers...)
}

// tab must be called with m.mu held. A nil tab with a nil error means the
// spreadsheet exists but has no such tab.
func (m *Memory) tab(id, sheetName string) (*memTab, error) {
	s, ok := m.sheets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSpreadsheetNotFound, id)
	}
	if sheetName == "" {
		sheetName = m.sheetName
	}
	return s.tabs[sheetName], nil
}
