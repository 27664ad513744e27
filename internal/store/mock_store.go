// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrStoreClosed is returned by MockStore after Close.
var ErrStoreClosed = errors.New("store closed")

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu     sync.RWMutex
	chats  map[string]*Chat // keyed by chat ID
	closed bool
}

var _ Store = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		chats: make(map[string]*Chat),
	}
}

// CreateChat stores a new chat.
func (m *MockStore) CreateChat(ctx context.Context, chat *Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	if _, exists := m.chats[chat.ID]; exists {
		return ErrDuplicateChat
	}

	// Copy so callers can't modify stored state. SQLite keeps second precision.
	c := *chat
	c.CreatedAt = c.CreatedAt.UTC().Truncate(time.Second)
	m.chats[c.ID] = &c
	return nil
}

// GetChat retrieves a chat by ID.
func (m *MockStore) GetChat(ctx context.Context, id string) (*Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	c, ok := m.chats[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *c
	return &out, nil
}

// EnsureChat returns the chat, creating it if absent.
func (m *MockStore) EnsureChat(ctx context.Context, id string) (*Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	c, ok := m.chats[id]
	if !ok {
		c = &Chat{ID: id, CreatedAt: time.Now().UTC().Truncate(time.Second)}
		m.chats[id] = c
	}
	out := *c
	return &out, nil
}

// SetResource links a spreadsheet unless one is already linked.
func (m *MockStore) SetResource(ctx context.Context, id, spreadsheetID, url string) (*Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	c, ok := m.chats[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !c.HasResource() {
		c.SpreadsheetID = spreadsheetID
		c.SpreadsheetURL = url
	}
	out := *c
	return &out, nil
}

// ListChats returns up to limit chats, newest first.
func (m *MockStore) ListChats(ctx context.Context, limit int) ([]*Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	if limit <= 0 {
		limit = 100
	}

	chats := make([]*Chat, 0, len(m.chats))
	for _, c := range m.chats {
		out := *c
		chats = append(chats, &out)
	}
	sort.Slice(chats, func(i, j int) bool {
		if !chats[i].CreatedAt.Equal(chats[j].CreatedAt) {
			return chats[i].CreatedAt.After(chats[j].CreatedAt)
		}
		return chats[i].ID < chats[j].ID
	})

	if len(chats) > limit {
		chats = chats[:limit]
	}
	return chats, nil
}

// Close marks the store closed. Later calls fail with ErrStoreClosed.
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
