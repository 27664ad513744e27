// ABOUTME: Conversation session holding ordered message history and typed metadata
// ABOUTME: Provides the per-session turn lock that serializes concurrent requests

package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message is a single entry in a conversation history.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Metadata is the fixed set of values a session carries between turns.
// Empty strings mean unset.
type Metadata struct {
	SpreadsheetID  string `json:"spreadsheet_id,omitempty"`
	SpreadsheetURL string `json:"spreadsheet_url,omitempty"`
	SheetName      string `json:"sheet_name,omitempty"`
}

// MetadataPatch describes a partial metadata update. Nil fields are left unchanged.
type MetadataPatch struct {
	SpreadsheetID  *string
	SpreadsheetURL *string
	SheetName      *string
}

// Empty reports whether the patch changes nothing.
func (p MetadataPatch) Empty() bool {
	return p.SpreadsheetID == nil && p.SpreadsheetURL == nil && p.SheetName == nil
}

// Session is the in-memory state of one conversation.
type Session struct {
	ID        string
	Model     string
	CreatedAt time.Time

	mu         sync.RWMutex
	history    []Message
	meta       Metadata
	instructed bool
	seeded     bool

	// turn is a one-slot semaphore held for the duration of a turn
	turn chan struct{}
}

// New creates an empty session pinned to model.
func New(id, model string) *Session {
	return &Session{
		ID:        id,
		Model:     model,
		CreatedAt: time.Now(),
		turn:      make(chan struct{}, 1),
	}
}

// Append adds a message to the end of the history.
func (s *Session) Append(role Role, content string) {
	s.AppendAll(Message{Role: role, Content: content})
}

// AppendAll adds messages to the end of the history in order.
// Messages without a timestamp are stamped with the current time.
// It panics if a message has an unknown role, before appending any of them.
func (s *Session) AppendAll(msgs ...Message) {
	if len(msgs) == 0 {
		return
	}
	for _, m := range msgs {
		if !m.Role.Valid() {
			panic(fmt.Sprintf("session %s: invalid message role %q", s.ID, m.Role))
		}
	}
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		s.history = append(s.history, m)
	}
}

// Snapshot returns a copy of the history.
func (s *Session) Snapshot() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Message, len(s.history))
	copy(out, s.history)
	return out
}

// Len returns the number of messages in the history.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

// Metadata returns a copy of the session metadata.
func (s *Session) Metadata() Metadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta
}

// UpdateMetadata applies p atomically and returns the resulting metadata.
func (s *Session) UpdateMetadata(p MetadataPatch) Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.SpreadsheetID != nil {
		s.meta.SpreadsheetID = *p.SpreadsheetID
	}
	if p.SpreadsheetURL != nil {
		s.meta.SpreadsheetURL = *p.SpreadsheetURL
	}
	if p.SheetName != nil {
		s.meta.SheetName = *p.SheetName
	}
	return s.meta
}

// Instructed reports whether the instruction prompt is already in the history.
func (s *Session) Instructed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.instructed
}

// MarkInstructed records that the instruction prompt has been added.
func (s *Session) MarkInstructed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instructed = true
}

// Seeded reports whether the session has been seeded from its stored record.
func (s *Session) Seeded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seeded
}

// MarkSeeded records that seeding has run, whether or not it added anything.
func (s *Session) MarkSeeded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seeded = true
}

// Lock acquires the session's turn lock, waiting until ctx is done.
// The returned function releases it and must be called exactly once.
func (s *Session) Lock(ctx context.Context) (func(), error) {
	select {
	case s.turn <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() { <-s.turn })
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
