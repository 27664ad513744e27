// ABOUTME: Store interface and data types for palladium-gateway persistence
// ABOUTME: Defines the Chat record linking a conversation to its spreadsheet

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateChat is returned when trying to create a chat that already exists
var ErrDuplicateChat = errors.New("chat already exists")

// Chat is the persisted record of a conversation.
// SpreadsheetID is empty until a spreadsheet has been created for it.
type Chat struct {
	ID             string
	CreatedAt      time.Time
	SpreadsheetID  string
	SpreadsheetURL string
}

// HasResource reports whether a spreadsheet is linked to the chat.
func (c *Chat) HasResource() bool {
	return c.SpreadsheetID != ""
}

// Store defines the persistence operations for conversation records
type Store interface {
	// CreateChat inserts a new chat. Returns ErrDuplicateChat if the id exists.
	CreateChat(ctx context.Context, chat *Chat) error

	// GetChat retrieves a chat by id. Returns ErrNotFound if absent.
	GetChat(ctx context.Context, id string) (*Chat, error)

	// EnsureChat returns the chat with the given id, creating it if absent.
	EnsureChat(ctx context.Context, id string) (*Chat, error)

	// SetResource links a spreadsheet to a chat unless one is already linked.
	// The stored chat is returned in both cases.
	SetResource(ctx context.Context, id, spreadsheetID, url string) (*Chat, error)

	// ListChats returns the most recently created chats first.
	ListChats(ctx context.Context, limit int) ([]*Chat, error)

	// Close closes the store
	Close() error
}
