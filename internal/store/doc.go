// Package store provides persistent storage for conversation records using SQLite.
//
// # Data Model
//
// A Chat is one row per conversation:
//
//	chats(id TEXT PRIMARY KEY, created_at TEXT, spreadsheet_id TEXT NULL, spreadsheet_url TEXT NULL)
//
// The spreadsheet columns stay NULL until a spreadsheet is created for the
// conversation. SetResource only writes them while they are empty, which makes
// "create a spreadsheet for this conversation" idempotent at the storage layer.
//
// Message history is not persisted here; it lives in the in-memory session
// registry.
//
// # Errors
//
//   - ErrNotFound: the chat does not exist
//   - ErrDuplicateChat: CreateChat was called with an existing id
//
// MockStore keeps the same records in memory for tests.
//
// # Usage
//
//	s, err := store.NewSQLiteStore("palladium.db")
//	chat, err := s.EnsureChat(ctx, conversationID)
//	chat, err = s.SetResource(ctx, conversationID, sheetID, url)
package store
