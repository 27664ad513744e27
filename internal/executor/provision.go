// ABOUTME: Idempotent creation of the one spreadsheet linked to a conversation
// ABOUTME: Concurrent requests for the same conversation share a single creation

package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/palladium-gateway/internal/action"
	"github.com/2389/palladium-gateway/internal/session"
	"github.com/2389/palladium-gateway/internal/store"
)

// ProvisionResult describes the spreadsheet linked to a conversation.
// Created is false when an existing link was returned.
type ProvisionResult struct {
	ConversationID string
	SpreadsheetID  string
	URL            string
	Created        bool
}

// EnsureResource returns the spreadsheet linked to convID, creating and
// recording one on first use. Later calls return the stored link unchanged.
func (e *Executor) EnsureResource(ctx context.Context, convID, title string, headers []string) (*ProvisionResult, error) {
	if title == "" {
		title = DefaultTitle
	}
	if len(headers) == 0 {
		headers = append([]string(nil), action.DefaultHeaders...)
	}

	v, err, _ := e.provision.Do(convID, func() (any, error) {
		return e.ensureResource(ctx, convID, title, headers)
	})
	if err != nil {
		return nil, err
	}
	res := *v.(*ProvisionResult)
	return &res, nil
}

func (e *Executor) ensureResource(ctx context.Context, convID, title string, headers []string) (*ProvisionResult, error) {
	chat, err := e.store.GetChat(ctx, convID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, convID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}
	if chat.HasResource() {
		return e.existing(chat), nil
	}

	created, err := e.sheets.CreateResource(ctx, title, headers)
	if err != nil {
		return nil, fmt.Errorf("creating spreadsheet: %w", err)
	}

	stored, err := e.store.SetResource(ctx, convID, created.ID, created.URL)
	if err != nil {
		return nil, fmt.Errorf("recording spreadsheet: %w", err)
	}
	if stored.SpreadsheetID != created.ID {
		// Another writer linked a spreadsheet first
		e.logger.Warn("spreadsheet created but conversation already linked",
			"conversation_id", convID, "orphan_id", created.ID, "linked_id", stored.SpreadsheetID)
		return e.existing(stored), nil
	}

	e.logger.Info("spreadsheet provisioned", "conversation_id", convID, "spreadsheet_id", created.ID)
	return &ProvisionResult{
		ConversationID: convID,
		SpreadsheetID:  created.ID,
		URL:            created.URL,
		Created:        true,
	}, nil
}

func (e *Executor) existing(chat *store.Chat) *ProvisionResult {
	url := chat.SpreadsheetURL
	if url == "" {
		url = e.sheets.URLFor(chat.SpreadsheetID)
	}
	return &ProvisionResult{
		ConversationID: chat.ID,
		SpreadsheetID:  chat.SpreadsheetID,
		URL:            url,
	}
}

// Record links a provisioned spreadsheet to a live session and notes it in
// the history. Nothing is appended when the session already points at it.
func (e *Executor) Record(sess *session.Session, res *ProvisionResult) {
	if sess.Metadata().SpreadsheetID == res.SpreadsheetID {
		return
	}
	sheetName := e.sheets.DefaultSheetName()
	id, url := res.SpreadsheetID, res.URL
	sess.UpdateMetadata(session.MetadataPatch{
		SpreadsheetID:  &id,
		SpreadsheetURL: &url,
		SheetName:      &sheetName,
	})
	sess.Append(session.RoleSystem, "Created spreadsheet: "+res.URL)
}
