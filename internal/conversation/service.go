// ABOUTME: Conversation service coordinating sessions, providers, actions and uploads
// ABOUTME: Entry point for streaming turns, file uploads and per-conversation provisioning

package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/2389/palladium-gateway/internal/executor"
	"github.com/2389/palladium-gateway/internal/llm"
	"github.com/2389/palladium-gateway/internal/session"
	"github.com/2389/palladium-gateway/internal/store"
	"github.com/2389/palladium-gateway/internal/uploads"
)

var (
	// ErrConversationNotFound is returned for conversations with no live
	// session or no record.
	ErrConversationNotFound = executor.ErrConversationNotFound

	// ErrMissingConversationID is returned when a request names no conversation.
	ErrMissingConversationID = errors.New("conversation_id is required")

	// ErrEmptyContent is returned for a turn without user text.
	ErrEmptyContent = errors.New("content is required")

	// ErrNoFiles is returned for an upload without files.
	ErrNoFiles = errors.New("no files provided")

	// ErrProvider wraps provider failures that happen before any frame is
	// produced.
	ErrProvider = errors.New("provider request failed")
)

// ContextSource produces an optional system message that seeds a new session.
type ContextSource interface {
	SessionContext(ctx context.Context, chat *store.Chat) (string, error)
}

// ContextSourceFunc adapts a function to ContextSource.
type ContextSourceFunc func(ctx context.Context, chat *store.Chat) (string, error)

// SessionContext calls f.
func (f ContextSourceFunc) SessionContext(ctx context.Context, chat *store.Chat) (string, error) {
	return f(ctx, chat)
}

// RecordContext describes the spreadsheet already linked to a conversation,
// so a session rebuilt after eviction still knows about it.
var RecordContext ContextSourceFunc = func(_ context.Context, chat *store.Chat) (string, error) {
	if !chat.HasResource() {
		return "", nil
	}
	return fmt.Sprintf("This conversation is linked to the spreadsheet %s (id %s).", chat.SpreadsheetURL, chat.SpreadsheetID), nil
}

// Deps are the collaborators of a Service.
type Deps struct {
	Registry *session.Registry
	Store    store.Store
	Executor *executor.Executor
	Provider llm.Provider
	Uploads  *uploads.Store
	Logger   *slog.Logger

	// Functions offers the function schema to providers that support it.
	// Otherwise the model is taught the [ACTION] markup.
	Functions bool

	// ContextSource seeds new sessions. Defaults to RecordContext.
	ContextSource ContextSource

	// Broadcaster receives every committed message. Optional.
	Broadcaster *Broadcaster
}

// Service coordinates conversation turns.
type Service struct {
	registry    *session.Registry
	store       store.Store
	executor    *executor.Executor
	provider    llm.Provider
	uploads     *uploads.Store
	contextSrc  ContextSource
	broadcaster *Broadcaster
	useTools    bool
	logger      *slog.Logger
}

// New creates a conversation service.
func New(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	src := d.ContextSource
	if src == nil {
		src = RecordContext
	}
	return &Service{
		registry:    d.Registry,
		store:       d.Store,
		executor:    d.Executor,
		provider:    d.Provider,
		uploads:     d.Uploads,
		contextSrc:  src,
		broadcaster: d.Broadcaster,
		useTools:    d.Functions && d.Provider != nil && d.Provider.SupportsTools(),
		logger:      logger.With("component", "conversation"),
	}
}

// Broadcaster returns the broadcaster committed messages are published to,
// or nil.
func (s *Service) Broadcaster() *Broadcaster {
	return s.broadcaster
}

// acquire returns the live session for convID holding its turn lock,
// creating the session and its record on first use. An unseeded session is
// seeded under the lock, so no turn snapshots it before the seed lands.
func (s *Service) acquire(ctx context.Context, convID string) (*session.Session, func(), error) {
	chat, err := s.store.EnsureChat(ctx, convID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading conversation: %w", err)
	}

	sess, _ := s.registry.GetOrCreate(convID)
	unlock, err := sess.Lock(ctx)
	if err != nil {
		return nil, nil, err
	}
	if !sess.Seeded() {
		s.seed(ctx, sess, chat)
		sess.MarkSeeded()
	}
	return sess, unlock, nil
}

// seed is best-effort: failures are logged and the turn continues.
func (s *Service) seed(ctx context.Context, sess *session.Session, chat *store.Chat) {
	if chat.HasResource() {
		id, url := chat.SpreadsheetID, chat.SpreadsheetURL
		sess.UpdateMetadata(session.MetadataPatch{SpreadsheetID: &id, SpreadsheetURL: &url})
	}

	text, err := s.contextSrc.SessionContext(ctx, chat)
	if err != nil {
		s.logger.Warn("session context unavailable", "conversation_id", sess.ID, "error", err)
		return
	}
	if text == "" {
		return
	}
	s.commit(sess, session.Message{Role: session.RoleSystem, Content: text})
	s.logger.Debug("session seeded", "conversation_id", sess.ID)
}

// commit appends msgs to the history and publishes them.
func (s *Service) commit(sess *session.Session, msgs ...session.Message) {
	sess.AppendAll(msgs...)
	if s.broadcaster != nil {
		s.broadcaster.Publish(sess.ID, msgs...)
	}
}

// File is one uploaded file.
type File struct {
	Name string
	Body io.Reader
}

// Upload stores files for convID and notes them in the history.
// It returns the stored names in upload order.
func (s *Service) Upload(ctx context.Context, convID string, files []File) ([]string, error) {
	if convID == "" {
		return nil, ErrMissingConversationID
	}
	if len(files) == 0 {
		return nil, ErrNoFiles
	}

	sess, unlock, err := s.acquire(ctx, convID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	stored := make([]string, 0, len(files))
	for _, f := range files {
		name, err := s.uploads.Save(convID, f.Name, f.Body)
		if err != nil {
			return stored, fmt.Errorf("storing %q: %w", f.Name, err)
		}
		stored = append(stored, name)
	}

	s.commit(sess, session.Message{
		Role:    session.RoleSystem,
		Content: "User uploaded files: " + strings.Join(stored, ", "),
	})

	s.logger.Info("files uploaded", "conversation_id", convID, "count", len(stored))
	return stored, nil
}

// CreateResource returns the spreadsheet linked to convID, creating it on
// first use. Repeated calls return the same spreadsheet.
func (s *Service) CreateResource(ctx context.Context, convID, title string, headers []string) (*executor.ProvisionResult, error) {
	if convID == "" {
		return nil, ErrMissingConversationID
	}

	res, err := s.executor.EnsureResource(ctx, convID, title, headers)
	if err != nil {
		return nil, err
	}

	sess, ok := s.registry.Get(convID)
	if !ok {
		return res, nil
	}

	// Wait out any turn in flight so the note lands after its reply.
	unlock, err := sess.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	before := sess.Len()
	s.executor.Record(sess, res)
	if s.broadcaster != nil && sess.Len() > before {
		snap := sess.Snapshot()
		s.broadcaster.Publish(convID, snap[before:]...)
	}
	return res, nil
}

// History returns the live transcript of convID.
func (s *Service) History(convID string) ([]session.Message, error) {
	sess, ok := s.registry.Get(convID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, convID)
	}
	return sess.Snapshot(), nil
}
