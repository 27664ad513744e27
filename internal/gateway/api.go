// ABOUTME: HTTP API handlers for streamed chat turns, uploads and spreadsheets
// ABOUTME: Streams turns as SSE and exposes conversation history as JSON or HTML

package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"html"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/2389/palladium-gateway/internal/conversation"
	"github.com/2389/palladium-gateway/internal/session"
	"github.com/2389/palladium-gateway/internal/uploads"
)

const (
	// conversationHeader carries the conversation id of a streamed turn, so
	// clients that let the server pick one can learn it.
	conversationHeader = "X-Conversation-ID"

	maxJSONBody     = 1 << 20
	multipartMemory = 32 << 20

	heartbeatInterval = 30 * time.Second
)

// StreamRequest is the JSON request body for the chat stream endpoints.
// Both snake_case and camelCase conversation ids are accepted.
type StreamRequest struct {
	ConversationID      string `json:"conversation_id,omitempty"`
	ConversationIDCamel string `json:"conversationId,omitempty"`
	Content             string `json:"content"`
}

func (r *StreamRequest) conversationID() string {
	if r.ConversationID != "" {
		return r.ConversationID
	}
	return r.ConversationIDCamel
}

// UploadResponse is the JSON response for POST /chat/upload.
type UploadResponse struct {
	ConversationID string   `json:"conversation_id"`
	UploadedFiles  []string `json:"uploaded_files"`
}

// CreateSheetRequest is the JSON request body for POST /sheets/create.
type CreateSheetRequest struct {
	ConversationID string   `json:"conversation_id"`
	Title          string   `json:"title,omitempty"`
	Headers        []string `json:"headers,omitempty"`
}

// CreateSheetResponse is the JSON response for POST /sheets/create.
type CreateSheetResponse struct {
	ConversationID string `json:"conversation_id"`
	SpreadsheetID  string `json:"spreadsheet_id"`
	URL            string `json:"url"`
	Created        bool   `json:"created"`
}

// MessageResponse is one transcript entry.
type MessageResponse struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// HistoryResponse is the JSON response for GET /chat/{id}/history.
type HistoryResponse struct {
	ConversationID string            `json:"conversation_id"`
	Messages       []MessageResponse `json:"messages"`
}

func toMessageResponse(m session.Message) MessageResponse {
	return MessageResponse{
		Role:      string(m.Role),
		Content:   m.Content,
		CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// handleStream handles POST /chat/stream and /chat/stream-with-files.
// A provider that fails before streaming maps to 502; later failures arrive
// as an error event on the open stream.
func (g *Gateway) handleStream(withFiles bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req StreamRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req); err != nil {
			g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		convID := req.conversationID()
		if convID == "" {
			convID = uuid.New().String()
		}

		resp, err := g.conversation.Stream(r.Context(), &conversation.StreamRequest{
			ConversationID: convID,
			Content:        req.Content,
			WithFiles:      withFiles,
		})
		if err != nil {
			g.sendStreamError(w, convID, err)
			return
		}

		// Hold the headers until the turn is committed so a provider that
		// fails up front still gets a proper status code.
		var held []conversation.Frame
		select {
		case <-resp.Started:
		case f, ok := <-resp.Frames:
			if ok && f.IsError() && errors.Is(f.Err, conversation.ErrProvider) {
				drainFrames(resp.Frames)
				g.sendStreamError(w, convID, f.Err)
				return
			}
			if ok {
				held = append(held, f)
			}
		}

		w.Header().Set(conversationHeader, resp.ConversationID)
		sse := newSSEWriter(w)
		if err := sse.start(); err != nil {
			g.logger.Debug("stream start failed", "conversation_id", convID, "error", err)
		}

		for _, f := range held {
			g.writeFrame(sse, convID, f)
		}
		for f := range resp.Frames {
			g.writeFrame(sse, convID, f)
		}
	}
}

// writeFrame writes one frame. Write errors mean the client is gone; the turn
// notices through the request context, so they are only logged.
func (g *Gateway) writeFrame(sse *sseWriter, convID string, f conversation.Frame) {
	var err error
	if f.IsError() {
		err = sse.writeEvent("error", frameErrorMessage(f.Err))
	} else {
		err = sse.writeData(f.Text)
	}
	if err != nil {
		g.logger.Debug("frame write failed", "conversation_id", convID, "error", err)
	}
}

func frameErrorMessage(err error) string {
	if errors.Is(err, conversation.ErrProvider) {
		return conversation.ErrProvider.Error()
	}
	return conversation.ErrStreamInterrupted.Error()
}

func drainFrames(frames <-chan conversation.Frame) {
	for range frames {
	}
}

// sendStreamError maps a failed turn to an HTTP status.
func (g *Gateway) sendStreamError(w http.ResponseWriter, convID string, err error) {
	switch {
	case errors.Is(err, conversation.ErrEmptyContent), errors.Is(err, conversation.ErrMissingConversationID):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, conversation.ErrProvider):
		g.sendJSONError(w, http.StatusBadGateway, conversation.ErrProvider.Error())
	default:
		g.logger.Error("stream failed", "conversation_id", convID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// handleUpload handles POST /chat/upload as multipart form data with a
// conversation_id field and one or more files fields.
func (g *Gateway) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	convID := r.FormValue("conversation_id")
	if convID == "" {
		convID = r.FormValue("conversationId")
	}
	if convID == "" {
		g.sendJSONError(w, http.StatusBadRequest, conversation.ErrMissingConversationID.Error())
		return
	}

	var headers []*multipart.FileHeader
	headers = append(headers, r.MultipartForm.File["files"]...)
	headers = append(headers, r.MultipartForm.File["files[]"]...)

	files := make([]conversation.File, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			g.sendJSONError(w, http.StatusBadRequest, "unreadable file: "+fh.Filename)
			return
		}
		defer f.Close()
		files = append(files, conversation.File{Name: fh.Filename, Body: f})
	}

	stored, err := g.conversation.Upload(r.Context(), convID, files)
	switch {
	case err == nil:
	case errors.Is(err, conversation.ErrNoFiles), errors.Is(err, uploads.ErrInvalidName):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, uploads.ErrTooLarge):
		g.sendJSONError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	default:
		g.logger.Error("upload failed", "conversation_id", convID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.sendJSON(w, http.StatusOK, UploadResponse{ConversationID: convID, UploadedFiles: stored})
}

// handleCreateSheet handles POST /sheets/create. The first call for a
// conversation creates its spreadsheet; later calls return the same one.
func (g *Gateway) handleCreateSheet(w http.ResponseWriter, r *http.Request) {
	var req CreateSheetRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ConversationID == "" {
		g.sendJSONError(w, http.StatusBadRequest, conversation.ErrMissingConversationID.Error())
		return
	}

	res, err := g.conversation.CreateResource(r.Context(), req.ConversationID, req.Title, req.Headers)
	if errors.Is(err, conversation.ErrConversationNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		g.logger.Error("spreadsheet creation failed", "conversation_id", req.ConversationID, "error", err)
		g.sendJSONError(w, http.StatusBadGateway, "spreadsheet service failed")
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	g.sendJSON(w, status, CreateSheetResponse{
		ConversationID: res.ConversationID,
		SpreadsheetID:  res.SpreadsheetID,
		URL:            res.URL,
		Created:        res.Created,
	})
}

// handleHistory handles GET /chat/{conversationID}/history.
// ?format=html renders each message's markdown.
func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	convID := chi.URLParam(r, "conversationID")

	msgs, err := g.conversation.History(convID)
	if errors.Is(err, conversation.ErrConversationNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if r.URL.Query().Get("format") == "html" {
		page, err := renderHistoryHTML(convID, msgs)
		if err != nil {
			g.logger.Error("rendering history failed", "conversation_id", convID, "error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(page)
		return
	}

	resp := HistoryResponse{ConversationID: convID, Messages: make([]MessageResponse, 0, len(msgs))}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, toMessageResponse(m))
	}
	g.sendJSON(w, http.StatusOK, resp)
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// renderHistoryHTML renders a transcript as a standalone HTML page. Message
// content goes through goldmark, which escapes raw HTML by default.
func renderHistoryHTML(convID string, msgs []session.Message) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>Conversation ")
	buf.WriteString(html.EscapeString(convID))
	buf.WriteString("</title></head><body>\n")

	for _, m := range msgs {
		buf.WriteString(`<section class="message `)
		buf.WriteString(html.EscapeString(string(m.Role)))
		buf.WriteString("\">\n<h2>")
		buf.WriteString(html.EscapeString(string(m.Role)))
		buf.WriteString("</h2>\n")
		if err := markdown.Convert([]byte(m.Content), &buf); err != nil {
			return nil, err
		}
		buf.WriteString("</section>\n")
	}

	buf.WriteString("</body></html>\n")
	return buf.Bytes(), nil
}

// handleEvents handles GET /chat/{conversationID}/events: an SSE stream of
// every message committed to the conversation from now on.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	convID := chi.URLParam(r, "conversationID")
	ctx := r.Context()

	msgs, _ := g.conversation.Broadcaster().Subscribe(ctx, convID)

	sse := newSSEWriter(w)
	if err := sse.start(); err != nil {
		return
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sse.writeHeartbeat(); err != nil {
				return
			}
		case m, ok := <-msgs:
			if !ok {
				return
			}
			if err := sse.writeJSON("message", toMessageResponse(m)); err != nil {
				return
			}
		}
	}
}

// sendJSON writes v as a JSON response.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("writing JSON response failed", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}
