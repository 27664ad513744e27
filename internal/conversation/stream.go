// ABOUTME: Stream coordinator for one conversation turn
// ABOUTME: Splices action results into the token stream and reconciles the transcript

package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/2389/palladium-gateway/internal/action"
	"github.com/2389/palladium-gateway/internal/executor"
	"github.com/2389/palladium-gateway/internal/llm"
	"github.com/2389/palladium-gateway/internal/session"
)

const (
	frameBufferSize   = 16
	segmentBufferSize = 64

	// actionTimeout bounds one action once dispatched. Actions outlive the
	// client request.
	actionTimeout = 2 * time.Minute
)

// ErrStreamInterrupted marks a provider failure after the turn was committed.
var ErrStreamInterrupted = errors.New("response interrupted")

// StreamRequest is one user turn.
type StreamRequest struct {
	ConversationID string
	Content        string

	// WithFiles adds the content of previously uploaded files as context.
	WithFiles bool
}

// Frame is one unit pushed to the client. A frame with Err set is terminal.
type Frame struct {
	Text string
	Err  error
}

// IsError reports whether f ends the stream with a failure.
func (f Frame) IsError() bool {
	return f.Err != nil
}

// StreamResponse carries the frames of a turn. Frames is closed once the
// turn is reconciled. Started is closed when the turn is committed to the
// history, which may be well before the first frame when the reply opens
// with an action. It never closes for a turn that fails before committing.
type StreamResponse struct {
	ConversationID string
	Frames         <-chan Frame
	Started        <-chan struct{}
}

// Stream runs one turn. An error return means the provider could not be
// reached and the history is unchanged. Otherwise every frame the client
// sees is also what the history records for the assistant, with each action
// replaced by its result.
//
// If the provider fails before its first event, the only frame carries an
// error wrapping ErrProvider and the history is unchanged. A later failure
// ends the frames with an error wrapping ErrStreamInterrupted after the
// partial reply is recorded.
func (s *Service) Stream(ctx context.Context, req *StreamRequest) (*StreamResponse, error) {
	if req.ConversationID == "" {
		return nil, ErrMissingConversationID
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, ErrEmptyContent
	}

	sess, unlock, err := s.acquire(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}

	t := &turn{svc: s, sess: sess, started: make(chan struct{})}
	if err := t.prepare(req); err != nil {
		unlock()
		return nil, err
	}

	providerReq := &llm.Request{Messages: providerMessages(append(sess.Snapshot(), t.pending...))}
	if s.useTools {
		providerReq.Tools = Tools()
	}

	events, err := s.provider.Stream(ctx, providerReq)
	if err != nil {
		unlock()
		s.logger.Error("provider request failed", "conversation_id", sess.ID, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrProvider, err)
	}

	s.logger.Debug("turn started",
		"conversation_id", sess.ID,
		"with_files", req.WithFiles,
		"tools", len(providerReq.Tools) > 0,
		"history", len(providerReq.Messages))

	frames := make(chan Frame, frameBufferSize)
	go t.run(ctx, events, frames, unlock)

	return &StreamResponse{ConversationID: sess.ID, Frames: frames, Started: t.started}, nil
}

// turn is the state of one in-flight Stream call.
//
// committed and err are written only by the producer and read by the
// consumer after the segment channel is closed.
type turn struct {
	svc  *Service
	sess *session.Session

	pending    []session.Message
	instructed bool

	started    chan struct{}
	committed  bool
	err        error
	actions    int
	discarded  int
	lastAction chan struct{}
}

// segment is one ordered piece of the reply: literal text, or the pending
// result of an action.
type segment struct {
	text   string
	result <-chan executor.Result
}

// prepare builds the messages added ahead of the provider call.
func (t *turn) prepare(req *StreamRequest) error {
	if !t.sess.Instructed() {
		t.pending = append(t.pending, session.Message{
			Role:    session.RoleSystem,
			Content: instructionPrompt(t.svc.useTools),
		})
		t.instructed = true
	}

	if req.WithFiles {
		fc, err := t.svc.uploads.FileContext(t.sess.ID)
		if err != nil {
			return fmt.Errorf("reading uploaded files: %w", err)
		}
		if fc != "" {
			t.pending = append(t.pending, session.Message{Role: session.RoleSystem, Content: fc})
		}
	}

	t.pending = append(t.pending, session.Message{Role: session.RoleUser, Content: req.Content})
	return nil
}

func (t *turn) commitPending() {
	t.svc.commit(t.sess, t.pending...)
	if t.instructed {
		t.sess.MarkInstructed()
	}
	t.committed = true
	close(t.started)
}

func (t *turn) run(ctx context.Context, events <-chan *llm.Event, frames chan<- Frame, unlock func()) {
	defer unlock()
	defer close(frames)

	segments := make(chan segment, segmentBufferSize)
	go t.produce(ctx, events, segments)
	t.consume(ctx, segments, frames)
}

// produce feeds provider events through the recognizer and dispatches each
// finished action at once, so later tokens keep flowing while it runs.
func (t *turn) produce(ctx context.Context, events <-chan *llm.Event, out chan<- segment) {
	defer close(out)

	rec := action.NewRecognizer()
	push := func(segs []action.Segment) {
		for _, seg := range segs {
			if seg.IsAction() {
				out <- t.dispatch(ctx, seg.Action)
			} else if seg.Text != "" {
				out <- segment{text: seg.Text}
			}
		}
	}

	received := false
	for ev := range events {
		if !received {
			received = true
			if ev.Type == llm.EventError {
				t.err = fmt.Errorf("%w: %w", ErrProvider, ev.Err)
				drain(events)
				return
			}
			t.commitPending()
		}

		switch ev.Type {
		case llm.EventText:
			push(rec.Feed(ev.Text))
		case llm.EventFunctionCall:
			push(rec.Finish())
			out <- t.dispatch(ctx, action.FromFunctionCall(ev.Call.ID, ev.Call.Name, ev.Call.Arguments))
		case llm.EventError:
			t.err = fmt.Errorf("%w: %w", ErrStreamInterrupted, ev.Err)
		case llm.EventDone:
		}
	}

	if !received {
		if err := ctx.Err(); err != nil {
			t.err = fmt.Errorf("%w: %w", ErrProvider, err)
			return
		}
		t.commitPending()
	}

	push(rec.Finish())
	t.discarded = rec.Discarded()
}

// dispatch starts p without waiting for it. Actions of one turn still run
// one after another so each sees the metadata of the one before.
func (t *turn) dispatch(ctx context.Context, p *action.Payload) segment {
	t.actions++
	ch := make(chan executor.Result, 1)
	prev, done := t.lastAction, make(chan struct{})
	t.lastAction = done

	go func() {
		defer close(done)
		if prev != nil {
			<-prev
		}
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), actionTimeout)
		defer cancel()
		ch <- t.svc.executor.Execute(actx, p, t.sess)
	}()

	return segment{result: ch}
}

// consume forwards segments in order and records the reply. After the
// client goes away it keeps draining so every action result is recorded.
func (t *turn) consume(ctx context.Context, in <-chan segment, frames chan<- Frame) {
	var observed strings.Builder
	connected := true
	sent := 0

	emit := func(f Frame) {
		if !connected {
			return
		}
		select {
		case frames <- f:
			sent++
		case <-ctx.Done():
			connected = false
			t.svc.logger.Debug("client gone, finishing turn", "conversation_id", t.sess.ID)
		}
	}

	for seg := range in {
		text := seg.text
		if seg.result != nil {
			text = (<-seg.result).HumanText
		}
		if text == "" {
			continue
		}
		observed.WriteString(text)
		emit(Frame{Text: text})
	}

	if !t.committed {
		t.svc.logger.Warn("turn aborted before first event", "conversation_id", t.sess.ID, "error", t.err)
		if t.err != nil {
			emit(Frame{Err: t.err})
		}
		return
	}

	reply := observed.String()
	t.svc.commit(t.sess, session.Message{Role: session.RoleAssistant, Content: reply})

	logArgs := []any{
		"conversation_id", t.sess.ID,
		"frames", sent,
		"actions", t.actions,
		"reply_len", len(reply),
	}
	if t.discarded > 0 {
		logArgs = append(logArgs, "discarded_actions", t.discarded)
	}

	if t.err != nil && !errors.Is(t.err, context.Canceled) {
		t.svc.logger.Warn("turn interrupted", append(logArgs, "error", t.err)...)
		emit(Frame{Err: t.err})
		return
	}
	t.svc.logger.Info("turn complete", logArgs...)
}

func drain(events <-chan *llm.Event) {
	for range events {
	}
}

func providerMessages(msgs []session.Message) []llm.Message {
	out := make([]llm.Message, len(msgs))
	for i, m := range msgs {
		out[i] = llm.Message{Role: string(m.Role), Content: m.Content}
	}
	return out
}
