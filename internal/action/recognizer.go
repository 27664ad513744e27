// ABOUTME: Incremental recognizer for [ACTION]...[/ACTION] blocks in a token stream
// ABOUTME: Forwards plain text with minimal delay and never leaks action markup

package action

import (
	"strings"
)

// Markers delimiting an action block in assistant text.
const (
	OpenMarker  = "[ACTION]"
	CloseMarker = "[/ACTION]"
)

type scanState int

const (
	statePlain scanState = iota
	stateInAction
)

// Segment is one unit of recognizer output: either plain text to forward or
// a finalized action.
type Segment struct {
	Text   string
	Action *Payload
}

// IsAction reports whether the segment carries an action.
func (s Segment) IsAction() bool {
	return s.Action != nil
}

// Recognizer splits a token stream into plain text and action payloads.
// Markers may be split across tokens at any position. A Recognizer is not
// safe for concurrent use; each stream owns one.
type Recognizer struct {
	state scanState

	// pending is a held-back suffix that could be the start of OpenMarker
	pending string

	body strings.Builder
	// searched is how much of body is known not to contain CloseMarker
	searched int

	discarded int
}

// NewRecognizer returns a recognizer in the plain state.
func NewRecognizer() *Recognizer {
	return &Recognizer{}
}

// Feed consumes one token and returns the segments it completes, in order.
func (r *Recognizer) Feed(token string) []Segment {
	if r.state == stateInAction {
		return r.scanAction(token)
	}
	text := r.pending + token
	r.pending = ""
	return r.scanPlain(text, true)
}

// Finish flushes any held-back plain text at end of stream. An action block
// that was opened but never closed is dropped without being emitted.
func (r *Recognizer) Finish() []Segment {
	var out []Segment

	if r.state == stateInAction {
		r.discarded++
		r.body.Reset()
		r.searched = 0
		r.state = statePlain
	}

	if r.pending != "" {
		out = append(out, Segment{Text: r.pending})
		r.pending = ""
	}
	return out
}

// Discarded returns how many unterminated action blocks were dropped.
func (r *Recognizer) Discarded() int {
	return r.discarded
}

func (r *Recognizer) scanPlain(text string, holdBack bool) []Segment {
	idx := strings.Index(text, OpenMarker)
	if idx < 0 {
		keep := 0
		if holdBack {
			keep = markerPrefixSuffix(text, OpenMarker)
		}
		r.pending = text[len(text)-keep:]
		if emit := text[:len(text)-keep]; emit != "" {
			return []Segment{{Text: emit}}
		}
		return nil
	}

	var out []Segment
	if idx > 0 {
		out = append(out, Segment{Text: text[:idx]})
	}

	r.state = stateInAction
	r.body.Reset()
	r.searched = 0
	return append(out, r.scanAction(text[idx+len(OpenMarker):])...)
}

func (r *Recognizer) scanAction(token string) []Segment {
	r.body.WriteString(token)
	body := r.body.String()

	// Only the tail that could hold a new marker needs scanning
	from := r.searched - (len(CloseMarker) - 1)
	if from < 0 {
		from = 0
	}
	rel := strings.Index(body[from:], CloseMarker)
	if rel < 0 {
		r.searched = len(body)
		return nil
	}
	idx := from + rel

	payload := fromMarkup(body[:idx])
	rest := body[idx+len(CloseMarker):]

	r.body.Reset()
	r.searched = 0
	r.state = statePlain

	return append([]Segment{{Action: payload}}, r.scanPlain(rest, true)...)
}

// markerPrefixSuffix returns the length of the longest suffix of text that is
// a proper prefix of marker.
func markerPrefixSuffix(text, marker string) int {
	max := len(marker) - 1
	if len(text) < max {
		max = len(text)
	}
	for k := max; k > 0; k-- {
		if strings.HasSuffix(text, marker[:k]) {
			return k
		}
	}
	return 0
}
