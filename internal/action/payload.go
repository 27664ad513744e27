// ABOUTME: Action payload types shared by the recognizer, executor, and function-call path
// ABOUTME: Maps free-text directives and function names onto a closed set of action kinds

package action

import (
	"strings"
	"unicode"
)

// Kind names a spreadsheet action.
type Kind string

const (
	KindCreateResource Kind = "create-resource"
	KindAppendRow      Kind = "append-row"
	KindUpdateRow      Kind = "update-row"
	KindAddColumn      Kind = "add-column"
	KindFetchLink      Kind = "fetch-link"
	KindReadTable      Kind = "read-table"
	KindUnknown        Kind = "unknown"
)

// Function names exposed to providers that support structured calls.
const (
	FunctionCreateSpreadsheet = "create_spreadsheet"
	FunctionAppendRow         = "append_row"
	FunctionUpdateRow         = "update_row"
	FunctionAddColumn         = "add_column"
	FunctionGetLink           = "get_spreadsheet_link"
	FunctionReadTable         = "read_table"
)

// Payload is one finalized action, either parsed out of [ACTION] markup or
// delivered as a structured function call.
type Payload struct {
	Kind Kind

	// Directive is the free text on the [ACTION] line. Empty for function calls.
	Directive string

	// RawArguments is the text between the markers, or the function-call JSON.
	RawArguments string

	// Structured is true when RawArguments is JSON from a function call.
	Structured bool

	// CallID and Function identify the originating function call, if any.
	CallID   string
	Function string
}

// FromFunctionCall builds a payload from a provider function call.
// args must already be the fully concatenated argument JSON.
func FromFunctionCall(callID, name, args string) *Payload {
	return &Payload{
		Kind:         KindForFunction(name),
		RawArguments: args,
		Structured:   true,
		CallID:       callID,
		Function:     name,
	}
}

func fromMarkup(raw string) *Payload {
	directive := raw
	if i := strings.IndexByte(raw, '\n'); i >= 0 {
		directive = raw[:i]
	}
	directive = strings.TrimSpace(directive)

	return &Payload{
		Kind:         ClassifyDirective(directive),
		Directive:    directive,
		RawArguments: raw,
	}
}

// KindForFunction maps a function name to its action kind.
func KindForFunction(name string) Kind {
	switch name {
	case FunctionCreateSpreadsheet:
		return KindCreateResource
	case FunctionAppendRow:
		return KindAppendRow
	case FunctionUpdateRow:
		return KindUpdateRow
	case FunctionAddColumn:
		return KindAddColumn
	case FunctionGetLink, "fetch_link":
		return KindFetchLink
	case FunctionReadTable:
		return KindReadTable
	default:
		return KindUnknown
	}
}

// ClassifyDirective maps the free text following [ACTION] to an action kind.
// An empty directive is treated as a creation request, since that is the only
// directive the markup grammar documents sub-fields for.
func ClassifyDirective(directive string) Kind {
	words := map[string]bool{}
	for _, w := range strings.FieldsFunc(strings.ToLower(directive), func(r rune) bool {
		return !unicode.IsLetter(r)
	}) {
		words[w] = true
	}
	if len(words) == 0 {
		return KindCreateResource
	}

	has := func(candidates ...string) bool {
		for _, c := range candidates {
			if words[c] {
				return true
			}
		}
		return false
	}

	switch {
	case has("column", "columns") && has("add", "insert"):
		return KindAddColumn
	case has("update", "modify", "edit", "change"):
		return KindUpdateRow
	case has("append"), has("row", "rows") && has("add", "insert", "new"):
		return KindAppendRow
	case has("link", "url"):
		return KindFetchLink
	case has("read", "show", "list", "view", "display"):
		return KindReadTable
	case has("create", "new", "make", "spreadsheet", "sheet"):
		return KindCreateResource
	default:
		return KindUnknown
	}
}
