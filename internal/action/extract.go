// ABOUTME: Best-effort extraction of labelled fields from free-text action markup
// ABOUTME: Lossy by design; callers fall back to defaults when nothing is found

package action

import (
	"regexp"
	"strings"
	"sync"
)

// DefaultHeaders is used when a creation directive names no headers.
var DefaultHeaders = []string{
	"Vendor Name",
	"Services Provided",
	"Contract Terms",
	"Compliance Info",
	"Usage Criticality",
}

var (
	bulletLine  = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+(.+?)\s*$`)
	labelLine   = regexp.MustCompile(`^\s*(?:[-*•]\s*)?[A-Za-z][A-Za-z _-]{0,30}\s*:`)
	inlineTitle = regexp.MustCompile(`(?i)\btitled?\b\s*[:=]?\s*(?:"([^"\n]+)"|'([^'\n]+)'|“([^”\n]+)”)`)

	fieldMu    sync.Mutex
	fieldCache = map[string]*regexp.Regexp{}
)

// ExtractTitle finds a title after a case-insensitive "title" label, either on
// its own line ("Title: Vendors") or inline and quoted (titled "Vendors").
func ExtractTitle(raw string) (string, bool) {
	if v, ok := ExtractField(raw, "title", "name"); ok {
		return v, true
	}
	if m := inlineTitle.FindStringSubmatch(raw); m != nil {
		for _, g := range m[1:] {
			if g = strings.TrimSpace(g); g != "" {
				return g, true
			}
		}
	}
	return "", false
}

// ExtractHeaders finds the header list after a "headers" (or "columns") label.
// When none is found it returns a copy of DefaultHeaders and fallback=true.
func ExtractHeaders(raw string) (headers []string, fallback bool) {
	if h := ExtractList(raw, "headers", "columns"); len(h) > 0 {
		return h, false
	}
	out := make([]string, len(DefaultHeaders))
	copy(out, DefaultHeaders)
	return out, true
}

// ExtractField returns the single value following the first matching label,
// e.g. "Row: 4". Surrounding quotes are removed.
func ExtractField(raw string, labels ...string) (string, bool) {
	re := fieldPattern(labels)
	for _, line := range strings.Split(raw, "\n") {
		m := re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if v := unquote(m[1]); v != "" {
			return v, true
		}
	}
	return "", false
}

// ExtractList returns the items following the first matching label. Items may
// be comma-separated on the label line, given as bullet lines, or given one
// per line until a blank line or another label.
func ExtractList(raw string, labels ...string) []string {
	re := fieldPattern(labels)
	lines := strings.Split(raw, "\n")

	for i, line := range lines {
		m := re.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		var items []string
		if inline := strings.TrimSpace(m[1]); inline != "" {
			items = appendSplit(items, inline)
		}

		for _, next := range lines[i+1:] {
			if strings.TrimSpace(next) == "" {
				if len(items) > 0 {
					break
				}
				continue
			}
			if b := bulletLine.FindStringSubmatch(next); b != nil {
				items = appendSplit(items, b[1])
				continue
			}
			if labelLine.MatchString(next) {
				break
			}
			items = appendSplit(items, next)
		}
		return items
	}
	return nil
}

func fieldPattern(labels []string) *regexp.Regexp {
	key := strings.ToLower(strings.Join(labels, "|"))

	fieldMu.Lock()
	defer fieldMu.Unlock()

	if re, ok := fieldCache[key]; ok {
		return re
	}
	quoted := make([]string, len(labels))
	for i, l := range labels {
		quoted[i] = regexp.QuoteMeta(l)
	}
	re := regexp.MustCompile(`(?i)^\s*(?:[-*•]\s*)?(?:` + strings.Join(quoted, "|") + `)\s*[:=]\s*(.*)$`)
	fieldCache[key] = re
	return re
}

func appendSplit(items []string, s string) []string {
	for _, part := range strings.Split(s, ",") {
		if v := unquote(part); v != "" {
			items = append(items, v)
		}
	}
	return items
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		switch {
		case s[0] == '"' && s[len(s)-1] == '"', s[0] == '\'' && s[len(s)-1] == '\'':
			s = s[1 : len(s)-1]
		case strings.HasPrefix(s, "“") && strings.HasSuffix(s, "”"):
			s = strings.TrimSuffix(strings.TrimPrefix(s, "“"), "”")
		}
	}
	return strings.TrimSpace(s)
}
