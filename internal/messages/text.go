package messages

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// RepairText undoes the export's mojibake: UTF-8 bytes that were decoded as
// Latin-1 are re-encoded to their original bytes and decoded as UTF-8.
// When the string holds runes outside Latin-1, or the bytes are not valid
// UTF-8, the input is returned untouched.
func RepairText(s string) string {
	if s == "" {
		return s
	}
	raw, err := charmap.ISO8859_1.NewEncoder().String(s)
	if err != nil {
		return s
	}
	if !utf8.ValidString(raw) {
		return s
	}
	return raw
}

// Matcher flags topic-relevant text by case-insensitive substring match.
// Matches are not word-bounded: a keyword inside an unrelated word still counts.
type Matcher struct {
	keywords []string
}

// NewMatcher lower-cases and de-duplicates keywords; blank entries are dropped.
func NewMatcher(keywords []string) *Matcher {
	seen := make(map[string]bool, len(keywords))
	m := &Matcher{}
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		m.keywords = append(m.keywords, k)
	}
	return m
}

// Keywords returns the normalized keyword list.
func (m *Matcher) Keywords() []string { return append([]string(nil), m.keywords...) }

// Relevant reports whether any keyword appears in the message text, the shared
// post text or the shared post's origin account.
func (m *Matcher) Relevant(content, shareText, owner string) bool {
	text := strings.ToLower(content + " " + shareText)
	owner = strings.ToLower(owner)
	for _, k := range m.keywords {
		if strings.Contains(text, k) || strings.Contains(owner, k) {
			return true
		}
	}
	return false
}
