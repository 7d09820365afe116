// Package service identifies which AI chat product a network request belongs to.
package service

import (
	"net/http"
	"strings"

	"github.com/danwakefield/fnmatch"
	"github.com/samber/lo"
)

// ID names an AI service.
type ID string

const (
	None    ID = ""
	Claude  ID = "claude"
	ChatGPT ID = "chatgpt"
	Gemini  ID = "gemini"
)

// Descriptor describes how to recognise the completion requests of one service.
type Descriptor struct {
	ID          ID
	Name        string
	URLPatterns []string
	Match       func(url, method string) bool
}

// Covers reports whether url falls inside one of the descriptor's URL globs.
func (d Descriptor) Covers(url string) bool {
	for _, p := range d.URLPatterns {
		if MatchPattern(p, url) {
			return true
		}
	}
	return false
}

// Info is the JSON view of a descriptor.
type Info struct {
	ID          ID       `json:"id"`
	Name        string   `json:"name"`
	URLPatterns []string `json:"url_patterns"`
}

// Matcher evaluates descriptors in priority order.
type Matcher struct {
	descriptors []Descriptor
}

func NewMatcher(descriptors []Descriptor) *Matcher {
	return &Matcher{descriptors: append([]Descriptor(nil), descriptors...)}
}

// Match returns the first service whose URL globs cover url and whose
// predicate accepts the url/method pair.
func (m *Matcher) Match(url, method string) (ID, bool) {
	for _, d := range m.descriptors {
		if !d.Covers(url) {
			continue
		}
		if d.Match == nil || d.Match(url, method) {
			return d.ID, true
		}
	}
	return None, false
}

// Lookup returns the descriptor registered for id.
func (m *Matcher) Lookup(id ID) (Descriptor, bool) {
	return lo.Find(m.descriptors, func(d Descriptor) bool { return d.ID == id })
}

// Name returns the display name for id, falling back to the raw id.
func (m *Matcher) Name(id ID) string {
	if d, ok := m.Lookup(id); ok && d.Name != "" {
		return d.Name
	}
	return string(id)
}

// Patterns is the union of all URL globs, in priority order.
func (m *Matcher) Patterns() []string {
	var out []string
	for _, d := range m.descriptors {
		out = append(out, d.URLPatterns...)
	}
	return lo.Uniq(out)
}

// InScope reports whether url is covered by any descriptor.
func (m *Matcher) InScope(url string) bool {
	return lo.ContainsBy(m.descriptors, func(d Descriptor) bool { return d.Covers(url) })
}

func (m *Matcher) Infos() []Info {
	return lo.Map(m.descriptors, func(d Descriptor, _ int) Info {
		return Info{ID: d.ID, Name: d.Name, URLPatterns: append([]string(nil), d.URLPatterns...)}
	})
}

// MatchPattern matches a browser-style URL glob where '*' spans any run of
// characters, slashes included.
func MatchPattern(pattern, url string) bool {
	return fnmatch.Match(pattern, url, 0)
}

// Default returns the built-in service table.
func Default() []Descriptor {
	return []Descriptor{
		{
			ID:          Claude,
			Name:        "Claude",
			URLPatterns: []string{"https://claude.ai/*"},
			Match:       methodAndContains(http.MethodPost, "completion"),
		},
		{
			ID:          ChatGPT,
			Name:        "ChatGPT",
			URLPatterns: []string{"https://chatgpt.com/*", "https://chat.openai.com/*"},
			Match:       methodAndContains(http.MethodPost, "/backend-api/conversation", "/backend-api/f/conversation"),
		},
		{
			ID:          Gemini,
			Name:        "Gemini",
			URLPatterns: []string{"https://gemini.google.com/*"},
			Match:       methodAndContains(http.MethodPost, "StreamGenerate"),
		},
	}
}

// methodAndContains builds a predicate accepting the given method (empty
// accepts any) when the URL contains at least one fragment.
func methodAndContains(method string, fragments ...string) func(string, string) bool {
	return func(url, m string) bool {
		if method != "" && !strings.EqualFold(m, method) {
			return false
		}
		if len(fragments) == 0 {
			return true
		}
		for _, f := range fragments {
			if strings.Contains(url, f) {
				return true
			}
		}
		return false
	}
}
