package poller

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JakeFAU/erasure/internal/domaincache"
	"github.com/JakeFAU/erasure/internal/mail"
)

// Candidate is one inspected message with its rendered digest text.
type Candidate struct {
	Message mail.Message
	Text    string
}

// Matcher decides whether a message confirms the deletion for target.
type Matcher interface {
	Match(target Target, c Candidate) bool
}

// MatcherFunc adapts a function to Matcher.
type MatcherFunc func(Target, Candidate) bool

// Match calls f.
func (f MatcherFunc) Match(t Target, c Candidate) bool { return f(t, c) }

// PhraseMatcher matches a case-insensitive substring of the message text.
type PhraseMatcher struct {
	Phrase string
}

// Match implements Matcher.
func (m PhraseMatcher) Match(_ Target, c Candidate) bool {
	if m.Phrase == "" {
		return false
	}
	return strings.Contains(strings.ToLower(c.Text), strings.ToLower(m.Phrase))
}

// JSONFieldMatcher scans the message text for JSON objects and matches when
// any of them carries Field set to true.
type JSONFieldMatcher struct {
	Field string
}

// Match implements Matcher.
func (m JSONFieldMatcher) Match(_ Target, c Candidate) bool {
	for _, text := range []string{c.Text, rawBodies(c.Message)} {
		if jsonFieldTrue(text, m.Field) {
			return true
		}
	}
	return false
}

func rawBodies(m mail.Message) string {
	var b strings.Builder
	for _, p := range m.Parts {
		b.Write(p.Body)
		b.WriteByte('\n')
	}
	return b.String()
}

func jsonFieldTrue(text, field string) bool {
	for start := strings.IndexByte(text, '{'); start >= 0; {
		dec := json.NewDecoder(bytes.NewReader([]byte(text[start:])))
		var obj map[string]any
		if err := dec.Decode(&obj); err == nil {
			if v, ok := obj[field].(bool); ok && v {
				return true
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return false
}

// AnyMatcher matches when any of its matchers does.
type AnyMatcher []Matcher

// Match implements Matcher.
func (a AnyMatcher) Match(t Target, c Candidate) bool {
	for _, m := range a {
		if m.Match(t, c) {
			return true
		}
	}
	return false
}

// DomainScoped only lets Inner match messages that mention the target's
// domain, either in the sender address or in the text.
type DomainScoped struct {
	Inner Matcher
}

// Match implements Matcher.
func (d DomainScoped) Match(t Target, c Candidate) bool {
	domain := domaincache.Normalize(t.Website)
	if domain == "" {
		return false
	}
	if !(mail.Query{From: domain}).Matches(c.Message) &&
		!strings.Contains(strings.ToLower(c.Text), domain) {
		return false
	}
	return d.Inner.Match(t, c)
}

// Match strategies accepted by NewMatcher.
const (
	StrategyPhrase    = "phrase"
	StrategyJSONField = "json_field"
	StrategyAny       = "any"
)

// NewMatcher builds the matcher for a configured strategy.
func NewMatcher(strategy, phrase, field string, scopeToDomain bool) (Matcher, error) {
	var m Matcher
	switch strategy {
	case "", StrategyPhrase:
		m = PhraseMatcher{Phrase: phrase}
	case StrategyJSONField:
		m = JSONFieldMatcher{Field: field}
	case StrategyAny:
		m = AnyMatcher{PhraseMatcher{Phrase: phrase}, JSONFieldMatcher{Field: field}}
	default:
		return nil, fmt.Errorf("unknown match strategy %q", strategy)
	}
	if scopeToDomain {
		m = DomainScoped{Inner: m}
	}
	return m, nil
}
