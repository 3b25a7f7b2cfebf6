package mail

import "strings"

// Query selects replies from a given sender and/or about a given subject.
type Query struct {
	From    string
	Subject string
}

// Matches applies the sender and subject filters with case-insensitive
// substring tests. An empty Query matches everything.
func (q Query) Matches(m Message) bool {
	if q.From != "" && !strings.Contains(strings.ToLower(m.From()), strings.ToLower(q.From)) {
		return false
	}
	if q.Subject != "" && !strings.Contains(strings.ToLower(m.Subject()), strings.ToLower(q.Subject)) {
		return false
	}
	return true
}
