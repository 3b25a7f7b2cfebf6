package poller

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/erasure/internal/mail"
)

func candidate(from, body string) Candidate {
	m := textMessage(from, "Re: Personal Data Deletion Request", body)
	return Candidate{Message: m, Text: mail.DigestEntry(1, m)}
}

func TestPhraseMatcher(t *testing.T) {
	t.Parallel()

	m := PhraseMatcher{Phrase: "deletion confirmed"}
	assert.True(t, m.Match(target, candidate("a@b.c", "We have DELETION CONFIRMED for your account")))
	assert.False(t, m.Match(target, candidate("a@b.c", "we received your request")))
	assert.False(t, PhraseMatcher{}.Match(target, candidate("a@b.c", "anything")))
}

func TestJSONFieldMatcher(t *testing.T) {
	t.Parallel()

	m := JSONFieldMatcher{Field: "deletionConfirmed"}
	assert.True(t, m.Match(target, candidate("a@b.c", `status: {"deletionConfirmed": true, "ticket": 4}`)))
	assert.False(t, m.Match(target, candidate("a@b.c", `{"deletionConfirmed": false}`)))
	assert.False(t, m.Match(target, candidate("a@b.c", `{"deletionConfirmed": "yes"}`)))
	assert.False(t, m.Match(target, candidate("a@b.c", "deletion confirmed")))

	// Braces are noise for the cleaned digest, so the raw body is scanned too.
	raw := textMessage("a@b.c", "s", "result\n{\"deletionConfirmed\":true}\n")
	assert.True(t, m.Match(target, Candidate{Message: raw, Text: mail.DigestEntry(1, raw)}))
}

func TestJSONFieldTrueSkipsBrokenObjects(t *testing.T) {
	t.Parallel()

	assert.True(t, jsonFieldTrue(`{broken {"ok": true}`, "ok"))
	assert.False(t, jsonFieldTrue(`no json here`, "ok"))
}

func TestAnyMatcher(t *testing.T) {
	t.Parallel()

	m := AnyMatcher{PhraseMatcher{Phrase: "deletion confirmed"}, JSONFieldMatcher{Field: "deletionConfirmed"}}
	assert.True(t, m.Match(target, candidate("a@b.c", "deletion confirmed")))
	assert.True(t, m.Match(target, candidate("a@b.c", `{"deletionConfirmed":true}`)))
	assert.False(t, m.Match(target, candidate("a@b.c", "hello")))
}

func TestDomainScoped(t *testing.T) {
	t.Parallel()

	m := DomainScoped{Inner: PhraseMatcher{Phrase: "deletion confirmed"}}
	tgt := Target{Website: "https://www.Example.com/privacy"}

	assert.True(t, m.Match(tgt, candidate("Privacy <privacy@example.com>", "deletion confirmed")))
	assert.True(t, m.Match(tgt, candidate("noreply@helpdesk.io", "example.com: deletion confirmed")))
	assert.False(t, m.Match(tgt, candidate("privacy@other.com", "deletion confirmed")))
	assert.False(t, m.Match(Target{}, candidate("privacy@example.com", "deletion confirmed")))
}

func TestNewMatcher(t *testing.T) {
	t.Parallel()

	m, err := NewMatcher("", "deletion confirmed", "deletionConfirmed", false)
	require.NoError(t, err)
	assert.IsType(t, PhraseMatcher{}, m)

	m, err = NewMatcher(StrategyJSONField, "", "deletionConfirmed", false)
	require.NoError(t, err)
	assert.IsType(t, JSONFieldMatcher{}, m)

	m, err = NewMatcher(StrategyAny, "x", "y", true)
	require.NoError(t, err)
	scoped, ok := m.(DomainScoped)
	require.True(t, ok)
	assert.IsType(t, AnyMatcher{}, scoped.Inner)

	_, err = NewMatcher("regex", "", "", false)
	require.Error(t, err)

	f := MatcherFunc(func(Target, Candidate) bool { return true })
	assert.True(t, f.Match(target, Candidate{}))
}
