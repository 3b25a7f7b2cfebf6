package mail

import (
	"fmt"
	"strings"
)

const digestBodyChars = 500

// DigestEntry renders one message in the inbox digest format. n is 1-based.
func DigestEntry(n int, m Message) string {
	body := BodyText(m)
	if len(body) > digestBodyChars {
		body = truncateRunes(body, digestBodyChars)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Email %d:\n", n)
	fmt.Fprintf(&b, "From: %s\n", m.From())
	fmt.Fprintf(&b, "Subject: %s\n", m.Subject())
	fmt.Fprintf(&b, "Date: %s\n", m.Date())
	fmt.Fprintf(&b, "Body:\n%s...\n", body)
	b.WriteString(strings.Repeat("-", 80))
	b.WriteString("\n")
	return b.String()
}

// Digest renders messages as one text block.
func Digest(messages []Message) string {
	if len(messages) == 0 {
		return "No unread messages found."
	}
	var b strings.Builder
	for i, m := range messages {
		b.WriteString(DigestEntry(i+1, m))
	}
	return b.String()
}
