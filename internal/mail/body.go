package mail

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// MaxBodyChars bounds the cleaned body length.
const MaxBodyChars = 1000

var noiseMarkers = []string{
	"http://", "https://", "{", "}", "</",
	"font-family:", "color:", "xmlns:", "javascript:",
	"\u034f \u034f \u034f",
}

// BodyText extracts readable text from a message: the first non-empty
// text/plain part wins, otherwise the first text/html part is stripped of
// markup. The result is cleaned with CleanText.
func BodyText(m Message) string {
	for _, p := range m.Parts {
		if strings.HasPrefix(strings.ToLower(p.MimeType), "text/plain") && len(strings.TrimSpace(string(p.Body))) > 0 {
			return CleanText(string(p.Body))
		}
	}
	for _, p := range m.Parts {
		if strings.HasPrefix(strings.ToLower(p.MimeType), "text/html") && len(p.Body) > 0 {
			return CleanText(HTMLToText(string(p.Body)))
		}
	}
	return CleanText(m.Snippet)
}

// HTMLToText drops script, style and head elements and returns the remaining
// text nodes one per line.
func HTMLToText(markup string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return markup
	}
	doc.Find("script, style, head").Remove()
	var lines []string
	for _, n := range doc.Nodes {
		collectText(n, &lines)
	}
	return strings.Join(lines, "\n")
}

func collectText(n *html.Node, out *[]string) {
	if n.Type == html.TextNode {
		if text := strings.TrimSpace(n.Data); text != "" {
			*out = append(*out, text)
		}
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, out)
	}
}

// CleanText drops blank and noise lines (URLs, CSS, markup debris), collapses
// whitespace and truncates to MaxBodyChars with a trailing ellipsis.
func CleanText(text string) string {
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || isNoise(line) {
			continue
		}
		kept = append(kept, line)
	}
	cleaned := strings.Join(strings.Fields(strings.Join(kept, "\n")), " ")
	if len(cleaned) > MaxBodyChars {
		cleaned = truncateRunes(cleaned, MaxBodyChars-3) + "..."
	}
	return cleaned
}

func isNoise(line string) bool {
	lower := strings.ToLower(line)
	for _, marker := range noiseMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// truncateRunes cuts s to at most n bytes without splitting a rune.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
