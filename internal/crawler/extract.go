package crawler

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	footerLabel  = "Footer Content: "
	contactLabel = "Contact Section: "
	mainLabel    = "Main Content: "
)

// extractMailto returns the address of every mailto link, in document order.
func extractMailto(doc *goquery.Document) []string {
	var out []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		lower := strings.ToLower(href)
		idx := strings.Index(lower, "mailto:")
		if idx < 0 {
			return
		}
		addr := href[idx+len("mailto:"):]
		if q := strings.IndexByte(addr, '?'); q >= 0 {
			addr = addr[:q]
		}
		addr = strings.TrimSpace(addr)
		if addr != "" {
			out = append(out, addr)
		}
	})
	return out
}

// extractExcerpts returns the labeled footer, contact-section and main-content
// texts in that order. Elements without text are skipped.
func extractExcerpts(doc *goquery.Document, sectionKeywords []string) []string {
	var out []string
	if footer := doc.Find("footer").First(); footer.Length() > 0 {
		if text := elementText(footer); text != "" {
			out = append(out, footerLabel+text)
		}
	}
	doc.Find("div, section, article").Each(func(_ int, s *goquery.Selection) {
		class, ok := s.Attr("class")
		if !ok || !containsAny(strings.ToLower(class), sectionKeywords) {
			return
		}
		if text := elementText(s); text != "" {
			out = append(out, contactLabel+text)
		}
	})
	main := doc.Find("main").First()
	if main.Length() == 0 {
		main = doc.Find("body").First()
	}
	if main.Length() > 0 {
		if text := elementText(main); text != "" {
			out = append(out, mainLabel+text)
		}
	}
	return out
}

// extractLinks returns every href value in document order.
func extractLinks(doc *goquery.Document) []string {
	var out []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok && strings.TrimSpace(href) != "" {
			out = append(out, href)
		}
	})
	return out
}

func elementText(s *goquery.Selection) string {
	clone := s.Clone()
	clone.Find("script, style, noscript").Remove()
	return strings.Join(strings.Fields(clone.Text()), " ")
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(haystack, strings.ToLower(n)) {
			return true
		}
	}
	return false
}
