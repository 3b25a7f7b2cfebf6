package crawler

import (
	"sort"
	"strings"
)

// FormatResults renders the crawl tree as an indented text report, two spaces
// per level. Skipped (empty) nodes are omitted; children appear in URL order.
func FormatResults(result CrawlResult) string {
	var b strings.Builder
	writeNode(&b, result, 0)
	return b.String()
}

func writeNode(b *strings.Builder, r CrawlResult, level int) {
	if r.Empty() {
		return
	}
	indent := strings.Repeat("  ", level)
	b.WriteString(indent + "=== Page: " + r.URL + " ===\n")
	if r.Error != "" {
		b.WriteString(indent + "Error: " + r.Error + "\n\n")
		return
	}
	if len(r.MailtoLinks) > 0 {
		b.WriteString(indent + "Mailto Links:\n")
		for _, addr := range r.MailtoLinks {
			b.WriteString(indent + "- " + addr + "\n")
		}
	}
	if len(r.ContentExcerpts) > 0 {
		b.WriteString(indent + "Content:\n")
		for _, excerpt := range r.ContentExcerpts {
			b.WriteString(indent + excerpt + "\n")
		}
	}
	b.WriteString("\n")
	for _, key := range sortedKeys(r.SubPages) {
		if child := r.SubPages[key]; child != nil {
			writeNode(b, *child, level+1)
		}
	}
}

// CollectMailto returns every distinct mailto address in the tree, parents
// before children, in first-seen order. Comparison ignores case.
func CollectMailto(result CrawlResult) []string {
	seen := make(map[string]struct{})
	var out []string
	var walk func(CrawlResult)
	walk = func(r CrawlResult) {
		for _, addr := range r.MailtoLinks {
			key := strings.ToLower(addr)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, addr)
		}
		for _, key := range sortedKeys(r.SubPages) {
			if child := r.SubPages[key]; child != nil {
				walk(*child)
			}
		}
	}
	walk(result)
	return out
}

// VisitedURLs lists every non-empty node URL in the tree.
func VisitedURLs(result CrawlResult) []string {
	var out []string
	var walk func(CrawlResult)
	walk = func(r CrawlResult) {
		if r.URL != "" {
			out = append(out, r.URL)
		}
		for _, key := range sortedKeys(r.SubPages) {
			if child := r.SubPages[key]; child != nil {
				walk(*child)
			}
		}
	}
	walk(result)
	return out
}

func sortedKeys(m map[string]*CrawlResult) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
