package compose

import (
	"errors"
	"sort"
	"strings"
)

// ErrNoRecipient is returned when no contact address is known for a site.
var ErrNoRecipient = errors.New("no contact address found")

// recipientRank orders local parts from most to least likely to reach the
// team that handles deletion requests.
var recipientRank = []string{
	"privacy", "dpo", "gdpr", "dataprotection", "data-protection",
	"legal", "support", "contact", "help", "info",
}

// SelectRecipient picks the address a request is sent to. Curated contact
// emails win; otherwise crawled mailto addresses are ranked by local part.
func SelectRecipient(curated, discovered []string) (string, error) {
	for _, addr := range curated {
		if valid(addr) {
			return strings.TrimSpace(addr), nil
		}
	}
	ranked := RankRecipients(discovered)
	if len(ranked) == 0 {
		return "", ErrNoRecipient
	}
	return ranked[0], nil
}

// RankRecipients returns the valid, distinct addresses ordered from most to
// least likely to reach a privacy team. Ties keep their input order.
func RankRecipients(addrs []string) []string {
	seen := make(map[string]struct{}, len(addrs))
	var out []string
	for _, addr := range addrs {
		addr = strings.TrimSpace(addr)
		key := strings.ToLower(addr)
		if _, dup := seen[key]; dup || !valid(addr) {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, addr)
	}
	sort.SliceStable(out, func(i, j int) bool { return rank(out[i]) < rank(out[j]) })
	return out
}

func rank(addr string) int {
	local := strings.ToLower(addr[:strings.IndexByte(addr, '@')])
	for i, kw := range recipientRank {
		if strings.Contains(local, kw) {
			return i
		}
	}
	return len(recipientRank)
}

func valid(addr string) bool {
	addr = strings.TrimSpace(addr)
	at := strings.IndexByte(addr, '@')
	return at > 0 && at < len(addr)-1 && !strings.ContainsAny(addr, " <>")
}
