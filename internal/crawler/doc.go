// Package crawler implements the contact crawler: a bounded-depth,
// domain-scoped walk from a site's landing page through its contact, support,
// about and help pages, collecting mailto addresses and the text excerpts most
// likely to describe how to reach the site operator.
//
// Fetching is pluggable (see Fetcher); the fetcher/colly and fetcher/headless
// packages provide static and rendered implementations, and FetchChain
// promotes between them.
package crawler
