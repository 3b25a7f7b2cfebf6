// Package domaincache is a read-through cache of site data per domain. A hit
// lets the workflow skip crawling a site it has already analysed and carries
// curated per-domain instructions (preferred contact addresses, notes).
package domaincache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/erasure/internal/crawler"
	"github.com/JakeFAU/erasure/internal/storage"
)

// Entry is the cached site data for one domain.
type Entry struct {
	Domain        string               `json:"domain"`
	Crawl         *crawler.CrawlResult `json:"crawl,omitempty"`
	ContactEmails []string             `json:"contact_emails,omitempty"`
	Instructions  string               `json:"instructions,omitempty"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// Cache is backed by one JSON document mapping domain to Entry.
type Cache struct {
	mu      sync.RWMutex
	store   storage.DocumentStore
	name    string
	entries map[string]Entry
	logger  *zap.Logger
}

// Open loads the cache document, treating a missing document as empty.
func Open(ctx context.Context, store storage.DocumentStore, name string, logger *zap.Logger) (*Cache, error) {
	if store == nil {
		return nil, fmt.Errorf("document store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{store: store, name: name, entries: make(map[string]Entry), logger: logger}

	data, err := store.Get(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read domain cache: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(data, &c.entries); err != nil {
		return nil, fmt.Errorf("parse domain cache: %w", err)
	}
	if c.entries == nil {
		c.entries = make(map[string]Entry)
	}
	logger.Info("domain cache loaded", zap.String("document", name), zap.Int("domains", len(c.entries)))
	return c, nil
}

// Get returns the entry for the domain of website.
func (c *Cache) Get(website string) (Entry, bool) {
	domain := Normalize(website)
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[domain]
	return entry, ok
}

// Put stores entry under its normalized domain and flushes the document. A
// failed flush leaves the previous in-memory entry in place.
func (c *Cache) Put(ctx context.Context, entry Entry) error {
	domain := Normalize(entry.Domain)
	if domain == "" {
		return fmt.Errorf("entry domain is required")
	}
	entry.Domain = domain
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	prev, existed := c.entries[domain]
	c.entries[domain] = entry
	if err := c.flush(ctx); err != nil {
		if existed {
			c.entries[domain] = prev
		} else {
			delete(c.entries, domain)
		}
		return err
	}
	c.logger.Debug("domain cached", zap.String("domain", domain), zap.Int("contacts", len(entry.ContactEmails)))
	return nil
}

// Instructions returns the curated notes for a domain, if any.
func (c *Cache) Instructions(website string) string {
	entry, ok := c.Get(website)
	if !ok {
		return ""
	}
	return entry.Instructions
}

func (c *Cache) flush(ctx context.Context) error {
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode domain cache: %w", err)
	}
	if _, err := c.store.Put(ctx, c.name, data); err != nil {
		return fmt.Errorf("write domain cache: %w", err)
	}
	return nil
}

// Normalize reduces a website or URL to a lowercase host with any leading
// "www." removed.
func Normalize(website string) string {
	raw := strings.TrimSpace(website)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	host := raw
	if u, err := url.Parse(raw); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	return strings.TrimPrefix(host, "www.")
}
