// Package storage defines the document store used for the ledger, the domain
// cache and workflow status artifacts. Documents are small JSON blobs that are
// always read and written whole.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no document exists under the name.
var ErrNotFound = errors.New("document not found")

// DocumentStore reads and replaces whole named documents.
type DocumentStore interface {
	// Get returns the stored bytes or ErrNotFound.
	Get(ctx context.Context, name string) ([]byte, error)
	// Put replaces the document and returns a URI describing where it landed.
	Put(ctx context.Context, name string, data []byte) (string, error)
}
