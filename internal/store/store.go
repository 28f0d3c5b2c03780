package store

import (
	"context"
	"errors"
)

// ErrDocumentNotFound is returned when a document id has no stored content.
var ErrDocumentNotFound = errors.New("document not found")

// DocumentStore is the persistence contract for script content. The
// coordinator relies on read-after-write consistency for its own writes;
// both implementations satisfy that by writing synchronously.
type DocumentStore interface {
	// GetText returns the current content of the document, or
	// ErrDocumentNotFound when the id is unknown.
	GetText(ctx context.Context, documentID string) (string, error)

	// SetText replaces the content of the document, creating it if absent.
	SetText(ctx context.Context, documentID string, text string) error

	Close() error
}
