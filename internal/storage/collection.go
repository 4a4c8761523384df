// Package storage provides embedded document collections with TTL indexes.
//
// A DB hands out named collections backed by one of three engines: an
// in-process memory map, one SQLite database file per collection, or one
// Badger directory per collection. All engines share the same document codec
// and TTL-index semantics.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by operations on a closed collection.
var ErrClosed = errors.New("collection closed")

// IDField is the document field holding the primary key.
const IDField = "_id"

// IndexOptions describes an index to ensure on a collection.
type IndexOptions struct {
	FieldName string

	// Expires turns the index into a TTL index: a document whose FieldName
	// timestamp plus ExpireAfter lies in the past is removed.
	Expires     bool
	ExpireAfter time.Duration
}

// Collection is the interface for a single named document collection.
type Collection interface {
	// Name returns the collection name.
	Name() string

	// FindOne returns the document with the given id.
	// Returns nil if no live document exists.
	FindOne(ctx context.Context, id string) (Document, error)

	// Upsert replaces the document with the given id, inserting it if absent.
	Upsert(ctx context.Context, id string, doc Document) error

	// Remove deletes the document with the given id.
	// Returns the number of documents removed.
	Remove(ctx context.Context, id string) (int, error)

	// EnsureIndex creates the index if it does not exist yet.
	EnsureIndex(ctx context.Context, opts IndexOptions) error

	// Close releases the collection's resources.
	Close() error
}

// sweeper is implemented by collections that need periodic expired-entry removal.
type sweeper interface {
	Collection
	sweepExpired(ctx context.Context, now time.Time) (int, error)
}

// ttlIndex is the expiry rule installed by a TTL index.
type ttlIndex struct {
	field string
	after time.Duration
}

func newTTLIndex(opts IndexOptions) *ttlIndex {
	return &ttlIndex{field: opts.FieldName, after: opts.ExpireAfter}
}

// deadline returns the instant after which doc expires.
// Documents without a timestamp in the indexed field never expire.
func (ix *ttlIndex) deadline(doc Document) (time.Time, bool) {
	if ix == nil {
		return time.Time{}, false
	}
	ts, ok := doc[ix.field].(time.Time)
	if !ok {
		return time.Time{}, false
	}
	return ts.Add(ix.after), true
}

// expired reports whether doc is past its deadline at now.
func (ix *ttlIndex) expired(doc Document, now time.Time) bool {
	deadline, ok := ix.deadline(doc)
	return ok && deadline.Before(now)
}

// withID returns a copy of doc carrying id in IDField.
func withID(id string, doc Document) Document {
	out := make(Document, len(doc)+1)
	for k, v := range doc {
		out[k] = v
	}
	out[IDField] = id
	return out
}
