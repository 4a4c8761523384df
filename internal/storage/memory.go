package storage

import (
	"context"
	"sync"
	"time"
)

// memoryEntry holds an encoded document with its expiry deadline.
type memoryEntry struct {
	body      []byte
	expiresAt time.Time // Zero value means no expiry
}

// isExpired returns true if the entry has expired.
func (e *memoryEntry) isExpired(now time.Time) bool {
	if e.expiresAt.IsZero() {
		return false
	}
	return e.expiresAt.Before(now)
}

// MemoryCollection is an in-memory collection (not persisted).
// Documents are stored encoded so callers never share state with the collection.
type MemoryCollection struct {
	name    string
	entries map[string]*memoryEntry
	index   *ttlIndex
	closed  bool
	mu      sync.RWMutex
}

// NewMemoryCollection creates a new in-memory collection.
func NewMemoryCollection(name string) *MemoryCollection {
	return &MemoryCollection{
		name:    name,
		entries: make(map[string]*memoryEntry),
	}
}

// Name returns the collection name.
func (c *MemoryCollection) Name() string {
	return c.name
}

// FindOne retrieves a document by id.
func (c *MemoryCollection) FindOne(ctx context.Context, id string) (Document, error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, ErrClosed
	}
	entry, ok := c.entries[id]
	c.mu.RUnlock()

	if !ok {
		return nil, nil
	}

	if entry.isExpired(time.Now()) {
		// Lazy deletion of expired entry
		c.mu.Lock()
		if c.entries[id] == entry {
			delete(c.entries, id)
		}
		c.mu.Unlock()
		return nil, nil
	}

	return decodeDocument(entry.body)
}

// Upsert saves a document under id, replacing any previous one.
func (c *MemoryCollection) Upsert(ctx context.Context, id string, doc Document) error {
	doc = withID(id, doc)
	body, err := encodeDocument(doc)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	entry := &memoryEntry{body: body}
	if deadline, ok := c.index.deadline(doc); ok {
		entry.expiresAt = deadline
	}
	c.entries[id] = entry
	return nil
}

// Remove deletes a document from the collection.
func (c *MemoryCollection) Remove(ctx context.Context, id string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, ErrClosed
	}

	if _, ok := c.entries[id]; !ok {
		return 0, nil
	}
	delete(c.entries, id)
	return 1, nil
}

// EnsureIndex installs a TTL index and recomputes deadlines of stored documents.
// Plain indexes are accepted and ignored: lookups are always by id.
func (c *MemoryCollection) EnsureIndex(ctx context.Context, opts IndexOptions) error {
	if !opts.Expires {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	c.index = newTTLIndex(opts)
	for _, entry := range c.entries {
		doc, err := decodeDocument(entry.body)
		if err != nil {
			return err
		}
		entry.expiresAt, _ = c.index.deadline(doc)
	}
	return nil
}

// Len returns the number of stored entries, expired or not.
func (c *MemoryCollection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close drops all entries.
func (c *MemoryCollection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.entries = make(map[string]*memoryEntry)
	return nil
}

// sweepExpired removes all expired entries from the collection.
// Returns the number of entries removed.
func (c *MemoryCollection) sweepExpired(ctx context.Context, now time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for id, entry := range c.entries {
		if entry.isExpired(now) {
			delete(c.entries, id)
			count++
		}
	}
	return count, nil
}
