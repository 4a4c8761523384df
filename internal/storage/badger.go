package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/rs/zerolog/log"
)

// gcDiscardRatio is the value-log GC threshold used on every sweep.
const gcDiscardRatio = 0.5

// BadgerCollection is a collection stored in its own Badger directory.
// Expiry uses Badger's native per-entry TTL, which has one-second resolution;
// reads additionally filter at millisecond resolution.
type BadgerCollection struct {
	db   *badger.DB
	name string

	mu    sync.RWMutex
	index *ttlIndex
}

// OpenBadgerCollection opens (or creates) the Badger directory at dir.
// An empty dir runs Badger in in-memory mode.
func OpenBadgerCollection(name, dir string) (*BadgerCollection, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = &badgerLogger{collection: name}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &BadgerCollection{db: db, name: name}, nil
}

// Name returns the collection name.
func (c *BadgerCollection) Name() string {
	return c.name
}

func (c *BadgerCollection) ttl() *ttlIndex {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index
}

// FindOne retrieves a document by id.
func (c *BadgerCollection) FindOne(ctx context.Context, id string) (Document, error) {
	var body []byte

	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(id))
		if err != nil {
			return err
		}
		body, err = item.ValueCopy(nil)
		return err
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find document: %w", err)
	}

	doc, err := decodeDocument(body)
	if err != nil {
		return nil, err
	}

	if c.ttl().expired(doc, time.Now()) {
		if _, err := c.Remove(ctx, id); err != nil {
			log.Debug().Err(err).Str("collection", c.name).Str("id", id).Msg("Failed to remove expired document")
		}
		return nil, nil
	}
	return doc, nil
}

// Upsert saves a document under id, replacing any previous one.
func (c *BadgerCollection) Upsert(ctx context.Context, id string, doc Document) error {
	doc = withID(id, doc)
	body, err := encodeDocument(doc)
	if err != nil {
		return err
	}

	entry := badger.NewEntry([]byte(id), body)
	if deadline, ok := c.ttl().deadline(doc); ok {
		entry.ExpiresAt = expiresAtSeconds(deadline)
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}
	return nil
}

// expiresAtSeconds rounds deadline up to Badger's whole-second expiry.
func expiresAtSeconds(deadline time.Time) uint64 {
	sec := deadline.Unix()
	if deadline.Nanosecond() > 0 {
		sec++
	}
	if sec < 1 {
		// Zero means "never expires" to Badger
		sec = 1
	}
	return uint64(sec)
}

// Remove deletes a document from the collection.
func (c *BadgerCollection) Remove(ctx context.Context, id string) (int, error) {
	removed := 0

	err := c.db.Update(func(txn *badger.Txn) error {
		key := []byte(id)
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		removed = 1
		return txn.Delete(key)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to remove document: %w", err)
	}
	return removed, nil
}

// EnsureIndex installs a TTL index. Documents written before the index get no
// native expiry but are still filtered on read.
func (c *BadgerCollection) EnsureIndex(ctx context.Context, opts IndexOptions) error {
	if !opts.Expires {
		return nil
	}
	if c.db.IsClosed() {
		return ErrClosed
	}

	c.mu.Lock()
	c.index = newTTLIndex(opts)
	c.mu.Unlock()
	return nil
}

// Close closes the Badger database.
func (c *BadgerCollection) Close() error {
	if c.db.IsClosed() {
		return nil
	}
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger: %w", err)
	}
	return nil
}

// sweepExpired reclaims value-log space; Badger drops expired keys itself.
func (c *BadgerCollection) sweepExpired(ctx context.Context, now time.Time) (int, error) {
	if c.db.IsClosed() || c.db.Opts().InMemory {
		return 0, nil
	}

	for {
		err := c.db.RunValueLogGC(gcDiscardRatio)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("failed to run value log gc: %w", err)
		}
	}
}

// badgerLogger adapts zerolog to Badger's Logger interface.
type badgerLogger struct {
	collection string
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	log.Error().Str("collection", l.collection).Msgf(format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	log.Warn().Str("collection", l.collection).Msgf(format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	log.Debug().Str("collection", l.collection).Msgf(format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	log.Trace().Str("collection", l.collection).Msgf(format, args...)
}
