// Package cache implements a segmented key-value cache connection on top of
// embedded TTL-indexed document collections.
//
// A Connection moves through Stopped -> Starting -> Started. Start is
// idempotent and coalesces concurrent callers onto a single storage handle.
// Each segment maps to one collection, opened lazily on first use and kept
// until Stop.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/segcache/internal/metrics"
	"github.com/dokzlo13/segcache/internal/storage"
)

// State is the lifecycle state of a Connection.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateStarted
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateStarted:
		return "started"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Store opens the collections backing a Connection.
// *storage.DB is the production implementation.
type Store interface {
	Collection(ctx context.Context, name string) (storage.Collection, error)
	Close() error
}

// StoreFactory constructs the Store when a Connection starts.
type StoreFactory func(opts storage.Options) (Store, error)

// NewStorageDB is the default StoreFactory.
func NewStorageDB(opts storage.Options) (Store, error) {
	return storage.New(opts)
}

// Option configures a Connection.
type Option func(*Connection)

// WithStoreFactory replaces the storage handle constructor.
func WithStoreFactory(f StoreFactory) Option {
	return func(c *Connection) {
		c.newStore = f
	}
}

// WithMetrics records operations on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Connection) {
		c.metrics = m
	}
}

// WithClock replaces time.Now for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Connection) {
		c.now = now
	}
}

// Connection is a cache client bound to one storage handle.
type Connection struct {
	id       string
	settings storage.Options
	newStore StoreFactory
	metrics  *metrics.Metrics
	now      func() time.Time

	mu      sync.Mutex
	state   State
	store   Store
	pending []chan error // Callers waiting on an in-flight Start, in arrival order

	// collMu is held across open+index so one segment is never opened twice
	collMu      sync.Mutex
	collections map[string]storage.Collection
}

// New creates a stopped Connection. Defaults are applied to settings.
func New(settings storage.Options, opts ...Option) *Connection {
	c := &Connection{
		id:          uuid.NewString(),
		settings:    settings.WithDefaults(),
		newStore:    NewStorageDB,
		now:         time.Now,
		collections: make(map[string]storage.Collection),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID returns the connection's unique identifier.
func (c *Connection) ID() string {
	return c.id
}

// Settings returns the effective storage settings.
func (c *Connection) Settings() storage.Options {
	return c.settings
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsReady returns true if the connection is started.
func (c *Connection) IsReady() bool {
	return c.State() == StateStarted
}

// Start opens the storage handle. It is a no-op on a started connection.
// Callers arriving while a start is in flight wait for its result, and are
// released in arrival order; ctx only bounds that wait.
func (c *Connection) Start(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateStarted:
		c.mu.Unlock()
		return nil

	case StateStarting:
		done := make(chan error, 1)
		c.pending = append(c.pending, done)
		c.mu.Unlock()

		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.state = StateStarting
	c.mu.Unlock()

	store, err := c.newStore(c.settings)

	c.mu.Lock()
	if err != nil {
		c.state = StateStopped
	} else {
		c.store = store
		c.state = StateStarted
	}
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	if err != nil {
		err = fmt.Errorf("failed to open storage: %w", err)
	} else {
		c.metrics.StoreOpened()
		log.Debug().
			Str("connection", c.id).
			Str("engine", c.settings.Engine).
			Str("base", c.settings.Base).
			Msg("Cache connection started")
	}

	for _, done := range pending {
		done <- err
	}
	return err
}

// Stop closes the storage handle and forgets all collections.
// It is a no-op on a stopped connection.
func (c *Connection) Stop() error {
	c.mu.Lock()
	store := c.store
	if store == nil {
		c.mu.Unlock()
		return nil
	}
	c.store = nil
	c.state = StateStopped
	c.mu.Unlock()

	c.collMu.Lock()
	c.collections = make(map[string]storage.Collection)
	c.collMu.Unlock()
	c.metrics.CollectionsCleared()

	log.Debug().Str("connection", c.id).Msg("Cache connection stopped")

	return store.Close()
}

// Collection returns the collection for segment, opening it and ensuring its
// expiry index on first use. Failures are not cached.
func (c *Connection) Collection(ctx context.Context, segment string) (storage.Collection, error) {
	c.mu.Lock()
	state, store := c.state, c.store
	c.mu.Unlock()

	if state != StateStarted {
		return nil, ErrNotReady
	}
	if err := ValidateSegmentName(segment); err != nil {
		return nil, err
	}

	c.collMu.Lock()
	defer c.collMu.Unlock()

	if coll, ok := c.collections[segment]; ok {
		return coll, nil
	}

	coll, err := store.Collection(ctx, segment)
	if err != nil {
		return nil, err
	}

	if err := coll.EnsureIndex(ctx, expiresAtIndex); err != nil {
		return nil, err
	}

	c.collections[segment] = coll
	c.metrics.CollectionOpened()

	log.Debug().
		Str("connection", c.id).
		Str("segment", segment).
		Msg("Registered segment collection")

	return coll, nil
}

// checkKey rejects operations on a never-started connection and keys without an id.
func (c *Connection) checkKey(key Key) error {
	if c.State() == StateStopped {
		return ErrNotStarted
	}
	if key.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidKey)
	}
	return nil
}

// Get returns the cached envelope for key, or nil if there is none.
func (c *Connection) Get(ctx context.Context, key Key) (env *Envelope, err error) {
	defer func() { c.metrics.ObserveOp("get", err) }()

	if err := c.checkKey(key); err != nil {
		return nil, err
	}

	coll, err := c.Collection(ctx, key.Segment)
	if err != nil {
		return nil, err
	}

	doc, err := coll.FindOne(ctx, key.ID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		c.metrics.Miss()
		return nil, nil
	}

	record := RecordFromDocument(doc)
	if err := record.Validate(); err != nil {
		return nil, err
	}

	c.metrics.Hit()
	return record.Envelope(), nil
}

// Set stores value under key. A non-positive ttl is accepted; the record is
// then immediately eligible for expiry.
func (c *Connection) Set(ctx context.Context, key Key, value any, ttl time.Duration) (err error) {
	defer func() { c.metrics.ObserveOp("set", err) }()

	if err := c.checkKey(key); err != nil {
		return err
	}

	coll, err := c.Collection(ctx, key.Segment)
	if err != nil {
		return err
	}

	record := NewRecord(key.ID, value, ttl, c.now())
	if err := coll.Upsert(ctx, key.ID, record.Document()); err != nil {
		if errors.Is(err, storage.ErrUnserializable) {
			return fmt.Errorf("%w: %w", ErrSerialization, err)
		}
		return err
	}
	return nil
}

// Drop removes key. Dropping a missing key is not an error.
func (c *Connection) Drop(ctx context.Context, key Key) (err error) {
	defer func() { c.metrics.ObserveOp("drop", err) }()

	if err := c.checkKey(key); err != nil {
		return err
	}

	coll, err := c.Collection(ctx, key.Segment)
	if err != nil {
		return err
	}

	_, err = coll.Remove(ctx, key.ID)
	return err
}
