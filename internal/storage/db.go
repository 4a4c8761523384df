package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Engine names accepted in Options.Engine.
const (
	EngineMemory = "memory"
	EngineSQLite = "sqlite"
	EngineBadger = "badger"
)

// Defaults applied by Options.WithDefaults.
const (
	DefaultExt           = "db"
	DefaultSweepInterval = time.Minute
)

// Options configures a DB.
type Options struct {
	Base      string // Root directory; empty means in-memory only
	Partition string // Sub-directory under Base
	Ext       string // File extension of collection files

	Engine string // memory, sqlite or badger
	Driver string // SQLite driver name

	SweepInterval time.Duration // Period of the expired-document sweep
}

// WithDefaults returns a copy of o with empty fields set to their defaults.
func (o Options) WithDefaults() Options {
	if o.Ext == "" {
		o.Ext = DefaultExt
	}
	if o.Engine == "" {
		if o.Base == "" {
			o.Engine = EngineMemory
		} else {
			o.Engine = EngineSQLite
		}
	}
	if o.Driver == "" {
		o.Driver = DriverSQLite3
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = DefaultSweepInterval
	}
	return o
}

// Validate checks the engine and driver names.
func (o Options) Validate() error {
	switch o.Engine {
	case EngineMemory, EngineSQLite, EngineBadger:
	default:
		return fmt.Errorf("unknown storage engine %q", o.Engine)
	}

	switch o.Driver {
	case DriverSQLite3, DriverModernc:
	default:
		return fmt.Errorf("unknown sqlite driver %q", o.Driver)
	}
	return nil
}

// DB is a factory for named collections sharing one configuration.
// It tracks every collection it opens so Close can release them.
type DB struct {
	opts Options

	mu          sync.Mutex
	collections []Collection
	closed      bool

	sweepStop    chan struct{}
	sweepStopped chan struct{}
}

// New creates a DB. No files are touched until a collection is opened.
func New(opts Options) (*DB, error) {
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	return &DB{opts: opts}, nil
}

// Options returns the effective options.
func (db *DB) Options() Options {
	return db.opts
}

// Path returns the file path of the named collection, or "" when in-memory.
func (db *DB) Path(name string) string {
	if db.opts.Base == "" {
		return ""
	}
	return filepath.Join(db.opts.Base, db.opts.Partition, name+"."+db.opts.Ext)
}

// Collection opens and loads the named collection.
func (db *DB) Collection(ctx context.Context, name string) (Collection, error) {
	db.mu.Lock()
	closed := db.closed
	db.mu.Unlock()
	if closed {
		return nil, errors.New("storage closed")
	}

	path := db.Path(name)
	if path != "" && db.opts.Engine != EngineMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	var coll Collection
	var err error
	switch db.opts.Engine {
	case EngineSQLite:
		coll, err = OpenSQLiteCollection(ctx, db.opts.Driver, name, path)
	case EngineBadger:
		coll, err = OpenBadgerCollection(name, path)
	default:
		coll = NewMemoryCollection(name)
	}
	if err != nil {
		return nil, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		coll.Close()
		return nil, errors.New("storage closed")
	}

	db.collections = append(db.collections, coll)
	if db.sweepStop == nil {
		db.startSweep()
	}

	log.Debug().
		Str("collection", name).
		Str("engine", db.opts.Engine).
		Str("path", path).
		Msg("Opened collection")

	return coll, nil
}

// Close stops the sweeper and closes every opened collection.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	collections := db.collections
	db.collections = nil
	stop, stopped := db.sweepStop, db.sweepStopped
	db.mu.Unlock()

	if stop != nil {
		close(stop)
		<-stopped
	}

	var errs []error
	for _, coll := range collections {
		if err := coll.Close(); err != nil {
			errs = append(errs, fmt.Errorf("collection %s: %w", coll.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// startSweep starts the background goroutine that removes expired documents.
// Must be called with db.mu held.
func (db *DB) startSweep() {
	db.sweepStop = make(chan struct{})
	db.sweepStopped = make(chan struct{})

	go func() {
		defer close(db.sweepStopped)

		ticker := time.NewTicker(db.opts.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-db.sweepStop:
				return
			case <-ticker.C:
				db.sweep(time.Now())
			}
		}
	}()
}

// sweep removes expired documents from all open collections.
func (db *DB) sweep(now time.Time) {
	db.mu.Lock()
	collections := append([]Collection(nil), db.collections...)
	db.mu.Unlock()

	ctx := context.Background()
	for _, coll := range collections {
		s, ok := coll.(sweeper)
		if !ok {
			continue
		}

		count, err := s.sweepExpired(ctx, now)
		if err != nil {
			log.Warn().Err(err).Str("collection", coll.Name()).Msg("Failed to cleanup expired documents")
			continue
		}
		if count > 0 {
			log.Debug().
				Str("collection", coll.Name()).
				Int("count", count).
				Msg("Cleaned up expired documents")
		}
	}
}
