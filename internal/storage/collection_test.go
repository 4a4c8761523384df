package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// engineCase opens a fresh collection for one engine configuration.
type engineCase struct {
	name string
	open func(t *testing.T) Collection
}

func engineCases() []engineCase {
	return []engineCase{
		{
			name: "memory",
			open: func(t *testing.T) Collection {
				return NewMemoryCollection("test")
			},
		},
		{
			name: "sqlite3/memory",
			open: func(t *testing.T) Collection {
				coll, err := OpenSQLiteCollection(context.Background(), DriverSQLite3, "test", "")
				if err != nil {
					t.Fatal(err)
				}
				return coll
			},
		},
		{
			name: "sqlite3/file",
			open: func(t *testing.T) Collection {
				path := filepath.Join(t.TempDir(), "test.db")
				coll, err := OpenSQLiteCollection(context.Background(), DriverSQLite3, "test", path)
				if err != nil {
					t.Fatal(err)
				}
				return coll
			},
		},
		{
			name: "modernc/file",
			open: func(t *testing.T) Collection {
				path := filepath.Join(t.TempDir(), "test.db")
				coll, err := OpenSQLiteCollection(context.Background(), DriverModernc, "test", path)
				if err != nil {
					t.Fatal(err)
				}
				return coll
			},
		},
		{
			name: "badger/memory",
			open: func(t *testing.T) Collection {
				coll, err := OpenBadgerCollection("test", "")
				if err != nil {
					t.Fatal(err)
				}
				return coll
			},
		},
		{
			name: "badger/dir",
			open: func(t *testing.T) Collection {
				coll, err := OpenBadgerCollection("test", filepath.Join(t.TempDir(), "test.db"))
				if err != nil {
					t.Fatal(err)
				}
				return coll
			},
		},
	}
}

var expiresAtIndex = IndexOptions{FieldName: "expiresAt", Expires: true}

func TestCollection_Engines(t *testing.T) {
	for _, ec := range engineCases() {
		t.Run(ec.name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("Upsert and FindOne", func(t *testing.T) {
				coll := ec.open(t)
				defer coll.Close()

				if err := coll.Upsert(ctx, "x", Document{"value": "123"}); err != nil {
					t.Fatal(err)
				}

				doc, err := coll.FindOne(ctx, "x")
				if err != nil {
					t.Fatal(err)
				}
				if doc == nil {
					t.Fatal("expected document, got nil")
				}
				if doc["value"] != "123" {
					t.Errorf("expected value 123, got %v", doc["value"])
				}
				if doc[IDField] != "x" {
					t.Errorf("expected _id x, got %v", doc[IDField])
				}
			})

			t.Run("FindOne missing", func(t *testing.T) {
				coll := ec.open(t)
				defer coll.Close()

				doc, err := coll.FindOne(ctx, "missing")
				if err != nil {
					t.Fatal(err)
				}
				if doc != nil {
					t.Errorf("expected nil, got %v", doc)
				}
			})

			t.Run("Upsert replaces whole document", func(t *testing.T) {
				coll := ec.open(t)
				defer coll.Close()

				if err := coll.Upsert(ctx, "x", Document{"a": 1, "b": 2}); err != nil {
					t.Fatal(err)
				}
				if err := coll.Upsert(ctx, "x", Document{"a": 3}); err != nil {
					t.Fatal(err)
				}

				doc, err := coll.FindOne(ctx, "x")
				if err != nil {
					t.Fatal(err)
				}
				if doc["a"] != 3.0 {
					t.Errorf("expected a=3, got %v", doc["a"])
				}
				if _, ok := doc["b"]; ok {
					t.Errorf("expected b to be gone after replace, got %v", doc["b"])
				}
			})

			t.Run("Remove is idempotent", func(t *testing.T) {
				coll := ec.open(t)
				defer coll.Close()

				if err := coll.Upsert(ctx, "x", Document{"value": 1}); err != nil {
					t.Fatal(err)
				}

				n, err := coll.Remove(ctx, "x")
				if err != nil {
					t.Fatal(err)
				}
				if n != 1 {
					t.Errorf("expected 1 removed, got %d", n)
				}

				n, err = coll.Remove(ctx, "x")
				if err != nil {
					t.Fatal(err)
				}
				if n != 0 {
					t.Errorf("expected 0 removed, got %d", n)
				}

				doc, err := coll.FindOne(ctx, "x")
				if err != nil {
					t.Fatal(err)
				}
				if doc != nil {
					t.Errorf("expected nil after remove, got %v", doc)
				}
			})

			t.Run("TTL index hides expired documents", func(t *testing.T) {
				coll := ec.open(t)
				defer coll.Close()

				if err := coll.EnsureIndex(ctx, expiresAtIndex); err != nil {
					t.Fatal(err)
				}
				// Idempotent
				if err := coll.EnsureIndex(ctx, expiresAtIndex); err != nil {
					t.Fatal(err)
				}

				now := time.Now()
				if err := coll.Upsert(ctx, "old", Document{"expiresAt": now.Add(-time.Millisecond)}); err != nil {
					t.Fatal(err)
				}
				if err := coll.Upsert(ctx, "new", Document{"expiresAt": now.Add(time.Hour)}); err != nil {
					t.Fatal(err)
				}

				doc, err := coll.FindOne(ctx, "old")
				if err != nil {
					t.Fatal(err)
				}
				if doc != nil {
					t.Errorf("expected expired document to be hidden, got %v", doc)
				}

				doc, err = coll.FindOne(ctx, "new")
				if err != nil {
					t.Fatal(err)
				}
				if doc == nil {
					t.Error("expected live document, got nil")
				}
			})

			t.Run("TTL index applies to existing documents", func(t *testing.T) {
				coll := ec.open(t)
				defer coll.Close()

				if err := coll.Upsert(ctx, "old", Document{"expiresAt": time.Now().Add(-time.Second)}); err != nil {
					t.Fatal(err)
				}
				if err := coll.EnsureIndex(ctx, expiresAtIndex); err != nil {
					t.Fatal(err)
				}

				doc, err := coll.FindOne(ctx, "old")
				if err != nil {
					t.Fatal(err)
				}
				if doc != nil {
					t.Errorf("expected expired document to be hidden, got %v", doc)
				}
			})

			t.Run("Upsert rejects cycles", func(t *testing.T) {
				coll := ec.open(t)
				defer coll.Close()

				value := map[string]any{"a": 1}
				value["b"] = value

				err := coll.Upsert(ctx, "x", Document{"value": value})
				if !errors.Is(err, ErrUnserializable) {
					t.Errorf("expected ErrUnserializable, got %v", err)
				}
			})
		})
	}
}

func TestMemoryCollection_SweepExpired(t *testing.T) {
	ctx := context.Background()
	coll := NewMemoryCollection("test")

	if err := coll.EnsureIndex(ctx, expiresAtIndex); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	for id, at := range map[string]time.Time{
		"a": now.Add(-time.Minute),
		"b": now.Add(-time.Second),
		"c": now.Add(time.Minute),
	} {
		if err := coll.Upsert(ctx, id, Document{"expiresAt": at}); err != nil {
			t.Fatal(err)
		}
	}
	if err := coll.Upsert(ctx, "forever", Document{"value": 1}); err != nil {
		t.Fatal(err)
	}

	count, err := coll.sweepExpired(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("expected 2 swept, got %d", count)
	}
	if coll.Len() != 2 {
		t.Errorf("expected 2 remaining, got %d", coll.Len())
	}
}

func TestSQLiteCollection_SweepExpired(t *testing.T) {
	ctx := context.Background()
	coll, err := OpenSQLiteCollection(ctx, DriverModernc, "test", "")
	if err != nil {
		t.Fatal(err)
	}
	defer coll.Close()

	if err := coll.EnsureIndex(ctx, expiresAtIndex); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	if err := coll.Upsert(ctx, "old", Document{"expiresAt": now.Add(-time.Minute)}); err != nil {
		t.Fatal(err)
	}
	if err := coll.Upsert(ctx, "new", Document{"expiresAt": now.Add(time.Minute)}); err != nil {
		t.Fatal(err)
	}

	count, err := coll.sweepExpired(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("expected 1 swept, got %d", count)
	}
}

func TestSQLiteCollection_Persists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "persist.db")

	coll, err := OpenSQLiteCollection(ctx, DriverSQLite3, "persist", path)
	if err != nil {
		t.Fatal(err)
	}
	if err := coll.Upsert(ctx, "x", Document{"value": "kept"}); err != nil {
		t.Fatal(err)
	}
	if err := coll.Close(); err != nil {
		t.Fatal(err)
	}

	coll, err = OpenSQLiteCollection(ctx, DriverSQLite3, "persist", path)
	if err != nil {
		t.Fatal(err)
	}
	defer coll.Close()

	doc, err := coll.FindOne(ctx, "x")
	if err != nil {
		t.Fatal(err)
	}
	if doc == nil || doc["value"] != "kept" {
		t.Errorf("expected persisted document, got %v", doc)
	}
}

func TestExpiresAtSeconds(t *testing.T) {
	tests := []struct {
		name     string
		deadline time.Time
		expected uint64
	}{
		{name: "whole_second", deadline: time.Unix(100, 0), expected: 100},
		{name: "rounds_up", deadline: time.Unix(100, 1), expected: 101},
		{name: "epoch", deadline: time.Unix(0, 0), expected: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := expiresAtSeconds(tt.deadline); got != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, got)
			}
		})
	}
}
