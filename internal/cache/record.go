package cache

import (
	"fmt"
	"time"

	"github.com/dokzlo13/segcache/internal/storage"
)

// Record field names as stored in the collection.
const (
	fieldValue     = "value"
	fieldStored    = "stored"
	fieldTTL       = "ttl"
	fieldExpiresAt = "expiresAt"
)

// expiresAtIndex expires a record as soon as its expiresAt is in the past.
var expiresAtIndex = storage.IndexOptions{
	FieldName:   fieldExpiresAt,
	Expires:     true,
	ExpireAfter: 0,
}

// Key addresses a cached item.
type Key struct {
	Segment string `json:"segment"`
	ID      string `json:"id"`
}

func (k Key) String() string {
	return k.Segment + ":" + k.ID
}

// Envelope is a cached item as returned by Get.
type Envelope struct {
	Item   any   `json:"item"`
	Stored int64 `json:"stored"` // Unix milliseconds
	TTL    int64 `json:"ttl"`    // Milliseconds
}

// StoredAt returns Stored as a time.
func (e *Envelope) StoredAt() time.Time {
	return time.UnixMilli(e.Stored)
}

// TTLDuration returns TTL as a duration.
func (e *Envelope) TTLDuration() time.Duration {
	return time.Duration(e.TTL) * time.Millisecond
}

// Record is the stored form of a cached item.
// Value and Stored are optional so that partially written documents can be detected.
type Record struct {
	ID        string
	Value     *any
	Stored    *time.Time
	TTL       int64 // Milliseconds
	ExpiresAt *time.Time
}

// NewRecord builds the record written by Set.
func NewRecord(id string, value any, ttl time.Duration, now time.Time) Record {
	stored := now
	expiresAt := now.Add(ttl)
	return Record{
		ID:        id,
		Value:     &value,
		Stored:    &stored,
		TTL:       ttl.Milliseconds(),
		ExpiresAt: &expiresAt,
	}
}

// Document converts the record to a storage document.
func (r Record) Document() storage.Document {
	doc := storage.Document{
		fieldTTL: r.TTL,
	}
	if r.Value != nil {
		doc[fieldValue] = *r.Value
	}
	if r.Stored != nil {
		doc[fieldStored] = *r.Stored
	}
	if r.ExpiresAt != nil {
		doc[fieldExpiresAt] = *r.ExpiresAt
	}
	return doc
}

// RecordFromDocument reads a record back from a storage document.
// Missing or mistyped fields are left nil; see Validate.
func RecordFromDocument(doc storage.Document) Record {
	var r Record

	r.ID, _ = doc[storage.IDField].(string)
	if v, ok := doc[fieldValue]; ok {
		r.Value = &v
	}
	if ts, ok := doc[fieldStored].(time.Time); ok {
		r.Stored = &ts
	}
	if ts, ok := doc[fieldExpiresAt].(time.Time); ok {
		r.ExpiresAt = &ts
	}

	switch ttl := doc[fieldTTL].(type) {
	case float64:
		r.TTL = int64(ttl)
	case int64:
		r.TTL = ttl
	}
	return r
}

// Validate reports ErrMalformedRecord when a required field is absent.
func (r Record) Validate() error {
	if r.Value == nil {
		return fmt.Errorf("%w: missing %s", ErrMalformedRecord, fieldValue)
	}
	if r.Stored == nil {
		return fmt.Errorf("%w: missing %s", ErrMalformedRecord, fieldStored)
	}
	return nil
}

// Envelope converts a valid record into the caller-facing envelope.
func (r Record) Envelope() *Envelope {
	return &Envelope{
		Item:   *r.Value,
		Stored: r.Stored.UnixMilli(),
		TTL:    r.TTL,
	}
}
