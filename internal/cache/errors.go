package cache

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Errors returned by the storage engine are passed through unchanged.
var (
	ErrNotStarted      = errors.New("connection not started")
	ErrNotReady        = errors.New("connection not ready")
	ErrInvalidSegment  = errors.New("invalid segment name")
	ErrInvalidKey      = errors.New("invalid key")
	ErrMalformedRecord = errors.New("incorrect record structure")
	ErrSerialization   = errors.New("value cannot be serialized")
)

// ValidateSegmentName checks a segment name.
// Names must be non-empty and must not contain a null character.
func ValidateSegmentName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty string", ErrInvalidSegment)
	}
	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: includes null character", ErrInvalidSegment)
	}
	return nil
}
