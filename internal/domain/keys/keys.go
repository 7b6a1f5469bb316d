// Package keys builds and parses the fast buffer's composite key formats.
//
// The string formats are a documented storage contract:
//
//	events:{ISO-date}:{source_id}   list of buffered event records
//	batch:{ISO-date}:{identity_id}  list of enrollment samples
//	model                           current serialized model artifact
//	model:version                   shared model version counter
//
// Callers must go through the typed constructors and parsers here rather
// than splitting strings ad hoc.
package keys

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Key prefixes and singletons.
const (
	eventPrefix = "events"
	batchPrefix = "batch"

	// Model holds the serialized classifier artifact.
	Model = "model"
	// ModelVersion is the shared counter bumped on every model persist.
	ModelVersion = "model:version"

	// DateLayout is the ISO date embedded in composite keys.
	DateLayout = "2006-01-02"

	keyParts = 3
)

// ErrInvalidKey marks strings that do not parse as a known key format.
var ErrInvalidKey = errors.New("invalid buffer key")

// EventKey identifies one day's event list for one source.
type EventKey struct {
	Date     time.Time
	SourceID string
}

// NewEventKey builds the key for a source on the record's observation date.
func NewEventKey(observedAt time.Time, sourceID string) EventKey {
	return EventKey{Date: observedAt.UTC().Truncate(24 * time.Hour), SourceID: sourceID}
}

// String renders the storage format events:{date}:{source}.
func (k EventKey) String() string {
	return fmt.Sprintf("%s:%s:%s", eventPrefix, k.Date.Format(DateLayout), k.SourceID)
}

// EventPattern matches all event keys.
func EventPattern() string { return eventPrefix + ":*" }

// ParseEventKey parses events:{date}:{source}.
func ParseEventKey(s string) (EventKey, error) {
	parts := strings.SplitN(s, ":", keyParts)
	if len(parts) != keyParts || parts[0] != eventPrefix || parts[2] == "" {
		return EventKey{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	date, err := time.Parse(DateLayout, parts[1])
	if err != nil {
		return EventKey{}, fmt.Errorf("%w: %q: %v", ErrInvalidKey, s, err)
	}
	return EventKey{Date: date, SourceID: parts[2]}, nil
}

// BatchKey identifies one day's enrollment batch list for one identity.
type BatchKey struct {
	Date       time.Time
	IdentityID int64
}

// NewBatchKey builds the key for an identity's batch on the given date.
func NewBatchKey(date time.Time, identityID int64) BatchKey {
	return BatchKey{Date: date.UTC().Truncate(24 * time.Hour), IdentityID: identityID}
}

// String renders the storage format batch:{date}:{identity}.
func (k BatchKey) String() string {
	return fmt.Sprintf("%s:%s:%d", batchPrefix, k.Date.Format(DateLayout), k.IdentityID)
}

// BatchPattern matches all batch keys.
func BatchPattern() string { return batchPrefix + ":*" }

// BatchPatternFor matches batch keys for one date, optionally one identity.
func BatchPatternFor(date time.Time, identityID int64) string {
	if identityID > 0 {
		return fmt.Sprintf("%s:%s:%d", batchPrefix, date.Format(DateLayout), identityID)
	}
	return fmt.Sprintf("%s:%s:*", batchPrefix, date.Format(DateLayout))
}

// ParseBatchKey parses batch:{date}:{identity}.
func ParseBatchKey(s string) (BatchKey, error) {
	parts := strings.SplitN(s, ":", keyParts)
	if len(parts) != keyParts || parts[0] != batchPrefix {
		return BatchKey{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	date, err := time.Parse(DateLayout, parts[1])
	if err != nil {
		return BatchKey{}, fmt.Errorf("%w: %q: %v", ErrInvalidKey, s, err)
	}
	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || id <= 0 {
		return BatchKey{}, fmt.Errorf("%w: %q: bad identity id", ErrInvalidKey, s)
	}
	return BatchKey{Date: date, IdentityID: id}, nil
}
