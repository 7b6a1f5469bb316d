// Package model contains domain types passed between pipeline stages.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Mode tags a sample message with its processing path.
type Mode string

// Recognized modes.
const (
	ModeLive       Mode = "live"
	ModeEnrollment Mode = "enrollment"
)

// Valid reports whether m is a recognized mode.
func (m Mode) Valid() bool {
	return m == ModeLive || m == ModeEnrollment
}

// ErrMalformedMessage marks payloads that can never be processed.
// Consumers acknowledge and drop these instead of requeueing.
var ErrMalformedMessage = errors.New("malformed message")

// SampleMessage is the wire format published by the ingestion producer.
// Immutable once published; owned by the channel until acknowledged.
type SampleMessage struct {
	MessageID    string    `json:"message_id"`
	SourceID     string    `json:"source_id"`
	Mode         Mode      `json:"mode"`
	CapturedAt   time.Time `json:"captured_at"`
	IdentityHint *int64    `json:"identity_hint,omitempty"`
	Payload      []byte    `json:"payload"`
}

// Encode serializes the message for publishing.
func (m SampleMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeSampleMessage deserializes a wire message. A decode or validation
// failure wraps ErrMalformedMessage so consumers can detect poison payloads.
func DecodeSampleMessage(data []byte) (SampleMessage, error) {
	var m SampleMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return SampleMessage{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if !m.Mode.Valid() {
		return SampleMessage{}, fmt.Errorf("%w: unknown mode %q", ErrMalformedMessage, m.Mode)
	}
	if m.SourceID == "" {
		return SampleMessage{}, fmt.Errorf("%w: missing source_id", ErrMalformedMessage)
	}
	return m, nil
}

// EventRecord is the compact record staged in the fast buffer between
// classification and durable sync.
type EventRecord struct {
	IdentityID int64     `json:"identity_id"`
	SourceID   string    `json:"source_id"`
	ObservedAt time.Time `json:"observed_at"`
	Confidence float64   `json:"confidence"`
}

// Encode serializes the record for the buffer list.
func (r EventRecord) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// DecodeEventRecord deserializes a buffered record.
func DecodeEventRecord(data []byte) (EventRecord, error) {
	var r EventRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return EventRecord{}, fmt.Errorf("decode event record: %w", err)
	}
	return r, nil
}

// EnrollmentSample is one labeled sample inside an enrollment batch.
type EnrollmentSample struct {
	IdentityID int64  `json:"identity_id"`
	Sample     []byte `json:"sample"`
}

// Encode serializes the sample for the buffer batch list.
func (s EnrollmentSample) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// DecodeEnrollmentSample deserializes a buffered enrollment sample.
func DecodeEnrollmentSample(data []byte) (EnrollmentSample, error) {
	var s EnrollmentSample
	if err := json.Unmarshal(data, &s); err != nil {
		return EnrollmentSample{}, fmt.Errorf("decode enrollment sample: %w", err)
	}
	return s, nil
}
