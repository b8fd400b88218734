// Package domain contains entities and wire records without logic, just meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const (
	MaxAttendeeIDLen     = 64
	MaxExternalUserIDLen = 64
)

var (
	ErrAttendeeIDTooLong     = errors.New("attendee id too long")
	ErrAttendeeIDEmpty       = errors.New("attendee id empty")
	ErrExternalUserIDTooLong = errors.New("external user id too long")
)

type (
	AttendeeID string
	// StreamID is the transient per-connection audio stream handle. Zero is reserved.
	StreamID uint32
)

// SentinelStreamID means "no real remote stream, use the canonical default state".
const SentinelStreamID StreamID = 0

// NewAttendeeID is a tiny helper to avoid ad-hoc conversions in adapters.
func NewAttendeeID(raw string) (AttendeeID, error) {
	if len(raw) == 0 {
		return "", ErrAttendeeIDEmpty
	}
	if len(raw) > MaxAttendeeIDLen {
		return "", ErrAttendeeIDTooLong
	}
	return AttendeeID(raw), nil
}

// GenerateAttendeeID issues a fresh identity for clients that did not bring one.
func GenerateAttendeeID() AttendeeID {
	return AttendeeID(uuid.NewString())
}

func ValidateExternalUserID(ext string) error {
	if len(ext) > MaxExternalUserIDLen {
		return ErrExternalUserIDTooLong
	}
	return nil
}

// StreamRecord is one active stream -> attendee mapping.
type StreamRecord struct {
	StreamID       StreamID
	AttendeeID     AttendeeID
	ExternalUserID string
}
