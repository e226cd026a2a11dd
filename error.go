package canconf

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected       = errors.New("no adapter connected")
	ErrNotInitialized     = errors.New("adapter not initialized")
	ErrAlreadyStarted     = errors.New("adapter already started")
	ErrNilAdapter         = errors.New("adapter is nil")
	ErrUnknownAdapter     = errors.New("unknown adapter")
	ErrUnsupportedBitrate = errors.New("unsupported bitrate")
	ErrPayloadTooLong     = errors.New("payload longer than 8 bytes")
	ErrExtendedID         = errors.New("extended identifiers are not supported by this adapter")
	ErrDriverUnavailable  = errors.New("vendor driver not available")
	ErrDisconnected       = errors.New("adapter disconnected")
	ErrEmptyPayload       = errors.New("empty payload")
)

// FramingError describes a serial record that could not be decoded.
type FramingError struct {
	Record string
	Reason string
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("malformed record %q: %s", e.Record, e.Reason)
}
