package webcodecs

import (
	"errors"
	"fmt"
)

// Errors returned by AudioData and AudioEncoder operations. They mirror the
// DOMException names a browser would raise for the same misuse.
var (
	// ErrInvalidState is returned when an operation is not valid in the
	// encoder's current state (e.g. Encode before Configure, any call after Close).
	ErrInvalidState = errors.New("webcodecs: invalid state")

	// ErrInvalidConfig is returned when a configuration is malformed
	// independently of codec support (missing codec, non-positive rate, unknown keys).
	ErrInvalidConfig = errors.New("webcodecs: invalid config")

	// ErrNotSupported is returned when a well-formed configuration cannot be
	// served by any registered codec.
	ErrNotSupported = errors.New("webcodecs: config not supported")

	// ErrDataClosed is returned when a closed AudioData is read or submitted.
	ErrDataClosed = errors.New("webcodecs: audio data is closed")

	// ErrInvalidData is returned when AudioData fields are inconsistent.
	ErrInvalidData = errors.New("webcodecs: invalid audio data")

	// ErrAborted is returned by Flush when a Reset or Close discards the
	// pending flush before it completes.
	ErrAborted = errors.New("webcodecs: operation aborted")
)

// EncodingError reports a failure inside the codec while processing input.
// After an EncodingError the encoder is closed.
type EncodingError struct {
	Codec     string
	Timestamp int64 // timestamp (µs) of the frame being encoded
	Err       error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("webcodecs: %s encoding failed at %dus: %v", e.Codec, e.Timestamp, e.Err)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}
