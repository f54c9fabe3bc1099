package client

import (
	"errors"
	"fmt"
)

var (
	// ErrValidationMismatch matches every *ValidationError via errors.Is.
	ErrValidationMismatch = errors.New("client: reply does not match request")

	// ErrAddressRange is returned when address+length runs past the 32-bit address space.
	ErrAddressRange = errors.New("client: range exceeds 32-bit address space")
)

// ValidationError reports a reply whose header or payload disagrees with the request.
// Field is one of "version", "requestId", "operationType" or "payloadLength".
type ValidationError struct {
	Field string
	Want  uint32
	Got   uint32
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("client: reply %s mismatch: want %d, got %d", e.Field, e.Want, e.Got)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationMismatch
}
