package types

import "errors"

// Payload validation errors
var (
	// ErrMissingFrameNumber is returned when a passenger event has no frame number
	ErrMissingFrameNumber = errors.New("frame_number must be positive")

	// ErrMissingPersonClass is returned when a passenger event has no person class
	ErrMissingPersonClass = errors.New("person_class is required")

	// ErrInvalidCrossingState is returned when a passenger event state is not a known crossing
	ErrInvalidCrossingState = errors.New("state must be one of in, out")
)
