// Package types provides the payload types carried by the outbox streams.
package types

import "strings"

// PassengerEvent is a single line-crossing detected by the vision pipeline.
type PassengerEvent struct {
	// FrameNumber is the camera frame the crossing was detected in. Monotonic, not unique.
	FrameNumber int64 `json:"frame_number"`

	// PersonID is the tracker identity of the person
	PersonID int64 `json:"person_id"`

	// PersonClass is the detector class (e.g. "adult", "kid")
	PersonClass string `json:"person_class"`

	// State is the crossing direction: "in" or "out"
	State string `json:"state"`

	// InCount, OutCount and OnboardCount are the running counters after this crossing
	InCount      int64 `json:"in_count"`
	OutCount     int64 `json:"out_count"`
	OnboardCount int64 `json:"onboard_count"`

	// Latitude, Longitude and Speed (km/h) at the time of the crossing
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Speed     float64 `json:"speed"`

	// RouteID is the route the vehicle is assigned to
	RouteID int64 `json:"route_id"`
}

// Validate checks the fields the ingestion API requires.
func (e *PassengerEvent) Validate() error {
	if e.FrameNumber <= 0 {
		return ErrMissingFrameNumber
	}
	if strings.TrimSpace(e.PersonClass) == "" {
		return ErrMissingPersonClass
	}
	switch strings.ToLower(e.State) {
	case "in", "out":
	default:
		return ErrInvalidCrossingState
	}
	return nil
}

// HasPosition reports whether the producer supplied a position.
func (e *PassengerEvent) HasPosition() bool {
	return e.Latitude != 0 || e.Longitude != 0
}
