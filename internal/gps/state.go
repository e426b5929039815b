package gps

import (
	"sync"

	"github.com/airfi/edgeship/pkg/types"
)

// Fix is the most recent position and satellite picture.
type Fix struct {
	Latitude          float64
	Longitude         float64
	SpeedKMH          float64
	SatellitesVisible int
	SatellitesUsed    int
}

// Status returns GPSStatusFix when at least one satellite is used, else GPSStatusNoFix.
func (f Fix) Status() int {
	if f.SatellitesUsed == 0 {
		return types.GPSStatusNoFix
	}
	return types.GPSStatusFix
}

// State is the shared GPS cell written by the reader and read by record producers.
// The lock is held only for the copy, never across I/O.
type State struct {
	mu  sync.RWMutex
	fix Fix
}

// NewState creates an empty state.
func NewState() *State {
	return &State{}
}

// Apply folds a report into the state. TPV replaces the position; SKY replaces the satellite counts.
func (s *State) Apply(r Report) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.Class {
	case ClassTPV:
		s.fix.Latitude = r.Latitude
		s.fix.Longitude = r.Longitude
		s.fix.SpeedKMH = r.SpeedKMH
	case ClassSKY:
		s.fix.SatellitesVisible = r.SatellitesVisible
		s.fix.SatellitesUsed = r.SatellitesUsed
	}
}

// Set replaces the whole fix.
func (s *State) Set(f Fix) {
	s.mu.Lock()
	s.fix = f
	s.mu.Unlock()
}

// Snapshot returns a copy of the current fix.
func (s *State) Snapshot() Fix {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fix
}

// Status returns the GPS status of the current fix.
func (s *State) Status() int {
	return s.Snapshot().Status()
}
