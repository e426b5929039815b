// Package observability tracks per-stream delivery statistics and exports them as
// OpenTelemetry metrics.
package observability

import (
	"sort"
	"sync"
	"time"
)

// Recorder receives sync loop events. Implementations must be safe for concurrent use.
type Recorder interface {
	RecordAppended(stream string)
	RecordTick(stream string, online bool, pending int)
	RecordDelivered(stream string, elapsed time.Duration)
	RecordFailed(stream string, reason string)
	RecordSkipped(stream string)
}

// StreamStats holds counters for one stream.
type StreamStats struct {
	Stream     string           `json:"stream"`
	Appended   int64            `json:"appended"`
	Delivered  int64            `json:"delivered"`
	Failed     int64            `json:"failed"`
	Skipped    int64            `json:"skipped"`
	Pending    int              `json:"pending"`
	Ticks      int64            `json:"ticks"`
	LastTick   time.Time        `json:"last_tick"`
	LastOnline time.Time        `json:"last_online"`
	Failures   map[string]int64 `json:"failures,omitempty"` // reason → count
}

// Stats tracks StreamStats for every stream. It implements Recorder and
// forwards events to Metrics when one is attached.
type Stats struct {
	mu      sync.RWMutex
	streams map[string]*StreamStats
	metrics *Metrics
	now     func() time.Time
}

// NewStats creates an empty tracker. metrics may be nil.
func NewStats(metrics *Metrics) *Stats {
	return &Stats{
		streams: make(map[string]*StreamStats),
		metrics: metrics,
		now:     time.Now,
	}
}

// stream returns the entry for name, creating it. Caller holds mu.
func (s *Stats) stream(name string) *StreamStats {
	st, ok := s.streams[name]
	if !ok {
		st = &StreamStats{Stream: name, Failures: make(map[string]int64)}
		s.streams[name] = st
	}
	return st
}

// RecordAppended counts a record written to the outbox.
func (s *Stats) RecordAppended(stream string) {
	s.mu.Lock()
	s.stream(stream).Appended++
	s.mu.Unlock()

	s.metrics.appended(stream)
}

// RecordTick records the start of a sync tick and the backlog it found.
// pending is -1 when the tick was skipped for being offline.
func (s *Stats) RecordTick(stream string, online bool, pending int) {
	now := s.now()

	s.mu.Lock()
	st := s.stream(stream)
	st.Ticks++
	st.LastTick = now
	if online {
		st.LastOnline = now
	}
	if pending >= 0 {
		st.Pending = pending
	}
	s.mu.Unlock()

	s.metrics.tick(stream, online)
}

// RecordDelivered counts an acknowledged record.
func (s *Stats) RecordDelivered(stream string, elapsed time.Duration) {
	s.mu.Lock()
	st := s.stream(stream)
	st.Delivered++
	if st.Pending > 0 {
		st.Pending--
	}
	s.mu.Unlock()

	s.metrics.delivered(stream, elapsed)
}

// RecordFailed counts a record that stayed pending because of reason.
func (s *Stats) RecordFailed(stream, reason string) {
	s.mu.Lock()
	st := s.stream(stream)
	st.Failed++
	st.Failures[reason]++
	s.mu.Unlock()

	s.metrics.failed(stream, reason)
}

// RecordSkipped counts a record excluded from submission by a filter.
func (s *Stats) RecordSkipped(stream string) {
	s.mu.Lock()
	s.stream(stream).Skipped++
	s.mu.Unlock()

	s.metrics.skipped(stream)
}

// Get returns a copy of the stats for one stream.
func (s *Stats) Get(stream string) (StreamStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.streams[stream]
	if !ok {
		return StreamStats{}, false
	}
	return copyStats(st), true
}

// Snapshot returns a copy of all stream stats sorted by stream name.
func (s *Stats) Snapshot() []StreamStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]StreamStats, 0, len(s.streams))
	for _, st := range s.streams {
		out = append(out, copyStats(st))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Stream < out[j].Stream
	})
	return out
}

func copyStats(st *StreamStats) StreamStats {
	cp := *st
	cp.Failures = make(map[string]int64, len(st.Failures))
	for k, v := range st.Failures {
		cp.Failures[k] = v
	}
	return cp
}
