// Package store implements the analytics store: a keyed,
// time-indexed history with TTL, a latest-record pointer, and a running
// per-stream Summary. The store is the only cross-stream mutable
// resource; every operation is atomic with respect to its stream_id.
package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/fullscreen-triangle/morphine/internal/monitoring"
	"github.com/fullscreen-triangle/morphine/internal/timeutil"
	"github.com/fullscreen-triangle/morphine/internal/wire"
)

var logf = monitoring.Component("Store")

// ErrStreamNotFound is returned by operations on a stream_id that was
// never initialized or has already been fully cleaned up.
var ErrStreamNotFound = errors.New("store: stream not found")

const (
	historyTTL = 3600 * time.Second
	latestTTL  = 300 * time.Second
	streamTTL  = 86400 * time.Second

	// speedSampleCap bounds the per-stream reservoir used to estimate
	// P95Speed; oldest samples are dropped once the cap is reached.
	speedSampleCap = 2000
)

// entry is one stored record plus the wall-clock deadline it expires at.
type entry struct {
	record    *wire.AnalyticsRecord
	expiresAt time.Time
}

// streamState holds everything the store tracks for one stream.
type streamState struct {
	mu sync.Mutex

	history []entry
	latest  *entry

	summary       wire.Summary
	summaryExpiry time.Time

	// poseRateN is the number of frames contributing to PoseRate's
	// running average, tracked separately so the update divides by the
	// correct N instead of double-counting the just-added frame.
	poseRateN int64

	// speedSamples is a bounded reservoir of observed track speeds,
	// used to estimate P95Speed via gonum's empirical quantile.
	speedSamples []float64

	// events is the short-TTL buffer of derived opportunities/alerts,
	// pruned on read once expires_at has passed.
	events []wire.Event
}

// Store is the cross-stream analytics store. Each per-stream method call
// is atomic with respect to that stream_id.
type Store struct {
	clock timeutil.Clock

	mu      sync.RWMutex
	streams map[string]*streamState

	// tombstones, if set, receives each stream's final Summary on
	// Cleanup so it survives a later Sweep eviction.
	tombstones *TombstoneSink
}

// SetTombstoneSink configures sink as the destination for final
// summaries on Cleanup. Passing nil disables tombstoning.
func (s *Store) SetTombstoneSink(sink *TombstoneSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tombstones = sink
}

// New returns an empty Store using clock for TTL bookkeeping.
func New(clock timeutil.Clock) *Store {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Store{clock: clock, streams: make(map[string]*streamState)}
}

// Initialize creates the stream's summary with zero counters.
// Re-initializing an existing stream resets its counters.
func (s *Store) Initialize(streamID string) {
	now := s.clock.Now()
	st := &streamState{
		summary: wire.Summary{
			StreamID:  streamID,
			Status:    "active",
			StartedAt: float64(now.UnixNano()) / 1e9,
		},
		summaryExpiry: now.Add(streamTTL),
	}

	s.mu.Lock()
	s.streams[streamID] = st
	s.mu.Unlock()
}

// Store appends record, refreshes the latest pointer and TTLs, and
// updates the running summary atomically with respect to streamID.
// Returns ErrStreamNotFound if Initialize was never called (or the
// stream was already cleaned up).
func (s *Store) Store(streamID string, record *wire.AnalyticsRecord) error {
	st := s.get(streamID)
	if st == nil {
		return ErrStreamNotFound
	}

	now := s.clock.Now()

	st.mu.Lock()
	defer st.mu.Unlock()

	e := entry{record: record, expiresAt: now.Add(historyTTL)}
	st.history = append(st.history, e)
	// History is appended in time order, so expired entries cluster at
	// the head; drop them here instead of letting the slice grow for
	// the stream's whole lifetime.
	drop := 0
	for drop < len(st.history) && now.After(st.history[drop].expiresAt) {
		drop++
	}
	if drop > 0 {
		st.history = append(st.history[:0], st.history[drop:]...)
	}
	latest := e
	latest.expiresAt = now.Add(latestTTL)
	st.latest = &latest

	st.updateSummary(record, now)
	st.summaryExpiry = now.Add(streamTTL)

	logf("stream=%s frame_idx=%d stored", streamID, record.FrameIdx)
	return nil
}

// updateSummary folds one record into the running Summary. Must be
// called with st.mu held.
func (st *streamState) updateSummary(r *wire.AnalyticsRecord, now time.Time) {
	sum := &st.summary
	sum.TotalFrames++
	n := float64(sum.TotalFrames)

	sum.AvgProcessingTime += (r.ProcessingTime - sum.AvgProcessingTime) / n

	detectionIndicator := 0.0
	if r.Vibrio != nil {
		sum.TotalDetections += int64(r.Vibrio.Detections)
		if r.Vibrio.Detections > 0 {
			detectionIndicator = 1
		}
		for _, tr := range r.Vibrio.Tracks {
			if tr.Speed > sum.MaxSpeed {
				sum.MaxSpeed = tr.Speed
			}
			st.speedSamples = append(st.speedSamples, tr.Speed)
		}
		if overflow := len(st.speedSamples) - speedSampleCap; overflow > 0 {
			st.speedSamples = st.speedSamples[overflow:]
		}
		if len(st.speedSamples) > 0 {
			sorted := append([]float64(nil), st.speedSamples...)
			sort.Float64s(sorted)
			sum.P95Speed = stat.Quantile(0.95, stat.Empirical, sorted, nil)
		}
	}
	sum.DetectionRate += (detectionIndicator - sum.DetectionRate) / n

	// Pose rate running average: weight the old rate by the previous
	// count, i.e. new_rate = (old_rate*(N-1) + indicator) / N, where
	// st.poseRateN equals N-1 before this update and N after it.
	poseIndicator := 0.0
	if r.Moriarty != nil && r.Moriarty.PoseDetected {
		poseIndicator = 1
	}
	st.poseRateN++
	sum.PoseRate = (sum.PoseRate*float64(st.poseRateN-1) + poseIndicator) / float64(st.poseRateN)

	errIndicator := 0.0
	if r.Error != "" {
		errIndicator = 1
	}
	sum.ErrorRate += (errIndicator - sum.ErrorRate) / n

	if sum.AvgProcessingTime > 0 {
		sum.AvgFPS = 1.0 / sum.AvgProcessingTime
	}
}

// AddEvents appends derived opportunities/alerts to the stream's
// short-TTL event buffer. Unknown streams are ignored; event loss is
// acceptable where record loss is not.
func (s *Store) AddEvents(streamID string, evs []wire.Event) {
	if len(evs) == 0 {
		return
	}
	st := s.get(streamID)
	if st == nil {
		return
	}
	st.mu.Lock()
	st.events = append(st.events, evs...)
	st.mu.Unlock()
}

// Events returns the stream's unexpired opportunities/alerts in emission
// order, pruning everything whose expires_at has passed.
func (s *Store) Events(streamID string) []wire.Event {
	st := s.get(streamID)
	if st == nil {
		return nil
	}

	now := float64(s.clock.Now().UnixNano()) / 1e9

	st.mu.Lock()
	defer st.mu.Unlock()

	kept := st.events[:0]
	for _, e := range st.events {
		if e.ExpiresAt > now {
			kept = append(kept, e)
		}
	}
	st.events = kept

	out := make([]wire.Event, len(st.events))
	copy(out, st.events)
	return out
}

// Latest returns the stream's most recently stored record, or nil if
// none has been stored or the latest pointer's TTL has elapsed.
func (s *Store) Latest(streamID string) *wire.AnalyticsRecord {
	st := s.get(streamID)
	if st == nil {
		return nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.latest == nil {
		return nil
	}
	if s.clock.Now().After(st.latest.expiresAt) {
		return nil
	}
	return st.latest.record
}

// Range returns records with timestamp in [t0, t1] inclusive, in
// chronological order.
func (s *Store) Range(streamID string, t0, t1 float64) []*wire.AnalyticsRecord {
	st := s.get(streamID)
	if st == nil {
		return nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	now := s.clock.Now()
	var out []*wire.AnalyticsRecord
	for _, e := range st.history {
		if now.After(e.expiresAt) {
			continue
		}
		if e.record.Timestamp >= t0 && e.record.Timestamp <= t1 {
			out = append(out, e.record)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

// Summary returns a copy of the stream's running summary.
func (s *Store) Summary(streamID string) (wire.Summary, error) {
	st := s.get(streamID)
	if st == nil {
		return wire.Summary{}, ErrStreamNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.summary, nil
}

// Cleanup deletes history, the latest pointer, the speed samples and the
// buffered events, but preserves the summary marked status=inactive,
// ended_at=now. The store holds no stream settings; those live in the
// registry and are not touched here.
func (s *Store) Cleanup(streamID string) {
	st := s.get(streamID)
	if st == nil {
		return
	}

	now := s.clock.Now()
	st.mu.Lock()
	st.history = nil
	st.latest = nil
	st.speedSamples = nil
	st.events = nil
	st.summary.Status = "inactive"
	st.summary.EndedAt = float64(now.UnixNano()) / 1e9
	sum := st.summary
	st.mu.Unlock()

	s.mu.RLock()
	sink := s.tombstones
	s.mu.RUnlock()
	if sink != nil {
		if err := sink.Put(sum); err != nil {
			logf("stream=%s tombstone write failed: %v", streamID, err)
		}
	}
}

// Sweep evicts any stream whose summary TTL has elapsed entirely,
// releasing its memory. The analyticsd and supervisord binaries call it
// from a periodic sweep goroutine.
func (s *Store) Sweep() {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, st := range s.streams {
		st.mu.Lock()
		expired := now.After(st.summaryExpiry)
		st.mu.Unlock()
		if expired {
			delete(s.streams, id)
		}
	}
}

func (s *Store) get(streamID string) *streamState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streams[streamID]
}
