// Package registry implements the stream registry: the lifecycle
// state machine for named streams (start/stop/settings/status) across
// the Inactive/Activating/Active/Deactivating/Error states. Start is
// idempotent; Error is terminal until an explicit Stop.
package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/fullscreen-triangle/morphine/internal/config"
	"github.com/fullscreen-triangle/morphine/internal/monitoring"
	"github.com/fullscreen-triangle/morphine/internal/timeutil"
)

var logf = monitoring.Component("Registry")

// State is one of the Stream Registry's lifecycle states.
type State string

const (
	StateInactive     State = "inactive"
	StateActivating   State = "activating"
	StateActive       State = "active"
	StateDeactivating State = "deactivating"
	StateError        State = "error"
)

// ErrStreamNotFound is returned when an operation names an unknown
// stream_id.
var ErrStreamNotFound = errors.New("registry: stream not found")

// ErrInvalidTransition is returned by Start when the stream is in the
// Error state, which only an explicit Stop leaves.
var ErrInvalidTransition = errors.New("registry: invalid state transition")

// SourceConfig names the video source a stream was started with.
type SourceConfig struct {
	Kind string // webcam, file, rtmp, http, udp
	URL  string
}

// StreamInfo is the externally visible lifecycle record for one stream.
type StreamInfo struct {
	StreamID       string
	State          State
	Source         SourceConfig
	Settings       config.Settings
	CreatedAt      time.Time
	LastTransition time.Time
}

type streamEntry struct {
	mu   sync.Mutex
	info StreamInfo

	// pendingSettings holds a patch queued by update_settings that has
	// not yet been applied at a frame boundary.
	pendingSettings *config.SettingsPatch

	cancel func()
}

// Registry owns every stream's lifecycle state. One Registry per
// process; streams within it are mutually independent.
type Registry struct {
	clock timeutil.Clock

	mu      sync.RWMutex
	streams map[string]*streamEntry
}

// New returns an empty Registry stamping lifecycle transitions with
// clock; nil falls back to the real clock.
func New(clock timeutil.Clock) *Registry {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Registry{clock: clock, streams: make(map[string]*streamEntry)}
}

// Start begins activating stream_id with the given source and settings.
// Idempotent: a repeated start on an Active stream returns success
// without re-opening. A start on a stream in Error is rejected with
// ErrInvalidTransition.
func (r *Registry) Start(streamID string, src SourceConfig, settings config.Settings) (State, error) {
	r.mu.Lock()
	entry, exists := r.streams[streamID]
	if !exists {
		entry = &streamEntry{info: StreamInfo{StreamID: streamID, CreatedAt: r.clock.Now()}}
		r.streams[streamID] = entry
	}
	r.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.info.State == StateActive || entry.info.State == StateActivating {
		logf("stream=%s start is a no-op, already %s", streamID, entry.info.State)
		return entry.info.State, nil
	}
	if entry.info.State == StateError {
		logf("stream=%s start rejected, stream is in error until stopped", streamID)
		return entry.info.State, ErrInvalidTransition
	}

	entry.info.Source = src
	entry.info.Settings = settings
	entry.transition(StateActivating, r.clock.Now())
	return StateActivating, nil
}

// MarkActive transitions an Activating stream to Active once its source
// has opened and produced a first frame.
func (r *Registry) MarkActive(streamID string) error {
	entry, err := r.get(streamID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.transition(StateActive, r.clock.Now())
	return nil
}

// Stop begins deactivating stream_id. Idempotent on an already-inactive
// or already-deactivating stream.
func (r *Registry) Stop(streamID string) error {
	entry, err := r.get(streamID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	switch entry.info.State {
	case StateInactive, StateDeactivating:
		return nil
	}
	entry.transition(StateDeactivating, r.clock.Now())
	if entry.cancel != nil {
		entry.cancel()
	}
	return nil
}

// MarkInactive completes a Deactivating stream's teardown once its
// source has been released.
func (r *Registry) MarkInactive(streamID string) error {
	entry, err := r.get(streamID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.transition(StateInactive, r.clock.Now())
	return nil
}

// Fail transitions stream_id to the terminal Error state from any other
// state. Explicit Stop is required before it can restart.
func (r *Registry) Fail(streamID string, cause error) {
	entry, err := r.get(streamID)
	if err != nil {
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	logf("stream=%s -> error: %v", streamID, cause)
	entry.transition(StateError, r.clock.Now())
}

// SetCancel stores the cancellation function for the stream's Frame
// Source, invoked by Stop.
func (r *Registry) SetCancel(streamID string, cancel func()) {
	entry, err := r.get(streamID)
	if err != nil {
		return
	}
	entry.mu.Lock()
	entry.cancel = cancel
	entry.mu.Unlock()
}

// UpdateSettings queues a partial settings patch, applied atomically at
// the next frame boundary via ApplyPendingSettings.
func (r *Registry) UpdateSettings(streamID string, patch config.SettingsPatch) error {
	entry, err := r.get(streamID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.pendingSettings = &patch
	return nil
}

// ApplyPendingSettings is called by the owning pipeline at a frame
// boundary; it applies any queued patch and returns the resolved
// Settings to use for this frame.
func (r *Registry) ApplyPendingSettings(streamID string) (config.Settings, error) {
	entry, err := r.get(streamID)
	if err != nil {
		return config.Settings{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.pendingSettings != nil {
		entry.info.Settings = entry.info.Settings.Apply(*entry.pendingSettings)
		entry.pendingSettings = nil
	}
	return entry.info.Settings, nil
}

// Info returns a copy of the stream's lifecycle record.
func (r *Registry) Info(streamID string) (StreamInfo, error) {
	entry, err := r.get(streamID)
	if err != nil {
		return StreamInfo{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.info, nil
}

// Active returns every stream currently in the Active state.
func (r *Registry) Active() []StreamInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []StreamInfo
	for _, entry := range r.streams {
		entry.mu.Lock()
		if entry.info.State == StateActive {
			out = append(out, entry.info)
		}
		entry.mu.Unlock()
	}
	return out
}

func (r *Registry) get(streamID string) (*streamEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.streams[streamID]
	if !ok {
		return nil, ErrStreamNotFound
	}
	return entry, nil
}

// transition must be called with entry.mu held.
func (entry *streamEntry) transition(to State, now time.Time) {
	entry.info.State = to
	entry.info.LastTransition = now
}
