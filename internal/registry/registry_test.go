package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fullscreen-triangle/morphine/internal/config"
	"github.com/fullscreen-triangle/morphine/internal/timeutil"
)

func newTestRegistry() *Registry {
	return New(timeutil.NewMockClock(time.Unix(0, 0)))
}

func TestStartTransitionsToActivating(t *testing.T) {
	r := newTestRegistry()
	state, err := r.Start("s1", SourceConfig{Kind: "file", URL: "a.mp4"}, config.DefaultSettings())
	require.NoError(t, err)
	require.Equal(t, StateActivating, state)

	info, err := r.Info("s1")
	require.NoError(t, err)
	require.Equal(t, StateActivating, info.State)
	require.Equal(t, "a.mp4", info.Source.URL)
}

func TestStartIsIdempotentOnActive(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Start("s1", SourceConfig{Kind: "file", URL: "a.mp4"}, config.DefaultSettings())
	require.NoError(t, err)
	require.NoError(t, r.MarkActive("s1"))

	state, err := r.Start("s1", SourceConfig{Kind: "file", URL: "b.mp4"}, config.DefaultSettings())
	require.NoError(t, err)
	require.Equal(t, StateActive, state)

	// A no-op start does not clobber the already-active source.
	info, err := r.Info("s1")
	require.NoError(t, err)
	require.Equal(t, "a.mp4", info.Source.URL)
}

func TestStopIsIdempotent(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Start("s1", SourceConfig{Kind: "file", URL: "a.mp4"}, config.DefaultSettings())
	require.NoError(t, err)

	require.NoError(t, r.Stop("s1"))
	info, err := r.Info("s1")
	require.NoError(t, err)
	require.Equal(t, StateDeactivating, info.State)

	// Stopping again from Deactivating is a no-op, not an error.
	require.NoError(t, r.Stop("s1"))
}

func TestStopInvokesCancel(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Start("s1", SourceConfig{Kind: "file", URL: "a.mp4"}, config.DefaultSettings())
	require.NoError(t, err)

	cancelled := false
	r.SetCancel("s1", func() { cancelled = true })
	require.NoError(t, r.Stop("s1"))
	require.True(t, cancelled)
}

func TestFailTransitionsToError(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Start("s1", SourceConfig{Kind: "file", URL: "a.mp4"}, config.DefaultSettings())
	require.NoError(t, err)

	r.Fail("s1", errors.New("inference crashed"))
	info, err := r.Info("s1")
	require.NoError(t, err)
	require.Equal(t, StateError, info.State)
}

func TestUpdateSettingsAppliesAtNextFrameBoundary(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Start("s1", SourceConfig{Kind: "file", URL: "a.mp4"}, config.DefaultSettings())
	require.NoError(t, err)

	newFPS := 15.0
	require.NoError(t, r.UpdateSettings("s1", config.SettingsPatch{TargetFPS: &newFPS}))

	// Not yet applied via Info.
	info, err := r.Info("s1")
	require.NoError(t, err)
	require.NotEqual(t, newFPS, info.Settings.TargetFPS)

	resolved, err := r.ApplyPendingSettings("s1")
	require.NoError(t, err)
	require.Equal(t, newFPS, resolved.TargetFPS)

	// A second call with no pending patch returns the same resolved value.
	resolved2, err := r.ApplyPendingSettings("s1")
	require.NoError(t, err)
	require.Equal(t, newFPS, resolved2.TargetFPS)
}

func TestActiveOnlyListsActiveStreams(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Start("s1", SourceConfig{Kind: "file"}, config.DefaultSettings())
	require.NoError(t, err)
	require.NoError(t, r.MarkActive("s1"))

	_, err = r.Start("s2", SourceConfig{Kind: "file"}, config.DefaultSettings())
	require.NoError(t, err)

	active := r.Active()
	require.Len(t, active, 1)
	require.Equal(t, "s1", active[0].StreamID)
}

func TestOperationsOnUnknownStreamReturnErrStreamNotFound(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Info("missing")
	require.ErrorIs(t, err, ErrStreamNotFound)

	require.ErrorIs(t, r.Stop("missing"), ErrStreamNotFound)
	require.ErrorIs(t, r.MarkActive("missing"), ErrStreamNotFound)
	require.ErrorIs(t, r.MarkInactive("missing"), ErrStreamNotFound)
	require.ErrorIs(t, r.UpdateSettings("missing", config.SettingsPatch{}), ErrStreamNotFound)
}
