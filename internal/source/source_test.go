package source

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fullscreen-triangle/morphine/internal/config"
	"github.com/fullscreen-triangle/morphine/internal/timeutil"
)

// fakeReader yields a fixed sequence of frames, then ErrEndOfStream, or
// fails a fixed number of times before recovering (failuresRemaining).
type fakeReader struct {
	frames            int
	failuresRemaining int
	closed            bool
	failPermanently   bool
}

func (f *fakeReader) ReadFrame(ctx context.Context) (int, int, []byte, error) {
	if f.failuresRemaining > 0 {
		f.failuresRemaining--
		return 0, 0, nil, errors.New("transient glitch")
	}
	if f.failPermanently {
		return 0, 0, nil, errors.New("still broken")
	}
	if f.frames <= 0 {
		return 0, 0, nil, ErrEndOfStream
	}
	f.frames--
	return 4, 4, make([]byte, 16), nil
}

func (f *fakeReader) Close() error {
	f.closed = true
	return nil
}

func TestNextReturnsEndOfStream(t *testing.T) {
	r := &fakeReader{frames: 1}
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	settings := config.DefaultSettings()
	settings.TargetFPS = 0 // disable FPS gating for this test

	src, err := Open(context.Background(), "s1", KindFile, settings, clock, func(ctx context.Context) (Reader, error) {
		return r, nil
	})
	require.NoError(t, err)

	_, err = src.Next(context.Background())
	require.NoError(t, err)

	_, err = src.Next(context.Background())
	require.ErrorIs(t, err, ErrEndOfStream)
}

func TestNextReconnectsOnTransientFailure(t *testing.T) {
	r := &fakeReader{frames: 1, failuresRemaining: 2}
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	settings := config.DefaultSettings()
	settings.TargetFPS = 0
	settings.ReconnectAttempts = 5

	reopenCalls := 0
	src, err := Open(context.Background(), "s1", KindDevice, settings, clock, func(ctx context.Context) (Reader, error) {
		reopenCalls++
		return r, nil
	})
	require.NoError(t, err)

	f, err := src.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, f.Width)
	// initial open + 2 reconnects after the two transient failures.
	require.Equal(t, 3, reopenCalls)
	// The backoff doubles per attempt.
	require.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, clock.Sleeps())
}

func TestNextExhaustsReconnectAttemptsPermanently(t *testing.T) {
	r := &fakeReader{failPermanently: true}
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	settings := config.DefaultSettings()
	settings.TargetFPS = 0
	settings.ReconnectAttempts = 2

	src, err := Open(context.Background(), "s1", KindRTMP, settings, clock, func(ctx context.Context) (Reader, error) {
		return r, nil
	})
	require.NoError(t, err)

	_, err = src.Next(context.Background())
	require.ErrorIs(t, err, ErrPermanentFailure)
}

func TestResizeDownscalesOversizedFrame(t *testing.T) {
	pixels := make([]byte, 1280*720)
	w, h, out := resize(1280, 720, pixels, config.Quality720p)
	require.Equal(t, 1280, w)
	require.Equal(t, 720, h)
	require.Len(t, out, 1280*720)

	w2, h2, out2 := resize(3840, 2160, make([]byte, 3840*2160), config.Quality720p)
	require.LessOrEqual(t, w2, 1280)
	require.LessOrEqual(t, h2, 720)
	require.Len(t, out2, w2*h2)
}
