// Package source implements the frame source: opens a video source
// by kind and URI, produces timestamped frames at a target rate with
// newest-wins dropping, and reconnects transient failures with
// exponential backoff. Kinds cover device capture, file playback, and
// RTMP/HTTP/UDP live streams behind one Reader contract.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fullscreen-triangle/morphine/internal/config"
	"github.com/fullscreen-triangle/morphine/internal/monitoring"
	"github.com/fullscreen-triangle/morphine/internal/timeutil"
	"github.com/fullscreen-triangle/morphine/internal/vision"
)

var logf = monitoring.Component("Source")

// Kind names a Frame Source's acquisition method.
type Kind string

const (
	KindDevice Kind = "webcam"
	KindFile   Kind = "file"
	KindRTMP   Kind = "rtmp"
	KindHTTP   Kind = "http"
	KindUDP    Kind = "udp"
)

// ErrEndOfStream is returned by Next when a file source has drained its
// last frame.
var ErrEndOfStream = errors.New("source: end of stream")

// ErrPermanentFailure is returned once reconnect_attempts is exhausted.
var ErrPermanentFailure = errors.New("source: permanent failure")

// Reader is the raw per-kind frame acquisition contract; implementations
// are provided by kind-specific adapters (device capture, file demux,
// RTMP/HTTP/UDP client) outside this package.
type Reader interface {
	// ReadFrame blocks until the next frame is available, returns
	// ErrEndOfStream at end of input, or any other error for a
	// transient/permanent read failure.
	ReadFrame(ctx context.Context) (width, height int, pixels []byte, err error)
	Close() error
}

// Source wraps a Reader with target-FPS enforcement, quality-tier
// resize, and reconnect-with-backoff.
type Source struct {
	streamID string
	kind     Kind
	reader   Reader
	reopen   func(ctx context.Context) (Reader, error)
	clock    timeutil.Clock

	settings config.Settings
	frameIdx int64

	lastEmit time.Time
}

// Open constructs a Source. reopen is called to (re)establish the
// underlying Reader, both initially and after a transient failure.
func Open(ctx context.Context, streamID string, kind Kind, settings config.Settings, clock timeutil.Clock, reopen func(ctx context.Context) (Reader, error)) (*Source, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	reader, err := reopen(ctx)
	if err != nil {
		return nil, fmt.Errorf("source: open: %w", err)
	}
	return &Source{streamID: streamID, kind: kind, reader: reader, reopen: reopen, clock: clock, settings: settings}, nil
}

// Next returns the next frame, enforcing target FPS: if frames arrive
// faster than target_fps, the source drains and keeps only the newest;
// if the underlying reader stalls past the frame period, Next simply
// blocks; there is no queue here to overflow, downstream is starved
// instead. Transient read errors reconnect with exponential
// backoff up to reconnect_attempts; exhausting that returns
// ErrPermanentFailure.
func (s *Source) Next(ctx context.Context) (vision.Frame, error) {
	period := time.Duration(0)
	if s.settings.TargetFPS > 0 {
		period = time.Duration(float64(time.Second) / s.settings.TargetFPS)
	}

	var width, height int
	var pixels []byte
	var err error

	for attempt := 0; ; attempt++ {
		width, height, pixels, err = s.reader.ReadFrame(ctx)
		if err == nil {
			break
		}
		if errors.Is(err, ErrEndOfStream) {
			return vision.Frame{}, ErrEndOfStream
		}
		if ctx.Err() != nil {
			return vision.Frame{}, ctx.Err()
		}
		if attempt >= s.settings.ReconnectAttempts {
			return vision.Frame{}, fmt.Errorf("%w: %v", ErrPermanentFailure, err)
		}

		backoff := time.Duration(1<<uint(attempt)) * 100 * time.Millisecond
		logf("stream=%s transient read error (attempt %d/%d), reconnecting in %s: %v",
			s.streamID, attempt+1, s.settings.ReconnectAttempts, backoff, err)
		s.clock.Sleep(backoff)

		if err := s.reader.Close(); err != nil {
			logf("stream=%s error closing reader before reconnect: %v", s.streamID, err)
		}
		reader, reopenErr := s.reopen(ctx)
		if reopenErr != nil {
			continue
		}
		s.reader = reader
	}

	// newest-wins: if we're ahead of schedule, drop frames already
	// acquired faster than target FPS instead of buffering them.
	if period > 0 {
		now := s.clock.Now()
		if !s.lastEmit.IsZero() && now.Sub(s.lastEmit) < period {
			for {
				w2, h2, px2, rerr := s.reader.ReadFrame(ctx)
				if rerr != nil {
					break
				}
				width, height, pixels = w2, h2, px2
				now = s.clock.Now()
				if now.Sub(s.lastEmit) >= period {
					break
				}
			}
		}
		s.lastEmit = now
	}

	width, height, pixels = resize(width, height, pixels, s.settings.Quality)

	f := vision.Frame{
		StreamID:    s.streamID,
		FrameIdx:    s.frameIdx,
		TimestampNS: s.clock.Now().UnixNano(),
		Width:       width,
		Height:      height,
		Pixels:      pixels,
	}
	s.frameIdx++
	return f, nil
}

// Close releases the underlying reader.
func (s *Source) Close() error {
	return s.reader.Close()
}

// resize downscales pixels if the frame exceeds the quality tier's
// dimensions. Pixels are treated as a single-byte-per-pixel grayscale
// plane; nearest-neighbor decimation keeps this allocation-cheap and
// deterministic.
func resize(width, height int, pixels []byte, tier config.QualityTier) (int, int, []byte) {
	maxW, maxH := config.TierDimensions(tier)
	if width <= maxW && height <= maxH {
		return width, height, pixels
	}

	scaleX := float64(maxW) / float64(width)
	scaleY := float64(maxH) / float64(height)
	scale := scaleX
	if scaleY < scale {
		scale = scaleY
	}
	newW := int(float64(width) * scale)
	newH := int(float64(height) * scale)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	out := make([]byte, newW*newH)
	for y := 0; y < newH; y++ {
		srcY := int(float64(y) / scale)
		if srcY >= height {
			srcY = height - 1
		}
		for x := 0; x < newW; x++ {
			srcX := int(float64(x) / scale)
			if srcX >= width {
				srcX = width - 1
			}
			out[y*newW+x] = pixels[srcY*width+srcX]
		}
	}
	return newW, newH, out
}
