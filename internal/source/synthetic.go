package source

import "context"

// ReaderFactory opens a Reader for one stream's source_type/source_url.
// The concrete decoders are out of this module's scope; callers inject
// whichever implementation matches their deployment.
type ReaderFactory interface {
	Open(ctx context.Context, kind Kind, url string) (Reader, error)
}

// SyntheticReaderFactory produces SyntheticReader instances regardless
// of kind/url. It is the default wired in when no real device/file/
// RTMP/HTTP/UDP decoder is configured, and the test harness's stand-in
// for a real capture device.
type SyntheticReaderFactory struct {
	Width, Height int
}

// Open implements ReaderFactory.
func (f SyntheticReaderFactory) Open(ctx context.Context, kind Kind, url string) (Reader, error) {
	_ = ctx
	_ = kind
	_ = url
	w, h := f.Width, f.Height
	if w <= 0 {
		w = 1280
	}
	if h <= 0 {
		h = 720
	}
	return &SyntheticReader{width: w, height: h}, nil
}

// SyntheticReader is a deterministic frame generator: each frame is a
// flat grayscale plane whose intensity cycles with the frame counter, so
// consecutive frames differ enough to exercise motion-energy and
// optical-flow without decoding any real video.
type SyntheticReader struct {
	width, height int
	frame         int
}

// ReadFrame implements Reader.
func (s *SyntheticReader) ReadFrame(ctx context.Context) (int, int, []byte, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, nil, err
	}
	pixels := make([]byte, s.width*s.height)
	level := byte((s.frame * 7) % 256)
	for i := range pixels {
		pixels[i] = level
	}
	s.frame++
	return s.width, s.height, pixels, nil
}

// Close implements Reader.
func (s *SyntheticReader) Close() error { return nil }
