// Package httpapi implements the analytics service's HTTP surface:
// process_frame, start/stop_stream, per-stream latest/summary/metrics/
// settings, the active-streams listing, and the WS push endpoint.
// Routing is stdlib net/http with manual path parsing rather than a
// router dependency.
package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/fullscreen-triangle/morphine/internal/config"
	"github.com/fullscreen-triangle/morphine/internal/events"
	"github.com/fullscreen-triangle/morphine/internal/monitoring"
	"github.com/fullscreen-triangle/morphine/internal/pipeline"
	"github.com/fullscreen-triangle/morphine/internal/push"
	"github.com/fullscreen-triangle/morphine/internal/registry"
	"github.com/fullscreen-triangle/morphine/internal/source"
	"github.com/fullscreen-triangle/morphine/internal/store"
	"github.com/fullscreen-triangle/morphine/internal/timeutil"
	"github.com/fullscreen-triangle/morphine/internal/version"
	"github.com/fullscreen-triangle/morphine/internal/vision"
	"github.com/fullscreen-triangle/morphine/internal/wire"
)

var logf = monitoring.Component("HTTPAPI")

// ANSI escape codes for request log coloring.
const (
	colorCyan     = "\033[36m"
	colorReset    = "\033[0m"
	colorYellow   = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed  = "\033[1;31m"
)

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware logs method, path, status, and duration for every
// request.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)

		portPrefix := ""
		if host := r.Host; host != "" {
			if _, p, err := net.SplitHostPort(host); err == nil {
				portPrefix = ":" + p
			}
		}
		log.Printf("[%s] %s %s%s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, portPrefix, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6)
	})
}

// Service wires the Stream Registry, Analytics Store, Push Channel and
// per-stream Frame Pipelines together behind the HTTP surface. One
// Service per process.
type Service struct {
	Registry    *registry.Registry
	Store       *store.Store
	Broadcaster *push.Broadcaster
	Clock       timeutil.Clock

	Adapters vision.AdapterFactory
	Sources  source.ReaderFactory

	DefaultSettings config.Settings

	mu        sync.Mutex
	pipelines map[string]*pipeline.Pipeline
	cancels   map[string]context.CancelFunc
}

// New returns a Service. Any nil dependency is replaced with a
// conservative default (fresh registry/store/broadcaster, real clock,
// null adapters, synthetic source), the same "fill in a working
// default" convention as config's Default...Config constructors.
func New(reg *registry.Registry, st *store.Store, bc *push.Broadcaster) *Service {
	if reg == nil {
		reg = registry.New(nil)
	}
	if st == nil {
		st = store.New(nil)
	}
	if bc == nil {
		bc = push.NewBroadcaster(nil, nil)
	}
	return &Service{
		Registry:        reg,
		Store:           st,
		Broadcaster:     bc,
		Clock:           timeutil.RealClock{},
		Adapters:        vision.NullAdapterFactory{},
		Sources:         source.SyntheticReaderFactory{},
		DefaultSettings: config.DefaultSettings(),
		pipelines:       make(map[string]*pipeline.Pipeline),
		cancels:         make(map[string]context.CancelFunc),
	}
}

// ServeMux registers every route on a fresh *http.ServeMux.
func (s *Service) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/analytics/process_frame", s.handleProcessFrame)
	mux.HandleFunc("/analytics/start_stream", s.handleStartStream)
	mux.HandleFunc("/analytics/stop_stream/", s.handleStopStream)
	mux.HandleFunc("/streams/active", s.handleStreamsActive)
	mux.HandleFunc("/ws/", s.handleWS)
	mux.HandleFunc("/analytics/", s.handleStreamScoped)
	return mux
}

// handleStreamScoped dispatches /analytics/{stream_id}/{latest,summary,
// metrics,settings,events}.
func (s *Service) handleStreamScoped(w http.ResponseWriter, r *http.Request) {
	rest := trimPrefix(r.URL.Path, "/analytics/")
	streamID, sub := splitFirstSegment(rest)
	if streamID == "" {
		writeJSONError(w, http.StatusNotFound, "unknown route")
		return
	}

	switch sub {
	case "latest":
		s.handleLatest(w, r, streamID)
	case "summary":
		s.handleSummary(w, r, streamID)
	case "metrics":
		s.handleMetrics(w, r, streamID)
	case "settings":
		s.handleSettings(w, r, streamID)
	case "events":
		s.handleEvents(w, r, streamID)
	default:
		writeJSONError(w, http.StatusNotFound, "unknown route")
	}
}

func trimPrefix(path, prefix string) string {
	if len(path) >= len(prefix) && path[:len(prefix)] == prefix {
		return path[len(prefix):]
	}
	return path
}

// splitFirstSegment splits "a/b" into ("a", "b") and "a" into ("a", "").
func splitFirstSegment(path string) (first, rest string) {
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			return path[:i], path[i+1:]
		}
	}
	return path, ""
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ready":          true,
		"version":        version.String(),
		"active_streams": len(s.Registry.Active()),
	})
}

func (s *Service) pipelineFor(streamID string, settings config.Settings) *pipeline.Pipeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pipelines[streamID]
	if !ok {
		p = pipeline.New(streamID, s.Adapters.NewDetector(streamID), s.Adapters.NewPoseEstimator(streamID), s.Clock, settings.KinematicsHistoryLen)
		s.pipelines[streamID] = p
	}
	return p
}

func (s *Service) dropPipeline(streamID string) {
	s.mu.Lock()
	delete(s.pipelines, streamID)
	s.mu.Unlock()
}

// handleRecord is the post-process_frame hook shared by the synchronous
// process_frame endpoint and the background stream loop: store the
// record, then (if the store write succeeded) derive events and publish
// to the Push Channel. A store error skips downstream notify/events for
// this frame but never aborts the caller.
func (s *Service) handleRecord(streamID string, record *wire.AnalyticsRecord) {
	if err := s.Store.Store(streamID, record); err != nil {
		logf("stream=%s store failed, skipping events/notify: %v", streamID, err)
		return
	}

	if evs := events.Derive(record); len(evs) > 0 {
		s.Store.AddEvents(streamID, evs)
		for _, ev := range evs {
			logf("stream=%s event kind=%s category=%s", streamID, ev.Kind, ev.Category)
		}
	}

	if s.Broadcaster != nil {
		s.Broadcaster.Publish(streamID, record, notifyPayloadFor(record))
	}
}

func notifyPayloadFor(record *wire.AnalyticsRecord) push.NotifyPayload {
	p := push.NotifyPayload{StreamID: record.StreamID}
	if record.Vibrio != nil {
		p.DetectionCount = record.Vibrio.Detections
		p.ActiveTracks = len(record.Vibrio.Tracks)
		p.MotionEnergy = record.Vibrio.MotionEnergy
		for _, tr := range record.Vibrio.Tracks {
			if tr.Speed > p.MaxSpeed {
				p.MaxSpeed = tr.Speed
			}
		}
	}
	if record.Moriarty != nil {
		p.PoseDetected = record.Moriarty.PoseDetected
		p.KeyJointAngles = record.Moriarty.Biomechanics.JointAngles
		if record.Moriarty.Biomechanics.Stride != nil {
			p.StrideFrequency = record.Moriarty.Biomechanics.Stride.FrequencyHz
		}
	}
	return p
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"success": false, "error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logf("failed to encode response: %v", err)
	}
}
