package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/fullscreen-triangle/morphine/internal/config"
	"github.com/fullscreen-triangle/morphine/internal/registry"
	"github.com/fullscreen-triangle/morphine/internal/source"
	"github.com/fullscreen-triangle/morphine/internal/vision"
	"github.com/fullscreen-triangle/morphine/internal/wire"
)

// processFrameRequest is the body of POST /analytics/process_frame.
type processFrameRequest struct {
	StreamID  string  `json:"stream_id"`
	FrameData string  `json:"frame_data"`
	Timestamp float64 `json:"timestamp"`
	FrameIdx  int64   `json:"frame_idx"`
}

func (s *Service) handleProcessFrame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req processFrameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	width, height, pixels, err := decodeFrameData(req.FrameData)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("undecodable frame: %v", err))
		return
	}

	settings := s.resolveSettings(req.StreamID)
	frame := vision.Frame{
		StreamID:    req.StreamID,
		FrameIdx:    req.FrameIdx,
		TimestampNS: int64(req.Timestamp * 1e9),
		Width:       width,
		Height:      height,
		Pixels:      pixels,
	}

	p := s.pipelineFor(req.StreamID, settings)
	record := p.ProcessFrame(r.Context(), frame, settings)
	if record == nil {
		// Client went away mid-frame; the frame was dropped.
		return
	}
	s.handleRecord(req.StreamID, record)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": record.Error == "",
		"record":  record,
	})
}

// resolveSettings returns the stream's current settings if it is
// registered, else the service default; process_frame may be called
// against a stream that was never start_stream'd.
func (s *Service) resolveSettings(streamID string) config.Settings {
	if info, err := s.Registry.Info(streamID); err == nil {
		return info.Settings
	}
	return s.DefaultSettings
}

// startStreamRequest is the body of POST /analytics/start_stream.
type startStreamRequest struct {
	StreamID   string               `json:"stream_id"`
	SourceType string               `json:"source_type"`
	SourceURL  string               `json:"source_url"`
	Settings   *config.SettingsPatch `json:"settings"`
}

func (s *Service) handleStartStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req startStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	// The HTTP surface rejects a repeated start on an Active stream with
	// 409; the underlying Registry.Start remains idempotent
	// for internal callers such as the Supervisor.
	if info, err := s.Registry.Info(req.StreamID); err == nil && info.State == registry.StateActive {
		writeJSONError(w, http.StatusConflict, "stream already active")
		return
	}

	settings := s.DefaultSettings
	if req.Settings != nil {
		settings = settings.Apply(*req.Settings)
	}
	if err := settings.Validate(); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	kind := source.Kind(req.SourceType)
	ctx, cancel := context.WithCancel(context.Background())

	src, err := source.Open(ctx, req.StreamID, kind, settings, s.Clock, func(ctx context.Context) (source.Reader, error) {
		return s.Sources.Open(ctx, kind, req.SourceURL)
	})
	if err != nil {
		cancel()
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to open source: %v", err))
		return
	}

	if _, err := s.Registry.Start(req.StreamID, registry.SourceConfig{Kind: req.SourceType, URL: req.SourceURL}, settings); err != nil {
		cancel()
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.Registry.SetCancel(req.StreamID, cancel)
	s.Store.Initialize(req.StreamID)
	if err := s.Registry.MarkActive(req.StreamID); err != nil {
		logf("stream=%s mark active failed: %v", req.StreamID, err)
	}

	go s.runStreamLoop(ctx, req.StreamID, src)

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "stream_id": req.StreamID})
}

// runStreamLoop drains frames from src until the context is cancelled or
// the source reports end-of-stream/permanent failure.
func (s *Service) runStreamLoop(ctx context.Context, streamID string, src *source.Source) {
	defer src.Close()
	defer s.dropPipeline(streamID)

	for {
		settings, err := s.Registry.ApplyPendingSettings(streamID)
		if err != nil {
			return
		}

		frame, err := src.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, source.ErrEndOfStream):
				_ = s.Registry.Stop(streamID)
				_ = s.Registry.MarkInactive(streamID)
				s.Store.Cleanup(streamID)
			case ctx.Err() != nil:
				_ = s.Registry.MarkInactive(streamID)
			default:
				s.Registry.Fail(streamID, err)
			}
			return
		}

		p := s.pipelineFor(streamID, settings)
		record := p.ProcessFrame(ctx, frame, settings)
		if record == nil {
			// Cancelled mid-frame; the next Next call observes ctx and
			// finishes teardown.
			continue
		}
		s.handleRecord(streamID, record)
	}
}

func (s *Service) handleStopStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	streamID, _ := splitFirstSegment(trimPrefix(r.URL.Path, "/analytics/stop_stream/"))
	if streamID == "" {
		writeJSONError(w, http.StatusBadRequest, "missing stream_id")
		return
	}
	if err := s.Registry.Stop(streamID); err != nil && !errors.Is(err, registry.ErrStreamNotFound) {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Service) handleLatest(w http.ResponseWriter, r *http.Request, streamID string) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	record := s.Store.Latest(streamID)
	if record == nil {
		writeJSONError(w, http.StatusNotFound, "no analytics recorded for stream")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Service) handleSummary(w http.ResponseWriter, r *http.Request, streamID string) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	summary, err := s.Store.Summary(streamID)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Service) handleMetrics(w http.ResponseWriter, r *http.Request, streamID string) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	summary, err := s.Store.Summary(streamID)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"fps":                 summary.AvgFPS,
		"detection_rate":      summary.DetectionRate,
		"pose_rate":           summary.PoseRate,
		"error_rate":          summary.ErrorRate,
		"avg_processing_time": summary.AvgProcessingTime,
		"total_frames":        summary.TotalFrames,
	})
}

func (s *Service) handleSettings(w http.ResponseWriter, r *http.Request, streamID string) {
	if r.Method != http.MethodPatch {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var patch config.SettingsPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if err := s.Registry.UpdateSettings(streamID, patch); err != nil {
		writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// handleEvents returns the stream's unexpired derived opportunities and
// alerts.
func (s *Service) handleEvents(w http.ResponseWriter, r *http.Request, streamID string) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	evs := s.Store.Events(streamID)
	if evs == nil {
		evs = []wire.Event{}
	}
	writeJSON(w, http.StatusOK, evs)
}

func (s *Service) handleStreamsActive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	type entry struct {
		StreamID string  `json:"stream_id"`
		State    string  `json:"state"`
		AvgFPS   float64 `json:"avg_fps"`
		MaxSpeed float64 `json:"max_speed"`
	}
	out := []entry{}
	for _, info := range s.Registry.Active() {
		e := entry{StreamID: info.StreamID, State: string(info.State)}
		if summary, err := s.Store.Summary(info.StreamID); err == nil {
			e.AvgFPS = summary.AvgFPS
			e.MaxSpeed = summary.MaxSpeed
		}
		out = append(out, e)
	}
	writeJSON(w, http.StatusOK, out)
}
