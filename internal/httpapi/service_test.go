package httpapi

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fullscreen-triangle/morphine/internal/push"
	"github.com/fullscreen-triangle/morphine/internal/registry"
	"github.com/fullscreen-triangle/morphine/internal/store"
	"github.com/fullscreen-triangle/morphine/internal/timeutil"
	"github.com/fullscreen-triangle/morphine/internal/wire"
)

func newTestService() *Service {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	reg := registry.New(clock)
	st := store.New(clock)
	bc := push.NewBroadcaster(clock, nil)
	svc := New(reg, st, bc)
	svc.Clock = clock
	return svc
}

func encodedTestPNG(t *testing.T) string {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(x * y)})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestHandleHealth(t *testing.T) {
	svc := newTestService()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	svc.ServeMux().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, true, body["ready"])
	require.Contains(t, body["version"], "dev")
}

func TestHandleProcessFrame(t *testing.T) {
	svc := newTestService()
	payload := map[string]interface{}{
		"stream_id":  "s1",
		"frame_data": encodedTestPNG(t),
		"timestamp":  1.0,
		"frame_idx":  0,
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/analytics/process_frame", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	svc.ServeMux().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, true, resp["success"])
}

func TestHandleProcessFrameUndecodable(t *testing.T) {
	svc := newTestService()
	payload := map[string]interface{}{
		"stream_id":  "s1",
		"frame_data": "not-base64-or-image!!",
		"timestamp":  1.0,
		"frame_idx":  0,
	}
	body, _ := json.Marshal(payload)

	req := httptest.NewRequest(http.MethodPost, "/analytics/process_frame", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	svc.ServeMux().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartStopStreamLifecycle(t *testing.T) {
	svc := newTestService()
	svc.Clock = timeutil.RealClock{} // real clock so the background reader loop drains instead of spinning on a frozen mock

	startBody, _ := json.Marshal(map[string]interface{}{
		"stream_id":   "s1",
		"source_type": "file",
		"source_url":  "unused",
	})
	req := httptest.NewRequest(http.MethodPost, "/analytics/start_stream", bytes.NewReader(startBody))
	rec := httptest.NewRecorder()
	svc.ServeMux().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// A repeated start while active is rejected at the HTTP layer.
	rec2 := httptest.NewRecorder()
	svc.ServeMux().ServeHTTP(rec2, httptest.NewRequest(http.MethodPost, "/analytics/start_stream", bytes.NewReader(startBody)))
	require.Equal(t, http.StatusConflict, rec2.Code)

	stopReq := httptest.NewRequest(http.MethodPost, "/analytics/stop_stream/s1", nil)
	stopRec := httptest.NewRecorder()
	svc.ServeMux().ServeHTTP(stopRec, stopReq)
	require.Equal(t, http.StatusOK, stopRec.Code)

	// Idempotent: stopping again still returns 200.
	stopRec2 := httptest.NewRecorder()
	svc.ServeMux().ServeHTTP(stopRec2, httptest.NewRequest(http.MethodPost, "/analytics/stop_stream/s1", nil))
	require.Equal(t, http.StatusOK, stopRec2.Code)
}

func TestHandleLatestNotFound(t *testing.T) {
	svc := newTestService()
	req := httptest.NewRequest(http.MethodGet, "/analytics/unknown/latest", nil)
	rec := httptest.NewRecorder()
	svc.ServeMux().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSummaryAndMetrics(t *testing.T) {
	svc := newTestService()
	svc.Store.Initialize("s1")
	require.NoError(t, svc.Store.Store("s1", &wire.AnalyticsRecord{StreamID: "s1", FrameIdx: 0, ProcessingTime: 0.2}))

	rec := httptest.NewRecorder()
	svc.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/analytics/s1/summary", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	metricsRec := httptest.NewRecorder()
	svc.ServeMux().ServeHTTP(metricsRec, httptest.NewRequest(http.MethodGet, "/analytics/s1/metrics", nil))
	require.Equal(t, http.StatusOK, metricsRec.Code)

	var metrics map[string]interface{}
	require.NoError(t, json.Unmarshal(metricsRec.Body.Bytes(), &metrics))
	require.InDelta(t, 5.0, metrics["fps"], 1e-9)
}

func TestHandleSettingsPatch(t *testing.T) {
	svc := newTestService()
	_, err := svc.Registry.Start("s1", registry.SourceConfig{Kind: "file", URL: "x"}, svc.DefaultSettings)
	require.NoError(t, err)

	patchBody, _ := json.Marshal(map[string]interface{}{"target_fps": 15.0})
	req := httptest.NewRequest(http.MethodPatch, "/analytics/s1/settings", bytes.NewReader(patchBody))
	rec := httptest.NewRecorder()
	svc.ServeMux().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	resolved, err := svc.Registry.ApplyPendingSettings("s1")
	require.NoError(t, err)
	require.Equal(t, 15.0, resolved.TargetFPS)
}

func TestHandleStreamsActive(t *testing.T) {
	svc := newTestService()
	_, err := svc.Registry.Start("s1", registry.SourceConfig{Kind: "file", URL: "x"}, svc.DefaultSettings)
	require.NoError(t, err)
	require.NoError(t, svc.Registry.MarkActive("s1"))

	rec := httptest.NewRecorder()
	svc.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/streams/active", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var out []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	require.Equal(t, "s1", out[0]["stream_id"])
}

func TestHandleEventsReturnsDerivedOpportunities(t *testing.T) {
	svc := newTestService()
	svc.Store.Initialize("s1")

	record := &wire.AnalyticsRecord{
		StreamID:  "s1",
		FrameIdx:  0,
		Timestamp: 1.0,
		Vibrio:    &wire.VibrioBranch{Tracks: []wire.TrackRecord{{TrackID: 0, Speed: 25}}},
	}
	svc.handleRecord("s1", record)

	rec := httptest.NewRecorder()
	svc.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/analytics/s1/events", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var evs []wire.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &evs))
	require.Len(t, evs, 1)
	require.Equal(t, wire.KindHighSpeed, evs[0].Kind)
	require.InDelta(t, 0.5, evs[0].Confidence, 1e-9)
}
