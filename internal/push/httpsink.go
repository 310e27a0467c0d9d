package push

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HTTPSink posts the compact post-store summary to a core-service
// notification endpoint as JSON. Failures are logged and never retried;
// the pipeline has already moved on to the next frame.
type HTTPSink struct {
	URL    string
	Client *http.Client
}

// NewHTTPSink returns an HTTPSink posting to url with a bounded request
// timeout.
func NewHTTPSink(url string) *HTTPSink {
	return &HTTPSink{URL: url, Client: &http.Client{Timeout: 5 * time.Second}}
}

// Notify implements NotifySink.
func (s *HTTPSink) Notify(streamID string, payload NotifyPayload) {
	body := map[string]interface{}{
		"stream_id":        streamID,
		"detection_count":  payload.DetectionCount,
		"active_tracks":    payload.ActiveTracks,
		"pose_detected":    payload.PoseDetected,
		"max_speed":        payload.MaxSpeed,
		"motion_energy":    payload.MotionEnergy,
		"key_joint_angles": payload.KeyJointAngles,
		"stride_frequency": payload.StrideFrequency,
	}
	data, err := json.Marshal(body)
	if err != nil {
		logf("stream=%s notify encode failed: %v", streamID, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(data))
	if err != nil {
		logf("stream=%s notify request failed: %v", streamID, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		logf("stream=%s notify post failed: %v", streamID, err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		logf("stream=%s notify rejected with status %d", streamID, resp.StatusCode)
	}
}
