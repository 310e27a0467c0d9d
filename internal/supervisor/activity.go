package supervisor

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// NoopActivityProvider reports zero viewers/betting activity for every
// stream. It is the default when no core marketplace service is
// configured, the same "satisfy the interface with nothing" role
// NullDetector plays for vision.Detector.
type NoopActivityProvider struct{}

// ViewerCount implements ActivityProvider.
func (NoopActivityProvider) ViewerCount(string) int { return 0 }

// BettingActivity implements ActivityProvider.
func (NoopActivityProvider) BettingActivity(string) int { return 0 }

// activityResponse is the expected shape of the core service's
// per-stream activity endpoint.
type activityResponse struct {
	ViewerCount     int `json:"viewer_count"`
	BettingActivity int `json:"betting_activity"`
}

// HTTPActivityProvider queries a configured core-service base URL for
// per-stream viewer/betting counts. A request failure is logged and
// treated as zero activity rather than blocking the decision loop.
type HTTPActivityProvider struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPActivityProvider returns an HTTPActivityProvider with a bounded
// request timeout, matching the Supervisor's own health-probe client.
func NewHTTPActivityProvider(baseURL string) *HTTPActivityProvider {
	return &HTTPActivityProvider{BaseURL: baseURL, Client: &http.Client{Timeout: 5 * time.Second}}
}

func (p *HTTPActivityProvider) fetch(streamID string) activityResponse {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"/streams/"+streamID+"/activity", nil)
	if err != nil {
		logf("activity provider: bad request for stream=%s: %v", streamID, err)
		return activityResponse{}
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		logf("activity provider: request failed for stream=%s: %v", streamID, err)
		return activityResponse{}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return activityResponse{}
	}
	var out activityResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		logf("activity provider: decode failed for stream=%s: %v", streamID, err)
		return activityResponse{}
	}
	return out
}

// ViewerCount implements ActivityProvider.
func (p *HTTPActivityProvider) ViewerCount(streamID string) int {
	return p.fetch(streamID).ViewerCount
}

// BettingActivity implements ActivityProvider.
func (p *HTTPActivityProvider) BettingActivity(streamID string) int {
	return p.fetch(streamID).BettingActivity
}
