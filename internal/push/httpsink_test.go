package push

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHTTPSinkPostsCompactSummary(t *testing.T) {
	received := make(chan map[string]interface{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(body, &m))
		received <- m
	}))
	defer srv.Close()

	sink := NewHTTPSink(srv.URL)
	sink.Notify("s1", NotifyPayload{
		StreamID:       "s1",
		DetectionCount: 2,
		MaxSpeed:       31.5,
		KeyJointAngles: map[string]float64{"left_knee": 120},
	})

	select {
	case m := <-received:
		require.Equal(t, "s1", m["stream_id"])
		require.EqualValues(t, 2, m["detection_count"])
		require.InDelta(t, 31.5, m["max_speed"], 1e-9)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notify POST")
	}
}

func TestHTTPSinkUnreachableTargetDoesNotPanic(t *testing.T) {
	sink := NewHTTPSink("http://127.0.0.1:1/analytics/update")
	require.NotPanics(t, func() {
		sink.Notify("s1", NotifyPayload{StreamID: "s1"})
	})
}
