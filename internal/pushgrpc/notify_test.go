package pushgrpc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fullscreen-triangle/morphine/internal/push"
)

type recordingHandler struct {
	mu       sync.Mutex
	streamID string
	payload  map[string]interface{}
	called   chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{called: make(chan struct{}, 1)}
}

func (h *recordingHandler) HandleNotify(ctx context.Context, streamID string, payload map[string]interface{}) error {
	h.mu.Lock()
	h.streamID = streamID
	h.payload = payload
	h.mu.Unlock()
	h.called <- struct{}{}
	return nil
}

func TestNotifySinkDeliversOverGRPC(t *testing.T) {
	handler := newRecordingHandler()

	srv, err := Serve("127.0.0.1:0", handler)
	require.NoError(t, err)
	defer srv.Stop()

	addr := srv.listener.Addr().String()
	client, err := Dial(addr)
	require.NoError(t, err)
	defer client.Close()

	sink := NotifySink{Client: client}
	sink.Notify("s1", push.NotifyPayload{StreamID: "s1", DetectionCount: 4, MaxSpeed: 7.2})

	select {
	case <-handler.called:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notify RPC")
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	require.Equal(t, "s1", handler.streamID)
	require.EqualValues(t, 4, handler.payload["detection_count"])
}
