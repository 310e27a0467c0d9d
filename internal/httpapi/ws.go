package httpapi

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/fullscreen-triangle/morphine/internal/wire"
)

// handleWS implements GET /ws/{stream_id}: pushes the latest Analytics
// Record at the Push Channel's fixed cadence. Each
// connection is its own subscriber, identified by a fresh UUID so
// reconnects never collide.
func (s *Service) handleWS(w http.ResponseWriter, r *http.Request) {
	streamID, _ := splitFirstSegment(trimPrefix(r.URL.Path, "/ws/"))
	if streamID == "" {
		writeJSONError(w, http.StatusNotFound, "missing stream_id")
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		logf("ws accept failed for stream=%s: %v", streamID, err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	subscriberID := uuid.NewString()
	ch, unsubscribe := s.Broadcaster.Subscribe(streamID, subscriberID)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case record, ok := <-ch:
			if !ok {
				return
			}
			if err := writeRecord(ctx, conn, record); err != nil {
				logf("ws write failed for stream=%s: %v", streamID, err)
				return
			}
		}
	}
}

func writeRecord(ctx context.Context, conn *websocket.Conn, record *wire.AnalyticsRecord) error {
	data, err := wire.Encode(record)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
