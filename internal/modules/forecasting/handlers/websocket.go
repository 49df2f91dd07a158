package handlers

import (
	"context"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const wsWriteTimeout = 5 * time.Second

// HandleProgressWebSocket handles GET /api/forecast/progress/ws.
//
// The latest known update is sent first, followed by every update published
// while the connection is open. The server closes with StatusGoingAway when
// the forecaster shuts down.
func (h *Handler) HandleProgressWebSocket(w http.ResponseWriter, r *http.Request) {
	// Subscribe before the upgrade so nothing published after the handshake is lost
	updates, cancel := h.forecaster.SubscribeProgress()
	defer cancel()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.CloseNow()

	// Client messages are ignored; CloseRead cancels ctx once the peer goes away
	ctx := conn.CloseRead(r.Context())

	if latest, ok := h.forecaster.Progress(); ok {
		if err := writeWS(ctx, conn, latest); err != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-updates:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "forecaster shutting down")
				return
			}
			if err := writeWS(ctx, conn, p); err != nil {
				h.log.Debug().Err(err).Msg("Progress websocket write failed")
				return
			}
		}
	}
}

func writeWS(ctx context.Context, conn *websocket.Conn, v interface{}) error {
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, v)
}
