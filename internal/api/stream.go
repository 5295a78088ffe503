package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/edgard/funnelbot/internal/database"
	"github.com/edgard/funnelbot/internal/realtime"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

type streamEvent struct {
	Type    string            `json:"type"`
	Message *database.Message `json:"message"`
}

// Stream upgrades to a websocket and pushes operator messages of the
// session as they are inserted.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := h.store.GetSession(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	history, err := h.store.ListMessages(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "Websocket upgrade failed", "session_id", id, "error", err)
		return
	}
	defer conn.Close()

	log := h.logger.With("session_id", id)
	log.InfoContext(r.Context(), "Stream client connected")

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	// Writes happen from the sync callback and the ping loop.
	writes := make(chan streamEvent, 16)

	transcript := realtime.NewTranscript(history...)
	watcher := realtime.NewSync(realtime.FromStore(h.store), id, transcript, h.realtime, func(m *database.Message) {
		select {
		case writes <- streamEvent{Type: "operator_message", Message: m}:
		case <-ctx.Done():
		}
	}, h.logger)

	go func() {
		defer cancel()
		if err := watcher.Run(ctx); err != nil {
			log.ErrorContext(ctx, "Realtime sync stopped", "error", err)
		}
	}()

	go h.readPump(ctx, cancel, conn)

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(streamWriteWait))
			log.InfoContext(r.Context(), "Stream client disconnected")
			return
		case ev := <-writes:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.DebugContext(ctx, "Stream write failed", "error", err)
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client frames and cancels the stream when the client
// goes away.
func (h *Handler) readPump(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	defer cancel()

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && ctx.Err() == nil {
				h.logger.DebugContext(ctx, "Stream read error", "error", err)
			}
			return
		}
	}
}
