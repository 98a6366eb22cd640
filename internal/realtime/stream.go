package realtime

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	heartbeatInterval = 25 * time.Second

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// ServeSSE streams every notification for key as a Server-Sent Event until
// the client goes away or a newer connection replaces this one.
func (b *Bridge) ServeSSE(w http.ResponseWriter, r *http.Request, key string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	conn := b.Register(ctx, key)
	defer b.Unregister(context.WithoutCancel(ctx), conn)

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case msg := <-conn.Send():
			if _, err := fmt.Fprintf(w, "event: notification\ndata: %s\n\n", msg); err != nil {
				b.logger.Debug("sse write failed", zap.String("recipient", key), zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWS upgrades to a websocket and streams every notification for key
// as a text frame. Client frames are read only to detect disconnects.
func (b *Bridge) ServeWS(w http.ResponseWriter, r *http.Request, key string) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := b.Register(r.Context(), key)
	defer b.Unregister(context.WithoutCancel(r.Context()), conn)

	go writePump(ws, conn, b.logger)

	ws.SetReadLimit(1 << 20)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump owns every write to ws and closes it when conn is done.
func writePump(ws *websocket.Conn, conn *Conn, logger *zap.Logger) {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		_ = ws.Close()
	}()

	for {
		select {
		case <-conn.Done():
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-conn.Send():
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Debug("websocket write failed", zap.String("recipient", conn.Key()), zap.Error(err))
				return
			}
		case <-ping.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
