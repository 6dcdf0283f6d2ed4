package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Diegomcha/netquery/internal/domain"
)

// WebSocketConfig tunes keepalive of WebSocket streams
type WebSocketConfig struct {
	PingInterval time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration
}

// WebSocket serves job streams over WebSocket connections.
type WebSocket struct {
	config   WebSocketConfig
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewWebSocket creates a WebSocket transport
func NewWebSocket(config WebSocketConfig, logger *slog.Logger) *WebSocket {
	if config.PingInterval == 0 {
		config.PingInterval = 30 * time.Second
	}
	if config.PongWait == 0 {
		config.PongWait = 90 * time.Second // Allow missing 2 pings before disconnect
	}
	if config.WriteWait == 0 {
		config.WriteWait = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocket{
		config: config,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Serve attaches to src, upgrades the connection and pushes one envelope per
// notification. An inbound {"type":"stop"} envelope cancels the job; the
// stream keeps going until its final envelope. Losing the connection only
// detaches the observer.
//
// An error is returned only before the upgrade, so the caller can still
// answer with a status code.
func (ws *WebSocket) Serve(w http.ResponseWriter, r *http.Request, src Source) error {
	ctx, detach := context.WithCancel(r.Context())
	defer detach()

	ch, err := src.Observe(ctx)
	if err != nil {
		return err
	}

	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		ws.logger.Debug("websocket upgrade failed", "error", err)
		return nil
	}
	defer conn.Close()

	go ws.readLoop(conn, src, detach)
	ws.writeLoop(ctx, conn, ch)
	return nil
}

// readLoop handles client messages until the connection fails.
func (ws *WebSocket) readLoop(conn *websocket.Conn, src Source, detach context.CancelFunc) {
	defer detach()

	conn.SetReadDeadline(time.Now().Add(ws.config.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(ws.config.PongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				ws.logger.Debug("websocket read error", "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(ws.config.PongWait))

		var env EnvelopeRaw
		if err := json.Unmarshal(message, &env); err != nil {
			ws.logger.Debug("invalid websocket message", "error", err)
			continue
		}
		switch env.Type {
		case TypeStop:
			if src.Cancel() {
				ws.logger.Info("job stop requested over websocket")
			}
		default:
			ws.logger.Debug("ignoring websocket message", "type", env.Type)
		}
	}
}

// writeLoop pushes notifications and keepalive pings. It returns after the
// final envelope or when the observer detached.
func (ws *WebSocket) writeLoop(ctx context.Context, conn *websocket.Conn, ch <-chan domain.Notification) {
	ticker := time.NewTicker(ws.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case n, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(envelopeFor(n))
			if err != nil {
				ws.logger.Error("encoding notification", "error", err)
				return
			}
			conn.SetWriteDeadline(time.Now().Add(ws.config.WriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				ws.logger.Debug("websocket write failed", "error", err)
				return
			}
			if n.Final {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(ws.config.WriteWait))
				return
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ws.config.WriteWait)); err != nil {
				return
			}

		case <-ctx.Done():
			return
		}
	}
}
