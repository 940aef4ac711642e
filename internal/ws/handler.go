package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"cabm-chat/backend/internal/chat"
	"cabm-chat/backend/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The desktop client serves its UI from file:// and local ports.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler relays chat turns over a WebSocket: the client sends one
// message per turn and receives the same event sequence the SSE
// endpoint produces, framed as JSON.
type Handler struct {
	orch     *chat.Orchestrator
	sessions *chat.Registry
	log      *logger.Logger
}

// NewHandler builds a Handler.
func NewHandler(orch *chat.Orchestrator, sessions *chat.Registry, log *logger.Logger) *Handler {
	return &Handler{orch: orch, sessions: sessions, log: log}
}

type inbound struct {
	Type      string `json:"type"`
	Message   string `json:"message,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Serve handles GET /ws.
func (h *Handler) Serve(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err.Error())
		return
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Writes are serialized through one channel so turn events and
	// pings never interleave on the wire.
	outbound := make(chan chat.StreamEvent, 16)
	go h.writeLoop(ctx, conn, outbound)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn("websocket read failed", "error", err.Error())
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Type != "chat" {
			outbound <- chat.ErrorNotice("expected a chat message")
			continue
		}

		sess := h.sessions.Default()
		if msg.SessionID != "" {
			sess = h.sessions.Get(msg.SessionID)
		}

		turn, err := h.orch.Run(ctx, sess, msg.Message)
		if err != nil {
			outbound <- chat.ErrorNotice(err.Error())
			outbound <- chat.Terminal
			continue
		}
		for ev := range turn.Events() {
			select {
			case outbound <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, outbound <-chan chat.StreamEvent) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev := <-outbound:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
