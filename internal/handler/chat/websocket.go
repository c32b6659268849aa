package chat

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	chatService "github.com/dogwood/dashboard-client/internal/service/chat"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

type inboundMessage struct {
	Type string       `json:"type"`
	Data *SendMessage `json:"data,omitempty"`
}

// SendMessage 通过 WebSocket 发送的文本消息
type SendMessage struct {
	Text  string `json:"text"`
	Model string `json:"model"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// wsConn serialises writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) writeJSON(v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// handleWebSocket 推送会话快照及后续事件，并接受 send/clear 指令
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ws := &wsConn{conn: conn}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Events on the channel all follow snap.Seq, so none repeats what the snapshot shows.
	snap, events, unsubscribe := h.conv.SubscribeWithSnapshot(256)
	defer unsubscribe()

	if err := ws.writeJSON(outgoingMessage{Type: "snapshot", Data: snap, Timestamp: time.Now().Unix()}); err != nil {
		return
	}

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go h.pingLoop(ctx, ws)
	go h.forwardEvents(ctx, cancel, ws, events)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[websocket] read error: %v", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg inboundMessage
		if err := sonic.Unmarshal(raw, &msg); err != nil {
			h.sendError(ws, "invalid message")
			continue
		}
		h.handleMessage(ctx, ws, &msg)
	}
}

func (h *Handler) handleMessage(ctx context.Context, ws *wsConn, msg *inboundMessage) {
	switch msg.Type {
	case "send":
		if msg.Data == nil {
			h.sendError(ws, "invalid send payload")
			return
		}
		payload := *msg.Data
		model, ok := h.resolveModel(payload.Model)
		if !ok {
			h.sendError(ws, "unsupported model")
			return
		}
		_, err := h.chatSvc.Start(context.WithoutCancel(ctx), h.conv, model, payload.Text, nil)
		switch {
		case errors.Is(err, chatService.ErrEmptyMessage):
			h.sendError(ws, "message needs text")
		case errors.Is(err, chatService.ErrStreamInFlight):
			h.sendError(ws, "a reply is already streaming")
		case err != nil:
			h.sendError(ws, "failed to send message")
		}
	case "clear":
		if err := h.conv.Clear(); err != nil {
			h.sendError(ws, "cannot clear while a reply is streaming")
		}
	default:
		h.sendError(ws, "unsupported message type: "+msg.Type)
	}
}

func (h *Handler) forwardEvents(ctx context.Context, cancel context.CancelFunc, ws *wsConn, events <-chan chatService.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				log.Printf("[websocket] subscriber fell behind, closing")
				cancel()
				_ = ws.conn.Close()
				return
			}
			msg := outgoingMessage{Type: string(ev.Type), Data: ev, Timestamp: time.Now().Unix()}
			if err := ws.writeJSON(msg); err != nil {
				log.Printf("[websocket] write event failed: %v", err)
				cancel()
				return
			}
		}
	}
}

func (h *Handler) sendError(ws *wsConn, message string) {
	msg := outgoingMessage{
		Type:      "error",
		Data:      map[string]string{"message": message},
		Timestamp: time.Now().Unix(),
	}
	if err := ws.writeJSON(msg); err != nil {
		log.Printf("[websocket] write error failed: %v", err)
	}
}

// pingLoop 定期发送ping消息
func (h *Handler) pingLoop(ctx context.Context, ws *wsConn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ws.ping(); err != nil {
				return
			}
		}
	}
}
