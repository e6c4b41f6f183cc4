package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/technosupport/camguard/internal/timeline"
	"github.com/technosupport/camguard/internal/tokens"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 45 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WSHandler streams timeline events to authenticated subscribers.
type WSHandler struct {
	Hub    *timeline.Hub
	Tokens *tokens.Manager
}

func NewWSHandler(hub *timeline.Hub, mgr *tokens.Manager) *WSHandler {
	return &WSHandler{Hub: hub, Tokens: mgr}
}

// GET /ws/timeline?token=...
func (h *WSHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		respondError(w, http.StatusUnauthorized, "token is required")
		return
	}
	if _, err := h.Tokens.ValidateStreamToken(token); err != nil {
		respondError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("api: ws upgrade: %v", err)
		return
	}

	sub := h.Hub.Subscribe()
	go h.writeLoop(conn, sub)
	h.readLoop(conn, sub)
}

// writeLoop drains the subscriber mailbox to the socket. A closed mailbox
// (dropped subscriber) or a write error ends the connection.
func (h *WSHandler) writeLoop(conn *websocket.Conn, sub *timeline.Subscriber) {
	ping := time.NewTicker(wsPingPeriod)
	defer func() {
		ping.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-sub.C():
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"),
					time.Now().Add(wsWriteWait))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop discards inbound frames; its job is pong handling and noticing
// the peer going away.
func (h *WSHandler) readLoop(conn *websocket.Conn, sub *timeline.Subscriber) {
	defer func() {
		h.Hub.Unsubscribe(sub)
		conn.Close()
	}()

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
