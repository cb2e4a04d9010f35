package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/bidroom/auction-engine/internal/auction"
	"github.com/bidroom/auction-engine/internal/broadcast"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	maxMsgSize = 4096
)

func newUpgrader(allowedOrigins []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
}

// originChecker admits handshakes from the configured origins. Browsers do
// not preflight WebSocket upgrades, so the CORS middleware never sees them.
// Clients that send no Origin header are not browsers and are admitted.
func originChecker(allowed []string) func(*http.Request) bool {
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// inboundMessage is what clients may send over the socket.
type inboundMessage struct {
	Type          string `json:"type"` // "chat"
	ParticipantID string `json:"participant_id"`
	Text          string `json:"text"`
}

// errorMessage reports a rejected inbound message to its sender only.
type errorMessage struct {
	Type  string `json:"type"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

// HandleWS handles GET /tournaments/{tournamentID}/ws. The first message is
// a snapshot; subsequent messages are the tournament's events in order.
// A client that is dropped for falling behind reconnects and gets a fresh
// snapshot.
func (h *Handler) HandleWS(w http.ResponseWriter, r *http.Request) {
	tournamentID := chi.URLParam(r, "tournamentID")

	if !h.upgrader.CheckOrigin(r) {
		writeMessage(w, http.StatusForbidden, "origin_not_allowed", "origin not allowed")
		return
	}

	sub, err := h.engine.Subscribe(r.Context(), tournamentID)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Close()
		slog.Error("ws upgrade failed", "tournament", tournamentID, "err", err)
		return
	}

	replies := make(chan errorMessage, 8)
	done := make(chan struct{})

	go h.readPump(conn, tournamentID, replies, done)
	h.writePump(conn, sub, replies, done)
}

// writePump is the only goroutine writing to conn.
func (h *Handler) writePump(conn *websocket.Conn, sub *broadcast.Subscription, replies <-chan errorMessage, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sub.Close()
		conn.Close()
	}()

	for {
		select {
		case ev, ok := <-sub.Events():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream closed"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}

		case msg := <-replies:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			return
		}
	}
}

// readPump keeps the connection alive, detects disconnects and relays
// inbound chat messages.
func (h *Handler) readPump(conn *websocket.Conn, tournamentID string, replies chan<- errorMessage, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(maxMsgSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("ws read error", "tournament", tournamentID, "err", err)
			}
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "chat" {
			h.reply(replies, errorMessage{Type: "error", Code: "invalid_request", Error: "unsupported message"})
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		_, err = h.engine.PostChat(ctx, tournamentID, msg.ParticipantID, msg.Text)
		cancel()
		if err != nil {
			h.reply(replies, errorMessage{Type: "error", Code: auction.Code(err), Error: err.Error()})
		}
	}
}

func (h *Handler) reply(replies chan<- errorMessage, msg errorMessage) {
	select {
	case replies <- msg:
	default:
	}
}
