package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 64 * 1024
)

// StreamRequest is an allocation request tagged by the client so replies can
// be matched.
type StreamRequest struct {
	ID string `json:"id"`
	AllocationRequest
}

type StreamMessage struct {
	Type  string              `json:"type"`
	ID    string              `json:"id,omitempty"`
	Data  *AllocationResponse `json:"data,omitempty"`
	Error *errorResponse      `json:"error,omitempty"`
}

// handleStream answers every allocation request read from the socket with
// one result or error message, in order.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	send := make(chan StreamMessage, 16)
	done := make(chan struct{})
	go s.streamWritePump(conn, send, done)
	s.streamReadPump(r.Context(), conn, send)
	close(send)
	<-done
}

// checkOrigin applies the CORS allow list to websocket upgrades.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range s.opts.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func (s *Server) streamReadPump(ctx context.Context, conn *websocket.Conn, send chan<- StreamMessage) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.WithError(err).Warn("WebSocket read error")
			}
			return
		}

		var req StreamRequest
		if err := json.Unmarshal(message, &req); err != nil {
			body := badRequest("invalid message: %v", err).body
			send <- StreamMessage{Type: "error", Error: &body}
			continue
		}

		resp, err := s.allocate(ctx, req.AllocationRequest)
		if err != nil {
			body := classify(err).body
			send <- StreamMessage{Type: "error", ID: req.ID, Error: &body}
			continue
		}
		send <- StreamMessage{Type: "result", ID: req.ID, Data: resp}
	}
}

func (s *Server) streamWritePump(conn *websocket.Conn, send <-chan StreamMessage, done chan<- struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
		close(done)
	}()

	for {
		select {
		case msg, ok := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				s.logger.WithError(err).Debug("WebSocket write failed")
				drain(send)
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				drain(send)
				return
			}
		}
	}
}

// drain keeps the reader from blocking once the writer has given up.
func drain(send <-chan StreamMessage) {
	go func() {
		for range send {
		}
	}()
}
