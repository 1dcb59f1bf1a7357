// Package ws streams relayed messages for a single conversation to a
// WebSocket subscriber until the client disconnects.
package ws

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"wabridge/internal/lib/sl"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Stream is one subscriber connection bound to a conversation's payload
// sequence.
type Stream struct {
	conn           *websocket.Conn
	payloads       <-chan []byte
	closeSub       func() error
	conversationID string
	log            *slog.Logger
}

// Serve upgrades the request and pumps payloads to the client. closeSub
// tears the upstream subscription down once either side disconnects.
func Serve(w http.ResponseWriter, r *http.Request, conversationID string, payloads <-chan []byte, closeSub func() error, log *slog.Logger) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.With(sl.Err(err)).Error("websocket upgrade failed")
		_ = closeSub()
		return
	}

	stream := &Stream{
		conn:           conn,
		payloads:       payloads,
		closeSub:       closeSub,
		conversationID: conversationID,
		log:            log,
	}

	go stream.writePump()
	go stream.readPump()
}

// readPump drains control frames and detects client disconnect, then tears
// the subscription down so writePump's payload channel closes.
func (s *Stream) readPump() {
	defer func() {
		_ = s.closeSub()
		s.conn.Close()
		s.log.Debug("stream closed", slog.String("conversation_id", s.conversationID))
	}()

	s.conn.SetReadLimit(512)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			break
		}
	}
}

// writePump relays each published payload as a text frame, keeping the
// connection alive with pings. It exits when the payload sequence ends,
// which happens when the underlying transport closes.
func (s *Stream) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-s.payloads:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
