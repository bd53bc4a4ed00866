package api

import (
	"context"
	"net/http"
	"time"

	"github.com/cuemby/shutter/pkg/events"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// streamHandler upgrades to a websocket and forwards broker events as JSON.
// ?camera=<exid> restricts the feed to one camera.
func (s *Server) streamHandler(w http.ResponseWriter, r *http.Request) {
	if s.opts.Broker == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream disabled")
		return
	}

	camera := r.URL.Query().Get("camera")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Failed to upgrade to WebSocket")
		return
	}
	defer conn.Close()

	sub := s.opts.Broker.SubscribeCamera(camera)
	defer s.opts.Broker.Unsubscribe(sub)

	s.logger.Info().
		Str("remote_addr", r.RemoteAddr).
		Str("camera", camera).
		Msg("WebSocket stream opened")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go s.readClient(conn, cancel)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug().Str("remote_addr", r.RemoteAddr).Msg("WebSocket stream closed")
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if err := writeEvent(conn, ev); err != nil {
				s.logger.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("WebSocket write failed")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, ev *events.Event) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(ev)
}

// readClient drains client frames so control messages are processed and a
// disconnect cancels the stream
func (s *Server) readClient(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug().Err(err).Msg("WebSocket closed unexpectedly")
			}
			return
		}
	}
}
