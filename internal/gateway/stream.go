package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/roomviz/internal/events"
)

const (
	wsMaxPayloadBytes = 4 << 10
	wsPingInterval    = 15 * time.Second
	wsPongWait        = 45 * time.Second
	wsWriteWait       = 10 * time.Second
)

// stateEvent is the first frame on a stream: the session as it stands.
const stateEvent events.Type = "session.state"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 8192,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleStream pushes session events to a WebSocket client until either side
// goes away or the session closes. Client frames are read only to detect
// disconnects and answer pings.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeStatusError(w, r, http.StatusServiceUnavailable, "unavailable", "event stream is not configured")
		return
	}
	sess := sessionFrom(r)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.DebugContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch, cancel := s.hub.Subscribe(sess.ID())
	defer cancel()
	s.logger.DebugContext(r.Context(), "stream opened", "session_id", sess.ID())

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(wsMaxPayloadBytes)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait)) //nolint:errcheck
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := writeFrame(conn, events.New(sess.ID(), stateEvent, sess.View())); err != nil {
		return
	}

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage, //nolint:errcheck
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
					time.Now().Add(wsWriteWait))
				return
			}
			if err := writeFrame(conn, evt); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, evt events.Event) error {
	msg, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck
	return conn.WriteMessage(websocket.TextMessage, msg)
}
