package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// writeTimeout bounds a single websocket write; a client that cannot keep
// up is disconnected rather than buffered indefinitely.
const writeTimeout = 5 * time.Second

// handleEvents upgrades to a websocket and streams state-change events
// until the client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // local-only control socket
	})
	if err != nil {
		s.log.Warn(r.Context(), err, "websocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	events := s.svc.Subscribe()
	defer s.svc.Unsubscribe(events)

	s.log.Debug(ctx, "event stream client connected", "remote", r.RemoteAddr)

	// Reads are only needed to notice the peer closing.
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}

			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}

			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				if websocket.CloseStatus(err) != websocket.StatusNormalClosure &&
					websocket.CloseStatus(err) != websocket.StatusGoingAway {
					s.log.Debug(ctx, "event stream client dropped", "remote", r.RemoteAddr)
				}
				return
			}
		}
	}
}
