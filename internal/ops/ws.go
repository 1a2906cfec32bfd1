package ops

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// handleTraceStream upgrades the connection and forwards every trace
// recorded from now on. Slow readers are disconnected rather than allowed
// to back up the tracer.
func (s *Server) handleTraceStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	s.log.Debug().Str("conn_id", connID).Str("remote", r.RemoteAddr).Msg("trace stream connected")

	traces, cancel := s.tracer.Subscribe()
	defer cancel()

	// Drain the reader so close frames and pongs are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			s.log.Debug().Str("conn_id", connID).Msg("trace stream closed by client")
			return
		case <-r.Context().Done():
			return
		case tr, ok := <-traces:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(tr); err != nil {
				s.log.Debug().Err(err).Str("conn_id", connID).Msg("trace stream write failed")
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
