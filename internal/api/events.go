package api

import (
	"log/slog"
	"net/http"
)

// getEvents upgrades to a websocket and relays bus envelopes until the
// client goes away. A subscriber that can't keep up silently loses events;
// clients needing completeness should poll the persisted endpoints.
func (s *Server) getEvents(w http.ResponseWriter, r *http.Request) error {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote its own response.
		slog.Warn("websocket upgrade failed", "error", err)
		return nil
	}

	id, ch := s.bus.Subscribe()

	// Reader: we expect no messages, but reading is how we learn the peer
	// hung up.
	go func() {
		defer s.bus.Unsubscribe(id)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Writer: drains until Unsubscribe closes the channel.
	go func() {
		defer conn.Close()
		for e := range ch {
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		}
	}()

	return nil
}
