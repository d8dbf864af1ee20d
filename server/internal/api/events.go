package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sitesmith/sitesmith/server/internal/auth"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// wsIdentity authenticates a WebSocket handshake. Browsers cannot set headers
// on the handshake, so the token may also arrive as ?token=.
func (s *Server) wsIdentity(r *http.Request) *auth.Identity {
	if identity := s.identify(r); identity != nil {
		return identity
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		return nil
	}
	identity, err := s.authProvider.ValidateToken(r.Context(), token)
	if err != nil {
		return nil
	}
	return identity
}

// handleUserEvents streams the caller's own events.
func (s *Server) handleUserEvents(w http.ResponseWriter, r *http.Request) {
	identity := s.wsIdentity(r)
	if identity == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	s.streamEvents(w, r, identity.UserID)
}

// handleAdminEvents streams every event, including mirrored log records.
func (s *Server) handleAdminEvents(w http.ResponseWriter, r *http.Request) {
	identity := s.wsIdentity(r)
	if identity == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !identity.IsAdmin() {
		writeError(w, http.StatusForbidden, "admin access required")
		return
	}
	s.streamEvents(w, r, "")
}

func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request, userID string) {
	if s.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "live events are disabled")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("events websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := s.bus.Subscribe(userID)
	defer s.bus.Unsubscribe(sub)

	s.logger.Debug("events stream opened", "user_id", userID)
	defer s.logger.Debug("events stream closed", "user_id", userID)

	// The client never sends data; reading only serves pongs and close frames.
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-sub:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(wsWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
