package poll

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/erikmav/passport-sqrl/internal/logger"
	"github.com/erikmav/passport-sqrl/pkg/storage"
)

const (
	wsCheckInterval = 2 * time.Second
	wsMaxWait       = 5 * time.Minute
	wsWriteTimeout  = 10 * time.Second
)

// WSHandler returns a WebSocket variant of the poll endpoint: instead of
// repeated GETs the browser holds a connection and receives one Status
// message when login completes (or a final pending Status on timeout).
func (p *Port) WSHandler() http.Handler {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// Poll state is not secret beyond the nut itself, which is the
			// capability; origin checking stays with the site scaffold.
			return true
		},
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nutValue := lastPathSegment(r.URL.Path)
		if nutValue == "" {
			http.NotFound(w, r)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			p.log.Warn("poll websocket upgrade failed", logger.Error(err))
			return
		}
		defer conn.Close()

		// Drain client frames so close handshakes are noticed.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(wsCheckInterval)
		defer ticker.Stop()
		deadline := time.After(wsMaxWait)

		for {
			st, err := p.Check(r.Context(), nutValue)
			if errors.Is(err, storage.ErrNutNotFound) {
				p.writeJSON(conn, map[string]string{"error": "unknown nut"})
				return
			}
			if err != nil {
				p.log.Error("poll websocket check failed",
					logger.String("nut", nutValue), logger.Error(err))
				return
			}
			if st.LoggedIn {
				p.writeJSON(conn, st)
				return
			}

			select {
			case <-ticker.C:
			case <-deadline:
				p.writeJSON(conn, st)
				return
			case <-r.Context().Done():
				return
			}
		}
	})
}

func (p *Port) writeJSON(conn *websocket.Conn, v any) {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(v); err != nil {
		p.log.Debug("poll websocket write failed", logger.Error(err))
	}
}
