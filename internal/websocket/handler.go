package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"
)

// HandleWebSocket returns an HTTP handler that upgrades connections to
// WebSocket and runs them as Hub clients. The optional table query
// parameter narrows the changes a client receives.
func HandleWebSocket(hub *Hub, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		table := r.URL.Query().Get("table")
		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			InsecureSkipVerify: true, // any origin; callers authenticate with a bearer token
		})
		if err != nil {
			logger.Warn("websocket accept", "error", err)
			return
		}
		logger.Debug("websocket connected", "table", table)

		client := NewClient(hub, conn, table)
		client.Run(r.Context())
	}
}
