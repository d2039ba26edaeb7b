package websocket

import (
	"net/http"
	"os"
	"strings"

	"log/slog"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow specific origins for WebSocket connections
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")

		allowedOrigins := []string{
			"http://localhost:3000",  // Frontend dev server
			"https://localhost:3000", // Frontend dev server (HTTPS)
			"http://localhost",       // Nginx proxy (Docker)
			"https://localhost",      // Nginx proxy (HTTPS)
			"http://127.0.0.1:3000",
			"http://127.0.0.1",
		}

		// Add custom origins from environment variable if set
		if customOrigins := os.Getenv("ALLOWED_ORIGINS"); customOrigins != "" {
			for _, customOrigin := range strings.Split(customOrigins, ",") {
				allowedOrigins = append(allowedOrigins, strings.TrimSpace(customOrigin))
			}
		}

		for _, allowedOrigin := range allowedOrigins {
			if origin == allowedOrigin {
				return true
			}
		}

		// Non-browser clients send no Origin header
		if origin == "" {
			return true
		}

		return strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1")
	},
}

// ServeWS upgrades an authenticated HTTP request and admits the socket into
// the hub. Credential validation happens before this point (WS auth
// middleware); identity is the already-resolved principal.
func ServeWS(hub *Hub, w http.ResponseWriter, r *http.Request, identity string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade WebSocket connection", "userID", identity, "error", err)
		return
	}

	c, err := hub.Accept(identity, conn)
	if err != nil {
		slog.Warn("Connection refused", "userID", identity, "error", err)
		return
	}

	slog.Info("WebSocket session established", "connectionID", c.ID(), "userID", identity)
}
