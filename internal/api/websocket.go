package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/zulandar/huddle/internal/auth"
	"github.com/zulandar/huddle/internal/metrics"
	"github.com/zulandar/huddle/internal/session"
)

// Clients authenticate with a bearer token rather than cookies, so any
// origin may connect.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleWebSocket verifies the handshake credentials and, only when they
// are good, upgrades the connection and runs a session on it.
func handleWebSocket(opts Opts) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.BearerToken(c.GetHeader("Authorization"))
		if token == "" {
			token = c.Query("token")
		}
		userID := c.Query("userId")
		if token == "" || userID == "" {
			metrics.HandshakeRejections.Inc()
			c.JSON(http.StatusUnauthorized, gin.H{"error": "token and userId are required"})
			return
		}
		if err := opts.Auth.Verify(c.Request.Context(), token, userID); err != nil {
			metrics.HandshakeRejections.Inc()
			opts.Logger.Debug().Err(err).Str("user", userID).Msg("api: websocket handshake refused")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade has already written an error response.
			opts.Logger.Debug().Err(err).Msg("api: websocket upgrade failed")
			return
		}

		s, err := session.New(session.Opts{
			Conn:            conn,
			UserID:          userID,
			Registry:        opts.Registry,
			Pipeline:        opts.Pipeline,
			SendBuffer:      opts.WebSocket.SendBuffer,
			WriteWait:       opts.WebSocket.WriteWait,
			PongWait:        opts.WebSocket.PongWait,
			PingPeriod:      opts.WebSocket.PingPeriod,
			MaxMessageBytes: opts.WebSocket.MaxMessageBytes,
			Logger:          opts.Logger,
		})
		if err != nil {
			opts.Logger.Error().Err(err).Msg("api: create session")
			conn.Close()
			return
		}
		s.Run(c.Request.Context())
	}
}
