package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/nurture-app/nurture-backend/internal/logger"
	"github.com/nurture-app/nurture-backend/internal/socket"
)

// NewUpgrader accepts connections from the configured origins; an empty list
// accepts any origin.
func NewUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return len(allowed) == 0 || origin == "" || allowed[origin]
		},
	}
}

// WsHandler upgrades the request and subscribes the connection to the
// caller's user channel.
func WsHandler(hub *socket.Hub, upgrader websocket.Upgrader, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn("Failed to upgrade to websocket", "error", err)
			return
		}

		// The request context is cancelled once the connection is hijacked
		// and the handler returns, so the pumps get their own.
		ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
		client := socket.NewClient(conn, hub, userID, cancel, log)
		hub.Subscribe(client, []string{socket.UserChannel(userID)})

		go client.WriteLoop(ctx)
		client.ReadLoop(ctx)
	}
}
