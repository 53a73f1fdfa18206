package handlers

import (
	"github.com/Akins20/video-meet/internal/relay"
	"github.com/gin-gonic/gin"
)

// HandleSignaling upgrades to the connection channel. The hub authenticates
// the handshake itself so browsers can pass the token as a query parameter.
func HandleSignaling(hub *relay.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		hub.ServeWS(c.Writer, c.Request)
	}
}
