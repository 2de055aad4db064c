package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/whiteboard/pkg/errors"
	"github.com/charlesng35/whiteboard/pkg/response"
)

// RealtimeHandler hands WebSocket upgrades to the realtime transport. Clients
// authenticate in-band after the upgrade.
type RealtimeHandler struct {
	server http.Handler
}

// NewRealtimeHandler constructs a realtime handler around the transport server.
func NewRealtimeHandler(server http.Handler) *RealtimeHandler {
	return &RealtimeHandler{server: server}
}

// Stream upgrades the request and blocks for the lifetime of the connection.
func (h *RealtimeHandler) Stream(c *gin.Context) {
	if h.server == nil {
		response.Error(c, errors.ErrNotFound)
		return
	}
	if !c.IsWebsocket() {
		response.Error(c, errors.NewValidation("WebSocket upgrade required"))
		return
	}

	h.server.ServeHTTP(c.Writer, c.Request)
}
