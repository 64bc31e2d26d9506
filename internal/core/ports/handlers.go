package ports

import (
	"github.com/gin-gonic/gin"
)

type HTTPHandler interface {
	GetEvent(c *gin.Context)
	ListEvents(c *gin.Context)
}

// WebSocketHandler serves the editor and viewer routes of an event.
type WebSocketHandler interface {
	HandleAdmin(c *gin.Context)
	HandleWatch(c *gin.Context)
}
