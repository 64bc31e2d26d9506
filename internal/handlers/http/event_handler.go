package http

import (
	"net/http"
	"strconv"

	"overlaycast/internal/core/domain"
	"overlaycast/internal/core/ports"

	"github.com/gin-gonic/gin"
)

type EventHandler struct {
	eventService ports.EventService
}

var _ ports.HTTPHandler = (*EventHandler)(nil)

func NewEventHandler(eventService ports.EventService) *EventHandler {
	return &EventHandler{eventService: eventService}
}

func (h *EventHandler) SetupRoutes(api *gin.RouterGroup) {
	api.GET("/events", h.ListEvents)
	api.GET("/events/:eventId", h.GetEvent)
}

// GetEvent returns the event rendered for a viewer. With ?raw=true the stored
// document is returned instead, with placeholders left unresolved.
func (h *EventHandler) GetEvent(c *gin.Context) {
	eventID := domain.EventID(c.Param("eventId"))

	raw, _ := strconv.ParseBool(c.Query("raw"))
	if raw {
		doc, err := h.eventService.GetEvent(c.Request.Context(), eventID)
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"event_id": eventID,
			"document": doc,
		})
		return
	}

	view, err := h.eventService.RenderEvent(c.Request.Context(), eventID, c.ClientIP())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *EventHandler) ListEvents(c *gin.Context) {
	ids, err := h.eventService.ListEvents(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	if ids == nil {
		ids = []domain.EventID{}
	}
	c.JSON(http.StatusOK, gin.H{
		"events": ids,
		"total":  len(ids),
	})
}
