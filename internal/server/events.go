package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/MarcoPoloResearchLab/habituals/internal/realtime"
)

type eventPayload struct {
	HabitIDs  []string `json:"habitIds,omitempty"`
	Source    string   `json:"source"`
	Timestamp string   `json:"timestamp"`
}

// handleEvents streams the caller's realtime messages as server-sent events,
// with a heartbeat so idle proxies keep the connection open.
func (h *httpHandler) handleEvents(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, userID)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case message, ok := <-stream:
			if !ok {
				return
			}
			c.SSEvent(message.EventType, eventPayload{
				HabitIDs:  message.HabitIDs,
				Source:    realtime.SourceBackend,
				Timestamp: message.Timestamp.UTC().Format(time.RFC3339Nano),
			})
			c.Writer.Flush()
		case <-ticker.C:
			c.SSEvent(realtime.EventHeartbeat, eventPayload{
				Source:    realtime.SourceBackend,
				Timestamp: h.clock().UTC().Format(time.RFC3339Nano),
			})
			c.Writer.Flush()
		}
	}
}
