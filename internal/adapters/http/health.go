package http

import (
	"net/http"
	"time"

	"github.com/dkeye/VoiceAgent/internal/core"
	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	SigningConfigured   bool
	TransportConfigured bool
	// Rooms is optional; when set the report carries the active room count.
	Rooms core.RoomManager
	Now   func() time.Time
}

type HealthResponse struct {
	Status              string `json:"status"`
	Timestamp           string `json:"timestamp"`
	SigningConfigured   bool   `json:"signingConfigured"`
	TransportConfigured bool   `json:"transportConfigured"`
	Rooms               *int   `json:"rooms,omitempty"`
}

func (h *HealthHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *HealthHandler) Health(c *gin.Context) {
	resp := HealthResponse{
		Status:              "ok",
		Timestamp:           h.now().UTC().Format(time.RFC3339),
		SigningConfigured:   h.SigningConfigured,
		TransportConfigured: h.TransportConfigured,
	}
	if h.Rooms != nil {
		n := len(h.Rooms.List())
		resp.Rooms = &n
	}
	c.JSON(http.StatusOK, resp)
}

func (h *HealthHandler) HealthLegacy(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":            "ok",
		"timestamp":         h.now().UTC().Format(time.RFC3339),
		"livekitConfigured": h.SigningConfigured,
	})
}
