// Package health serves the liveness and readiness probes on the ops HTTP
// endpoint.
package health

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// ChatService is the slice of the conferencing server the probes inspect.
type ChatService interface {
	Accepting() bool
	ActiveConnections() int
}

// RoomCounter reports how many rooms currently exist.
type RoomCounter interface {
	RoomCount() int
}

// Handler manages the health check endpoints.
type Handler struct {
	service ChatService
	rooms   RoomCounter
}

// NewHandler creates a health handler over the running chat service.
func NewHandler(service ChatService, rooms RoomCounter) *Handler {
	return &Handler{service: service, rooms: rooms}
}

// LivenessResponse represents the liveness probe response.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response.
type ReadinessResponse struct {
	Status      string            `json:"status"`
	Checks      map[string]string `json:"checks"`
	Connections int               `json:"connections"`
	Rooms       int               `json:"rooms"`
	Timestamp   string            `json:"timestamp"`
}

// Liveness handles GET /health/live.
// Returns 200 if the process is alive; no dependency checks.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles GET /health/ready.
// Returns 200 while the acceptor is bound and taking clients, 503 once it
// is shut down or never started.
func (h *Handler) Readiness(c *gin.Context) {
	checks := make(map[string]string)

	accepting := h.service != nil && h.service.Accepting()
	if accepting {
		checks["acceptor"] = "healthy"
	} else {
		checks["acceptor"] = "unhealthy"
	}

	status := "ready"
	statusCode := http.StatusOK
	if !accepting {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	resp := ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if h.service != nil {
		resp.Connections = h.service.ActiveConnections()
	}
	if h.rooms != nil {
		resp.Rooms = h.rooms.RoomCount()
	}

	c.JSON(statusCode, resp)
}
