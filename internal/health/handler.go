package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lexiclash/core/internal/logging"
	"github.com/lexiclash/core/internal/persist"
)

// Handler manages health check endpoints.
type Handler struct {
	mirror *persist.Mirror
}

// NewHandler creates a new health check handler over the Persistence Mirror
// (spec §4.4). A nil mirror, or one running in single-instance no-op mode,
// is always reported healthy.
func NewHandler(mirror *persist.Mirror) *Handler {
	return &Handler{mirror: mirror}
}

// LivenessResponse represents the liveness probe response.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles the liveness probe endpoint.
// GET /health/live
// Returns 200 if the process is alive (no dependency checks).
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles the readiness probe endpoint.
// GET /health/ready
// Returns 200 only if the Persistence Mirror is reachable; 503 otherwise.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{"redis": h.checkRedis(ctx)}
	status, code := "ready", http.StatusOK
	if checks["redis"] != "healthy" {
		status, code = "unavailable", http.StatusServiceUnavailable
	}

	c.JSON(code, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// checkRedis verifies the Persistence Mirror's Redis connectivity via Ping.
func (h *Handler) checkRedis(ctx context.Context) string {
	if h.mirror == nil {
		return "healthy"
	}
	if err := h.mirror.Ping(ctx); err != nil {
		logging.Error(ctx, "redis health check failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}

// MarshalJSON implements custom JSON marshaling for better formatting.
func (r ReadinessResponse) MarshalJSON() ([]byte, error) {
	type Alias ReadinessResponse
	return json.Marshal(&struct {
		*Alias
	}{Alias: (*Alias)(&r)})
}
