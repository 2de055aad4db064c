package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/whiteboard/internal/monitoring"
	"github.com/charlesng35/whiteboard/pkg/response"
)

// HealthHandler exposes the probe reports of a HealthManager.
type HealthHandler struct {
	manager *monitoring.HealthManager
}

// NewHealthHandler constructs a HealthHandler. A nil manager reports up with no checks.
func NewHealthHandler(manager *monitoring.HealthManager) *HealthHandler {
	if manager == nil {
		manager = monitoring.NewHealthManager(0)
	}
	return &HealthHandler{manager: manager}
}

// Health runs every probe.
func (h *HealthHandler) Health(c *gin.Context) {
	writeReport(c, h.manager.Evaluate(requestContext(c)))
}

// Live runs the liveness probes.
func (h *HealthHandler) Live(c *gin.Context) {
	writeReport(c, h.manager.EvaluateLiveness(requestContext(c)))
}

// Ready runs the readiness probes.
func (h *HealthHandler) Ready(c *gin.Context) {
	writeReport(c, h.manager.EvaluateReadiness(requestContext(c)))
}

func writeReport(c *gin.Context, report monitoring.HealthReport) {
	status := http.StatusOK
	if report.Status == monitoring.StatusDown {
		status = http.StatusServiceUnavailable
	}
	response.Success(c, status, report)
}
