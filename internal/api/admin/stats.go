// stats.go implements the dashboard summary and the audit retention purge.
package admin

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/consejo-social/veeduria/internal/api/response"
	"github.com/consejo-social/veeduria/internal/audit"
	ierr "github.com/consejo-social/veeduria/internal/errors"
	"github.com/consejo-social/veeduria/internal/middleware"
	"github.com/consejo-social/veeduria/internal/services"
)

// StatsHandler handles dashboard and audit maintenance requests
type StatsHandler struct {
	dashboard *services.DashboardService
	audit     *audit.Writer
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(d *services.DashboardService, w *audit.Writer) *StatsHandler {
	return &StatsHandler{dashboard: d, audit: w}
}

// GetDashboardStats handles GET /dashboard
func (h *StatsHandler) GetDashboardStats(c *gin.Context) {
	summary, err := h.dashboard.Summary(c.Request.Context(), middleware.ActorFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, summary, "Resumen obtenido exitosamente")
}

// PurgeRequest is the body of POST /logs/limpiar
type PurgeRequest struct {
	Dias *int `json:"dias"`
}

// PurgeAuditLogs handles POST /logs/limpiar
func (h *StatsHandler) PurgeAuditLogs(c *gin.Context) {
	var req PurgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, ierr.Field("dias", "debe ser un número entero de días"))
		return
	}
	if req.Dias == nil {
		response.Error(c, ierr.Field("dias", "es obligatorio"))
		return
	}

	res, err := h.audit.PurgeOlderThan(c.Request.Context(), *req.Dias, middleware.ActorFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res, fmt.Sprintf("Se eliminaron %d registros de auditoría", res.Deleted))
}
