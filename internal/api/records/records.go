// Package records serves every registered resource through one set of
// handlers: list, fetch, create, update, delete, state actions and history.
// The resource name in the path selects the schema.
package records

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/consejo-social/veeduria/internal/api/response"
	"github.com/consejo-social/veeduria/internal/audit"
	ierr "github.com/consejo-social/veeduria/internal/errors"
	"github.com/consejo-social/veeduria/internal/middleware"
	"github.com/consejo-social/veeduria/internal/services"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// RecordHandlers handles the generic resource endpoints
type RecordHandlers struct {
	records *services.RecordService
	audit   *audit.Writer
}

// NewRecordHandlers creates a new RecordHandlers
func NewRecordHandlers(records *services.RecordService, w *audit.Writer) *RecordHandlers {
	return &RecordHandlers{records: records, audit: w}
}

// List handles GET /:resource
func (h *RecordHandlers) List(c *gin.Context) {
	page, err := h.records.List(c.Request.Context(), c.Param("resource"), c.Request.URL.Query(), middleware.ActorFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paginated(c, page, "Registros obtenidos exitosamente")
}

// Get handles GET /:resource/:id
func (h *RecordHandlers) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	rec, err := h.records.Get(c.Request.Context(), c.Param("resource"), id, middleware.ActorFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, rec, "Registro obtenido exitosamente")
}

// Create handles POST /:resource
func (h *RecordHandlers) Create(c *gin.Context) {
	body, ok := jsonBody(c)
	if !ok {
		return
	}
	rec, err := h.records.Create(c.Request.Context(), c.Param("resource"), body, middleware.ActorFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, rec, "Registro creado exitosamente")
}

// Update handles PUT and PATCH /:resource/:id. Both are partial.
func (h *RecordHandlers) Update(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	body, ok := jsonBody(c)
	if !ok {
		return
	}
	rec, err := h.records.Update(c.Request.Context(), c.Param("resource"), id, body, middleware.ActorFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, rec, "Registro actualizado exitosamente")
}

// Delete handles DELETE /:resource/:id
func (h *RecordHandlers) Delete(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.records.Delete(c.Request.Context(), c.Param("resource"), id, middleware.ActorFrom(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, nil, "Registro eliminado exitosamente")
}

// Action handles POST /:resource/:id/:action. The body carries the action
// parameters.
func (h *RecordHandlers) Action(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	params, ok := jsonBody(c)
	if !ok {
		return
	}
	action := c.Param("action")
	rec, err := h.records.Transition(c.Request.Context(), c.Param("resource"), id, action, params, middleware.ActorFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, rec, fmt.Sprintf("Acción %s ejecutada exitosamente", action))
}

type forceStateRequest struct {
	Estado string `json:"estado"`
}

// ForceState handles POST /:resource/:id/forzar_estado (administrators only)
func (h *RecordHandlers) ForceState(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req forceStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, ierr.Field("estado", "es obligatorio"))
		return
	}
	if req.Estado == "" {
		response.Error(c, ierr.Field("estado", "es obligatorio"))
		return
	}
	rec, err := h.records.ForceState(c.Request.Context(), c.Param("resource"), id, req.Estado, middleware.ActorFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, rec, "Estado actualizado exitosamente")
}

// History handles GET /:resource/:id/historial
func (h *RecordHandlers) History(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	entries, err := h.records.History(c.Request.Context(), c.Param("resource"), id, middleware.ActorFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, entries, "Historial obtenido exitosamente")
}

// Activity handles GET /usuarios/:id/actividad: the audit entries an account
// produced, optionally bounded by fecha_inicio and fecha_fin.
func (h *RecordHandlers) Activity(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ve := ierr.NewValidation("")
	from, err := parseDate(c.Query("fecha_inicio"), false)
	if err != nil {
		ve.Add("fecha_inicio", "debe ser una fecha AAAA-MM-DD o RFC3339")
	}
	to, err := parseDate(c.Query("fecha_fin"), true)
	if err != nil {
		ve.Add("fecha_fin", "debe ser una fecha AAAA-MM-DD o RFC3339")
	}
	if err := ve.Err(); err != nil {
		response.Error(c, err)
		return
	}

	entries, err := h.audit.QueryByActor(c.Request.Context(), id, from, to)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, entries, "Actividad obtenida exitosamente")
}

// parseDate reads an optional date bound. A date-only upper bound covers the
// whole day.
func parseDate(raw string, upper bool) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, err
	}
	if upper {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

// pathID parses the :id path parameter, answering 422 when it is not a
// positive integer.
func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		response.Error(c, ierr.Field("id", "debe ser un número entero positivo"))
		return 0, false
	}
	return id, true
}

// jsonBody decodes a JSON object body keeping numbers exact. An empty body is
// an empty object.
func jsonBody(c *gin.Context) (map[string]any, bool) {
	body := map[string]any{}
	if c.Request.Body == nil {
		return body, true
	}
	dec := json.NewDecoder(io.LimitReader(c.Request.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		response.Error(c, ierr.Field("cuerpo", "debe ser un objeto JSON válido"))
		return nil, false
	}
	if body == nil {
		body = map[string]any{}
	}
	return body, true
}
