// Package response writes the uniform JSON envelope every endpoint returns:
//
//	{"success": true, "data": ..., "message": "...", "pagination": {...}}
//	{"success": false, "message": "...", "errors": {"campo": ["..."]}}
package response

import (
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	"github.com/consejo-social/veeduria/internal/db/models"
	ierr "github.com/consejo-social/veeduria/internal/errors"
	"github.com/consejo-social/veeduria/internal/query"
)

// Envelope is the body of every API response.
type Envelope struct {
	Success    bool                `json:"success"`
	Data       any                 `json:"data,omitempty"`
	Message    string              `json:"message"`
	Pagination *query.Pagination   `json:"pagination,omitempty"`
	Errors     map[string][]string `json:"errors,omitempty"`
	Detail     string              `json:"error,omitempty"`
}

var showDetail atomic.Bool

// ShowErrorDetail controls whether failures include the internal error
// text. Enable it only outside production.
func ShowErrorDetail(enabled bool) {
	showDetail.Store(enabled)
}

// OK writes a 200 success envelope.
func OK(c *gin.Context, data any, message string) {
	c.JSON(http.StatusOK, Envelope{Success: true, Data: data, Message: message})
}

// Created writes a 201 success envelope.
func Created(c *gin.Context, data any, message string) {
	c.JSON(http.StatusCreated, Envelope{Success: true, Data: data, Message: message})
}

// Paginated writes a list page with its pagination counters.
func Paginated(c *gin.Context, page *query.Page, message string) {
	items := page.Items
	if items == nil {
		items = []models.Record{}
	}
	p := page.Pagination
	c.JSON(http.StatusOK, Envelope{Success: true, Data: items, Message: message, Pagination: &p})
}

// Error writes the failure envelope for err with the status of its class.
func Error(c *gin.Context, err error) {
	status := ierr.HTTPStatus(err)
	c.JSON(status, failure(c, status, err))
}

// Abort is Error for middleware: it also stops the handler chain.
func Abort(c *gin.Context, err error) {
	status := ierr.HTTPStatus(err)
	c.AbortWithStatusJSON(status, failure(c, status, err))
}

func failure(c *gin.Context, status int, err error) Envelope {
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(c.Request.Context(), "request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"request_id", c.GetString("request_id"),
			"error", err)
	}
	env := Envelope{
		Success: false,
		Message: ierr.DisplayMessage(err),
		Errors:  ierr.FieldErrors(err),
	}
	if showDetail.Load() {
		env.Detail = err.Error()
	}
	return env
}
