// Package errors defines the error taxonomy shared by every layer of the service.
//
// Errors are classified by marking them with one of the sentinel values below
// (errors.Mark from cockroachdb/errors), so callers test the class with Is
// helpers regardless of how many times an error was wrapped on the way up.
// The user-facing message travels as a hint (errors.WithHint) and is what the
// response envelope shows; the wrapped chain is internal detail.
//
// Import it as ierr to avoid shadowing the standard library:
//
//	import ierr "github.com/consejo-social/veeduria/internal/errors"
package errors

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/lib/pq"
)

var (
	ErrValidation         = errors.New("validation error")
	ErrNotFound           = errors.New("not found")
	ErrIllegalTransition  = errors.New("illegal transition")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrUnknownResource    = errors.New("unknown resource")
	ErrStore              = errors.New("store error")
	ErrAuditWrite         = errors.New("audit write failure")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
)

// statusMap is checked in order; the first matching class wins.
var statusMap = []struct {
	mark   error
	status int
}{
	{ErrValidation, http.StatusUnprocessableEntity},
	{ErrNotFound, http.StatusNotFound},
	{ErrUnknownResource, http.StatusNotFound},
	{ErrIllegalTransition, http.StatusBadRequest},
	{ErrPreconditionFailed, http.StatusBadRequest},
	{ErrUnauthorized, http.StatusUnauthorized},
	{ErrForbidden, http.StatusForbidden},
	{ErrAuditWrite, http.StatusInternalServerError},
	{ErrStore, http.StatusInternalServerError},
}

// ValidationError is a field-scoped input error. Fields maps a field name to
// every message collected for it.
type ValidationError struct {
	Message string
	Fields  map[string][]string
}

// NewValidation starts an empty validation error with a summary message.
func NewValidation(message string) *ValidationError {
	if message == "" {
		message = "Los datos enviados no son válidos"
	}
	return &ValidationError{Message: message, Fields: map[string][]string{}}
}

// Field returns a validation error for a single field.
func Field(name, msg string) error {
	return NewValidation("").Add(name, msg).Err()
}

// Add records a message for a field and returns the receiver for chaining.
func (e *ValidationError) Add(field, msg string) *ValidationError {
	e.Fields[field] = append(e.Fields[field], msg)
	return e
}

// HasErrors reports whether any field message was recorded.
func (e *ValidationError) HasErrors() bool {
	return len(e.Fields) > 0
}

// Err returns nil when nothing was recorded, otherwise the receiver as an error.
func (e *ValidationError) Err() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, strings.Join(e.Fields[k], "; ")))
	}
	return fmt.Sprintf("%s (%s)", e.Message, strings.Join(parts, ", "))
}

// Is makes ValidationError match ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// TransitionError reports an action that the state graph does not allow from
// the record's current state.
type TransitionError struct {
	Resource string
	Action   string
	From     string
	To       string
}

func (e *TransitionError) Error() string {
	if e.To != "" && e.To != e.From {
		return fmt.Sprintf("La acción '%s' no puede llevar %s del estado '%s' al estado '%s'", e.Action, e.Resource, e.From, e.To)
	}
	return fmt.Sprintf("La acción '%s' no está permitida para %s en estado '%s'", e.Action, e.Resource, e.From)
}

// Is makes TransitionError match ErrIllegalTransition.
func (e *TransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}

// NewIllegalTransition builds a TransitionError.
func NewIllegalTransition(resource, action, from, to string) error {
	return &TransitionError{Resource: resource, Action: action, From: from, To: to}
}

// NewPrecondition reports a failed business guard with a readable reason.
func NewPrecondition(reason string) error {
	return errors.Mark(errors.WithHint(errors.New(reason), reason), ErrPreconditionFailed)
}

// NewPreconditionf is NewPrecondition with formatting.
func NewPreconditionf(format string, args ...any) error {
	return NewPrecondition(fmt.Sprintf(format, args...))
}

// NewNotFound reports a missing record.
func NewNotFound(resource string, id any) error {
	err := errors.Newf("%s %v not found", resource, id)
	return errors.Mark(errors.WithHint(err, "Registro no encontrado"), ErrNotFound)
}

// NewUnknownResource reports a resource name that was never registered.
func NewUnknownResource(name string) error {
	err := errors.Newf("resource %q is not registered", name)
	return errors.Mark(errors.WithHintf(err, "El recurso '%s' no existe", name), ErrUnknownResource)
}

// NewUnknownAction reports an action name the resource does not declare.
func NewUnknownAction(resource, action string) error {
	err := errors.Newf("%s has no action %q", resource, action)
	return errors.Mark(errors.WithHintf(err, "La acción '%s' no existe para %s", action, resource), ErrNotFound)
}

// NewUnauthorized reports missing or invalid credentials.
func NewUnauthorized(hint string) error {
	return errors.Mark(errors.WithHint(errors.New("unauthorized"), hint), ErrUnauthorized)
}

// NewForbidden reports an authenticated actor without the required role.
func NewForbidden(hint string) error {
	return errors.Mark(errors.WithHint(errors.New("forbidden"), hint), ErrForbidden)
}

// WrapStore classifies a persistence failure. Errors that already carry a
// class are returned untouched; unique-constraint violations become field
// validation errors; everything else, including context timeouts, is a
// StoreError.
func WrapStore(err error, op string) error {
	if err == nil {
		return nil
	}
	if isClassified(err) {
		return err
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return Field(uniqueViolationField(pqErr), "Ya existe un registro con este valor")
	}

	wrapped := errors.Wrap(err, op)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		wrapped = errors.WithHint(wrapped, "La operación excedió el tiempo permitido")
	}
	return errors.Mark(wrapped, ErrStore)
}

// WrapAudit marks a failed audit insert. The enclosing transaction must roll back.
func WrapAudit(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(err, "write audit entry"), ErrAuditWrite)
}

func isClassified(err error) bool {
	for _, s := range statusMap {
		if errors.Is(err, s.mark) {
			return true
		}
	}
	return false
}

// uniqueViolationField extracts the column from a detail such as
// "Key (email)=(a@b.co) already exists.".
func uniqueViolationField(e *pq.Error) string {
	detail := e.Detail
	start := strings.Index(detail, "(")
	end := strings.Index(detail, ")")
	if start >= 0 && end > start+1 {
		return detail[start+1 : end]
	}
	if e.Column != "" {
		return e.Column
	}
	return "registro"
}

// HTTPStatus maps an error class to the response status code.
func HTTPStatus(err error) int {
	for _, s := range statusMap {
		if errors.Is(err, s.mark) {
			return s.status
		}
	}
	return http.StatusInternalServerError
}

// DisplayMessage returns the message safe to show to API clients.
func DisplayMessage(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Message
	}
	var te *TransitionError
	if errors.As(err, &te) {
		return te.Error()
	}
	if errors.Is(err, ErrAuditWrite) {
		return "No fue posible registrar la auditoría; la operación no se aplicó"
	}
	if hint := errors.FlattenHints(err); hint != "" {
		return hint
	}
	return "Error interno del servidor"
}

// FieldErrors returns the per-field messages of a validation error, or nil.
func FieldErrors(err error) map[string][]string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Fields
	}
	return nil
}

func IsValidation(err error) bool         { return errors.Is(err, ErrValidation) }
func IsNotFound(err error) bool           { return errors.Is(err, ErrNotFound) }
func IsIllegalTransition(err error) bool  { return errors.Is(err, ErrIllegalTransition) }
func IsPreconditionFailed(err error) bool { return errors.Is(err, ErrPreconditionFailed) }
func IsUnknownResource(err error) bool    { return errors.Is(err, ErrUnknownResource) }
func IsStore(err error) bool              { return errors.Is(err, ErrStore) }
func IsAuditWrite(err error) bool         { return errors.Is(err, ErrAuditWrite) }
