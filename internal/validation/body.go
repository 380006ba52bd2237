// Package validation checks client input before anything touches the store:
// create/update bodies and action parameters are filtered through the
// resource's allow-list, coerced to column types and checked against the
// field rules; uploads are checked for size, name and content type.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	ierr "github.com/consejo-social/veeduria/internal/errors"
	"github.com/consejo-social/veeduria/internal/resource"
)

// Validator validates request payloads against resource schemas.
type Validator struct {
	v        *validator.Validate
	hashCost int
}

// New creates a Validator.
func New() *Validator {
	return &Validator{v: validator.New(), hashCost: bcrypt.DefaultCost}
}

// Body filters a create or update body through the schema's writable fields
// and returns the column values to store. Keys outside the allow-list are
// rejected. Hash fields are returned bcrypt-hashed under their hash column.
func (v *Validator) Body(s *resource.Schema, body map[string]any, create bool) (map[string]any, error) {
	ve := ierr.NewValidation("")
	out := make(map[string]any, len(body))

	for _, key := range sortedKeys(body) {
		f, ok := s.Field(key)
		if !ok || !f.Writable {
			ve.Add(key, "campo no permitido")
			continue
		}
		if !create && f.Immutable {
			ve.Add(key, "no se puede modificar")
			continue
		}

		val, msgs := v.check(f.Kind, f.Rules, f.Required, f.Positive, body[key])
		if len(msgs) > 0 {
			for _, m := range msgs {
				ve.Add(key, m)
			}
			continue
		}

		if f.Hash {
			if val == nil {
				continue
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(val.(string)), v.hashCost)
			if err != nil {
				ve.Add(key, "no se pudo procesar el valor")
				continue
			}
			out[f.HashColumn] = string(hash)
			continue
		}
		out[key] = val
	}

	if create {
		for _, f := range s.Fields {
			if !f.Required || !f.Writable {
				continue
			}
			if _, sent := body[f.Name]; !sent {
				ve.Add(f.Name, "es obligatorio")
			}
		}
	} else if len(body) == 0 {
		ve.Add("datos", "no se enviaron campos para actualizar")
	}

	if err := ve.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Params validates the parameters of an action call. Unknown keys are rejected.
func (v *Validator) Params(a *resource.Action, params map[string]any) (map[string]any, error) {
	ve := ierr.NewValidation("")
	declared := make(map[string]resource.Param, len(a.Params))
	for _, p := range a.Params {
		declared[p.Name] = p
	}

	out := make(map[string]any, len(params))
	for _, key := range sortedKeys(params) {
		p, ok := declared[key]
		if !ok {
			ve.Add(key, "campo no permitido")
			continue
		}
		val, msgs := v.check(p.Kind, p.Rules, p.Required, false, params[key])
		for _, m := range msgs {
			ve.Add(key, m)
		}
		if len(msgs) == 0 {
			out[key] = val
		}
	}
	for _, p := range a.Params {
		if _, sent := params[p.Name]; p.Required && !sent {
			ve.Add(p.Name, "es obligatorio")
		}
	}

	if err := ve.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// check coerces one value and runs its rules, returning client-facing
// messages on failure.
func (v *Validator) check(kind resource.Kind, rules string, required, positive bool, raw any) (any, []string) {
	val, err := resource.Coerce(kind, raw)
	if err != nil {
		var ce *resource.CoerceError
		if errors.As(err, &ce) {
			return nil, []string{ce.Message}
		}
		return nil, []string{"valor no válido"}
	}

	if val == nil || val == "" {
		if required {
			return nil, []string{"es obligatorio"}
		}
		if val == nil {
			return nil, nil
		}
	}

	switch typed := val.(type) {
	case string, int64:
		if rules == "" {
			break
		}
		if err := v.v.Var(typed, rules); err != nil {
			return nil, translate(err)
		}
	case decimal.Decimal:
		if positive && typed.Sign() <= 0 {
			return nil, []string{"debe ser mayor que cero"}
		}
	}
	return val, nil
}

// translate turns validator errors into Spanish messages.
func translate(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{"no es válido"}
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, message(fe))
	}
	return msgs
}

func message(fe validator.FieldError) string {
	text := fe.Kind() == reflect.String
	switch fe.Tag() {
	case "required":
		return "es obligatorio"
	case "email":
		return "debe ser un correo electrónico válido"
	case "url":
		return "debe ser una URL válida"
	case "oneof":
		return fmt.Sprintf("debe ser uno de: %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	case "min":
		if text {
			return fmt.Sprintf("debe tener al menos %s caracteres", fe.Param())
		}
		return fmt.Sprintf("debe ser al menos %s", fe.Param())
	case "max":
		if text {
			return fmt.Sprintf("no puede superar %s caracteres", fe.Param())
		}
		return fmt.Sprintf("no puede ser mayor que %s", fe.Param())
	case "len":
		return fmt.Sprintf("debe tener exactamente %s caracteres", fe.Param())
	case "gt":
		return fmt.Sprintf("debe ser mayor que %s", fe.Param())
	case "gte":
		return fmt.Sprintf("debe ser mayor o igual que %s", fe.Param())
	case "lt":
		return fmt.Sprintf("debe ser menor que %s", fe.Param())
	case "lte":
		return fmt.Sprintf("debe ser menor o igual que %s", fe.Param())
	}
	return "no es válido"
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
