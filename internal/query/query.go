// Package query turns list requests into bounded, parameterized SQL over a
// resource's table. Only filter, search and sort keys declared in the
// resource schema ever reach the generated SQL; everything else in the
// request is dropped.
package query

import (
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/samber/lo"

	ierr "github.com/consejo-social/veeduria/internal/errors"
	"github.com/consejo-social/veeduria/internal/resource"
)

// Request parameter names understood by Parse.
const (
	ParamSearch         = "buscar"
	ParamSort           = "orden"
	ParamDirection      = "direccion"
	ParamPage           = "page"
	ParamPerPage        = "per_page"
	ParamPorPagina      = "por_pagina"
	ParamIncludeDeleted = "incluir_eliminados"
)

// Limits bounds page sizes.
type Limits struct {
	DefaultPageSize int
	MaxPageSize     int
}

// DefaultLimits are used when the configuration leaves them unset.
var DefaultLimits = Limits{DefaultPageSize: 15, MaxPageSize: 100}

func (l Limits) normalized() Limits {
	if l.MaxPageSize < 1 {
		l.MaxPageSize = DefaultLimits.MaxPageSize
	}
	if l.DefaultPageSize < 1 || l.DefaultPageSize > l.MaxPageSize {
		l.DefaultPageSize = min(DefaultLimits.DefaultPageSize, l.MaxPageSize)
	}
	return l
}

// condition is one SQL predicate with "?" placeholders.
type condition struct {
	sql  string
	args []any
}

// Query is a validated list request for one resource.
type Query struct {
	Search         string
	Sort           string
	Direction      resource.Direction
	Page           int
	PerPage        int
	IncludeDeleted bool

	conds       []condition
	stateFilter bool
}

// Offset is the number of rows skipped before the current page.
func (q *Query) Offset() int {
	return (q.Page - 1) * q.PerPage
}

// Restrict adds an equality condition that the request cannot lift, used for
// owner scoping.
func (q *Query) Restrict(column string, value any) {
	q.conds = append(q.conds, condition{sql: column + " = ?", args: []any{value}})
}

// Parse validates values against s. Unknown keys are ignored, an unknown sort
// falls back to the schema default, and page sizes are clamped to limits.
// Malformed pagination or filter values are reported as a ValidationError.
func Parse(s *resource.Schema, values url.Values, limits Limits) (*Query, error) {
	limits = limits.normalized()
	ve := ierr.NewValidation("Los parámetros de consulta no son válidos")

	q := &Query{
		Search:    strings.TrimSpace(values.Get(ParamSearch)),
		Sort:      s.DefaultSort,
		Direction: s.DefaultDir,
		Page:      1,
		PerPage:   limits.DefaultPageSize,
	}

	if sort := values.Get(ParamSort); sort != "" && lo.Contains(s.SortFields, sort) {
		q.Sort = sort
	}
	switch resource.Direction(strings.ToLower(values.Get(ParamDirection))) {
	case resource.Asc:
		q.Direction = resource.Asc
	case resource.Desc:
		q.Direction = resource.Desc
	}

	if raw := values.Get(ParamPage); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			ve.Add(ParamPage, "debe ser un número entero")
		} else if n > 1 {
			// Keeps Offset within the range of a Postgres integer.
			q.Page = min(n, math.MaxInt32/limits.MaxPageSize)
		}
	}

	sizeParam := ParamPerPage
	raw := values.Get(ParamPerPage)
	if raw == "" {
		sizeParam, raw = ParamPorPagina, values.Get(ParamPorPagina)
	}
	if raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			ve.Add(sizeParam, "debe ser un número entero")
		} else {
			q.PerPage = max(1, min(n, limits.MaxPageSize))
		}
	}

	if raw := values.Get(ParamIncludeDeleted); raw != "" {
		q.IncludeDeleted, _ = strconv.ParseBool(raw)
	}

	for _, f := range s.Filters {
		parseFilter(s, f, values, q, ve)
	}

	if err := ve.Err(); err != nil {
		return nil, err
	}
	return q, nil
}

func parseFilter(s *resource.Schema, f resource.Filter, values url.Values, q *Query, ve *ierr.ValidationError) {
	switch f.Kind {
	case resource.FilterEqual:
		raw := values.Get(f.Param)
		if raw == "" {
			return
		}
		v, ok := coerce(f.ValueKind, f.Param, raw, ve)
		if !ok {
			return
		}
		if f.Column == s.StateColumn && !checkState(s, f.Param, raw, ve) {
			return
		}
		q.add(f, condition{sql: f.Column + " = ?", args: []any{v}})

	case resource.FilterPartial:
		raw := strings.TrimSpace(values.Get(f.Param))
		if raw == "" {
			return
		}
		q.add(f, condition{sql: f.Column + ` ILIKE ? ESCAPE '\'`, args: []any{Contains(raw)}})

	case resource.FilterSet:
		items := splitList(values[f.Param])
		if len(items) == 0 {
			return
		}
		arr, ok := setArray(s, f, items, ve)
		if !ok {
			return
		}
		q.add(f, condition{sql: f.Column + " = ANY(?)", args: []any{arr}})

	case resource.FilterRange:
		if raw := values.Get(f.MinParam()); raw != "" {
			if v, ok := coerce(f.ValueKind, f.MinParam(), raw, ve); ok {
				q.add(f, condition{sql: f.Column + " >= ?", args: []any{v}})
			}
		}
		if raw := values.Get(f.MaxParam()); raw != "" {
			if v, ok := coerce(f.ValueKind, f.MaxParam(), raw, ve); ok {
				q.add(f, condition{sql: f.Column + " <= ?", args: []any{v}})
			}
		}

	case resource.FilterDateRange:
		fromParam, toParam := f.Bounds()
		if raw := values.Get(fromParam); raw != "" {
			t, _, err := resource.ParseTime(raw)
			if err != nil {
				ve.Add(fromParam, "debe ser una fecha válida")
			} else {
				q.add(f, condition{sql: f.Column + " >= ?", args: []any{t}})
			}
		}
		if raw := values.Get(toParam); raw != "" {
			t, dateOnly, err := resource.ParseTime(raw)
			switch {
			case err != nil:
				ve.Add(toParam, "debe ser una fecha válida")
			case dateOnly:
				// A bare date includes the whole day.
				q.add(f, condition{sql: f.Column + " < ?", args: []any{t.Add(24 * time.Hour)}})
			default:
				q.add(f, condition{sql: f.Column + " <= ?", args: []any{t}})
			}
		}
	}
}

func (q *Query) add(f resource.Filter, c condition) {
	q.conds = append(q.conds, c)
	if f.Param == "estado" || f.Column == "estado" {
		q.stateFilter = true
	}
}

func coerce(k resource.Kind, param, raw string, ve *ierr.ValidationError) (any, bool) {
	v, err := resource.Coerce(k, raw)
	if err != nil {
		ve.Add(param, err.Error())
		return nil, false
	}
	return v, true
}

func checkState(s *resource.Schema, param, raw string, ve *ierr.ValidationError) bool {
	if s.HasState(raw) {
		return true
	}
	ve.Add(param, "no es un estado válido: "+raw)
	return false
}

// setArray converts set members into a typed array parameter.
func setArray(s *resource.Schema, f resource.Filter, items []string, ve *ierr.ValidationError) (any, bool) {
	if f.ValueKind == resource.KindInt {
		ids := make([]int64, 0, len(items))
		for _, it := range items {
			v, ok := coerce(resource.KindInt, f.Param, it, ve)
			if !ok {
				return nil, false
			}
			ids = append(ids, v.(int64))
		}
		return pq.Array(ids), true
	}
	if f.Column == s.StateColumn {
		for _, it := range items {
			if !checkState(s, f.Param, it, ve) {
				return nil, false
			}
		}
	}
	return pq.Array(items), true
}

// splitList flattens repeated and comma-separated values.
func splitList(raw []string) []string {
	var out []string
	for _, r := range raw {
		for _, part := range strings.Split(r, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return lo.Uniq(out)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Contains returns an ILIKE pattern matching s anywhere, with wildcards in s
// matched literally.
func Contains(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}
