package query

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/consejo-social/veeduria/internal/db/models"
	ierr "github.com/consejo-social/veeduria/internal/errors"
	"github.com/consejo-social/veeduria/internal/resource"
)

// Pagination describes the page returned by List.
type Pagination struct {
	CurrentPage int   `json:"current_page"`
	LastPage    int   `json:"last_page"`
	PerPage     int   `json:"per_page"`
	Total       int64 `json:"total"`
}

// NewPagination computes the page counters for total matching rows.
func NewPagination(page, perPage int, total int64) Pagination {
	last := 1
	if perPage > 0 && total > 0 {
		last = int((total + int64(perPage) - 1) / int64(perPage))
	}
	return Pagination{CurrentPage: page, LastPage: last, PerPage: perPage, Total: total}
}

// Page is one page of records.
type Page struct {
	Items      []models.Record
	Pagination Pagination
}

// Statement is a built SQL statement with its bound arguments.
type Statement struct {
	SQL  string
	Args []any
}

// Build renders the page and count statements for q. Both share the same
// WHERE clause so the total always matches what pagination enumerates.
func Build(s *resource.Schema, q *Query) (list, count Statement) {
	where, args := q.where(s)

	order := fmt.Sprintf("%s %s", q.Sort, strings.ToUpper(string(q.Direction)))
	if q.Sort != "id" {
		order += ", id ASC"
	}

	listSQL := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s LIMIT ? OFFSET ?",
		strings.Join(s.Columns(), ", "), s.Table, where, order)
	countSQL := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", s.Table, where)

	list = Statement{
		SQL:  sqlx.Rebind(sqlx.DOLLAR, listSQL),
		Args: append(slices.Clone(args), q.PerPage, q.Offset()),
	}
	count = Statement{SQL: sqlx.Rebind(sqlx.DOLLAR, countSQL), Args: args}
	return list, count
}

func (q *Query) where(s *resource.Schema) (string, []any) {
	conds := slices.Clone(q.conds)

	if s.SoftDeletes() && !q.IncludeDeleted && !q.stateFilter {
		conds = append(conds, condition{sql: s.StateColumn + " <> ?", args: []any{s.DeletedState}})
	}

	if q.Search != "" && len(s.SearchFields) > 0 {
		pattern := Contains(q.Search)
		parts := make([]string, len(s.SearchFields))
		args := make([]any, len(s.SearchFields))
		for i, col := range s.SearchFields {
			parts[i] = col + ` ILIKE ? ESCAPE '\'`
			args[i] = pattern
		}
		conds = append(conds, condition{sql: "(" + strings.Join(parts, " OR ") + ")", args: args})
	}

	if len(conds) == 0 {
		return "", nil
	}
	sqls := make([]string, len(conds))
	var args []any
	for i, c := range conds {
		sqls[i] = c.sql
		args = append(args, c.args...)
	}
	return " WHERE " + strings.Join(sqls, " AND "), args
}

// Engine executes list queries.
type Engine struct {
	db     sqlx.QueryerContext
	limits Limits
}

// NewEngine creates an Engine reading through db.
func NewEngine(db sqlx.QueryerContext, limits Limits) *Engine {
	return &Engine{db: db, limits: limits.normalized()}
}

// Limits returns the page size bounds applied by Parse.
func (e *Engine) Limits() Limits {
	return e.limits
}

// List runs q against s's table and returns the requested page with the
// exact number of matching rows.
func (e *Engine) List(ctx context.Context, s *resource.Schema, q *Query) (*Page, error) {
	list, count := Build(s, q)

	var total int64
	if err := sqlx.GetContext(ctx, e.db, &total, count.SQL, count.Args...); err != nil {
		return nil, ierr.WrapStore(err, "count "+s.Table)
	}

	page := &Page{Items: []models.Record{}, Pagination: NewPagination(q.Page, q.PerPage, total)}
	if total == 0 || q.Offset() >= int(total) {
		return page, nil
	}

	rows, err := e.db.QueryxContext(ctx, list.SQL, list.Args...)
	if err != nil {
		return nil, ierr.WrapStore(err, "list "+s.Table)
	}
	defer rows.Close()

	for rows.Next() {
		row := map[string]any{}
		if err := rows.MapScan(row); err != nil {
			return nil, ierr.WrapStore(err, "scan "+s.Table)
		}
		page.Items = append(page.Items, s.Normalize(row))
	}
	if err := rows.Err(); err != nil {
		return nil, ierr.WrapStore(err, "iterate "+s.Table)
	}
	return page, nil
}
