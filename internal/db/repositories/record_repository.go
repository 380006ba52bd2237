// Package repositories implements the data access layer for the oversight backend.
// Each repository encapsulates the SQL for one concern; handlers never issue SQL directly.
// Methods that take a sqlx.ExtContext run on either the pool or an open transaction,
// so the engines can compose them inside one unit of work.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/consejo-social/veeduria/internal/db/models"
	ierr "github.com/consejo-social/veeduria/internal/errors"
	"github.com/consejo-social/veeduria/internal/resource"
)

// RecordRepository reads and writes rows of registered resources.
type RecordRepository struct {
	db *sqlx.DB
}

// NewRecordRepository creates a new RecordRepository
func NewRecordRepository(db *sqlx.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// Get fetches one record by id using the pool.
func (r *RecordRepository) Get(ctx context.Context, s *resource.Schema, id int64) (models.Record, error) {
	return r.get(ctx, r.db, s, id, "")
}

// Lock fetches one record by id and locks its row until tx ends.
func (r *RecordRepository) Lock(ctx context.Context, tx *sqlx.Tx, s *resource.Schema, id int64) (models.Record, error) {
	return r.get(ctx, tx, s, id, " FOR UPDATE")
}

func (r *RecordRepository) get(ctx context.Context, q sqlx.QueryerContext, s *resource.Schema, id int64, suffix string) (models.Record, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1%s", strings.Join(s.Columns(), ", "), s.Table, suffix)
	row := map[string]any{}
	err := q.QueryRowxContext(ctx, query, id).MapScan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ierr.NewNotFound(s.Name, id)
	}
	if err != nil {
		return nil, ierr.WrapStore(err, "get "+s.Table)
	}
	return s.Normalize(row), nil
}

// StoragePath returns the storage key held in s.StorageField. The column is
// hidden, so Get and Lock never return it.
func (r *RecordRepository) StoragePath(ctx context.Context, q sqlx.QueryerContext, s *resource.Schema, id int64) (string, error) {
	var path sql.NullString
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", s.StorageField, s.Table)
	err := sqlx.GetContext(ctx, q, &path, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ierr.NewNotFound(s.Name, id)
	}
	if err != nil {
		return "", ierr.WrapStore(err, "get "+s.Table)
	}
	return path.String, nil
}

// Insert writes a new row and returns it as stored.
func (r *RecordRepository) Insert(ctx context.Context, tx sqlx.ExtContext, s *resource.Schema, values map[string]any) (models.Record, error) {
	cols := sortedColumns(values)
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = values[c]
	}

	var query string
	if len(cols) == 0 {
		query = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING %s", s.Table, strings.Join(s.Columns(), ", "))
	} else {
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
			s.Table, strings.Join(cols, ", "), strings.Join(placeholders, ", "), strings.Join(s.Columns(), ", "))
	}
	return r.returning(ctx, tx, s, "insert", query, args)
}

// Update sets the given columns and stamps updated_at, returning the new row.
func (r *RecordRepository) Update(ctx context.Context, tx sqlx.ExtContext, s *resource.Schema, id int64, values map[string]any) (models.Record, error) {
	if s.AppendOnly {
		return nil, fmt.Errorf("%s is append-only", s.Table)
	}
	cols := sortedColumns(values)
	sets := make([]string, 0, len(cols)+1)
	args := make([]any, 0, len(cols)+1)
	for i, c := range cols {
		sets = append(sets, fmt.Sprintf("%s = $%d", c, i+1))
		args = append(args, values[c])
	}
	sets = append(sets, "updated_at = NOW()")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d RETURNING %s",
		s.Table, strings.Join(sets, ", "), len(args), strings.Join(s.Columns(), ", "))
	return r.returning(ctx, tx, s, "update", query, args)
}

func (r *RecordRepository) returning(ctx context.Context, tx sqlx.ExtContext, s *resource.Schema, op, query string, args []any) (models.Record, error) {
	row := map[string]any{}
	err := tx.QueryRowxContext(ctx, query, args...).MapScan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ierr.NewNotFound(s.Name, nil)
	}
	if err != nil {
		return nil, ierr.WrapStore(err, op+" "+s.Table)
	}
	return s.Normalize(row), nil
}

// Delete removes a row permanently.
func (r *RecordRepository) Delete(ctx context.Context, tx sqlx.ExtContext, s *resource.Schema, id int64) error {
	res, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", s.Table), id)
	if err != nil {
		return ierr.WrapStore(err, "delete "+s.Table)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ierr.NewNotFound(s.Name, id)
	}
	return nil
}

func sortedColumns(values map[string]any) []string {
	cols := make([]string, 0, len(values))
	for c := range values {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}
