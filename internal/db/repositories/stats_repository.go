// stats_repository.go implements StatsRepository, the aggregate queries behind
// the dashboard.
package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	ierr "github.com/consejo-social/veeduria/internal/errors"
	"github.com/consejo-social/veeduria/internal/resource"
)

// StatsRepository runs read-only aggregates.
type StatsRepository struct {
	db *sqlx.DB
}

// NewStatsRepository creates a new StatsRepository
func NewStatsRepository(db *sqlx.DB) *StatsRepository {
	return &StatsRepository{db: db}
}

// CountByState returns the number of rows per state of s, with a zero for
// every state that has none. Soft-deleted rows are not counted.
func (r *StatsRepository) CountByState(ctx context.Context, s *resource.Schema) (map[string]int64, error) {
	query := fmt.Sprintf("SELECT %[1]s, COUNT(*) FROM %[2]s GROUP BY %[1]s", s.StateColumn, s.Table)
	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, ierr.WrapStore(err, "count "+s.Table)
	}
	defer rows.Close()

	counts := make(map[string]int64, len(s.States))
	for _, st := range s.States {
		if st != s.DeletedState {
			counts[st] = 0
		}
	}
	for rows.Next() {
		var st string
		var n int64
		if err := rows.Scan(&st, &n); err != nil {
			return nil, ierr.WrapStore(err, "scan "+s.Table)
		}
		if s.DeletedState != "" && st == s.DeletedState {
			continue
		}
		counts[st] = n
	}
	return counts, ierr.WrapStore(rows.Err(), "iterate "+s.Table)
}

// DonationTotal sums monto over donations in the given states.
func (r *StatsRepository) DonationTotal(ctx context.Context, states []string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.db.GetContext(ctx, &total,
		`SELECT COALESCE(SUM(monto), 0) FROM donaciones WHERE estado = ANY($1)`, pq.Array(states))
	if err != nil {
		return decimal.Zero, ierr.WrapStore(err, "sum donaciones")
	}
	return total, nil
}

// CountOlderThan counts rows of s in the given states created before cutoff.
func (r *StatsRepository) CountOlderThan(ctx context.Context, s *resource.Schema, states []string, cutoff time.Time) (int64, error) {
	var n int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ANY($1) AND created_at < $2", s.Table, s.StateColumn)
	err := r.db.GetContext(ctx, &n, query, pq.Array(states), cutoff)
	return n, ierr.WrapStore(err, "count overdue "+s.Table)
}
