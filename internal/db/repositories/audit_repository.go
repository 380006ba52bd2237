// audit_repository.go implements AuditRepository, providing the append-only writes
// and the entity/actor lookups over audit_logs, plus the retention purge.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/consejo-social/veeduria/internal/db/models"
	ierr "github.com/consejo-social/veeduria/internal/errors"
)

// PurgeSetting is the transaction-local setting the audit_logs trigger checks
// before allowing DELETE.
const PurgeSetting = "veeduria.audit_purge"

const auditColumns = `id, actor_id, actor_type, action, entity_type, entity_id,
		before_snapshot, after_snapshot, metadata, source_ip, user_agent, created_at`

// AuditRepository handles audit log database operations
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Insert appends an entry inside tx and fills its id and created_at.
func (r *AuditRepository) Insert(ctx context.Context, tx sqlx.ExtContext, e *models.AuditEntry) error {
	var metadata any
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return err
		}
		metadata = string(b)
	}

	query := `
		INSERT INTO audit_logs (actor_id, actor_type, action, entity_type, entity_id,
			before_snapshot, after_snapshot, metadata, source_ip, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`
	return tx.QueryRowxContext(ctx, query,
		e.ActorID,
		e.ActorType,
		e.Action,
		e.EntityType,
		e.EntityID,
		jsonArg(e.Before),
		jsonArg(e.After),
		metadata,
		nullString(e.SourceIP),
		nullString(e.UserAgent),
	).Scan(&e.ID, &e.CreatedAt)
}

// QueryByEntity returns the entries of one record, newest first.
func (r *AuditRepository) QueryByEntity(ctx context.Context, entityType string, entityID int64) ([]*models.AuditEntry, error) {
	query := `SELECT ` + auditColumns + `
		FROM audit_logs
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC, id DESC`
	return r.query(ctx, query, entityType, entityID)
}

// QueryByActor returns the entries recorded for one actor, optionally bounded
// by created_at, newest first.
func (r *AuditRepository) QueryByActor(ctx context.Context, actorID int64, from, to *time.Time) ([]*models.AuditEntry, error) {
	conds := []string{"actor_id = $1"}
	args := []any{actorID}
	if from != nil {
		args = append(args, *from)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if to != nil {
		args = append(args, *to)
		conds = append(conds, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	query := `SELECT ` + auditColumns + `
		FROM audit_logs
		WHERE ` + strings.Join(conds, " AND ") + `
		ORDER BY created_at DESC, id DESC`
	return r.query(ctx, query, args...)
}

// DeleteOlderThan removes entries created before cutoff inside tx and returns
// how many were removed.
func (r *AuditRepository) DeleteOlderThan(ctx context.Context, tx sqlx.ExtContext, cutoff time.Time) (int64, error) {
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL %s = 'on'", PurgeSetting)); err != nil {
		return 0, ierr.WrapStore(err, "enable audit purge")
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, ierr.WrapStore(err, "purge audit_logs")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, ierr.WrapStore(err, "purge audit_logs")
	}
	return n, nil
}

func (r *AuditRepository) query(ctx context.Context, query string, args ...any) ([]*models.AuditEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ierr.WrapStore(err, "query audit_logs")
	}
	defer rows.Close()

	entries := make([]*models.AuditEntry, 0)
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, ierr.WrapStore(err, "scan audit_logs")
		}
		entries = append(entries, e)
	}
	return entries, ierr.WrapStore(rows.Err(), "iterate audit_logs")
}

func scanAuditEntry(rows *sql.Rows) (*models.AuditEntry, error) {
	e := &models.AuditEntry{}
	var actorID, entityID sql.NullInt64
	var before, after, md []byte
	var sourceIP, userAgent sql.NullString
	err := rows.Scan(
		&e.ID,
		&actorID,
		&e.ActorType,
		&e.Action,
		&e.EntityType,
		&entityID,
		&before,
		&after,
		&md,
		&sourceIP,
		&userAgent,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if actorID.Valid {
		e.ActorID = &actorID.Int64
	}
	if entityID.Valid {
		e.EntityID = &entityID.Int64
	}
	if before != nil {
		e.Before = json.RawMessage(before)
	}
	if after != nil {
		e.After = json.RawMessage(after)
	}
	if md != nil {
		if err := json.Unmarshal(md, &e.Metadata); err != nil {
			return nil, err
		}
	}
	e.SourceIP = sourceIP.String
	e.UserAgent = userAgent.String
	return e, nil
}

// jsonArg passes raw JSON to lib/pq as text so jsonb columns accept it.
func jsonArg(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
