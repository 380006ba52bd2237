package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/consejo-social/veeduria/internal/db/models"
	"github.com/consejo-social/veeduria/internal/db/repositories"
	ierr "github.com/consejo-social/veeduria/internal/errors"
	"github.com/consejo-social/veeduria/internal/resource"
	"github.com/consejo-social/veeduria/internal/safego"
	"github.com/consejo-social/veeduria/internal/telemetry"
)

// DefaultRetentionFloorDays is used when the configured floor is unset.
const DefaultRetentionFloorDays = 30

// EntityAuditLogs is the entity type recorded for purges of the log itself.
const EntityAuditLogs = "audit_logs"

// shipTimeout bounds one asynchronous ship of a committed batch.
const shipTimeout = 30 * time.Second

// Writer appends entries to audit_logs and forwards committed ones to the
// configured shipper.
type Writer struct {
	db        *sqlx.DB
	repo      *repositories.AuditRepository
	shipper   Shipper
	floorDays int
	now       func() time.Time
}

// NewWriter creates a Writer. shipper may be nil.
func NewWriter(db *sqlx.DB, repo *repositories.AuditRepository, shipper Shipper, floorDays int) *Writer {
	if floorDays < 1 {
		floorDays = DefaultRetentionFloorDays
	}
	return &Writer{db: db, repo: repo, shipper: shipper, floorDays: floorDays, now: time.Now}
}

// RetentionFloorDays is the youngest age a purge may remove.
func (w *Writer) RetentionFloorDays() int {
	return w.floorDays
}

// Record inserts e inside tx. A failure is an AuditWriteError, and the caller
// must roll tx back so the audited change does not commit either.
func (w *Writer) Record(ctx context.Context, tx sqlx.ExtContext, e *models.AuditEntry) error {
	if err := w.repo.Insert(ctx, tx, e); err != nil {
		return ierr.WrapAudit(err)
	}
	telemetry.AuditEntriesTotal.WithLabelValues(e.Action).Inc()
	return nil
}

// Publish ships entries in the background. Call it only after the
// transaction holding them committed.
func (w *Writer) Publish(entries ...*models.AuditEntry) {
	if w.shipper == nil || len(entries) == 0 {
		return
	}
	logEntries := make([]*LogEntry, len(entries))
	for i, e := range entries {
		logEntries[i] = NewLogEntry(e)
	}
	safego.Go("audit_ship", func() {
		ctx, cancel := context.WithTimeout(context.Background(), shipTimeout)
		defer cancel()
		for _, le := range logEntries {
			if err := w.shipper.Ship(ctx, le); err != nil {
				telemetry.AuditShipFailuresTotal.Inc()
			}
		}
	})
}

// QueryByEntity returns the history of one record, newest first.
func (w *Writer) QueryByEntity(ctx context.Context, entityType string, entityID int64) ([]*models.AuditEntry, error) {
	return w.repo.QueryByEntity(ctx, entityType, entityID)
}

// QueryByActor returns what one actor did, optionally bounded by date.
func (w *Writer) QueryByActor(ctx context.Context, actorID int64, from, to *time.Time) ([]*models.AuditEntry, error) {
	if from != nil && to != nil && to.Before(*from) {
		return nil, ierr.Field("fecha_fin", "debe ser posterior a fecha_inicio")
	}
	return w.repo.QueryByActor(ctx, actorID, from, to)
}

// PurgeResult reports what a purge removed.
type PurgeResult struct {
	Days    int       `json:"dias"`
	Cutoff  time.Time `json:"fecha_corte"`
	Deleted int64     `json:"eliminados"`
}

// PurgeOlderThan deletes entries older than days, which may not be below the
// retention floor. The purge itself is recorded in the same transaction, so
// it always survives as the newest entry.
func (w *Writer) PurgeOlderThan(ctx context.Context, days int, actor models.Actor) (*PurgeResult, error) {
	if days < w.floorDays {
		return nil, ierr.Field("dias", fmt.Sprintf("debe ser al menos %d", w.floorDays))
	}
	cutoff := w.now().AddDate(0, 0, -days)

	tx, err := w.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, ierr.WrapStore(err, "begin purge")
	}
	defer tx.Rollback() // nolint:errcheck

	deleted, err := w.repo.DeleteOlderThan(ctx, tx, cutoff)
	if err != nil {
		return nil, err
	}

	entry := actor.Entry(resource.AuditDelete, EntityAuditLogs, 0)
	entry.Metadata = map[string]any{
		"dias":        days,
		"fecha_corte": cutoff.UTC().Format(time.RFC3339),
		"eliminados":  deleted,
	}
	if err := w.Record(ctx, tx, entry); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, ierr.WrapStore(err, "commit purge")
	}

	slog.InfoContext(ctx, "audit log purged", "dias", days, "eliminados", deleted, "actor_id", actor.ID)
	w.Publish(entry)
	return &PurgeResult{Days: days, Cutoff: cutoff, Deleted: deleted}, nil
}
