package repositories

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consejo-social/veeduria/internal/db/models"
	ierr "github.com/consejo-social/veeduria/internal/errors"
)

// ---------------------------------------------------------------------------
// Column definitions
// ---------------------------------------------------------------------------

var auditCols = []string{
	"id", "actor_id", "actor_type", "action", "entity_type", "entity_id",
	"before_snapshot", "after_snapshot", "metadata", "source_ip", "user_agent", "created_at",
}

func newAuditRepo(t *testing.T) (*AuditRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newSQLX(t)
	return NewAuditRepository(db), mock
}

func int64Ptr(n int64) *int64 { return &n }

// ---------------------------------------------------------------------------
// Insert
// ---------------------------------------------------------------------------

func TestAuditInsert(t *testing.T) {
	repo, mock := newAuditRepo(t)
	created := time.Date(2025, 5, 4, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery("INSERT INTO audit_logs").
		WithArgs(int64(3), models.ActorOperator, "state_change", "pqrsfd", int64(9),
			`{"estado":"EnProceso"}`, `{"estado":"Radicado"}`, `{"action":"radicar"}`, "10.0.0.1", nil).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(77), created))

	e := &models.AuditEntry{
		ActorID:    int64Ptr(3),
		ActorType:  models.ActorOperator,
		Action:     "state_change",
		EntityType: "pqrsfd",
		EntityID:   int64Ptr(9),
		Before:     json.RawMessage(`{"estado":"EnProceso"}`),
		After:      json.RawMessage(`{"estado":"Radicado"}`),
		Metadata:   map[string]any{"action": "radicar"},
		SourceIP:   "10.0.0.1",
	}
	require.NoError(t, repo.Insert(context.Background(), repo.db, e))
	assert.Equal(t, int64(77), e.ID)
	assert.Equal(t, created, e.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditInsert_NilSnapshots(t *testing.T) {
	repo, mock := newAuditRepo(t)
	mock.ExpectQuery("INSERT INTO audit_logs").
		WithArgs(nil, models.ActorSystem, "delete", "audit_logs", nil, nil, nil, nil, nil, nil).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(1), time.Now()))

	e := &models.AuditEntry{ActorType: models.ActorSystem, Action: "delete", EntityType: "audit_logs"}
	assert.NoError(t, repo.Insert(context.Background(), repo.db, e))
}

func TestAuditInsert_DBError(t *testing.T) {
	repo, mock := newAuditRepo(t)
	mock.ExpectQuery("INSERT INTO audit_logs").WillReturnError(errDB)

	err := repo.Insert(context.Background(), repo.db, &models.AuditEntry{Action: "create"})
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

func TestAuditQueryByEntity(t *testing.T) {
	repo, mock := newAuditRepo(t)
	now := time.Now()

	mock.ExpectQuery("FROM audit_logs\\s+WHERE entity_type = \\$1 AND entity_id = \\$2\\s+ORDER BY created_at DESC, id DESC").
		WithArgs("pqrsfd", int64(9)).
		WillReturnRows(sqlmock.NewRows(auditCols).
			AddRow(int64(3), int64(2), "operator", "state_change", "pqrsfd", int64(9),
				[]byte(`{"estado":"EnProceso"}`), []byte(`{"estado":"Radicado"}`), []byte(`{"action":"radicar"}`),
				"10.0.0.1", "curl/8", now).
			AddRow(int64(1), nil, "system", "create", "pqrsfd", int64(9), nil, []byte(`{"estado":"Pendiente"}`), nil,
				nil, nil, now.Add(-time.Hour)))

	entries, err := repo.QueryByEntity(context.Background(), "pqrsfd", 9)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, int64(2), *entries[0].ActorID)
	assert.Equal(t, "radicar", entries[0].Metadata["action"])
	assert.JSONEq(t, `{"estado":"Radicado"}`, string(entries[0].After))
	assert.Nil(t, entries[1].ActorID)
	assert.Nil(t, entries[1].Before)
	assert.Equal(t, "", entries[1].SourceIP)
}

func TestAuditQueryByActor(t *testing.T) {
	repo, mock := newAuditRepo(t)
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE actor_id = $1 AND created_at >= $2 AND created_at <= $3")).
		WithArgs(int64(4), from, to).
		WillReturnRows(sqlmock.NewRows(auditCols))

	entries, err := repo.QueryByActor(context.Background(), 4, &from, &to)
	require.NoError(t, err)
	assert.Empty(t, entries)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE actor_id = $1 ORDER BY")).
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows(auditCols))
	_, err = repo.QueryByActor(context.Background(), 4, nil, nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditQuery_DBError(t *testing.T) {
	repo, mock := newAuditRepo(t)
	mock.ExpectQuery("FROM audit_logs").WillReturnError(errDB)

	_, err := repo.QueryByEntity(context.Background(), "pqrsfd", 1)
	assert.True(t, ierr.IsStore(err))
}

// ---------------------------------------------------------------------------
// DeleteOlderThan
// ---------------------------------------------------------------------------

func TestAuditDeleteOlderThan(t *testing.T) {
	repo, mock := newAuditRepo(t)
	cutoff := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET LOCAL veeduria.audit_purge = 'on'")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM audit_logs WHERE created_at < $1")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 42))

	tx, err := repo.db.Beginx()
	require.NoError(t, err)
	n, err := repo.DeleteOlderThan(context.Background(), tx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
