package services

import (
	"context"
	"database/sql/driver"
	"github.com/cockroachdb/errors"
	"net/url"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consejo-social/veeduria/internal/audit"
	"github.com/consejo-social/veeduria/internal/cache"
	"github.com/consejo-social/veeduria/internal/db/models"
	"github.com/consejo-social/veeduria/internal/db/repositories"
	ierr "github.com/consejo-social/veeduria/internal/errors"
	"github.com/consejo-social/veeduria/internal/query"
	"github.com/consejo-social/veeduria/internal/resource"
	"github.com/consejo-social/veeduria/internal/resource/catalog"
	"github.com/consejo-social/veeduria/internal/validation"
)

var (
	registry = catalog.New()

	client   = models.Actor{ID: 5, Type: models.ActorClient, SourceIP: "10.0.0.5", UserAgent: "test"}
	operator = models.Actor{ID: 9, Type: models.ActorOperator}
	admin    = models.Actor{ID: 1, Type: models.ActorAdministrator}
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newSQLX(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func mustSchema(t *testing.T, name string) *resource.Schema {
	t.Helper()
	s, err := registry.Get(name)
	require.NoError(t, err)
	return s
}

// recordingCache remembers the prefixes it was asked to drop.
type recordingCache struct {
	dropped []string
}

func (c *recordingCache) Get(context.Context, string, any) bool           { return false }
func (c *recordingCache) Set(context.Context, string, any, time.Duration) {}
func (c *recordingCache) Delete(context.Context, string)                  {}
func (c *recordingCache) Flush(context.Context)                           {}
func (c *recordingCache) DeleteByPrefix(_ context.Context, prefix string) {
	c.dropped = append(c.dropped, prefix)
}

func newRecordService(t *testing.T) (*RecordService, sqlmock.Sqlmock, *recordingCache) {
	t.Helper()
	db, mock := newSQLX(t)
	c := &recordingCache{}
	w := audit.NewWriter(db, repositories.NewAuditRepository(db), nil, 30)
	svc := NewRecordService(db, registry, query.NewEngine(db, query.DefaultLimits), validation.New(), w, c, nil)
	return svc, mock, c
}

// rowOf returns a one-row result in the schema's column order.
func rowOf(s *resource.Schema, vals map[string]driver.Value) *sqlmock.Rows {
	cols := s.Columns()
	row := make([]driver.Value, len(cols))
	for i, c := range cols {
		row[i] = vals[c]
	}
	return sqlmock.NewRows(cols).AddRow(row...)
}

func expectLock(mock sqlmock.Sqlmock, table string, id int64, rows *sqlmock.Rows) {
	mock.ExpectQuery(`SELECT .* FROM ` + table + ` WHERE id = \$1 FOR UPDATE`).WithArgs(id).WillReturnRows(rows)
}

func expectAudit(mock sqlmock.Sqlmock, action, entity string) {
	mock.ExpectQuery(`INSERT INTO audit_logs`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), action, entity, sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(1), time.Now()))
}

func pqrsfdRow(t *testing.T, vals map[string]driver.Value) *sqlmock.Rows {
	base := map[string]driver.Value{
		"id": int64(1), "tipo": "queja", "asunto": "Alumbrado público",
		"descripcion": "Falta alumbrado en el parque central", "cliente_id": int64(5),
		"created_at": time.Now(), "updated_at": time.Now(),
	}
	for k, v := range vals {
		base[k] = v
	}
	return rowOf(mustSchema(t, "pqrsfd"), base)
}

func donacionRow(t *testing.T, vals map[string]driver.Value) *sqlmock.Rows {
	base := map[string]driver.Value{
		"id": int64(4), "donante_nombre": "Ana Pérez", "tipo": "monetaria", "monto": []byte("50000.00"),
		"cliente_id": int64(5), "created_at": time.Now(), "updated_at": time.Now(),
	}
	for k, v := range vals {
		base[k] = v
	}
	return rowOf(mustSchema(t, "donaciones"), base)
}

// ---------------------------------------------------------------------------
// PQRSFD lifecycle
// ---------------------------------------------------------------------------

func TestPQRSFD_CreateAssignRadicate(t *testing.T) {
	svc, mock, _ := newRecordService(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO pqrsfd \(asunto, cliente_id, descripcion, estado, tipo\) VALUES`).
		WithArgs("Alumbrado público", int64(5), "Falta alumbrado en el parque central", catalog.PQRSFDPendiente, "queja").
		WillReturnRows(pqrsfdRow(t, map[string]driver.Value{"estado": catalog.PQRSFDPendiente}))
	expectAudit(mock, resource.AuditCreate, "pqrsfd")
	mock.ExpectCommit()

	rec, err := svc.Create(ctx, "pqrsfd", map[string]any{
		"tipo":        "queja",
		"asunto":      "Alumbrado público",
		"descripcion": "Falta alumbrado en el parque central",
	}, client)
	require.NoError(t, err)
	assert.Equal(t, catalog.PQRSFDPendiente, rec["estado"])

	mock.ExpectBegin()
	expectLock(mock, "pqrsfd", 1, pqrsfdRow(t, map[string]driver.Value{"estado": catalog.PQRSFDPendiente}))
	mock.ExpectQuery(`SELECT usuario_id, estado FROM operadores WHERE id = \$1`).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"usuario_id", "estado"}).AddRow(int64(12), "activo"))
	mock.ExpectExec(`INSERT INTO notificaciones`).
		WithArgs(int64(12), "asignacion", "Nueva asignación", sqlmock.AnyArg(), catalog.NotificacionNoLeida).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(`UPDATE pqrsfd SET estado = \$1, fecha_asignacion = \$2, operador_id = \$3, updated_at = NOW\(\) WHERE id = \$4`).
		WithArgs(catalog.PQRSFDEnProceso, sqlmock.AnyArg(), int64(3), int64(1)).
		WillReturnRows(pqrsfdRow(t, map[string]driver.Value{"estado": catalog.PQRSFDEnProceso, "operador_id": int64(3)}))
	expectAudit(mock, resource.AuditAssign, "pqrsfd")
	mock.ExpectCommit()

	rec, err = svc.Transition(ctx, "pqrsfd", 1, "asignar_operador", map[string]any{"operador_id": float64(3)}, operator)
	require.NoError(t, err)
	assert.Equal(t, catalog.PQRSFDEnProceso, rec["estado"])

	mock.ExpectBegin()
	expectLock(mock, "pqrsfd", 1, pqrsfdRow(t, map[string]driver.Value{"estado": catalog.PQRSFDEnProceso, "operador_id": int64(3)}))
	mock.ExpectQuery(`SELECT nextval\('pqrsfd_radicado_seq'\)`).
		WillReturnRows(sqlmock.NewRows([]string{"nextval"}).AddRow(int64(42)))
	mock.ExpectQuery(`UPDATE pqrsfd SET estado = \$1, fecha_radicacion = \$2, numero_radicado = \$3`).
		WithArgs(catalog.PQRSFDRadicado, sqlmock.AnyArg(), sqlmock.AnyArg(), int64(1)).
		WillReturnRows(pqrsfdRow(t, map[string]driver.Value{
			"estado": catalog.PQRSFDRadicado, "operador_id": int64(3), "numero_radicado": "RAD-2026-000042",
		}))
	expectAudit(mock, resource.AuditStateChange, "pqrsfd")
	mock.ExpectCommit()

	rec, err = svc.Transition(ctx, "pqrsfd", 1, "radicar", nil, operator)
	require.NoError(t, err)
	assert.Equal(t, catalog.PQRSFDRadicado, rec["estado"])
	assert.Equal(t, "RAD-2026-000042", rec["numero_radicado"])

	// One audit insert per operation: create, assign, radicar.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPQRSFD_RadicateBeforeAssignment(t *testing.T) {
	svc, mock, c := newRecordService(t)

	mock.ExpectBegin()
	expectLock(mock, "pqrsfd", 1, pqrsfdRow(t, map[string]driver.Value{"estado": catalog.PQRSFDPendiente}))
	mock.ExpectRollback()

	_, err := svc.Transition(context.Background(), "pqrsfd", 1, "radicar", nil, operator)
	require.Error(t, err)
	assert.True(t, ierr.IsPreconditionFailed(err), "got %v", err)
	assert.Empty(t, c.dropped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPQRSFD_TerminalTransitionTwice(t *testing.T) {
	svc, mock, _ := newRecordService(t)

	mock.ExpectBegin()
	expectLock(mock, "pqrsfd", 1, pqrsfdRow(t, map[string]driver.Value{"estado": catalog.PQRSFDCerrado, "operador_id": int64(3)}))
	mock.ExpectRollback()

	_, err := svc.Transition(context.Background(), "pqrsfd", 1, "cerrar", nil, operator)
	require.Error(t, err)
	assert.True(t, ierr.IsIllegalTransition(err), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransition_ClientSeesOnlyOwnRecords(t *testing.T) {
	svc, mock, _ := newRecordService(t)
	other := models.Actor{ID: 77, Type: models.ActorClient}

	mock.ExpectBegin()
	expectLock(mock, "pqrsfd", 1, pqrsfdRow(t, map[string]driver.Value{"estado": catalog.PQRSFDPendiente}))
	mock.ExpectRollback()

	_, err := svc.Transition(context.Background(), "pqrsfd", 1, "cancelar", nil, other)
	assert.True(t, ierr.IsNotFound(err), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransition_UnknownActionAndForbidden(t *testing.T) {
	svc, mock, _ := newRecordService(t)

	_, err := svc.Transition(context.Background(), "pqrsfd", 1, "archivar", nil, operator)
	assert.True(t, ierr.IsNotFound(err), "got %v", err)

	_, err = svc.Transition(context.Background(), "pqrsfd", 1, "radicar", nil, client)
	assert.True(t, errors.Is(err, ierr.ErrForbidden), "got %v", err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransition_UnknownParamRejectedBeforeStore(t *testing.T) {
	svc, mock, _ := newRecordService(t)

	_, err := svc.Transition(context.Background(), "pqrsfd", 1, "radicar", map[string]any{"estado": "Cerrado"}, operator)
	require.Error(t, err)
	assert.True(t, ierr.IsValidation(err))
	assert.Contains(t, ierr.FieldErrors(err), "estado")
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// Donations
// ---------------------------------------------------------------------------

func TestDonacion_RejectedCannotBeCertified(t *testing.T) {
	svc, mock, _ := newRecordService(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO donaciones`).
		WillReturnRows(donacionRow(t, map[string]driver.Value{"estado": catalog.DonacionPendiente}))
	expectAudit(mock, resource.AuditCreate, "donacion")
	mock.ExpectCommit()

	rec, err := svc.Create(ctx, "donaciones", map[string]any{
		"donante_nombre": "Ana Pérez",
		"tipo":           "monetaria",
		"monto":          float64(50000),
	}, client)
	require.NoError(t, err)
	assert.Equal(t, catalog.DonacionPendiente, rec["estado"])

	mock.ExpectBegin()
	expectLock(mock, "donaciones", 4, donacionRow(t, map[string]driver.Value{"estado": catalog.DonacionPendiente}))
	mock.ExpectQuery(`UPDATE donaciones SET estado = \$1, fecha_validacion = \$2, motivo_rechazo = \$3`).
		WithArgs(catalog.DonacionRechazado, sqlmock.AnyArg(), "Comprobante ilegible", int64(4)).
		WillReturnRows(donacionRow(t, map[string]driver.Value{
			"estado": catalog.DonacionRechazado, "motivo_rechazo": "Comprobante ilegible",
		}))
	expectAudit(mock, resource.AuditStateChange, "donacion")
	mock.ExpectCommit()

	rec, err = svc.Transition(ctx, "donaciones", 4, "validar",
		map[string]any{"estado": "rechazado", "motivo_rechazo": "Comprobante ilegible"}, operator)
	require.NoError(t, err)
	assert.Equal(t, catalog.DonacionRechazado, rec["estado"])

	// No UPDATE and no audit insert may follow the refused transition.
	mock.ExpectBegin()
	expectLock(mock, "donaciones", 4, donacionRow(t, map[string]driver.Value{"estado": catalog.DonacionRechazado}))
	mock.ExpectRollback()

	_, err = svc.Transition(ctx, "donaciones", 4, "certificar", nil, operator)
	require.Error(t, err)
	assert.True(t, ierr.IsIllegalTransition(err), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDonacion_RejectionNeedsReason(t *testing.T) {
	svc, mock, _ := newRecordService(t)

	mock.ExpectBegin()
	expectLock(mock, "donaciones", 4, donacionRow(t, map[string]driver.Value{"estado": catalog.DonacionPendiente}))
	mock.ExpectRollback()

	_, err := svc.Transition(context.Background(), "donaciones", 4, "validar", map[string]any{"estado": "rechazado"}, operator)
	require.Error(t, err)
	assert.Contains(t, ierr.FieldErrors(err), "motivo_rechazo")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDonacion_UpdateOnlyWhilePending(t *testing.T) {
	svc, mock, _ := newRecordService(t)

	mock.ExpectBegin()
	expectLock(mock, "donaciones", 4, donacionRow(t, map[string]driver.Value{"estado": catalog.DonacionValidado}))
	mock.ExpectRollback()

	_, err := svc.Update(context.Background(), "donaciones", 4, map[string]any{"descripcion": "corrección"}, client)
	require.Error(t, err)
	assert.True(t, ierr.IsPreconditionFailed(err), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDonacion_HardDelete(t *testing.T) {
	svc, mock, c := newRecordService(t)

	mock.ExpectBegin()
	expectLock(mock, "donaciones", 4, donacionRow(t, map[string]driver.Value{"estado": catalog.DonacionPendiente}))
	mock.ExpectExec(`DELETE FROM donaciones WHERE id = \$1`).WithArgs(int64(4)).WillReturnResult(sqlmock.NewResult(0, 1))
	expectAudit(mock, resource.AuditDelete, "donacion")
	mock.ExpectCommit()

	require.NoError(t, svc.Delete(context.Background(), "donaciones", 4, client))
	assert.Equal(t, []string{"donaciones", catalog.DashboardCachePrefix}, c.dropped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// Soft delete and restore
// ---------------------------------------------------------------------------

func tareaRow(t *testing.T, vals map[string]driver.Value) *sqlmock.Rows {
	base := map[string]driver.Value{
		"id": int64(8), "titulo": "Visitar la obra", "created_at": time.Now(), "updated_at": time.Now(),
	}
	for k, v := range vals {
		base[k] = v
	}
	return rowOf(mustSchema(t, "tareas"), base)
}

func TestTarea_SoftDeleteKeepsPreviousState(t *testing.T) {
	svc, mock, _ := newRecordService(t)

	mock.ExpectBegin()
	expectLock(mock, "tareas", 8, tareaRow(t, map[string]driver.Value{"estado": "pendiente"}))
	mock.ExpectQuery(`UPDATE tareas SET estado = \$1, estado_previo = \$2, updated_at = NOW\(\) WHERE id = \$3`).
		WithArgs("eliminada", "pendiente", int64(8)).
		WillReturnRows(tareaRow(t, map[string]driver.Value{"estado": "eliminada", "estado_previo": "pendiente"}))
	expectAudit(mock, resource.AuditDelete, "tarea")
	mock.ExpectCommit()

	require.NoError(t, svc.Delete(context.Background(), "tareas", 8, operator))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTarea_DeleteRefusedOnceStarted(t *testing.T) {
	svc, mock, _ := newRecordService(t)

	mock.ExpectBegin()
	expectLock(mock, "tareas", 8, tareaRow(t, map[string]driver.Value{"estado": "en_proceso"}))
	mock.ExpectRollback()

	err := svc.Delete(context.Background(), "tareas", 8, operator)
	require.Error(t, err)
	assert.True(t, ierr.IsPreconditionFailed(err), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTarea_Restore(t *testing.T) {
	svc, mock, _ := newRecordService(t)

	mock.ExpectBegin()
	expectLock(mock, "tareas", 8, tareaRow(t, map[string]driver.Value{"estado": "eliminada", "estado_previo": "pendiente"}))
	mock.ExpectQuery(`UPDATE tareas SET estado = \$1, estado_previo = \$2`).
		WithArgs("pendiente", nil, int64(8)).
		WillReturnRows(tareaRow(t, map[string]driver.Value{"estado": "pendiente"}))
	expectAudit(mock, resource.AuditStateChange, "tarea")
	mock.ExpectCommit()

	rec, err := svc.Transition(context.Background(), "tareas", 8, resource.ActionRestore, nil, operator)
	require.NoError(t, err)
	assert.Equal(t, "pendiente", rec["estado"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// Administrative override
// ---------------------------------------------------------------------------

func TestForceState(t *testing.T) {
	svc, mock, _ := newRecordService(t)
	ctx := context.Background()

	_, err := svc.ForceState(ctx, "pqrsfd", 1, catalog.PQRSFDCerrado, operator)
	assert.True(t, errors.Is(err, ierr.ErrForbidden), "got %v", err)

	_, err = svc.ForceState(ctx, "pqrsfd", 1, "Archivado", admin)
	assert.True(t, ierr.IsValidation(err), "got %v", err)

	mock.ExpectBegin()
	expectLock(mock, "pqrsfd", 1, pqrsfdRow(t, map[string]driver.Value{"estado": catalog.PQRSFDPendiente}))
	mock.ExpectQuery(`UPDATE pqrsfd SET estado = \$1, updated_at = NOW\(\) WHERE id = \$2`).
		WithArgs(catalog.PQRSFDCerrado, int64(1)).
		WillReturnRows(pqrsfdRow(t, map[string]driver.Value{"estado": catalog.PQRSFDCerrado}))
	expectAudit(mock, resource.AuditStateChange, "pqrsfd")
	mock.ExpectCommit()

	rec, err := svc.ForceState(ctx, "pqrsfd", 1, catalog.PQRSFDCerrado, admin)
	require.NoError(t, err)
	assert.Equal(t, catalog.PQRSFDCerrado, rec["estado"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// Audit atomicity
// ---------------------------------------------------------------------------

func TestCreate_AuditFailureRollsBack(t *testing.T) {
	svc, mock, c := newRecordService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO pqrsfd`).
		WillReturnRows(pqrsfdRow(t, map[string]driver.Value{"estado": catalog.PQRSFDPendiente}))
	mock.ExpectQuery(`INSERT INTO audit_logs`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := svc.Create(context.Background(), "pqrsfd", map[string]any{
		"tipo":        "queja",
		"asunto":      "Alumbrado público",
		"descripcion": "Falta alumbrado en el parque central",
	}, client)
	require.Error(t, err)
	assert.True(t, ierr.IsAuditWrite(err), "got %v", err)
	assert.Empty(t, c.dropped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_ValidationBeforeStore(t *testing.T) {
	svc, mock, _ := newRecordService(t)

	_, err := svc.Create(context.Background(), "donaciones", map[string]any{
		"donante_nombre": "Ana",
		"tipo":           "monetaria",
		"monto":          float64(-5),
		"estado":         "certificado",
	}, client)
	require.Error(t, err)
	fields := ierr.FieldErrors(err)
	assert.Contains(t, fields, "monto")
	assert.Contains(t, fields, "estado")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_ArchivosRequireUploadEndpoint(t *testing.T) {
	svc, _, _ := newRecordService(t)

	_, err := svc.Create(context.Background(), "archivos", map[string]any{}, admin)
	assert.True(t, errors.Is(err, ierr.ErrForbidden), "got %v", err)
}

// ---------------------------------------------------------------------------
// List
// ---------------------------------------------------------------------------

func TestList_ClampsPageSizeAndIgnoresUnknownFilters(t *testing.T) {
	svc, mock, _ := newRecordService(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM tareas WHERE estado <> \$1$`).
		WithArgs("eliminada").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(1)))
	mock.ExpectQuery(`SELECT .* FROM tareas WHERE estado <> \$1 ORDER BY created_at DESC, id ASC LIMIT \$2 OFFSET \$3`).
		WithArgs("eliminada", 100, 0).
		WillReturnRows(tareaRow(t, map[string]driver.Value{"estado": "pendiente"}))

	values := url.Values{"per_page": {"200"}, "password_hash": {"x"}, "deleted_at": {"2026-01-01"}}
	page, err := svc.List(context.Background(), "tareas", values, operator)
	require.NoError(t, err)
	assert.Equal(t, 100, page.Pagination.PerPage)
	assert.Equal(t, int64(1), page.Pagination.Total)
	assert.Len(t, page.Items, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestList_ScopesClientsToOwnRecords(t *testing.T) {
	svc, mock, _ := newRecordService(t)

	// The client's own filter cannot lift the owner restriction.
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM pqrsfd WHERE cliente_id = \$1 AND cliente_id = \$2$`).
		WithArgs(int64(77), int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(0)))

	values := url.Values{"cliente_id": {"77"}}
	page, err := svc.List(context.Background(), "pqrsfd", values, client)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func configRow(t *testing.T, valor string) *sqlmock.Rows {
	return rowOf(mustSchema(t, "configuraciones"), map[string]driver.Value{
		"id": int64(2), "clave": SettingDiasRespuestaPQRSFD, "valor": valor, "estado": "activo",
		"created_at": time.Now(), "updated_at": time.Now(),
	})
}

func expectConfigList(t *testing.T, mock sqlmock.Sqlmock, valor string) {
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM configuraciones`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(1)))
	mock.ExpectQuery(`SELECT .* FROM configuraciones .*ORDER BY clave ASC`).
		WillReturnRows(configRow(t, valor))
}

func TestList_CachedUntilWrite(t *testing.T) {
	db, mock := newSQLX(t)
	w := audit.NewWriter(db, repositories.NewAuditRepository(db), nil, 30)
	svc := NewRecordService(db, registry, query.NewEngine(db, query.DefaultLimits), validation.New(), w,
		cache.NewMemory(time.Minute, time.Minute), nil)
	ctx := context.Background()
	values := url.Values{"page": {"1"}}

	expectConfigList(t, mock, "15")
	for i := 0; i < 2; i++ {
		page, err := svc.List(ctx, "configuraciones", values, admin)
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
		assert.Equal(t, "15", page.Items[0]["valor"])
	}
	require.NoError(t, mock.ExpectationsWereMet())

	// a different query string is a different entry
	expectConfigList(t, mock, "15")
	_, err := svc.List(ctx, "configuraciones", url.Values{"page": {"1"}, "clave": {"dias"}}, admin)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectBegin()
	expectLock(mock, "configuraciones", 2, configRow(t, "15"))
	mock.ExpectQuery(`UPDATE configuraciones SET valor = \$1`).
		WithArgs("10", int64(2)).
		WillReturnRows(configRow(t, "10"))
	expectAudit(mock, resource.AuditUpdate, "configuracion")
	mock.ExpectCommit()
	_, err = svc.Update(ctx, "configuraciones", 2, map[string]any{"valor": "10"}, admin)
	require.NoError(t, err)

	expectConfigList(t, mock, "10")
	page, err := svc.List(ctx, "configuraciones", values, admin)
	require.NoError(t, err)
	assert.Equal(t, "10", page.Items[0]["valor"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestList_Forbidden(t *testing.T) {
	svc, _, _ := newRecordService(t)

	_, err := svc.List(context.Background(), "tareas", url.Values{}, client)
	assert.True(t, errors.Is(err, ierr.ErrForbidden), "got %v", err)

	_, err = svc.List(context.Background(), "planetas", url.Values{}, admin)
	assert.True(t, ierr.IsUnknownResource(err), "got %v", err)
}
