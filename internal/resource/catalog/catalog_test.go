package catalog

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consejo-social/veeduria/internal/db/models"
	ierr "github.com/consejo-social/veeduria/internal/errors"
)

func newTx(t *testing.T) (*sqlx.Tx, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	mock.ExpectBegin()
	tx, err := sqlx.NewDb(db, "sqlmock").Beginx()
	if err != nil {
		t.Fatalf("Beginx: %v", err)
	}
	return tx, mock
}

func fixedClock(t *testing.T) {
	t.Helper()
	prev := now
	now = func() time.Time { return time.Date(2025, 5, 4, 10, 0, 0, 0, time.UTC) }
	t.Cleanup(func() { now = prev })
}

func TestNew_RegistersEveryResource(t *testing.T) {
	reg := New()
	assert.Equal(t, []string{
		"archivos", "configuraciones", "donaciones", "logs", "notificaciones",
		"operadores", "pqrsfd", "reportes", "tareas", "usuarios", "veedurias",
	}, reg.Names())
}

func TestPQRSFD_Graph(t *testing.T) {
	p, err := New().Get("pqrsfd")
	require.NoError(t, err)

	assert.True(t, p.CanTransition(PQRSFDPendiente, PQRSFDEnProceso))
	assert.True(t, p.CanTransition(PQRSFDEnProceso, PQRSFDRadicado))
	assert.True(t, p.CanTransition(PQRSFDRadicado, PQRSFDCerrado))
	assert.True(t, p.CanTransition(PQRSFDRadicado, PQRSFDCancelado))
	assert.False(t, p.CanTransition(PQRSFDCerrado, PQRSFDCancelado))
	assert.True(t, p.IsTerminal(PQRSFDCerrado))
	assert.True(t, p.IsTerminal(PQRSFDCancelado))
	assert.False(t, p.IsTerminal(PQRSFDPendiente))
}

func TestDonaciones_CertifyOnlyFromValidado(t *testing.T) {
	d, err := New().Get("donaciones")
	require.NoError(t, err)

	certificar, ok := d.Action("certificar")
	require.True(t, ok)
	assert.Equal(t, []string{DonacionValidado}, certificar.From)
	assert.False(t, d.CanTransition(DonacionRechazado, DonacionCertificado))
	assert.True(t, d.CanTransition(DonacionPendiente, DonacionRechazado))
	assert.Equal(t, []string{DonacionPendiente}, d.EditableFrom)
}

func TestTareas_SoftDeleteOnlyWhilePendiente(t *testing.T) {
	tareas, err := New().Get("tareas")
	require.NoError(t, err)

	del, ok := tareas.Action("eliminar")
	require.True(t, ok)
	assert.Equal(t, []string{"pendiente"}, del.From)
	assert.Equal(t, "eliminada", del.To)
	assert.True(t, tareas.CanTransition("en_proceso", "suspendida"))
	assert.True(t, tareas.CanTransition("suspendida", "en_proceso"))
	assert.True(t, tareas.CanTransition("eliminada", "pendiente"), "restore returns to a prior state")
}

func TestLogs_ReadOnly(t *testing.T) {
	logs, err := New().Get("logs")
	require.NoError(t, err)
	assert.False(t, logs.CanWrite(models.ActorAdministrator))
	assert.False(t, logs.CanRead(models.ActorOperator))
	assert.True(t, logs.Delete.Disabled)
}

func TestRequireOperator(t *testing.T) {
	guard := requireOperator("sin operador")

	err := guard(context.Background(), nil, models.Record{"id": int64(1), "operador_id": nil}, nil)
	require.Error(t, err)
	assert.True(t, ierr.IsPreconditionFailed(err))
	assert.Equal(t, "sin operador", ierr.DisplayMessage(err))

	assert.NoError(t, guard(context.Background(), nil, models.Record{"operador_id": int64(4)}, nil))
}

func TestAssignOperator(t *testing.T) {
	fixedClock(t)

	t.Run("inactive operator is a precondition failure", func(t *testing.T) {
		tx, mock := newTx(t)
		mock.ExpectQuery("SELECT usuario_id, estado FROM operadores").
			WithArgs(int64(9)).
			WillReturnRows(sqlmock.NewRows([]string{"usuario_id", "estado"}).AddRow(int64(30), "inactivo"))

		_, err := assignOperator("la PQRSFD", true)(context.Background(), tx, models.Record{"id": int64(1)},
			map[string]any{"operador_id": int64(9)})
		require.Error(t, err)
		assert.True(t, ierr.IsPreconditionFailed(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing operator is a field error", func(t *testing.T) {
		tx, mock := newTx(t)
		mock.ExpectQuery("SELECT usuario_id, estado FROM operadores").
			WillReturnRows(sqlmock.NewRows([]string{"usuario_id", "estado"}))

		_, err := assignOperator("la PQRSFD", true)(context.Background(), tx, models.Record{"id": int64(1)},
			map[string]any{"operador_id": int64(9)})
		assert.True(t, ierr.IsValidation(err))
		assert.Contains(t, ierr.FieldErrors(err), "operador_id")
	})

	t.Run("active operator is notified", func(t *testing.T) {
		tx, mock := newTx(t)
		mock.ExpectQuery("SELECT usuario_id, estado FROM operadores").
			WillReturnRows(sqlmock.NewRows([]string{"usuario_id", "estado"}).AddRow(int64(30), "activo"))
		mock.ExpectExec("INSERT INTO notificaciones").
			WithArgs(int64(30), "asignacion", "Nueva asignación", "Se le asignó la PQRSFD #1", NotificacionNoLeida).
			WillReturnResult(sqlmock.NewResult(1, 1))

		cols, err := assignOperator("la PQRSFD", true)(context.Background(), tx, models.Record{"id": int64(1)},
			map[string]any{"operador_id": int64(9)})
		require.NoError(t, err)
		assert.Equal(t, int64(9), cols["operador_id"])
		assert.Equal(t, now(), cols["fecha_asignacion"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unstamped resource omits fecha_asignacion", func(t *testing.T) {
		tx, mock := newTx(t)
		mock.ExpectQuery("SELECT usuario_id, estado FROM operadores").
			WillReturnRows(sqlmock.NewRows([]string{"usuario_id", "estado"}).AddRow(nil, "activo"))

		cols, err := assignOperator("la tarea", false)(context.Background(), tx, models.Record{"id": int64(2)},
			map[string]any{"operador_id": int64(9)})
		require.NoError(t, err)
		assert.NotContains(t, cols, "fecha_asignacion")
	})
}

func TestRadicate_TrackingNumber(t *testing.T) {
	fixedClock(t)
	tx, mock := newTx(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT nextval('pqrsfd_radicado_seq')")).
		WillReturnRows(sqlmock.NewRows([]string{"nextval"}).AddRow(int64(42)))

	cols, err := radicate("pqrsfd_radicado_seq", "RAD")(context.Background(), tx, models.Record{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "RAD-2025-000042", cols["numero_radicado"])
}

func TestNoOpenChildren(t *testing.T) {
	guard := noOpenChildren("tiene registros activos",
		childCheck{"tareas", "operador_id", openTareas},
		childCheck{"pqrsfd", "operador_id", openPQRSFD},
	)

	t.Run("open child blocks deletion", func(t *testing.T) {
		tx, mock := newTx(t)
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM tareas WHERE operador_id").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(2)))

		err := guard(context.Background(), tx, models.Record{"id": int64(5)}, nil)
		assert.True(t, ierr.IsPreconditionFailed(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no open children passes", func(t *testing.T) {
		tx, mock := newTx(t)
		mock.ExpectQuery("FROM tareas").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(0)))
		mock.ExpectQuery("FROM pqrsfd").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(0)))

		assert.NoError(t, guard(context.Background(), tx, models.Record{"id": int64(5)}, nil))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRejectionNeedsReason(t *testing.T) {
	err := rejectionNeedsReason(context.Background(), nil, nil, map[string]any{"estado": DonacionRechazado})
	assert.True(t, ierr.IsValidation(err))

	assert.NoError(t, rejectionNeedsReason(context.Background(), nil, nil,
		map[string]any{"estado": DonacionRechazado, "motivo_rechazo": "Comprobante ilegible"}))
	assert.NoError(t, rejectionNeedsReason(context.Background(), nil, nil, map[string]any{"estado": DonacionValidado}))
}

func TestGenerateReport_RequiresPeriod(t *testing.T) {
	_, err := generateReport(context.Background(), nil, models.Record{"id": int64(1)}, nil)
	assert.True(t, ierr.IsPreconditionFailed(err))
}
