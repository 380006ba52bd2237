package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/consejo-social/veeduria/internal/db/models"
	ierr "github.com/consejo-social/veeduria/internal/errors"
)

// now is replaced in tests.
var now = time.Now

// Non-terminal states of the parent resources, used by deletion guards.
var (
	openPQRSFD    = []string{PQRSFDPendiente, PQRSFDEnProceso, PQRSFDRadicado}
	openVeedurias = []string{"pendiente", "en_proceso", "radicado"}
	openTareas    = []string{"pendiente", "en_proceso", "suspendida"}
)

// requireOperator refuses to radicate a case with no assigned operator.
func requireOperator(msg string) func(context.Context, *sqlx.Tx, models.Record, map[string]any) error {
	return func(_ context.Context, _ *sqlx.Tx, rec models.Record, _ map[string]any) error {
		if _, ok := rec.Int64("operador_id"); !ok {
			return ierr.NewPrecondition(msg)
		}
		return nil
	}
}

// activeOperator loads an operator inside tx and checks it can take work.
// It returns the account of the operator so a notification can be addressed.
func activeOperator(ctx context.Context, tx *sqlx.Tx, operadorID int64) (*int64, error) {
	var row struct {
		UsuarioID sql.NullInt64 `db:"usuario_id"`
		Estado    string        `db:"estado"`
	}
	err := tx.GetContext(ctx, &row, `SELECT usuario_id, estado FROM operadores WHERE id = $1`, operadorID)
	if err == sql.ErrNoRows {
		return nil, ierr.Field("operador_id", "El operador no existe")
	}
	if err != nil {
		return nil, ierr.WrapStore(err, "load operador")
	}
	if row.Estado != "activo" {
		return nil, ierr.NewPrecondition("El operador no está activo")
	}
	if !row.UsuarioID.Valid {
		return nil, nil
	}
	return &row.UsuarioID.Int64, nil
}

// notify creates an unread notification for a user inside tx.
func notify(ctx context.Context, tx *sqlx.Tx, usuarioID *int64, tipo, titulo, mensaje string) error {
	if usuarioID == nil {
		return nil
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO notificaciones (usuario_id, tipo, titulo, mensaje, estado) VALUES ($1, $2, $3, $4, $5)`,
		*usuarioID, tipo, titulo, mensaje, NotificacionNoLeida)
	return ierr.WrapStore(err, "insert notificacion")
}

// assignOperator builds the Apply hook shared by every "assign an operator"
// action. label names the record in the notification; stamped resources also
// record fecha_asignacion.
func assignOperator(label string, stamped bool) func(context.Context, *sqlx.Tx, models.Record, map[string]any) (map[string]any, error) {
	return func(ctx context.Context, tx *sqlx.Tx, rec models.Record, params map[string]any) (map[string]any, error) {
		operadorID, _ := params["operador_id"].(int64)
		usuarioID, err := activeOperator(ctx, tx, operadorID)
		if err != nil {
			return nil, err
		}
		msg := fmt.Sprintf("Se le asignó %s #%d", label, rec.ID())
		if err := notify(ctx, tx, usuarioID, "asignacion", "Nueva asignación", msg); err != nil {
			return nil, err
		}
		out := map[string]any{"operador_id": operadorID}
		if stamped {
			out["fecha_asignacion"] = now()
		}
		return out, nil
	}
}

// trackingNumber draws the next value of seq and formats it as PREFIX-YYYY-NNNNNN.
func trackingNumber(ctx context.Context, tx *sqlx.Tx, seq, prefix string) (string, error) {
	var n int64
	if err := tx.GetContext(ctx, &n, fmt.Sprintf("SELECT nextval('%s')", seq)); err != nil {
		return "", ierr.WrapStore(err, "next "+seq)
	}
	return fmt.Sprintf("%s-%d-%06d", prefix, now().Year(), n), nil
}

// radicate builds the Apply hook that files a case with a tracking number.
func radicate(seq, prefix string) func(context.Context, *sqlx.Tx, models.Record, map[string]any) (map[string]any, error) {
	return func(ctx context.Context, tx *sqlx.Tx, _ models.Record, _ map[string]any) (map[string]any, error) {
		numero, err := trackingNumber(ctx, tx, seq, prefix)
		if err != nil {
			return nil, err
		}
		return map[string]any{"numero_radicado": numero, "fecha_radicacion": now()}, nil
	}
}

// certify numbers a validated donation's certificate.
func certify(ctx context.Context, tx *sqlx.Tx, _ models.Record, _ map[string]any) (map[string]any, error) {
	numero, err := trackingNumber(ctx, tx, "donacion_certificado_seq", "CERT")
	if err != nil {
		return nil, err
	}
	return map[string]any{"numero_certificado": numero, "fecha_certificacion": now()}, nil
}

// stamp builds an Apply hook that sets a timestamp column and copies the
// listed params into columns of the same name.
func stamp(column string, params ...string) func(context.Context, *sqlx.Tx, models.Record, map[string]any) (map[string]any, error) {
	return func(_ context.Context, _ *sqlx.Tx, _ models.Record, in map[string]any) (map[string]any, error) {
		out := map[string]any{}
		if column != "" {
			out[column] = now()
		}
		for _, p := range params {
			if v, ok := in[p]; ok && v != nil {
				out[p] = v
			}
		}
		return out, nil
	}
}

// countOpen counts child rows of table whose column references id and whose
// estado is still open.
func countOpen(ctx context.Context, tx *sqlx.Tx, table, column string, id int64, states []string) (int64, error) {
	var n int64
	q := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s = $1 AND estado = ANY($2)`, table, column)
	if err := tx.GetContext(ctx, &n, q, id, pq.Array(states)); err != nil {
		return 0, ierr.WrapStore(err, "count "+table)
	}
	return n, nil
}

type childCheck struct {
	table  string
	column string
	states []string
}

// noOpenChildren refuses deletion while any listed child table holds an open row.
func noOpenChildren(msg string, checks ...childCheck) func(context.Context, *sqlx.Tx, models.Record, map[string]any) error {
	return func(ctx context.Context, tx *sqlx.Tx, rec models.Record, _ map[string]any) error {
		for _, c := range checks {
			n, err := countOpen(ctx, tx, c.table, c.column, rec.ID(), c.states)
			if err != nil {
				return err
			}
			if n > 0 {
				return ierr.NewPrecondition(msg)
			}
		}
		return nil
	}
}

// rejectionNeedsReason requires motivo_rechazo when a donation is rejected.
func rejectionNeedsReason(_ context.Context, _ *sqlx.Tx, _ models.Record, params map[string]any) error {
	if params["estado"] == DonacionRechazado {
		if s, _ := params["motivo_rechazo"].(string); s == "" {
			return ierr.Field("motivo_rechazo", "es obligatorio al rechazar una donación")
		}
	}
	return nil
}

// generateReport summarizes activity in the report's period into contenido.
func generateReport(ctx context.Context, tx *sqlx.Tx, rec models.Record, _ map[string]any) (map[string]any, error) {
	from, _ := rec["periodo_inicio"].(time.Time)
	to, _ := rec["periodo_fin"].(time.Time)
	if from.IsZero() || to.IsZero() {
		return nil, ierr.NewPrecondition("El reporte necesita un periodo de inicio y fin")
	}
	if to.Before(from) {
		return nil, ierr.NewPrecondition("El periodo del reporte es inválido")
	}
	end := to.AddDate(0, 0, 1)

	summary := map[string]any{
		"periodo": map[string]string{"inicio": from.Format("2006-01-02"), "fin": to.Format("2006-01-02")},
	}
	for _, table := range []string{"pqrsfd", "veedurias", "tareas", "donaciones"} {
		counts, err := countByState(ctx, tx, table, from, end)
		if err != nil {
			return nil, err
		}
		summary[table] = counts
	}

	var total sql.NullString
	err := tx.GetContext(ctx, &total,
		`SELECT COALESCE(SUM(monto), 0)::text FROM donaciones WHERE estado = ANY($1) AND created_at >= $2 AND created_at < $3`,
		pq.Array([]string{DonacionValidado, DonacionCertificado}), from, end)
	if err != nil {
		return nil, ierr.WrapStore(err, "sum donaciones")
	}
	summary["monto_donado"] = total.String

	contenido, err := json.Marshal(summary)
	if err != nil {
		return nil, err
	}
	return map[string]any{"contenido": string(contenido), "fecha_generacion": now()}, nil
}

func countByState(ctx context.Context, tx *sqlx.Tx, table string, from, to time.Time) (map[string]int64, error) {
	rows, err := tx.QueryxContext(ctx,
		fmt.Sprintf(`SELECT estado, COUNT(*) FROM %s WHERE created_at >= $1 AND created_at < $2 GROUP BY estado`, table),
		from, to)
	if err != nil {
		return nil, ierr.WrapStore(err, "count "+table)
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var estado string
		var n int64
		if err := rows.Scan(&estado, &n); err != nil {
			return nil, ierr.WrapStore(err, "scan "+table)
		}
		out[estado] = n
	}
	return out, ierr.WrapStore(rows.Err(), "iterate "+table)
}
