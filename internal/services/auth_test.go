package services

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/consejo-social/veeduria/internal/audit"
	"github.com/consejo-social/veeduria/internal/auth"
	"github.com/consejo-social/veeduria/internal/config"
	"github.com/consejo-social/veeduria/internal/db/models"
	"github.com/consejo-social/veeduria/internal/db/repositories"
	ierr "github.com/consejo-social/veeduria/internal/errors"
	"github.com/consejo-social/veeduria/internal/resource"
)

var userCols = []string{"id", "nombre", "email", "password_hash", "rol", "estado", "ultimo_acceso", "created_at", "updated_at"}

func newAuthService(t *testing.T) (*AuthService, sqlmock.Sqlmock, *auth.TokenIssuer) {
	t.Helper()
	db, mock := newSQLX(t)
	tokens, err := auth.NewTokenIssuer("test-jwt-secret-that-is-32-chars-!", "", time.Hour)
	require.NoError(t, err)
	w := audit.NewWriter(db, repositories.NewAuditRepository(db), nil, 30)
	return NewAuthService(db, tokens, w), mock, tokens
}

func userRow(t *testing.T, password, rol, estado string) *sqlmock.Rows {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return sqlmock.NewRows(userCols).
		AddRow(int64(3), "Ana", "ana@example.com", string(hash), rol, estado, nil, time.Now(), time.Now())
}

// ---------------------------------------------------------------------------
// Login
// ---------------------------------------------------------------------------

func TestLogin(t *testing.T) {
	svc, mock, tokens := newAuthService(t)
	origin := models.Actor{SourceIP: "10.1.1.1", UserAgent: "curl/8"}

	mock.ExpectQuery(`FROM usuarios WHERE LOWER\(email\) = LOWER\(\$1\)`).
		WithArgs("ana@example.com").
		WillReturnRows(userRow(t, "clave-segura", models.RoleOperator, models.UserStateActive))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE usuarios SET ultimo_acceso = \$1 WHERE id = \$2`).
		WithArgs(sqlmock.AnyArg(), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO audit_logs`).
		WithArgs(int64(3), models.ActorOperator, AuditLogin, "usuario", int64(3),
			nil, nil, nil, "10.1.1.1", "curl/8").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(1), time.Now()))
	mock.ExpectCommit()

	sess, err := svc.Login(context.Background(), " ana@example.com ", "clave-segura", origin)
	require.NoError(t, err)
	assert.NotNil(t, sess.User.UltimoAcceso)
	assert.WithinDuration(t, time.Now().Add(time.Hour), sess.ExpiresAt, time.Minute)

	claims, err := tokens.Parse(sess.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(3), claims.UserID)
	assert.Equal(t, models.RoleOperator, claims.Role)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogin_InvalidCredentials(t *testing.T) {
	tests := []struct {
		name     string
		rows     func(t *testing.T) *sqlmock.Rows
		password string
	}{
		{
			name:     "unknown email",
			rows:     func(*testing.T) *sqlmock.Rows { return sqlmock.NewRows(userCols) },
			password: "clave-segura",
		},
		{
			name: "wrong password",
			rows: func(t *testing.T) *sqlmock.Rows {
				return userRow(t, "clave-segura", models.RoleClient, models.UserStateActive)
			},
			password: "otra",
		},
		{
			name: "inactive account",
			rows: func(t *testing.T) *sqlmock.Rows {
				return userRow(t, "clave-segura", models.RoleClient, "inactivo")
			},
			password: "clave-segura",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, mock, _ := newAuthService(t)
			mock.ExpectQuery(`FROM usuarios WHERE LOWER\(email\)`).WillReturnRows(tt.rows(t))

			_, err := svc.Login(context.Background(), "ana@example.com", tt.password, models.Actor{})
			require.Error(t, err)
			assert.Equal(t, 401, ierr.HTTPStatus(err))
			assert.Equal(t, "Credenciales inválidas", ierr.DisplayMessage(err))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestLogin_MissingFields(t *testing.T) {
	svc, mock, _ := newAuthService(t)

	_, err := svc.Login(context.Background(), "", "", models.Actor{})
	fields := ierr.FieldErrors(err)
	assert.Contains(t, fields, "email")
	assert.Contains(t, fields, "password")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogin_AuditFailureRejectsLogin(t *testing.T) {
	svc, mock, _ := newAuthService(t)

	mock.ExpectQuery(`FROM usuarios WHERE LOWER\(email\)`).
		WillReturnRows(userRow(t, "clave-segura", models.RoleClient, models.UserStateActive))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE usuarios SET ultimo_acceso`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO audit_logs`).WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err := svc.Login(context.Background(), "ana@example.com", "clave-segura", models.Actor{})
	assert.True(t, ierr.IsAuditWrite(err), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// Session
// ---------------------------------------------------------------------------

func TestLogout(t *testing.T) {
	svc, mock, _ := newAuthService(t)
	expectAudit(mock, AuditLogout, "usuario")

	require.NoError(t, svc.Logout(context.Background(), client))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMe(t *testing.T) {
	svc, mock, _ := newAuthService(t)

	mock.ExpectQuery(`FROM usuarios WHERE id = \$1`).WithArgs(int64(3)).
		WillReturnRows(userRow(t, "x", models.RoleClient, models.UserStateActive))
	u, err := svc.Me(context.Background(), models.Actor{ID: 3, Type: models.ActorClient})
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", u.Email)

	mock.ExpectQuery(`FROM usuarios WHERE id = \$1`).WithArgs(int64(3)).
		WillReturnRows(userRow(t, "x", models.RoleClient, "eliminado"))
	_, err = svc.Me(context.Background(), models.Actor{ID: 3, Type: models.ActorClient})
	assert.Equal(t, 401, ierr.HTTPStatus(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuthenticate(t *testing.T) {
	svc, mock, tokens := newAuthService(t)
	token, _, err := tokens.Issue(3, "ana@example.com", models.RoleAdministrator)
	require.NoError(t, err)

	tests := []struct {
		name     string
		rol      string
		estado   string
		missing  bool
		wantType string
	}{
		{name: "active administrator", rol: models.RoleAdministrator, estado: models.UserStateActive, wantType: models.ActorAdministrator},
		{name: "demoted since the token was issued", rol: models.RoleClient, estado: models.UserStateActive, wantType: models.ActorClient},
		{name: "suspended", rol: models.RoleAdministrator, estado: "suspendido"},
		{name: "soft deleted", rol: models.RoleAdministrator, estado: "eliminado"},
		{name: "account gone", missing: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows := sqlmock.NewRows(userCols)
			if !tt.missing {
				rows = userRow(t, "x", tt.rol, tt.estado)
			}
			mock.ExpectQuery(`FROM usuarios WHERE id = \$1`).WithArgs(int64(3)).WillReturnRows(rows)

			actor, err := svc.Authenticate(context.Background(), token)
			if tt.wantType == "" {
				assert.Equal(t, 401, ierr.HTTPStatus(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, int64(3), actor.ID)
			assert.Equal(t, tt.wantType, actor.Type)
		})
	}

	_, err = svc.Authenticate(context.Background(), "garbage")
	assert.Equal(t, 401, ierr.HTTPStatus(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuthenticate_StoreError(t *testing.T) {
	svc, mock, tokens := newAuthService(t)
	token, _, err := tokens.Issue(3, "ana@example.com", models.RoleClient)
	require.NoError(t, err)
	mock.ExpectQuery(`FROM usuarios WHERE id = \$1`).WillReturnError(assert.AnError)

	_, err = svc.Authenticate(context.Background(), token)
	assert.True(t, ierr.IsStore(err))
}

// ---------------------------------------------------------------------------
// Bootstrap
// ---------------------------------------------------------------------------

func TestBootstrapAdmin(t *testing.T) {
	svc, mock, _ := newAuthService(t)
	cfg := config.BootstrapAdminConfig{Email: "admin@example.com", Password: "clave-inicial"}

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM usuarios WHERE rol = \$1 AND estado = \$2`).
		WithArgs(models.RoleAdministrator, models.UserStateActive).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(0)))
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO usuarios`).
		WithArgs("Administrador", "admin@example.com", sqlmock.AnyArg(), models.RoleAdministrator, models.UserStateActive).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(1), time.Now(), time.Now()))
	expectAudit(mock, resource.AuditCreate, "usuario")
	mock.ExpectCommit()

	created, err := svc.BootstrapAdmin(context.Background(), cfg)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBootstrapAdmin_Skipped(t *testing.T) {
	svc, mock, _ := newAuthService(t)

	created, err := svc.BootstrapAdmin(context.Background(), config.BootstrapAdminConfig{})
	require.NoError(t, err)
	assert.False(t, created)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM usuarios`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(1)))
	created, err = svc.BootstrapAdmin(context.Background(), config.BootstrapAdminConfig{Email: "a@b.co", Password: "x"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}
