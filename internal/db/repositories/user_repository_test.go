package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consejo-social/veeduria/internal/db/models"
	ierr "github.com/consejo-social/veeduria/internal/errors"
)

var userCols = []string{"id", "nombre", "email", "password_hash", "rol", "estado", "ultimo_acceso", "created_at", "updated_at"}

func newUserRepo(t *testing.T) (*UserRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newSQLX(t)
	t.Cleanup(func() { assert.NoError(t, mock.ExpectationsWereMet()) })
	return NewUserRepository(db), mock
}

func TestUserLookup(t *testing.T) {
	seen := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		lastAccess any
		lookup     func(*UserRepository) (*models.User, error)
		query      string
		arg        any
	}{
		{
			name:       "by email ignores case and deleted accounts",
			lastAccess: nil,
			lookup: func(r *UserRepository) (*models.User, error) {
				return r.GetUserByEmail(context.Background(), "Ana@Example.com")
			},
			query: `FROM usuarios WHERE LOWER\(email\) = LOWER\(\$1\) AND estado <> 'eliminado'`,
			arg:   "Ana@Example.com",
		},
		{
			name:       "by id",
			lastAccess: seen,
			lookup: func(r *UserRepository) (*models.User, error) {
				return r.GetUserByID(context.Background(), 7)
			},
			query: `FROM usuarios WHERE id = \$1`,
			arg:   int64(7),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newUserRepo(t)
			mock.ExpectQuery(tt.query).WithArgs(tt.arg).WillReturnRows(
				sqlmock.NewRows(userCols).AddRow(int64(7), "Ana", "ana@example.com", "$2a$10$hash",
					"administrador", "activo", tt.lastAccess, seen, seen))

			u, err := tt.lookup(repo)
			require.NoError(t, err)
			require.NotNil(t, u)
			assert.Equal(t, int64(7), u.ID)
			assert.True(t, u.IsAdministrator())
			assert.True(t, u.IsActive())
			if tt.lastAccess == nil {
				assert.Nil(t, u.UltimoAcceso)
			} else {
				require.NotNil(t, u.UltimoAcceso)
				assert.Equal(t, seen, *u.UltimoAcceso)
			}
		})
	}
}

func TestUserLookup_NoMatchIsNil(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectQuery("FROM usuarios WHERE id").WithArgs(int64(404)).WillReturnRows(sqlmock.NewRows(userCols))

	u, err := repo.GetUserByID(context.Background(), 404)
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestUserLookup_StoreError(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectQuery("FROM usuarios WHERE id").WillReturnError(errDB)

	_, err := repo.GetUserByID(context.Background(), 1)
	assert.True(t, ierr.IsStore(err))
	assert.ErrorContains(t, err, "db error")
}

func TestTouchLastAccess(t *testing.T) {
	repo, mock := newUserRepo(t)
	at := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	mock.ExpectExec(`UPDATE usuarios SET ultimo_acceso = \$1 WHERE id = \$2`).
		WithArgs(at, int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, repo.TouchLastAccess(context.Background(), repo.db, 3, at))
}

func TestCreateUser(t *testing.T) {
	repo, mock := newUserRepo(t)
	created := time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)
	mock.ExpectQuery("INSERT INTO usuarios").
		WithArgs("Admin", "admin@example.com", "hash", models.RoleAdministrator, models.UserStateActive).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(1), created, created))

	u := &models.User{Nombre: "Admin", Email: "admin@example.com", PasswordHash: "hash",
		Rol: models.RoleAdministrator, Estado: models.UserStateActive}
	require.NoError(t, repo.CreateUser(context.Background(), repo.db, u))
	assert.Equal(t, int64(1), u.ID)
	assert.Equal(t, created, u.CreatedAt)
}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectQuery("INSERT INTO usuarios").
		WillReturnError(&pq.Error{Code: "23505", Detail: "Key (email)=(admin@example.com) already exists."})

	err := repo.CreateUser(context.Background(), repo.db, &models.User{Email: "admin@example.com"})
	require.Error(t, err)
	assert.True(t, ierr.IsValidation(err))
	assert.Contains(t, ierr.FieldErrors(err), "email")
}

func TestCountAdministrators(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM usuarios WHERE rol = \$1 AND estado = \$2`).
		WithArgs(models.RoleAdministrator, models.UserStateActive).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(2)))

	n, err := repo.CountAdministrators(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
