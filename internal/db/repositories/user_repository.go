// user_repository.go implements UserRepository, the account lookups used by
// login and the bootstrap of the first administrator.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/consejo-social/veeduria/internal/db/models"
	ierr "github.com/consejo-social/veeduria/internal/errors"
)

const userColumns = `id, nombre, email, password_hash, rol, estado, ultimo_acceso, created_at, updated_at`

// UserRepository handles account database operations
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetUserByEmail retrieves an account by email, ignoring case. It returns
// nil when no account matches.
func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM usuarios WHERE LOWER(email) = LOWER($1) AND estado <> 'eliminado'`
	return r.getOne(ctx, query, email)
}

// GetUserByID retrieves an account by id. It returns nil when no account matches.
func (r *UserRepository) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM usuarios WHERE id = $1`
	return r.getOne(ctx, query, id)
}

func (r *UserRepository) getOne(ctx context.Context, query string, arg any) (*models.User, error) {
	u := &models.User{}
	var lastAccess sql.NullTime
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&u.ID,
		&u.Nombre,
		&u.Email,
		&u.PasswordHash,
		&u.Rol,
		&u.Estado,
		&lastAccess,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, ierr.WrapStore(err, "get usuario")
	}
	if lastAccess.Valid {
		u.UltimoAcceso = &lastAccess.Time
	}
	return u, nil
}

// TouchLastAccess records a successful login inside tx.
func (r *UserRepository) TouchLastAccess(ctx context.Context, tx sqlx.ExecerContext, id int64, at time.Time) error {
	_, err := tx.ExecContext(ctx, `UPDATE usuarios SET ultimo_acceso = $1 WHERE id = $2`, at, id)
	return ierr.WrapStore(err, "touch usuario")
}

// CreateUser inserts an account inside tx and fills the generated fields.
func (r *UserRepository) CreateUser(ctx context.Context, tx sqlx.QueryerContext, u *models.User) error {
	query := `
		INSERT INTO usuarios (nombre, email, password_hash, rol, estado)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`
	err := tx.QueryRowxContext(ctx, query, u.Nombre, u.Email, u.PasswordHash, u.Rol, u.Estado).
		Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	return ierr.WrapStore(err, "create usuario")
}

// CountAdministrators returns the number of active administrator accounts.
func (r *UserRepository) CountAdministrators(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM usuarios WHERE rol = $1 AND estado = $2`,
		models.RoleAdministrator, models.UserStateActive)
	return n, ierr.WrapStore(err, "count administradores")
}
