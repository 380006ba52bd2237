package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"

	"github.com/consejo-social/veeduria/internal/audit"
	"github.com/consejo-social/veeduria/internal/auth"
	"github.com/consejo-social/veeduria/internal/config"
	"github.com/consejo-social/veeduria/internal/db/models"
	"github.com/consejo-social/veeduria/internal/db/repositories"
	ierr "github.com/consejo-social/veeduria/internal/errors"
	"github.com/consejo-social/veeduria/internal/resource"
)

// Audit actions recorded for sessions.
const (
	AuditLogin  = "login"
	AuditLogout = "logout"
)

const entityUsuario = "usuario"

// Session is the result of a successful login.
type Session struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expira_en"`
	User      *models.User `json:"usuario"`
}

// AuthService authenticates accounts and issues session tokens.
type AuthService struct {
	db     *sqlx.DB
	users  *repositories.UserRepository
	tokens *auth.TokenIssuer
	audit  *audit.Writer
	now    func() time.Time
}

// NewAuthService creates an AuthService.
func NewAuthService(db *sqlx.DB, tokens *auth.TokenIssuer, w *audit.Writer) *AuthService {
	return &AuthService{
		db:     db,
		users:  repositories.NewUserRepository(db),
		tokens: tokens,
		audit:  w,
		now:    time.Now,
	}
}

func invalidCredentials() error {
	return ierr.NewUnauthorized("Credenciales inválidas")
}

// Login verifies email and password and issues a token. origin carries the
// request ip and user agent for the audit entry. Unknown, inactive and
// mismatched accounts are indistinguishable to the caller.
func (a *AuthService) Login(ctx context.Context, email, password string, origin models.Actor) (*Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		v := ierr.NewValidation("")
		if email == "" {
			v.Add("email", "El email es obligatorio")
		}
		if password == "" {
			v.Add("password", "La contraseña es obligatoria")
		}
		return nil, v
	}

	user, err := a.users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.IsActive() || !auth.CheckPassword(password, user.PasswordHash) {
		slog.InfoContext(ctx, "login rejected", "email", email, "source_ip", origin.SourceIP)
		return nil, invalidCredentials()
	}

	actor := models.ActorForUser(user)
	actor.SourceIP, actor.UserAgent = origin.SourceIP, origin.UserAgent

	now := a.now()
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, ierr.WrapStore(err, "begin login")
	}
	defer tx.Rollback() // nolint:errcheck

	if err := a.users.TouchLastAccess(ctx, tx, user.ID, now); err != nil {
		return nil, err
	}
	entry := actor.Entry(AuditLogin, entityUsuario, user.ID)
	if err := a.audit.Record(ctx, tx, entry); err != nil {
		return nil, err
	}

	token, expires, err := a.tokens.Issue(user.ID, user.Email, user.Rol)
	if err != nil {
		return nil, errors.Wrap(err, "issue token")
	}
	if err := tx.Commit(); err != nil {
		return nil, ierr.WrapStore(err, "commit login")
	}
	a.audit.Publish(entry)

	user.UltimoAcceso = &now
	return &Session{Token: token, ExpiresAt: expires, User: user}, nil
}

// Logout records the end of a session. Tokens are stateless, so the client
// discards its copy.
func (a *AuthService) Logout(ctx context.Context, actor models.Actor) error {
	entry := actor.Entry(AuditLogout, entityUsuario, actor.ID)
	if err := a.audit.Record(ctx, a.db, entry); err != nil {
		return err
	}
	a.audit.Publish(entry)
	return nil
}

// Me returns the account behind an actor. A deleted or deactivated account
// is reported as unauthorized so its outstanding tokens stop working.
func (a *AuthService) Me(ctx context.Context, actor models.Actor) (*models.User, error) {
	user, err := a.users.GetUserByID(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.IsActive() {
		return nil, ierr.NewUnauthorized("La sesión ya no es válida")
	}
	return user, nil
}

// Authenticate resolves a bearer token to the actor it identifies. The
// account is reloaded on every call, so suspending, deleting or demoting a
// user takes effect before the token expires; the role comes from the stored
// row, not the claims.
func (a *AuthService) Authenticate(ctx context.Context, token string) (models.Actor, error) {
	claims, err := a.tokens.Parse(token)
	if err != nil {
		return models.Actor{}, ierr.NewUnauthorized("Token inválido o expirado")
	}
	user, err := a.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return models.Actor{}, err
	}
	if user == nil || !user.IsActive() {
		return models.Actor{}, ierr.NewUnauthorized("La sesión ya no es válida")
	}
	return models.ActorForUser(user), nil
}

// BootstrapAdmin creates the configured administrator when no active one
// exists. It reports whether an account was created.
func (a *AuthService) BootstrapAdmin(ctx context.Context, cfg config.BootstrapAdminConfig) (bool, error) {
	if cfg.Email == "" {
		return false, nil
	}
	n, err := a.users.CountAdministrators(ctx)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	if cfg.Password == "" {
		return false, ierr.Field("auth.bootstrap_admin.password", "es obligatoria para crear el administrador inicial")
	}

	hash, err := auth.HashPassword(cfg.Password)
	if err != nil {
		return false, errors.Wrap(err, "hash bootstrap password")
	}
	name := cfg.Name
	if name == "" {
		name = "Administrador"
	}
	user := &models.User{
		Nombre:       name,
		Email:        cfg.Email,
		PasswordHash: hash,
		Rol:          models.RoleAdministrator,
		Estado:       models.UserStateActive,
	}

	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, ierr.WrapStore(err, "begin bootstrap admin")
	}
	defer tx.Rollback() // nolint:errcheck

	if err := a.users.CreateUser(ctx, tx, user); err != nil {
		return false, err
	}
	entry := models.SystemActor().Entry(resource.AuditCreate, entityUsuario, user.ID)
	entry.Metadata = map[string]any{"bootstrap": true, "email": user.Email}
	if err := a.audit.Record(ctx, tx, entry); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, ierr.WrapStore(err, "commit bootstrap admin")
	}

	slog.Info("bootstrap administrator created", "email", user.Email, "id", user.ID)
	a.audit.Publish(entry)
	return true, nil
}
