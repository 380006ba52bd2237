// Package models - user.go defines the User model used for authentication, with the
// role values that decide which actor type an account acts as.
package models

import "time"

// Roles stored in usuarios.rol.
const (
	RoleClient        = "cliente"
	RoleOperator      = "operador"
	RoleAdministrator = "administrador"
)

// UserStateActive is the only estado allowed to log in.
const UserStateActive = "activo"

// User represents an account row of usuarios
type User struct {
	ID           int64      `json:"id"`
	Nombre       string     `json:"nombre"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Rol          string     `json:"rol"`
	Estado       string     `json:"estado"`
	UltimoAcceso *time.Time `json:"ultimo_acceso,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// IsActive reports whether the account may authenticate.
func (u *User) IsActive() bool {
	return u.Estado == UserStateActive
}

// IsAdministrator reports whether the account has the administrator role.
func (u *User) IsAdministrator() bool {
	return u.Rol == RoleAdministrator
}
