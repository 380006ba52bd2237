// auth.go implements HTTP handlers for password login, logout and the current session.
package admin

import (
	"github.com/gin-gonic/gin"

	"github.com/consejo-social/veeduria/internal/api/response"
	ierr "github.com/consejo-social/veeduria/internal/errors"
	"github.com/consejo-social/veeduria/internal/middleware"
	"github.com/consejo-social/veeduria/internal/services"
)

// AuthHandlers handles authentication-related endpoints
type AuthHandlers struct {
	auth *services.AuthService
}

// NewAuthHandlers creates a new AuthHandlers instance
func NewAuthHandlers(a *services.AuthService) *AuthHandlers {
	return &AuthHandlers{auth: a}
}

// LoginRequest is the body of POST /auth/login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login handles POST /auth/login
func (h *AuthHandlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, ierr.Field("cuerpo", "debe ser un objeto JSON válido"))
		return
	}

	session, err := h.auth.Login(c.Request.Context(), req.Email, req.Password, middleware.ActorFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, session, "Inicio de sesión exitoso")
}

// Logout handles POST /auth/logout. Tokens are stateless; the logout is
// recorded and the client discards its token.
func (h *AuthHandlers) Logout(c *gin.Context) {
	if err := h.auth.Logout(c.Request.Context(), middleware.ActorFrom(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, nil, "Sesión cerrada exitosamente")
}

// Me handles GET /auth/me
func (h *AuthHandlers) Me(c *gin.Context) {
	user, err := h.auth.Me(c.Request.Context(), middleware.ActorFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, user, "Usuario autenticado")
}
