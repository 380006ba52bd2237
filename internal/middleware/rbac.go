// Package middleware (rbac.go) gates route groups by actor type.
//
// Per-resource read and write rules live in the resource schemas and are
// enforced by the services. These guards cover the administrative routes
// that have no schema behind them.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/consejo-social/veeduria/internal/api/response"
	"github.com/consejo-social/veeduria/internal/db/models"
	ierr "github.com/consejo-social/veeduria/internal/errors"
)

// RequireActorType allows only the listed actor types.
func RequireActorType(types ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := ActorFrom(c)
		if actor.ID == 0 {
			response.Abort(c, ierr.NewUnauthorized("Se requiere autenticación"))
			return
		}
		if !lo.Contains(types, actor.Type) {
			response.Abort(c, ierr.NewForbidden("No tiene permisos para realizar esta acción"))
			return
		}
		c.Next()
	}
}

// RequireAdmin allows administrators only.
func RequireAdmin() gin.HandlerFunc {
	return RequireActorType(models.ActorAdministrator)
}

// RequireStaff allows operators and administrators.
func RequireStaff() gin.HandlerFunc {
	return RequireActorType(models.ActorOperator, models.ActorAdministrator)
}
