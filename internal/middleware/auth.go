// Package middleware provides the gin middleware shared by every route.
//
// Ordering is fixed in router.go:
//
//	Recovery → RequestID → Metrics → Logger → CORS → Security → Timeout → Actor → RateLimit → RBAC → Handler
//
// Security headers run early so they appear on error responses too. The
// general limiter keys on the account, so it runs after actor extraction;
// the login limiter has no account to key on and counts per IP.
package middleware

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/consejo-social/veeduria/internal/api/response"
	"github.com/consejo-social/veeduria/internal/auth"
	"github.com/consejo-social/veeduria/internal/db/models"
	ierr "github.com/consejo-social/veeduria/internal/errors"
)

// ActorKey is the gin.Context key holding the request's models.Actor.
const ActorKey = "actor"

// Authenticator resolves a bearer token to an actor.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (models.Actor, error)
}

// ActorMiddleware requires a valid bearer token and stores the actor, with
// the request ip and user agent, in the context.
func ActorMiddleware(a Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.ExtractBearerToken(c.GetHeader("Authorization"))
		if err != nil {
			response.Abort(c, ierr.NewUnauthorized("Se requiere autenticación"))
			return
		}

		actor, err := a.Authenticate(c.Request.Context(), token)
		if err != nil {
			response.Abort(c, err)
			return
		}

		setActor(c, actor)
		c.Next()
	}
}

func setActor(c *gin.Context, actor models.Actor) {
	actor.SourceIP = c.ClientIP()
	actor.UserAgent = c.Request.UserAgent()
	c.Set(ActorKey, actor)
	if actor.ID != 0 {
		c.Set("user_id", strconv.FormatInt(actor.ID, 10))
	}
}

// ActorFrom returns the actor stored by the actor middleware. Without one it
// returns an anonymous actor carrying only the request origin.
func ActorFrom(c *gin.Context) models.Actor {
	if v, ok := c.Get(ActorKey); ok {
		if actor, ok := v.(models.Actor); ok {
			return actor
		}
	}
	return models.Actor{SourceIP: c.ClientIP(), UserAgent: c.Request.UserAgent()}
}
