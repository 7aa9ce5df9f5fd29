package httpx

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/MikeMC777/ordenes-credito/internal/identity"
)

const actorKey = "actor"

// Auth requires a bearer token signed with secret and puts the caller's
// Actor on both the gin context and the request context.
func Auth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		parts := strings.Split(c.GetHeader("Authorization"), " ")
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			Abort(c, http.StatusUnauthorized, "unauthorized", "missing or malformed authorization header")
			return
		}
		actor, err := identity.Parse(secret, parts[1])
		if err != nil {
			Abort(c, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		c.Set(actorKey, actor)
		c.Request = c.Request.WithContext(identity.WithActor(c.Request.Context(), actor))
		c.Next()
	}
}

// Actor returns the authenticated caller. Routes behind Auth always have one.
func Actor(c *gin.Context) identity.Actor {
	if v, ok := c.Get(actorKey); ok {
		if a, ok := v.(identity.Actor); ok {
			return a
		}
	}
	a, _ := identity.FromContext(c.Request.Context())
	return a
}
