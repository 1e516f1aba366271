package identity

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	ctxActorID     = "ledger_actor_id"
	ctxActorClaims = "ledger_actor_claims"

	// ActorHeader carries the actor id when authentication happens upstream.
	ActorHeader = "X-Actor-ID"
)

// RequireActor returns a Gin middleware that enforces a valid Bearer actor token.
// On success the actor id and claims are available via ActorFromCtx and ClaimsFromCtx.
func RequireActor(tokens *TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer actor token required",
			})
			return
		}

		claims, err := tokens.Verify(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token: " + err.Error(),
			})
			return
		}

		c.Set(ctxActorClaims, claims)
		c.Set(ctxActorID, claims.Subject)
		c.Next()
	}
}

// HeaderActor returns a Gin middleware that takes the actor id from the
// X-Actor-ID header. Use it only behind a gateway that has already
// authenticated the caller.
func HeaderActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := strings.TrimSpace(c.GetHeader(ActorHeader))
		if actor == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": ActorHeader + " header required",
			})
			return
		}
		c.Set(ctxActorID, actor)
		c.Next()
	}
}

// ActorFromCtx returns the actor id injected by RequireActor or HeaderActor.
func ActorFromCtx(c *gin.Context) string {
	return c.GetString(ctxActorID)
}

// ClaimsFromCtx returns the token claims injected by RequireActor, or nil.
func ClaimsFromCtx(c *gin.Context) *ActorClaims {
	v, _ := c.Get(ctxActorClaims)
	claims, _ := v.(*ActorClaims)
	return claims
}
