package identity

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ctxClaims is the gin context key under which RequireAuth stores the
// verified session claims.
const ctxClaims = "redoubt_claims"

// RequireAuth returns a Gin middleware that enforces a valid Bearer
// session token.
//
// On success it injects the *Claims into the context for ClaimsFrom.
func RequireAuth(tokens *TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer token required",
			})
			return
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		claims, err := tokens.Verify(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token: " + err.Error(),
			})
			return
		}

		c.Set(ctxClaims, claims)
		c.Next()
	}
}

// ClaimsFrom retrieves the session claims injected by RequireAuth.
// Returns nil if no valid token is present in the context.
func ClaimsFrom(c *gin.Context) *Claims {
	v, _ := c.Get(ctxClaims)
	claims, _ := v.(*Claims)
	return claims
}
