package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"campusicon/internal/model"
)

const identityKey = "identity"

// Authenticated enforces bearer JWT tokens signed with HS256 and stores the
// caller identity on the request context.
func Authenticated(signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(identityKey, claims.Identity())
		c.Next()
	}
}

// RequireLecturer rejects callers whose token does not carry the lecturer role.
func RequireLecturer() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := FromContext(c)
		if !ok || id.Role != model.RoleLecturer {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "lecturer role required"})
			return
		}
		c.Next()
	}
}

// FromContext returns the identity set by Authenticated.
func FromContext(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}
