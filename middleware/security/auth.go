package security

import (
	"net/http"

	"PRelay/logger"
	"PRelay/tools/security"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Context keys set for authenticated requests.
const (
	CtxClaimsKey    = "claims"    // *security.Claims
	CtxTokenHashKey = "tokenHash" // string
)

type Options struct {
	Token security.Options
	Scope string
}

// Middleware verifies "Authorization: Bearer <jwt>" and aborts with 401
// (bad or missing token) or 403 (missing scope).
func Middleware(opts *Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := security.BearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := security.Verify(opts.Token, token)
		if err != nil {
			logger.Warn("rejected token", zap.String("path", c.FullPath()), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if opts.Scope != "" && !claims.HasScope(opts.Scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient scope"})
			return
		}

		c.Set(CtxClaimsKey, claims)
		c.Set(CtxTokenHashKey, security.HashToken(token))
		c.Next()
	}
}

// ClaimsFrom returns the claims stored by Middleware.
func ClaimsFrom(c *gin.Context) (*security.Claims, bool) {
	v, ok := c.Get(CtxClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*security.Claims)
	return claims, ok
}
