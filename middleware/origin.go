package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

// Origin rejects websocket upgrades on path whose Origin host is not in
// allowed. An empty allow list accepts every origin.
func Origin(path string, allowed []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet && c.Request.URL.Path == path && !OriginAllowed(c.GetHeader("Origin"), allowed) {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}

// OriginAllowed reports whether origin's host is in allowed. Requests
// without an Origin header (non-browser clients) are accepted.
func OriginAllowed(origin string, allowed []string) bool {
	if len(allowed) == 0 || origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, a := range allowed {
		if strings.EqualFold(strings.TrimSpace(a), u.Host) {
			return true
		}
	}
	return false
}
