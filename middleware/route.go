package middleware

import (
	midsec "PRelay/middleware/security"
	"PRelay/tools/security"

	"github.com/gin-gonic/gin"
)

// RouteOpt configures a single route.
type RouteOpt struct {
	// Auth, when set, requires a bearer token signed with these options.
	Auth *security.Options
	// Scope the token must grant; empty accepts any valid token.
	Scope string
}

func (o RouteOpt) handlers(h gin.HandlerFunc) []gin.HandlerFunc {
	if o.Auth == nil {
		return []gin.HandlerFunc{h}
	}
	return []gin.HandlerFunc{midsec.Middleware(&midsec.Options{Token: *o.Auth, Scope: o.Scope}), h}
}

// POST registers handler behind the options in opt.
func POST(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.POST(path, opt.handlers(handler)...)
}

func GET(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.GET(path, opt.handlers(handler)...)
}
