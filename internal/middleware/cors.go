package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	corsMethods = "GET, POST, DELETE, OPTIONS"
	corsMaxAge  = "86400"
)

type corsPolicy struct {
	any     bool
	origins map[string]struct{}
}

func newCORSPolicy(allowed string) corsPolicy {
	p := corsPolicy{origins: make(map[string]struct{})}
	for _, o := range strings.Split(allowed, ",") {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		switch o {
		case "":
		case "*":
			p.any = true
		default:
			p.origins[o] = struct{}{}
		}
	}
	if len(p.origins) == 0 {
		p.any = true
	}
	return p
}

// allow returns the Access-Control-Allow-Origin value for origin, or "" to refuse it.
func (p corsPolicy) allow(origin string) string {
	if origin != "" {
		if _, ok := p.origins[origin]; ok {
			return origin
		}
	}
	if p.any {
		return "*"
	}
	return ""
}

// CORS answers cross-origin requests from the comma-separated allowedOrigins ("*" for any).
// Listed origins may send the session cookie; the wildcard only gets the X-Session-ID header.
// Preflights from unlisted origins are refused with 403.
func CORS(allowedOrigins string) gin.HandlerFunc {
	policy := newCORSPolicy(allowedOrigins)
	allowHeaders := "Content-Type, " + SessionHeader
	exposeHeaders := SessionHeader + ", Content-Disposition"

	return func(c *gin.Context) {
		allowed := policy.allow(c.GetHeader("Origin"))
		h := c.Writer.Header()
		if allowed != "" {
			h.Set("Access-Control-Allow-Origin", allowed)
			h.Set("Access-Control-Expose-Headers", exposeHeaders)
			if allowed != "*" {
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Add("Vary", "Origin")
			}
		}

		if c.Request.Method != http.MethodOptions {
			c.Next()
			return
		}
		if allowed == "" {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		h.Set("Access-Control-Allow-Methods", corsMethods)
		h.Set("Access-Control-Allow-Headers", allowHeaders)
		h.Set("Access-Control-Max-Age", corsMaxAge)
		c.AbortWithStatus(http.StatusNoContent)
	}
}
