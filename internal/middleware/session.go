package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/videopress/backend/internal/models"
)

const (
	// ContextSessionID is the key for the resolved session id in gin context.
	ContextSessionID = "session_id"
	// SessionCookie is the name of the session cookie.
	SessionCookie = "vp_session"
	// SessionHeader lets API clients pass the session without cookies.
	SessionHeader = "X-Session-ID"
)

// SessionResolver finds or creates the session named by a client token.
type SessionResolver interface {
	ResolveSession(token string) (models.Session, bool)
}

// CookieConfig controls the session cookie.
type CookieConfig struct {
	MaxAge time.Duration
	Secure bool
}

// Session resolves the caller's session from the cookie or header, creating one when
// missing, and refreshes the cookie on every response.
func Session(resolver SessionResolver, cfg CookieConfig) gin.HandlerFunc {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 7 * 24 * time.Hour
	}
	return func(c *gin.Context) {
		token := c.GetHeader(SessionHeader)
		if token == "" {
			token, _ = c.Cookie(SessionCookie)
		}
		sess, _ := resolver.ResolveSession(token)
		c.Set(ContextSessionID, sess.ID)
		SetSessionCookie(c, sess.ID, cfg)
		c.Header(SessionHeader, sess.ID)
		c.Next()
	}
}

// SetSessionCookie writes the session cookie. Handlers that replace the session call it directly.
func SetSessionCookie(c *gin.Context, id string, cfg CookieConfig) {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 7 * 24 * time.Hour
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, id, int(cfg.MaxAge.Seconds()), "/", "", cfg.Secure, true)
}

// SessionID returns the id stored by Session, or "" outside that middleware.
func SessionID(c *gin.Context) string {
	return c.GetString(ContextSessionID)
}
