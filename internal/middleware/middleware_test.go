package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/videopress/backend/internal/models"
)

type fakeResolver struct {
	known map[string]bool
	next  string
}

func (f *fakeResolver) ResolveSession(token string) (models.Session, bool) {
	if f.known[token] {
		return models.Session{ID: token}, false
	}
	return models.Session{ID: f.next}, true
}

func newRouter(resolver SessionResolver, cfg CookieConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS("http://localhost:3000"), Session(resolver, cfg), Logger(zap.NewNop()))
	r.GET("/whoami", func(c *gin.Context) { c.String(http.StatusOK, SessionID(c)) })
	return r
}

func TestSessionCreatesCookie(t *testing.T) {
	r := newRouter(&fakeResolver{next: "new_session"}, CookieConfig{Secure: true})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "new_session", w.Body.String())
	assert.Equal(t, "new_session", w.Header().Get(SessionHeader))

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, SessionCookie, c.Name)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.Equal(t, int((7 * 24 * time.Hour).Seconds()), c.MaxAge)
}

func TestSessionHeaderWinsOverCookie(t *testing.T) {
	r := newRouter(&fakeResolver{known: map[string]bool{"from_header": true, "from_cookie": true}}, CookieConfig{})
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(SessionHeader, "from_header")
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "from_cookie"})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "from_header", w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "from_cookie"})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "from_cookie", w.Body.String())
}

func TestCORSCredentialsForListedOrigin(t *testing.T) {
	r := newRouter(&fakeResolver{next: "s"}, CookieConfig{})
	req := httptest.NewRequest(http.MethodOptions, "/whoami", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), SessionHeader)
}

func TestCORSRefusesUnlistedPreflight(t *testing.T) {
	r := newRouter(&fakeResolver{next: "s"}, CookieConfig{})
	req := httptest.NewRequest(http.MethodOptions, "/whoami", nil)
	req.Header.Set("Origin", "http://evil.example")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSWildcard(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS("*"))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "http://anywhere.example")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
}
