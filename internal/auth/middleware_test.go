package auth

import (
	"crypto/tls"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlokans/crudkit/internal/config"
	"github.com/mrlokans/crudkit/internal/response"
)

var csrfSecret = []byte("0123456789abcdef0123456789abcdef")

func decodeJSON(w *httptest.ResponseRecorder, v any) error {
	return json.Unmarshal(w.Body.Bytes(), v)
}

func setupCSRFRouter(skip func(*gin.Context) bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(response.NewManager(config.Response{StatusMapping: true}).Install())
	r.Use(CSRFMiddleware(csrfSecret, false, skip))
	r.GET("/form", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"token": GetCSRFToken(c)})
	})
	r.POST("/submit", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.POST("/webhook", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func TestCSRFMiddleware(t *testing.T) {
	r := setupCSRFRouter(func(c *gin.Context) bool { return c.Request.URL.Path == "/webhook" })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/form", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var cookies []*http.Cookie
	cookies = append(cookies, w.Result().Cookies()...)
	require.NotEmpty(t, cookies)

	var body struct{ Token string }
	require.NoError(t, decodeJSON(w, &body))
	require.NotEmpty(t, body.Token)

	t.Run("missing token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/submit", nil)
		for _, c := range cookies {
			req.AddCookie(c)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), "uri_forbidden")
	})

	t.Run("valid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/submit", nil)
		req.Header.Set(CSRFTokenHeader, body.Token)
		for _, c := range cookies {
			req.AddCookie(c)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("bearer request skipped", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/submit", nil)
		req.Header.Set("Authorization", "Bearer abc")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("skip func", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(SecurityHeadersMiddleware(), StrictTransportSecurityMiddleware(0))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Contains(t, w.Header().Get("Content-Security-Policy"), "default-src 'none'")
	assert.Contains(t, w.Header().Get("Permissions-Policy"), "camera=()")
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.TLS = &tls.ConnectionState{}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "max-age=31536000; includeSubDomains", w.Header().Get("Strict-Transport-Security"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.NotEmpty(t, w.Header().Get("Strict-Transport-Security"))
}

func TestAuthenticator_Bearer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s, err := NewSerializer(testSecret, "HS512", time.Hour)
	require.NoError(t, err)
	authn := NewAuthenticator(s, nil)

	token, err := authn.IssueToken(42, "alice")
	require.NoError(t, err)

	newCtx := func(header string) *gin.Context {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			c.Request.Header.Set("Authorization", header)
		}
		return c
	}

	id, err := authn.Authenticate(newCtx("Bearer " + token))
	require.NoError(t, err)
	assert.Equal(t, &Identity{UserID: 42, Username: "alice", Type: AuthTypeBearer}, id)

	_, err = authn.Authenticate(newCtx("Bearer garbage"))
	assert.ErrorIs(t, err, ErrBadSignature)

	_, err = authn.Authenticate(newCtx(""))
	assert.ErrorIs(t, err, ErrAuthRequired)

	noUser, err := s.Dumps(map[string]any{"username": "ghost"})
	require.NoError(t, err)
	_, err = authn.Authenticate(newCtx("Bearer " + noUser))
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestIdentityContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	assert.Nil(t, CurrentIdentity(c))
	assert.Zero(t, GetUserID(c))
	assert.Empty(t, GetUsername(c))

	want := &Identity{UserID: 3, Username: "carol", Type: AuthTypeSession}
	SetIdentity(c, want)
	assert.Equal(t, want, CurrentIdentity(c))
	assert.Equal(t, uint(3), GetUserID(c))
	assert.Equal(t, "carol", GetUsername(c))
}
