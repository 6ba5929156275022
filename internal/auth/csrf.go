package auth

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/csrf"
	"go.uber.org/zap"

	"github.com/mrlokans/crudkit/internal/logging"
	"github.com/mrlokans/crudkit/internal/response"
	"github.com/mrlokans/crudkit/internal/status"
)

// CSRFTokenHeader is the header carrying the CSRF token on unsafe requests.
const CSRFTokenHeader = "X-CSRF-Token"

const csrfTokenKey = "csrf_token"

type ginContextKey struct{}

// CSRFMiddleware protects session authenticated requests against CSRF.
// Requests carrying a bearer token are skipped, as are requests for which
// skip returns true. Safe methods pass and receive a token in the context.
func CSRFMiddleware(secret []byte, secure bool, skip func(*gin.Context) bool) gin.HandlerFunc {
	protect := csrf.Protect(
		secret,
		csrf.Secure(secure),
		csrf.HttpOnly(true),
		csrf.SameSite(csrf.SameSiteStrictMode),
		csrf.Path("/"),
		csrf.RequestHeader(CSRFTokenHeader),
		csrf.ErrorHandler(http.HandlerFunc(csrfErrorHandler)),
	)

	return func(c *gin.Context) {
		if IsBearerRequest(c) || (skip != nil && skip(c)) {
			c.Next()
			return
		}

		r := c.Request.WithContext(context.WithValue(c.Request.Context(), ginContextKey{}, c))
		if !secure {
			r = csrf.PlaintextHTTPRequest(r)
		}

		handler := protect(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c.Set(csrfTokenKey, csrf.Token(r))
			c.Request = r
			c.Next()
		}))
		handler.ServeHTTP(c.Writer, r)
	}
}

func csrfErrorHandler(w http.ResponseWriter, r *http.Request) {
	logging.L().Warn("csrf validation failed",
		zap.String("path", r.URL.Path),
		zap.Error(csrf.FailureReason(r)),
	)
	if c, ok := r.Context().Value(ginContextKey{}).(*gin.Context); ok {
		response.Abort(c, status.URIForbidden)
		return
	}
	http.Error(w, status.URIForbidden.Message, http.StatusForbidden)
}

// GetCSRFToken returns the CSRF token stored by CSRFMiddleware.
func GetCSRFToken(c *gin.Context) string {
	return c.GetString(csrfTokenKey)
}
