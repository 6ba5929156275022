package sysmgmt

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mrlokans/crudkit/internal/auth"
	"github.com/mrlokans/crudkit/internal/logging"
	"github.com/mrlokans/crudkit/internal/models"
	"github.com/mrlokans/crudkit/internal/response"
	"github.com/mrlokans/crudkit/internal/rest"
	"github.com/mrlokans/crudkit/internal/status"
)

var accountDictOption = &models.ToDictOption{Cascade: models.Cascade(2)}

// AuthController serves login, logout, account and token refresh.
type AuthController struct {
	store   *Store
	access  *Access
	authn   *auth.Authenticator
	limiter *auth.RateLimiter
	cost    int
}

func NewAuthController(store *Store, access *Access, authn *auth.Authenticator, limiter *auth.RateLimiter, cost int) *AuthController {
	return &AuthController{store: store, access: access, authn: authn, limiter: limiter, cost: cost}
}

// RegisterRoutes adds the auth endpoints under r.
func (ac *AuthController) RegisterRoutes(r gin.IRoutes) {
	login := []gin.HandlerFunc{ac.Login}
	if ac.limiter != nil {
		login = append([]gin.HandlerFunc{ac.limiter.Middleware()}, login...)
	}
	r.POST("/auth/login", login...)
	r.POST("/auth/logout", ac.Logout)
	r.GET("/auth/account", rest.LoginRequired(), ac.Account)
	r.POST("/auth/token", rest.LoginRequired(), ac.RefreshToken)
}

// Login verifies username and password and answers with a bearer token.
// A session is started as well when sessions are configured.
func (ac *AuthController) Login(c *gin.Context) {
	req := response.RequestMap(c)
	username, _ := req["username"].(string)
	password, _ := req["password"].(string)
	if username == "" {
		username = c.PostForm("username")
		password = c.PostForm("password")
	}
	if username == "" || password == "" {
		response.Write(c, false, status.New(status.BadRequest.Key, "username and password are required"))
		return
	}

	ip := c.ClientIP()
	user, err := ac.store.UserByUsername(c.Request.Context(), username)
	switch {
	case errors.Is(err, ErrUserNotFound):
		ac.loginFailed(c, ip, username, status.AccountNotFound)
		return
	case err != nil:
		logging.L().Error("failed to load user", zap.String("username", username), zap.Error(err))
		response.Write(c, false, status.DBQueryErr)
		return
	}
	if err := auth.CheckPassword(password, user.Password); err != nil {
		ac.loginFailed(c, ip, username, status.AccountVerifyErr)
		return
	}
	if !user.Enabled() {
		ac.loginFailed(c, ip, username, status.AccountDisabled)
		return
	}

	if ac.limiter != nil {
		ac.limiter.RecordSuccess(ip, username)
	}
	if err := ac.store.TouchLogin(c.Request.Context(), user.ID, time.Now()); err != nil {
		logging.L().Warn("failed to record login time", zap.String("username", username), zap.Error(err))
	}
	ac.rehash(c, user, password)

	token, err := ac.authn.IssueToken(user.ID, user.Username)
	if err != nil {
		logging.L().Error("failed to issue token", zap.Error(err))
		response.Write(c, false, status.InternalServerError)
		return
	}
	if sessions := ac.authn.Sessions(); sessions != nil {
		if err := sessions.CreateSession(c.Request, user.ID, user.Username); err != nil {
			logging.L().Error("failed to create session", zap.Error(err))
			response.Write(c, false, status.InternalServerError)
			return
		}
	}

	auth.SetIdentity(c, &auth.Identity{UserID: user.ID, Username: user.Username, Type: auth.AuthTypeBearer})
	ac.access.LogOperation(c, rest.OperationLog{Module: ModuleAuth, Action: "login", Success: true, Request: username})
	logging.L().Info("user logged in", zap.String("username", username), zap.String("ip", ip))

	response.Write(c, true, gin.H{
		"token":      token,
		"token_type": "Bearer",
		"expires_in": int(ac.authn.Tokens().ExpiresIn() / time.Second),
		"user":       models.ToDict(user, nil),
	})
}

// rehash upgrades the stored hash after the bcrypt cost setting changed.
func (ac *AuthController) rehash(c *gin.Context, user *User, password string) {
	if !auth.NeedsRehash(user.Password, ac.cost) {
		return
	}
	hash, err := auth.HashPassword(password, ac.cost)
	if err == nil {
		err = ac.store.SetPasswordHash(c.Request.Context(), user.ID, hash)
	}
	if err != nil {
		logging.L().Warn("failed to rehash password", zap.String("username", user.Username), zap.Error(err))
	}
}

func (ac *AuthController) loginFailed(c *gin.Context, ip, username string, code status.Code) {
	if ac.limiter != nil {
		if locked, retryAfter := ac.limiter.RecordFailure(ip, username); locked {
			c.Header("Retry-After", strconv.Itoa(int(retryAfter/time.Second)))
			logging.L().Warn("login locked out", zap.String("username", username), zap.String("ip", ip))
		}
	}
	ac.access.LogOperation(c, rest.OperationLog{
		Module:   ModuleAuth,
		Action:   "login",
		Success:  false,
		Request:  username,
		Response: code.Key,
	})
	response.Write(c, false, code)
}

// Logout ends the session. Bearer tokens stay valid until they expire.
func (ac *AuthController) Logout(c *gin.Context) {
	if sessions := ac.authn.Sessions(); sessions != nil && sessions.IsAuthenticated(c.Request) {
		username := sessions.GetUsername(c.Request)
		if err := sessions.DestroySession(c.Request); err != nil {
			logging.L().Error("failed to destroy session", zap.Error(err))
			response.Write(c, false, status.InternalServerError)
			return
		}
		logging.L().Info("user logged out", zap.String("username", username))
	}
	response.Write(c, true, nil)
}

// Account returns the current user with role and permissions.
func (ac *AuthController) Account(c *gin.Context) {
	id := auth.CurrentIdentity(c)
	if id == nil {
		response.Write(c, false, status.URIUnauthorized)
		return
	}
	user, err := ac.store.UserByID(c.Request.Context(), id.UserID)
	if err != nil {
		response.Write(c, false, status.From(err, status.AccountNotFound))
		return
	}
	perms, err := ac.access.Permissions(c.Request.Context(), user.ID)
	if err != nil {
		response.Write(c, false, status.From(err, status.DBQueryErr))
		return
	}
	response.Write(c, true, gin.H{
		"user":        models.ToDict(user, accountDictOption),
		"permissions": perms,
		"auth_type":   string(id.Type),
	})
}

// RefreshToken issues a new token for the authenticated user.
func (ac *AuthController) RefreshToken(c *gin.Context) {
	id := auth.CurrentIdentity(c)
	if id == nil {
		response.Write(c, false, status.URIUnauthorized)
		return
	}
	token, err := ac.authn.IssueToken(id.UserID, id.Username)
	if err != nil {
		logging.L().Error("failed to issue token", zap.Error(err))
		response.Write(c, false, status.InternalServerError)
		return
	}
	response.Write(c, true, gin.H{
		"token":      token,
		"token_type": "Bearer",
		"expires_in": int(ac.authn.Tokens().ExpiresIn() / time.Second),
	})
}
