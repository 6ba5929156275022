package sysmgmt

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mrlokans/crudkit/internal/auth"
	"github.com/mrlokans/crudkit/internal/cache"
	"github.com/mrlokans/crudkit/internal/config"
	"github.com/mrlokans/crudkit/internal/logging"
	"github.com/mrlokans/crudkit/internal/rest"
	"github.com/mrlokans/crudkit/internal/status"
	"github.com/mrlokans/crudkit/internal/tasks"
)

const defaultPermissionExpiry = time.Minute

// Access implements the login, permission and logging callbacks of the
// rest manager.
type Access struct {
	mode   config.AuthMode
	store  *Store
	authn  *auth.Authenticator
	tasks  *tasks.Client
	perms  *cache.AppCache
	expiry time.Duration
}

func newAccess(mode config.AuthMode, store *Store, authn *auth.Authenticator, taskClient *tasks.Client, expiry time.Duration) *Access {
	if expiry <= 0 {
		expiry = defaultPermissionExpiry
	}
	return &Access{
		mode:   mode,
		store:  store,
		authn:  authn,
		tasks:  taskClient,
		perms:  cache.New(),
		expiry: expiry,
	}
}

func (a *Access) enabled() bool {
	return a.mode != config.AuthModeNone
}

// LoginCheck authenticates the request by bearer token or session and
// stores the identity in the context.
func (a *Access) LoginCheck(c *gin.Context) error {
	if !a.enabled() || auth.CurrentIdentity(c) != nil {
		return nil
	}

	id, err := a.authn.Authenticate(c)
	if err != nil {
		if !errors.Is(err, auth.ErrAuthRequired) {
			logging.L().Debug("authentication failed", zap.Error(err))
		}
		return status.URIUnauthorized
	}

	user, err := a.store.UserByID(c.Request.Context(), id.UserID)
	if errors.Is(err, ErrUserNotFound) {
		return status.AccountNotFound
	}
	if err != nil {
		logging.L().Error("failed to load user", zap.Uint("user_id", id.UserID), zap.Error(err))
		return status.DBQueryErr
	}
	if !user.Enabled() {
		return status.AccountDisabled
	}

	auth.SetIdentity(c, id)
	return nil
}

// PermissionCheck authenticates the request when needed and checks the
// role of the user. An empty module only requires a login.
func (a *Access) PermissionCheck(c *gin.Context, module, action string) error {
	if !a.enabled() {
		return nil
	}
	if err := a.LoginCheck(c); err != nil {
		return err
	}
	if module == "" {
		return nil
	}

	perms, err := a.requestPermissions(c)
	if err != nil {
		return status.From(err, status.URIForbidden)
	}
	if !perms.Allows(module, action) {
		logging.L().Info("permission denied",
			zap.String("username", auth.GetUsername(c)),
			zap.String("module", module),
			zap.String("action", action),
		)
		return status.URIForbidden
	}
	return nil
}

// Permissions returns the cached permissions of a user.
func (a *Access) Permissions(ctx context.Context, userID uint) (*Permissions, error) {
	key := strconv.FormatUint(uint64(userID), 10)
	if p, ok := cache.GetAs[*Permissions](a.perms, key); ok {
		return p, nil
	}
	p, err := a.store.Permissions(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, status.AccountNotFound
	}
	if err != nil {
		return nil, err
	}
	a.perms.Set(key, p, a.expiry)
	return p, nil
}

const permissionsRequestKey = "permissions"

func (a *Access) requestPermissions(c *gin.Context) (*Permissions, error) {
	if v, ok := cache.GetRequestCache(c, permissionsRequestKey); ok {
		return v.(*Permissions), nil
	}
	p, err := a.Permissions(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		return nil, err
	}
	cache.SetRequestCache(c, permissionsRequestKey, p)
	return p, nil
}

// InvalidatePermissions drops every cached permission set.
func (a *Access) InvalidatePermissions() {
	a.perms.Clear()
}

// LogOperation writes an action log entry through the task queue, or
// directly when no queue runs.
func (a *Access) LogOperation(c *gin.Context, op rest.OperationLog) {
	entry := tasks.WriteActionLogTask{
		Username:  auth.GetUsername(c),
		Module:    op.Module,
		Action:    op.Action,
		Success:   op.Success,
		Request:   op.Request,
		Response:  op.Response,
		IP:        c.ClientIP(),
		CreatedAt: time.Now(),
	}
	ctx := context.WithoutCancel(c.Request.Context())
	if err := tasks.EnqueueActionLog(ctx, a.tasks, a.store, entry); err != nil {
		logging.L().Error("failed to write action log",
			zap.String("module", op.Module),
			zap.String("action", op.Action),
			zap.Error(err),
		)
	}
}
