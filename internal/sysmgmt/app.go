package sysmgmt

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/mikestefanello/backlite"
	"gorm.io/gorm"

	"github.com/mrlokans/crudkit/internal/auth"
	"github.com/mrlokans/crudkit/internal/config"
	"github.com/mrlokans/crudkit/internal/models"
	"github.com/mrlokans/crudkit/internal/rest"
	"github.com/mrlokans/crudkit/internal/tasks"
)

// Options are the dependencies of App.
type Options struct {
	Auth          config.Auth
	Cache         config.Cache
	Authenticator *auth.Authenticator
	// Limiter throttles failed logins. Nil disables throttling.
	Limiter *auth.RateLimiter
	// Tasks queues action log writes. Nil writes them synchronously.
	Tasks *tasks.Client
}

// App wires the management resources to a database.
type App struct {
	Store      *Store
	Users      *models.Repository[User]
	Roles      *models.Repository[Role]
	Modules    *models.Repository[Module]
	ActionLogs *models.Repository[ActionLog]
	Access     *Access
	Manager    *rest.Manager

	auth *AuthController
}

func New(db *gorm.DB, opts Options) (*App, error) {
	if opts.Authenticator == nil {
		return nil, fmt.Errorf("sysmgmt: authenticator is required")
	}
	store := NewStore(db)
	access := newAccess(opts.Auth.Mode, store, opts.Authenticator, opts.Tasks, opts.Cache.DefaultExpiry)

	users, err := models.NewRepository[User](db,
		models.WithHooks(&userHooks{cost: opts.Auth.BcryptCost, changed: access.InvalidatePermissions}),
		models.WithPreload("Role"),
	)
	if err != nil {
		return nil, err
	}

	rh := &roleHooks{changed: access.InvalidatePermissions}
	roles, err := models.NewRepository[Role](db, models.WithHooks(rh))
	if err != nil {
		return nil, err
	}
	rh.roles = roles

	modules, err := models.NewRepository[Module](db)
	if err != nil {
		return nil, err
	}
	actionLogs, err := models.NewRepository[ActionLog](db)
	if err != nil {
		return nil, err
	}

	manager := rest.NewManager().
		LoginCheck(access.LoginCheck).
		PermissionCheck(access.PermissionCheck).
		Logging(access.LogOperation)

	return &App{
		Store:      store,
		Users:      users,
		Roles:      roles,
		Modules:    modules,
		ActionLogs: actionLogs,
		Access:     access,
		Manager:    manager,
		auth:       NewAuthController(store, access, opts.Authenticator, opts.Limiter, opts.Auth.BcryptCost),
	}, nil
}

// TaskQueues returns the queues that persist and purge action logs.
func (a *App) TaskQueues() []backlite.Queue {
	return []backlite.Queue{
		tasks.NewWriteActionLogQueue(a.Store),
		tasks.NewCleanupActionLogsQueue(a.Store),
	}
}

// Register adds the auth API and the model routes under r. The manager
// must already be installed on the engine serving r.
func (a *App) Register(r *gin.RouterGroup) {
	a.auth.RegisterRoutes(r)

	rest.RegisterModelRoute(r, a.Users, "/users",
		rest.WithManager(a.Manager),
		rest.WithModule(ModuleUsers),
		rest.WithTypes(rest.TypeQuery, rest.TypePSS, rest.TypeAdd, rest.TypeUpdate, rest.TypeUpsert, rest.TypeDelete),
	)
	rest.RegisterModelRoute(r, a.Roles, "/roles",
		rest.WithManager(a.Manager),
		rest.WithModule(ModuleRoles),
		rest.WithMultiModels(
			rest.MultiModel{Field: "roles", Repo: a.Roles},
			rest.MultiModel{Field: "modules", Repo: a.Modules},
		),
	)
	rest.RegisterModelRoute(r, a.Modules, "/modules",
		rest.WithManager(a.Manager),
		rest.WithModule(ModuleRoles),
		rest.WithTypes(rest.TypeQuery),
	)
	rest.RegisterModelRoute(r, a.ActionLogs, "/action-logs",
		rest.WithManager(a.Manager),
		rest.WithModule(ModuleActionLogs),
		rest.WithTypes(rest.TypeQuery, rest.TypePSS),
	)
}
