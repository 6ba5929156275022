package http

import (
	"github.com/mrlokans/crudkit/internal/auth"
	"github.com/mrlokans/crudkit/internal/config"
	"github.com/mrlokans/crudkit/internal/database"
	"github.com/mrlokans/crudkit/internal/forward"
	"github.com/mrlokans/crudkit/internal/metrics"
	"github.com/mrlokans/crudkit/internal/sysmgmt"
	"github.com/mrlokans/crudkit/internal/tasks"
)

// RouterConfig contains all dependencies and configuration needed
// to create the HTTP router.
type RouterConfig struct {
	Config   *config.Config
	Database *database.Database
	Version  string

	// Metrics, when set, counts requests and serves /metrics.
	Metrics *metrics.Metrics

	// App serves the auth API and the management resources under /api.
	App *sysmgmt.App

	// Sessions enables cookie logins. CSRF protection applies to session
	// requests only, so CSRFSecret is ignored without it.
	Sessions   *auth.SessionManager
	CSRFSecret []byte

	// Task queue client (optional)
	TaskClient *tasks.Client

	// Proxies maps a name to the base URL requests under /proxy/<name>
	// are forwarded to.
	Proxies     map[string]string
	ProxyClient *forward.Client
}
