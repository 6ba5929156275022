// Package rest registers JSON CRUD routes for model repositories on gin
// routers and runs the login, permission and operation log callbacks
// configured on a Manager.
package rest

import (
	"sort"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/mrlokans/crudkit/internal/response"
	"github.com/mrlokans/crudkit/internal/status"
)

const contextKey = "rest_manager"

type (
	// LoginCheckFunc returns nil when the request is authenticated.
	LoginCheckFunc func(c *gin.Context) error
	// PermissionCheckFunc returns nil when the request may perform action
	// on module. An empty action checks module access only.
	PermissionCheckFunc func(c *gin.Context, module, action string) error
	// LoggingFunc receives one entry per mutating operation.
	LoggingFunc func(c *gin.Context, op OperationLog)
)

// OperationLog describes one operation performed through the API.
type OperationLog struct {
	Module   string
	Action   string
	Success  bool
	Request  string
	Response string
}

// RouteInfo describes a registered model route.
type RouteInfo struct {
	Name   string `json:"name"`
	Method string `json:"method"`
	Path   string `json:"path"`
	Module string `json:"module"`
	Action string `json:"action"`
}

// Manager holds the callbacks used by model routes.
type Manager struct {
	mu              sync.RWMutex
	loginCheck      LoginCheckFunc
	permissionCheck PermissionCheckFunc
	logging         LoggingFunc
	routes          map[string]RouteInfo
}

var defaultManager = NewManager()

func NewManager() *Manager {
	return &Manager{routes: make(map[string]RouteInfo)}
}

// Default is the manager routes use when none was installed.
func Default() *Manager {
	return defaultManager
}

func (m *Manager) LoginCheck(fn LoginCheckFunc) *Manager {
	m.mu.Lock()
	m.loginCheck = fn
	m.mu.Unlock()
	return m
}

func (m *Manager) PermissionCheck(fn PermissionCheckFunc) *Manager {
	m.mu.Lock()
	m.permissionCheck = fn
	m.mu.Unlock()
	return m
}

func (m *Manager) Logging(fn LoggingFunc) *Manager {
	m.mu.Lock()
	m.logging = fn
	m.mu.Unlock()
	return m
}

// Install makes m the manager of every request served by engine.
func (m *Manager) Install(engine *gin.Engine) {
	engine.Use(func(c *gin.Context) {
		c.Set(contextKey, m)
		c.Next()
	})
}

// FromContext returns the installed manager, or Default.
func FromContext(c *gin.Context) *Manager {
	if c != nil {
		if v, ok := c.Get(contextKey); ok {
			if m, ok := v.(*Manager); ok {
				return m
			}
		}
	}
	return defaultManager
}

// Routes lists the model routes registered with this manager, sorted by
// endpoint name.
func (m *Manager) Routes() []RouteInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RouteInfo, 0, len(m.routes))
	for _, r := range m.routes {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Path < out[j].Path
	})
	return out
}

func (m *Manager) addRoute(info RouteInfo) {
	m.mu.Lock()
	m.routes[info.Method+" "+info.Path] = info
	m.mu.Unlock()
}

func (m *Manager) checkLogin(c *gin.Context) error {
	m.mu.RLock()
	fn := m.loginCheck
	m.mu.RUnlock()
	if fn == nil {
		return nil
	}
	return fn(c)
}

func (m *Manager) checkPermission(c *gin.Context, module, action string) error {
	m.mu.RLock()
	fn := m.permissionCheck
	m.mu.RUnlock()
	if fn == nil {
		return nil
	}
	return fn(c, module, action)
}

// LoginRequired aborts with the login check's failure code when the
// request is not authenticated.
func LoginRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := FromContext(c).checkLogin(c); err != nil {
			response.Abort(c, status.From(err, status.URIUnauthorized))
			return
		}
		c.Next()
	}
}

// PermissionRequired aborts with the permission check's failure code when
// the request may not perform action on module.
func PermissionRequired(module, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := FromContext(c).checkPermission(c, module, action); err != nil {
			response.Abort(c, status.From(err, status.URIForbidden))
			return
		}
		c.Next()
	}
}

// LogOperation passes an operation to the installed logging callback.
// Request and response values that are not strings are rendered as JSON.
func LogOperation(c *gin.Context, module, action string, ok bool, req, res any) {
	m := FromContext(c)
	m.mu.RLock()
	fn := m.logging
	m.mu.RUnlock()
	if fn == nil {
		return
	}
	fn(c, OperationLog{
		Module:   module,
		Action:   action,
		Success:  ok,
		Request:  logString(req),
		Response: logString(res),
	})
}
