package sysmgmt

import (
	"slices"
	"strings"
	"time"
)

// User status values.
const (
	UserEnabled  = "enabled"
	UserDisabled = "disabled"
)

// AdminRole passes every permission check.
const AdminRole = "admin"

// Module names used by the permission checks of the built-in routes.
const (
	ModuleUsers      = "users"
	ModuleRoles      = "roles"
	ModuleActionLogs = "action_logs"
	ModuleAuth       = "auth"
)

// AllActions grants every action of a module.
const AllActions = "*"

type User struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Username    string     `gorm:"uniqueIndex;not null;size:64" json:"username"`
	Email       *string    `gorm:"uniqueIndex;size:255" json:"email"`
	Name        string     `gorm:"size:128" json:"name"`
	Password    string     `gorm:"not null" json:"password"` // bcrypt hash
	Status      string     `gorm:"not null;default:enabled;size:16" json:"status"`
	RoleID      *uint      `json:"role_id"`
	Role        *Role      `json:"role,omitempty"`
	LastLoginAt *time.Time `json:"last_login_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (User) LikeColumns() []string { return []string{"username", "name", "email"} }
func (User) AutoColumns() []string { return []string{"last_login_at"} }
func (User) ToDictFieldFilter(field string) bool { return field != "password" }

// Enabled reports whether the user may log in.
func (u *User) Enabled() bool {
	return u.Status != UserDisabled
}

type Role struct {
	ID          uint         `gorm:"primaryKey" json:"id"`
	Name        string       `gorm:"uniqueIndex;not null;size:64" json:"name"`
	Description string       `json:"description"`
	Modules     []RoleModule `gorm:"constraint:OnDelete:CASCADE" json:"modules"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

func (Role) LikeColumns() []string   { return []string{"name", "description"} }
func (Role) CascadeDelete() []string { return []string{"Modules"} }

// RoleModule grants a role access to a module. Actions is a comma
// separated list; "*" grants every action and an empty list read access
// only.
type RoleModule struct {
	ID      uint   `gorm:"primaryKey" json:"id"`
	RoleID  uint   `gorm:"not null;index" json:"role_id"`
	Module  string `gorm:"not null;size:64" json:"module"`
	Actions string `json:"actions"`
}

// ActionList splits Actions.
func (m RoleModule) ActionList() []string {
	return splitActions(m.Actions)
}

// Module is an entry of the module registry roles are granted against.
type Module struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	Name        string `gorm:"uniqueIndex;not null;size:64" json:"name"`
	Description string `json:"description"`
	Actions     string `json:"actions"`
}

func (Module) DefaultOrder() []string { return []string{"name"} }

type ActionLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Username  string    `gorm:"index;size:64" json:"username"`
	Module    string    `gorm:"index;size:64" json:"module"`
	Action    string    `gorm:"size:32" json:"action"`
	Result    bool      `json:"result"`
	Request   string    `gorm:"type:text" json:"request"`
	Response  string    `gorm:"type:text" json:"response"`
	IP        string    `gorm:"size:64" json:"ip"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (ActionLog) LikeColumns() []string  { return []string{"username", "module", "action", "request"} }
func (ActionLog) DefaultOrder() []string { return []string{"-id"} }

// Permissions is the resolved access of one user.
type Permissions struct {
	Admin   bool                `json:"admin"`
	Modules map[string][]string `json:"modules"`
}

// Allows reports whether action may be performed on module. An empty
// action asks for read access.
func (p *Permissions) Allows(module, action string) bool {
	if p == nil {
		return false
	}
	if p.Admin {
		return true
	}
	actions, ok := p.Modules[module]
	if !ok {
		return false
	}
	if action == "" {
		return true
	}
	return slices.Contains(actions, AllActions) || slices.Contains(actions, action)
}

func splitActions(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

func joinActions(actions []string) string {
	return strings.Join(actions, ",")
}

// Entities lists the models to migrate.
func Entities() []any {
	return []any{&Role{}, &RoleModule{}, &Module{}, &User{}, &ActionLog{}}
}
