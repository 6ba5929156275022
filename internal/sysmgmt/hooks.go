package sysmgmt

import (
	"context"

	"github.com/mrlokans/crudkit/internal/auth"
	"github.com/mrlokans/crudkit/internal/models"
	"github.com/mrlokans/crudkit/internal/status"
)

// userHooks hashes passwords on the way in.
type userHooks struct {
	models.NopHooks
	cost    int
	changed func()
}

func (h *userHooks) GetAddData(_ context.Context, data map[string]any) (map[string]any, error) {
	pw, _ := data["password"].(string)
	if pw == "" {
		return nil, status.New(status.BadRequest.Key, "password is required")
	}
	return h.hashPassword(data, pw)
}

func (h *userHooks) GetUpdateData(_ context.Context, data map[string]any) (map[string]any, error) {
	v, ok := data["password"]
	if !ok {
		return data, nil
	}
	pw, _ := v.(string)
	if pw == "" {
		delete(data, "password")
		return data, nil
	}
	return h.hashPassword(data, pw)
}

func (h *userHooks) hashPassword(data map[string]any, pw string) (map[string]any, error) {
	hash, err := auth.HashPassword(pw, h.cost)
	if err != nil {
		return nil, status.New(status.BadRequest.Key, err.Error())
	}
	data["password"] = hash
	return data, nil
}

func (h *userHooks) AfterUpdate(_ context.Context, _ map[string]any, _ any, err error) {
	if err == nil {
		h.changed()
	}
}

func (h *userHooks) AfterDelete(_ context.Context, _ any, _ any, err error) {
	if err == nil {
		h.changed()
	}
}

// roleHooks protects the admin role and drops cached permissions when a
// role changes.
type roleHooks struct {
	models.NopHooks
	roles   *models.Repository[Role]
	changed func()
}

func (h *roleHooks) BeforeUpdate(ctx context.Context, data map[string]any) error {
	name, ok := data["name"].(string)
	if !ok {
		return nil
	}
	role, err := h.roles.QueryByPK(ctx, data["id"])
	if err != nil {
		return nil
	}
	if role.Name == AdminRole && name != AdminRole {
		return status.New(status.URIForbidden.Key, "the admin role cannot be renamed")
	}
	return nil
}

func (h *roleHooks) BeforeDelete(ctx context.Context, key any) error {
	role, err := h.roles.QueryByPK(ctx, key)
	if err != nil {
		return nil
	}
	if role.Name == AdminRole {
		return status.New(status.URIForbidden.Key, "the admin role cannot be deleted")
	}
	return nil
}

func (h *roleHooks) AfterUpdate(_ context.Context, _ map[string]any, _ any, err error) {
	if err == nil {
		h.changed()
	}
}

func (h *roleHooks) AfterDelete(_ context.Context, _ any, _ any, err error) {
	if err == nil {
		h.changed()
	}
}
