package models

import "context"

// Hooks customize the Add, Update and Delete lifecycles of a repository.
//
// GetXxxData may rewrite the incoming data before it is checked. A non-nil
// error from BeforeXxx aborts the operation and is returned to the caller.
// AfterXxx always runs; result is the stored instance or nil, and err is
// the reason the operation failed.
type Hooks interface {
	GetAddData(ctx context.Context, data map[string]any) (map[string]any, error)
	BeforeAdd(ctx context.Context, data map[string]any) error
	AfterAdd(ctx context.Context, data map[string]any, result any, err error)

	GetUpdateData(ctx context.Context, data map[string]any) (map[string]any, error)
	BeforeUpdate(ctx context.Context, data map[string]any) error
	AfterUpdate(ctx context.Context, data map[string]any, result any, err error)

	GetDeleteData(ctx context.Context, key any) (any, error)
	BeforeDelete(ctx context.Context, key any) error
	AfterDelete(ctx context.Context, key any, result any, err error)
}

// NopHooks implements Hooks without changing anything. Embed it to
// override single methods.
type NopHooks struct{}

func (NopHooks) GetAddData(_ context.Context, data map[string]any) (map[string]any, error) {
	return data, nil
}
func (NopHooks) BeforeAdd(context.Context, map[string]any) error { return nil }
func (NopHooks) AfterAdd(context.Context, map[string]any, any, error) {}
func (NopHooks) BeforeUpdate(context.Context, map[string]any) error { return nil }
func (NopHooks) AfterUpdate(context.Context, map[string]any, any, error) {}
func (NopHooks) GetDeleteData(_ context.Context, key any) (any, error) { return key, nil }
func (NopHooks) BeforeDelete(context.Context, any) error { return nil }
func (NopHooks) AfterDelete(context.Context, any, any, error) {}
func (NopHooks) GetUpdateData(_ context.Context, data map[string]any) (map[string]any, error) {
	return data, nil
}
