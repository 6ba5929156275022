package models

import "context"

// Lister is the type-erased view of a Repository used when several models
// are queried together.
type Lister interface {
	Meta() *Meta
	List(ctx context.Context) (any, error)
}

// List returns QueryAll as an untyped slice.
func (r *Repository[T]) List(ctx context.Context) (any, error) {
	return r.QueryAll(ctx)
}

// QueryAllModels runs QueryAll on every lister in order. The first failure
// aborts and is returned.
func QueryAllModels(ctx context.Context, listers ...Lister) ([]any, error) {
	results := make([]any, 0, len(listers))
	for _, l := range listers {
		items, err := l.List(ctx)
		if err != nil {
			return nil, err
		}
		results = append(results, items)
	}
	return results, nil
}
