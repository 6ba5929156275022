// Package models turns gorm models into map-driven CRUD resources.
//
// A Repository wraps one model type. Client data arrives as JSON maps keyed
// by the model's JSON field names; the repository filters it against the
// gorm schema, runs uniqueness and existence checks and returns status codes
// for every failure so handlers can write them back unchanged.
package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mrlokans/crudkit/internal/logging"
	"github.com/mrlokans/crudkit/internal/status"
)

var bgCtx = context.Background()

// Repository provides CRUD operations for the model type T.
type Repository[T any] struct {
	db       *gorm.DB
	meta     *Meta
	hooks    Hooks
	preloads []string
}

// Option configures a Repository.
type Option func(*repoOptions)

type repoOptions struct {
	hooks    Hooks
	preloads []string
}

// WithHooks installs lifecycle hooks.
func WithHooks(h Hooks) Option {
	return func(o *repoOptions) {
		if h != nil {
			o.hooks = h
		}
	}
}

// WithPreload replaces the default association preloading with the given
// gorm preload paths, e.g. "Role.Modules". No paths disables preloading.
func WithPreload(paths ...string) Option {
	return func(o *repoOptions) {
		o.preloads = paths
	}
}

// NewRepository parses the schema of T and returns a repository bound to db.
func NewRepository[T any](db *gorm.DB, opts ...Option) (*Repository[T], error) {
	o := repoOptions{
		hooks:    NopHooks{},
		preloads: []string{clause.Associations},
	}
	for _, opt := range opts {
		opt(&o)
	}
	meta, err := ParseMeta(db, new(T))
	if err != nil {
		return nil, err
	}
	if meta.Primary == nil {
		return nil, fmt.Errorf("model %s has no primary key", meta.Name)
	}
	return &Repository[T]{db: db, meta: meta, hooks: o.hooks, preloads: o.preloads}, nil
}

// MustRepository is NewRepository that panics on schema errors. Intended
// for package level wiring of known models.
func MustRepository[T any](db *gorm.DB, opts ...Option) *Repository[T] {
	r, err := NewRepository[T](db, opts...)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Repository[T]) DB() *gorm.DB { return r.db }
func (r *Repository[T]) Meta() *Meta { return r.meta }
func (r *Repository[T]) ClassName() string { return r.meta.Name }
func (r *Repository[T]) Columns() []*Column { return r.meta.Columns }
func (r *Repository[T]) ColumnFields() []string { return r.meta.ColumnFields() }
func (r *Repository[T]) PrimaryField() string { return r.meta.PrimaryField() }
func (r *Repository[T]) PrimaryKey() string { return r.meta.PrimaryKey() }
func (r *Repository[T]) UniqueColumns() []*Column {
	return r.meta.UniqueColumns()
}
func (r *Repository[T]) ColumnByField(field string) *Column {
	return r.meta.ColumnByField(field)
}

// FilterAttrsByColumns keeps the entries of data that map to settable
// columns.
func (r *Repository[T]) FilterAttrsByColumns(data map[string]any) map[string]any {
	return r.meta.FilterAttrsByColumns(data)
}

// FilterAttrsByColumns keeps known, non-auto columns. Blank values are
// dropped for NOT NULL columns; a blank string becomes NULL for nullable
// numeric columns.
func (m *Meta) FilterAttrsByColumns(data map[string]any) map[string]any {
	attrs := map[string]any{}
	for _, c := range m.Columns {
		value, ok := data[c.Field]
		if !ok || c.Auto {
			continue
		}
		s, isStr := value.(string)
		blank := isStr && strings.TrimSpace(s) == ""
		if !c.Nullable {
			if value == nil || blank {
				continue
			}
			attrs[c.Field] = value
			continue
		}
		if blank && c.Numeric {
			attrs[c.Field] = nil
			continue
		}
		attrs[c.Field] = value
	}
	return attrs
}

// instanceData is FilterAttrsByColumns plus nested relationship data.
func (m *Meta) instanceData(data map[string]any) map[string]any {
	attrs := m.FilterAttrsByColumns(data)
	for field, value := range attrs {
		if c := m.byField[field]; c.Numeric {
			attrs[field] = coerce(c, value)
		}
	}
	for _, rel := range m.Relations {
		raw, ok := data[rel.Field]
		if !ok || raw == nil {
			continue
		}
		if rel.Many {
			items, ok := raw.([]any)
			if !ok {
				continue
			}
			children := make([]any, 0, len(items))
			for _, item := range items {
				if child, ok := item.(map[string]any); ok {
					children = append(children, rel.meta.instanceData(child))
				}
			}
			attrs[rel.Field] = children
			continue
		}
		if child, ok := raw.(map[string]any); ok {
			attrs[rel.Field] = rel.meta.instanceData(child)
		}
	}
	return attrs
}

// CreateInstance builds a T from client data, including nested 1:1 and
// 1:n relationships.
func (r *Repository[T]) CreateInstance(data map[string]any) (*T, error) {
	inst := new(T)
	if err := decodeMap(r.meta.instanceData(data), inst); err != nil {
		return nil, fmt.Errorf("failed to build %s: %w", r.meta.Name, err)
	}
	return inst, nil
}

func decodeMap(data map[string]any, dst any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

// CheckAddData rejects empty payloads and unique key conflicts.
func (r *Repository[T]) CheckAddData(ctx context.Context, data map[string]any) error {
	if data == nil {
		return status.BadRequest
	}
	return r.checkUnique(ctx, data)
}

// CheckUpdateData requires the row to exist and the unique keys to be free.
func (r *Repository[T]) CheckUpdateData(ctx context.Context, data map[string]any) error {
	if data == nil {
		return status.BadRequest
	}
	if err := r.checkExist(ctx, data); err != nil {
		return err
	}
	return r.checkUnique(ctx, data)
}

// CheckDeleteData requires a primary key of an existing row.
func (r *Repository[T]) CheckDeleteData(ctx context.Context, pk any) error {
	if pk == nil {
		return status.DBDataNotFound
	}
	return r.checkExist(ctx, map[string]any{r.meta.PrimaryField(): pk})
}

func (r *Repository[T]) checkExist(ctx context.Context, data map[string]any) error {
	pk := r.meta.pkValue(data)
	if pk == nil {
		return status.DBDataNotFound
	}
	_, err := r.QueryByPK(ctx, pk)
	return err
}

func (r *Repository[T]) checkUnique(ctx context.Context, data map[string]any) error {
	found, err := r.QueryByUniqueKey(ctx, data)
	if err != nil {
		return err
	}
	if found == nil {
		return nil
	}
	pk := r.meta.coercePK(r.meta.pkValue(data))
	if pk != nil && samePK(pk, r.meta.instancePK(reflect.ValueOf(found))) {
		return nil
	}
	return status.DBDataAlreadyExist
}

func (c *Column) column() clause.Column {
	return clause.Column{Table: clause.CurrentTable, Name: c.DBName}
}

func (r *Repository[T]) session(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(new(T))
}

func (r *Repository[T]) withPreloads(tx *gorm.DB) *gorm.DB {
	for _, p := range r.preloads {
		tx = tx.Preload(p)
	}
	return tx
}

func (r *Repository[T]) pkCondition(pk any) clause.Expression {
	return clause.Eq{Column: r.meta.Primary.column(), Value: r.meta.coercePK(pk)}
}

// conditions turns a field map into equality expressions. Unknown fields
// are rejected so a typo never widens a delete.
func (m *Meta) conditions(by map[string]any) ([]clause.Expression, error) {
	exprs := make([]clause.Expression, 0, len(by))
	for field, value := range by {
		c := m.ColumnByField(field)
		if c == nil {
			return nil, fmt.Errorf("%w: unknown field %q", status.BadRequest, field)
		}
		exprs = append(exprs, clause.Eq{Column: c.column(), Value: coerce(c, normalize(value))})
	}
	return exprs, nil
}

func (r *Repository[T]) queryErr(op string, err error) error {
	if status.IsCode(err, status.BadRequest) {
		return err
	}
	logging.L().Error("query failed", zap.String("model", r.meta.Name), zap.String("op", op), zap.Error(err))
	return status.DBQueryErr
}

func firstOf[T any](tx *gorm.DB) (*T, error) {
	var items []*T
	if err := tx.Limit(1).Find(&items).Error; err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items[0], nil
}

// QueryByPK returns the row with the given key or status.DBDataNotFound.
func (r *Repository[T]) QueryByPK(ctx context.Context, pk any) (*T, error) {
	if pk == nil {
		return nil, status.DBDataNotFound
	}
	inst, err := firstOf[T](r.withPreloads(r.session(ctx)).Where(r.pkCondition(pk)))
	if err != nil {
		return nil, r.queryErr("query_by_pk", err)
	}
	if inst == nil {
		return nil, status.DBDataNotFound
	}
	return inst, nil
}

// QueryBy returns all rows whose fields equal the given values.
func (r *Repository[T]) QueryBy(ctx context.Context, by map[string]any) ([]*T, error) {
	exprs, err := r.meta.conditions(by)
	if err != nil {
		return nil, err
	}
	tx := r.withPreloads(r.session(ctx))
	if len(exprs) > 0 {
		tx = tx.Where(clause.And(exprs...))
	}
	var items []*T
	if err := tx.Clauses(clause.OrderBy{Columns: r.defaultOrder()}).Find(&items).Error; err != nil {
		return nil, r.queryErr("query_by", err)
	}
	return items, nil
}

// QueryFirstBy is QueryBy limited to the first row. It returns nil when
// nothing matches.
func (r *Repository[T]) QueryFirstBy(ctx context.Context, by map[string]any) (*T, error) {
	exprs, err := r.meta.conditions(by)
	if err != nil {
		return nil, err
	}
	tx := r.withPreloads(r.session(ctx))
	if len(exprs) > 0 {
		tx = tx.Where(clause.And(exprs...))
	}
	inst, err := firstOf[T](tx)
	if err != nil {
		return nil, r.queryErr("query_first_by", err)
	}
	return inst, nil
}

// QueryByUniqueKey returns the first row sharing any unique value with
// data, or nil.
func (r *Repository[T]) QueryByUniqueKey(ctx context.Context, data map[string]any) (*T, error) {
	var ors []clause.Expression
	for _, c := range r.meta.UniqueColumns() {
		if v, ok := data[c.Field]; ok && v != nil {
			ors = append(ors, clause.Eq{Column: c.column(), Value: coerce(c, normalize(v))})
		}
	}
	if len(ors) == 0 {
		return nil, nil
	}
	inst, err := firstOf[T](r.session(ctx).Where(clause.Or(ors...)))
	if err != nil {
		return nil, r.queryErr("query_by_unique_key", err)
	}
	return inst, nil
}

// QueryAll returns every row in the model's default order.
func (r *Repository[T]) QueryAll(ctx context.Context) ([]*T, error) {
	var items []*T
	err := r.withPreloads(r.session(ctx)).
		Clauses(clause.OrderBy{Columns: r.defaultOrder()}).
		Find(&items).Error
	if err != nil {
		return nil, r.queryErr("query_all", err)
	}
	return items, nil
}

func (r *Repository[T]) defaultOrder() []clause.OrderByColumn {
	var cols []clause.OrderByColumn
	for _, f := range r.meta.defaultOrder {
		desc := strings.HasPrefix(f, "-")
		if c := r.meta.ColumnByField(strings.TrimPrefix(f, "-")); c != nil {
			cols = append(cols, clause.OrderByColumn{Column: c.column(), Desc: desc})
		}
	}
	if len(cols) == 0 {
		cols = append(cols, clause.OrderByColumn{Column: r.meta.Primary.column()})
	}
	return cols
}

// PageResult is the result of a paged query.
type PageResult[T any] struct {
	Count int64 `json:"count"`
	Data  []*T  `json:"data"`
}

func (r *Repository[T]) applyFilters(tx *gorm.DB, p PSS) *gorm.DB {
	if len(p.Likes) > 0 {
		tx = tx.Where(clause.Or(p.Likes...))
	}
	if len(p.Ands) > 0 {
		tx = tx.Where(clause.And(p.Ands...))
	}
	if len(p.Ors) > 0 {
		tx = tx.Where(clause.Or(p.Ors...))
	}
	if len(p.Groups) > 0 {
		tx = tx.Clauses(clause.GroupBy{Columns: p.Groups})
	}
	return tx
}

// QueryPSS runs a paging, search and sort query. Rows are only fetched when
// the offset lies inside the matching count.
func (r *Repository[T]) QueryPSS(ctx context.Context, p PSS) (*PageResult[T], error) {
	count, err := r.Count(ctx, p)
	if err != nil {
		return nil, err
	}
	result := &PageResult[T]{Count: count, Data: []*T{}}
	offset := max(p.Offset, 0)
	if count == 0 || int64(offset) >= count {
		return result, nil
	}
	orders := p.Orders
	if len(orders) == 0 {
		orders = r.defaultOrder()
	}
	tx := r.applyFilters(r.withPreloads(r.session(ctx)), p).
		Clauses(clause.OrderBy{Columns: orders}).
		Offset(offset)
	if p.Limit > 0 {
		tx = tx.Limit(p.Limit)
	}
	if err := tx.Find(&result.Data).Error; err != nil {
		return nil, r.queryErr("query_pss", err)
	}
	return result, nil
}

// Count returns the number of rows matching the search part of p.
func (r *Repository[T]) Count(ctx context.Context, p PSS) (int64, error) {
	var count int64
	if err := r.applyFilters(r.session(ctx), p).Count(&count).Error; err != nil {
		return 0, r.queryErr("count", err)
	}
	return count, nil
}

// ParsePSS parses a paging, search and sort request for this model.
func (r *Repository[T]) ParsePSS(req map[string]any) PSS {
	return ParsePSS(r.meta, req)
}

// ToDict converts an instance or slice of instances of this model.
func (r *Repository[T]) ToDict(v any, opt *ToDictOption) any {
	return ModelToDict(v, opt)
}

// Refresh reloads inst from the database.
func (r *Repository[T]) Refresh(ctx context.Context, inst *T) (*T, error) {
	if inst == nil {
		return nil, status.DBDataNotFound
	}
	return r.QueryByPK(ctx, r.meta.instancePK(reflect.ValueOf(inst)))
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound) || status.IsCode(err, status.DBDataNotFound)
}
