package models

import (
	"database/sql/driver"
	"reflect"
	"slices"
	"strings"
)

// ToDictOption controls how model instances become maps.
//
// Cascade is the relationship depth to render. A nested object without
// its own Cascade uses the nearest configured ancestor's value minus its
// depth. Paths holds per-relationship options keyed by dotted path, e.g.
// "role" or "role.modules". Include wins over Exclude. When neither
// Include nor IncludeFunc is set the model's ToDictFieldFilter applies.
type ToDictOption struct {
	Cascade        *int
	Include        []string
	IncludeFunc    func(field string) bool
	Exclude        []string
	RecursionValue any
	Paths          map[string]*ToDictOption
}

// Cascade returns a pointer for ToDictOption.Cascade.
func Cascade(n int) *int {
	return &n
}

// ToDict converts a single model instance. It returns nil for values that
// are not registered models.
func ToDict(v any, opt *ToDictOption) map[string]any {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	m, ok := LookupMeta(v)
	if !ok || rv.Kind() != reflect.Struct {
		return nil
	}
	if opt == nil {
		opt = &ToDictOption{}
	}
	return (&dictConverter{root: opt}).convert(rv, m, nil, nil)
}

// ModelToDict converts model instances and slices of them. Other values
// are returned unchanged.
func ModelToDict(v any, opt *ToDictOption) any {
	if v == nil {
		return nil
	}
	if _, ok := LookupMeta(v); !ok {
		return v
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr && rv.Elem().Kind() == reflect.Slice {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Slice {
		return ToDict(v, opt)
	}
	out := make([]any, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		item := rv.Index(i)
		if item.Kind() == reflect.Ptr && item.IsNil() {
			continue
		}
		if item.Kind() != reflect.Ptr && item.CanAddr() {
			item = item.Addr()
		}
		out = append(out, ToDict(item.Interface(), opt))
	}
	return out
}

type visit struct {
	ptr uintptr
	typ reflect.Type
}

type dictConverter struct {
	root *ToDictOption
}

// nearest walks from the option of path up to the root and returns the
// first option accepted by has.
func (d *dictConverter) nearest(path []string, has func(*ToDictOption) bool) *ToDictOption {
	for i := len(path); i > 0; i-- {
		if o := d.root.Paths[strings.Join(path[:i], ".")]; o != nil && has(o) {
			return o
		}
	}
	if has(d.root) {
		return d.root
	}
	return nil
}

func (d *dictConverter) itemOption(path []string) *ToDictOption {
	if len(path) == 0 {
		return d.root
	}
	if o := d.root.Paths[strings.Join(path, ".")]; o != nil {
		return o
	}
	return &ToDictOption{}
}

func (d *dictConverter) cascade(item *ToDictOption, path []string) int {
	if item.Cascade != nil {
		return *item.Cascade
	}
	if o := d.nearest(path, func(o *ToDictOption) bool { return o.Cascade != nil }); o != nil {
		return *o.Cascade - len(path)
	}
	return 0
}

func (d *dictConverter) recursionValue(path []string) any {
	if o := d.nearest(path, func(o *ToDictOption) bool { return o.RecursionValue != nil }); o != nil {
		return o.RecursionValue
	}
	return nil
}

func keep(item *ToDictOption, m *Meta, field string) bool {
	switch {
	case len(item.Include) > 0:
		if !slices.Contains(item.Include, field) {
			return false
		}
	case item.IncludeFunc != nil:
		if !item.IncludeFunc(field) {
			return false
		}
	case m.fieldFilter != nil:
		if !m.fieldFilter(field) {
			return false
		}
	}
	return !slices.Contains(item.Exclude, field)
}

func identity(rv reflect.Value) visit {
	if !rv.CanAddr() {
		return visit{}
	}
	return visit{ptr: rv.Addr().Pointer(), typ: rv.Type()}
}

func (d *dictConverter) convert(rv reflect.Value, m *Meta, seen []visit, path []string) map[string]any {
	seen = append(slices.Clone(seen), identity(rv))
	item := d.itemOption(path)
	depth := d.cascade(item, path)
	recursion := d.recursionValue(path)

	result := map[string]any{}
	for _, c := range m.Columns {
		if !keep(item, m, c.Field) {
			continue
		}
		v, _ := c.field.ValueOf(bgCtx, rv)
		if v, ok := columnValue(v); ok {
			result[c.Field] = v
		}
	}
	if depth <= 0 {
		return result
	}

	for _, rel := range m.Relations {
		if !keep(item, m, rel.Field) {
			continue
		}
		childPath := append(slices.Clone(path), rel.Field)
		value := rel.rel.Field.ReflectValueOf(bgCtx, rv)
		if rel.Many {
			if value.Kind() != reflect.Slice {
				continue
			}
			if value.Len() == 0 {
				result[rel.Field] = []any{}
				continue
			}
			items := make([]any, 0, value.Len())
			for i := 0; i < value.Len(); i++ {
				child := reflect.Indirect(value.Index(i))
				if !child.IsValid() {
					continue
				}
				if out, ok := d.child(child, rel.meta, seen, childPath, recursion); ok {
					items = append(items, out)
				}
			}
			if len(items) > 0 {
				result[rel.Field] = items
			}
			continue
		}
		child := reflect.Indirect(value)
		if !child.IsValid() || child.IsZero() {
			continue
		}
		if out, ok := d.child(child, rel.meta, seen, childPath, recursion); ok {
			result[rel.Field] = out
		}
	}
	return result
}

func (d *dictConverter) child(rv reflect.Value, m *Meta, seen []visit, path []string, recursion any) (any, bool) {
	if id := identity(rv); id.ptr != 0 && slices.Contains(seen, id) {
		if recursion == nil {
			return nil, false
		}
		return recursion, true
	}
	return d.convert(rv, m, seen, path), true
}

// columnValue unwraps pointers and sql null types. NULL values are
// reported as absent.
func columnValue(v any) (any, bool) {
	if v == nil {
		return nil, false
	}
	if valuer, ok := v.(driver.Valuer); ok {
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Ptr && rv.IsNil() {
			return nil, false
		}
		dv, err := valuer.Value()
		if err != nil || dv == nil {
			return nil, false
		}
		if rv.Kind() == reflect.Struct {
			// sql.NullXxx and gorm.DeletedAt
			return dv, true
		}
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, false
		}
		return rv.Elem().Interface(), true
	}
	return v, true
}
