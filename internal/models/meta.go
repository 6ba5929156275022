package models

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Column describes one persisted field of a model.
type Column struct {
	Field    string // JSON key used in request and response maps
	Name     string // Go struct field name
	DBName   string
	Primary  bool
	Unique   bool
	Nullable bool
	Numeric  bool
	Auto     bool // never taken from client data

	field *schema.Field
}

// Relation describes an association that can be rendered or written
// through nested maps.
type Relation struct {
	Field string // JSON key
	Name  string // Go struct field name, also the gorm association name
	Many  bool
	Type  schema.RelationshipType

	rel  *schema.Relationship
	meta *Meta
}

// Meta returns the metadata of the related model.
func (r *Relation) Meta() *Meta {
	return r.meta
}

// Meta is the column and relationship layout of a model type.
type Meta struct {
	Name      string
	Table     string
	Columns   []*Column
	Relations []*Relation
	Primary   *Column

	likeFields    []string
	defaultOrder  []string
	cascadeDelete []string
	byField       map[string]*Column
	relByField    map[string]*Relation
	modelType     reflect.Type
	fieldFilter   func(string) bool
	schema        *schema.Schema
}

// Optional interfaces a model can implement to tune its metadata.
type (
	// LikeColumner lists the fields searched by the pss "like" option.
	LikeColumner interface{ LikeColumns() []string }
	// AutoColumner lists fields that are never taken from client data.
	AutoColumner interface{ AutoColumns() []string }
	// DefaultOrderer lists the fields used when no sort is requested.
	// A leading "-" sorts descending.
	DefaultOrderer interface{ DefaultOrder() []string }
	// FieldFilterer hides fields from map output when it returns false.
	FieldFilterer interface{ ToDictFieldFilter(field string) bool }
	// CascadeDeleter names associations removed together with the row.
	CascadeDeleter interface{ CascadeDelete() []string }
)

var metaCache sync.Map // reflect.Type -> *Meta

// ParseMeta returns the metadata for model, parsing the gorm schema on
// first use.
func ParseMeta(db *gorm.DB, model any) (*Meta, error) {
	t := indirectType(reflect.TypeOf(model))
	if m, ok := metaCache.Load(t); ok {
		return m.(*Meta), nil
	}
	stmt := &gorm.Statement{DB: db}
	if err := stmt.Parse(model); err != nil {
		return nil, fmt.Errorf("failed to parse model %s: %w", t.Name(), err)
	}
	building := map[*schema.Schema]*Meta{}
	metaFromSchema(stmt.Schema, building)
	for _, built := range building {
		metaCache.LoadOrStore(built.modelType, built)
	}
	actual, _ := metaCache.Load(t)
	return actual.(*Meta), nil
}

// LookupMeta returns the cached metadata for the type of v, if any.
func LookupMeta(v any) (*Meta, bool) {
	if v == nil {
		return nil, false
	}
	t := indirectType(reflect.TypeOf(v))
	m, ok := metaCache.Load(t)
	if !ok {
		return nil, false
	}
	return m.(*Meta), true
}

func indirectType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr || t.Kind() == reflect.Slice {
		t = t.Elem()
	}
	return t
}

func metaFromSchema(s *schema.Schema, building map[*schema.Schema]*Meta) *Meta {
	if m, ok := building[s]; ok {
		return m
	}
	m := &Meta{
		Name:       s.Name,
		Table:      s.Table,
		byField:    map[string]*Column{},
		relByField: map[string]*Relation{},
		modelType:  s.ModelType,
		schema:     s,
	}
	building[s] = m

	instance := reflect.New(s.ModelType).Interface()
	auto := map[string]bool{}
	if ac, ok := instance.(AutoColumner); ok {
		for _, f := range ac.AutoColumns() {
			auto[f] = true
		}
	}

	for _, f := range s.Fields {
		if f.DBName == "" || !f.Readable {
			continue
		}
		key, skip := jsonKey(f.StructField)
		if skip {
			continue
		}
		// An unnamed uniqueIndex only ever covers this column.
		_, unique := f.TagSettings["UNIQUE"]
		unique = unique || f.TagSettings["UNIQUEINDEX"] == "UNIQUEINDEX"
		col := &Column{
			Field:    key,
			Name:     f.Name,
			DBName:   f.DBName,
			Primary:  f.PrimaryKey,
			Unique:   unique && !f.PrimaryKey,
			Nullable: !f.NotNull && !f.PrimaryKey,
			Numeric:  f.DataType == schema.Int || f.DataType == schema.Uint || f.DataType == schema.Float,
			Auto: auto[key] || f.AutoCreateTime > 0 || f.AutoUpdateTime > 0 ||
				f.StructField.Tag.Get("crudkit") == "auto",
			field: f,
		}
		m.Columns = append(m.Columns, col)
		m.byField[key] = col
		if col.Primary && m.Primary == nil {
			m.Primary = col
		}
	}

	for _, name := range sortedRelationNames(s) {
		rel := s.Relationships.Relations[name]
		// gorm mirrors has-one/has-many relations into the child schema
		// under a "_" prefixed name; those belong to the parent.
		if rel.Schema != s || strings.HasPrefix(name, "_") {
			continue
		}
		key, skip := jsonKey(rel.Field.StructField)
		if skip {
			continue
		}
		r := &Relation{
			Field: key,
			Name:  rel.Name,
			Many:  rel.Type == schema.HasMany || rel.Type == schema.Many2Many,
			Type:  rel.Type,
			rel:   rel,
		}
		r.meta = metaFromSchema(rel.FieldSchema, building)
		m.Relations = append(m.Relations, r)
		m.relByField[key] = r
	}

	if lc, ok := instance.(LikeColumner); ok {
		m.likeFields = lc.LikeColumns()
	}
	if do, ok := instance.(DefaultOrderer); ok {
		m.defaultOrder = do.DefaultOrder()
	}
	if ff, ok := instance.(FieldFilterer); ok {
		m.fieldFilter = ff.ToDictFieldFilter
	}
	if cd, ok := instance.(CascadeDeleter); ok {
		m.cascadeDelete = cd.CascadeDelete()
	}
	return m
}

// sortedRelationNames keeps relation order stable by struct field order.
func sortedRelationNames(s *schema.Schema) []string {
	type named struct {
		name  string
		index []int
	}
	var items []named
	for name, rel := range s.Relationships.Relations {
		items = append(items, named{name: name, index: rel.Field.StructField.Index})
	}
	less := func(a, b []int) bool {
		for i := 0; i < len(a) && i < len(b); i++ {
			if a[i] != b[i] {
				return a[i] < b[i]
			}
		}
		return len(a) < len(b)
	}
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && less(items[j].index, items[j-1].index); j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
	names := make([]string, len(items))
	for i, it := range items {
		names[i] = it.name
	}
	return names
}

// jsonKey mirrors encoding/json naming so maps round-trip through structs.
func jsonKey(sf reflect.StructField) (string, bool) {
	tag := sf.Tag.Get("json")
	if tag == "-" {
		return "", true
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		name = sf.Name
	}
	return name, false
}

// ClassName returns the Go type name of the model.
func (m *Meta) ClassName() string { return m.Name }

// ColumnFields returns the JSON keys of all columns.
func (m *Meta) ColumnFields() []string {
	out := make([]string, len(m.Columns))
	for i, c := range m.Columns {
		out[i] = c.Field
	}
	return out
}

// ColumnByField finds a column by JSON key, Go field name or column name.
func (m *Meta) ColumnByField(field string) *Column {
	if c, ok := m.byField[field]; ok {
		return c
	}
	for _, c := range m.Columns {
		if c.Name == field || c.DBName == field {
			return c
		}
	}
	return nil
}

// RelationByField finds a relation by JSON key or Go field name.
func (m *Meta) RelationByField(field string) *Relation {
	if r, ok := m.relByField[field]; ok {
		return r
	}
	for _, r := range m.Relations {
		if r.Name == field {
			return r
		}
	}
	return nil
}

// PrimaryField returns the JSON key of the primary key.
func (m *Meta) PrimaryField() string {
	if m.Primary == nil {
		return ""
	}
	return m.Primary.Field
}

// PrimaryKey returns the column name of the primary key.
func (m *Meta) PrimaryKey() string {
	if m.Primary == nil {
		return ""
	}
	return m.Primary.DBName
}

// UniqueColumns returns the columns with a single-column unique constraint.
func (m *Meta) UniqueColumns() []*Column {
	var out []*Column
	for _, c := range m.Columns {
		if c.Unique {
			out = append(out, c)
		}
	}
	return out
}

// LikeColumns returns the columns searched by the pss "like" option.
func (m *Meta) LikeColumns() []*Column {
	var out []*Column
	for _, f := range m.likeFields {
		if c := m.ColumnByField(f); c != nil {
			out = append(out, c)
		}
	}
	return out
}

// pkValue reads the primary key from a data map.
func (m *Meta) pkValue(data map[string]any) any {
	if m.Primary == nil || data == nil {
		return nil
	}
	return data[m.Primary.Field]
}

// coercePK converts URL and JSON representations of a key to the key's
// Go kind so comparisons and lookups behave.
func (m *Meta) coercePK(v any) any {
	if m.Primary == nil {
		return v
	}
	return coerce(m.Primary, v)
}

func coerce(c *Column, v any) any {
	var s string
	switch val := v.(type) {
	case string:
		s = strings.TrimSpace(val)
	case fmt.Stringer:
		s = val.String()
	case float64:
		if c.field.DataType == schema.Int || c.field.DataType == schema.Uint {
			return int64(val)
		}
		return val
	default:
		return v
	}
	switch c.field.DataType {
	case schema.Int:
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	case schema.Uint:
		if n, err := strconv.ParseUint(s, 10, 64); err == nil {
			return n
		}
	case schema.Float:
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return n
		}
	case schema.String:
		return s
	}
	return v
}

// instancePK reads the primary key from a model value.
func (m *Meta) instancePK(rv reflect.Value) any {
	if m.Primary == nil {
		return nil
	}
	v, _ := m.Primary.field.ValueOf(bgCtx, reflect.Indirect(rv))
	return v
}

func samePK(a, b any) bool {
	if a == nil || b == nil {
		return false
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}
