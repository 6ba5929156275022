package models

import (
	"encoding/json"
	"maps"
	"math"
	"slices"
	"strings"

	"gorm.io/gorm/clause"
)

const (
	defaultPageLimit = 100000
	orSeparator      = "||"
)

// PSS is a parsed paging, search and sort request.
//
// Likes are ORed together, Ands are ANDed, Ors are ORed, and the three
// groups are combined with AND.
type PSS struct {
	Likes  []clause.Expression
	Ands   []clause.Expression
	Ors    []clause.Expression
	Orders []clause.OrderByColumn
	Groups []clause.Column
	Offset int
	Limit  int
}

// PSSConfigFunc rewrites an incoming pss request before it is parsed.
type PSSConfigFunc func(req map[string]any) map[string]any

// ParsePSS parses a request of the form
//
//	{
//	  "search": {"like": "t", "age": {">": 1}, "country": "US||CA",
//	             "_ands": {...}, "_ors": {...}},
//	  "sort":   {"field": "name", "order": "desc"},
//	  "group":  "country",
//	  "page":   {"offset": 0, "size": 20}
//	}
//
// Unknown fields and operators are ignored.
func ParsePSS(m *Meta, req map[string]any) PSS {
	var p PSS

	search, _ := req["search"].(map[string]any)
	p.Likes = likeFilters(m, search["like"], search["ilike"])
	if ands, ok := search["_ands"].(map[string]any); ok {
		for _, key := range slices.Sorted(maps.Keys(ands)) {
			p.Ands = appendSearchFilters(p.Ands, m, key, ands[key])
		}
	}
	if ors, ok := search["_ors"].(map[string]any); ok {
		for _, key := range slices.Sorted(maps.Keys(ors)) {
			p.Ors = appendSearchFilters(p.Ors, m, key, ors[key])
		}
	}
	for _, key := range slices.Sorted(maps.Keys(search)) {
		switch key {
		case "like", "ilike", "_ands", "_ors":
			continue
		}
		p.Ands = appendSearchFilters(p.Ands, m, key, search[key])
	}

	p.Groups = groupColumns(m, req["group"])
	p.Orders = sortColumns(m, req["sort"])

	page, _ := req["page"].(map[string]any)
	p.Offset = max(firstInt(page, 0, "offset", "skip"), 0)
	p.Limit = max(firstInt(page, defaultPageLimit, "limit", "size"), 0)
	return p
}

// firstInt returns the first non-zero integer under keys, or def.
func firstInt(m map[string]any, def int, keys ...string) int {
	for _, k := range keys {
		if n, ok := toInt(m[k]); ok && n != 0 {
			return n
		}
	}
	return def
}

func toInt(v any) (int, bool) {
	switch n := normalize(v).(type) {
	case int64:
		return int(n), true
	case int:
		return n, true
	case float64:
		if n == math.Trunc(n) {
			return int(n), true
		}
	}
	return 0, false
}

// normalize converts json.Number into int64 or float64 so drivers receive
// native values.
func normalize(v any) any {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	case []any:
		out := make([]any, len(n))
		for i, item := range n {
			out[i] = normalize(item)
		}
		return out
	}
	return v
}

func likeFilters(m *Meta, like, ilike any) []clause.Expression {
	cols := m.LikeColumns()
	if len(cols) == 0 {
		return nil
	}
	var exprs []clause.Expression
	if s, ok := like.(string); ok && s != "" {
		s = wrapLike(s)
		for _, c := range cols {
			exprs = append(exprs, clause.Like{Column: c.column(), Value: s})
		}
	}
	if s, ok := ilike.(string); ok && s != "" {
		s = wrapLike(s)
		for _, c := range cols {
			exprs = append(exprs, caseInsensitiveLike(c, s, false))
		}
	}
	return exprs
}

func wrapLike(s string) string {
	if strings.HasPrefix(s, "%") {
		return s
	}
	return "%" + s + "%"
}

func caseInsensitiveLike(c *Column, value any, negate bool) clause.Expression {
	sql := "LOWER(?) LIKE LOWER(?)"
	if negate {
		sql = "LOWER(?) NOT LIKE LOWER(?)"
	}
	return clause.Expr{SQL: sql, Vars: []any{c.column(), value}}
}

func appendSearchFilters(exprs []clause.Expression, m *Meta, key string, value any) []clause.Expression {
	c := m.ColumnByField(key)
	if c == nil || value == nil {
		return exprs
	}
	switch v := value.(type) {
	case string:
		v = strings.TrimSpace(v)
		if v == "" {
			return exprs
		}
		for _, part := range strings.Split(v, orSeparator) {
			exprs = append(exprs, clause.Eq{Column: c.column(), Value: coerce(c, part)})
		}
	case map[string]any:
		for _, op := range slices.Sorted(maps.Keys(v)) {
			if expr := columnOp(c, op, v[op]); expr != nil {
				exprs = append(exprs, expr)
			}
		}
	case []any:
		exprs = append(exprs, clause.IN{Column: c.column(), Values: normalize(v).([]any)})
	default:
		exprs = append(exprs, clause.Eq{Column: c.column(), Value: normalize(v)})
	}
	return exprs
}

// columnOp builds one comparison. Operators that need a list return nil
// for other values, as do unknown operators.
func columnOp(c *Column, op string, value any) clause.Expression {
	col := c.column()
	value = normalize(value)
	list, isList := value.([]any)
	switch strings.ToLower(strings.TrimSpace(op)) {
	case "==", "=":
		return clause.Eq{Column: col, Value: value}
	case "!=", "<>":
		return clause.Neq{Column: col, Value: value}
	case ">":
		return clause.Gt{Column: col, Value: value}
	case ">=":
		return clause.Gte{Column: col, Value: value}
	case "<":
		return clause.Lt{Column: col, Value: value}
	case "<=":
		return clause.Lte{Column: col, Value: value}
	case "in":
		if isList {
			return clause.IN{Column: col, Values: list}
		}
	case "notin":
		if isList {
			return clause.Not(clause.IN{Column: col, Values: list})
		}
	case "between":
		if isList && len(list) == 2 {
			return clause.Expr{SQL: "? BETWEEN ? AND ?", Vars: []any{col, list[0], list[1]}}
		}
	case "is":
		if value == nil {
			return clause.Eq{Column: col, Value: nil}
		}
		return clause.Expr{SQL: "? IS ?", Vars: []any{col, value}}
	case "isnot":
		if value == nil {
			return clause.Neq{Column: col, Value: nil}
		}
		return clause.Expr{SQL: "? IS NOT ?", Vars: []any{col, value}}
	case "like":
		return clause.Like{Column: col, Value: value}
	case "ilike":
		return caseInsensitiveLike(c, value, false)
	case "notlike":
		return clause.Not(clause.Like{Column: col, Value: value})
	case "notilike":
		return caseInsensitiveLike(c, value, true)
	}
	return nil
}

func groupColumns(m *Meta, group any) []clause.Column {
	var fields []any
	switch g := group.(type) {
	case string:
		fields = []any{g}
	case []any:
		fields = g
	}
	var cols []clause.Column
	for _, f := range fields {
		if name, ok := f.(string); ok {
			if c := m.ColumnByField(name); c != nil {
				cols = append(cols, c.column())
			}
		}
	}
	return cols
}

func sortColumns(m *Meta, sort any) []clause.OrderByColumn {
	var items []any
	switch s := sort.(type) {
	case []any:
		items = s
	case map[string]any, string:
		items = []any{s}
	}
	var orders []clause.OrderByColumn
	for _, item := range items {
		switch s := item.(type) {
		case string:
			if c := m.ColumnByField(s); c != nil {
				orders = append(orders, clause.OrderByColumn{Column: c.column()})
			}
		case map[string]any:
			field, _ := s["field"].(string)
			c := m.ColumnByField(field)
			if c == nil {
				continue
			}
			order, _ := s["order"].(string)
			orders = append(orders, clause.OrderByColumn{Column: c.column(), Desc: isDescending(order)})
		}
	}
	return orders
}

func isDescending(order string) bool {
	switch strings.ToLower(strings.TrimSpace(order)) {
	case "desc", "descend", "descending":
		return true
	}
	return false
}
