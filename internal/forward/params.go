package forward

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// AppendURLSearchParams appends params to the query string of rawURL.
//
// params may be:
//   - a map: keys with a nil value are appended bare (?key), other keys are
//     set, replacing an existing value of the same key
//   - a []string of raw query parts, appended as is
//   - a string holding a raw query fragment
//
// Existing keys keep their position; new keys follow in order (maps in
// sorted key order).
//
//	AppendURLSearchParams("https://example.com?foo=1&bar=2", map[string]any{"bar": 3})
//	// https://example.com?foo=1&bar=3
//	AppendURLSearchParams("a/b", map[string]any{"c": 3, "d": nil})
//	// a/b?c=3&d
func AppendURLSearchParams(rawURL string, params any) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	q := parseOrderedQuery(u.RawQuery)
	var bare []string

	switch p := params.(type) {
	case nil:
	case string:
		if p != "" {
			bare = append(bare, p)
		}
	case []string:
		bare = append(bare, p...)
	case url.Values:
		for _, k := range sortedKeys(p) {
			if vs := p[k]; len(vs) > 0 {
				q.set(k, vs...)
			}
		}
	case map[string]string:
		for _, k := range sortedKeys(p) {
			q.set(k, p[k])
		}
	case map[string]any:
		for _, k := range sortedKeys(p) {
			if p[k] == nil {
				bare = append(bare, k)
				continue
			}
			q.set(k, fmt.Sprint(p[k]))
		}
	default:
		return rawURL
	}

	query := q.encode()
	if len(bare) > 0 {
		extra := strings.Join(bare, "&")
		if query != "" && !strings.HasPrefix(extra, "&") {
			extra = "&" + extra
		}
		query += extra
	}
	u.RawQuery = query
	return u.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// orderedQuery keeps first-seen key order and every value of a repeated
// key. url.Values.Encode sorts keys, which would reorder the caller's URL.
type orderedQuery struct {
	keys   []string
	values map[string][]string
}

func parseOrderedQuery(raw string) *orderedQuery {
	q := &orderedQuery{values: map[string][]string{}}
	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			continue
		}
		val, err := url.QueryUnescape(v)
		if err != nil {
			continue
		}
		// blank values are dropped, as a bare key carries no pair
		if val == "" {
			continue
		}
		q.add(key, val)
	}
	return q
}

// set replaces the values of k.
func (q *orderedQuery) set(k string, vs ...string) {
	if _, ok := q.values[k]; !ok {
		q.keys = append(q.keys, k)
	}
	q.values[k] = append([]string(nil), vs...)
}

// add appends v to the values of k.
func (q *orderedQuery) add(k, v string) {
	q.set(k, append(q.values[k], v)...)
}

func (q *orderedQuery) encode() string {
	parts := make([]string, 0, len(q.keys))
	for _, k := range q.keys {
		for _, v := range q.values[k] {
			parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
		}
	}
	return strings.Join(parts, "&")
}

// replacePlaceholders substitutes {name} placeholders with vars.
func replacePlaceholders(s string, vars map[string]any) string {
	if len(vars) == 0 || !strings.Contains(s, "{") {
		return s
	}
	pairs := make([]string, 0, len(vars)*2)
	for _, k := range sortedKeys(vars) {
		pairs = append(pairs, "{"+k+"}", fmt.Sprint(vars[k]))
	}
	return strings.NewReplacer(pairs...).Replace(s)
}

// joinURL joins base and rel with exactly one slash.
func joinURL(base, rel string) string {
	if base == "" {
		return rel
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(rel, "/")
}

// shorten collapses whitespace and truncates s to width, marking the cut.
func shorten(s string, width int) string {
	const placeholder = " [...]"
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= width {
		return s
	}
	cut := width - len(placeholder)
	if cut <= 0 {
		return strings.TrimSpace(placeholder)
	}
	s = s[:cut]
	if i := strings.LastIndexByte(s, ' '); i > 0 {
		s = s[:i]
	}
	return s + placeholder
}
