package rest

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mrlokans/crudkit/internal/logging"
)

const didParam = "did"

// RouteRule returns the collection rule and the rule with suffix appended.
// The rule always starts with a slash; with strictSlash both end with one.
func RouteRule(rule string, strictSlash bool, suffix string) (string, string) {
	if !strings.HasPrefix(rule, "/") {
		rule = "/" + rule
	}
	var suffixRule string
	if strings.HasSuffix(rule, "/") {
		suffixRule = rule + suffix
	} else {
		suffixRule = rule + "/" + suffix
	}
	if strictSlash {
		if !strings.HasSuffix(rule, "/") {
			rule += "/"
		}
		suffixRule += "/"
	} else if len(rule) > 1 {
		rule = strings.TrimSuffix(rule, "/")
	}
	return rule, suffixRule
}

func joinPaths(base, rel string) string {
	if base == "" || base == "/" {
		return rel
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(rel, "/")
}

// EndpointName builds the unique name of a model route, for example
// model_route_sys_users_query for rule /sys/users/ and kind query.
func EndpointName(rule, kind string) string {
	parts := []string{"model_route"}
	for _, p := range strings.Split(rule, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	parts = append(parts, kind)
	return strings.ReplaceAll(strings.Join(parts, "_"), "-", "_")
}

// RestLogMsg formats a log message for an API call. Nil values are left out.
func RestLogMsg(info string, req any, ok bool, res any) string {
	lines := []string{"--" + info}
	if req != nil {
		lines = append(lines, "--Request data:", logString(req))
	}
	lines = append(lines, fmt.Sprintf("--Response result:%t", ok))
	if res != nil {
		lines = append(lines, "--Response data:", logString(res))
	}
	return strings.Join(lines, "\n")
}

func logString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case error:
		return val.Error()
	}
	return logging.LogData(v)
}

// truthy reports whether a decoded JSON value is set: not nil, not empty,
// not zero and not false.
func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return val != ""
	case bool:
		return val
	case json.Number:
		f, err := val.Float64()
		return err != nil || f != 0
	case float64:
		return val != 0
	case int:
		return val != 0
	case int64:
		return val != 0
	case uint:
		return val != 0
	}
	return true
}
