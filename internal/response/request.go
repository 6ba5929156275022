package response

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"

	"github.com/gin-gonic/gin"
)

// RequestJSON decodes the request body as JSON regardless of its content
// type. It returns fallback when the body is empty or not valid JSON.
// Numbers are decoded as json.Number. The body stays readable for later
// handlers.
func RequestJSON(c *gin.Context, fallback any) any {
	raw, err := readBody(c)
	if err != nil || len(bytes.TrimSpace(raw)) == 0 {
		return fallback
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil || out == nil {
		return fallback
	}
	return out
}

// RequestMap is RequestJSON narrowed to a JSON object. The result is
// never nil.
func RequestMap(c *gin.Context) map[string]any {
	if m, ok := RequestJSON(c, nil).(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func readBody(c *gin.Context) ([]byte, error) {
	if c.Request == nil || c.Request.Body == nil {
		return nil, nil
	}
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, err
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(raw))
	return raw, nil
}

// RemoteAddr returns the client address for display, preferring X-Real-IP.
// The header is client controlled; key rate limits and audit records on
// c.ClientIP, which honors forwarding headers only from trusted proxies.
func RemoteAddr(c *gin.Context) string {
	if ip := strings.TrimSpace(c.GetHeader("X-Real-IP")); ip != "" {
		return ip
	}
	return c.ClientIP()
}

// IsAjax reports whether the request was sent by XMLHttpRequest.
func IsAjax(c *gin.Context) bool {
	return c.GetHeader("X-Requested-With") == "XMLHttpRequest"
}
