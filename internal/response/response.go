// Package response builds the JSON envelopes returned by every API route.
//
// Success:
//
//	{"status": "success", "data": ...}
//
// Failure:
//
//	{"status": "fail", "status_code": "db_data_not_found", "message": "Data Not Found"}
//
// The status strings come from configuration, and a MessageFunc may
// translate failure messages per request.
package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mrlokans/crudkit/internal/config"
	"github.com/mrlokans/crudkit/internal/status"
)

const contextKey = "response_manager"

// MessageFunc returns the message for a failure code.
type MessageFunc func(c *gin.Context, code status.Code) string

// Manager creates response envelopes.
type Manager struct {
	successStatus string
	failStatus    string
	statusMapping bool
	message       MessageFunc
}

// NewManager creates a manager from the response configuration.
func NewManager(cfg config.Response) *Manager {
	m := &Manager{
		successStatus: cfg.SuccessStatus,
		failStatus:    cfg.FailStatus,
		statusMapping: cfg.StatusMapping,
	}
	if m.successStatus == "" {
		m.successStatus = "success"
	}
	if m.failStatus == "" {
		m.failStatus = "fail"
	}
	return m
}

// Default returns a manager with the stock status strings that always
// answers 200, the behaviour of a bare envelope.
func Default() *Manager {
	return NewManager(config.Response{})
}

// SetMessageFunc installs a translator for failure messages.
func (m *Manager) SetMessageFunc(fn MessageFunc) *Manager {
	m.message = fn
	return m
}

// Install stores the manager in every request context.
func (m *Manager) Install() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(contextKey, m)
		c.Next()
	}
}

// FromContext returns the installed manager or Default.
func FromContext(c *gin.Context) *Manager {
	if c != nil {
		if v, ok := c.Get(contextKey); ok {
			if m, ok := v.(*Manager); ok {
				return m
			}
		}
	}
	return Default()
}

// Success wraps data in a success envelope.
func (m *Manager) Success(data any) gin.H {
	return gin.H{"status": m.successStatus, "data": data}
}

// SuccessWrapped merges data into the envelope instead of nesting it.
func (m *Manager) SuccessWrapped(data map[string]any) gin.H {
	out := gin.H{}
	for k, v := range data {
		out[k] = v
	}
	out["status"] = m.successStatus
	return out
}

// Fail builds a failure envelope for code.
func (m *Manager) Fail(c *gin.Context, code status.Code) gin.H {
	return gin.H{
		"status":      m.failStatus,
		"status_code": code.Key,
		"message":     m.messageFor(c, code),
	}
}

func (m *Manager) messageFor(c *gin.Context, code status.Code) string {
	if m.message != nil {
		if msg := m.message(c, code); msg != "" {
			return msg
		}
	}
	return code.Error()
}

// Create returns the HTTP status and envelope for an operation result.
func (m *Manager) Create(c *gin.Context, ok bool, data any) (int, gin.H) {
	if ok {
		return http.StatusOK, m.Success(data)
	}
	code := ToCode(data)
	return m.httpStatus(code), m.Fail(c, code)
}

func (m *Manager) httpStatus(code status.Code) int {
	if !m.statusMapping {
		return http.StatusOK
	}
	return code.HTTPStatus()
}

// Write sends the envelope for an operation result.
func (m *Manager) Write(c *gin.Context, ok bool, data any) {
	c.JSON(m.Create(c, ok, data))
}

// Abort sends a failure envelope and stops the handler chain.
func (m *Manager) Abort(c *gin.Context, code status.Code) {
	c.AbortWithStatusJSON(m.httpStatus(code), m.Fail(c, code))
}

// ToCode converts a failure payload into a status code.
func ToCode(data any) status.Code {
	switch v := data.(type) {
	case status.Code:
		return v
	case *status.Code:
		if v != nil {
			return *v
		}
	case error:
		var c status.Code
		if errors.As(v, &c) {
			return c
		}
		return status.Code{Key: status.InternalServerError.Key, Message: v.Error()}
	case string:
		return status.Code{Key: v}
	}
	return status.InternalServerError
}

// Write sends an envelope using the manager installed on c.
func Write(c *gin.Context, ok bool, data any) {
	FromContext(c).Write(c, ok, data)
}

// Abort sends a failure envelope using the manager installed on c.
func Abort(c *gin.Context, code status.Code) {
	FromContext(c).Abort(c, code)
}
