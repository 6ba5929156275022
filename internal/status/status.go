// Package status defines the result codes returned to API clients.
//
// A Code is both an error and the payload of a failure envelope:
//
//	{"status": "fail", "status_code": "db_data_not_found", "message": "Data Not Found"}
package status

import (
	"errors"
	"net/http"
)

// Code is a machine readable key with a default human message.
type Code struct {
	Key     string
	Message string
}

// New creates a custom code.
func New(key, message string) Code {
	return Code{Key: key, Message: message}
}

func (c Code) Error() string {
	if c.Message != "" {
		return c.Message
	}
	return c.Key
}

// Is reports whether target is a Code with the same key.
func (c Code) Is(target error) bool {
	var other Code
	if errors.As(target, &other) {
		return other.Key == c.Key
	}
	return false
}

// Database
var (
	DBAddErr           = Code{"db_add_err", "Database Add Error"}
	DBDeleteErr        = Code{"db_delete_err", "Database Delete Error"}
	DBUpdateErr        = Code{"db_update_err", "Database Update Error"}
	DBQueryErr         = Code{"db_query_err", "Database Query Error"}
	DBDataNotFound     = Code{"db_data_not_found", "Data Not Found"}
	DBDataAlreadyExist = Code{"db_data_already_exist", "Data Already Exists"}
	DBDataInUse        = Code{"db_data_in_use", "Data In Use"}
)

// Remote requests
var APIRequestErr = Code{"api_req_err", "Remote api request error"}

// Request handling
var (
	URIUnauthorized     = Code{"uri_unauthorized", "Unauthorized"}
	URIForbidden        = Code{"uri_forbidden", "Forbidden"}
	URINotFound         = Code{"uri_not_found", "Not Found"}
	MethodNotAllowed    = Code{"method_not_allowed", "Method Not Allowed"}
	InternalServerError = Code{"internal_server_error", "Internal Server Error"}
	BadRequest          = Code{"bad_request", "Bad Request"}
	TooManyRequests     = Code{"too_many_requests", "Too Many Requests"}
)

// Accounts
var (
	AccountNotFound  = Code{"account_not_found", "No Account Found"}
	AccountDisabled  = Code{"account_disabled", "Account Disabled"}
	AccountVerifyErr = Code{"account_verify_err", "Wrong Password"}
)

var httpStatuses = map[string]int{
	DBDataNotFound.Key:     http.StatusNotFound,
	DBDataAlreadyExist.Key: http.StatusConflict,
	DBDataInUse.Key:        http.StatusConflict,
	APIRequestErr.Key:      http.StatusBadGateway,
	URIUnauthorized.Key:    http.StatusUnauthorized,
	URIForbidden.Key:       http.StatusForbidden,
	URINotFound.Key:        http.StatusNotFound,
	MethodNotAllowed.Key:   http.StatusMethodNotAllowed,
	BadRequest.Key:         http.StatusBadRequest,
	TooManyRequests.Key:    http.StatusTooManyRequests,
	AccountNotFound.Key:    http.StatusUnauthorized,
	AccountDisabled.Key:    http.StatusForbidden,
	AccountVerifyErr.Key:   http.StatusUnauthorized,
}

// HTTPStatus maps the code to an HTTP status. Unknown keys are 500,
// except custom codes which are treated as client errors.
func (c Code) HTTPStatus() int {
	if s, ok := httpStatuses[c.Key]; ok {
		return s
	}
	if isBuiltin(c.Key) {
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}

func isBuiltin(key string) bool {
	switch key {
	case DBAddErr.Key, DBDeleteErr.Key, DBUpdateErr.Key, DBQueryErr.Key, InternalServerError.Key:
		return true
	}
	return false
}

// From extracts a Code from err. Errors that do not wrap a Code keep their
// text as the message under the fallback key.
func From(err error, fallback Code) Code {
	if err == nil {
		return fallback
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return Code{Key: fallback.Key, Message: err.Error()}
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	var c Code
	return errors.As(err, &c) && c.Key == code.Key
}
