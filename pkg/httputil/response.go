// Package httputil provides HTTP handler utilities for consistent error
// bodies, JSON encoding/decoding, validation and request parsing.
package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/storage/postgres"
)

// Error codes carried in the error body
const (
	CodeValidation = "validation_error"
	CodeIntegrity  = "integrity_error"
	CodeInternal   = "internal_server_error"
)

// APIResponse is the success envelope
type APIResponse struct {
	Status  bool        `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// ErrorBody is the body of every error response
type ErrorBody struct {
	Status    bool        `json:"status"`
	Path      string      `json:"path"`
	Timestamp int64       `json:"timestamp"`
	ErrorCode *string     `json:"error_code"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data"`
}

// Error is an error with an HTTP status and a message that is safe to return
type Error struct {
	Status  int
	Message string
	Code    string
	Data    interface{}
	Headers map[string]string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

// NewError creates an HTTP error with no error code
func NewError(status int, message string) *Error {
	return &Error{Status: status, Message: message}
}

func BadRequest(message string) *Error   { return NewError(http.StatusBadRequest, message) }
func Unauthorized(message string) *Error { return NewError(http.StatusUnauthorized, message) }
func Forbidden(message string) *Error    { return NewError(http.StatusForbidden, message) }
func NotFound(message string) *Error     { return NewError(http.StatusNotFound, message) }
func Conflict(message string) *Error     { return NewError(http.StatusConflict, message) }

// Unprocessable is a 422 validation error with field details
func Unprocessable(details ...FieldError) *Error {
	return &Error{
		Status:  http.StatusUnprocessableEntity,
		Message: "Invalid submitted data",
		Code:    CodeValidation,
		Data:    details,
	}
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteData writes data inside the success envelope
func WriteData(w http.ResponseWriter, status int, message string, data interface{}) {
	if message == "" {
		message = "Success"
	}
	_ = WriteJSON(w, status, APIResponse{Status: true, Message: message, Data: data})
}

// WriteSuccess writes a 200 envelope
func WriteSuccess(w http.ResponseWriter, data interface{}) {
	WriteData(w, http.StatusOK, "", data)
}

// WriteCreated writes a 201 envelope
func WriteCreated(w http.ResponseWriter, message string, data interface{}) {
	WriteData(w, http.StatusCreated, message, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteError maps err onto the error body. *Error values keep their status
// and message, validator errors become 422, unique violations 409 and
// anything else a 500 whose cause is only logged.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		httpErr  *Error
		valErrs  validator.ValidationErrors
		body     = ErrorBody{Path: r.URL.Path, Timestamp: time.Now().UnixMilli()}
		status   int
		code     string
		fieldErr []FieldError
	)

	switch {
	case errors.As(err, &httpErr):
		status = httpErr.Status
		code = httpErr.Code
		body.Message = httpErr.Message
		body.Data = httpErr.Data
		for k, v := range httpErr.Headers {
			w.Header().Set(k, v)
		}
	case errors.As(err, &valErrs):
		fieldErr = fieldErrors(valErrs)
		status = http.StatusUnprocessableEntity
		code = CodeValidation
		body.Message = "Invalid submitted data"
		body.Data = fieldErr
	case postgres.IsUniqueViolation(err):
		observability.FromContext(r.Context()).WithError(err).Error("Database integrity error")
		status = http.StatusConflict
		code = CodeIntegrity
		body.Message = "Data integrity error"
	default:
		observability.FromContext(r.Context()).WithError(err).
			WithField("path", r.URL.Path).
			Error("Unhandled error")
		status = http.StatusInternalServerError
		code = CodeInternal
		body.Message = "Internal server error"
	}

	if code != "" {
		body.ErrorCode = &code
	}
	_ = WriteJSON(w, status, body)
}

// WriteErrorMessage writes an error body with the given status and message
func WriteErrorMessage(w http.ResponseWriter, r *http.Request, status int, message string) {
	WriteError(w, r, NewError(status, message))
}
