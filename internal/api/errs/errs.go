// Package errs provides types and support related to web error functionality.
package errs

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Code represents an error category that maps onto a HTTP status code.
type Code struct {
	value int
}

var (
	OK                 = Code{value: 0}
	InvalidArgument    = Code{value: 3}
	NotFound           = Code{value: 5}
	FailedPrecondition = Code{value: 9}
	Internal           = Code{value: 13}
	Unavailable        = Code{value: 14}
)

var codeNames = map[int]string{
	0:  "ok",
	3:  "invalid_argument",
	5:  "not_found",
	9:  "failed_precondition",
	13: "internal",
	14: "unavailable",
}

var httpStatus = map[int]int{
	0:  http.StatusOK,
	3:  http.StatusBadRequest,
	5:  http.StatusNotFound,
	9:  http.StatusConflict,
	13: http.StatusInternalServerError,
	14: http.StatusServiceUnavailable,
}

// String returns the code's name.
func (c Code) String() string { return codeNames[c.value] }

// Error represents an error in the system.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// New constructs an error based on an app error.
func New(code Code, err error) *Error {
	return &Error{Code: code, Message: err.Error()}
}

// Newf constructs an error based on an error format.
func Newf(code Code, format string, v ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, v...)}
}

// Error implements the error interface.
func (e *Error) Error() string { return e.Message }

// HTTPStatus implements the web package httpStatus interface so the web
// framework can use the correct http status.
func (e *Error) HTTPStatus() int { return httpStatus[e.Code.value] }

// Encode implements the web.Encoder interface.
func (e *Error) Encode() ([]byte, string, error) {
	data, err := json.Marshal(struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}{
		Code:    e.Code.String(),
		Message: e.Message,
	})
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}
