package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by repositories when no row matches.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned by repositories on a shortID uniqueness violation.
	ErrConflict = errors.New("shortID already exists")
)

// ErrorKind classifies a service failure. The HTTP layer maps kinds to
// status codes.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindBadRequest
	KindNotFound
	KindMethodNotAllowed
	KindUnavailable
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "Validation Failed"
	case KindBadRequest:
		return "Bad Request"
	case KindNotFound:
		return "Not Found"
	case KindMethodNotAllowed:
		return "Method Not Allowed"
	case KindUnavailable:
		return "Service Unavailable"
	default:
		return "Internal Server Error"
	}
}

// Field error codes.
const (
	CodeMissing = "Missing"
	CodeInvalid = "Invalid"
)

// FieldError locates a validation failure on one input field.
type FieldError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (f FieldError) Error() string {
	return f.Field + " " + f.Message
}

// Error is the error value returned by the lifecycle service.
type Error struct {
	Kind        ErrorKind
	Message     string
	Description string
	Fields      []FieldError
	Err         error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Description != "" {
		msg += ": " + e.Description
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// AsError extracts a *Error from err. Any other error is reported as internal.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}

func ValidationFailed(fields ...FieldError) *Error {
	return &Error{
		Kind:        KindValidation,
		Message:     KindValidation.String(),
		Description: "Invalid or missing properties",
		Fields:      fields,
	}
}

func BadRequest(description string, fields ...FieldError) *Error {
	return &Error{Kind: KindBadRequest, Message: KindBadRequest.String(), Description: description, Fields: fields}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: KindNotFound.String(), Description: fmt.Sprintf(format, args...)}
}

func MethodNotAllowed(description string) *Error {
	return &Error{Kind: KindMethodNotAllowed, Message: KindMethodNotAllowed.String(), Description: description}
}

func Unavailable(err error) *Error {
	return &Error{Kind: KindUnavailable, Message: KindUnavailable.String(), Err: err}
}

func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: KindInternal.String(), Err: err}
}
