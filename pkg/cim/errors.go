package cim

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
)

// StatusCode is a CIM status code. StatusSuccess marks "no error".
type StatusCode uint32

const (
	StatusSuccess StatusCode = iota
	StatusFailed
	StatusAccessDenied
	StatusInvalidNamespace
	StatusInvalidParameter
	StatusInvalidClass
	StatusNotFound
	StatusNotSupported
	StatusClassHasChildren
	StatusClassHasInstances
	StatusInvalidSuperclass
	StatusAlreadyExists
	StatusNoSuchProperty
	StatusTypeMismatch
	StatusQueryLanguageNotSupported
	StatusInvalidQuery
	StatusMethodNotAvailable
	StatusMethodNotFound
)

var statusNames = [...]string{
	"CIM_ERR_SUCCESS", "CIM_ERR_FAILED", "CIM_ERR_ACCESS_DENIED",
	"CIM_ERR_INVALID_NAMESPACE", "CIM_ERR_INVALID_PARAMETER", "CIM_ERR_INVALID_CLASS",
	"CIM_ERR_NOT_FOUND", "CIM_ERR_NOT_SUPPORTED", "CIM_ERR_CLASS_HAS_CHILDREN",
	"CIM_ERR_CLASS_HAS_INSTANCES", "CIM_ERR_INVALID_SUPERCLASS", "CIM_ERR_ALREADY_EXISTS",
	"CIM_ERR_NO_SUCH_PROPERTY", "CIM_ERR_TYPE_MISMATCH", "CIM_ERR_QUERY_LANGUAGE_NOT_SUPPORTED",
	"CIM_ERR_INVALID_QUERY", "CIM_ERR_METHOD_NOT_AVAILABLE", "CIM_ERR_METHOD_NOT_FOUND",
}

func (c StatusCode) String() string {
	if int(c) < len(statusNames) {
		return statusNames[c]
	}
	return fmt.Sprintf("CIM_ERR_%d", uint32(c))
}

// Error is a status-coded CIM exception. It is what providers return for
// domain failures and what a response message carries back to the client.
type Error struct {
	Code             StatusCode          `json:"code"`
	Message          string              `json:"message,omitempty"`
	CIMMessage       string              `json:"cimMessage,omitempty"`
	SourceFile       string              `json:"sourceFile,omitempty"`
	SourceLine       uint32              `json:"sourceLine,omitempty"`
	ContentLanguages ContentLanguageList `json:"contentLanguages,omitempty"`
}

// NewError returns an Error stamped with the caller's file and line.
func NewError(code StatusCode, message string) *Error {
	return newError(code, message)
}

// Errorf is NewError with a formatted message.
func Errorf(code StatusCode, format string, args ...any) *Error {
	return newError(code, fmt.Sprintf(format, args...))
}

func newError(code StatusCode, message string) *Error {
	e := &Error{Code: code, Message: message}
	if _, file, line, ok := runtime.Caller(2); ok {
		e.SourceFile = filepath.Base(file)
		e.SourceLine = uint32(line)
	}
	return e
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// OK reports whether the error carries StatusSuccess.
func (e *Error) OK() bool { return e == nil || e.Code == StatusSuccess }

// ErrorFrom converts err into a CIM error. CIM errors anywhere in the chain
// are returned as they are; any other error becomes StatusFailed with its text.
func ErrorFrom(err error) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	return &Error{Code: StatusFailed, Message: err.Error()}
}

// IsStatus reports whether err is a CIM error with the given code.
func IsStatus(err error, code StatusCode) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Code == code
}
