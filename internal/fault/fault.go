// MIT License
//
// Copyright (c) 2025 Mike Lane
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package fault carries stable error codes across component boundaries so
// that API handlers and audit records can classify failures without string
// matching. Errors wrap normally with %w; CodeOf walks the chain.
package fault

import (
	"errors"
	"fmt"
)

// Code identifies a failure class. Codes are part of the API contract and
// must not be renamed.
type Code string

const (
	CodeValidation        Code = "validation_error"
	CodeNamespaceNotFound Code = "namespace_not_found"
	CodeAuthorization     Code = "authorization_error"
	CodePermissionCheck   Code = "permission_check_error"
	CodeCount             Code = "count_error"
	CodeLimitExceeded     Code = "limit_exceeded"
	CodeNamespaceConflict Code = "namespace_conflict"
	CodeTimeout           Code = "timeout_error"
	CodeCircuitOpen       Code = "circuit_open_error"
	CodeKubectl           Code = "kubectl_error"
	CodeTaskNotFound      Code = "task_not_found"
	CodeUnexpected        Code = "unexpected_error"
)

// Error is a coded error. Message is safe to return to callers.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches against another *Error by code, so errors.Is(err, &Error{Code: c})
// works without comparing messages.
func (e *Error) Is(target error) bool {
	var fe *Error
	if errors.As(target, &fe) {
		return e.Code == fe.Code
	}
	return false
}

// New creates a coded error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a coded error around an underlying cause.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or
// CodeUnexpected when err carries no code. A nil error has no code and
// returns the empty string.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return CodeUnexpected
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}
