// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package fiu

import (
	"errors"
	"fmt"
	"strings"
)

// Code is a stable numeric error code surfaced to callers
type Code int

// Error codes. The numeric values are shared with other FIU drivers and must
// not change.
const (
	CodeMalformedResponse  Code = 5002
	CodeDeviceRejected     Code = 5003
	CodeConflictingRequest Code = 5004
	CodeResponseTimeout    Code = 5005
	CodeUnsafeTransition   Code = 5010
	CodeInvalidChannel     Code = 5051
	CodeInvalidModule      Code = 5075
)

var codeNames = map[Code]string{
	CodeMalformedResponse:  "invalid response from module",
	CodeDeviceRejected:     "module reported an error",
	CodeConflictingRequest: "module reported a conflicting request",
	CodeResponseTimeout:    "no response from module",
	CodeUnsafeTransition:   "unable to set state, another channel is using the DMM or a fault",
	CodeInvalidChannel:     "channel input is out of range",
	CodeInvalidModule:      "module input is out of range",
}

// String returns the description of the code
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("unknown error code %d", int(c))
}

// Sentinels for errors.Is. Any *Error with the same Code matches.
var (
	ErrMalformedResponse  = &Error{Code: CodeMalformedResponse}
	ErrDeviceRejected     = &Error{Code: CodeDeviceRejected}
	ErrConflictingRequest = &Error{Code: CodeConflictingRequest}
	ErrResponseTimeout    = &Error{Code: CodeResponseTimeout}
	ErrUnsafeTransition   = &Error{Code: CodeUnsafeTransition}
	ErrInvalidChannel     = &Error{Code: CodeInvalidChannel}
	ErrInvalidModule      = &Error{Code: CodeInvalidModule}
)

// Error is a failed FIU operation.
//
// Module and Channel are -1 when the failure is not tied to one. Command is
// the outbound frame body (no checksum) and Raw the bytes received, when any.
type Error struct {
	Code    Code
	Op      string
	Module  int
	Channel int
	Message string
	Command string
	Raw     []byte
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("fiu: ")
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Code.String())
	fmt.Fprintf(&b, " (code %d)", int(e.Code))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Command != "" {
		fmt.Fprintf(&b, " [cmd %s]", e.Command)
	}
	if e.Raw != nil {
		fmt.Fprintf(&b, " [raw %q]", e.Raw)
	}
	return b.String()
}

// Is matches any *Error carrying the same code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// newError builds an *Error not tied to a module or channel
func newError(code Code, msg string) *Error {
	return &Error{Code: code, Module: -1, Channel: -1, Message: msg}
}

// CodeOf returns the code of err if it is an *Error, or 0
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}
