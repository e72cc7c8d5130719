// Copyright (C) 2024 Packsmith ApS.
//
// This library is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; version
// 2.1 only.
//
// This library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// The license can be found in the file `LICENSE` in the top level
// directory of this repository.

package ppkg

import (
	"errors"
	"fmt"
)

// Kind classifies an operation failure.
type Kind int

const (
	// KindBackend covers any backend or network failure that doesn't fit
	// a more specific kind. The original message is preserved.
	KindBackend Kind = iota
	// KindValidation is a bad name, URI or registry shape. Raised before
	// any backend call and never retried.
	KindValidation
	// KindNotFound means the package or ref does not exist.
	KindNotFound
	// KindPermission means the backend rejected the call due to access
	// control.
	KindPermission
	// KindConflict means a push was rejected due to concurrent
	// modification.
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not-found"
	case KindPermission:
		return "permission"
	case KindConflict:
		return "conflict"
	default:
		return "backend"
	}
}

// Error is the failure value every workflow returns. It carries the kind,
// a message, and the input context of the operation.
type Error struct {
	Kind     Kind
	Message  string
	Package  string
	Registry string

	// The underlying error, if any.
	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Package != "" {
		msg += fmt.Sprintf(" (package '%s')", e.Package)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an Error of the given kind.
func NewError(kind Kind, format string, a ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, a...),
	}
}

func validationErr(format string, a ...interface{}) *Error {
	return NewError(KindValidation, format, a...)
}

// IsKind returns whether err (or anything it wraps) is an Error of the
// given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// withContext attaches the operation's package name and registry to an
// error, converting non-taxonomy errors into KindBackend. Backend
// implementations may return *Error values themselves (for example
// KindNotFound); those keep their kind. The found error is never mutated;
// context lands on a copy.
func withContext(err error, pkg string, registry string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		attached := *e
		if attached.Package == "" {
			attached.Package = pkg
		}
		if attached.Registry == "" {
			attached.Registry = registry
		}
		return &attached
	}
	return &Error{
		Kind:     KindBackend,
		Message:  err.Error(),
		Package:  pkg,
		Registry: registry,
		Err:      err,
	}
}
