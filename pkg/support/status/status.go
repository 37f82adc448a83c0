// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package status defines the error categories returned by the HLO optimization packages.
//
// Errors are created with the constructors (InvalidArgumentf, NotFoundf, ...), which wrap one of the
// sentinel errors with github.com/pkg/errors, so they carry a stack-trace (print them with "%+v") and can
// be tested with errors.Is or with the Is* helpers.
package status

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidArgument is returned when a caller-supplied value is out of range or malformed:
	// e.g. a non-positive replica count, a bad shape index.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound is returned when a looked-up entity doesn't exist: a device id not present in an
	// assignment, a platform without a registered placer, an unknown pass name.
	ErrNotFound = errors.New("not found")

	// ErrUnimplemented is returned for code paths intentionally not supported.
	ErrUnimplemented = errors.New("unimplemented")

	// ErrInternal is returned when an invariant of the IR or of a pass is violated.
	// It always indicates a bug, either in the input program or in a pass.
	ErrInternal = errors.New("internal error")
)

// InvalidArgumentf returns an error wrapping ErrInvalidArgument with the formatted message.
func InvalidArgumentf(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidArgument, format, args...)
}

// NotFoundf returns an error wrapping ErrNotFound with the formatted message.
func NotFoundf(format string, args ...any) error {
	return errors.Wrapf(ErrNotFound, format, args...)
}

// Unimplementedf returns an error wrapping ErrUnimplemented with the formatted message.
func Unimplementedf(format string, args ...any) error {
	return errors.Wrapf(ErrUnimplemented, format, args...)
}

// Internalf returns an error wrapping ErrInternal with the formatted message.
func Internalf(format string, args ...any) error {
	return errors.Wrapf(ErrInternal, format, args...)
}

// AsInternal re-categorizes err as an internal error, prefixing it with the formatted message.
// Errors that already belong to a category keep it, and only get the message added.
// It returns nil if err is nil.
func AsInternal(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	if Code(err) != nil {
		return errors.WithMessagef(err, format, args...)
	}
	return errors.Wrapf(ErrInternal, "%s: %v", fmt.Sprintf(format, args...), err)
}

// AsInvalidArgument is like AsInternal, but uncategorized errors become invalid argument errors.
func AsInvalidArgument(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	if Code(err) != nil {
		return errors.WithMessagef(err, format, args...)
	}
	return errors.Wrapf(ErrInvalidArgument, "%s: %v", fmt.Sprintf(format, args...), err)
}

// IsInvalidArgument returns whether err (or any error it wraps) is an ErrInvalidArgument.
func IsInvalidArgument(err error) bool { return errors.Is(err, ErrInvalidArgument) }

// IsNotFound returns whether err (or any error it wraps) is an ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsUnimplemented returns whether err (or any error it wraps) is an ErrUnimplemented.
func IsUnimplemented(err error) bool { return errors.Is(err, ErrUnimplemented) }

// IsInternal returns whether err (or any error it wraps) is an ErrInternal.
func IsInternal(err error) bool { return errors.Is(err, ErrInternal) }

// Code returns the sentinel error of the category err belongs to, or nil if it doesn't belong to any.
func Code(err error) error {
	for _, sentinel := range []error{ErrInvalidArgument, ErrNotFound, ErrUnimplemented, ErrInternal} {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	return nil
}
