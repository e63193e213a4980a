// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package dliteerr implements the closed error taxonomy and global
// fail-mode/error-stream facility described by the runtime's error handling
// design: a tagged union of stable, serialisable error kinds, contextual
// wrapping that never loses the original kind, and an opt-in diagnostic
// stream for embedding programs that want errors surfaced as more than a
// return value.
package dliteerr

import (
	"errors"
	"fmt"
)

// Kind is a stable, serialisable error classification. Names never change
// once released, since they appear in serialized logs across languages.
type Kind string

// The closed set of error kinds.
const (
	IO                Kind = "IO"
	Runtime           Kind = "Runtime"
	Index             Kind = "Index"
	Type              Kind = "Type"
	Value             Kind = "Value"
	Syntax            Kind = "Syntax"
	Memory            Kind = "Memory"
	Key               Kind = "Key"
	Parse             Kind = "Parse"
	Permission        Kind = "Permission"
	Serialise         Kind = "Serialise"
	Unsupported       Kind = "Unsupported"
	Verify            Kind = "Verify"
	InconsistentData  Kind = "InconsistentData"
	InvalidMetadata   Kind = "InvalidMetadata"
	StorageOpen       Kind = "StorageOpen"
	StorageLoad       Kind = "StorageLoad"
	StorageSave       Kind = "StorageSave"
	Option            Kind = "Option"
	MissingInstance   Kind = "MissingInstance"
	MissingMetadata   Kind = "MissingMetadata"
	MetadataExist     Kind = "MetadataExist"
	Protocol          Kind = "Protocol"
	Timeout           Kind = "Timeout"
)

// Error is the runtime's concrete error type: a Kind, a formatted message,
// and an optional wrapped cause. Each layer that adds context calls Wrap
// again, prepending a short prefix without discarding the original Kind
// unless a storage boundary is being crossed (see Storage below).
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap lets errors.Is/errors.As see through the wrapped cause.
func (e *Error) Unwrap() error { return e.Cause }

// New creates a *Error with no wrapped cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a *Error that chains cause, preserving it for errors.Is/As.
// If cause is already a *Error and kind is the empty string, its Kind is
// reused so repeated context-prepending never loses the original kind.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	if kind == "" {
		var inner *Error
		if errors.As(cause, &inner) {
			kind = inner.Kind
		} else {
			kind = Runtime
		}
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Storage re-kinds err as it crosses the storage boundary, per §7: errors
// from a driver are always re-kinded to StorageLoad or StorageSave, with
// the inner error chained so the original kind is still reachable via
// errors.As.
func Storage(save bool, err error, format string, args ...any) *Error {
	kind := StorageLoad
	if save {
		kind = StorageSave
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: err}
}

// Is reports whether err is, or wraps, a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
