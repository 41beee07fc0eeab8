//
//  Copyright 2024 The archivefs authors
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//  	http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.
//

package archivefs

import (
	"fmt"
	"io/fs"
)

// Kind identifies one member of the closed error taxonomy every backend
// normalises its failures into.
type Kind int

// The error taxonomy from the failure model: each Kind is surfaced by a
// specific backend primitive, never invented ad hoc.
const (
	// KindCreateFailed marks archive construction failure: malformed
	// container, wrong password at open, or a handle that is neither
	// readable nor writable.
	KindCreateFailed Kind = iota
	KindNotFound
	KindDirExpected
	KindFileExpected
	KindDirNotEmpty
	KindDirExists
	KindReadOnly
	KindPermDenied
	KindOperationFailed
	KindInvalidPath
	KindIllegalBackRef
	KindUnsupported
	KindInvalidArgument
)

func (k Kind) String() string {
	switch k {
	case KindCreateFailed:
		return "create failed"
	case KindNotFound:
		return "resource not found"
	case KindDirExpected:
		return "directory expected"
	case KindFileExpected:
		return "file expected"
	case KindDirNotEmpty:
		return "directory not empty"
	case KindDirExists:
		return "directory exists"
	case KindReadOnly:
		return "resource read-only"
	case KindPermDenied:
		return "permission denied"
	case KindOperationFailed:
		return "operation failed"
	case KindInvalidPath:
		return "invalid path"
	case KindIllegalBackRef:
		return "illegal back reference"
	case KindUnsupported:
		return "unsupported"
	case KindInvalidArgument:
		return "invalid argument"
	default:
		return "unknown error"
	}
}

// Error is the concrete error type every archivefs primitive returns. It
// carries the offending path, the taxonomy Kind, and chains the underlying
// codec/library error as its cause, mirroring avfs's *fs.PathError but
// closed over Kind instead of a platform errno.
type Error struct {
	Op   string // the primitive that failed, e.g. "openbin", "getinfo"
	Path string // the offending path, if any
	Kind Kind
	Err  error // the chained cause, if any
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}

	msg += ": " + e.Kind.String()

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

// Unwrap exposes the chained cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is maps the taxonomy onto the io/fs sentinel errors so callers that only
// know stdlib idioms (errors.Is(err, fs.ErrNotExist)) still work.
func (e *Error) Is(target error) bool {
	switch target {
	case fs.ErrNotExist:
		return e.Kind == KindNotFound
	case fs.ErrExist:
		return e.Kind == KindDirExists
	case fs.ErrPermission:
		return e.Kind == KindPermDenied || e.Kind == KindReadOnly
	case fs.ErrInvalid:
		return e.Kind == KindInvalidArgument || e.Kind == KindInvalidPath
	}

	return false
}

// NewError builds an *Error for the given operation, path and kind,
// chaining cause if non-nil.
func NewError(op, path string, kind Kind, cause error) *Error {
	return &Error{Op: op, Path: path, Kind: kind, Err: cause}
}

// IsKind reports whether err (or any error it wraps) is an *Error of the
// given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !asError(err, &e) {
		return false
	}

	return e.Kind == kind
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}

		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}

		err = u.Unwrap()
	}

	return false
}

// fmtErr is a small helper used by backends to wrap a lower-level codec
// error with context while preserving it as the Unwrap cause.
func fmtErr(op, path string, kind Kind, format string, args ...any) *Error {
	return NewError(op, path, kind, fmt.Errorf(format, args...))
}
