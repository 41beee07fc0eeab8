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

// Package vfspath implements the lexical path operations shared by every
// archivefs backend. Paths are UTF-8 strings using '/' as separator and are
// always absolute once normalised; '/' is the root.
package vfspath

import (
	"errors"
	"strings"
)

// Separator is the path separator used by every archivefs VFS.
const Separator = '/'

// Root is the normalised root path.
const Root = "/"

// ErrInvalidPath is returned when a path contains a forbidden control
// character (NUL everywhere, plus 0x01 for ISO-9660 callers).
var ErrInvalidPath = errors.New("invalid path")

// ErrIllegalBackRef is returned when a path's ".." components would
// escape the root.
var ErrIllegalBackRef = errors.New("illegal back reference")

// Validate rejects NUL bytes unconditionally and 0x01 when isoStrict is set.
func Validate(path string, isoStrict bool) error {
	for i := 0; i < len(path); i++ {
		c := path[i]
		if c == 0x00 || (isoStrict && c == 0x01) {
			return ErrInvalidPath
		}
	}

	return nil
}

// Norm normalises path: it collapses "." and "..", removes redundant
// separators, and always returns an absolute path rooted at "/". Paths
// whose ".." components would escape the root fail with ErrIllegalBackRef.
func Norm(path string) (string, error) {
	if err := Validate(path, false); err != nil {
		return "", err
	}

	parts := strings.Split(path, string(Separator))
	stack := make([]string, 0, len(parts))

	for _, p := range parts {
		switch p {
		case "", ".":
			continue
		case "..":
			if len(stack) == 0 {
				return "", ErrIllegalBackRef
			}

			stack = stack[:len(stack)-1]
		default:
			stack = append(stack, p)
		}
	}

	return Root + strings.Join(stack, string(Separator)), nil
}

// Abs is an alias of Norm: every archivefs path is absolute once normalised.
func Abs(path string) (string, error) {
	return Norm(path)
}

// Join joins path elements and normalises the result.
func Join(elem ...string) (string, error) {
	return Norm(strings.Join(elem, string(Separator)))
}

// Split splits path into its parent directory and base name, mirroring
// path.Split but returning the parent without a trailing separator
// (except for the root, whose parent is itself).
func Split(path string) (parent, base string) {
	path = strings.TrimSuffix(path, string(Separator))
	if path == "" {
		return Root, ""
	}

	i := strings.LastIndexByte(path, Separator)
	if i <= 0 {
		return Root, path[i+1:]
	}

	return path[:i], path[i+1:]
}

// Dirname returns the parent directory of path.
func Dirname(path string) string {
	parent, _ := Split(path)
	return parent
}

// Basename returns the final component of path.
func Basename(path string) string {
	_, base := Split(path)
	return base
}

// ForceDir appends a trailing separator to path if it does not already end
// with one.
func ForceDir(path string) string {
	if strings.HasSuffix(path, string(Separator)) {
		return path
	}

	return path + string(Separator)
}

// Parts splits path into its non-empty components, root first.
func Parts(path string) []string {
	trimmed := strings.Trim(path, string(Separator))
	if trimmed == "" {
		return []string{Root}
	}

	comps := strings.Split(trimmed, string(Separator))
	parts := make([]string, 0, len(comps)+1)
	parts = append(parts, Root)
	parts = append(parts, comps...)

	return parts
}

// SplitExt splits base into (name, ext) where ext includes the leading dot.
// A leading dot in the whole name (dotfiles) is not treated as an
// extension separator.
func SplitExt(base string) (name, ext string) {
	i := strings.LastIndexByte(base, '.')
	if i <= 0 {
		return base, ""
	}

	return base[:i], base[i:]
}

// IsBase reports whether p is a prefix directory of q, i.e. q lies at or
// below p in the tree.
func IsBase(p, q string) bool {
	p = strings.TrimSuffix(p, string(Separator))
	if p == "" {
		p = Root
	}

	if p == q {
		return true
	}

	return strings.HasPrefix(q, ForceDir(p))
}

// FromBase removes the prefix p from q. It panics if p is not a base of q;
// callers must check IsBase first.
func FromBase(p, q string) string {
	if !IsBase(p, q) {
		panic("vfspath: FromBase: " + p + " is not a base of " + q)
	}

	if p == q {
		return ""
	}

	rest := strings.TrimPrefix(q, ForceDir(p))
	if p == Root {
		rest = strings.TrimPrefix(q, Root)
	}

	return rest
}

// Rel returns the immediate child component of q relative to base p: the
// first path segment after stripping p's prefix, with anything deeper
// collapsed away. Used by ListDir implementations to fold a flat list of
// full paths into the direct entries of a single directory. It panics if
// p is not a base of q; callers must check IsBase first (FromBase does).
func Rel(p, q string) string {
	rest := FromBase(p, q)
	return strings.SplitN(rest, "/", 2)[0]
}

// Recurse returns every prefix of path from the root up to and including
// path itself, e.g. Recurse("/a/b/c") = ["/", "/a", "/a/b", "/a/b/c"].
func Recurse(path string) []string {
	parts := Parts(path)
	out := make([]string, 0, len(parts))
	cur := ""

	for i, p := range parts {
		if i == 0 {
			cur = Root
			out = append(out, cur)

			continue
		}

		if cur == Root {
			cur = Root + p
		} else {
			cur = cur + string(Separator) + p
		}

		out = append(out, cur)
	}

	return out
}

// Iterate returns every non-root component of path in order.
func Iterate(path string) []string {
	parts := Parts(path)
	if len(parts) == 0 {
		return nil
	}

	return parts[1:]
}
