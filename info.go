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

import "time"

// Kind of a VFS entry.
type ResourceKind int

// The set of resource kinds every Entry can report.
const (
	KindFile ResourceKind = iota
	KindDirectory
	KindSymlink
	KindBlockDevice
	KindCharDevice
	KindFIFO
	KindSocket
	KindUnknown
)

// Namespace names an Info sub-map a caller can request from GetInfo/ScanDir.
// The set is closed except for the container-specific extension namespace
// each backend registers its own raw fields under ("zip", "tar", "iso",
// "7z").
type Namespace string

// The universal namespaces every backend understands.
const (
	NamespaceBasic   Namespace = "basic"
	NamespaceDetails Namespace = "details"
	NamespaceAccess  Namespace = "access"
)

// Basic holds the fields always present regardless of which namespaces
// were requested.
type Basic struct {
	Name  string
	IsDir bool
}

// Details holds size/kind/timestamp fields.
type Details struct {
	Size     int64
	Kind     ResourceKind
	Modified *time.Time
	Accessed *time.Time
	Created  *time.Time
}

// Access holds POSIX-style permission/ownership fields, where the
// container supports them.
type Access struct {
	Permissions *uint32
	Owner       string
	Group       string
	UID         *int
	GID         *int
}

// Info is the product of the namespaces a caller requested. Namespaces that
// were not requested, or that the backend has no data for, are left nil;
// an unrecognised namespace name yields no error and no data (an empty
// Raw sub-map), per the failure model's "unknown namespace" boundary case.
type Info struct {
	Basic   Basic
	Details *Details
	Access  *Access
	Raw     map[Namespace]map[string]any // container-specific namespaces
}

// Has reports whether ns was requested and is present in Raw.
func (i *Info) Has(ns Namespace) bool {
	if i.Raw == nil {
		return false
	}

	_, ok := i.Raw[ns]

	return ok
}

// NamespaceSet is a small set helper over the namespaces a caller passed to
// GetInfo/ScanDir.
type NamespaceSet map[Namespace]bool

// NewNamespaceSet builds a NamespaceSet from a list of namespace names.
func NewNamespaceSet(names ...Namespace) NamespaceSet {
	set := make(NamespaceSet, len(names))
	for _, n := range names {
		set[n] = true
	}

	return set
}

// Has reports whether ns is in the set.
func (s NamespaceSet) Has(ns Namespace) bool {
	return s[ns]
}
