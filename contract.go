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

// Package archivefs defines the VFS contract every archive backend
// satisfies, the Info/Meta namespace model, the error taxonomy, and the
// operations derived from the primitives (walk, text/bytes convenience,
// existence checks). Concrete backends (zipfs, tarfs, sevenzipfs, isofs),
// the copy-on-write overlay, and the archive façade all depend on this
// package; it depends on none of them.
package archivefs

import "io"

// OpenMode selects how OpenBin treats the target path, mirroring the
// spec's mode strings without tying callers to OS open(2) flag bits.
type OpenMode int

const (
	// ModeRead opens an existing file for reading only.
	ModeRead OpenMode = iota
	// ModeWrite creates or truncates a file for writing only.
	ModeWrite
	// ModeAppend creates if needed and writes at the current end of file.
	ModeAppend
	// ModeReadWrite opens an existing file for both reading and writing.
	ModeReadWrite
	// ModeCreate creates a new file, failing if one already exists, for
	// reading and writing.
	ModeCreate
)

// IsWriting reports whether m can mutate the target, the split the
// overlay's OpenBin formula depends on (spec.md §4.4).
func (m OpenMode) IsWriting() bool {
	return m != ModeRead
}

// Whence selects the origin for File.Seek, matching io.Seeker's constants
// under names local callers of this contract use directly.
type Whence = int

// Seek origins, re-exported from io for convenience.
const (
	SeekSet    = io.SeekStart
	SeekCur    = io.SeekCurrent
	SeekEndRef = io.SeekEnd
)

// File is a scoped handle to the bytes of a single VFS entry. Its lifetime
// is independent of the VFS that produced it: closing a File never closes
// its parent VFS (spec.md §4.2).
type File interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer

	// Tell returns the current offset, equivalent to Seek(0, SeekCur) but
	// without the seek semantics (clamping, negative-offset rejection).
	Tell() (int64, error)
	Readable() bool
	Writable() bool
	Seekable() bool
}

// DirHandle is returned by MakeDir; most backends have no distinct
// directory handle type and return a no-op implementation.
type DirHandle interface {
	io.Closer
}

// ScanPage selects a sub-range [Start, End) of a directory listing,
// applied after union and deduplication by the overlay and by backends
// that support it natively.
type ScanPage struct {
	Start, End int
}

// VFS is the contract every archive backend, the writable overlay, and the
// archive façade all implement. There is deliberately no deep class
// hierarchy behind it: polymorphism is this single interface (spec.md
// §9 "Polymorphism over backends").
type VFS interface {
	GetInfo(path string, namespaces NamespaceSet) (*Info, error)
	ListDir(path string) ([]string, error)
	ScanDir(path string, namespaces NamespaceSet, page *ScanPage) ([]*Info, error)
	OpenBin(path string, mode OpenMode) (File, error)
	MakeDir(path string, perm *uint32, recreate bool) (DirHandle, error)
	Remove(path string) error
	RemoveDir(path string) error
	SetInfo(path string, info *Info) error
	GetMeta() Meta
}
