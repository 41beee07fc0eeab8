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

// Package archivebase implements the shared read-only archive base every
// concrete backend (zipfs, tarfs, sevenzipfs, isofs) embeds: handle
// normalisation and ownership, the single mutex serialising access to the
// backing byte stream, and the reject-on-write semantics of spec.md §4.3.
//
// It is grounded on avfs/vfs/rofs's "wrap a VFS, delegate reads, reject
// writes" shape, generalised from "wrap a VFS" to "wrap a format decoder"
// since an archive reader is not itself a VFS implementation but an
// avfs.VFSBase-shaped codec (Backend below).
package archivebase

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/avfs-contrib/archivefs"
)

// Backend is the read-only decoding surface a concrete archive format
// provides. archivebase.Base turns a Backend into a full archivefs.VFS,
// rejecting every mutating primitive.
type Backend interface {
	GetInfo(path string, namespaces archivefs.NamespaceSet) (*archivefs.Info, error)
	ListDir(path string) ([]string, error)
	ScanDir(path string, namespaces archivefs.NamespaceSet, page *archivefs.ScanPage) ([]*archivefs.Info, error)
	OpenBin(path string) (archivefs.File, error)
	Meta() archivefs.Meta
}

// Handle is the backing byte container an archive is read from: either an
// OS filename or an in-memory/caller-supplied stream supporting at least
// Read and Seek.
type Handle struct {
	// Name is set when the handle is a filename.
	Name string
	// Stream is set when the handle is a byte stream.
	Stream io.ReadSeeker
	// closer is the Stream's Close method, if it has one and CloseHandle
	// was requested.
	closer io.Closer
}

// ErrInvalidHandle is returned when a handle is neither a filename nor a
// stream supporting Read and Seek.
var ErrInvalidHandle = errors.New("handle is neither a filename nor a readable, seekable stream")

// NewFileHandle normalises an OS filename into a Handle: expands
// environment variables and "~", then absolutises it.
func NewFileHandle(name string) (Handle, error) {
	expanded := os.ExpandEnv(name)

	if expanded == "~" || len(expanded) > 1 && expanded[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Handle{}, err
		}

		expanded = filepath.Join(home, expanded[1:])
	}

	abs, err := filepath.Abs(expanded)
	if err != nil {
		return Handle{}, err
	}

	return Handle{Name: abs}, nil
}

// NewStreamHandle wraps an already-open stream. If the stream also
// implements io.Closer and closeHandle is true, Base.Close will close it.
func NewStreamHandle(stream io.ReadSeeker, closeHandle bool) Handle {
	h := Handle{Stream: stream}
	if closeHandle {
		if c, ok := stream.(io.Closer); ok {
			h.closer = c
		}
	}

	return h
}

// Base wraps a Backend and a Handle into a full read-only archivefs.VFS,
// owning the single mutex that serialises every I/O primitive on the
// backing handle (spec.md §5).
type Base struct {
	mu              sync.Mutex
	handle          Handle
	backend         Backend
	initialPosition int64
	closed          bool
}

// New takes an already-open handle, remembers its initial stream position
// (so a later save can rewind it), and pairs it with backend to produce a
// read-only VFS. Construction failures from the caller's backend
// constructor should be wrapped by the caller as KindCreateFailed before
// reaching here; New itself only fails on an empty Handle or when the
// stream's current position cannot be read.
func New(handle Handle, backend Backend) (*Base, error) {
	if handle.Name == "" && handle.Stream == nil {
		return nil, archivefs.NewError("open", "", archivefs.KindCreateFailed, ErrInvalidHandle)
	}

	var initial int64

	if handle.Stream != nil {
		pos, err := handle.Stream.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, archivefs.NewError("open", "", archivefs.KindCreateFailed, err)
		}

		initial = pos
	}

	return &Base{handle: handle, backend: backend, initialPosition: initial}, nil
}

// Lock acquires the backing handle's single mutex. Concrete backends call
// this before any primitive that touches the shared stream (ISO reading a
// directory extent, 7z re-opening the whole archive, etc).
func (b *Base) Lock() { b.mu.Lock() }

// Unlock releases the backing handle's mutex.
func (b *Base) Unlock() { b.mu.Unlock() }

// Handle returns the backing Handle.
func (b *Base) Handle() Handle { return b.handle }

// InitialPosition returns the stream offset observed at construction time.
func (b *Base) InitialPosition() int64 { return b.initialPosition }

// GetInfo delegates to the backend.
func (b *Base) GetInfo(path string, namespaces archivefs.NamespaceSet) (*archivefs.Info, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.backend.GetInfo(path, namespaces)
}

// ListDir delegates to the backend.
func (b *Base) ListDir(path string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.backend.ListDir(path)
}

// ScanDir delegates to the backend.
func (b *Base) ScanDir(path string, namespaces archivefs.NamespaceSet, page *archivefs.ScanPage) ([]*archivefs.Info, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.backend.ScanDir(path, namespaces, page)
}

// OpenBin delegates read modes to the backend and rejects every writing
// mode with KindReadOnly.
func (b *Base) OpenBin(path string, mode archivefs.OpenMode) (archivefs.File, error) {
	if mode.IsWriting() {
		return nil, archivefs.NewError("openbin", path, archivefs.KindReadOnly, nil)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	return b.backend.OpenBin(path)
}

// MakeDir always fails: the base is read-only.
func (b *Base) MakeDir(path string, perm *uint32, recreate bool) (archivefs.DirHandle, error) {
	return nil, archivefs.NewError("makedir", path, archivefs.KindReadOnly, nil)
}

// Remove always fails: the base is read-only.
func (b *Base) Remove(path string) error {
	return archivefs.NewError("remove", path, archivefs.KindReadOnly, nil)
}

// RemoveDir always fails: the base is read-only.
func (b *Base) RemoveDir(path string) error {
	return archivefs.NewError("removedir", path, archivefs.KindReadOnly, nil)
}

// SetInfo always fails: the base is read-only.
func (b *Base) SetInfo(path string, info *archivefs.Info) error {
	return archivefs.NewError("setinfo", path, archivefs.KindReadOnly, nil)
}

// GetMeta delegates to the backend, forcing ReadOnly true.
func (b *Base) GetMeta() archivefs.Meta {
	m := b.backend.Meta()
	m.ReadOnly = true

	return m
}

// Close closes the backing stream if the caller asked for stream ownership
// via NewStreamHandle's closeHandle argument and the stream implements
// io.Closer; a filename-only handle has nothing open to close. Close is
// idempotent.
func (b *Base) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true

	if b.handle.closer != nil {
		return b.handle.closer.Close()
	}

	return nil
}

var _ archivefs.VFS = (*Base)(nil)
