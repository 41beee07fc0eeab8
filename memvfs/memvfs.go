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
//  Grounded on avfs/vfs/memfs's node-tree shape (searchNode, dirNode with a
//  map of children, fileNode with a byte buffer), simplified: no hard
//  links, no POSIX permission checks, no multi-user identity manager,
//  since the overlay's scratch store only needs to hold bytes and Info
//  per spec.md §4.4, not emulate a full POSIX filesystem.
//

// Package memvfs implements the default writable scratch VFS the overlay
// layers over a read-only archive backend, and the pure in-memory VFS the
// archive façade serialises from when there is no read layer at all
// (spec.md §4.5 step 5).
package memvfs

import (
	"io"
	"sort"
	"sync"
	"time"

	"github.com/avfs-contrib/archivefs"
	"github.com/avfs-contrib/archivefs/vfspath"
)

type node struct {
	name     string
	isDir    bool
	children map[string]*node // directories only
	data     []byte           // files only
	modified time.Time
	perm     *uint32
	owner    string
	group    string
}

// MemVFS is an in-memory, fully read/write archivefs.VFS.
type MemVFS struct {
	mu   sync.Mutex
	root *node
}

// New creates an empty MemVFS containing only the root directory.
func New() *MemVFS {
	return &MemVFS{root: &node{name: "/", isDir: true, children: map[string]*node{}, modified: time.Now()}}
}

func (m *MemVFS) lookup(path string) (*node, error) {
	path, err := vfspath.Norm(path)
	if err != nil {
		return nil, toErr("getinfo", path, err)
	}

	if path == vfspath.Root {
		return m.root, nil
	}

	cur := m.root
	for _, part := range vfspath.Iterate(path) {
		if !cur.isDir {
			return nil, archivefs.NewError("getinfo", path, archivefs.KindDirExpected, nil)
		}

		next, ok := cur.children[part]
		if !ok {
			return nil, archivefs.NewError("getinfo", path, archivefs.KindNotFound, nil)
		}

		cur = next
	}

	return cur, nil
}

func toErr(op, path string, err error) error {
	switch err {
	case vfspath.ErrInvalidPath:
		return archivefs.NewError(op, path, archivefs.KindInvalidPath, err)
	case vfspath.ErrIllegalBackRef:
		return archivefs.NewError(op, path, archivefs.KindIllegalBackRef, err)
	default:
		return err
	}
}

// Exists reports whether path is present, used internally by the overlay
// via the archivefs.Exists helper, and exposed here for backend code that
// already holds a *MemVFS reference instead of the VFS interface.
func (m *MemVFS) Exists(path string) bool {
	return archivefs.Exists(m, path)
}

// GetInfo implements archivefs.VFS.
func (m *MemVFS) GetInfo(path string, namespaces archivefs.NamespaceSet) (*archivefs.Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.lookup(path)
	if err != nil {
		return nil, err
	}

	return m.infoOf(n, namespaces), nil
}

func (m *MemVFS) infoOf(n *node, namespaces archivefs.NamespaceSet) *archivefs.Info {
	info := &archivefs.Info{Basic: archivefs.Basic{Name: n.name, IsDir: n.isDir}}

	if namespaces.Has(archivefs.NamespaceDetails) {
		kind := archivefs.KindFile
		if n.isDir {
			kind = archivefs.KindDirectory
		}

		mt := n.modified
		info.Details = &archivefs.Details{Size: int64(len(n.data)), Kind: kind, Modified: &mt}
	}

	if namespaces.Has(archivefs.NamespaceAccess) {
		info.Access = &archivefs.Access{Permissions: n.perm, Owner: n.owner, Group: n.group}
	}

	return info
}

// ListDir implements archivefs.VFS.
func (m *MemVFS) ListDir(path string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.lookup(path)
	if err != nil {
		return nil, err
	}

	if !n.isDir {
		return nil, archivefs.NewError("listdir", path, archivefs.KindDirExpected, nil)
	}

	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}

	sort.Strings(names)

	return names, nil
}

// ScanDir implements archivefs.VFS.
func (m *MemVFS) ScanDir(path string, namespaces archivefs.NamespaceSet, page *archivefs.ScanPage) ([]*archivefs.Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.lookup(path)
	if err != nil {
		return nil, err
	}

	if !n.isDir {
		return nil, archivefs.NewError("scandir", path, archivefs.KindDirExpected, nil)
	}

	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}

	sort.Strings(names)

	if page != nil {
		names = slicePage(names, *page)
	}

	infos := make([]*archivefs.Info, 0, len(names))
	for _, name := range names {
		infos = append(infos, m.infoOf(n.children[name], namespaces))
	}

	return infos, nil
}

func slicePage(names []string, page archivefs.ScanPage) []string {
	start, end := page.Start, page.End
	if start < 0 {
		start = 0
	}

	if end > len(names) || end == 0 {
		end = len(names)
	}

	if start >= end {
		return nil
	}

	return names[start:end]
}

// mkdirAll creates every missing component of path, idempotently. It does
// not lock; callers hold m.mu already.
func (m *MemVFS) mkdirAll(path string) (*node, error) {
	path, err := vfspath.Norm(path)
	if err != nil {
		return nil, toErr("makedir", path, err)
	}

	cur := m.root

	for _, part := range vfspath.Iterate(path) {
		if !cur.isDir {
			return nil, archivefs.NewError("makedir", path, archivefs.KindDirExpected, nil)
		}

		next, ok := cur.children[part]
		if !ok {
			next = &node{name: part, isDir: true, children: map[string]*node{}, modified: time.Now()}
			cur.children[part] = next
		} else if !next.isDir {
			return nil, archivefs.NewError("makedir", path, archivefs.KindDirExpected, nil)
		}

		cur = next
	}

	return cur, nil
}

// MakeDir implements archivefs.VFS.
func (m *MemVFS) MakeDir(path string, perm *uint32, recreate bool) (archivefs.DirHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	norm, err := vfspath.Norm(path)
	if err != nil {
		return nil, toErr("makedir", path, err)
	}

	if n, err := m.lookup(norm); err == nil {
		if !recreate {
			return nil, archivefs.NewError("makedir", path, archivefs.KindDirExists, nil)
		}

		if !n.isDir {
			return nil, archivefs.NewError("makedir", path, archivefs.KindDirExpected, nil)
		}

		return noopHandle{}, nil
	}

	parent := vfspath.Dirname(norm)
	if _, err := m.lookup(parent); err != nil {
		return nil, archivefs.NewError("makedir", path, archivefs.KindNotFound, nil)
	}

	if _, err := m.mkdirAll(norm); err != nil {
		return nil, err
	}

	if perm != nil {
		n, _ := m.lookup(norm)
		n.perm = perm
	}

	return noopHandle{}, nil
}

type noopHandle struct{}

func (noopHandle) Close() error { return nil }

// OpenBin implements archivefs.VFS.
func (m *MemVFS) OpenBin(path string, mode archivefs.OpenMode) (archivefs.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	norm, err := vfspath.Norm(path)
	if err != nil {
		return nil, toErr("openbin", path, err)
	}

	n, lookupErr := m.lookup(norm)

	switch mode {
	case archivefs.ModeRead:
		if lookupErr != nil {
			return nil, lookupErr
		}

		if n.isDir {
			return nil, archivefs.NewError("openbin", path, archivefs.KindFileExpected, nil)
		}

		return newMemFile(n, false), nil

	case archivefs.ModeCreate:
		if lookupErr == nil {
			return nil, archivefs.NewError("openbin", path, archivefs.KindDirExists, nil)
		}

		n, err = m.createFile(norm)
		if err != nil {
			return nil, err
		}

		return newMemFile(n, true), nil

	case archivefs.ModeWrite:
		if lookupErr != nil {
			n, err = m.createFile(norm)
			if err != nil {
				return nil, err
			}
		} else if n.isDir {
			return nil, archivefs.NewError("openbin", path, archivefs.KindFileExpected, nil)
		} else {
			n.data = nil
		}

		return newMemFile(n, true), nil

	case archivefs.ModeAppend:
		if lookupErr != nil {
			n, err = m.createFile(norm)
			if err != nil {
				return nil, err
			}
		} else if n.isDir {
			return nil, archivefs.NewError("openbin", path, archivefs.KindFileExpected, nil)
		}

		f := newMemFile(n, true)
		f.pos = int64(len(n.data))

		return f, nil

	case archivefs.ModeReadWrite:
		if lookupErr != nil {
			return nil, lookupErr
		}

		if n.isDir {
			return nil, archivefs.NewError("openbin", path, archivefs.KindFileExpected, nil)
		}

		return newMemFile(n, true), nil

	default:
		return nil, archivefs.NewError("openbin", path, archivefs.KindInvalidArgument, nil)
	}
}

func (m *MemVFS) createFile(path string) (*node, error) {
	p, err := m.mkdirAll(vfspath.Dirname(path))
	if err != nil {
		return nil, err
	}

	n := &node{name: vfspath.Basename(path), modified: time.Now()}
	p.children[n.name] = n

	return n, nil
}

// Remove implements archivefs.VFS.
func (m *MemVFS) Remove(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	norm, err := vfspath.Norm(path)
	if err != nil {
		return toErr("remove", path, err)
	}

	n, err := m.lookup(norm)
	if err != nil {
		return err
	}

	if n.isDir {
		return archivefs.NewError("remove", path, archivefs.KindFileExpected, nil)
	}

	parent, _ := m.lookup(vfspath.Dirname(norm))
	delete(parent.children, n.name)

	return nil
}

// RemoveDir implements archivefs.VFS.
func (m *MemVFS) RemoveDir(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	norm, err := vfspath.Norm(path)
	if err != nil {
		return toErr("removedir", path, err)
	}

	if norm == vfspath.Root {
		return archivefs.NewError("removedir", path, archivefs.KindDirExpected, nil)
	}

	n, err := m.lookup(norm)
	if err != nil {
		return err
	}

	if !n.isDir {
		return archivefs.NewError("removedir", path, archivefs.KindDirExpected, nil)
	}

	if len(n.children) != 0 {
		return archivefs.NewError("removedir", path, archivefs.KindDirNotEmpty, nil)
	}

	parent, _ := m.lookup(vfspath.Dirname(norm))
	delete(parent.children, n.name)

	return nil
}

// SetInfo implements archivefs.VFS.
func (m *MemVFS) SetInfo(path string, info *archivefs.Info) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.lookup(path)
	if err != nil {
		return toErr("setinfo", path, err)
	}

	if info.Details != nil && info.Details.Modified != nil {
		n.modified = *info.Details.Modified
	}

	if info.Access != nil {
		n.perm = info.Access.Permissions
		n.owner = info.Access.Owner
		n.group = info.Access.Group
	}

	return nil
}

// GetMeta implements archivefs.VFS.
func (m *MemVFS) GetMeta() archivefs.Meta {
	meta := archivefs.DefaultMeta()
	meta.ThreadSafe = true

	return meta
}

type memFile struct {
	n        *node
	pos      int64
	writable bool
	closed   bool
}

func newMemFile(n *node, writable bool) *memFile {
	return &memFile{n: n, writable: writable}
}

func (f *memFile) Read(p []byte) (int, error) {
	if f.closed {
		return 0, archivefs.NewError("read", f.n.name, archivefs.KindInvalidArgument, io.ErrClosedPipe)
	}

	if f.pos >= int64(len(f.n.data)) {
		return 0, io.EOF
	}

	n := copy(p, f.n.data[f.pos:])
	f.pos += int64(n)

	return n, nil
}

func (f *memFile) Write(p []byte) (int, error) {
	if !f.writable {
		return 0, archivefs.NewError("write", f.n.name, archivefs.KindReadOnly, nil)
	}

	if int64(len(f.n.data)) < f.pos {
		f.n.data = append(f.n.data, make([]byte, f.pos-int64(len(f.n.data)))...)
	}

	end := f.pos + int64(len(p))
	if end > int64(len(f.n.data)) {
		grown := make([]byte, end)
		copy(grown, f.n.data)
		f.n.data = grown
	}

	copy(f.n.data[f.pos:end], p)
	f.pos = end
	f.n.modified = time.Now()

	return len(p), nil
}

func (f *memFile) Seek(offset int64, whence int) (int64, error) {
	var base int64

	switch whence {
	case archivefs.SeekSet:
		base = 0
	case archivefs.SeekCur:
		base = f.pos
	case archivefs.SeekEndRef:
		base = int64(len(f.n.data))
	}

	newPos := base + offset
	if newPos < 0 {
		return 0, archivefs.NewError("seek", f.n.name, archivefs.KindInvalidArgument, nil)
	}

	if !f.writable && newPos > int64(len(f.n.data)) {
		newPos = int64(len(f.n.data))
	}

	f.pos = newPos

	return f.pos, nil
}

func (f *memFile) Tell() (int64, error) { return f.pos, nil }
func (f *memFile) Readable() bool       { return true }
func (f *memFile) Writable() bool       { return f.writable }
func (f *memFile) Seekable() bool       { return true }
func (f *memFile) Close() error         { f.closed = true; return nil }

var _ archivefs.VFS = (*MemVFS)(nil)
var _ archivefs.File = (*memFile)(nil)
