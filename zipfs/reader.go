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

// Package zipfs implements the ZIP backend of spec.md §4.6: a read-only
// archivebase.Backend over the standard library's central-directory
// parser, plus a Saver that walks a source VFS and re-emits a Zip64 ZIP.
// Grounded on avfs/vfs/rofs for the read-only delegation shape; the
// implied-directory derivation is grounded on
// original_source/fs/archive/zipfs.py.
package zipfs

import (
	"archive/zip"
	"bytes"
	"io"
	"sort"
	"strings"

	"github.com/avfs-contrib/archivefs"
	"github.com/avfs-contrib/archivefs/archivebase"
	"github.com/avfs-contrib/archivefs/vfspath"
)

// NamespaceZip is the container-specific namespace exposing raw ZIP
// header fields.
const NamespaceZip archivefs.Namespace = "zip"

// Backend decodes an existing ZIP archive.
type Backend struct {
	r       *zip.Reader
	entries map[string]*zip.File // normalised path -> entry
	dirs    map[string]bool      // implied + explicit directories
	order   []string             // explicit file entries only, sorted
}

// Open parses the central directory of a ZIP stream.
func Open(stream io.ReadSeeker) (*Backend, error) {
	size, err := stream.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, archivefs.NewError("open", "", archivefs.KindCreateFailed, err)
	}

	r, err := zip.NewReader(asReaderAt(stream), size)
	if err != nil {
		return nil, archivefs.NewError("open", "", archivefs.KindCreateFailed, err)
	}

	b := &Backend{
		r:       r,
		entries: map[string]*zip.File{},
		dirs:    map[string]bool{vfspath.Root: true},
	}

	for _, f := range r.File {
		name := "/" + strings.Trim(f.Name, "/")

		p, err := vfspath.Norm(name)
		if err != nil {
			continue
		}

		if strings.HasSuffix(f.Name, "/") {
			b.dirs[p] = true
			continue
		}

		b.entries[p] = f
		b.order = append(b.order, p)

		for _, prefix := range vfspath.Recurse(vfspath.Dirname(p)) {
			b.dirs[prefix] = true
		}
	}

	sort.Strings(b.order)

	return b, nil
}

// asReaderAt adapts an io.ReadSeeker to io.ReaderAt the way an in-memory
// or OS-file handle always can: by seeking then reading, serialised by
// the caller's (archivebase.Base's) single mutex, so no extra locking is
// needed here.
type seekerReaderAt struct{ s io.ReadSeeker }

func (s seekerReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if _, err := s.s.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}

	return io.ReadFull(s.s, p)
}

func asReaderAt(s io.ReadSeeker) io.ReaderAt {
	if ra, ok := s.(io.ReaderAt); ok {
		return ra
	}

	return seekerReaderAt{s}
}

func (b *Backend) exists(p string) bool {
	if _, ok := b.entries[p]; ok {
		return true
	}

	return b.dirs[p]
}

// GetInfo implements archivebase.Backend.
func (b *Backend) GetInfo(path string, namespaces archivefs.NamespaceSet) (*archivefs.Info, error) {
	p, err := vfspath.Norm(path)
	if err != nil {
		return nil, archivefs.NewError("getinfo", path, archivefs.KindInvalidPath, err)
	}

	if !b.exists(p) {
		return nil, archivefs.NewError("getinfo", path, archivefs.KindNotFound, nil)
	}

	f, isFile := b.entries[p]
	info := &archivefs.Info{Basic: archivefs.Basic{Name: vfspath.Basename(p), IsDir: !isFile}}

	if namespaces.Has(archivefs.NamespaceDetails) {
		d := &archivefs.Details{Kind: archivefs.KindDirectory}
		if isFile {
			d.Kind = archivefs.KindFile
			d.Size = int64(f.UncompressedSize64)
			mod := f.Modified
			d.Modified = &mod
		}

		info.Details = d
	}

	if namespaces.Has(archivefs.NamespaceAccess) && isFile {
		mode := uint32(f.Mode().Perm())
		info.Access = &archivefs.Access{Permissions: &mode}
	}

	if namespaces.Has(NamespaceZip) && isFile {
		info.Raw = map[archivefs.Namespace]map[string]any{
			NamespaceZip: {
				"compression_method": f.Method,
				"crc32":              f.CRC32,
				"compressed_size":    f.CompressedSize64,
				"uncompressed_size":  f.UncompressedSize64,
				"flags":              f.Flags,
				"modified":           f.Modified,
			},
		}
	}

	return info, nil
}

// ListDir implements archivebase.Backend, per spec.md §4.6's
// first-component derivation over the full name list.
func (b *Backend) ListDir(path string) ([]string, error) {
	p, err := vfspath.Norm(path)
	if err != nil {
		return nil, archivefs.NewError("listdir", path, archivefs.KindInvalidPath, err)
	}

	if !b.exists(p) {
		return nil, archivefs.NewError("listdir", path, archivefs.KindNotFound, nil)
	}

	if _, isFile := b.entries[p]; isFile {
		return nil, archivefs.NewError("listdir", path, archivefs.KindDirExpected, nil)
	}

	seen := map[string]bool{}

	var out []string

	add := func(name string) {
		if !vfspath.IsBase(p, name) || name == p {
			return
		}

		first := vfspath.Rel(p, name)

		if first != "" && !seen[first] {
			seen[first] = true
			out = append(out, first)
		}
	}

	for _, n := range b.order {
		add(n)
	}

	for n := range b.dirs {
		if n != vfspath.Root {
			add(n)
		}
	}

	return out, nil
}

// ScanDir implements archivebase.Backend.
func (b *Backend) ScanDir(path string, namespaces archivefs.NamespaceSet, page *archivefs.ScanPage) ([]*archivefs.Info, error) {
	names, err := b.ListDir(path)
	if err != nil {
		return nil, err
	}

	sort.Strings(names)

	if page != nil {
		start, end := page.Start, page.End
		if end <= 0 || end > len(names) {
			end = len(names)
		}

		if start < 0 {
			start = 0
		}

		if start < end {
			names = names[start:end]
		} else {
			names = nil
		}
	}

	p, _ := vfspath.Norm(path)

	infos := make([]*archivefs.Info, 0, len(names))

	for _, name := range names {
		child, _ := vfspath.Join(p, name)

		info, err := b.GetInfo(child, namespaces)
		if err != nil {
			return nil, err
		}

		infos = append(infos, info)
	}

	return infos, nil
}

// OpenBin implements archivebase.Backend: reads decompress the whole
// entry into memory (the stdlib zip.File.Open reader has no Seek), then
// present it through a buffered seekable wrapper.
func (b *Backend) OpenBin(path string) (archivefs.File, error) {
	p, err := vfspath.Norm(path)
	if err != nil {
		return nil, archivefs.NewError("openbin", path, archivefs.KindInvalidPath, err)
	}

	f, ok := b.entries[p]
	if !ok {
		if b.dirs[p] {
			return nil, archivefs.NewError("openbin", path, archivefs.KindFileExpected, nil)
		}

		return nil, archivefs.NewError("openbin", path, archivefs.KindNotFound, nil)
	}

	rc, err := f.Open()
	if err != nil {
		return nil, archivefs.NewError("openbin", path, archivefs.KindOperationFailed, err)
	}

	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, archivefs.NewError("openbin", path, archivefs.KindOperationFailed, err)
	}

	return &readOnlyFile{name: p, r: bytes.NewReader(data)}, nil
}

// Meta implements archivebase.Backend.
func (b *Backend) Meta() archivefs.Meta {
	return archivefs.Meta{
		CaseInsensitive:  false,
		UnicodePaths:     true,
		SupportsRename:   false,
		MaxPathLength:    0,
		InvalidPathChars: []byte{0x00},
		ThreadSafe:       true,
		Virtual:          true,
	}
}

var _ archivebase.Backend = (*Backend)(nil)

// readOnlyFile adapts a bytes.Reader to archivefs.File: read-only,
// seekable, with the invalid-argument/clamp-to-end seek policy spec.md
// §4.2 and §4.6 share across ZIP and TAR.
type readOnlyFile struct {
	name   string
	r      *bytes.Reader
	closed bool
}

func (f *readOnlyFile) Read(p []byte) (int, error) {
	return f.r.Read(p)
}

func (f *readOnlyFile) Write(p []byte) (int, error) {
	return 0, archivefs.NewError("write", f.name, archivefs.KindReadOnly, nil)
}

func (f *readOnlyFile) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		if offset < 0 {
			return 0, archivefs.NewError("seek", f.name, archivefs.KindInvalidArgument, nil)
		}

		if offset > f.r.Size() {
			offset = f.r.Size()
		}

		return f.r.Seek(offset, io.SeekStart)
	case io.SeekCurrent:
		cur, _ := f.r.Seek(0, io.SeekCurrent)

		target := cur + offset
		if target < 0 {
			return 0, archivefs.NewError("seek", f.name, archivefs.KindInvalidArgument, nil)
		}

		if target > f.r.Size() {
			target = f.r.Size()
		}

		return f.r.Seek(target, io.SeekStart)
	case io.SeekEnd:
		if offset > 0 {
			return f.r.Seek(0, io.SeekEnd)
		}

		target := f.r.Size() + offset
		if target < 0 {
			return 0, archivefs.NewError("seek", f.name, archivefs.KindInvalidArgument, nil)
		}

		return f.r.Seek(target, io.SeekStart)
	default:
		return 0, archivefs.NewError("seek", f.name, archivefs.KindInvalidArgument, nil)
	}
}

func (f *readOnlyFile) Tell() (int64, error) {
	return f.r.Seek(0, io.SeekCurrent)
}

func (f *readOnlyFile) Readable() bool { return true }
func (f *readOnlyFile) Writable() bool { return false }
func (f *readOnlyFile) Seekable() bool { return true }

func (f *readOnlyFile) Close() error {
	f.closed = true
	return nil
}

var _ archivefs.File = (*readOnlyFile)(nil)
