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

package isofs

import (
	"bytes"
	"io"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/encoding/unicode"

	"github.com/avfs-contrib/archivefs"
	"github.com/avfs-contrib/archivefs/archivebase"
	"github.com/avfs-contrib/archivefs/vfspath"
)

// NamespaceISO is the container-specific namespace exposing raw
// ISO-9660/Rock Ridge fields.
const NamespaceISO archivefs.Namespace = "iso"

// entry is one resolved directory child: the ISO base identifier, and
// whichever of Joliet/Rock Ridge names also apply to it.
type entry struct {
	record *dirRecord
	rr     *rockRidge
	name   string // resolved per spec.md §4.9.2's precedence
}

// Backend decodes an existing ISO-9660 image, per spec.md §4.9.
type Backend struct {
	mu         sync.Mutex
	stream     io.ReaderAt
	pvd        *volumeDescriptor
	svd        *volumeDescriptor
	useJoliet  bool
	useRR      bool
	pathTable  map[string]*dirRecord // memoised path -> directory record
}

// Open parses the volume descriptors and seeds the path table with the
// root directory.
func Open(stream io.ReaderAt) (*Backend, error) {
	pvd, svd, err := readVolumeDescriptors(stream)
	if err != nil {
		return nil, archivefs.NewError("open", "", archivefs.KindCreateFailed, err)
	}

	b := &Backend{
		stream:    stream,
		pvd:       pvd,
		svd:       svd,
		pathTable: map[string]*dirRecord{},
	}

	// Rock Ridge presence can't be told from the PVD's own embedded root
	// record (that copy is a fixed 34 bytes, with no room for a system-use
	// area): detect it instead from the root directory extent's children,
	// which is where an RR-aware writer attaches NM/PX entries. Rock Ridge
	// takes precedence over Joliet per spec.md §4.9.2.
	if hasRockRidge(stream, pvd.RootRecord, pvd) {
		b.useRR = true
	} else if svd != nil && svd.isJoliet() {
		b.useJoliet = true
	}

	root := pvd.RootRecord
	if b.useJoliet {
		root = svd.RootRecord
	}

	b.pathTable[vfspath.Root] = root

	return b, nil
}

// hasRockRidge reads the root directory's own extent and reports whether
// any child record (the '.'/'..' entries never carry Rock Ridge data in
// this package's writer) has a parseable Rock Ridge system-use entry.
func hasRockRidge(stream io.ReaderAt, root *dirRecord, vol *volumeDescriptor) bool {
	buf := make([]byte, int(root.DataLength))
	if _, err := stream.ReadAt(buf, int64(root.ExtentLocation)*int64(vol.LogicalBlockSize)); err != nil {
		return false
	}

	skip := 2

	for off := 0; off < len(buf); {
		if buf[off] == 0 {
			next := ((off / BlockSize) + 1) * BlockSize
			if next >= len(buf) {
				break
			}

			off = next

			continue
		}

		rec, n, err := parseDirRecord(buf[off:])
		if err != nil || n == 0 {
			break
		}

		off += n

		if skip > 0 {
			skip--
			continue
		}

		if parseRockRidge(rec.SystemUse) != nil {
			return true
		}
	}

	return false
}

// activeVolume returns the volume descriptor traversal should read
// directory extents from: SVD under Joliet (unless Rock Ridge is also
// present, which always reads through the PVD's hierarchy since RR
// entries live in the ISO/PVD system-use area), PVD otherwise.
func (b *Backend) activeVolume() *volumeDescriptor {
	if b.useJoliet && !b.useRR {
		return b.svd
	}

	return b.pvd
}

// resolve finds or loads the directory record for p, using and growing
// the path table cache per spec.md §4.9.3.
func (b *Backend) resolve(p string) (*dirRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.resolveLocked(p)
}

func (b *Backend) resolveLocked(p string) (*dirRecord, error) {
	if rec, ok := b.pathTable[p]; ok {
		return rec, nil
	}

	// Find the longest cached prefix, then descend one component at a
	// time, caching every intermediate directory visited.
	parts := vfspath.Recurse(p)

	curRec := b.pathTable[vfspath.Root]

	for _, prefix := range parts[1:] {
		if rec, ok := b.pathTable[prefix]; ok {
			curRec = rec
			continue
		}

		if !curRec.IsDir() {
			return nil, archivefs.NewError("resolve", p, archivefs.KindDirExpected, nil)
		}

		children, err := b.readDirLocked(curRec)
		if err != nil {
			return nil, err
		}

		name := vfspath.Basename(prefix)

		var found *entry

		for _, c := range children {
			if c.name == name {
				found = c
				break
			}
		}

		if found == nil {
			return nil, archivefs.NewError("resolve", p, archivefs.KindNotFound, nil)
		}

		b.pathTable[prefix] = found.record
		curRec = found.record
	}

	return curRec, nil
}

// readDirLocked reads a directory's extent and returns its name-resolved
// children in on-disk order (skipping the '.' and '..' entries per spec.md
// §4.9.1 item 4).
func (b *Backend) readDirLocked(rec *dirRecord) ([]*entry, error) {
	vol := b.activeVolume()

	buf := make([]byte, int(rec.DataLength))
	if _, err := b.stream.ReadAt(buf, int64(rec.ExtentLocation)*int64(vol.LogicalBlockSize)); err != nil {
		return nil, archivefs.NewError("readdir", "", archivefs.KindOperationFailed, err)
	}

	var out []*entry

	skip := 2 // '.' and '..'

	for off := 0; off < len(buf); {
		if buf[off] == 0 {
			// padding to sector boundary; directories are laid out one
			// record after another without crossing into the next
			// sector's padding, so stop scanning this sector's tail.
			next := ((off / BlockSize) + 1) * BlockSize
			if next >= len(buf) {
				break
			}

			off = next

			continue
		}

		rec2, n, err := parseDirRecord(buf[off:])
		if err != nil {
			return nil, archivefs.NewError("readdir", "", archivefs.KindOperationFailed, err)
		}

		if n == 0 {
			break
		}

		off += n

		if skip > 0 {
			skip--
			continue
		}

		rr := parseRockRidge(rec2.SystemUse)

		name := resolveName(rec2, rr, b.useJoliet, b.useRR)

		out = append(out, &entry{record: rec2, rr: rr, name: name})
	}

	return out, nil
}

// resolveName implements spec.md §4.9.2's precedence: Rock Ridge NM,
// else Joliet UTF-16BE, else ISO base 8.3 (version stripped, lowered).
func resolveName(rec *dirRecord, rr *rockRidge, joliet, rockRidgeActive bool) string {
	if rockRidgeActive && rr != nil && rr.Name != "" {
		return rr.Name
	}

	if joliet {
		return decodeJolietName(rec.Identifier)
	}

	return decodeISOBaseName(rec.Identifier)
}

var jolietDecoding = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder()

func decodeJolietName(raw string) string {
	b := []byte(raw)
	if len(b) == 1 && (b[0] == 0x00 || b[0] == 0x01) {
		return "" // '.' / '..', already skipped by the caller
	}

	decoded, err := jolietDecoding.Bytes(b)
	if err != nil {
		return ""
	}

	return string(decoded)
}

func decodeISOBaseName(raw string) string {
	name := raw
	if i := strings.IndexByte(name, ';'); i >= 0 {
		name = name[:i]
	}

	name = strings.TrimRight(name, ".")

	return strings.ToLower(name)
}

func (b *Backend) isDir(rec *dirRecord) bool { return rec.IsDir() }

// GetInfo implements archivebase.Backend.
func (b *Backend) GetInfo(path string, namespaces archivefs.NamespaceSet) (*archivefs.Info, error) {
	p, err := vfspath.Norm(path)
	if err != nil {
		return nil, archivefs.NewError("getinfo", path, archivefs.KindInvalidPath, err)
	}

	rec, err := b.resolve(p)
	if err != nil {
		return nil, err
	}

	rr := parseRockRidge(rec.SystemUse)

	info := &archivefs.Info{Basic: archivefs.Basic{Name: vfspath.Basename(p), IsDir: b.isDir(rec)}}

	if namespaces.Has(archivefs.NamespaceDetails) {
		d := &archivefs.Details{Kind: archivefs.KindDirectory, Size: int64(rec.DataLength)}
		if !info.Basic.IsDir {
			d.Kind = archivefs.KindFile
		}

		mod := rec.Recorded
		d.Modified = &mod

		info.Details = d
	}

	if namespaces.Has(archivefs.NamespaceAccess) && rr != nil && rr.Mode != nil {
		mode := *rr.Mode & 0xFFF
		access := &archivefs.Access{Permissions: &mode}

		if rr.UID != nil {
			uid := int(*rr.UID)
			access.UID = &uid
		}

		if rr.GID != nil {
			gid := int(*rr.GID)
			access.GID = &gid
		}

		info.Access = access
	}

	if namespaces.Has(NamespaceISO) {
		raw := map[string]any{
			"extent_location": rec.ExtentLocation,
			"data_length":     rec.DataLength,
			"flags":           rec.Flags,
		}

		if rr != nil {
			raw["rock_ridge_name"] = rr.Name
			raw["relocated"] = rr.Relocated
		}

		info.Raw = map[archivefs.Namespace]map[string]any{NamespaceISO: raw}
	}

	return info, nil
}

// ListDir implements archivebase.Backend.
func (b *Backend) ListDir(path string) ([]string, error) {
	p, err := vfspath.Norm(path)
	if err != nil {
		return nil, archivefs.NewError("listdir", path, archivefs.KindInvalidPath, err)
	}

	rec, err := b.resolve(p)
	if err != nil {
		return nil, err
	}

	if !b.isDir(rec) {
		return nil, archivefs.NewError("listdir", path, archivefs.KindDirExpected, nil)
	}

	b.mu.Lock()
	children, err := b.readDirLocked(rec)
	b.mu.Unlock()

	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(children))

	for _, c := range children {
		out = append(out, c.name)

		child, err := vfspath.Join(p, c.name)
		if err == nil {
			b.mu.Lock()
			b.pathTable[child] = c.record
			b.mu.Unlock()
		}
	}

	sort.Strings(out)

	return out, nil
}

// ScanDir implements archivebase.Backend.
func (b *Backend) ScanDir(path string, namespaces archivefs.NamespaceSet, page *archivefs.ScanPage) ([]*archivefs.Info, error) {
	names, err := b.ListDir(path)
	if err != nil {
		return nil, err
	}

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

// OpenBin implements archivebase.Backend, per spec.md §4.9.3: acquires
// the shared lock, reads the extent's contiguous window into memory, and
// exposes it through a seekable read-only handle.
func (b *Backend) OpenBin(path string) (archivefs.File, error) {
	p, err := vfspath.Norm(path)
	if err != nil {
		return nil, archivefs.NewError("openbin", path, archivefs.KindInvalidPath, err)
	}

	rec, err := b.resolve(p)
	if err != nil {
		return nil, err
	}

	if b.isDir(rec) {
		return nil, archivefs.NewError("openbin", path, archivefs.KindFileExpected, nil)
	}

	b.mu.Lock()
	vol := b.activeVolume()
	buf := make([]byte, rec.DataLength)
	_, err = b.stream.ReadAt(buf, int64(rec.ExtentLocation)*int64(vol.LogicalBlockSize))
	b.mu.Unlock()

	if err != nil {
		return nil, archivefs.NewError("openbin", path, archivefs.KindOperationFailed, err)
	}

	return &isoFile{name: p, r: bytes.NewReader(buf)}, nil
}

// Meta implements archivebase.Backend, per spec.md §4.9.5.
func (b *Backend) Meta() archivefs.Meta {
	unicode := b.useJoliet || b.useRR

	return archivefs.Meta{
		CaseInsensitive:  !unicode,
		UnicodePaths:     unicode,
		SupportsRename:   false,
		MaxPathLength:    isoMaxPathLength(unicode),
		InvalidPathChars: []byte{0x00},
		ThreadSafe:       true,
		Virtual:          true,
	}
}

func isoMaxPathLength(unicode bool) int {
	if unicode {
		return 0
	}

	return 255
}

var _ archivebase.Backend = (*Backend)(nil)

type isoFile struct {
	name string
	r    *bytes.Reader
}

func (f *isoFile) Read(p []byte) (int, error) { return f.r.Read(p) }

func (f *isoFile) Write(p []byte) (int, error) {
	return 0, archivefs.NewError("write", f.name, archivefs.KindReadOnly, nil)
}

func (f *isoFile) Seek(offset int64, whence int) (int64, error) {
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

func (f *isoFile) Tell() (int64, error) { return f.r.Seek(0, io.SeekCurrent) }
func (f *isoFile) Readable() bool       { return true }
func (f *isoFile) Writable() bool       { return false }
func (f *isoFile) Seekable() bool       { return true }
func (f *isoFile) Close() error         { return nil }

var _ archivefs.File = (*isoFile)(nil)
