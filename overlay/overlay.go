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

// Package overlay implements the copy-on-write layer that turns any
// read-only archivefs.VFS into a mutable one, per spec.md §4.4: a scratch
// writable VFS (memvfs.New by default) plus a tombstone set record
// deletions against the read layer. Grounded structurally on avfs/vfs/rofs
// (embed-and-delegate over a VFS) but inverted: rofs rejects every write,
// Overlay accepts writes by routing them to the write layer while still
// consulting the read layer for everything it hasn't touched.
package overlay

import (
	"sort"
	"sync"

	"github.com/avfs-contrib/archivefs"
	"github.com/avfs-contrib/archivefs/memvfs"
	"github.com/avfs-contrib/archivefs/vfspath"
)

// CopyNamespaces lists the Info namespaces copy-up carries from the read
// layer to the write layer (spec.md's SUPPLEMENT over base.py's
// RequiredInfo). Only these three are copied; a backend's format-specific
// namespace (zip, tar, iso, 7z) is not carried across.
var CopyNamespaces = archivefs.NewNamespaceSet(archivefs.NamespaceBasic, archivefs.NamespaceDetails, archivefs.NamespaceAccess)

// Overlay is the writable VFS described by spec.md §4.4.
type Overlay struct {
	mu         sync.Mutex
	readLayer  archivefs.VFS
	writeLayer archivefs.VFS
	tombstones map[string]bool
}

// New wraps readLayer in a writable overlay. If writeLayer is nil, a fresh
// memvfs.New() is used, the default scratch store named in spec.md §6
// ("proxy: VFS url ... default an in-memory VFS").
func New(readLayer archivefs.VFS, writeLayer archivefs.VFS) *Overlay {
	if writeLayer == nil {
		writeLayer = memvfs.New()
	}

	return &Overlay{readLayer: readLayer, writeLayer: writeLayer, tombstones: map[string]bool{}}
}

// ReadLayer returns the wrapped read-only backend.
func (o *Overlay) ReadLayer() archivefs.VFS { return o.readLayer }

// WriteLayer returns the scratch writable VFS.
func (o *Overlay) WriteLayer() archivefs.VFS { return o.writeLayer }

func norm(op, path string) (string, error) {
	p, err := vfspath.Norm(path)
	if err != nil {
		kind := archivefs.KindInvalidPath
		if err == vfspath.ErrIllegalBackRef {
			kind = archivefs.KindIllegalBackRef
		}

		return "", archivefs.NewError(op, path, kind, err)
	}

	return p, nil
}

// existsLocked implements V.exists(p) ⇔ W.exists(p) ∨ (R.exists(p) ∧ p ∉ T).
func (o *Overlay) existsLocked(path string) bool {
	if archivefs.Exists(o.writeLayer, path) {
		return true
	}

	return !o.tombstones[path] && archivefs.Exists(o.readLayer, path)
}

// Exists reports whether path is present in the merged view.
func (o *Overlay) Exists(path string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, err := vfspath.Norm(path)
	if err != nil {
		return false
	}

	return o.existsLocked(p)
}

// GetInfo prefers the write layer if it already has path, otherwise falls
// through to the read layer unless path is tombstoned.
func (o *Overlay) GetInfo(path string, namespaces archivefs.NamespaceSet) (*archivefs.Info, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, err := norm("getinfo", path)
	if err != nil {
		return nil, err
	}

	if archivefs.Exists(o.writeLayer, p) {
		return o.writeLayer.GetInfo(p, namespaces)
	}

	if o.tombstones[p] {
		return nil, archivefs.NewError("getinfo", path, archivefs.KindNotFound, nil)
	}

	return o.readLayer.GetInfo(p, namespaces)
}

// listMerged implements the union/tombstone/dedup listing rule shared by
// ListDir and ScanDir.
func (o *Overlay) listMerged(path string) ([]string, error) {
	var wNames, rNames []string

	inWrite := archivefs.Exists(o.writeLayer, path)
	if inWrite {
		n, err := o.writeLayer.ListDir(path)
		if err != nil {
			return nil, err
		}

		wNames = n
	}

	inRead := !o.tombstones[path] && archivefs.Exists(o.readLayer, path)
	if inRead {
		n, err := o.readLayer.ListDir(path)
		if err != nil {
			return nil, err
		}

		rNames = n
	}

	if !inWrite && !inRead {
		return nil, archivefs.NewError("listdir", path, archivefs.KindNotFound, nil)
	}

	seen := map[string]bool{}
	out := make([]string, 0, len(wNames)+len(rNames))

	for _, n := range wNames {
		if !seen[n] && !o.tombstones[joinChild(path, n)] {
			seen[n] = true
			out = append(out, n)
		}
	}

	for _, n := range rNames {
		if !seen[n] && !o.tombstones[joinChild(path, n)] {
			seen[n] = true
			out = append(out, n)
		}
	}

	return out, nil
}

func joinChild(parent, name string) string {
	if parent == vfspath.Root {
		return vfspath.Root + name
	}

	return parent + "/" + name
}

// ListDir implements archivefs.VFS.
func (o *Overlay) ListDir(path string) ([]string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, err := norm("listdir", path)
	if err != nil {
		return nil, err
	}

	if !o.existsLocked(p) {
		return nil, archivefs.NewError("listdir", path, archivefs.KindNotFound, nil)
	}

	if !isDirLocked(o, p) {
		return nil, archivefs.NewError("listdir", path, archivefs.KindDirExpected, nil)
	}

	return o.listMerged(p)
}

func isDirLocked(o *Overlay, path string) bool {
	if archivefs.Exists(o.writeLayer, path) {
		return archivefs.IsDir(o.writeLayer, path)
	}

	return archivefs.IsDir(o.readLayer, path)
}

// ScanDir follows the same union/tombstone/dedup rule as ListDir, then
// fetches Info for each surviving name (preferring the write layer) and
// slices the result by page.
func (o *Overlay) ScanDir(path string, namespaces archivefs.NamespaceSet, page *archivefs.ScanPage) ([]*archivefs.Info, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, err := norm("scandir", path)
	if err != nil {
		return nil, err
	}

	if !o.existsLocked(p) {
		return nil, archivefs.NewError("scandir", path, archivefs.KindNotFound, nil)
	}

	if !isDirLocked(o, p) {
		return nil, archivefs.NewError("scandir", path, archivefs.KindDirExpected, nil)
	}

	names, err := o.listMerged(p)
	if err != nil {
		return nil, err
	}

	sort.Strings(names)

	if page != nil {
		names = slicePage(names, *page)
	}

	infos := make([]*archivefs.Info, 0, len(names))

	for _, name := range names {
		child := joinChild(p, name)

		var info *archivefs.Info

		if archivefs.Exists(o.writeLayer, child) {
			info, err = o.writeLayer.GetInfo(child, namespaces)
		} else {
			info, err = o.readLayer.GetInfo(child, namespaces)
		}

		if err != nil {
			return nil, err
		}

		infos = append(infos, info)
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

var _ archivefs.VFS = (*Overlay)(nil)
