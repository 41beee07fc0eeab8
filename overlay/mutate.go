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

package overlay

import (
	"github.com/avfs-contrib/archivefs"
	"github.com/avfs-contrib/archivefs/vfspath"
)

// MakeDir implements spec.md §4.4's makedir formula.
func (o *Overlay) MakeDir(path string, perm *uint32, recreate bool) (archivefs.DirHandle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, err := norm("makedir", path)
	if err != nil {
		return nil, err
	}

	if o.existsLocked(p) {
		if !recreate {
			return nil, archivefs.NewError("makedir", path, archivefs.KindDirExists, nil)
		}

		if !isDirLocked(o, p) {
			return nil, archivefs.NewError("makedir", path, archivefs.KindDirExpected, nil)
		}
	} else {
		parent := vfspath.Dirname(p)
		if !o.existsLocked(parent) {
			return nil, archivefs.NewError("makedir", path, archivefs.KindNotFound, nil)
		}

		if !isDirLocked(o, parent) {
			return nil, archivefs.NewError("makedir", path, archivefs.KindDirExpected, nil)
		}
	}

	delete(o.tombstones, p)

	for _, dir := range vfspath.Recurse(vfspath.Dirname(p))[1:] {
		if !archivefs.Exists(o.writeLayer, dir) {
			if _, err := o.writeLayer.MakeDir(dir, nil, true); err != nil {
				return nil, err
			}
		}
	}

	return o.writeLayer.MakeDir(p, perm, true)
}

// copyUpLocked copies path from the read layer to the write layer across
// every namespace in CopyNamespaces. Callers must already hold o.mu and
// have verified the read layer actually has path.
func (o *Overlay) copyUpLocked(path string) error {
	if archivefs.Exists(o.writeLayer, path) {
		return nil
	}

	info, err := o.readLayer.GetInfo(path, CopyNamespaces)
	if err != nil {
		return err
	}

	if info.Basic.IsDir {
		if _, err := o.writeLayer.MakeDir(path, nil, true); err != nil {
			return err
		}
	} else {
		src, err := o.readLayer.OpenBin(path, archivefs.ModeRead)
		if err != nil {
			return err
		}

		dst, err := o.writeLayer.OpenBin(path, archivefs.ModeCreate)
		if err != nil {
			src.Close()
			return err
		}

		buf := make([]byte, 32*1024)

		for {
			n, rerr := src.Read(buf)
			if n > 0 {
				if _, werr := dst.Write(buf[:n]); werr != nil {
					src.Close()
					dst.Close()

					return werr
				}
			}

			if rerr != nil {
				break
			}
		}

		src.Close()
		dst.Close()
	}

	return o.writeLayer.SetInfo(path, info)
}

// ensureParentLocked makes sure parent(p) exists in V, creating it (and
// its ancestors) in W recursively, the way openbin/appendbytes require.
func (o *Overlay) ensureParentLocked(path string) error {
	parent := vfspath.Dirname(path)
	if parent == vfspath.Root {
		return nil
	}

	if !o.existsLocked(parent) {
		return archivefs.NewError("openbin", path, archivefs.KindNotFound, nil)
	}

	if !isDirLocked(o, parent) {
		return archivefs.NewError("openbin", path, archivefs.KindDirExpected, nil)
	}

	for _, dir := range vfspath.Recurse(parent)[1:] {
		if err := o.copyUpLocked(dir); err != nil {
			return err
		}
	}

	return nil
}

// OpenBin implements spec.md §4.4's openbin formula.
func (o *Overlay) OpenBin(path string, mode archivefs.OpenMode) (archivefs.File, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, err := norm("openbin", path)
	if err != nil {
		return nil, err
	}

	if !mode.IsWriting() {
		if archivefs.Exists(o.writeLayer, p) {
			return o.writeLayer.OpenBin(p, mode)
		}

		if !o.tombstones[p] && archivefs.Exists(o.readLayer, p) {
			return o.readLayer.OpenBin(p, mode)
		}

		return nil, archivefs.NewError("openbin", path, archivefs.KindNotFound, nil)
	}

	if err := o.ensureParentLocked(p); err != nil {
		return nil, err
	}

	if mode == archivefs.ModeCreate {
		delete(o.tombstones, p)
		return o.writeLayer.OpenBin(p, mode)
	}

	if !archivefs.Exists(o.writeLayer, p) && !o.tombstones[p] && archivefs.Exists(o.readLayer, p) {
		if err := o.copyUpLocked(p); err != nil {
			return nil, err
		}
	}

	delete(o.tombstones, p)

	return o.writeLayer.OpenBin(p, mode)
}

// Remove implements spec.md §4.4's remove formula.
func (o *Overlay) Remove(path string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, err := norm("remove", path)
	if err != nil {
		return err
	}

	if !o.existsLocked(p) {
		return archivefs.NewError("remove", path, archivefs.KindNotFound, nil)
	}

	if isDirLocked(o, p) {
		return archivefs.NewError("remove", path, archivefs.KindFileExpected, nil)
	}

	o.tombstones[p] = true

	if archivefs.IsFile(o.writeLayer, p) {
		return o.writeLayer.Remove(p)
	}

	return nil
}

// RemoveDir implements spec.md §4.4's removedir formula.
func (o *Overlay) RemoveDir(path string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, err := norm("removedir", path)
	if err != nil {
		return err
	}

	if !o.existsLocked(p) {
		return archivefs.NewError("removedir", path, archivefs.KindNotFound, nil)
	}

	empty, err := o.isEmptyLocked(p)
	if err != nil {
		return err
	}

	if !empty {
		return archivefs.NewError("removedir", path, archivefs.KindDirNotEmpty, nil)
	}

	o.tombstones[p] = true

	if archivefs.IsDir(o.writeLayer, p) {
		return o.writeLayer.RemoveDir(p)
	}

	return nil
}

func (o *Overlay) isEmptyLocked(path string) (bool, error) {
	if !isDirLocked(o, path) {
		size, err := o.sizeLocked(path)
		return size == 0, err
	}

	names, err := o.listMerged(path)
	if err != nil {
		return false, err
	}

	return len(names) == 0, nil
}

func (o *Overlay) sizeLocked(path string) (int64, error) {
	var vfs archivefs.VFS = o.readLayer
	if archivefs.Exists(o.writeLayer, path) {
		vfs = o.writeLayer
	}

	return archivefs.GetSize(vfs, path)
}

// SetInfo implements spec.md §4.4's setinfo formula.
func (o *Overlay) SetInfo(path string, info *archivefs.Info) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, err := norm("setinfo", path)
	if err != nil {
		return err
	}

	if !o.existsLocked(p) {
		return archivefs.NewError("setinfo", path, archivefs.KindNotFound, nil)
	}

	if !archivefs.Exists(o.writeLayer, p) {
		if err := o.copyUpLocked(p); err != nil {
			return err
		}
	}

	return o.writeLayer.SetInfo(p, info)
}

// GetMeta reports the overlay's own capabilities: not thread-safe for
// concurrent mutation (spec.md §5), not read-only, otherwise inherited
// from the read layer where applicable.
func (o *Overlay) GetMeta() archivefs.Meta {
	meta := o.readLayer.GetMeta()
	meta.ReadOnly = false
	meta.ThreadSafe = false

	return meta
}

var _ archivefs.VFS = (*Overlay)(nil)
