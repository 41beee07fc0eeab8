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

// Package archive implements the archive façade of spec.md §4.5: it owns
// the backing handle and the writable overlay, and materialises mutations
// by calling a backend-supplied Saver on Close.
package archive

import (
	"io"
	"os"

	"github.com/avfs-contrib/archivefs"
	"github.com/avfs-contrib/archivefs/archivebase"
	"github.com/avfs-contrib/archivefs/memvfs"
	"github.com/avfs-contrib/archivefs/overlay"
)

// Saver serialises a VFS's merged view into an archive. Each backend
// provides one: zipfs.Writer, tarfs.Writer, sevenzipfs.Writer, isofs.Writer.
type Saver interface {
	// Save writes the complete contents of v to w.
	Save(v archivefs.VFS, w io.Writer) error
}

// Opener builds the read-only Backend for an existing archive, given a
// seekable stream. Returned by a registry.Builder; see the registry
// package for the extension-dispatch side of this.
type Opener func(stream io.ReadSeeker) (archivebase.Backend, error)

// Archive is the façade spec.md §4.5 describes: a VFS (the overlay, or a
// bare memvfs when there is no read layer) plus an optional Saver bound to
// a target, closed exactly once.
type Archive struct {
	vfs    archivefs.VFS
	saver  Saver
	target target
	closed bool

	// ownedBase, if non-nil, is the archivebase.Base built from the read
	// layer; Close closes it (and so the backing handle) after saving.
	ownedBase *archivebase.Base
}

type target struct {
	kind            targetKind
	path            string
	stream          io.ReadWriteSeeker
	overwrite       bool
	initialPosition int64
	closeHandle     bool
}

type targetKind int

const (
	targetNone targetKind = iota
	targetFile
	targetStream
)

// VFS returns the façade's VFS: the writable overlay when a read layer
// was constructed, or a bare in-memory VFS when the façade opened nothing
// (spec.md §4.5 step 5).
func (a *Archive) VFS() archivefs.VFS { return a.vfs }

// OpenExistingFile builds a read-write façade over an archive that already
// exists on disk at path, using opener to decode it and saver to
// re-serialise it on Close. closeHandle controls whether the underlying
// OS file is owned by the façade (default true, matching CloseHandle in
// spec.md §6).
func OpenExistingFile(rawPath string, opener Opener, saver Saver, closeHandle bool) (*Archive, error) {
	fh, err := archivebase.NewFileHandle(rawPath)
	if err != nil {
		return nil, archivefs.NewError("open", rawPath, archivefs.KindCreateFailed, err)
	}

	path := fh.Name

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if os.IsPermission(err) {
			f, rerr := os.Open(path)
			if rerr != nil {
				return nil, archivefs.NewError("open", path, archivefs.KindCreateFailed, rerr)
			}

			return openReadOnly(path, f, opener, closeHandle)
		}

		return nil, archivefs.NewError("open", path, archivefs.KindCreateFailed, err)
	}

	handle := archivebase.NewStreamHandle(f, closeHandle)
	handle.Name = path

	backend, err := opener(f)
	if err != nil {
		f.Close()
		return nil, archivefs.NewError("open", path, archivefs.KindCreateFailed, err)
	}

	base, err := archivebase.New(handle, backend)
	if err != nil {
		f.Close()
		return nil, err
	}

	ov := overlay.New(base, nil)

	return &Archive{
		vfs:       ov,
		saver:     saver,
		ownedBase: base,
		target: target{
			kind:        targetFile,
			path:        path,
			overwrite:   true,
			closeHandle: closeHandle,
		},
	}, nil
}

// openReadOnly builds a façade with no saver: mutation is rejected by the
// underlying archivebase.Base, so the overlay degenerates to exposing the
// read layer unchanged (still usable for reads, still a valid VFS).
func openReadOnly(path string, f *os.File, opener Opener, closeHandle bool) (*Archive, error) {
	handle := archivebase.NewStreamHandle(f, closeHandle)
	handle.Name = path

	backend, err := opener(f)
	if err != nil {
		f.Close()
		return nil, archivefs.NewError("open", path, archivefs.KindCreateFailed, err)
	}

	base, err := archivebase.New(handle, backend)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &Archive{vfs: overlay.New(base, nil), ownedBase: base}, nil
}

// CreateNewFile builds a write-only façade for a path that does not exist
// yet: there is no read layer, so the façade's VFS is a bare memvfs that
// saver will serialise whole on Close. rawPath is normalised the same way
// OpenExistingFile normalises an existing path (env vars expanded,
// absolutised) before it is remembered as the save target.
func CreateNewFile(rawPath string, saver Saver) *Archive {
	path := rawPath

	if fh, err := archivebase.NewFileHandle(rawPath); err == nil {
		path = fh.Name
	}

	return &Archive{
		vfs:   memvfs.New(),
		saver: saver,
		target: target{
			kind:      targetFile,
			path:      path,
			overwrite: false,
		},
	}
}

// OpenStream builds a façade over an already-open stream. When overwrite
// is false, opener is not called and the façade has no read layer: its VFS
// is a fresh in-memory one. When overwrite is true, the stream's current
// contents are decoded with opener into the overlay's read layer.
func OpenStream(stream io.ReadWriteSeeker, opener Opener, saver Saver, overwrite bool) (*Archive, error) {
	initial, err := stream.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, archivefs.NewError("open", "", archivefs.KindCreateFailed, err)
	}

	if !overwrite {
		return &Archive{
			vfs:   memvfs.New(),
			saver: saver,
			target: target{
				kind:            targetStream,
				stream:          stream,
				initialPosition: initial,
			},
		}, nil
	}

	backend, err := opener(stream)
	if err != nil {
		return nil, archivefs.NewError("open", "", archivefs.KindCreateFailed, err)
	}

	base, err := archivebase.New(archivebase.NewStreamHandle(stream, false), backend)
	if err != nil {
		return nil, err
	}

	return &Archive{
		vfs:       overlay.New(base, nil),
		saver:     saver,
		ownedBase: base,
		target: target{
			kind:            targetStream,
			stream:          stream,
			overwrite:       true,
			initialPosition: initial,
		},
	}, nil
}

// Close runs the save protocol exactly once, then closes the overlay's
// read layer (and, if owned, the backing handle). Close is idempotent.
func (a *Archive) Close() error {
	if a.closed {
		return nil
	}

	a.closed = true

	var saveErr error

	if a.saver != nil {
		switch a.target.kind {
		case targetFile:
			saveErr = a.saveToFile()
		case targetStream:
			saveErr = a.saveToStream()
		}
	}

	if a.ownedBase != nil {
		if err := a.ownedBase.Close(); err != nil && saveErr == nil {
			saveErr = err
		}
	}

	return saveErr
}
