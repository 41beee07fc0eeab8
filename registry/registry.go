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

// Package registry implements spec.md §6's extension-based backend
// dispatch: concrete format packages Register themselves by extension
// under an init func, and callers reach them through OpenFile, CreateFile
// and OpenStream without
// importing the concrete package directly (as long as it's blank-imported
// somewhere for its init to run). Grounded on rclone's backend registry
// (fs.Register/fs.Find), adapted from rclone's "named remote" concept to
// "file extension".
package registry

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/avfs-contrib/archivefs"
	"github.com/avfs-contrib/archivefs/archive"
	"github.com/avfs-contrib/archivefs/archivebase"
)

// Builder is what a concrete format package registers: it knows how to
// open an existing archive for reading and how to produce a Saver for
// writing one back out.
type Builder struct {
	// Extensions lists the filename extensions this backend claims,
	// without the leading dot, lowercase ("zip", "tar", "tar.gz", "7z",
	// "iso").
	Extensions []string

	// Open decodes an existing archive from a seekable stream.
	Open archive.Opener

	// NewSaver returns a fresh Saver for writing an archive of this
	// format. Called once when a façade is built.
	NewSaver func() archive.Saver
}

var (
	mu       sync.RWMutex
	builders = map[string]*Builder{}
	order    []string
)

// Register associates b with every extension it claims. Called from a
// concrete backend package's init function. Panics on a duplicate
// extension, the same way rclone's fs.Register panics on a duplicate
// remote name: it means two backend packages were blank-imported for the
// same extension, which is always a programming error.
func Register(b *Builder) {
	mu.Lock()
	defer mu.Unlock()

	for _, ext := range b.Extensions {
		ext = strings.ToLower(ext)
		if _, ok := builders[ext]; ok {
			panic(fmt.Sprintf("registry: extension %q already registered", ext))
		}

		builders[ext] = b
		order = append(order, ext)
	}
}

// Extensions returns every registered extension, sorted.
func Extensions() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := append([]string(nil), order...)
	sort.Strings(out)

	return out
}

// ErrUnknownExtension is wrapped into an archivefs.Error with
// KindUnsupported when no backend claims an extension.
type ErrUnknownExtension struct{ Extension string }

func (e *ErrUnknownExtension) Error() string {
	return fmt.Sprintf("registry: no backend registered for extension %q", e.Extension)
}

// Lookup finds the Builder registered for exactly ext (a leading dot is
// ignored, case-insensitive). It does no suffix matching of its own;
// ExtensionOf picks the longest registered suffix of a filename.
func Lookup(ext string) (*Builder, error) {
	mu.RLock()
	defer mu.RUnlock()

	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if b, ok := builders[ext]; ok {
		return b, nil
	}

	return nil, archivefs.NewError("open", ext, archivefs.KindUnsupported, &ErrUnknownExtension{Extension: ext})
}

// ExtensionOf returns the registry-relevant extension suffix of name: the
// longest dot-suffix that matches a registered extension, else the final
// dot-suffix, else "".
func ExtensionOf(name string) string {
	mu.RLock()
	defer mu.RUnlock()

	lower := strings.ToLower(name)

	best := ""

	for ext := range builders {
		if strings.HasSuffix(lower, "."+ext) && len(ext) > len(best) {
			best = ext
		}
	}

	if best != "" {
		return best
	}

	if i := strings.LastIndexByte(lower, '.'); i >= 0 {
		return lower[i+1:]
	}

	return ""
}

// OpenFile opens an existing archive at path by dispatching on its
// extension, per spec.md §6's "infer format from extension" mode.
func OpenFile(path string, closeHandle bool) (*archive.Archive, error) {
	b, err := Lookup(ExtensionOf(path))
	if err != nil {
		return nil, err
	}

	return archive.OpenExistingFile(path, b.Open, b.NewSaver(), closeHandle)
}

// CreateFile builds a façade for a brand new archive at path, inferring
// format from its extension.
func CreateFile(path string) (*archive.Archive, error) {
	b, err := Lookup(ExtensionOf(path))
	if err != nil {
		return nil, err
	}

	return archive.CreateNewFile(path, b.NewSaver()), nil
}

// OpenStream builds a façade over an already-open stream for the named
// extension (spec.md §6's "explicit format" mode, needed since a stream
// has no filename to infer from).
func OpenStream(ext string, stream io.ReadWriteSeeker, overwrite bool) (*archive.Archive, error) {
	b, err := Lookup(ext)
	if err != nil {
		return nil, err
	}

	return archive.OpenStream(stream, b.Open, b.NewSaver(), overwrite)
}

// Opener re-exports archive.Opener so backend packages only need to
// import registry, not archive, to implement Register.
type Opener = archive.Opener

// BackendConstructor is the shape a concrete format's low-level "parse
// this stream" function has, before it's wrapped into an archivebase.Base
// by the façade. Kept here so backend packages share one name for it.
type BackendConstructor = func(stream io.ReadSeeker) (archivebase.Backend, error)
