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

package zipfs

import (
	"archive/zip"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/flate"

	"github.com/avfs-contrib/archivefs"
	"github.com/avfs-contrib/archivefs/archive"
	"github.com/avfs-contrib/archivefs/archivebase"
	"github.com/avfs-contrib/archivefs/registry"
	"github.com/avfs-contrib/archivefs/vfspath"
)

func init() {
	// Register klauspost/compress's flate implementation for both the
	// reader (faster inflate) and the writer (faster, better-ratio
	// deflate than stdlib's), the way this module maximises third-party
	// compression codec usage per its domain stack.
	zip.RegisterDecompressor(zip.Deflate, func(r io.Reader) io.ReadCloser {
		return flate.NewReader(r)
	})
	zip.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.DefaultCompression)
	})

	registry.Register(&registry.Builder{
		Extensions: []string{"zip"},
		Open: func(stream io.ReadSeeker) (archivebase.Backend, error) {
			return Open(stream)
		},
		NewSaver: func() archive.Saver { return &Writer{} },
	})
}

// Writer serialises a VFS's merged view as a Zip64 ZIP archive, per
// spec.md §4.6's writer algorithm.
type Writer struct {
	// Method is the compression method used for file bodies, defaulting
	// to zip.Deflate (klauspost/compress-backed, registered in init).
	Method uint16
}

// Save implements archive.Saver.
func (w *Writer) Save(v archivefs.VFS, out io.Writer) error {
	zw := zip.NewWriter(out)

	namespaces := archivefs.NewNamespaceSet(archivefs.NamespaceBasic, archivefs.NamespaceDetails, archivefs.NamespaceAccess)

	method := w.Method
	if method == 0 {
		method = zip.Deflate
	}

	err := archivefs.Walk(v, vfspath.Root, namespaces, func(path string, info *archivefs.Info) error {
		if path == vfspath.Root {
			return nil
		}

		name := vfspath.FromBase(vfspath.Root, path)

		if info.Basic.IsDir {
			names, err := v.ListDir(path)
			if err != nil {
				return err
			}

			if len(names) > 0 {
				// Only childless directories are written explicitly;
				// non-empty ones remain implicit per spec.md §4.6.
				return nil
			}

			_, err = zw.Create(vfspath.ForceDir(name))

			return err
		}

		hdr := &zip.FileHeader{Name: name, Method: method}
		hdr.Modified = resolveModTime(info)

		if info.Access != nil && info.Access.Permissions != nil {
			hdr.SetMode(os.FileMode(*info.Access.Permissions).Perm())
		}

		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}

		src, err := v.OpenBin(path, archivefs.ModeRead)
		if err != nil {
			return err
		}
		defer src.Close()

		_, err = io.Copy(fw, src)

		return err
	})
	if err != nil {
		zw.Close()
		return err
	}

	return zw.Close()
}

func resolveModTime(info *archivefs.Info) time.Time {
	if info.Details != nil && info.Details.Modified != nil {
		return *info.Details.Modified
	}

	return time.Now()
}
