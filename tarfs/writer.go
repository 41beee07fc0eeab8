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

package tarfs

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"strings"
	"time"

	"github.com/ulikunitz/xz"

	"github.com/avfs-contrib/archivefs"
	"github.com/avfs-contrib/archivefs/archive"
	"github.com/avfs-contrib/archivefs/archivebase"
	"github.com/avfs-contrib/archivefs/registry"
	"github.com/avfs-contrib/archivefs/vfspath"
)

func init() {
	registry.Register(&registry.Builder{
		Extensions: []string{"tar", "tar.gz", "tgz", "tar.bz2", "tbz", "tar.xz", "txz"},
		Open: func(stream io.ReadSeeker) (archivebase.Backend, error) {
			return Open(stream)
		},
		NewSaver: func() archive.Saver { return &Writer{} },
	})
}

// Compression selects the TAR writer's output compression.
type Compression string

// The compressions spec.md §6 names for writer-mode extension inference.
const (
	CompressionNone Compression = ""
	CompressionGzip Compression = "gz"
	CompressionXz   Compression = "xz"
)

// Writer serialises a VFS's merged view as a TAR archive, optionally
// gzip- or xz-compressed, per spec.md §4.7's writer algorithm. bzip2 has
// no third-party or standard-library Go encoder, so bzip2 output is not
// supported (read-only, per DESIGN.md).
type Writer struct {
	// Compression picks the output codec explicitly. If empty and Name
	// is set, it is inferred from Name's extension instead.
	Compression Compression

	// Name is the archive's target filename, used only for extension
	// inference when Compression is unset.
	Name string
}

// Save implements archive.Saver.
func (w *Writer) Save(v archivefs.VFS, out io.Writer) error {
	compression := w.Compression
	if compression == "" && w.Name != "" {
		compression = inferCompression(w.Name)
	}

	target := out

	var closer io.Closer

	switch compression {
	case CompressionGzip:
		gw := gzip.NewWriter(out)
		target = gw
		closer = gw
	case CompressionXz:
		xw, err := xz.NewWriter(out)
		if err != nil {
			return err
		}

		target = xw
		closer = xw
	}

	tw := tar.NewWriter(target)

	namespaces := archivefs.NewNamespaceSet(archivefs.NamespaceBasic, archivefs.NamespaceDetails, archivefs.NamespaceAccess)

	err := archivefs.Walk(v, vfspath.Root, namespaces, func(path string, info *archivefs.Info) error {
		if path == vfspath.Root {
			return nil
		}

		name := vfspath.FromBase(vfspath.Root, path)

		hdr := &tar.Header{
			Name:    name,
			ModTime: resolveModTime(info),
		}

		if info.Basic.IsDir {
			hdr.Typeflag = tar.TypeDir
			hdr.Name = vfspath.ForceDir(name)
		} else {
			hdr.Typeflag = tar.TypeReg
			hdr.Mode = 0o420

			if info.Details != nil {
				hdr.Size = info.Details.Size
			}
		}

		if info.Access != nil {
			if info.Access.Permissions != nil {
				hdr.Mode = int64(*info.Access.Permissions)
			}

			hdr.Uname = info.Access.Owner
			hdr.Gname = info.Access.Group

			if info.Access.UID != nil {
				hdr.Uid = *info.Access.UID
			}

			if info.Access.GID != nil {
				hdr.Gid = *info.Access.GID
			}
		}

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}

		if info.Basic.IsDir {
			return nil
		}

		src, err := v.OpenBin(path, archivefs.ModeRead)
		if err != nil {
			return err
		}
		defer src.Close()

		_, err = io.Copy(tw, src)

		return err
	})
	if err != nil {
		tw.Close()
		if closer != nil {
			closer.Close()
		}

		return err
	}

	if err := tw.Close(); err != nil {
		return err
	}

	if closer != nil {
		return closer.Close()
	}

	return nil
}

func inferCompression(name string) Compression {
	lower := strings.ToLower(name)

	switch {
	case strings.HasSuffix(lower, ".gz"), strings.HasSuffix(lower, ".tgz"):
		return CompressionGzip
	case strings.HasSuffix(lower, ".xz"), strings.HasSuffix(lower, ".txz"):
		return CompressionXz
	default:
		return CompressionNone
	}
}

func resolveModTime(info *archivefs.Info) time.Time {
	if info.Details != nil && info.Details.Modified != nil {
		return *info.Details.Modified
	}

	return time.Now()
}
