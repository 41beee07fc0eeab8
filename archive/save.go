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

package archive

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/avfs-contrib/archivefs"
)

// saveToFile implements the to_file half of spec.md §4.5's save protocol:
// serialise into a sibling ".tmp" file, then atomically rename it over the
// target. This avoids ever leaving a half-written archive at path if Save
// fails partway through.
func (a *Archive) saveToFile() error {
	dir := filepath.Dir(a.target.path)
	tmp, err := os.CreateTemp(dir, ".archivefs-*.tmp")
	if err != nil {
		return archivefs.NewError("close", a.target.path, archivefs.KindOperationFailed, err)
	}

	tmpPath := tmp.Name()

	if err := a.saver.Save(a.vfs, tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)

		return archivefs.NewError("close", a.target.path, archivefs.KindOperationFailed, err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return archivefs.NewError("close", a.target.path, archivefs.KindOperationFailed, err)
	}

	if err := os.Rename(tmpPath, a.target.path); err != nil {
		os.Remove(tmpPath)
		return archivefs.NewError("close", a.target.path, archivefs.KindOperationFailed, err)
	}

	return nil
}

// saveToStream implements the to_stream half of spec.md §4.5's save
// protocol. When overwrite is false there is no prior content at
// initialPosition worth protecting, so the Saver writes straight into the
// stream. When overwrite is true the stream's current bytes are live
// archive data: the new content is staged into memory first, and only
// once that has succeeded in full does the function seek back and copy it
// in, truncating away anything the old contents left past the new end
// (only possible when the stream also supports truncation). A failure
// while staging never touches the stream, so the original archive is
// still intact if Save fails partway through.
func (a *Archive) saveToStream() error {
	if !a.target.overwrite {
		if _, err := a.target.stream.Seek(a.target.initialPosition, io.SeekStart); err != nil {
			return archivefs.NewError("close", "", archivefs.KindOperationFailed, err)
		}

		if err := a.saver.Save(a.vfs, a.target.stream); err != nil {
			return archivefs.NewError("close", "", archivefs.KindOperationFailed, err)
		}

		return nil
	}

	var staged bytes.Buffer
	if err := a.saver.Save(a.vfs, &staged); err != nil {
		return archivefs.NewError("close", "", archivefs.KindOperationFailed, err)
	}

	stagedLen := int64(staged.Len())

	if _, err := a.target.stream.Seek(a.target.initialPosition, io.SeekStart); err != nil {
		return archivefs.NewError("close", "", archivefs.KindOperationFailed, err)
	}

	if _, err := io.Copy(a.target.stream, &staged); err != nil {
		return archivefs.NewError("close", "", archivefs.KindOperationFailed, err)
	}

	if truncater, ok := a.target.stream.(interface{ Truncate(size int64) error }); ok {
		if err := truncater.Truncate(a.target.initialPosition + stagedLen); err != nil {
			return archivefs.NewError("close", "", archivefs.KindOperationFailed, err)
		}
	}

	return nil
}
