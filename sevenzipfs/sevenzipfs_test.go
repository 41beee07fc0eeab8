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

package sevenzipfs_test

import (
	"bytes"
	"io"
	"sort"
	"testing"

	"github.com/avfs-contrib/archivefs"
	"github.com/avfs-contrib/archivefs/memvfs"
	"github.com/avfs-contrib/archivefs/sevenzipfs"
)

func buildSource(t *testing.T) archivefs.VFS {
	t.Helper()

	m := memvfs.New()

	for p, content := range map[string]string{
		"/readme.txt":     "hello from 7z",
		"/dir/nested.txt": "nested contents",
	} {
		if err := archivefs.SetBytes(m, p, []byte(content)); err != nil {
			t.Fatalf("SetBytes(%q): want error to be nil, got %v", p, err)
		}
	}

	return m
}

func TestWriterReaderRoundTrip(t *testing.T) {
	src := buildSource(t)

	var buf bytes.Buffer

	w := &sevenzipfs.Writer{}
	if err := w.Save(src, &buf); err != nil {
		t.Fatalf("Save: want error to be nil, got %v", err)
	}

	backend, err := sevenzipfs.Open(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Open: want error to be nil, got %v", err)
	}

	names, err := backend.ListDir("/")
	if err != nil {
		t.Fatalf("ListDir: want error to be nil, got %v", err)
	}

	sort.Strings(names)

	want := []string{"dir", "readme.txt"}
	if len(names) != len(want) {
		t.Fatalf("ListDir: want %v, got %v", want, names)
	}

	for i := range want {
		if names[i] != want[i] {
			t.Errorf("ListDir[%d]: want %q, got %q", i, want[i], names[i])
		}
	}

	f, err := backend.OpenBin("/readme.txt")
	if err != nil {
		t.Fatalf("OpenBin: want error to be nil, got %v", err)
	}

	defer f.Close()

	data := make([]byte, 64)

	n, err := f.Read(data)
	if err != nil && n == 0 {
		t.Fatalf("Read: want error to be nil, got %v", err)
	}

	if got, want := string(data[:n]), "hello from 7z"; got != want {
		t.Errorf("Read: want %q, got %q", want, got)
	}
}

func TestGetInfoDistinguishesDirAndFile(t *testing.T) {
	src := buildSource(t)

	var buf bytes.Buffer

	w := &sevenzipfs.Writer{}
	if err := w.Save(src, &buf); err != nil {
		t.Fatalf("Save: want error to be nil, got %v", err)
	}

	backend, err := sevenzipfs.Open(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Open: want error to be nil, got %v", err)
	}

	fileInfo, err := backend.GetInfo("/dir/nested.txt", archivefs.NewNamespaceSet(archivefs.NamespaceBasic))
	if err != nil {
		t.Fatalf("GetInfo(/dir/nested.txt): want error to be nil, got %v", err)
	}

	if fileInfo.Basic.IsDir {
		t.Error("GetInfo(/dir/nested.txt): want IsDir false, got true")
	}

	dirInfo, err := backend.GetInfo("/dir", archivefs.NewNamespaceSet(archivefs.NamespaceBasic))
	if err != nil {
		t.Fatalf("GetInfo(/dir): want error to be nil, got %v", err)
	}

	if !dirInfo.Basic.IsDir {
		t.Error("GetInfo(/dir): want IsDir true, got false")
	}
}

func TestZeroByteFileRoundTripsAsFileNotDirectory(t *testing.T) {
	m := memvfs.New()

	if err := archivefs.SetBytes(m, "/empty.txt", nil); err != nil {
		t.Fatalf("SetBytes(/empty.txt): want error to be nil, got %v", err)
	}

	if err := archivefs.SetBytes(m, "/readme.txt", []byte("hello from 7z")); err != nil {
		t.Fatalf("SetBytes(/readme.txt): want error to be nil, got %v", err)
	}

	var buf bytes.Buffer

	w := &sevenzipfs.Writer{}
	if err := w.Save(m, &buf); err != nil {
		t.Fatalf("Save: want error to be nil, got %v", err)
	}

	backend, err := sevenzipfs.Open(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Open: want error to be nil, got %v", err)
	}

	info, err := backend.GetInfo("/empty.txt", archivefs.NewNamespaceSet(archivefs.NamespaceBasic))
	if err != nil {
		t.Fatalf("GetInfo(/empty.txt): want error to be nil, got %v", err)
	}

	if info.Basic.IsDir {
		t.Error("GetInfo(/empty.txt): want IsDir false for a zero-byte file, got true")
	}

	f, err := backend.OpenBin("/empty.txt")
	if err != nil {
		t.Fatalf("OpenBin(/empty.txt): want error to be nil, got %v", err)
	}

	defer f.Close()

	data := make([]byte, 1)

	n, err := f.Read(data)
	if n != 0 || (err != nil && err != io.EOF) {
		t.Errorf("Read(/empty.txt): want (0, nil or EOF), got (%d, %v)", n, err)
	}
}

func TestOpenBinRejectsMissingFile(t *testing.T) {
	src := buildSource(t)

	var buf bytes.Buffer

	w := &sevenzipfs.Writer{}
	if err := w.Save(src, &buf); err != nil {
		t.Fatalf("Save: want error to be nil, got %v", err)
	}

	backend, err := sevenzipfs.Open(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Open: want error to be nil, got %v", err)
	}

	if _, err := backend.OpenBin("/nope.txt"); !archivefs.IsKind(err, archivefs.KindNotFound) {
		t.Fatalf("OpenBin on missing file: want KindNotFound, got %v", err)
	}
}
