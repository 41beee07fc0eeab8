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

package isofs_test

import (
	"bytes"
	"sort"
	"testing"

	"github.com/avfs-contrib/archivefs"
	"github.com/avfs-contrib/archivefs/isofs"
	"github.com/avfs-contrib/archivefs/memvfs"
)

func buildSource(t *testing.T) archivefs.VFS {
	t.Helper()

	m := memvfs.New()

	for p, content := range map[string]string{
		"/readme.txt":     "hello from iso",
		"/dir/nested.txt": "nested contents",
	} {
		if err := archivefs.SetBytes(m, p, []byte(content)); err != nil {
			t.Fatalf("SetBytes(%q): want error to be nil, got %v", p, err)
		}
	}

	return m
}

func save(t *testing.T, w *isofs.Writer, v archivefs.VFS) *bytes.Reader {
	t.Helper()

	var buf bytes.Buffer
	if err := w.Save(v, &buf); err != nil {
		t.Fatalf("Save: want error to be nil, got %v", err)
	}

	return bytes.NewReader(buf.Bytes())
}

func TestPlainRoundTrip(t *testing.T) {
	src := buildSource(t)
	stream := save(t, isofs.NewWriter(), src)

	backend, err := isofs.Open(stream)
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

	if got, want := string(data[:n]), "hello from iso"; got != want {
		t.Errorf("Read: want %q, got %q", want, got)
	}
}

func TestJolietRoundTripPreservesCase(t *testing.T) {
	src := buildSource(t)
	stream := save(t, isofs.NewWriter(isofs.WithJoliet(true)), src)

	backend, err := isofs.Open(stream)
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
}

func TestRockRidgeRoundTripPreservesNameAndMode(t *testing.T) {
	m := memvfs.New()

	longName := "/a-long-descriptive-filename.markdown"
	if err := archivefs.SetBytes(m, longName, []byte("rock ridge payload")); err != nil {
		t.Fatalf("SetBytes: want error to be nil, got %v", err)
	}

	perm := uint32(0o640)
	if err := m.SetInfo(longName, &archivefs.Info{
		Access: &archivefs.Access{Permissions: &perm},
	}); err != nil {
		t.Fatalf("SetInfo: want error to be nil, got %v", err)
	}

	stream := save(t, isofs.NewWriter(isofs.WithRockRidge(isofs.RockRidge112)), m)

	backend, err := isofs.Open(stream)
	if err != nil {
		t.Fatalf("Open: want error to be nil, got %v", err)
	}

	names, err := backend.ListDir("/")
	if err != nil {
		t.Fatalf("ListDir: want error to be nil, got %v", err)
	}

	found := false

	for _, n := range names {
		if n == "a-long-descriptive-filename.markdown" {
			found = true
		}
	}

	if !found {
		t.Fatalf("ListDir: want Rock Ridge long name preserved, got %v", names)
	}

	f, err := backend.OpenBin(longName)
	if err != nil {
		t.Fatalf("OpenBin: want error to be nil, got %v", err)
	}

	defer f.Close()

	data := make([]byte, 64)

	n, err := f.Read(data)
	if err != nil && n == 0 {
		t.Fatalf("Read: want error to be nil, got %v", err)
	}

	if got, want := string(data[:n]), "rock ridge payload"; got != want {
		t.Errorf("Read: want %q, got %q", want, got)
	}

	info, err := backend.GetInfo(longName, archivefs.NewNamespaceSet(archivefs.NamespaceAccess))
	if err != nil {
		t.Fatalf("GetInfo: want error to be nil, got %v", err)
	}

	if info.Access == nil || info.Access.Permissions == nil {
		t.Fatal("GetInfo: want Access.Permissions preserved via Rock Ridge PX, got nil")
	}

	if *info.Access.Permissions != perm {
		t.Errorf("GetInfo: want permissions %o, got %o", perm, *info.Access.Permissions)
	}
}

func TestInterchangeLevel1CollisionResolution(t *testing.T) {
	m := memvfs.New()

	for _, name := range []string{"quarterly-january.txt", "quarterly-february.txt", "quarterly-march.txt"} {
		if err := archivefs.SetBytes(m, "/"+name, []byte(name)); err != nil {
			t.Fatalf("SetBytes(%q): want error to be nil, got %v", name, err)
		}
	}

	stream := save(t, isofs.NewWriter(isofs.WithInterchangeLevel(1)), m)

	backend, err := isofs.Open(stream)
	if err != nil {
		t.Fatalf("Open: want error to be nil, got %v", err)
	}

	names, err := backend.ListDir("/")
	if err != nil {
		t.Fatalf("ListDir: want error to be nil, got %v", err)
	}

	if len(names) != 3 {
		t.Fatalf("ListDir: want 3 distinct slugged names after collision resolution, got %d (%v)", len(names), names)
	}

	seen := map[string]bool{}

	for _, n := range names {
		if seen[n] {
			t.Fatalf("ListDir: want unique slugs, got duplicate %q in %v", n, names)
		}

		seen[n] = true
	}
}

func TestOpenBinRejectsMissingFile(t *testing.T) {
	src := buildSource(t)
	stream := save(t, isofs.NewWriter(), src)

	backend, err := isofs.Open(stream)
	if err != nil {
		t.Fatalf("Open: want error to be nil, got %v", err)
	}

	if _, err := backend.OpenBin("/nope.txt"); !archivefs.IsKind(err, archivefs.KindNotFound) {
		t.Fatalf("OpenBin on missing file: want KindNotFound, got %v", err)
	}
}
