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

package archivefs_test

import (
	"errors"
	"sort"
	"testing"

	"github.com/avfs-contrib/archivefs"
	"github.com/avfs-contrib/archivefs/memvfs"
)

func TestExistsIsFileIsDir(t *testing.T) {
	m := memvfs.New()

	if err := archivefs.SetBytes(m, "/a.txt", []byte("x")); err != nil {
		t.Fatalf("SetBytes: want error to be nil, got %v", err)
	}

	if _, err := m.MakeDir("/dir", nil, false); err != nil {
		t.Fatalf("MakeDir: want error to be nil, got %v", err)
	}

	if !archivefs.Exists(m, "/a.txt") {
		t.Error("Exists(/a.txt): want true, got false")
	}

	if archivefs.Exists(m, "/nope") {
		t.Error("Exists(/nope): want false, got true")
	}

	if !archivefs.IsFile(m, "/a.txt") {
		t.Error("IsFile(/a.txt): want true, got false")
	}

	if archivefs.IsFile(m, "/dir") {
		t.Error("IsFile(/dir): want false, got true")
	}

	if !archivefs.IsDir(m, "/dir") {
		t.Error("IsDir(/dir): want true, got false")
	}
}

func TestIsEmpty(t *testing.T) {
	m := memvfs.New()

	if _, err := m.MakeDir("/dir", nil, false); err != nil {
		t.Fatalf("MakeDir: want error to be nil, got %v", err)
	}

	empty, err := archivefs.IsEmpty(m, "/dir")
	if err != nil {
		t.Fatalf("IsEmpty: want error to be nil, got %v", err)
	}

	if !empty {
		t.Error("IsEmpty(/dir): want true, got false")
	}

	if err := archivefs.SetBytes(m, "/dir/f.txt", []byte("x")); err != nil {
		t.Fatalf("SetBytes: want error to be nil, got %v", err)
	}

	empty, err = archivefs.IsEmpty(m, "/dir")
	if err != nil {
		t.Fatalf("IsEmpty: want error to be nil, got %v", err)
	}

	if empty {
		t.Error("IsEmpty(/dir) after adding a file: want false, got true")
	}

	empty, err = archivefs.IsEmpty(m, "/dir/f.txt")
	if err != nil {
		t.Fatalf("IsEmpty(/dir/f.txt): want error to be nil, got %v", err)
	}

	if empty {
		t.Error("IsEmpty(/dir/f.txt) with content: want false, got true")
	}
}

func TestGetSizeAndGetType(t *testing.T) {
	m := memvfs.New()

	if err := archivefs.SetBytes(m, "/a.txt", []byte("hello")); err != nil {
		t.Fatalf("SetBytes: want error to be nil, got %v", err)
	}

	size, err := archivefs.GetSize(m, "/a.txt")
	if err != nil {
		t.Fatalf("GetSize: want error to be nil, got %v", err)
	}

	if size != 5 {
		t.Errorf("GetSize: want 5, got %d", size)
	}

	kind, err := archivefs.GetType(m, "/a.txt")
	if err != nil {
		t.Fatalf("GetType: want error to be nil, got %v", err)
	}

	if kind != archivefs.KindFile {
		t.Errorf("GetType: want KindFile, got %v", kind)
	}
}

func TestGetSetTextAndAppend(t *testing.T) {
	m := memvfs.New()

	if err := archivefs.SetText(m, "/a.txt", "hello"); err != nil {
		t.Fatalf("SetText: want error to be nil, got %v", err)
	}

	got, err := archivefs.GetText(m, "/a.txt")
	if err != nil {
		t.Fatalf("GetText: want error to be nil, got %v", err)
	}

	if got != "hello" {
		t.Errorf("GetText: want %q, got %q", "hello", got)
	}

	if err := archivefs.AppendBytes(m, "/a.txt", []byte(" world")); err != nil {
		t.Fatalf("AppendBytes: want error to be nil, got %v", err)
	}

	got, err = archivefs.GetText(m, "/a.txt")
	if err != nil {
		t.Fatalf("GetText after append: want error to be nil, got %v", err)
	}

	if got != "hello world" {
		t.Errorf("GetText after append: want %q, got %q", "hello world", got)
	}
}

func TestTouch(t *testing.T) {
	m := memvfs.New()

	if err := archivefs.Touch(m, "/new.txt"); err != nil {
		t.Fatalf("Touch: want error to be nil, got %v", err)
	}

	if !archivefs.Exists(m, "/new.txt") {
		t.Error("Exists(/new.txt) after Touch: want true, got false")
	}

	if err := archivefs.SetBytes(m, "/new.txt", []byte("data")); err != nil {
		t.Fatalf("SetBytes: want error to be nil, got %v", err)
	}

	if err := archivefs.Touch(m, "/new.txt"); err != nil {
		t.Fatalf("second Touch: want error to be nil, got %v", err)
	}

	got, err := archivefs.GetText(m, "/new.txt")
	if err != nil {
		t.Fatalf("GetText: want error to be nil, got %v", err)
	}

	if got != "data" {
		t.Errorf("Touch on existing file: want content untouched (%q), got %q", "data", got)
	}
}

func TestWalkVisitsEveryEntry(t *testing.T) {
	m := memvfs.New()

	for _, p := range []string{"/a.txt", "/dir/b.txt", "/dir/sub/c.txt"} {
		if err := archivefs.SetBytes(m, p, []byte("x")); err != nil {
			t.Fatalf("SetBytes(%q): want error to be nil, got %v", p, err)
		}
	}

	var visited []string

	err := archivefs.Walk(m, "/", archivefs.NewNamespaceSet(archivefs.NamespaceBasic), func(path string, info *archivefs.Info) error {
		visited = append(visited, path)
		return nil
	})
	if err != nil {
		t.Fatalf("Walk: want error to be nil, got %v", err)
	}

	sort.Strings(visited)

	want := []string{"/", "/a.txt", "/dir", "/dir/b.txt", "/dir/sub", "/dir/sub/c.txt"}
	if len(visited) != len(want) {
		t.Fatalf("Walk: want %v, got %v", want, visited)
	}

	for i := range want {
		if visited[i] != want[i] {
			t.Errorf("Walk[%d]: want %q, got %q", i, want[i], visited[i])
		}
	}
}

func TestWalkErrSkipDirPrunesSubtree(t *testing.T) {
	m := memvfs.New()

	for _, p := range []string{"/a.txt", "/skip/b.txt", "/keep/c.txt"} {
		if err := archivefs.SetBytes(m, p, []byte("x")); err != nil {
			t.Fatalf("SetBytes(%q): want error to be nil, got %v", p, err)
		}
	}

	var visited []string

	err := archivefs.Walk(m, "/", archivefs.NewNamespaceSet(archivefs.NamespaceBasic), func(path string, info *archivefs.Info) error {
		visited = append(visited, path)

		if path == "/skip" {
			return archivefs.ErrSkipDir
		}

		return nil
	})
	if err != nil {
		t.Fatalf("Walk: want error to be nil, got %v", err)
	}

	for _, p := range visited {
		if p == "/skip/b.txt" {
			t.Errorf("Walk: want /skip/b.txt pruned by ErrSkipDir, got it visited")
		}
	}
}

func TestErrorIsAndIsKind(t *testing.T) {
	cause := errors.New("underlying")
	err := archivefs.NewError("getinfo", "/a.txt", archivefs.KindNotFound, cause)

	if !archivefs.IsKind(err, archivefs.KindNotFound) {
		t.Error("IsKind: want true for matching kind, got false")
	}

	if archivefs.IsKind(err, archivefs.KindReadOnly) {
		t.Error("IsKind: want false for mismatched kind, got true")
	}

	if !errors.Is(err, cause) {
		t.Error("errors.Is: want wrapped cause to be reachable, got false")
	}

	var target *archivefs.Error
	if !errors.As(err, &target) {
		t.Fatal("errors.As: want *archivefs.Error to match, got false")
	}

	if target.Kind != archivefs.KindNotFound {
		t.Errorf("errors.As result: want Kind %v, got %v", archivefs.KindNotFound, target.Kind)
	}
}

func TestInfoHasNamespace(t *testing.T) {
	info := &archivefs.Info{
		Basic: archivefs.Basic{Name: "a.txt"},
		Raw: map[archivefs.Namespace]map[string]any{
			"zip": {"crc32": uint32(0)},
		},
	}

	if !info.Has("zip") {
		t.Error(`Has("zip"): want true, got false`)
	}

	if info.Has("7z") {
		t.Error(`Has("7z") with no such entry in Raw: want false, got true`)
	}

	if (&archivefs.Info{}).Has("zip") {
		t.Error(`Has("zip") with nil Raw: want false, got true`)
	}
}

func TestNamespaceSetHas(t *testing.T) {
	ns := archivefs.NewNamespaceSet(archivefs.NamespaceBasic, archivefs.NamespaceDetails)

	if !ns.Has(archivefs.NamespaceBasic) {
		t.Error("Has(NamespaceBasic): want true, got false")
	}

	if ns.Has(archivefs.NamespaceAccess) {
		t.Error("Has(NamespaceAccess): want false, got true")
	}
}
