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

package memvfs_test

import (
	"testing"

	"github.com/avfs-contrib/archivefs"
	"github.com/avfs-contrib/archivefs/memvfs"
)

func TestSetGetBytes(t *testing.T) {
	m := memvfs.New()

	if err := archivefs.SetBytes(m, "/foo/bar.txt", []byte("hello")); err != nil {
		t.Fatalf("SetBytes: want error to be nil, got %v", err)
	}

	got, err := archivefs.GetBytes(m, "/foo/bar.txt")
	if err != nil {
		t.Fatalf("GetBytes: want error to be nil, got %v", err)
	}

	if string(got) != "hello" {
		t.Errorf("GetBytes: want %q, got %q", "hello", got)
	}

	if !archivefs.IsDir(m, "/foo") {
		t.Error("IsDir(/foo): want true, got false")
	}

	if !archivefs.IsFile(m, "/foo/bar.txt") {
		t.Error("IsFile(/foo/bar.txt): want true, got false")
	}
}

func TestListDir(t *testing.T) {
	m := memvfs.New()

	for _, p := range []string{"/a.txt", "/b.txt", "/dir/c.txt"} {
		if err := archivefs.SetBytes(m, p, []byte("x")); err != nil {
			t.Fatalf("SetBytes(%q): want error to be nil, got %v", p, err)
		}
	}

	names, err := m.ListDir("/")
	if err != nil {
		t.Fatalf("ListDir: want error to be nil, got %v", err)
	}

	want := map[string]bool{"a.txt": true, "b.txt": true, "dir": true}
	if len(names) != len(want) {
		t.Fatalf("ListDir: want %d entries, got %d (%v)", len(want), len(names), names)
	}

	for _, n := range names {
		if !want[n] {
			t.Errorf("ListDir: unexpected entry %q", n)
		}
	}
}

func TestMakeDirRecreate(t *testing.T) {
	m := memvfs.New()

	if _, err := m.MakeDir("/dir", nil, false); err != nil {
		t.Fatalf("MakeDir: want error to be nil, got %v", err)
	}

	if _, err := m.MakeDir("/dir", nil, false); !archivefs.IsKind(err, archivefs.KindDirExists) {
		t.Fatalf("MakeDir without recreate on existing dir: want KindDirExists, got %v", err)
	}

	if _, err := m.MakeDir("/dir", nil, true); err != nil {
		t.Fatalf("MakeDir with recreate: want error to be nil, got %v", err)
	}
}

func TestRemoveAndRemoveDir(t *testing.T) {
	m := memvfs.New()

	if err := archivefs.SetBytes(m, "/f.txt", []byte("x")); err != nil {
		t.Fatalf("SetBytes: want error to be nil, got %v", err)
	}

	if err := m.Remove("/f.txt"); err != nil {
		t.Fatalf("Remove: want error to be nil, got %v", err)
	}

	if archivefs.Exists(m, "/f.txt") {
		t.Error("Exists after Remove: want false, got true")
	}

	if _, err := m.MakeDir("/dir", nil, false); err != nil {
		t.Fatalf("MakeDir: want error to be nil, got %v", err)
	}

	if err := archivefs.SetBytes(m, "/dir/f.txt", []byte("x")); err != nil {
		t.Fatalf("SetBytes: want error to be nil, got %v", err)
	}

	if err := m.RemoveDir("/dir"); !archivefs.IsKind(err, archivefs.KindDirNotEmpty) {
		t.Fatalf("RemoveDir on non-empty dir: want KindDirNotEmpty, got %v", err)
	}

	if err := m.Remove("/dir/f.txt"); err != nil {
		t.Fatalf("Remove: want error to be nil, got %v", err)
	}

	if err := m.RemoveDir("/dir"); err != nil {
		t.Fatalf("RemoveDir on empty dir: want error to be nil, got %v", err)
	}
}

func TestGetInfoNotFound(t *testing.T) {
	m := memvfs.New()

	_, err := m.GetInfo("/nope", archivefs.NewNamespaceSet(archivefs.NamespaceBasic))
	if !archivefs.IsKind(err, archivefs.KindNotFound) {
		t.Fatalf("GetInfo on missing path: want KindNotFound, got %v", err)
	}
}

func TestGetMeta(t *testing.T) {
	m := memvfs.New()

	meta := m.GetMeta()
	if meta.ReadOnly {
		t.Error("GetMeta: want ReadOnly false for a fresh in-memory VFS, got true")
	}

	if !meta.SupportsRename {
		t.Error("GetMeta: want SupportsRename true, got false")
	}
}
