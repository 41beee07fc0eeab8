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

package overlay_test

import (
	"sort"
	"testing"

	"github.com/avfs-contrib/archivefs"
	"github.com/avfs-contrib/archivefs/memvfs"
	"github.com/avfs-contrib/archivefs/overlay"
)

func newPopulatedRead(t *testing.T) archivefs.VFS {
	t.Helper()

	r := memvfs.New()

	if err := archivefs.SetBytes(r, "/a.txt", []byte("read-a")); err != nil {
		t.Fatalf("SetBytes: want error to be nil, got %v", err)
	}

	if err := archivefs.SetBytes(r, "/dir/b.txt", []byte("read-b")); err != nil {
		t.Fatalf("SetBytes: want error to be nil, got %v", err)
	}

	return r
}

func TestNewDefaultsWriteLayer(t *testing.T) {
	o := overlay.New(newPopulatedRead(t), nil)

	if o.WriteLayer() == nil {
		t.Fatal("WriteLayer: want a default scratch VFS, got nil")
	}

	if !archivefs.Exists(o, "/a.txt") {
		t.Error("Exists(/a.txt): want true, got false")
	}
}

func TestExistsMergesLayers(t *testing.T) {
	o := overlay.New(newPopulatedRead(t), nil)

	if !o.Exists("/a.txt") {
		t.Error("Exists(/a.txt): want true, got false")
	}

	if !o.Exists("/dir/b.txt") {
		t.Error("Exists(/dir/b.txt): want true, got false")
	}

	if o.Exists("/nope.txt") {
		t.Error("Exists(/nope.txt): want false, got true")
	}
}

func TestRemoveTombstonesReadLayerEntry(t *testing.T) {
	o := overlay.New(newPopulatedRead(t), nil)

	if err := o.Remove("/a.txt"); err != nil {
		t.Fatalf("Remove: want error to be nil, got %v", err)
	}

	if o.Exists("/a.txt") {
		t.Error("Exists after Remove: want false, got true")
	}

	if archivefs.Exists(o.ReadLayer(), "/a.txt") {
		t.Error("Exists on read layer after overlay Remove: want read layer untouched (still true), got false")
	}
}

func TestRemoveOnMissingPathFails(t *testing.T) {
	o := overlay.New(newPopulatedRead(t), nil)

	if err := o.Remove("/nope.txt"); !archivefs.IsKind(err, archivefs.KindNotFound) {
		t.Fatalf("Remove: want KindNotFound, got %v", err)
	}
}

func TestRecreateAfterRemoveClearsTombstone(t *testing.T) {
	o := overlay.New(newPopulatedRead(t), nil)

	if err := o.Remove("/a.txt"); err != nil {
		t.Fatalf("Remove: want error to be nil, got %v", err)
	}

	f, err := o.OpenBin("/a.txt", archivefs.ModeCreate)
	if err != nil {
		t.Fatalf("OpenBin(ModeCreate): want error to be nil, got %v", err)
	}

	if _, err := f.Write([]byte("new-a")); err != nil {
		t.Fatalf("Write: want error to be nil, got %v", err)
	}

	if err := f.Close(); err != nil {
		t.Fatalf("Close: want error to be nil, got %v", err)
	}

	if !o.Exists("/a.txt") {
		t.Error("Exists after recreate: want true, got false")
	}

	got, err := archivefs.GetBytes(o, "/a.txt")
	if err != nil {
		t.Fatalf("GetBytes: want error to be nil, got %v", err)
	}

	if string(got) != "new-a" {
		t.Errorf("GetBytes: want %q, got %q", "new-a", got)
	}
}

func TestOpenBinWriteCopiesUpUnmodifiedReadLayerFile(t *testing.T) {
	o := overlay.New(newPopulatedRead(t), nil)

	f, err := o.OpenBin("/a.txt", archivefs.ModeAppend)
	if err != nil {
		t.Fatalf("OpenBin(ModeAppend): want error to be nil, got %v", err)
	}

	if _, err := f.Write([]byte("-more")); err != nil {
		t.Fatalf("Write: want error to be nil, got %v", err)
	}

	if err := f.Close(); err != nil {
		t.Fatalf("Close: want error to be nil, got %v", err)
	}

	got, err := archivefs.GetBytes(o, "/a.txt")
	if err != nil {
		t.Fatalf("GetBytes: want error to be nil, got %v", err)
	}

	if string(got) != "read-a-more" {
		t.Errorf("GetBytes: want %q, got %q", "read-a-more", got)
	}

	if !archivefs.Exists(o.WriteLayer(), "/a.txt") {
		t.Error("Exists on write layer after copy-up: want true, got false")
	}

	readBytes, err := archivefs.GetBytes(o.ReadLayer(), "/a.txt")
	if err != nil {
		t.Fatalf("GetBytes on read layer: want error to be nil, got %v", err)
	}

	if string(readBytes) != "read-a" {
		t.Errorf("GetBytes on read layer: want original %q untouched, got %q", "read-a", readBytes)
	}
}

func TestMakeDirRequiresExistingParent(t *testing.T) {
	o := overlay.New(newPopulatedRead(t), nil)

	if _, err := o.MakeDir("/missing/child", nil, false); !archivefs.IsKind(err, archivefs.KindNotFound) {
		t.Fatalf("MakeDir: want KindNotFound, got %v", err)
	}
}

func TestMakeDirExistsWithoutRecreate(t *testing.T) {
	o := overlay.New(newPopulatedRead(t), nil)

	if _, err := o.MakeDir("/dir", nil, false); !archivefs.IsKind(err, archivefs.KindDirExists) {
		t.Fatalf("MakeDir on existing read-layer dir without recreate: want KindDirExists, got %v", err)
	}
}

func TestMakeDirRecreateSucceeds(t *testing.T) {
	o := overlay.New(newPopulatedRead(t), nil)

	if _, err := o.MakeDir("/dir", nil, true); err != nil {
		t.Fatalf("MakeDir with recreate: want error to be nil, got %v", err)
	}

	if !archivefs.Exists(o.WriteLayer(), "/dir") {
		t.Error("Exists on write layer after recreate: want true, got false")
	}
}

func TestListDirMergesAndDedupsAgainstTombstones(t *testing.T) {
	o := overlay.New(newPopulatedRead(t), nil)

	if err := archivefs.SetBytes(o, "/dir/c.txt", []byte("write-c")); err != nil {
		t.Fatalf("SetBytes: want error to be nil, got %v", err)
	}

	if err := o.Remove("/dir/b.txt"); err != nil {
		t.Fatalf("Remove: want error to be nil, got %v", err)
	}

	names, err := o.ListDir("/dir")
	if err != nil {
		t.Fatalf("ListDir: want error to be nil, got %v", err)
	}

	sort.Strings(names)

	want := []string{"c.txt"}
	if len(names) != len(want) {
		t.Fatalf("ListDir: want %v, got %v", want, names)
	}

	for i := range want {
		if names[i] != want[i] {
			t.Errorf("ListDir[%d]: want %q, got %q", i, want[i], names[i])
		}
	}
}

func TestRemoveDirRequiresEmpty(t *testing.T) {
	o := overlay.New(newPopulatedRead(t), nil)

	if err := o.RemoveDir("/dir"); !archivefs.IsKind(err, archivefs.KindDirNotEmpty) {
		t.Fatalf("RemoveDir on non-empty dir: want KindDirNotEmpty, got %v", err)
	}

	if err := o.Remove("/dir/b.txt"); err != nil {
		t.Fatalf("Remove: want error to be nil, got %v", err)
	}

	if err := o.RemoveDir("/dir"); err != nil {
		t.Fatalf("RemoveDir on now-empty dir: want error to be nil, got %v", err)
	}

	if o.Exists("/dir") {
		t.Error("Exists after RemoveDir: want false, got true")
	}
}

func TestGetInfoPrefersWriteLayer(t *testing.T) {
	o := overlay.New(newPopulatedRead(t), nil)

	if err := archivefs.SetBytes(o, "/a.txt", []byte("overwritten")); err != nil {
		t.Fatalf("SetBytes: want error to be nil, got %v", err)
	}

	info, err := o.GetInfo("/a.txt", archivefs.NewNamespaceSet(archivefs.NamespaceBasic, archivefs.NamespaceDetails))
	if err != nil {
		t.Fatalf("GetInfo: want error to be nil, got %v", err)
	}

	if info.Details == nil {
		t.Fatal("GetInfo: want Details for the details namespace, got nil")
	}

	if info.Details.Size != int64(len("overwritten")) {
		t.Errorf("GetInfo: want size %d, got %d", len("overwritten"), info.Details.Size)
	}
}

func TestGetMetaIsWritableAndNotThreadSafe(t *testing.T) {
	o := overlay.New(newPopulatedRead(t), nil)

	meta := o.GetMeta()
	if meta.ReadOnly {
		t.Error("GetMeta: want ReadOnly false, got true")
	}

	if meta.ThreadSafe {
		t.Error("GetMeta: want ThreadSafe false, got true")
	}
}

func TestScanDirPaginates(t *testing.T) {
	o := overlay.New(memvfs.New(), nil)

	for _, name := range []string{"a", "b", "c"} {
		if err := archivefs.SetBytes(o, "/"+name+".txt", []byte(name)); err != nil {
			t.Fatalf("SetBytes(%q): want error to be nil, got %v", name, err)
		}
	}

	page := archivefs.ScanPage{Start: 1, End: 2}

	infos, err := o.ScanDir("/", archivefs.NewNamespaceSet(archivefs.NamespaceBasic), &page)
	if err != nil {
		t.Fatalf("ScanDir: want error to be nil, got %v", err)
	}

	if len(infos) != 1 {
		t.Fatalf("ScanDir: want 1 entry, got %d", len(infos))
	}
}

var _ archivefs.VFS = (*overlay.Overlay)(nil)
