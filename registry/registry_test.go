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

package registry_test

import (
	"io"
	"testing"

	"github.com/avfs-contrib/archivefs"
	"github.com/avfs-contrib/archivefs/archive"
	"github.com/avfs-contrib/archivefs/archivebase"
	"github.com/avfs-contrib/archivefs/registry"
)

type nopSaver struct{}

func (nopSaver) Save(v archivefs.VFS, w io.Writer) error { return nil }

func fakeOpener(stream io.ReadSeeker) (archivebase.Backend, error) {
	return nil, archivefs.NewError("open", "", archivefs.KindUnsupported, nil)
}

func TestRegisterAndLookup(t *testing.T) {
	registry.Register(&registry.Builder{
		Extensions: []string{"regtestfmt"},
		Open:       fakeOpener,
		NewSaver:   func() archive.Saver { return nopSaver{} },
	})

	b, err := registry.Lookup("regtestfmt")
	if err != nil {
		t.Fatalf("Lookup: want error to be nil, got %v", err)
	}

	if b == nil {
		t.Fatal("Lookup: want a non-nil Builder, got nil")
	}

	b2, err := registry.Lookup(".REGTESTFMT")
	if err != nil {
		t.Fatalf("Lookup with dot and uppercase: want error to be nil, got %v", err)
	}

	if b2 != b {
		t.Error("Lookup: want the same Builder regardless of case/leading dot")
	}
}

func TestLookupUnknownExtension(t *testing.T) {
	_, err := registry.Lookup("regtestfmt-does-not-exist")
	if !archivefs.IsKind(err, archivefs.KindUnsupported) {
		t.Fatalf("Lookup on unknown extension: want KindUnsupported, got %v", err)
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	registry.Register(&registry.Builder{
		Extensions: []string{"regtestdup"},
		Open:       fakeOpener,
		NewSaver:   func() archive.Saver { return nopSaver{} },
	})

	defer func() {
		if recover() == nil {
			t.Fatal("Register: want panic on duplicate extension, got none")
		}
	}()

	registry.Register(&registry.Builder{
		Extensions: []string{"regtestdup"},
		Open:       fakeOpener,
		NewSaver:   func() archive.Saver { return nopSaver{} },
	})
}

func TestExtensionOfPrefersLongestRegisteredSuffix(t *testing.T) {
	registry.Register(&registry.Builder{
		Extensions: []string{"regtest.tar.gz"},
		Open:       fakeOpener,
		NewSaver:   func() archive.Saver { return nopSaver{} },
	})

	if got, want := registry.ExtensionOf("archive.regtest.tar.gz"), "regtest.tar.gz"; got != want {
		t.Errorf("ExtensionOf: want %q, got %q", want, got)
	}

	if got, want := registry.ExtensionOf("plain.unregisteredext"), "unregisteredext"; got != want {
		t.Errorf("ExtensionOf fallback: want %q, got %q", want, got)
	}
}

func TestExtensionOfNoExtension(t *testing.T) {
	if got := registry.ExtensionOf("noext"); got != "" {
		t.Errorf("ExtensionOf: want empty string, got %q", got)
	}
}

func TestExtensionsIsSorted(t *testing.T) {
	exts := registry.Extensions()

	for i := 1; i < len(exts); i++ {
		if exts[i-1] > exts[i] {
			t.Fatalf("Extensions: want sorted order, got %v", exts)
		}
	}
}
