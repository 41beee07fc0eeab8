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

package sevenzipfs

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"strings"
	"unicode/utf16"

	"github.com/avfs-contrib/archivefs"
	"github.com/avfs-contrib/archivefs/archive"
	"github.com/avfs-contrib/archivefs/archivebase"
	"github.com/avfs-contrib/archivefs/registry"
	"github.com/avfs-contrib/archivefs/vfspath"
)

func init() {
	registry.Register(&registry.Builder{
		Extensions: []string{"7z"},
		Open: func(stream io.ReadSeeker) (archivebase.Backend, error) {
			return Open(stream)
		},
		NewSaver: func() archive.Saver { return &Writer{} },
	})
}

// Writer serialises a VFS's merged view into a 7z container, per
// spec.md §4.8's writer algorithm: synthesises Windows FILE_ATTRIBUTE
// flags plus UNIX mode in the high bits when access.permissions is
// present, and stores each file's bytes with the Copy (uncompressed)
// coder.
//
// javi11/sevenzip only exposes a reader; no 7z-writing library is
// present in the example pack (documented in DESIGN.md), so this Writer
// is a from-scratch, dependency-free 7z container encoder grounded on
// the binary layout in 7-Zip's own format documentation and on
// original_source/fs/archive/sevenzipfs/__init__.py for the metadata
// synthesis rules. It emits valid but always-uncompressed (method
// kCopy) packed streams — no LZMA compression is attempted.
type Writer struct {
	Password string
}

const (
	sevenZipSignature = "7z\xbc\xaf\x27\x1c"

	propHeader          = 0x01
	propArchiveProps    = 0x02
	propMainStreamsInfo = 0x04
	propFilesInfo       = 0x05
	propPackInfo        = 0x06
	propUnpackInfo      = 0x07
	propSubStreamsInfo  = 0x08
	propSize            = 0x09
	propCRC             = 0x0A
	propFolder          = 0x0B
	propCodersUnpackSize = 0x0C
	propNumUnpackStream  = 0x0D
	propEmptyStream      = 0x0E
	propEmptyFile        = 0x0F
	propName             = 0x11
	propWinAttributes    = 0x15
	propEnd              = 0x00

	attrUnixExtension = 0x8000
	attrDirectory     = 0x10
)

type writerEntry struct {
	path    string
	name    string
	isDir   bool
	size    int64
	attr    uint32
	content []byte
}

// Save implements archive.Saver.
func (w *Writer) Save(v archivefs.VFS, out io.Writer) error {
	namespaces := archivefs.NewNamespaceSet(archivefs.NamespaceBasic, archivefs.NamespaceDetails, archivefs.NamespaceAccess)

	var entries []writerEntry

	err := archivefs.Walk(v, vfspath.Root, namespaces, func(path string, info *archivefs.Info) error {
		if path == vfspath.Root {
			return nil
		}

		e := writerEntry{
			path:  path,
			name:  strings.TrimPrefix(vfspath.FromBase(vfspath.Root, path), "/"),
			isDir: info.Basic.IsDir,
		}

		e.attr = windowsAttributes(info)

		if !e.isDir {
			data, err := archivefs.GetBytes(v, path)
			if err != nil {
				return err
			}

			e.content = data
			e.size = int64(len(data))
		}

		entries = append(entries, e)

		return nil
	})
	if err != nil {
		return err
	}

	return encodeSevenZip(entries, out)
}

// windowsAttributes synthesises FILE_ATTRIBUTE flags plus, when
// access.permissions is present, the UNIX mode packed into the high
// 16 bits with the kAttrUnixExtension marker bit set, the way the
// original Python backend and py7zr both do.
func windowsAttributes(info *archivefs.Info) uint32 {
	var attr uint32
	if info.Basic.IsDir {
		attr |= attrDirectory
	}

	if info.Access != nil && info.Access.Permissions != nil {
		attr |= attrUnixExtension
		attr |= (*info.Access.Permissions & 0xFFFF) << 16
	}

	return attr
}

// encodeSevenZip writes entries as a minimal, valid, uncompressed 7z
// container: one pack stream per non-empty file (concatenated), one
// folder per such file using the Copy coder, and a FilesInfo block carrying names,
// empty-stream bits, and Windows attributes.
func encodeSevenZip(entries []writerEntry, out io.Writer) error {
	var packed bytes.Buffer

	packSizes := make([]uint64, 0, len(entries))
	crcs := make([]uint32, 0, len(entries))

	for _, e := range entries {
		if e.isDir || e.size == 0 {
			continue
		}

		packSizes = append(packSizes, uint64(len(e.content)))
		crcs = append(crcs, crc32.ChecksumIEEE(e.content))
		packed.Write(e.content)
	}

	var header bytes.Buffer
	writeHeader(&header, entries, packSizes, crcs)

	var buf bytes.Buffer
	buf.WriteString(sevenZipSignature)
	buf.WriteByte(0) // major version
	buf.WriteByte(4) // minor version

	startHeaderOffset := uint64(packed.Len())
	headerBytes := header.Bytes()

	startHeader := new(bytes.Buffer)
	binary.Write(startHeader, binary.LittleEndian, startHeaderOffset)
	binary.Write(startHeader, binary.LittleEndian, uint64(len(headerBytes)))
	binary.Write(startHeader, binary.LittleEndian, crc32.ChecksumIEEE(headerBytes))

	startHeaderCRC := crc32.ChecksumIEEE(startHeader.Bytes())

	if err := binary.Write(&buf, binary.LittleEndian, startHeaderCRC); err != nil {
		return err
	}

	buf.Write(startHeader.Bytes())
	buf.Write(packed.Bytes())
	buf.Write(headerBytes)

	_, err := out.Write(buf.Bytes())

	return err
}

func writeHeader(w *bytes.Buffer, entries []writerEntry, packSizes []uint64, crcs []uint32) {
	w.WriteByte(propHeader)

	if len(packSizes) > 0 {
		w.WriteByte(propMainStreamsInfo)
		writePackInfo(w, packSizes)
		writeUnpackInfo(w, packSizes)
		writeSubStreamsInfo(w, packSizes, crcs)
		w.WriteByte(propEnd) // end MainStreamsInfo
	}

	writeFilesInfo(w, entries)

	w.WriteByte(propEnd) // end Header
}

func writePackInfo(w *bytes.Buffer, packSizes []uint64) {
	w.WriteByte(propPackInfo)
	writeNumber(w, 0) // PackPos
	writeNumber(w, uint64(len(packSizes)))
	w.WriteByte(propSize)

	for _, s := range packSizes {
		writeNumber(w, s)
	}

	w.WriteByte(propEnd)
}

func writeUnpackInfo(w *bytes.Buffer, packSizes []uint64) {
	w.WriteByte(propUnpackInfo)
	w.WriteByte(propFolder)
	writeNumber(w, uint64(len(packSizes))) // one folder per file
	w.WriteByte(0)                         // external = 0

	for range packSizes {
		// One coder per folder: Copy (id 0x00), no attributes, 1 in/1 out.
		w.WriteByte(0x01) // coder flags: id size = 1, no attrs, simple
		w.WriteByte(0x00) // codec id: Copy
	}

	w.WriteByte(propCodersUnpackSize)

	for _, s := range packSizes {
		writeNumber(w, s)
	}

	w.WriteByte(propEnd) // end UnpackInfo
}

func writeSubStreamsInfo(w *bytes.Buffer, packSizes []uint64, crcs []uint32) {
	w.WriteByte(propSubStreamsInfo)
	w.WriteByte(propCRC)
	w.WriteByte(1) // AllAreDefined

	for _, c := range crcs {
		binary.Write(w, binary.LittleEndian, c)
	}

	w.WriteByte(propEnd) // end SubStreamsInfo
}

func writeFilesInfo(w *bytes.Buffer, entries []writerEntry) {
	w.WriteByte(propFilesInfo)
	writeNumber(w, uint64(len(entries)))

	// EmptyStream: one bit per file, set for directories and empty files.
	emptyStream := make([]bool, len(entries))
	anyEmpty := false

	for i, e := range entries {
		if e.isDir || e.size == 0 {
			emptyStream[i] = true
			anyEmpty = true
		}
	}

	if anyEmpty {
		w.WriteByte(propEmptyStream)

		bits := packBits(emptyStream)
		writeNumber(w, uint64(len(bits)))
		w.Write(bits)

		// EmptyFile carries one bit per EmptyStream entry (not per entry
		// overall): true marks a zero-byte regular file, false a
		// directory. Without it a reader must assume every EmptyStream
		// entry is a directory, which misreads zero-byte files.
		emptyFile := make([]bool, 0, len(entries))
		anyEmptyFile := false

		for i, e := range entries {
			if !emptyStream[i] {
				continue
			}

			isEmptyFile := !e.isDir
			emptyFile = append(emptyFile, isEmptyFile)

			if isEmptyFile {
				anyEmptyFile = true
			}
		}

		if anyEmptyFile {
			w.WriteByte(propEmptyFile)

			efBits := packBits(emptyFile)
			writeNumber(w, uint64(len(efBits)))
			w.Write(efBits)
		}
	}

	w.WriteByte(propName)

	var names bytes.Buffer

	for _, e := range entries {
		for _, r := range utf16.Encode([]rune(filepathFromSlash(e.name))) {
			binary.Write(&names, binary.LittleEndian, r)
		}

		binary.Write(&names, binary.LittleEndian, uint16(0))
	}

	writeNumber(w, uint64(names.Len()+1))
	w.WriteByte(0) // external = 0
	w.Write(names.Bytes())

	w.WriteByte(propWinAttributes)
	w.WriteByte(1) // AllAreDefined
	w.WriteByte(0) // external = 0

	for _, e := range entries {
		binary.Write(w, binary.LittleEndian, e.attr)
	}

	w.WriteByte(propEnd) // end FilesInfo
}

func filepathFromSlash(name string) string {
	return strings.ReplaceAll(name, "/", "\\")
}

// packBits packs booleans into a big-endian bit vector, 7z's BitVector
// encoding for defined/empty flags.
func packBits(bits []bool) []byte {
	out := make([]byte, (len(bits)+7)/8)

	for i, b := range bits {
		if b {
			out[i/8] |= 1 << (7 - uint(i%8))
		}
	}

	return out
}

// writeNumber encodes v using 7z's REAL_UINT64 number encoding. It
// always emits the unambiguous 9-byte form (marker 0xFF followed by the
// full little-endian 8-byte value) rather than the minimal variable-
// length form: valid per the format, simpler to get right.
func writeNumber(w *bytes.Buffer, v uint64) {
	w.WriteByte(0xFF)
	binary.Write(w, binary.LittleEndian, v)
}
