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

package isofs

import (
	"encoding/binary"
	"io"
	"time"

	"golang.org/x/text/encoding/unicode"
)

// jolietEncoding is the big-endian UTF-16 codec used for every Joliet
// identifier this writer emits, matching the escape sequence renderSVD
// writes at offset 88 of the secondary volume descriptor.
var jolietEncoding = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewEncoder()

// layoutPlanner assigns sector extents to every directory and file node
// and then serialises the whole image, following spec.md §4.9.4's
// algorithm: two passes (compute sizes, then sequential extent
// assignment) because directory records must reference their children's
// already-known extent numbers.
type layoutPlanner struct {
	cfg           writerConfig
	nextSector    uint32
	jolietExtents map[*wnode]uint32
}

func newLayoutPlanner(cfg writerConfig) *layoutPlanner {
	return &layoutPlanner{cfg: cfg, jolietExtents: map[*wnode]uint32{}}
}

// plan walks the tree top-down, level by level (BFS), assigning each directory
// and file an extent number in the order: system area/descriptors/path
// tables (fixed, below), ISO directories, Joliet directories, file data.
func (p *layoutPlanner) plan(root *wnode) {
	// Sectors 0-15 system area, 16 PVD, (17 SVD if joliet), terminator,
	// then a one-sector L-path-table and one-sector M-path-table.
	sector := uint32(SystemAreaSectors)
	sector++ // PVD

	if p.cfg.joliet {
		sector++ // SVD
	}

	sector++          // terminator
	sector += 2        // L-path-table, M-path-table (minimal, root-only)

	p.nextSector = sector

	isoOrder := bfsOrder(root)

	for _, n := range isoOrder {
		if !n.isDir {
			continue
		}

		n.extent = p.nextSector
		p.nextSector += sectorsFor(p.dirRecordSize(n, false))
	}

	if p.cfg.joliet {
		for _, n := range isoOrder {
			if !n.isDir {
				continue
			}

			// Joliet uses a parallel numbering tracked separately since
			// a node only has one `extent` field; store joliet extents
			// in a side table keyed by node.
			p.jolietExtent(n)
		}
	}

	for _, n := range isoOrder {
		if n.isDir {
			continue
		}

		n.extent = p.nextSector
		n.dataLen = uint32(len(n.content))
		p.nextSector += sectorsFor(len(n.content))
	}
}

func (p *layoutPlanner) jolietExtent(n *wnode) {
	p.jolietExtents[n] = p.nextSector
	p.nextSector += sectorsFor(p.dirRecordSize(n, true))
}

func bfsOrder(root *wnode) []*wnode {
	var out []*wnode

	queue := []*wnode{root}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		out = append(out, n)
		queue = append(queue, n.children...)
	}

	return out
}

func sectorsFor(n int) uint32 {
	if n == 0 {
		return 1
	}

	return uint32((n + BlockSize - 1) / BlockSize)
}

// dirRecordSize returns the byte size a directory's own extent will
// occupy once packed with the sector-boundary rule (records never
// straddle a 2048-byte boundary), without committing it to the buffer
// maps yet (dataLen must be known before extents are final, but the
// buffer's byte layout doesn't change once child extents are assigned
// except for the numeric fields, which are fixed-width).
func (p *layoutPlanner) dirRecordSize(n *wnode, joliet bool) int {
	records := [][]byte{
		buildDirRecordPlaceholder(".", false),
		buildDirRecordPlaceholder("..", false),
	}

	for _, c := range n.children {
		if joliet {
			records = append(records, buildDirRecordPlaceholder(jolietUTF16BE(c.jolietName), c.isDir))
		} else {
			su := p.rockRidgeSystemUse(c)
			records = append(records, buildDirRecordPlaceholderSU(c.isoName, c.isDir, len(su)))
		}
	}

	return len(packRecords(records))
}

func buildDirRecordPlaceholder(identifier string, isDir bool) []byte {
	return buildDirRecordPlaceholderSU(identifier, isDir, 0)
}

func buildDirRecordPlaceholderSU(identifier string, isDir bool, suLen int) []byte {
	idBytes := []byte(identifier)

	idLen := len(idBytes)
	length := 33 + idLen

	if idLen%2 == 0 {
		length++
	}

	length += suLen

	return make([]byte, length)
}

// rockRidgeSystemUse synthesises the NM/PX entries for a child node when
// Rock Ridge is enabled.
func (p *layoutPlanner) rockRidgeSystemUse(n *wnode) []byte {
	if p.cfg.rockRidge == RockRidgeNone {
		return nil
	}

	var buf []byte

	nameBytes := []byte(n.name)
	nmLen := 5 + len(nameBytes)
	nm := make([]byte, nmLen)
	nm[0], nm[1] = 'N', 'M'
	nm[2] = byte(nmLen)
	nm[3] = 1 // version
	nm[4] = 0 // flags: name complete in this entry
	copy(nm[5:], nameBytes)
	buf = append(buf, nm...)

	px := make([]byte, 36)
	px[0], px[1] = 'P', 'X'
	px[2] = 36
	px[3] = 1

	mode := uint32(0o100644)
	if n.isDir {
		mode = 0o040755
	}

	if n.mode != nil {
		mode = (mode &^ 0o7777) | *n.mode
	}

	binary.LittleEndian.PutUint32(px[4:8], mode)
	binary.BigEndian.PutUint32(px[8:12], mode)

	buf = append(buf, px...)

	return buf
}

// packRecords concatenates records honouring the no-straddle rule: a
// record that would cross a BlockSize boundary is preceded by zero
// padding up to the next boundary. The final buffer is padded to a
// whole number of sectors.
func packRecords(records [][]byte) []byte {
	var buf []byte

	for _, r := range records {
		off := len(buf)
		if off/BlockSize != (off+len(r)-1)/BlockSize {
			next := ((off / BlockSize) + 1) * BlockSize
			buf = append(buf, make([]byte, next-off)...)
		}

		buf = append(buf, r...)
	}

	if rem := len(buf) % BlockSize; rem != 0 {
		buf = append(buf, make([]byte, BlockSize-rem)...)
	}

	if len(buf) == 0 {
		buf = make([]byte, BlockSize)
	}

	return buf
}

// write serialises the planned image: system area, PVD, optional SVD,
// terminator, minimal path tables, directory extents, file data.
func (p *layoutPlanner) write(root *wnode, out io.Writer) error {
	var buf []byte

	buf = append(buf, make([]byte, SystemAreaSectors*BlockSize)...)

	rootExtent := root.extent
	rootLen := uint32(len(p.renderDir(root, false)))

	buf = append(buf, p.renderPVD(root, rootExtent, rootLen)...)

	if p.cfg.joliet {
		jExtent := p.jolietExtents[root]
		jLen := uint32(len(p.renderDir(root, true)))
		buf = append(buf, p.renderSVD(root, jExtent, jLen)...)
	}

	buf = append(buf, p.renderTerminator()...)

	buf = append(buf, p.renderPathTableStub(rootExtent, false)...)
	buf = append(buf, p.renderPathTableStub(rootExtent, true)...)

	order := bfsOrder(root)

	for _, n := range order {
		if n.isDir {
			buf = append(buf, p.renderDir(n, false)...)
		}
	}

	if p.cfg.joliet {
		for _, n := range order {
			if n.isDir {
				buf = append(buf, p.renderDir(n, true)...)
			}
		}
	}

	for _, n := range order {
		if !n.isDir {
			padded := make([]byte, int(sectorsFor(len(n.content)))*BlockSize)
			copy(padded, n.content)
			buf = append(buf, padded...)
		}
	}

	_, err := out.Write(buf)

	return err
}

func (p *layoutPlanner) renderDir(n *wnode, joliet bool) []byte {
	self := n.extent
	parentExtent := self

	if n.parent != nil {
		parentExtent = n.parent.extent
		if joliet {
			parentExtent = p.jolietExtents[n.parent]
		}
	}

	if joliet {
		self = p.jolietExtents[n]
	}

	records := [][]byte{
		p.dirRecord("\x00", self, 0, true, nil),
		p.dirRecord("\x01", parentExtent, 0, true, nil),
	}

	for _, c := range n.children {
		extent := c.extent
		if joliet {
			extent = p.jolietExtents[c]
		}

		var su []byte
		if !joliet {
			su = p.rockRidgeSystemUse(c)
		}

		name := c.isoName
		if joliet {
			name = jolietUTF16BE(c.jolietName)
		}

		dataLen := c.dataLen
		if c.isDir {
			dataLen = uint32(p.dirRecordSize(c, joliet))
		}

		records = append(records, p.dirRecord(name, extent, dataLen, c.isDir, su))
	}

	return packRecords(records)
}

// jolietUTF16BE renders a name as raw UTF-16BE bytes, the identifier
// form dirRecord expects when emitting Joliet records.
func jolietUTF16BE(name string) string {
	b, err := jolietEncoding.Bytes([]byte(name))
	if err != nil {
		// Unencodable runes (lone surrogates) can't occur in a valid Go
		// string; fall back to U+FFFD rather than dropping the name.
		b, _ = jolietEncoding.Bytes([]byte("�"))
	}

	return string(b)
}

// dirRecord builds one on-disk directory record. identifier is raw bytes
// already in its target encoding (ASCII for ISO, UTF-16BE for Joliet).
func (p *layoutPlanner) dirRecord(identifier string, extent, dataLen uint32, isDir bool, systemUse []byte) []byte {
	idBytes := []byte(identifier)
	idLen := len(idBytes)

	length := 33 + idLen
	if idLen%2 == 0 {
		length++
	}

	length += len(systemUse)

	b := make([]byte, length)
	b[0] = byte(length)
	b[1] = 0 // extended attribute length

	putBothEndian32(b[2:10], extent)
	putBothEndian32(b[10:18], dataLen)
	putRecordingDateTime(b[18:25], time.Now())

	flags := byte(0)
	if isDir {
		flags |= flagIsDir
	}

	b[25] = flags
	b[26] = 0 // file unit size
	b[27] = 0 // interleave gap
	putBothEndian16(b[28:32], 1)
	b[32] = byte(idLen)

	copy(b[33:33+idLen], idBytes)

	suStart := 33 + idLen
	if idLen%2 == 0 {
		suStart++
	}

	copy(b[suStart:], systemUse)

	return b
}

func (p *layoutPlanner) renderPVD(root *wnode, rootExtent, rootLen uint32) []byte {
	buf := make([]byte, BlockSize)
	buf[0] = vdPrimary
	copy(buf[1:6], standardIdentifier)
	buf[6] = 1 // version

	copy(buf[40:72], aChars("", 32))
	copy(buf[8:40], dChars("", 32))

	putBothEndian32(buf[80:88], p.nextSector)
	putBothEndian16(buf[120:124], 1) // volume set size
	putBothEndian16(buf[124:128], 1) // volume sequence number
	putBothEndian16(buf[128:132], BlockSize)
	putBothEndian32(buf[132:140], 0) // path table size, stub

	binary.LittleEndian.PutUint32(buf[140:144], 0) // L-path-table loc, stub

	rootRec := p.dirRecord("\x00", rootExtent, rootLen, true, nil)
	copy(buf[156:156+len(rootRec)], rootRec)

	copy(buf[190:318], dChars("", 128)) // volume set identifier
	copy(buf[318:446], aChars("", 128)) // publisher identifier
	copy(buf[446:574], aChars("", 128)) // data preparer identifier
	copy(buf[574:702], aChars("", 128)) // application identifier

	now := time.Now()
	putVolumeTimestamp(buf[813:830], now)
	putVolumeTimestamp(buf[830:847], now)
	putVolumeTimestamp(buf[847:864], time.Time{})
	putVolumeTimestamp(buf[864:881], time.Time{})

	buf[881] = 1 // file structure version

	return buf
}

func (p *layoutPlanner) renderSVD(root *wnode, rootExtent, rootLen uint32) []byte {
	buf := make([]byte, BlockSize)
	buf[0] = vdSupplement
	copy(buf[1:6], standardIdentifier)
	buf[6] = 1

	copy(buf[88:120], []byte{0x25, 0x2F, 0x45}) // Joliet level 3 escape sequence

	putBothEndian32(buf[80:88], p.nextSector)
	putBothEndian16(buf[120:124], 1)
	putBothEndian16(buf[124:128], 1)
	putBothEndian16(buf[128:132], BlockSize)

	rootRec := p.dirRecord("\x00", rootExtent, rootLen, true, nil)
	copy(buf[156:156+len(rootRec)], rootRec)

	now := time.Now()
	putVolumeTimestamp(buf[813:830], now)
	putVolumeTimestamp(buf[830:847], now)

	buf[881] = 1

	return buf
}

func (p *layoutPlanner) renderTerminator() []byte {
	buf := make([]byte, BlockSize)
	buf[0] = vdTerminator
	copy(buf[1:6], standardIdentifier)
	buf[6] = 1

	return buf
}

// renderPathTableStub emits a minimal, root-only path table. This
// backend's own reader never consults path tables (spec.md §4.9.3
// resolves purely through directory-record traversal), so a fuller
// multi-level table is not built; documented as a simplification in
// DESIGN.md.
func (p *layoutPlanner) renderPathTableStub(rootExtent uint32, bigEndian bool) []byte {
	buf := make([]byte, BlockSize)
	buf[0] = 1 // identifier length
	buf[1] = 0 // extended attribute record length

	if bigEndian {
		binary.BigEndian.PutUint32(buf[2:6], rootExtent)
		binary.BigEndian.PutUint16(buf[6:8], 1)
	} else {
		binary.LittleEndian.PutUint32(buf[2:6], rootExtent)
		binary.LittleEndian.PutUint16(buf[6:8], 1)
	}

	buf[8] = 0 // root identifier: single NUL byte

	return buf
}

// putVolumeTimestamp encodes the 17-byte volume-descriptor timestamp
// form (ASCII digits, not the 7-byte directory-record form). A zero
// time is encoded as all-zero digits with a zero GMT offset, per the
// format's "not specified" convention.
func putVolumeTimestamp(b []byte, t time.Time) {
	for i := range b {
		b[i] = '0'
	}

	if t.IsZero() {
		b[16] = 0
		return
	}

	s := t.Format("20060102150405") + "00"
	copy(b, s)
	b[16] = 0
}
