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
	"bytes"
	"errors"
	"io"
	"strings"
)

// volumeDescriptor is the decoded form of a Primary or Supplementary
// Volume Descriptor (spec.md §4.9.1 items 2-3); the two share a layout
// and differ only in type code, escape sequences, and which hierarchy
// they're read as.
type volumeDescriptor struct {
	Type              byte
	VolumeID          string
	LogicalBlockSize  uint16
	PathTableSize     uint32
	PathTableLLoc     uint32 // Type L (little-endian) path table location
	RootRecord        *dirRecord
	EscapeSequences   []byte // SVD only: signals Joliet when matched
}

// isJoliet reports whether an SVD's escape sequence slot matches one of
// the three Joliet UCS-2 level indicators (spec.md §4.9.1 item 3).
func (v *volumeDescriptor) isJoliet() bool {
	for _, esc := range [][]byte{{0x25, 0x2F, 0x40}, {0x25, 0x2F, 0x43}, {0x25, 0x2F, 0x45}} {
		if bytes.Contains(v.EscapeSequences, esc) {
			return true
		}
	}

	return false
}

var errNoPrimaryDescriptor = errors.New("isofs: no primary volume descriptor found")

// readVolumeDescriptors scans sectors starting at SystemAreaSectors
// until a terminator descriptor, returning the Primary Volume
// Descriptor and, if present, the Supplementary one.
func readVolumeDescriptors(r io.ReaderAt) (pvd, svd *volumeDescriptor, err error) {
	for sector := SystemAreaSectors; ; sector++ {
		buf := make([]byte, BlockSize)
		if _, err := r.ReadAt(buf, int64(sector)*BlockSize); err != nil {
			return nil, nil, err
		}

		if string(buf[1:6]) != standardIdentifier {
			return nil, nil, errors.New("isofs: bad standard identifier")
		}

		switch buf[0] {
		case vdTerminator:
			if pvd == nil {
				return nil, nil, errNoPrimaryDescriptor
			}

			return pvd, svd, nil
		case vdPrimary:
			vd, err := parseVolumeDescriptor(buf)
			if err != nil {
				return nil, nil, err
			}

			pvd = vd
		case vdSupplement:
			vd, err := parseVolumeDescriptor(buf)
			if err != nil {
				return nil, nil, err
			}

			svd = vd
		case vdBootRecord, vdPartition:
			// not needed for this backend's read surface
		}
	}
}

// parseVolumeDescriptor decodes the PVD/SVD-shared 2048-byte layout.
func parseVolumeDescriptor(buf []byte) (*volumeDescriptor, error) {
	lbs, err := bothEndian16(buf[128:132])
	if err != nil {
		return nil, err
	}

	ptSize, err := bothEndian32(buf[132:140])
	if err != nil {
		return nil, err
	}

	ptLLoc := bytesToUint32LE(buf[140:144])

	root, _, err := parseDirRecord(buf[156:190])
	if err != nil {
		return nil, err
	}

	return &volumeDescriptor{
		Type:             buf[0],
		VolumeID:         strings.TrimRight(string(buf[40:72]), " "),
		LogicalBlockSize: lbs,
		PathTableSize:    ptSize,
		PathTableLLoc:    ptLLoc,
		RootRecord:       root,
		EscapeSequences:  append([]byte(nil), buf[88:120]...),
	}, nil
}

func bytesToUint32LE(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
