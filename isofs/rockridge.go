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

import "encoding/binary"

// rockRidge holds the subset of Rock Ridge system-use entries this
// backend understands (spec.md §4.9.1 item 5): NM (true name), PX
// (POSIX mode/uid/gid), SL (symlink target) and RE (relocated-directory
// marker). TF, PN, SF, CL and PL entries are skipped and not decoded. SL
// targets and RE markers are recorded but not followed by the reader's
// traversal (documented as a known limitation in DESIGN.md).
type rockRidge struct {
	Name        string
	NameDone    bool
	Mode        *uint32
	UID, GID    *uint32
	SymlinkTo   string
	Relocated   bool
}

// parseRockRidge scans a directory record's system-use area for Rock
// Ridge entries. Each entry is {2-byte signature}{1-byte length}{1-byte
// version}{payload...}, length counting from the signature.
func parseRockRidge(systemUse []byte) *rockRidge {
	if len(systemUse) == 0 {
		return nil
	}

	rr := &rockRidge{}
	found := false

	b := systemUse
	for len(b) >= 4 {
		sig := string(b[0:2])
		length := int(b[2])

		if length < 4 || length > len(b) {
			break
		}

		payload := b[4:length]

		switch sig {
		case "NM":
			if len(payload) >= 1 {
				flags := payload[0]
				rr.Name += string(payload[1:])
				rr.NameDone = flags&0x01 == 0 // bit 0: name continues
				found = true
			}
		case "PX":
			if len(payload) >= 8 {
				mode := binary.LittleEndian.Uint32(payload[0:4])
				rr.Mode = &mode
				found = true
			}

			// PX's both-endian fields, relative to payload: mode@0:8,
			// links@8:16, uid@16:24, gid@24:32. Only the little-endian
			// half of each field is read, matching the mode field above.
			if len(payload) >= 24 {
				uid := binary.LittleEndian.Uint32(payload[16:20])
				rr.UID = &uid
			}

			if len(payload) >= 32 {
				gid := binary.LittleEndian.Uint32(payload[24:28])
				rr.GID = &gid
			}
		case "SL":
			if len(payload) >= 1 {
				rr.SymlinkTo = decodeSymlinkComponents(payload[1:])
				found = true
			}
		case "RE":
			rr.Relocated = true
			found = true
		}

		b = b[length:]
	}

	if !found {
		return nil
	}

	return rr
}

// decodeSymlinkComponents decodes SL's component records: each is
// {flags byte}{length byte}{content}, joined with '/' unless a
// component's CURRENT/ROOT/PARENT flag bits say otherwise.
func decodeSymlinkComponents(b []byte) string {
	var out string

	for len(b) >= 2 {
		flags := b[0]
		length := int(b[1])

		if length > len(b)-2 {
			break
		}

		comp := string(b[2 : 2+length])

		switch {
		case flags&0x02 != 0: // CURRENT
			comp = "."
		case flags&0x04 != 0: // PARENT
			comp = ".."
		case flags&0x08 != 0: // ROOT
			comp = ""
		}

		if out != "" && comp != "" {
			out += "/"
		}

		out += comp

		b = b[2+length:]
	}

	return out
}
