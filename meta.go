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

package archivefs

// Meta reports the capabilities of a VFS instance, the way GetMeta("standard")
// does in spec: a fixed set of named booleans/ints describing the backend.
type Meta struct {
	CaseInsensitive  bool
	UnicodePaths     bool
	ReadOnly         bool
	SupportsRename   bool
	MaxPathLength    int // 0 means unbounded
	InvalidPathChars []byte
	ThreadSafe       bool
	Virtual          bool
	Network          bool
}

// DefaultMeta returns the Meta a from-scratch read/write in-memory VFS
// reports: case-sensitive, Unicode paths, not read-only, renames supported,
// no path length limit, only NUL forbidden, thread-safe within this
// process, virtual, no network.
func DefaultMeta() Meta {
	return Meta{
		CaseInsensitive:  false,
		UnicodePaths:     true,
		ReadOnly:         false,
		SupportsRename:   true,
		MaxPathLength:    0,
		InvalidPathChars: []byte{0x00},
		ThreadSafe:       true,
		Virtual:          true,
		Network:          false,
	}
}
