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

package vfspath

// Iterator walks an already-normalised absolute path one component at a
// time, the way avfs.PathIterator walks an OS path, but fixed to the
// single '/' separator archivefs uses everywhere.
//
//	it := NewIterator("/a/b/c")
//	for it.Next() {
//	  fmt.Println(it.Part())
//	}
type Iterator struct {
	path  string
	start int
	end   int
}

// NewIterator creates a new Iterator over path, which must already be
// normalised (see Norm).
func NewIterator(path string) *Iterator {
	it := &Iterator{path: path}
	it.Reset()

	return it
}

// Reset rewinds the iterator to the start of the path.
func (it *Iterator) Reset() {
	it.start = 0
	it.end = 0
}

// Next advances to the next path component, returning false once the path
// is exhausted.
func (it *Iterator) Next() bool {
	it.start = it.end + 1
	if it.start > len(it.path) {
		it.end = it.start

		return false
	}

	rest := it.path[it.start:]

	pos := indexByte(rest, Separator)
	if pos == -1 {
		it.end = len(it.path)
	} else {
		it.end = it.start + pos
	}

	return it.start < it.end
}

// Part returns the current path component.
func (it *Iterator) Part() string {
	return it.path[it.start:it.end]
}

// IsLast reports whether the current part is the final component of path.
func (it *Iterator) IsLast() bool {
	return it.end == len(it.path)
}

// LeftPart returns the path up to and including the current part.
func (it *Iterator) LeftPart() string {
	if it.end == 0 {
		return Root
	}

	return it.path[:it.end]
}

func indexByte(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}

	return -1
}
