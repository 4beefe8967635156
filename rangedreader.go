// Copyright The vrfs Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vrfs

import (
	"fmt"
	"io"
)

// RangedReader is a read-only view of a backing io.ReadSeeker constrained to
// the window [offset, offset+size). It maintains its own logical position
// and repositions the backing stream before every read, so multiple
// RangedReaders may share one backing stream as long as callers serialize
// their reads against it.
type RangedReader struct {
	wrapped      io.ReadSeeker
	offset, size int64
	pos          int64
}

// NewRangedReader returns a RangedReader over [offset, offset+size) of
// wrapped. offset and size must be non-negative.
func NewRangedReader(wrapped io.ReadSeeker, offset, size int64) (*RangedReader, error) {
	if offset < 0 {
		return nil, invalidArgumentErrorf("ranged reader: negative offset %d", offset)
	}
	if size < 0 {
		return nil, invalidArgumentErrorf("ranged reader: negative size %d", size)
	}
	return &RangedReader{wrapped: wrapped, offset: offset, size: size}, nil
}

// Size returns the size of the window.
func (r *RangedReader) Size() int64 { return r.size }

// Read implements io.Reader. It returns at most the bytes remaining in the
// window, and io.EOF once the logical position reaches the window's size.
func (r *RangedReader) Read(p []byte) (int, error) {
	if r.pos >= r.size {
		return 0, io.EOF
	}

	if _, err := r.wrapped.Seek(r.offset+r.pos, io.SeekStart); err != nil {
		return 0, fmt.Errorf("ranged reader: seeking backing stream: %w", err)
	}

	if max := r.size - r.pos; int64(len(p)) > max {
		p = p[:max]
	}

	n, err := r.wrapped.Read(p)
	r.pos += int64(n)
	if err == io.EOF {
		return n, io.EOF
	}
	if err != nil {
		return n, fmt.Errorf("ranged reader: reading backing stream: %w", err)
	}
	return n, nil
}

// Seek implements io.Seeker. whence is one of io.SeekStart, io.SeekCurrent,
// io.SeekEnd, with io.SeekEnd relative to the window's size. A negative
// absolute position (io.SeekStart) is an error; a negative relative result
// (io.SeekCurrent, io.SeekEnd) clamps to 0.
func (r *RangedReader) Seek(target int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		if target < 0 {
			return 0, invalidArgumentErrorf("ranged reader: negative seek target %d", target)
		}
		r.pos = target
	case io.SeekCurrent:
		pos := r.pos + target
		if pos < 0 {
			pos = 0
		}
		r.pos = pos
	case io.SeekEnd:
		pos := r.size + target
		if pos < 0 {
			pos = 0
		}
		r.pos = pos
	default:
		return 0, invalidArgumentErrorf("ranged reader: invalid whence %d", whence)
	}
	return r.pos, nil
}
