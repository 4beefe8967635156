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

// obfsKeyMask is the mask applied to a declared ObfsReader size: the
// on-disk packed_size field is only 26 bits wide.
const obfsKeyMask = 0x03ff_ffff

// headKey and tailKey are the two 16-byte XOR windows applied near the
// start and end of a compressed-then-obfuscated payload. tailKey is
// headKey with its four 4-byte groups reversed.
var (
	headKey = []byte{
		0x55, 0xaa, 0x55, 0xaa,
		0x0f, 0xf0, 0x0f, 0xf0,
		0x55, 0xaa, 0x55, 0xaa,
		0x48, 0x12, 0x48, 0x12,
	}
	tailKey = []byte{
		0x48, 0x12, 0x48, 0x12,
		0x55, 0xaa, 0x55, 0xaa,
		0x0f, 0xf0, 0x0f, 0xf0,
		0x55, 0xaa, 0x55, 0xaa,
	}
)

// Obfuscate XORs data in place as if it were the full declared-size
// payload starting at absolute offset 0. The transform is involutive:
// Obfuscate undoes its own effect when applied twice to the same bytes.
func Obfuscate(data []byte, size int64) {
	xorKeyRange(data, 0, size, headKey, tailKey)
}

// xorKeyRange XORs the portion of data that falls within the head window
// [0,16) and, if size>=32, the tail window [tailOffset, tailOffset+16) of
// a logical buffer of the given size, where data represents the bytes of
// that buffer starting at absolute offset lpos.
func xorKeyRange(data []byte, lpos, size int64, headKey, tailKey []byte) {
	size &= obfsKeyMask
	if size < 16 {
		return
	}
	applyKeyWindow(data, lpos, 0, 16, headKey)
	if size >= 32 {
		tailOffset := (size &^ 3) - 16
		applyKeyWindow(data, lpos, tailOffset, tailOffset+16, tailKey)
	}
}

// applyKeyWindow XORs the bytes of data (representing absolute offsets
// [lpos, lpos+len(data))) that fall within [winStart, winEnd) with the
// corresponding bytes of key.
func applyKeyWindow(data []byte, lpos, winStart, winEnd int64, key []byte) {
	dataStart, dataEnd := lpos, lpos+int64(len(data))
	start := max64(dataStart, winStart)
	end := min64(dataEnd, winEnd)
	for i := start; i < end; i++ {
		data[i-dataStart] ^= key[i-winStart]
	}
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// ObfsReader is a transparent XOR-deobfuscating overlay over a backing
// io.ReadSeeker that carries exactly size bytes of ZSTD-compressed,
// obfuscated payload (size is masked with 0x03ff_ffff, since the on-disk
// packed_size field is 26 bits). Reads and seeks pass through to the
// backing stream; returned bytes are deobfuscated in place.
type ObfsReader struct {
	wrapped io.ReadSeeker
	size    int64
}

// NewObfsReader returns an ObfsReader over wrapped, which must carry
// exactly size bytes (masked with 0x03ff_ffff) of obfuscated payload.
func NewObfsReader(wrapped io.ReadSeeker, size int64) (*ObfsReader, error) {
	if size < 0 {
		return nil, invalidArgumentErrorf("obfs reader: negative size %d", size)
	}
	return &ObfsReader{wrapped: wrapped, size: size & obfsKeyMask}, nil
}

// Seek implements io.Seeker by delegating to the backing stream.
func (r *ObfsReader) Seek(target int64, whence int) (int64, error) {
	pos, err := r.wrapped.Seek(target, whence)
	if err != nil {
		return pos, fmt.Errorf("obfs reader: seeking backing stream: %w", err)
	}
	return pos, nil
}

// Read implements io.Reader, deobfuscating the bytes it returns.
func (r *ObfsReader) Read(p []byte) (int, error) {
	lpos, err := r.wrapped.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, fmt.Errorf("obfs reader: locating backing stream: %w", err)
	}
	if lpos >= r.size {
		return 0, io.EOF
	}

	if max := r.size - lpos; int64(len(p)) > max {
		p = p[:max]
	}

	n, err := r.wrapped.Read(p)
	xorKeyRange(p[:n], lpos, r.size, headKey, tailKey)

	if err == io.EOF {
		return n, io.EOF
	}
	if err != nil {
		return n, fmt.Errorf("obfs reader: reading backing stream: %w", err)
	}
	return n, nil
}
