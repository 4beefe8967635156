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
	"encoding/binary"
	"fmt"
	"io"
)

// HeaderType is the BIN container's leading 4-byte magic.
type HeaderType [4]byte

var (
	// HeaderVRFS is the plain header: no extended header, no version.
	HeaderVRFS = HeaderType{'V', 'R', 'F', 's'}

	// HeaderVRFX is the extended header: carries a BinExtHeader with a version.
	HeaderVRFX = HeaderType{'V', 'R', 'F', 'x'}
)

func (h HeaderType) String() string { return string(h[:]) }

// PlatformType is the BIN container's target-platform tag.
type PlatformType [4]byte

var (
	PlatformPC      = PlatformType{0, 0, 'P', 'C'}
	PlatformIOS     = PlatformType{0, 'i', 'O', 'S'}
	PlatformAndroid = PlatformType{0, 'a', 'n', 'd'}
)

func (p PlatformType) String() string {
	switch p {
	case PlatformPC:
		return "PC"
	case PlatformIOS:
		return "IOS"
	case PlatformAndroid:
		return "ANDROID"
	default:
		return fmt.Sprintf("PlatformType(% x)", [4]byte(p))
	}
}

func validPlatform(p PlatformType) bool {
	return p == PlatformPC || p == PlatformIOS || p == PlatformAndroid
}

// PackType selects whether a BIN container's payload is compressed and
// whether it carries an MD5 digest. It occupies the top 6 bits of the
// header's packed word.
type PackType byte

const (
	// PackZstdObfsNoCheck is compressed, with no MD5 digest in the container.
	PackZstdObfsNoCheck PackType = 0x10

	// PackPlain is uncompressed, with an MD5 digest in the container.
	PackPlain PackType = 0x20

	// PackZstdObfs is compressed, with an MD5 digest in the container.
	PackZstdObfs PackType = 0x30
)

func (t PackType) String() string {
	switch t {
	case PackZstdObfsNoCheck:
		return "ZSTD_OBFS_NOCHECK"
	case PackPlain:
		return "PLAIN"
	case PackZstdObfs:
		return "ZSTD_OBFS"
	default:
		return fmt.Sprintf("PackType(%#x)", byte(t))
	}
}

// Compressed reports whether t denotes a ZSTD-compressed payload.
func (t PackType) Compressed() bool { return t != PackPlain }

// Checked reports whether a container of type t carries an MD5 digest.
func (t PackType) Checked() bool { return t != PackZstdObfsNoCheck }

func validPackType(t PackType) bool {
	return t == PackZstdObfsNoCheck || t == PackPlain || t == PackZstdObfs
}

// packTypeFor picks the PackType for a (compressed, checked) pair. The
// combination (compressed=false, checked=false) is illegal and reported by
// the caller before this is invoked.
func packTypeFor(compressed, checked bool) PackType {
	switch {
	case compressed && checked:
		return PackZstdObfs
	case compressed && !checked:
		return PackZstdObfsNoCheck
	default: // !compressed && checked
		return PackPlain
	}
}

// packedWordMask is the width of the packed_size bit field (26 bits).
const packedWordMask = 0x03ff_ffff

// binHeaderSize is the fixed on-disk size of a BinHeader.
const binHeaderSize = 16

// BinHeader is the 16-byte fixed header of a BIN container.
type BinHeader struct {
	Type       HeaderType
	Platform   PlatformType
	Size       uint32 // plaintext payload size
	PackType   PackType
	PackedSize uint32 // 0 iff PackType == PackPlain
}

func readBinHeader(r io.Reader) (BinHeader, error) {
	var buf [binHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return BinHeader{}, fmt.Errorf("bin header: %w", err)
	}

	var h BinHeader
	copy(h.Type[:], buf[0:4])
	if h.Type != HeaderVRFS && h.Type != HeaderVRFX {
		return BinHeader{}, formatErrorf("bin header: unknown magic %q", h.Type[:])
	}

	copy(h.Platform[:], buf[4:8])
	if !validPlatform(h.Platform) {
		return BinHeader{}, formatErrorf("bin header: unknown platform %q", h.Platform[:])
	}

	h.Size = binary.LittleEndian.Uint32(buf[8:12])

	// The packed word is stored byte-swapped relative to the header's
	// other little-endian fields: swapping the bytes of its little-endian
	// value yields the logical word type:6|size:26, which is the same as
	// reading the four bytes directly as big-endian.
	packed := binary.BigEndian.Uint32(buf[12:16])
	h.PackType = PackType(packed >> 26)
	if !validPackType(h.PackType) {
		return BinHeader{}, formatErrorf("bin header: unknown pack type %#x", byte(packed>>26))
	}
	h.PackedSize = packed & packedWordMask

	if (h.PackedSize == 0) != (h.PackType == PackPlain) {
		return BinHeader{}, formatErrorf("bin header: packed size %d inconsistent with pack type %s", h.PackedSize, h.PackType)
	}

	return h, nil
}

func writeBinHeader(w io.Writer, h BinHeader) error {
	var buf [binHeaderSize]byte
	copy(buf[0:4], h.Type[:])
	copy(buf[4:8], h.Platform[:])
	binary.LittleEndian.PutUint32(buf[8:12], h.Size)

	packed := uint32(h.PackType)<<26 | (h.PackedSize & packedWordMask)
	binary.BigEndian.PutUint32(buf[12:16], packed)

	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("bin header: %w", err)
	}
	return nil
}

// binExtHeaderSize is the fixed on-disk size of a BinExtHeader.
const binExtHeaderSize = 8

// Version is a 4-component version tuple, each component in [0,255].
type Version [4]byte

// BinExtHeader is the 8-byte extended header present when HeaderType is
// HeaderVRFX. Flags is preserved verbatim: its semantics are unspecified
// beyond always being zero in observed data.
type BinExtHeader struct {
	Flags   uint16
	Version Version
}

func readBinExtHeader(r io.Reader) (BinExtHeader, error) {
	var buf [binExtHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return BinExtHeader{}, fmt.Errorf("bin ext header: %w", err)
	}

	var h BinExtHeader
	size := binary.LittleEndian.Uint16(buf[0:2])
	if size != binExtHeaderSize {
		return BinExtHeader{}, formatErrorf("bin ext header: size field %d, expected %d", size, binExtHeaderSize)
	}
	h.Flags = binary.LittleEndian.Uint16(buf[2:4])

	// The version is stored reversed on disk: disk order [d,c,b,a]
	// means logical version (a,b,c,d).
	h.Version = Version{buf[7], buf[6], buf[5], buf[4]}

	return h, nil
}

func writeBinExtHeader(w io.Writer, h BinExtHeader) error {
	var buf [binExtHeaderSize]byte
	binary.LittleEndian.PutUint16(buf[0:2], binExtHeaderSize)
	binary.LittleEndian.PutUint16(buf[2:4], h.Flags)
	buf[4], buf[5], buf[6], buf[7] = h.Version[3], h.Version[2], h.Version[1], h.Version[0]

	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("bin ext header: %w", err)
	}
	return nil
}
