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
	"bytes"
	"crypto/md5"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

// BinFile is a read handle onto a BIN container: the outer wrapper that
// carries an optionally compressed, optionally obfuscated, optionally
// MD5-checked VROMFS image.
//
// The decompressed content stream is built lazily on first Read or Seek,
// and is not safe for concurrent use.
type BinFile struct {
	backing io.ReadSeeker
	owner   bool
	name    string

	header        BinHeader
	extHeader     *BinExtHeader
	payloadOffset int64
	digest        []byte // nil if absent (ZSTD_OBFS_NOCHECK)
	trailer       []byte // nil, or exactly 256 bytes

	content    io.Reader
	contentPos int64
	decoder    *zstd.Decoder
}

// OpenBin opens a BIN container from source, which must be a string path or
// an io.ReadSeeker. A path-sourced BinFile owns its backing file and closes
// it on Close; a stream-sourced BinFile does not.
func OpenBin(source any) (*BinFile, error) {
	f := &BinFile{}

	switch s := source.(type) {
	case string:
		file, err := os.Open(s)
		if err != nil {
			return nil, fmt.Errorf("open bin: %w", err)
		}
		f.backing = file
		f.owner = true
		f.name = s
	case io.ReadSeeker:
		f.backing = s
	default:
		return nil, invalidArgumentErrorf("open bin: source must be a string path or io.ReadSeeker, got %T", source)
	}

	if err := f.readMeta(); err != nil {
		if f.owner {
			_ = f.backing.(io.Closer).Close()
		}
		return nil, err
	}

	return f, nil
}

func (f *BinFile) readMeta() error {
	header, err := readBinHeader(f.backing)
	if err != nil {
		return err
	}
	f.header = header
	f.payloadOffset = binHeaderSize

	if header.Type == HeaderVRFX {
		ext, err := readBinExtHeader(f.backing)
		if err != nil {
			return err
		}
		f.extHeader = &ext
		f.payloadOffset += binExtHeaderSize
	}

	payloadSize := int64(header.Size)
	if header.PackType != PackPlain {
		payloadSize = int64(header.PackedSize)
	}

	if _, err := f.backing.Seek(f.payloadOffset+payloadSize, io.SeekStart); err != nil {
		return fmt.Errorf("bin: seeking past payload: %w", err)
	}

	if header.PackType.Checked() {
		digest := make([]byte, 16)
		if _, err := io.ReadFull(f.backing, digest); err != nil {
			return fmt.Errorf("bin: reading digest: %w", err)
		}
		f.digest = digest
	}

	trailer, err := io.ReadAll(f.backing)
	if err != nil {
		return fmt.Errorf("bin: reading trailer: %w", err)
	}
	if len(trailer) != 0 && len(trailer) != 256 {
		return formatErrorf("bin: trailer length %d, expected 0 or 256", len(trailer))
	}
	if len(trailer) != 0 {
		f.trailer = trailer
	}

	return nil
}

// Name returns the path OpenBin was given, or "" for a stream source.
func (f *BinFile) Name() string { return f.name }

// Size returns the size of the decompressed content.
func (f *BinFile) Size() int64 { return int64(f.header.Size) }

// PackType returns the container's pack type.
func (f *BinFile) PackType() PackType { return f.header.PackType }

// Platform returns the container's target platform.
func (f *BinFile) Platform() PlatformType { return f.header.Platform }

// Compressed reports whether the container's payload is ZSTD-compressed.
func (f *BinFile) Compressed() bool { return f.header.PackType.Compressed() }

// Checked reports whether the container carries an MD5 digest.
func (f *BinFile) Checked() bool { return f.header.PackType.Checked() }

// Digest returns the container's MD5 digest, or nil if Checked is false.
func (f *BinFile) Digest() []byte { return f.digest }

// Trailer returns the container's trailing 256-byte blob, or nil if absent.
// Its contents are opaque and preserved verbatim.
func (f *BinFile) Trailer() []byte { return f.trailer }

// Version returns the container's version, or nil if the header carries
// none (HeaderVRFS).
func (f *BinFile) Version() *Version {
	if f.extHeader == nil {
		return nil
	}
	v := f.extHeader.Version
	return &v
}

// Flags returns the extended header's flags field verbatim, or 0 if the
// header carries no extended header. Its semantics are unspecified.
func (f *BinFile) Flags() uint16 {
	if f.extHeader == nil {
		return 0
	}
	return f.extHeader.Flags
}

func (f *BinFile) ensureContent() error {
	if f.content != nil {
		return nil
	}
	return f.resetContent()
}

// resetContent (re)builds the content pipeline from the start of the
// payload: a RangedReader over the payload window, and, if compressed, an
// ObfsReader deobfuscating it feeding a ZSTD decoder.
func (f *BinFile) resetContent() error {
	if f.decoder != nil {
		f.decoder.Close()
		f.decoder = nil
	}

	if !f.header.PackType.Compressed() {
		rr, err := NewRangedReader(f.backing, f.payloadOffset, int64(f.header.Size))
		if err != nil {
			return err
		}
		f.content = rr
	} else {
		rr, err := NewRangedReader(f.backing, f.payloadOffset, int64(f.header.PackedSize))
		if err != nil {
			return err
		}
		or, err := NewObfsReader(rr, int64(f.header.PackedSize))
		if err != nil {
			return err
		}
		dec, err := zstd.NewReader(or)
		if err != nil {
			return decompressionErrorf("bin: creating zstd decoder: %v", err)
		}
		f.decoder = dec
		f.content = dec
	}

	f.contentPos = 0
	return nil
}

// Read implements io.Reader over the container's decompressed content.
func (f *BinFile) Read(p []byte) (int, error) {
	if err := f.ensureContent(); err != nil {
		return 0, err
	}

	n, err := f.content.Read(p)
	f.contentPos += int64(n)

	if err != nil && err != io.EOF {
		if f.decoder != nil {
			return n, decompressionErrorf("bin: reading zstd stream: %v", err)
		}
		return n, fmt.Errorf("bin: reading content: %w", err)
	}
	return n, err
}

// Seek implements io.Seeker over the container's decompressed content. For
// a compressed container, seeking to a position before the current one
// reconstructs the decompression pipeline from the start of the payload;
// seeking relative to the end of a compressed stream is unsupported since
// the decompressed length is only known by decoding.
func (f *BinFile) Seek(target int64, whence int) (int64, error) {
	if err := f.ensureContent(); err != nil {
		return 0, err
	}

	if !f.header.PackType.Compressed() {
		pos, err := f.content.(io.Seeker).Seek(target, whence)
		if err != nil {
			return 0, fmt.Errorf("bin: seeking content: %w", err)
		}
		f.contentPos = pos
		return pos, nil
	}

	if whence == io.SeekEnd {
		return 0, unsupportedErrorf("bin: seek relative to end of a compressed stream")
	}

	want, err := f.resolveTarget(target, whence)
	if err != nil {
		return 0, err
	}

	if want < f.contentPos {
		if err := f.resetContent(); err != nil {
			return 0, err
		}
	}

	return f.advanceTo(want)
}

func (f *BinFile) resolveTarget(target int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		if target < 0 {
			return 0, invalidArgumentErrorf("bin: negative seek target %d", target)
		}
		return target, nil
	case io.SeekCurrent:
		want := f.contentPos + target
		if want < 0 {
			want = 0
		}
		return want, nil
	default:
		return 0, invalidArgumentErrorf("bin: invalid whence %d", whence)
	}
}

// advanceTo reads and discards bytes of the (possibly just-reconstructed)
// decompression pipeline until it reaches the absolute position want.
func (f *BinFile) advanceTo(want int64) (int64, error) {
	for f.contentPos < want {
		n, err := io.CopyN(io.Discard, f.content, want-f.contentPos)
		f.contentPos += n
		if err != nil {
			if err == io.EOF {
				break
			}
			return f.contentPos, decompressionErrorf("bin: seeking zstd stream: %v", err)
		}
	}
	return f.contentPos, nil
}

// Check verifies the container's MD5 digest against its decompressed
// content. It reports (nil, nil) when the container carries no digest
// (ZSTD_OBFS_NOCHECK).
func (f *BinFile) Check() (*bool, error) {
	if !f.header.PackType.Checked() {
		return nil, nil
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	h := md5.New()
	if _, err := io.CopyN(h, f, int64(f.header.Size)); err != nil && err != io.EOF {
		return nil, fmt.Errorf("bin: check: %w", err)
	}

	ok := bytes.Equal(h.Sum(nil), f.digest)
	return &ok, nil
}

// CheckErr is Check but reports a digest mismatch as an ErrIntegrity error
// instead of a *bool, for callers that only want a pass/fail verdict. It
// returns nil when the container carries no digest (ZSTD_OBFS_NOCHECK).
func (f *BinFile) CheckErr() error {
	ok, err := f.Check()
	if err != nil {
		return err
	}
	if ok == nil || *ok {
		return nil
	}
	return integrityErrorf("bin: MD5 digest mismatch")
}

// Close closes the underlying file if OpenBin opened it from a path; it is
// a no-op for a stream source.
func (f *BinFile) Close() error {
	if f.decoder != nil {
		f.decoder.Close()
		f.decoder = nil
	}
	if f.owner {
		return f.backing.(io.Closer).Close()
	}
	return nil
}

// BinPackParams describes a BIN container to be built by PackBin.
type BinPackParams struct {
	Platform PlatformType
	// Version, if non-nil, produces a HeaderVRFX container carrying an
	// extended header; nil produces a HeaderVRFS container.
	Version *Version

	// Compressed and Checked select the pack type; both false is invalid.
	Compressed bool
	Checked    bool

	// Size is the exact number of bytes PackBin reads from Content.
	Size int64

	Content io.Reader

	// Trailer, if non-nil, must be exactly 256 bytes and is written
	// verbatim after the digest.
	Trailer []byte
}

// PackBin builds a BIN container from p and writes it to w.
func PackBin(w io.Writer, p BinPackParams) error {
	if !p.Compressed && !p.Checked {
		return invalidArgumentErrorf("pack bin: compressed and checked cannot both be false")
	}
	if p.Size < 0 {
		return invalidArgumentErrorf("pack bin: negative size %d", p.Size)
	}
	if p.Trailer != nil && len(p.Trailer) != 256 {
		return invalidArgumentErrorf("pack bin: trailer length %d, expected 256", len(p.Trailer))
	}

	packType := packTypeFor(p.Compressed, p.Checked)

	var image bytes.Buffer
	var packedSize int64
	var digest []byte

	if p.Compressed {
		enc, err := zstd.NewWriter(&image)
		if err != nil {
			return decompressionErrorf("pack bin: creating zstd encoder: %v", err)
		}

		var dst io.Writer = enc
		var h hash.Hash
		if p.Checked {
			h = md5.New()
			dst = io.MultiWriter(enc, h)
		}

		if _, err := io.CopyN(dst, p.Content, p.Size); err != nil {
			enc.Close()
			return fmt.Errorf("pack bin: compressing content: %w", err)
		}
		if err := enc.Close(); err != nil {
			return decompressionErrorf("pack bin: closing zstd encoder: %v", err)
		}
		if p.Checked {
			digest = h.Sum(nil)
		}

		packedSize = int64(image.Len())
		Obfuscate(image.Bytes(), packedSize)
	} else {
		h := md5.New()
		if _, err := io.CopyN(&image, io.TeeReader(p.Content, h), p.Size); err != nil {
			return fmt.Errorf("pack bin: reading content: %w", err)
		}
		digest = h.Sum(nil)
	}

	headerType := HeaderVRFS
	if p.Version != nil {
		headerType = HeaderVRFX
	}

	header := BinHeader{
		Type:       headerType,
		Platform:   p.Platform,
		Size:       uint32(p.Size),
		PackType:   packType,
		PackedSize: uint32(packedSize),
	}
	if err := writeBinHeader(w, header); err != nil {
		return err
	}
	if p.Version != nil {
		if err := writeBinExtHeader(w, BinExtHeader{Flags: 0, Version: *p.Version}); err != nil {
			return err
		}
	}

	if _, err := w.Write(image.Bytes()); err != nil {
		return fmt.Errorf("pack bin: writing payload: %w", err)
	}

	if p.Checked {
		if _, err := w.Write(digest); err != nil {
			return fmt.Errorf("pack bin: writing digest: %w", err)
		}
	}

	if p.Trailer != nil {
		if _, err := w.Write(p.Trailer); err != nil {
			return fmt.Errorf("pack bin: writing trailer: %w", err)
		}
	}

	return nil
}
