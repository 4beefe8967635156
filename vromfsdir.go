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
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"hash"
	"io"
)

// FileInfo is one VROMFS directory entry: its relative path, the offset and
// size of its body within the VROMFS image, and its stored SHA-1 digest, if
// the image carries per-file digests.
type FileInfo struct {
	Path   string
	Offset uint32
	Size   uint32
	Digest []byte // nil if the image carries no per-file digest
}

// vromfsDirectory is the parsed metadata of a VROMFS image: its directory
// tables, decoded into entries in on-disk (names_info/data_info) order.
type vromfsDirectory struct {
	Extended bool // names_header.offset == 0x30
	Checked  bool // digests_header.begin != 0
	Entries  []FileInfo
}

func align16(n int64) int64 {
	if rem := n % 16; rem != 0 {
		return n + (16 - rem)
	}
	return n
}

func pad16(n int64) int64 { return align16(n) - n }

// parseVromfsDirectory reads the VROMFS directory tables from the start of
// r, which must be positioned at offset 0 of a VROMFS image, and returns
// the decoded entries without reading any file body.
func parseVromfsDirectory(r io.ReadSeeker) (*vromfsDirectory, error) {
	var pos int64

	readPair := func() (uint32, uint32, error) {
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, 0, fmt.Errorf("vromfs: reading directory header: %w", err)
		}
		pos += 8
		return binary.LittleEndian.Uint32(buf[0:4]), binary.LittleEndian.Uint32(buf[4:8]), nil
	}

	skipPad := func() error {
		pad := pad16(pos)
		if pad == 0 {
			return nil
		}
		if _, err := r.Seek(pad, io.SeekCurrent); err != nil {
			return fmt.Errorf("vromfs: aligning directory: %w", err)
		}
		pos += pad
		return nil
	}

	namesOffset, namesCount, err := readPair()
	if err != nil {
		return nil, err
	}
	if err := skipPad(); err != nil {
		return nil, err
	}

	dataOffset, dataCount, err := readPair()
	if err != nil {
		return nil, err
	}
	if err := skipPad(); err != nil {
		return nil, err
	}

	extended := namesOffset == 0x30

	var digestsEnd uint64
	var digestsBegin uint16
	if extended {
		var buf [10]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, fmt.Errorf("vromfs: reading digests header: %w", err)
		}
		pos += 10
		digestsEnd = binary.LittleEndian.Uint64(buf[0:8])
		digestsBegin = binary.LittleEndian.Uint16(buf[8:10])
		if err := skipPad(); err != nil {
			return nil, err
		}
	}

	if pos != int64(namesOffset) {
		return nil, formatErrorf("vromfs: names_info at %d, header declares %d", pos, namesOffset)
	}

	nameOffsets := make([]uint64, namesCount)
	for i := range nameOffsets {
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, fmt.Errorf("vromfs: reading names_info: %w", err)
		}
		pos += 8
		nameOffsets[i] = binary.LittleEndian.Uint64(buf[:])
	}
	if err := skipPad(); err != nil {
		return nil, err
	}

	names := make([]string, namesCount)
	maxEnd := pos
	for i, off := range nameOffsets {
		if _, err := r.Seek(int64(off), io.SeekStart); err != nil {
			return nil, fmt.Errorf("vromfs: seeking name %d: %w", i, err)
		}
		raw, err := readCString(r)
		if err != nil {
			return nil, err
		}
		name, err := decodeName(raw)
		if err != nil {
			return nil, err
		}
		names[i] = name
		if end := int64(off) + int64(len(raw)) + 1; end > maxEnd {
			maxEnd = end
		}
	}

	pos = maxEnd
	if _, err := r.Seek(pos, io.SeekStart); err != nil {
		return nil, fmt.Errorf("vromfs: seeking past names_data: %w", err)
	}
	if err := skipPad(); err != nil {
		return nil, err
	}

	if pos != int64(dataOffset) {
		return nil, formatErrorf("vromfs: data_info at %d, header declares %d", pos, dataOffset)
	}

	offsets := make([]uint32, dataCount)
	sizes := make([]uint32, dataCount)
	for i := range offsets {
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, fmt.Errorf("vromfs: reading data_info: %w", err)
		}
		offsets[i] = binary.LittleEndian.Uint32(buf[0:4])
		sizes[i] = binary.LittleEndian.Uint32(buf[4:8])
		pos += 8
		if err := skipPad(); err != nil {
			return nil, err
		}
	}

	checked := extended && digestsBegin != 0
	digests := make([][]byte, dataCount)

	if checked {
		if pos != int64(digestsBegin) {
			return nil, formatErrorf("vromfs: digests_data at %d, header declares %d", pos, digestsBegin)
		}
		for i := range digests {
			d := make([]byte, 20)
			if _, err := io.ReadFull(r, d); err != nil {
				return nil, fmt.Errorf("vromfs: reading digests_data: %w", err)
			}
			digests[i] = d
			pos += 20
		}
		if err := skipPad(); err != nil {
			return nil, err
		}
	}

	if extended && !checked {
		if pos != int64(digestsEnd) {
			return nil, formatErrorf("vromfs: directory end at %d, digests_header declares %d", pos, digestsEnd)
		}
	}

	entries := make([]FileInfo, dataCount)
	for i := range entries {
		entries[i] = FileInfo{Path: names[i], Offset: offsets[i], Size: sizes[i]}
		if checked {
			entries[i].Digest = digests[i]
		}
	}

	return &vromfsDirectory{Extended: extended, Checked: checked, Entries: entries}, nil
}

func readCString(r io.Reader) ([]byte, error) {
	var buf []byte
	var b [1]byte
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, fmt.Errorf("vromfs: reading name: %w", err)
		}
		if b[0] == 0 {
			return buf, nil
		}
		buf = append(buf, b[0])
	}
}

// buildEntry is one file to be written by buildVromfsDirectory, already in
// final write order (sorted, with "nm" moved last).
type buildEntry struct {
	Name string
	Size int64
	Body io.Reader
}

// buildVromfsDirectory writes a VROMFS image to w following the layout in
// §4.E: header placeholders are reserved, then backfilled once the names
// and data tables are known. Extended reserves a digests_header at 0x20 and
// shifts names_info to 0x30; checked additionally reserves and fills a
// per-file SHA-1 table (requires extended).
func buildVromfsDirectory(w io.WriteSeeker, entries []buildEntry, extended, checked bool) error {
	count := uint32(len(entries))

	namesInfoOffset := uint32(0x20)
	if extended {
		namesInfoOffset = 0x30
	}

	if err := writeU32Pair(w, namesInfoOffset, count); err != nil {
		return err
	}
	if err := writeZeros(w, 8); err != nil {
		return err
	}

	dataHeaderPos := int64(0x10)
	if err := writeZeros(w, 16); err != nil {
		return err
	}

	digestsHeaderPos := int64(-1)
	if extended {
		digestsHeaderPos = 0x20
		if err := writeZeros(w, 16); err != nil {
			return err
		}
	}

	namesInfoPos, err := w.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("vromfs: %w", err)
	}
	if err := writeZeros(w, align16(int64(count)*8)); err != nil {
		return err
	}

	nameOffsets := make([]uint64, count)
	for i, e := range entries {
		off, err := w.Seek(0, io.SeekCurrent)
		if err != nil {
			return fmt.Errorf("vromfs: %w", err)
		}
		nameOffsets[i] = uint64(off)

		encoded, err := encodeName(e.Name)
		if err != nil {
			return err
		}
		if _, err := w.Write(append(encoded, 0)); err != nil {
			return fmt.Errorf("vromfs: writing name %q: %w", e.Name, err)
		}
	}
	if err := padToAlign16(w); err != nil {
		return err
	}

	dataInfoOffset, err := w.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("vromfs: %w", err)
	}

	if err := backfillU32Pair(w, dataHeaderPos, uint32(dataInfoOffset), count); err != nil {
		return err
	}
	if err := backfillNamesInfo(w, namesInfoPos, nameOffsets); err != nil {
		return err
	}

	if _, err := w.Seek(dataInfoOffset, io.SeekStart); err != nil {
		return fmt.Errorf("vromfs: %w", err)
	}

	dataInfoPos := dataInfoOffset
	if err := writeZeros(w, int64(count)*16); err != nil {
		return err
	}

	posAfterDataInfo, err := w.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("vromfs: %w", err)
	}

	digestsDataPos := int64(-1)
	if checked {
		digestsDataPos = posAfterDataInfo
		if err := writeZeros(w, align16(int64(count)*20)); err != nil {
			return err
		}
	}

	offsets := make([]uint32, count)
	sizes := make([]uint32, count)
	digests := make([][]byte, count)

	for i, e := range entries {
		bodyOff, err := w.Seek(0, io.SeekCurrent)
		if err != nil {
			return fmt.Errorf("vromfs: %w", err)
		}
		offsets[i] = uint32(bodyOff)
		sizes[i] = uint32(e.Size)

		var body io.Reader = e.Body
		var h hash.Hash
		if checked {
			h = sha1.New()
			body = io.TeeReader(e.Body, h)
		}
		if _, err := io.CopyN(w, body, e.Size); err != nil {
			return fmt.Errorf("vromfs: writing body %q: %w", e.Name, err)
		}
		if checked {
			digests[i] = h.Sum(nil)
		}
		if err := padToAlign16(w); err != nil {
			return err
		}
	}

	if err := backfillDataInfo(w, dataInfoPos, offsets, sizes); err != nil {
		return err
	}

	var digestsEnd uint64
	var digestsBegin uint16
	if checked {
		if err := backfillDigestsData(w, digestsDataPos, digests); err != nil {
			return err
		}
		digestsBegin = uint16(digestsDataPos)
		digestsEnd = uint64(digestsDataPos) + uint64(count)*20
	} else if extended {
		digestsBegin = 0
		digestsEnd = uint64(posAfterDataInfo)
	}

	if extended {
		if err := backfillDigestsHeader(w, digestsHeaderPos, digestsEnd, digestsBegin); err != nil {
			return err
		}
	}

	if _, err := w.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("vromfs: %w", err)
	}
	return nil
}

func writeU32Pair(w io.Writer, a, b uint32) error {
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[0:4], a)
	binary.LittleEndian.PutUint32(buf[4:8], b)
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("vromfs: %w", err)
	}
	return nil
}

func writeZeros(w io.Writer, n int64) error {
	if n == 0 {
		return nil
	}
	if _, err := io.CopyN(w, zeroReader{}, n); err != nil {
		return fmt.Errorf("vromfs: %w", err)
	}
	return nil
}

func padToAlign16(w io.WriteSeeker) error {
	pos, err := w.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("vromfs: %w", err)
	}
	return writeZeros(w, pad16(pos))
}

// zeroReader is an io.Reader of infinitely many zero bytes, used to pad and
// reserve placeholder regions with io.CopyN.
type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func backfillU32Pair(w io.WriteSeeker, pos int64, a, b uint32) error {
	cur, err := w.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("vromfs: %w", err)
	}
	if _, err := w.Seek(pos, io.SeekStart); err != nil {
		return fmt.Errorf("vromfs: %w", err)
	}
	if err := writeU32Pair(w, a, b); err != nil {
		return err
	}
	_, err = w.Seek(cur, io.SeekStart)
	if err != nil {
		return fmt.Errorf("vromfs: %w", err)
	}
	return nil
}

func backfillNamesInfo(w io.WriteSeeker, pos int64, offsets []uint64) error {
	cur, err := w.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("vromfs: %w", err)
	}
	if _, err := w.Seek(pos, io.SeekStart); err != nil {
		return fmt.Errorf("vromfs: %w", err)
	}
	buf := make([]byte, 8)
	for _, off := range offsets {
		binary.LittleEndian.PutUint64(buf, off)
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("vromfs: %w", err)
		}
	}
	if _, err := w.Seek(cur, io.SeekStart); err != nil {
		return fmt.Errorf("vromfs: %w", err)
	}
	return nil
}

func backfillDataInfo(w io.WriteSeeker, pos int64, offsets, sizes []uint32) error {
	cur, err := w.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("vromfs: %w", err)
	}
	if _, err := w.Seek(pos, io.SeekStart); err != nil {
		return fmt.Errorf("vromfs: %w", err)
	}
	for i := range offsets {
		if err := writeU32Pair(w, offsets[i], sizes[i]); err != nil {
			return err
		}
		if _, err := w.Seek(8, io.SeekCurrent); err != nil {
			return fmt.Errorf("vromfs: %w", err)
		}
	}
	if _, err := w.Seek(cur, io.SeekStart); err != nil {
		return fmt.Errorf("vromfs: %w", err)
	}
	return nil
}

func backfillDigestsData(w io.WriteSeeker, pos int64, digests [][]byte) error {
	cur, err := w.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("vromfs: %w", err)
	}
	if _, err := w.Seek(pos, io.SeekStart); err != nil {
		return fmt.Errorf("vromfs: %w", err)
	}
	for _, d := range digests {
		if _, err := w.Write(d); err != nil {
			return fmt.Errorf("vromfs: %w", err)
		}
	}
	if _, err := w.Seek(cur, io.SeekStart); err != nil {
		return fmt.Errorf("vromfs: %w", err)
	}
	return nil
}

func backfillDigestsHeader(w io.WriteSeeker, pos int64, end uint64, begin uint16) error {
	cur, err := w.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("vromfs: %w", err)
	}
	if _, err := w.Seek(pos, io.SeekStart); err != nil {
		return fmt.Errorf("vromfs: %w", err)
	}
	var buf [10]byte
	binary.LittleEndian.PutUint64(buf[0:8], end)
	binary.LittleEndian.PutUint16(buf[8:10], begin)
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("vromfs: %w", err)
	}
	if _, err := w.Seek(cur, io.SeekStart); err != nil {
		return fmt.Errorf("vromfs: %w", err)
	}
	return nil
}
