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
	"crypto/sha1"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// VromfsFile is a read handle onto a VROMFS image: an addressable
// directory of named files, optionally carrying a per-file SHA-1 digest
// table. It is typically layered over a BinFile's decompressed content
// stream, but any io.ReadSeeker positioned at the image start works.
type VromfsFile struct {
	backing io.ReadSeeker
	owner   bool
	name    string

	dir         *vromfsDirectory
	infoByPath  map[string]FileInfo
	sortedInfos []FileInfo // ascending offset order
}

// OpenVromfs opens a VROMFS image from source, which must be a string path
// or an io.ReadSeeker (commonly a *BinFile). A path-sourced VromfsFile owns
// its backing file and closes it on Close.
func OpenVromfs(source any) (*VromfsFile, error) {
	f := &VromfsFile{}

	switch s := source.(type) {
	case string:
		file, err := os.Open(s)
		if err != nil {
			return nil, fmt.Errorf("open vromfs: %w", err)
		}
		f.backing = file
		f.owner = true
		f.name = s
	case io.ReadSeeker:
		f.backing = s
	default:
		return nil, invalidArgumentErrorf("open vromfs: source must be a string path or io.ReadSeeker, got %T", source)
	}

	if _, err := f.backing.Seek(0, io.SeekStart); err != nil {
		f.closeIfOwner()
		return nil, fmt.Errorf("vromfs: seeking to image start: %w", err)
	}

	dir, err := parseVromfsDirectory(f.backing)
	if err != nil {
		f.closeIfOwner()
		return nil, err
	}
	f.dir = dir

	f.infoByPath = make(map[string]FileInfo, len(dir.Entries))
	f.sortedInfos = append([]FileInfo(nil), dir.Entries...)
	sort.Slice(f.sortedInfos, func(i, j int) bool { return f.sortedInfos[i].Offset < f.sortedInfos[j].Offset })
	for _, info := range f.sortedInfos {
		f.infoByPath[info.Path] = info
	}

	return f, nil
}

func (f *VromfsFile) closeIfOwner() {
	if f.owner {
		_ = f.backing.(io.Closer).Close()
	}
}

// Name returns the path OpenVromfs was given, or "" for a stream source.
func (f *VromfsFile) Name() string { return f.name }

// Extended reports whether the image carries a digests_header (names_info
// starts at 0x30 rather than 0x20).
func (f *VromfsFile) Extended() bool { return f.dir.Extended }

// Checked reports whether the image carries a per-file SHA-1 table.
func (f *VromfsFile) Checked() bool { return f.dir.Checked }

// NameList returns the image's entry paths in ascending-offset order.
func (f *VromfsFile) NameList() []string {
	names := make([]string, len(f.sortedInfos))
	for i, info := range f.sortedInfos {
		names[i] = info.Path
	}
	return names
}

// InfoList returns the image's entries in ascending-offset order.
func (f *VromfsFile) InfoList() []FileInfo {
	return append([]FileInfo(nil), f.sortedInfos...)
}

// GetInfo returns the entry for path, or ErrNotFound if none exists.
func (f *VromfsFile) GetInfo(path string) (FileInfo, error) {
	info, ok := f.infoByPath[path]
	if !ok {
		return FileInfo{}, notFoundErrorf("vromfs: no entry %q", path)
	}
	return info, nil
}

func (f *VromfsFile) resolveItem(item any) (FileInfo, error) {
	switch v := item.(type) {
	case string:
		return f.GetInfo(v)
	case FileInfo:
		return f.GetInfo(v.Path)
	default:
		return FileInfo{}, invalidArgumentErrorf("vromfs: item must be a string path or FileInfo, got %T", item)
	}
}

func itemPath(item any) string {
	switch v := item.(type) {
	case string:
		return v
	case FileInfo:
		return v.Path
	default:
		return fmt.Sprintf("%v", item)
	}
}

// UnpackInto copies the raw bytes of one entry (a path string or FileInfo)
// to w.
func (f *VromfsFile) UnpackInto(item any, w io.Writer) error {
	info, err := f.resolveItem(item)
	if err != nil {
		return err
	}
	rr, err := NewRangedReader(f.backing, int64(info.Offset), int64(info.Size))
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, rr); err != nil {
		return fmt.Errorf("vromfs: unpacking %s: %w", info.Path, err)
	}
	return nil
}

// UnpackResult is one outcome of UnpackIter.
type UnpackResult struct {
	Path string
	Err  error
}

// UnpackIter extracts items (paths or FileInfo; all entries if nil) under
// outDir, invoking yield once per item in ascending-offset order. Entries
// named in items but absent from the image are reported first, as
// ErrNotFound outcomes, before any extraction begins. Each file is written
// to a temporary sibling with a trailing "~" and renamed into place on
// success; a failure leaves the partial "~" file for diagnostics.
func (f *VromfsFile) UnpackIter(items []any, outDir string, yield func(UnpackResult)) {
	var infos []FileInfo

	if items == nil {
		infos = append([]FileInfo(nil), f.sortedInfos...)
	} else {
		seen := make(map[string]bool)
		var absent []string
		for _, item := range items {
			info, err := f.resolveItem(item)
			if err != nil {
				absent = append(absent, itemPath(item))
				continue
			}
			if !seen[info.Path] {
				seen[info.Path] = true
				infos = append(infos, info)
			}
		}
		sort.Slice(infos, func(i, j int) bool { return infos[i].Offset < infos[j].Offset })

		for _, path := range absent {
			logger.Debug("vromfs: unpack: no such entry, skipping", "path", path)
			yield(UnpackResult{Path: path, Err: notFoundErrorf("vromfs: no entry %q", path)})
		}
	}

	for _, info := range infos {
		err := f.unpackOne(info, outDir)
		if err != nil {
			logger.Debug("vromfs: unpack: failed", "path", info.Path, "error", err)
		} else {
			logger.Debug("vromfs: unpack: done", "path", info.Path)
		}
		yield(UnpackResult{Path: info.Path, Err: err})
	}
}

func (f *VromfsFile) unpackOne(info FileInfo, outDir string) error {
	target := filepath.Join(outDir, filepath.FromSlash(info.Path))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("vromfs: creating directory for %s: %w", info.Path, err)
	}

	tmp := target + "~"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("vromfs: creating %s: %w", tmp, err)
	}

	rr, err := NewRangedReader(f.backing, int64(info.Offset), int64(info.Size))
	if err != nil {
		out.Close()
		return err
	}
	if _, err := io.Copy(out, rr); err != nil {
		out.Close()
		return fmt.Errorf("vromfs: writing %s: %w", tmp, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("vromfs: closing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("vromfs: renaming %s to %s: %w", tmp, target, err)
	}
	return nil
}

// Check verifies each entry's stored SHA-1 against its body. It reports
// (nil, nil) when the image carries no per-file digests.
func (f *VromfsFile) Check() ([]string, error) {
	if !f.dir.Checked {
		return nil, nil
	}

	failed := []string{}
	for _, info := range f.sortedInfos {
		rr, err := NewRangedReader(f.backing, int64(info.Offset), int64(info.Size))
		if err != nil {
			return nil, err
		}
		h := sha1.New()
		if _, err := io.Copy(h, rr); err != nil {
			return nil, fmt.Errorf("vromfs: checking %s: %w", info.Path, err)
		}
		if !bytes.Equal(h.Sum(nil), info.Digest) {
			failed = append(failed, info.Path)
		}
	}
	return failed, nil
}

// CheckErr is Check but reports any mismatch as a single ErrIntegrity error
// instead of a path list, for callers that only want a pass/fail verdict.
func (f *VromfsFile) CheckErr() error {
	failed, err := f.Check()
	if err != nil {
		return err
	}
	if len(failed) == 0 {
		return nil
	}
	return integrityErrorf("vromfs: %d of %d entries failed SHA-1 check: %s", len(failed), len(f.sortedInfos), strings.Join(failed, ", "))
}

// DigestEntry is one row of a DigestsTable result.
type DigestEntry struct {
	Path   string
	Digest []byte // stored if present, else computed from the body
}

// DigestsTable returns, for items (all entries if nil), either the stored
// SHA-1 or one freshly computed from the body. Items absent from the image
// are returned separately rather than aborting the whole call.
func (f *VromfsFile) DigestsTable(items []any) (table []DigestEntry, absent []string, err error) {
	var infos []FileInfo

	if items == nil {
		infos = append([]FileInfo(nil), f.sortedInfos...)
	} else {
		seen := make(map[string]bool)
		for _, item := range items {
			info, err := f.resolveItem(item)
			if err != nil {
				absent = append(absent, itemPath(item))
				continue
			}
			if !seen[info.Path] {
				seen[info.Path] = true
				infos = append(infos, info)
			}
		}
		sort.Slice(infos, func(i, j int) bool { return infos[i].Offset < infos[j].Offset })
	}

	table = make([]DigestEntry, 0, len(infos))
	for _, info := range infos {
		digest := info.Digest
		if digest == nil {
			rr, err := NewRangedReader(f.backing, int64(info.Offset), int64(info.Size))
			if err != nil {
				return nil, nil, err
			}
			h := sha1.New()
			if _, err := io.Copy(h, rr); err != nil {
				return nil, nil, fmt.Errorf("vromfs: digests table %s: %w", info.Path, err)
			}
			digest = h.Sum(nil)
		}
		table = append(table, DigestEntry{Path: info.Path, Digest: digest})
	}

	return table, absent, nil
}

// sharedNamesPrefixLen is the size of the SharedNames hash+dict_stem
// prefix that precedes the ZSTD-compressed names payload.
const sharedNamesPrefixLen = 40

// SharedNamesBytes returns the raw, still-compressed bytes of the "nm"
// entry past its 40-byte hash/dict_stem prefix. Decoding the shared-name
// table itself is a BLK-codec concern outside this package.
func (f *VromfsFile) SharedNamesBytes() (io.Reader, error) {
	info, err := f.GetInfo(sharedNamesName)
	if err != nil {
		return nil, err
	}
	if int64(info.Size) < sharedNamesPrefixLen {
		return nil, formatErrorf("vromfs: %q shorter than the %d-byte shared-names prefix", sharedNamesName, sharedNamesPrefixLen)
	}
	return NewRangedReader(f.backing, int64(info.Offset)+sharedNamesPrefixLen, int64(info.Size)-sharedNamesPrefixLen)
}

// DictDecoder builds a ZSTD decoder for this image: dictionary-seeded from
// the first ".dict"-suffixed entry in offset order, or undictionaried if
// none exists. The caller owns the returned decoder and must Close it.
func (f *VromfsFile) DictDecoder() (*zstd.Decoder, error) {
	for _, info := range f.sortedInfos {
		if !strings.HasSuffix(info.Path, ".dict") {
			continue
		}

		rr, err := NewRangedReader(f.backing, int64(info.Offset), int64(info.Size))
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(rr)
		if err != nil {
			return nil, fmt.Errorf("vromfs: reading dictionary %s: %w", info.Path, err)
		}

		dec, err := zstd.NewReader(nil, zstd.WithDecoderDicts(data))
		if err != nil {
			return nil, decompressionErrorf("vromfs: building dictionary decoder: %v", err)
		}
		return dec, nil
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, decompressionErrorf("vromfs: building decoder: %v", err)
	}
	return dec, nil
}

// BlkKind classifies the leading bytes of a .blk member, for discovery
// only: it never decodes the BLK body.
type BlkKind int

const (
	BlkOther BlkKind = iota
	BlkBBF
	BlkBBZ
	BlkFAT
	BlkFATZst
	BlkSlim
	BlkSlimZst
	BlkSlimZstDict
)

func (k BlkKind) String() string {
	switch k {
	case BlkBBF:
		return "BBF"
	case BlkBBZ:
		return "BBZ"
	case BlkFAT:
		return "FAT"
	case BlkFATZst:
		return "FAT_ZST"
	case BlkSlim:
		return "SLIM"
	case BlkSlimZst:
		return "SLIM_ZST"
	case BlkSlimZstDict:
		return "SLIM_ZST_DICT"
	default:
		return "OTHER"
	}
}

// SniffBlk classifies a .blk member by its leading bytes.
func SniffBlk(header []byte) BlkKind {
	switch {
	case bytes.HasPrefix(header, []byte{0x00, 'B', 'B', 'F'}):
		return BlkBBF
	case bytes.HasPrefix(header, []byte{0x00, 'B', 'B', 'z'}):
		return BlkBBZ
	case len(header) >= 1 && header[0] == 0x01:
		return BlkFAT
	case len(header) >= 1 && header[0] == 0x02:
		return BlkFATZst
	case len(header) >= 1 && header[0] == 0x03:
		return BlkSlim
	case len(header) >= 1 && header[0] == 0x04:
		return BlkSlimZst
	case len(header) >= 1 && header[0] == 0x05:
		return BlkSlimZstDict
	default:
		return BlkOther
	}
}

// Close closes the underlying file if OpenVromfs opened it from a path; it
// is a no-op for a stream source.
func (f *VromfsFile) Close() error {
	if f.owner {
		return f.backing.(io.Closer).Close()
	}
	return nil
}

// PackVromfs builds a VROMFS image from the regular files under root and
// writes it to w. Entries are sorted lexicographically by relative path,
// with any entry named exactly "nm" moved to the end. checked requires
// extended.
func PackVromfs(root string, w io.WriteSeeker, extended, checked bool) error {
	if checked && !extended {
		return invalidArgumentErrorf("vromfs: checked requires extended")
	}

	var relPaths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		relPaths = append(relPaths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return fmt.Errorf("vromfs: walking %s: %w", root, err)
	}

	sort.Strings(relPaths)
	relPaths = moveToEnd(relPaths, sharedNamesName)
	logger.Debug("vromfs: pack: collected entries", "root", root, "count", len(relPaths), "extended", extended, "checked", checked)

	entries := make([]buildEntry, len(relPaths))
	files := make([]*os.File, len(relPaths))
	defer func() {
		for _, file := range files {
			if file != nil {
				file.Close()
			}
		}
	}()

	for i, rel := range relPaths {
		full := filepath.Join(root, filepath.FromSlash(rel))
		file, err := os.Open(full)
		if err != nil {
			return fmt.Errorf("vromfs: opening %s: %w", full, err)
		}
		files[i] = file

		st, err := file.Stat()
		if err != nil {
			return fmt.Errorf("vromfs: stat %s: %w", full, err)
		}
		entries[i] = buildEntry{Name: rel, Size: st.Size(), Body: file}
	}

	return buildVromfsDirectory(w, entries, extended, checked)
}

func moveToEnd(paths []string, name string) []string {
	for i, p := range paths {
		if p != name {
			continue
		}
		out := append([]string(nil), paths[:i]...)
		out = append(out, paths[i+1:]...)
		out = append(out, name)
		return out
	}
	return paths
}
