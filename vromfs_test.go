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
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func buildTestImage(t *testing.T, extended, checked bool) (*VromfsFile, map[string][]byte) {
	t.Helper()

	bodies := map[string][]byte{
		"content/a.blk":      []byte("aaaaaaaaaa"),
		"content/b.blk":      []byte("bb"),
		"content/shared.dict": bytes.Repeat([]byte{0x01, 0x02}, 8),
	}

	var names []string
	for name := range bodies {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]buildEntry, len(names))
	for i, name := range names {
		body := bodies[name]
		entries[i] = buildEntry{Name: name, Size: int64(len(body)), Body: bytes.NewReader(body)}
	}

	var w memWriteSeeker
	if err := buildVromfsDirectory(&w, entries, extended, checked); err != nil {
		t.Fatalf("buildVromfsDirectory() error = %v", err)
	}

	vro, err := OpenVromfs(bytes.NewReader(w.buf))
	if err != nil {
		t.Fatalf("OpenVromfs() error = %v", err)
	}
	t.Cleanup(func() { vro.Close() })

	return vro, bodies
}

func TestVromfsFileNameAndInfoList(t *testing.T) {
	t.Parallel()

	vro, bodies := buildTestImage(t, false, false)

	names := vro.NameList()
	if diff := cmp.Diff(len(bodies), len(names)); diff != "" {
		t.Errorf("NameList length mismatch (-want +got):\n%s", diff)
	}

	infos := vro.InfoList()
	for i := 1; i < len(infos); i++ {
		if infos[i-1].Offset > infos[i].Offset {
			t.Errorf("InfoList() not in ascending offset order at %d", i)
		}
	}

	for name, body := range bodies {
		info, err := vro.GetInfo(name)
		if err != nil {
			t.Fatalf("GetInfo(%q) error = %v", name, err)
		}
		if diff := cmp.Diff(uint32(len(body)), info.Size); diff != "" {
			t.Errorf("GetInfo(%q).Size mismatch (-want +got):\n%s", name, diff)
		}
	}

	if _, err := vro.GetInfo("missing"); !cmp.Equal(ErrNotFound, err, cmpopts.EquateErrors()) {
		t.Errorf("GetInfo(missing) error = %v, want ErrNotFound", err)
	}
}

func TestVromfsFileUnpackInto(t *testing.T) {
	t.Parallel()

	vro, bodies := buildTestImage(t, false, false)

	for name, body := range bodies {
		var buf bytes.Buffer
		if err := vro.UnpackInto(name, &buf); err != nil {
			t.Fatalf("UnpackInto(%q) error = %v", name, err)
		}
		if diff := cmp.Diff(body, buf.Bytes()); diff != "" {
			t.Errorf("UnpackInto(%q) mismatch (-want +got):\n%s", name, diff)
		}
	}
}

func TestVromfsFileUnpackIter(t *testing.T) {
	t.Parallel()

	vro, bodies := buildTestImage(t, false, false)
	outDir := t.TempDir()

	var results []UnpackResult
	vro.UnpackIter(nil, outDir, func(r UnpackResult) { results = append(results, r) })

	if diff := cmp.Diff(len(bodies), len(results)); diff != "" {
		t.Errorf("result count mismatch (-want +got):\n%s", diff)
	}
	for _, r := range results {
		if r.Err != nil {
			t.Errorf("unpack %q: %v", r.Path, r.Err)
		}
		got, err := os.ReadFile(filepath.Join(outDir, filepath.FromSlash(r.Path)))
		if err != nil {
			t.Fatalf("reading unpacked %q: %v", r.Path, err)
		}
		if diff := cmp.Diff(bodies[r.Path], got); diff != "" {
			t.Errorf("unpacked %q mismatch (-want +got):\n%s", r.Path, diff)
		}
	}
}

func TestVromfsFileUnpackIterAbsentItemsFirst(t *testing.T) {
	t.Parallel()

	vro, _ := buildTestImage(t, false, false)
	outDir := t.TempDir()

	var results []UnpackResult
	vro.UnpackIter([]any{"nope", "content/a.blk"}, outDir, func(r UnpackResult) { results = append(results, r) })

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if diff := cmp.Diff("nope", results[0].Path); diff != "" {
		t.Errorf("first result path mismatch (-want +got):\n%s", diff)
	}
	if !cmp.Equal(ErrNotFound, results[0].Err, cmpopts.EquateErrors()) {
		t.Errorf("first result error = %v, want ErrNotFound", results[0].Err)
	}
	if results[1].Err != nil {
		t.Errorf("second result error = %v, want nil", results[1].Err)
	}
}

func TestVromfsFileCheckUnchecked(t *testing.T) {
	t.Parallel()

	vro, _ := buildTestImage(t, false, false)
	failed, err := vro.Check()
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if failed != nil {
		t.Errorf("Check() = %v, want nil", failed)
	}
}

func TestVromfsFileCheckChecked(t *testing.T) {
	t.Parallel()

	vro, _ := buildTestImage(t, true, true)
	failed, err := vro.Check()
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if diff := cmp.Diff(0, len(failed)); diff != "" {
		t.Errorf("failed count mismatch (-want +got):\n%s", diff)
	}
}

func TestVromfsFileCheckErr(t *testing.T) {
	t.Parallel()

	vro, _ := buildTestImage(t, true, true)
	if err := vro.CheckErr(); err != nil {
		t.Errorf("CheckErr() = %v, want nil", err)
	}
}

func TestVromfsFileCheckErrMismatch(t *testing.T) {
	t.Parallel()

	entries := []buildEntry{
		{Name: "a.txt", Size: 5, Body: bytes.NewReader([]byte("hello"))},
	}

	var w memWriteSeeker
	if err := buildVromfsDirectory(&w, entries, true, true); err != nil {
		t.Fatalf("buildVromfsDirectory() error = %v", err)
	}

	info, err := parseVromfsDirectory(bytes.NewReader(w.buf))
	if err != nil {
		t.Fatalf("parseVromfsDirectory() error = %v", err)
	}
	w.buf[info.Entries[0].Offset] ^= 0xff

	vro, err := OpenVromfs(bytes.NewReader(w.buf))
	if err != nil {
		t.Fatalf("OpenVromfs() error = %v", err)
	}
	defer vro.Close()

	err = vro.CheckErr()
	if diff := cmp.Diff(ErrIntegrity, err, cmpopts.EquateErrors()); diff != "" {
		t.Errorf("CheckErr() error mismatch (-want +got):\n%s", diff)
	}
}

func TestVromfsFileDigestsTable(t *testing.T) {
	t.Parallel()

	vro, bodies := buildTestImage(t, false, false)

	table, absent, err := vro.DigestsTable([]any{"content/a.blk", "nope"})
	if err != nil {
		t.Fatalf("DigestsTable() error = %v", err)
	}
	if diff := cmp.Diff([]string{"nope"}, absent); diff != "" {
		t.Errorf("absent mismatch (-want +got):\n%s", diff)
	}
	if len(table) != 1 {
		t.Fatalf("got %d table entries, want 1", len(table))
	}

	sum := sha1.Sum(bodies["content/a.blk"])
	if diff := cmp.Diff(sum[:], table[0].Digest); diff != "" {
		t.Errorf("digest mismatch (-want +got):\n%s", diff)
	}
}

func TestVromfsFileSharedNamesBytes(t *testing.T) {
	t.Parallel()

	prefix := bytes.Repeat([]byte{0xCD}, sharedNamesPrefixLen)
	payload := []byte("zstd-compressed-names-payload")
	body := append(append([]byte(nil), prefix...), payload...)

	entries := []buildEntry{{Name: sharedNamesName, Size: int64(len(body)), Body: bytes.NewReader(body)}}
	var w memWriteSeeker
	if err := buildVromfsDirectory(&w, entries, false, false); err != nil {
		t.Fatalf("buildVromfsDirectory() error = %v", err)
	}

	vro, err := OpenVromfs(bytes.NewReader(w.buf))
	if err != nil {
		t.Fatalf("OpenVromfs() error = %v", err)
	}
	defer vro.Close()

	r, err := vro.SharedNamesBytes()
	if err != nil {
		t.Fatalf("SharedNamesBytes() error = %v", err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if diff := cmp.Diff(payload, got); diff != "" {
		t.Errorf("SharedNamesBytes() mismatch (-want +got):\n%s", diff)
	}
}

func TestVromfsFileSharedNamesBytesMissing(t *testing.T) {
	t.Parallel()

	vro, _ := buildTestImage(t, false, false)
	if _, err := vro.SharedNamesBytes(); !cmp.Equal(ErrNotFound, err, cmpopts.EquateErrors()) {
		t.Errorf("SharedNamesBytes() error = %v, want ErrNotFound", err)
	}
}

func TestVromfsFileDictDecoderNoDict(t *testing.T) {
	t.Parallel()

	entries := []buildEntry{{Name: "content/a.blk", Size: 3, Body: bytes.NewReader([]byte("abc"))}}
	var w memWriteSeeker
	if err := buildVromfsDirectory(&w, entries, false, false); err != nil {
		t.Fatalf("buildVromfsDirectory() error = %v", err)
	}
	vro, err := OpenVromfs(bytes.NewReader(w.buf))
	if err != nil {
		t.Fatalf("OpenVromfs() error = %v", err)
	}
	defer vro.Close()

	dec, err := vro.DictDecoder()
	if err != nil {
		t.Fatalf("DictDecoder() error = %v", err)
	}
	defer dec.Close()
}

func TestVromfsFileDictDecoderWithDict(t *testing.T) {
	t.Parallel()

	vro, _ := buildTestImage(t, false, false)
	dec, err := vro.DictDecoder()
	if err != nil {
		t.Fatalf("DictDecoder() error = %v", err)
	}
	defer dec.Close()
}

func TestSniffBlk(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		header []byte
		want   BlkKind
	}{
		{name: "BBF", header: []byte{0x00, 'B', 'B', 'F'}, want: BlkBBF},
		{name: "BBz", header: []byte{0x00, 'B', 'B', 'z'}, want: BlkBBZ},
		{name: "FAT", header: []byte{0x01, 0x00}, want: BlkFAT},
		{name: "FAT_ZST", header: []byte{0x02, 0x00}, want: BlkFATZst},
		{name: "SLIM", header: []byte{0x03, 0x00}, want: BlkSlim},
		{name: "SLIM_ZST", header: []byte{0x04, 0x00}, want: BlkSlimZst},
		{name: "SLIM_ZST_DICT", header: []byte{0x05, 0x00}, want: BlkSlimZstDict},
		{name: "other", header: []byte{0x7f, 0x00}, want: BlkOther},
		{name: "empty", header: nil, want: BlkOther},
	}

	for _, tc := range testCases {
		if diff := cmp.Diff(tc.want, SniffBlk(tc.header)); diff != "" {
			t.Errorf("%s: SniffBlk() mismatch (-want +got):\n%s", tc.name, diff)
		}
	}
}

func TestPackVromfsRoundTrip(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	files := map[string]string{
		"content/a.blk": "aaaa",
		"nm":            "nmnmnmnm",
		"sub/b.blk":     "bbbb",
	}
	for rel, content := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("MkdirAll() error = %v", err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}

	var w memWriteSeeker
	if err := PackVromfs(root, &w, true, true); err != nil {
		t.Fatalf("PackVromfs() error = %v", err)
	}

	vro, err := OpenVromfs(bytes.NewReader(w.buf))
	if err != nil {
		t.Fatalf("OpenVromfs() error = %v", err)
	}
	defer vro.Close()

	if !vro.Extended() {
		t.Errorf("Extended() = false, want true")
	}
	if !vro.Checked() {
		t.Errorf("Checked() = false, want true")
	}

	names := vro.NameList()
	if diff := cmp.Diff("nm", names[len(names)-1]); diff != "" {
		t.Errorf("last entry mismatch (-want +got):\n%s", diff)
	}

	for rel, content := range files {
		var buf bytes.Buffer
		if err := vro.UnpackInto(rel, &buf); err != nil {
			t.Fatalf("UnpackInto(%q) error = %v", rel, err)
		}
		if diff := cmp.Diff(content, buf.String()); diff != "" {
			t.Errorf("content %q mismatch (-want +got):\n%s", rel, diff)
		}
	}

	failed, err := vro.Check()
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if diff := cmp.Diff(0, len(failed)); diff != "" {
		t.Errorf("failed count mismatch (-want +got):\n%s", diff)
	}
}

func TestPackVromfsCheckedRequiresExtended(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	var w memWriteSeeker
	err := PackVromfs(root, &w, false, true)
	if diff := cmp.Diff(ErrInvalidArgument, err, cmpopts.EquateErrors()); diff != "" {
		t.Errorf("PackVromfs() error mismatch (-want +got):\n%s", diff)
	}
}

func TestPackVromfsEmptyDirectory(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	var w memWriteSeeker
	if err := PackVromfs(root, &w, false, false); err != nil {
		t.Fatalf("PackVromfs() error = %v", err)
	}

	vro, err := OpenVromfs(bytes.NewReader(w.buf))
	if err != nil {
		t.Fatalf("OpenVromfs() error = %v", err)
	}
	defer vro.Close()

	if diff := cmp.Diff(0, len(vro.NameList())); diff != "" {
		t.Errorf("NameList length mismatch (-want +got):\n%s", diff)
	}
}
