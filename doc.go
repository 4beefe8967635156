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

// Package vrfs implements the two-layer VRFS/VROMFS game-asset archive
// format: an outer BIN container (header, optional ZSTD+XOR-obfuscated
// payload, optional MD5, optional 256-byte trailer) wrapping an inner
// VROMFS image (an addressable directory of named files with optional
// per-entry SHA-1 digests).
//
// Unless otherwise noted, types in this package are not safe for
// concurrent use: a BinFile or VromfsFile represents one logical
// reader/writer over one archive, and callers must serialize their own
// access to it.
package vrfs
