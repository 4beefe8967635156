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
	"strings"
)

// sharedNamesName is the reserved entry name for the shared-names table.
const sharedNamesName = "nm"

// sharedNamesSentinel is the on-disk encoding of sharedNamesName.
var sharedNamesSentinel = []byte{0xff, 0x3f, 'n', 'm'}

// decodeName converts a NUL-terminated name_data entry (without its
// terminator) into a relative path, applying the "nm" sentinel and
// leading-slash stripping rules. An empty or all-slash name is rejected.
func decodeName(raw []byte) (string, error) {
	var name string
	if bytes.Equal(raw, sharedNamesSentinel) {
		name = sharedNamesName
	} else {
		name = string(raw)
	}

	name = strings.TrimLeft(name, "/")
	if name == "" {
		return "", formatErrorf("vromfs: empty name")
	}

	return name, nil
}

// encodeName converts a relative path into its on-disk name_data bytes
// (without a NUL terminator), applying the "nm" sentinel rule. Absolute
// paths are rejected.
func encodeName(name string) ([]byte, error) {
	if strings.HasPrefix(name, "/") {
		return nil, invalidArgumentErrorf("vromfs: absolute name %q", name)
	}
	if name == sharedNamesName {
		return append([]byte(nil), sharedNamesSentinel...), nil
	}
	return []byte(name), nil
}
