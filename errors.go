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
	"errors"
	"fmt"
)

// errVrfs is the base error all other vrfs errors wrap, so that callers can
// test errors.Is(err, errVrfs) for "any error from this package".
var errVrfs = errors.New("vrfs")

var (
	// ErrFormat indicates a malformed container or image: unknown magic,
	// unknown tag, a failed alignment/offset check, or a trailer whose
	// length is not 0 or 256.
	ErrFormat = fmt.Errorf("%w: format", errVrfs)

	// ErrDecompression indicates the ZSTD stream could not be decoded.
	ErrDecompression = fmt.Errorf("%w: decompression", errVrfs)

	// ErrIntegrity indicates an MD5 or SHA-1 mismatch found by an explicit
	// check operation.
	ErrIntegrity = fmt.Errorf("%w: integrity", errVrfs)

	// ErrInvalidArgument indicates an illegal combination of pack options,
	// an absolute name on pack, an out-of-range version component, or a
	// mistyped source.
	ErrInvalidArgument = fmt.Errorf("%w: invalid argument", errVrfs)

	// ErrNotFound indicates a lookup by path found no matching entry.
	ErrNotFound = fmt.Errorf("%w: not found", errVrfs)

	// ErrUnsupported indicates an operation the format does not support,
	// such as seeking relative to the end of a compressed BIN stream.
	ErrUnsupported = fmt.Errorf("%w: unsupported", errVrfs)
)

func formatErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrFormat}, args...)...)
}

func invalidArgumentErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidArgument}, args...)...)
}

func decompressionErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrDecompression}, args...)...)
}

func integrityErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrIntegrity}, args...)...)
}

func notFoundErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrNotFound}, args...)...)
}

func unsupportedErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrUnsupported}, args...)...)
}
