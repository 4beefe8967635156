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

import "log/slog"

// logger receives this package's diagnostic trace: per-item skip/continue
// decisions during unpack and pack. It defaults to slog.Default() and may
// be replaced by a caller that wants the trace routed elsewhere; vrfs never
// configures handlers or log levels itself.
var logger = slog.Default()

// SetLogger replaces the logger used for this package's debug trace.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.Default()
	}
	logger = l
}
