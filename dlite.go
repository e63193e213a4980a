// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package dlite is a data-interoperability runtime: a closed type system
// (dtype), self-describing metadata (entity) and data instances
// (instance) built on it, a process-wide weak instance registry (store)
// backed by a pluggable storage boundary (storage), and dual JSON/BSON
// wire codecs (jsoncodec, bsoncodec).
//
// This root package only carries module-level identity; the runtime
// itself lives in the subpackages above, composed the way a caller
// chooses — there is no single facade type, since a storage driver,
// a codec and a registry are independent, separately testable concerns.
package dlite

import (
	"fmt"
	"runtime"
)

// version/commit/date are set via ldflags at build time
// (-X github.com/sintef/dlite-go.version=...), the same mechanism the
// teacher's cmd/cie/main.go uses for its own --version flag. A `go build`
// without ldflags keeps the defaults below ("0.1.0" and "unknown").
var (
	version = "0.1.0"
	commit  = "unknown"
	date    = "unknown"
)

// Version returns the module's semantic version, set at build time via
// ldflags — the dlite_get_version equivalent (SPEC_FULL.md, supplemented
// feature 6). Embedding programs that don't pass ldflags get the fallback
// baked in above.
func Version() string {
	return version
}

// BuildInfo returns the ldflags-injected version, commit and build date
// together, for diagnostics (e.g. an embedding program's own --version
// output).
func BuildInfo() (version, commit, date string) {
	return version, commit, date
}

// Platform returns a "GOOS/GOARCH" string identifying the running
// build, the dlite_get_platform equivalent.
func Platform() string {
	return fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH)
}
