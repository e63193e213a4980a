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

// Package duuid implements the runtime's deterministic identity rule
// (§3.1, §6.5): every instance has a UUID; if it has a URI, the UUID is the
// version-5 UUID of that URI under a single fixed DNS namespace, so that
// independent implementations agree bit-for-bit. Grounded on
// _examples/original_source/src/dlite-misc.h's dlite_get_uuid semantics.
package duuid

import (
	"github.com/google/uuid"
)

// Namespace is the fixed DNS namespace UUID used for every deterministic
// v5 derivation in the runtime (§6.5). Bit-exact across implementations.
var Namespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// Length is the length of a UUID string, excluding NUL-termination
// (DLITE_UUID_LENGTH in the original source).
const Length = 36

// OfURI returns the deterministic v5 UUID of uri under the fixed DNS
// namespace.
func OfURI(uri string) string {
	return uuid.NewSHA1(Namespace, []byte(uri)).String()
}

// Random returns a new random v4 UUID.
func Random() string {
	return uuid.New().String()
}

// Valid reports whether s parses as a UUID string of any RFC 4122 version.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// Of implements dlite_get_uuid's three-way rule for an identifier id that
// may be empty, an existing UUID, or an arbitrary string (typically a
// URI): empty yields a fresh random v4; an already-valid UUID is returned
// unchanged; anything else is v5-hashed under Namespace. The returned
// version is 0 when id was already a valid UUID (nothing was generated),
// 4 for a fresh random UUID, or 5 for a hashed one.
func Of(id string) (out string, version int) {
	if id == "" {
		return Random(), 4
	}
	if parsed, err := uuid.Parse(id); err == nil {
		return parsed.String(), 0
	}
	return OfURI(id), 5
}
