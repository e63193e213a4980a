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

// Package storage defines the abstract driver contract the core consumes
// instead of implementing any backend itself (§4.7, §6.1): open/close a
// handle, load/save an instance by id, optionally iterate the ids a
// handle holds. Codecs are not tied to storages — a driver turns an id
// into the byte or text source a codec reads, and back.
//
// Grounded on §4.7/§6.1/§6.2 and on the teacher's mutex-guarded,
// closed-flag backend shape in
// _examples/vjache-cie/pkg/storage/embedded.go, generalised from a
// single concrete CozoDB backend to an open driver registry (the
// database/sql-style registration pattern: drivers self-register by
// scheme in an init(), callers open by URL without importing the
// concrete driver package).
package storage

import (
	"sync"

	"github.com/sintef/dlite-go/dliteerr"
	"github.com/sintef/dlite-go/identifier"
	"github.com/sintef/dlite-go/instance"
)

// Capabilities advertises what a driver supports (§6.1): a handle may be
// readable, writable, or generic (able to iterate all the ids it holds
// rather than only looking one up by id).
type Capabilities struct {
	Readable bool
	Writable bool
	Generic  bool
}

// IDIterator walks the ids a handle holds, optionally restricted to
// instances of one metadata id (§6.1's `iter_ids(handle, metaid?)`).
type IDIterator interface {
	// Next advances the iterator and reports whether a value is
	// available. Must be called before the first Value.
	Next() bool
	// Value returns the id the most recent Next advanced to.
	Value() string
	// Err returns the first error encountered, if any.
	Err() error
	// Close releases any resource the iterator holds, even if the
	// iteration did not run to completion.
	Close() error
}

// Handle is an open connection to a storage location, as returned by a
// Driver's Open. Every method must be safe to call concurrently from
// multiple goroutines on distinct ids; a single in-flight call on the
// same handle is otherwise treated as non-reentrant (§5).
type Handle interface {
	// Capabilities reports what this handle supports.
	Capabilities() Capabilities
	// Load reads the instance identified by id (a uuid or a uri).
	// Returns a dliteerr.MissingInstance error if absent.
	Load(id string) (*instance.Instance, error)
	// Save persists inst. Only valid when Capabilities().Writable.
	Save(inst *instance.Instance) error
	// IterIDs iterates the ids held by this handle, optionally
	// restricted to instances of metaID (empty means unrestricted).
	// Only valid when Capabilities().Generic.
	IterIDs(metaID string) (IDIterator, error)
	// Close releases the handle. Safe to call more than once.
	Close() error
}

// Driver opens a Handle for a location string and a set of recognized
// options (§6.1's options_kv: `{mode: "r"|"w"|"a", <driver-specific>}`).
type Driver interface {
	Open(location string, options map[string]string) (Handle, error)
}

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Driver)
)

// Register makes a Driver available under scheme (§6.2's URL scheme),
// typically called from a driver package's init(). Registering the same
// scheme twice panics, mirroring database/sql.Register's contract.
func Register(scheme string, driver Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if _, dup := drivers[scheme]; dup {
		panic("storage: Register called twice for scheme " + scheme)
	}
	drivers[scheme] = driver
}

// Open parses rawURL per §6.2 (`scheme://location?query#fragment`) and
// opens a Handle with the registered driver for its scheme. The default
// mode is "a" (append: read-or-create) per §6.1, unless the URL's query
// already sets one.
func Open(rawURL string) (Handle, error) {
	u, err := identifier.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	driversMu.RLock()
	driver, ok := drivers[u.Scheme]
	driversMu.RUnlock()
	if !ok {
		return nil, dliteerr.New(dliteerr.StorageOpen, "storage: no driver registered for scheme %q", u.Scheme)
	}
	if _, ok := u.Options["mode"]; !ok {
		u.Options["mode"] = "a"
	}
	h, err := driver.Open(u.Location, u.Options)
	if err != nil {
		return nil, dliteerr.Storage(false, err, "storage: open %q", rawURL)
	}
	return h, nil
}

// LoadFragment is a convenience for the §6.2 fragment-as-id shortcut:
// opening `scheme://location#id` and immediately loading id, closing the
// handle afterward regardless of outcome.
func LoadFragment(rawURL string) (*instance.Instance, error) {
	u, err := identifier.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	if u.Fragment == "" {
		return nil, dliteerr.New(dliteerr.Option, "storage: url %q has no #id fragment to load", rawURL)
	}
	h, err := Open(rawURL)
	if err != nil {
		return nil, err
	}
	defer h.Close()
	return h.Load(u.Fragment)
}
