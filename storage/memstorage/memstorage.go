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

// Package memstorage implements an in-memory reference storage driver
// under the "mem" scheme, used by tests and examples as the simplest
// possible Readable+Writable+Generic handle (§6.1) — not a production
// backend.
//
// Grounded on the same mutex-guarded-map shape as
// _examples/vjache-cie/pkg/storage/embedded.go and package store's weak
// registry, minus the weak/refcount semantics: a storage handle holds
// its instances strongly for as long as it is open.
package memstorage

import (
	"sort"
	"sync"

	"github.com/sintef/dlite-go/dliteerr"
	"github.com/sintef/dlite-go/instance"
	"github.com/sintef/dlite-go/storage"
)

func init() {
	storage.Register("mem", driver{})
}

type driver struct{}

// registries is keyed by location, so two handles opened with the same
// "mem://name" URL in one process see the same data — the in-memory
// analogue of a shared file path.
var (
	registriesMu sync.Mutex
	registries   = make(map[string]*Handle)
)

func (driver) Open(location string, options map[string]string) (storage.Handle, error) {
	registriesMu.Lock()
	defer registriesMu.Unlock()
	if h, ok := registries[location]; ok {
		// All opens of a location share one Handle; reopening it after
		// Close makes its data reachable again, as reopening a file would.
		h.mu.Lock()
		h.closed = false
		h.mu.Unlock()
		return h, nil
	}
	h := &Handle{byID: make(map[string]*instance.Instance), location: location}
	registries[location] = h
	return h, nil
}

// Handle is an open mem:// storage. It is Readable, Writable and Generic.
type Handle struct {
	mu       sync.RWMutex
	closed   bool
	location string
	byID     map[string]*instance.Instance
	byURI    map[string]*instance.Instance
}

// Capabilities implements storage.Handle.
func (h *Handle) Capabilities() storage.Capabilities {
	return storage.Capabilities{Readable: true, Writable: true, Generic: true}
}

// Load implements storage.Handle.
func (h *Handle) Load(id string) (*instance.Instance, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil, dliteerr.New(dliteerr.StorageLoad, "memstorage: handle %q is closed", h.location)
	}
	if inst, ok := h.byID[id]; ok {
		return inst, nil
	}
	if h.byURI != nil {
		if inst, ok := h.byURI[id]; ok {
			return inst, nil
		}
	}
	return nil, dliteerr.New(dliteerr.MissingInstance, "memstorage: no instance %q in %q", id, h.location)
}

// Save implements storage.Handle.
func (h *Handle) Save(inst *instance.Instance) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return dliteerr.New(dliteerr.StorageSave, "memstorage: handle %q is closed", h.location)
	}
	h.byID[inst.UUID()] = inst
	if inst.URI() != "" {
		if h.byURI == nil {
			h.byURI = make(map[string]*instance.Instance)
		}
		h.byURI[inst.URI()] = inst
	}
	return nil
}

// IterIDs implements storage.Handle.
func (h *Handle) IterIDs(metaID string) (storage.IDIterator, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil, dliteerr.New(dliteerr.StorageLoad, "memstorage: handle %q is closed", h.location)
	}
	ids := make([]string, 0, len(h.byID))
	for id, inst := range h.byID {
		if metaID != "" && (inst.Meta() == nil || inst.Meta().UUID() != metaID) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids) // deterministic iteration order for reproducible tests
	return &idIterator{ids: ids, cur: -1}, nil
}

// Close implements storage.Handle. Safe to call more than once.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

type idIterator struct {
	ids []string
	cur int
}

func (it *idIterator) Next() bool {
	it.cur++
	return it.cur < len(it.ids)
}

func (it *idIterator) Value() string {
	if it.cur < 0 || it.cur >= len(it.ids) {
		return ""
	}
	return it.ids[it.cur]
}

func (it *idIterator) Err() error   { return nil }
func (it *idIterator) Close() error { return nil }
