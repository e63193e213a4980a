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

// Package jsonfile implements a JSON-file-backed reference storage
// driver under a caller-chosen scheme (conventionally "json"): the whole
// file is one multi-instance document (§4.5), read and rewritten on
// every Save. A reference driver for tests and examples, not a
// production backend — production use would want incremental writes and
// file locking this package does not attempt.
//
// Grounded on the teacher's mutex-guarded backend shape
// (_examples/vjache-cie/pkg/storage/embedded.go) and on
// original_source/storages/json/dlite-json-storage.c's whole-document
// load/save model.
package jsonfile

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/sintef/dlite-go/dliteerr"
	"github.com/sintef/dlite-go/instance"
	"github.com/sintef/dlite-go/jsoncodec"
	"github.com/sintef/dlite-go/storage"
)

func rawEntries(doc []byte) (map[string]json.RawMessage, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(doc, &top); err != nil {
		return nil, dliteerr.Wrap(dliteerr.Parse, err, "jsonfile: parse document")
	}
	return top, nil
}

// Driver opens jsonfile Handles. Unlike memstorage, it is not
// self-registering: it needs a jsoncodec.MetaResolver to decode
// instances, so callers construct one explicitly and register it under
// whatever scheme they choose:
//
//	storage.Register("json", jsonfile.New(resolve))
type Driver struct {
	resolve jsoncodec.MetaResolver
}

// New creates a Driver that resolves an instance's meta uri via resolve
// (typically store.Store.Get, adapted to jsoncodec.MetaResolver's
// signature by the caller).
func New(resolve jsoncodec.MetaResolver) *Driver {
	return &Driver{resolve: resolve}
}

// Open implements storage.Driver. location is a filesystem path; a
// missing file is treated as an empty document unless mode is "r".
func (d *Driver) Open(location string, options map[string]string) (storage.Handle, error) {
	mode := options["mode"]
	if mode == "" {
		mode = "a"
	}
	if _, err := os.Stat(location); err != nil {
		if mode == "r" {
			return nil, dliteerr.Wrap(dliteerr.StorageOpen, err, "jsonfile: open %q for reading", location)
		}
	}
	return &Handle{path: location, mode: mode, resolve: d.resolve}, nil
}

// Handle is an open jsonfile storage. Readable always; Writable unless
// opened with mode "r"; Generic always (the whole document can be
// iterated).
type Handle struct {
	mu      sync.Mutex
	path    string
	mode    string
	resolve jsoncodec.MetaResolver
	closed  bool
}

// Capabilities implements storage.Handle.
func (h *Handle) Capabilities() storage.Capabilities {
	return storage.Capabilities{Readable: true, Writable: h.mode != "r", Generic: true}
}

func (h *Handle) readDoc() ([]byte, error) {
	buf, err := os.ReadFile(h.path)
	if os.IsNotExist(err) {
		return []byte("{}"), nil
	}
	if err != nil {
		return nil, dliteerr.Wrap(dliteerr.StorageLoad, err, "jsonfile: read %q", h.path)
	}
	if len(buf) == 0 {
		return []byte("{}"), nil
	}
	return buf, nil
}

// Load implements storage.Handle.
func (h *Handle) Load(id string) (*instance.Instance, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, dliteerr.New(dliteerr.StorageLoad, "jsonfile: handle %q is closed", h.path)
	}
	doc, err := h.readDoc()
	if err != nil {
		return nil, err
	}
	ids, err := jsoncodec.Iter(doc, "")
	if err != nil {
		return nil, dliteerr.Storage(false, err, "jsonfile: iter %q", h.path)
	}
	entries, err := rawEntries(doc)
	if err != nil {
		return nil, err
	}
	for _, candidate := range ids {
		raw, ok := entries[candidate]
		if !ok {
			continue
		}
		inst, err := jsoncodec.Decode(raw, "", h.resolve)
		if err != nil {
			continue
		}
		if inst.UUID() == id || inst.URI() == id || candidate == id {
			return inst, nil
		}
	}
	return nil, dliteerr.New(dliteerr.MissingInstance, "jsonfile: no instance %q in %q", id, h.path)
}

// Save implements storage.Handle.
func (h *Handle) Save(inst *instance.Instance) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return dliteerr.New(dliteerr.StorageSave, "jsonfile: handle %q is closed", h.path)
	}
	if h.mode == "r" {
		return dliteerr.New(dliteerr.Permission, "jsonfile: handle %q opened read-only", h.path)
	}
	doc, err := h.readDoc()
	if err != nil {
		return err
	}
	out, err := jsoncodec.Append(doc, inst, jsoncodec.UriKey|jsoncodec.WithMeta|jsoncodec.WithUuid)
	if err != nil {
		return dliteerr.Storage(true, err, "jsonfile: encode %q", inst.UUID())
	}
	if err := os.WriteFile(h.path, out, 0644); err != nil {
		return dliteerr.Wrap(dliteerr.StorageSave, err, "jsonfile: write %q", h.path)
	}
	return nil
}

// IterIDs implements storage.Handle.
func (h *Handle) IterIDs(metaID string) (storage.IDIterator, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, dliteerr.New(dliteerr.StorageLoad, "jsonfile: handle %q is closed", h.path)
	}
	doc, err := h.readDoc()
	if err != nil {
		return nil, err
	}
	ids, err := jsoncodec.Iter(doc, metaID)
	if err != nil {
		return nil, dliteerr.Storage(false, err, "jsonfile: iter %q", h.path)
	}
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
