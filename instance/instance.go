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

// Package instance implements the generic, reference-counted object model
// (§3.4, §4.3): every entity and every data record is an Instance — a
// header (uuid, optional uri, refcount, meta, optional parent, content
// hash) followed by a dimensions vector and a property value block.
//
// Grounded on §3.4/§4.3 and on original_source/src/dlite-entity.c's
// dlite_instance_create/dlite_instance_free (calloc'd header-plus-arena
// layout, array-property allocation loop, declaration-order free loop).
// The Meta interface below breaks the structural cycle between Instance
// (which points at its meta) and Entity (which is itself an Instance) the
// same way dtype.Composite breaks the dtype/metadata cycle: the lower
// package (instance) declares the interface, the higher package (entity)
// satisfies it.
package instance

import (
	"sync/atomic"

	"github.com/sintef/dlite-go/dliteerr"
	"github.com/sintef/dlite-go/dtype"
	"github.com/sintef/dlite-go/duuid"
)

// Meta is the subset of an Entity's shape an Instance needs to allocate
// and validate its own property block, without importing package entity.
type Meta interface {
	UUID() string
	URI() string
	NDimensions() int
	DimensionName(i int) string
	DimensionIndex(name string) (int, bool)
	NProperties() int
	PropertyName(i int) string
	PropertyShape(i int) []string
	PropertyType(i int) dtype.Type
	Incref()
	Decref() bool
}

// ParentRef is the optional content-addressed link from a derived instance
// back to the instance it was computed from (§3.4).
type ParentRef struct {
	UUID string
	Hash [32]byte
}

// Instance is the generic runtime object: every Entity is also an
// Instance (of the entity schema), and every data record is an Instance
// of some Entity.
type Instance struct {
	refcount int32

	uuid string
	uri  string // empty unless this instance was created/identified by URI

	meta      Meta
	onRelease func() // store hook run once refcount reaches zero

	parent  *ParentRef
	hash    [32]byte
	hashSet bool

	dims   []int64      // one value per meta dimension, in declaration order
	values []dtype.Value // one value per meta property, in declaration order

	// refTargets holds live, strong pointers for Ref-typed properties that
	// have been resolved to an in-memory instance (§4.4's lazy resolution):
	// the dtype.Value itself only ever carries the identifier string, so
	// that JSON/BSON round-tripping never requires a live object graph.
	refTargets map[int]*Instance
}

// New creates an instance of meta with the given dimension sizes,
// following dlite_instance_create: id may be empty (random v4 uuid), an
// existing uuid (copied verbatim, no uri recorded) or an arbitrary string
// (v5-hashed uuid, uri recorded as id). All properties are zero-valued;
// array-shaped properties are allocated to their resolved length.
//
// meta may be nil only when bootstrapping the built-in self-describing
// schemas (§3.6, §9), whose meta link is wired after construction via
// SetMeta; every other caller must supply a real meta.
func New(meta Meta, dimvalues []int64, id string) (*Instance, error) {
	if meta != nil && len(dimvalues) != meta.NDimensions() {
		return nil, dliteerr.New(dliteerr.Value, "instance: expected %d dimension values, got %d", meta.NDimensions(), len(dimvalues))
	}

	uuidStr, version := duuid.Of(id)
	inst := &Instance{
		refcount: 1,
		uuid:     uuidStr,
		meta:     meta,
		dims:     append([]int64(nil), dimvalues...),
	}
	if version == 5 {
		inst.uri = id
	}
	if meta == nil {
		return inst, nil
	}
	inst.values = make([]dtype.Value, meta.NProperties())
	meta.Incref()

	for i := 0; i < meta.NProperties(); i++ {
		shape := meta.PropertyShape(i)
		if len(shape) == 0 {
			inst.values[i] = dtype.Value{Type: meta.PropertyType(i)}
			continue
		}
		n, err := inst.arrayLength(meta, shape)
		if err != nil {
			return nil, err
		}
		elemType := meta.PropertyType(i)
		arr := make([]dtype.Value, n)
		for j := range arr {
			arr[j] = dtype.Value{Type: elemType}
		}
		inst.values[i] = dtype.Value{Type: elemType, Array: arr}
	}
	return inst, nil
}

func (inst *Instance) arrayLength(meta Meta, shape []string) (int, error) {
	n := 1
	for _, name := range shape {
		idx, ok := meta.DimensionIndex(name)
		if !ok {
			return 0, dliteerr.New(dliteerr.InvalidMetadata, "instance: unknown dimension %q in property shape", name)
		}
		if idx < 0 || idx >= len(inst.dims) {
			return 0, dliteerr.New(dliteerr.Index, "instance: dimension index %d out of range", idx)
		}
		n *= int(inst.dims[idx])
	}
	return n, nil
}

// UUID returns the instance's identity.
func (inst *Instance) UUID() string { return inst.uuid }

// URI returns the instance's uri, or "" if it was created/identified by
// uuid alone.
func (inst *Instance) URI() string { return inst.uri }

// Meta returns the instance's metadata.
func (inst *Instance) Meta() Meta { return inst.meta }

// SetMeta rebinds the instance's meta pointer without incref'ing it. It
// exists only to bootstrap the built-in self-describing schemas (§3.6,
// §9): their meta links form a fixed, closed trio that must not hold each
// other alive by reference count, since two of them would then never
// reach zero. Ordinary entities are always linked via New, which increfs
// normally.
func (inst *Instance) SetMeta(m Meta) { inst.meta = m }

// Dimensions returns the instance's dimension values, in declaration
// order. The returned slice must not be mutated.
func (inst *Instance) Dimensions() []int64 { return inst.dims }

// Parent returns the instance's parent link, or nil.
func (inst *Instance) Parent() *ParentRef { return inst.parent }

// SetParent records a parent link (used when an instance is computed from
// another, e.g. by a mapping).
func (inst *Instance) SetParent(p *ParentRef) { inst.parent = p }

// Hash returns the cached content hash and whether it has been computed.
func (inst *Instance) Hash() ([32]byte, bool) { return inst.hash, inst.hashSet }

// SetHash caches a content hash computed by the entity package (which owns
// the canonical SHA-3 feed construction).
func (inst *Instance) SetHash(h [32]byte) {
	inst.hash = h
	inst.hashSet = true
}

// SetReleaseHook registers a callback invoked exactly once, when the
// instance's refcount reaches zero. Used by store.Store to drop its weak
// registry entry without instance importing store.
func (inst *Instance) SetReleaseHook(f func()) { inst.onRelease = f }

// Incref increments the reference count.
func (inst *Instance) Incref() { atomic.AddInt32(&inst.refcount, 1) }

// Decref decrements the reference count. When it reaches zero, every
// owning property (§4.1 dtype.Type.Owns) is deep-released in declaration
// order, the meta is decref'd, and the release hook (if any) fires.
// Decref returns true iff this call released the instance.
func (inst *Instance) Decref() bool {
	if atomic.AddInt32(&inst.refcount, -1) > 0 {
		return false
	}
	for i := range inst.values {
		inst.clearValue(i)
	}
	if inst.meta != nil {
		inst.meta.Decref()
	}
	if inst.onRelease != nil {
		inst.onRelease()
	}
	return true
}

// Refcount returns the current reference count, for diagnostics and tests.
func (inst *Instance) Refcount() int32 { return atomic.LoadInt32(&inst.refcount) }

// NProperties returns the number of properties meta declares.
func (inst *Instance) NProperties() int { return len(inst.values) }

// GetProperty returns the value stored at property index i.
func (inst *Instance) GetProperty(i int) (dtype.Value, error) {
	if i < 0 || i >= len(inst.values) {
		return dtype.Value{}, dliteerr.New(dliteerr.Index, "instance: property index %d out of range", i)
	}
	return inst.values[i], nil
}

// SetProperty replaces the value at property index i, releasing whatever
// the slot previously owned (§4.3: "deep clear, then deep copy").
func (inst *Instance) SetProperty(i int, v dtype.Value) error {
	if i < 0 || i >= len(inst.values) {
		return dliteerr.New(dliteerr.Index, "instance: property index %d out of range", i)
	}
	inst.clearValue(i)
	inst.values[i] = v
	return nil
}

// RefTarget resolves a Ref-typed property to a live *Instance if the
// caller has already wired one via SetRefTarget (§4.4's lazy resolution
// pattern); returns ok=false if no live pointer has been attached yet, in
// which case the caller should resolve dtype.Value.Ref through a Store.
func (inst *Instance) RefTarget(i int) (target *Instance, ok bool) {
	target, ok = inst.refTargets[i]
	return
}

// SetRefTarget attaches a live, strong (incref'd) pointer for a resolved
// Ref-typed property. Replaces and decrefs any previous target at i.
func (inst *Instance) SetRefTarget(i int, target *Instance) {
	if inst.refTargets == nil {
		inst.refTargets = make(map[int]*Instance)
	}
	if old, ok := inst.refTargets[i]; ok && old != target {
		old.Decref()
	}
	if target != nil {
		target.Incref()
	}
	inst.refTargets[i] = target
}

// clearValue releases whatever owning resource property i currently
// holds, mirroring dlite_instance_free's free(*ptr) loop for array
// properties and extending it to Ref's refcounted target.
func (inst *Instance) clearValue(i int) {
	if target, ok := inst.refTargets[i]; ok {
		target.Decref()
		delete(inst.refTargets, i)
	}
	// StringPtr/composite/array backing storage is plain Go-GC-owned
	// memory (Value.Bytes/Comp/Array); dropping the reference below is
	// sufficient, there is no manual free step as in the C original.
	inst.values[i] = dtype.Value{}
}
