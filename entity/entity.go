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

// Package entity implements Entity — an Instance whose properties are
// themselves Dimension/Property/Relation records (§3.5, §4.2): the closed
// type system's "metadata" side, with cached memory layout and the three
// self-describing built-in schemas (§3.6).
//
// Grounded on §3.5/§4.2/§3.6 and on original_source/src/dlite-entity.c's
// layout computation loop and src/dlite-schemas.c's built-in schema
// literals.
package entity

import (
	"golang.org/x/crypto/sha3"

	"github.com/sintef/dlite-go/dliteerr"
	"github.com/sintef/dlite-go/dtype"
	"github.com/sintef/dlite-go/identifier"
	"github.com/sintef/dlite-go/instance"
	"github.com/sintef/dlite-go/metadata"
)

// headerSize is the conceptual size, in bytes, of the fixed fields every
// Instance carries ahead of its dimensions vector: uuid, uri, meta and
// refcount, each a pointer-or-word-sized cell (§3.4, §4.2 step 3).
const headerSize = 4 * dtype.PointerSize

// Layout is the cached, byte-exact memory layout an Entity computes for
// instances of itself (§4.2). It is informational — this implementation
// stores instance values in a Go slice rather than a raw byte arena — but
// must match what a byte-for-byte-compatible implementation would compute,
// since storage drivers and other language bindings rely on it.
type Layout struct {
	HeaderSize     int
	DimOffset      int
	PropOffsets    []int
	TotalSize      int
	Align          int
}

// Entity is an Instance whose property values are Dimension/Property/
// Relation records instead of application data (§3.5). UUID, URI,
// Incref/Decref and the parent/hash accessors are promoted from the
// embedded Instance: an Entity's refcount and meta-of-self are the same
// single notion the generic object model already tracks, not a second one.
type Entity struct {
	instance.Instance

	description string
	dimensions  []metadata.Dimension
	properties  []metadata.Property
	relations   []metadata.Relation

	layout Layout
}

// New validates dims/props/rels and constructs an Entity for uri,
// computing and caching its instance layout (§4.2): duplicate dimension
// or property names are rejected, every property's shape names must
// resolve against dims, and relations are carried as-is (their own
// validity is a dataset-level concern, not a layout one).
//
// meta is the entity's own meta (EntitySchema for every ordinary entity);
// it is itself an Instance of meta, so New needs to know what dimension
// values meta's own shape expects of its instances. For the standard
// EntitySchema shape (ndimensions, nproperties, nrelations) that is
// exactly {len(dims), len(props), len(rels)}, computed automatically;
// bootstrapping the schemas themselves (meta with a different shape, or
// no meta yet) goes through NewAsInstanceOf with explicit values.
func New(uri, description string, dims []metadata.Dimension, props []metadata.Property, rels []metadata.Relation, meta instance.Meta) (*Entity, error) {
	return NewAsInstanceOf(uri, description, dims, props, rels, meta,
		[]int64{int64(len(dims)), int64(len(props)), int64(len(rels))})
}

// NewAsInstanceOf is New generalised with an explicit metaDimValues,
// needed only when meta's own dimensions aren't the standard
// (ndimensions, nproperties, nrelations) triple — i.e. only for
// bootstrapping the built-in schemas in builtin.go.
func NewAsInstanceOf(uri, description string, dims []metadata.Dimension, props []metadata.Property, rels []metadata.Relation, meta instance.Meta, metaDimValues []int64) (*Entity, error) {
	if err := validateNames(dims, props); err != nil {
		return nil, err
	}
	dimIndex := make(map[string]int, len(dims))
	for i, d := range dims {
		dimIndex[d.Name] = i
	}
	for _, p := range props {
		for _, s := range p.Shape {
			if _, ok := dimIndex[s]; !ok {
				return nil, dliteerr.New(dliteerr.InvalidMetadata, "entity %q: property %q references unknown dimension %q", uri, p.Name, s)
			}
		}
	}

	l, err := computeLayout(props, len(dims))
	if err != nil {
		return nil, err
	}

	base, err := instance.New(meta, metaDimValues, uri)
	if err != nil {
		return nil, err
	}
	e := &Entity{
		Instance:    *base,
		description: description,
		dimensions:  append([]metadata.Dimension(nil), dims...),
		properties:  append([]metadata.Property(nil), props...),
		relations:   append([]metadata.Relation(nil), rels...),
		layout:      l,
	}
	return e, nil
}

func validateNames(dims []metadata.Dimension, props []metadata.Property) error {
	seen := make(map[string]bool, len(dims))
	for _, d := range dims {
		if seen[d.Name] {
			return dliteerr.New(dliteerr.InvalidMetadata, "duplicate dimension name %q", d.Name)
		}
		seen[d.Name] = true
	}
	seen = make(map[string]bool, len(props))
	for _, p := range props {
		if seen[p.Name] {
			return dliteerr.New(dliteerr.InvalidMetadata, "duplicate property name %q", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// computeLayout implements §4.2 step 5: widest-alignment header, then
// dims vector (ndims size_t-sized cells), then each property padded to
// its own alignment, ending at a size rounded up to the layout's overall
// alignment.
func computeLayout(props []metadata.Property, ndims int) (Layout, error) {
	align := dtype.PointerSize
	offsets := make([]int, len(props))
	dimOffset := headerSize
	cursor := dimOffset + ndims*dtype.WordSize

	for i, p := range props {
		var size, propAlign int
		var err error
		if p.IsArray() {
			size, propAlign = dtype.PointerSize, dtype.PointerSize
		} else {
			size, propAlign, err = p.Type.Layout()
			if err != nil {
				return Layout{}, err
			}
		}
		pad, err := dtype.PaddingAt(alignmentType(propAlign), cursor)
		if err != nil {
			return Layout{}, err
		}
		cursor += pad
		offsets[i] = cursor
		cursor += size
		if propAlign > align {
			align = propAlign
		}
	}
	total := cursor
	if rem := total % align; rem != 0 {
		total += align - rem
	}
	return Layout{
		HeaderSize:  headerSize,
		DimOffset:   dimOffset,
		PropOffsets: offsets,
		TotalSize:   total,
		Align:       align,
	}, nil
}

// alignmentType synthesizes a Type whose natural alignment equals want, so
// PaddingAt (defined in terms of a dtype.Type) can be reused for property
// alignment that isn't always a literal scalar (array cells are always
// pointer-aligned, and 80/96/128-bit floats align to 16).
func alignmentType(want int) dtype.Type {
	if want >= 16 {
		return dtype.Type{Code: dtype.Float, Size: 16}
	}
	return dtype.Type{Code: dtype.Int, Size: want}
}

// Description returns the entity's human-readable description.
func (e *Entity) Description() string { return e.description }

// Dimensions returns the entity's dimension records, in declaration order.
func (e *Entity) Dimensions() []metadata.Dimension { return e.dimensions }

// Properties returns the entity's property records, in declaration order.
func (e *Entity) Properties() []metadata.Property { return e.properties }

// Relations returns the entity's relation records, in declaration order.
func (e *Entity) Relations() []metadata.Relation { return e.relations }

// Layout returns the cached instance layout (§4.2, §8 S4).
func (e *Entity) Layout() Layout { return e.layout }

// MetaURI returns the entity's uri split into namespace/version/name.
func (e *Entity) MetaURI() (identifier.MetaURI, error) {
	return identifier.Split(e.URI())
}

// --- instance.Meta ---

// NDimensions implements instance.Meta.
func (e *Entity) NDimensions() int { return len(e.dimensions) }

// NProperties implements instance.Meta.
func (e *Entity) NProperties() int { return len(e.properties) }

// DimensionIndex implements instance.Meta.
func (e *Entity) DimensionIndex(name string) (int, bool) {
	for i, d := range e.dimensions {
		if d.Name == name {
			return i, true
		}
	}
	return 0, false
}

// DimensionName implements instance.Meta.
func (e *Entity) DimensionName(i int) string { return e.dimensions[i].Name }

// PropertyName implements instance.Meta.
func (e *Entity) PropertyName(i int) string { return e.properties[i].Name }

// PropertyShape implements instance.Meta.
func (e *Entity) PropertyShape(i int) []string { return e.properties[i].Shape }

// PropertyType implements instance.Meta.
func (e *Entity) PropertyType(i int) dtype.Type { return e.properties[i].Type }

// Incref and Decref are promoted from the embedded Instance, satisfying
// instance.Meta without a separate refcount.

// PropertyIndex finds a property by name.
func (e *Entity) PropertyIndex(name string) (int, bool) {
	for i, p := range e.properties {
		if p.Name == name {
			return i, true
		}
	}
	return 0, false
}

// hasMeta is satisfied by both *instance.Instance and *Entity (via its
// embedded Instance), letting IsMeta inspect either without a type switch.
type hasMeta interface {
	Meta() instance.Meta
}

// IsMeta reports whether x is itself metadata rather than a plain data
// instance: whether x.Meta() is one of the two universal self-describing
// schemas (EntitySchema or BasicMetadataSchema). Every ordinary Entity's
// meta is EntitySchema, so this is true for any Entity, not just the two
// root schemas themselves — mirroring dlite_instance_is_meta, which
// selects the metadata-vs-data write path for any entity whose meta is
// a root schema (dlite-bson.c).
func IsMeta(x hasMeta) bool {
	if x == nil {
		return false
	}
	m := x.Meta()
	if m == nil {
		return false
	}
	return m.UUID() == EntitySchema.UUID() || m.UUID() == BasicMetadataSchema.UUID()
}

// ComputeHash computes inst's canonical content hash (§4.1 update_sha3,
// §8 invariant 7) and caches it on inst via instance.SetHash, returning
// the same digest on every call rather than recomputing once cached.
// The feed is meta's uri, then each dimension value (little-endian
// int64), then each property value in declaration order via
// dtype.UpdateSHA3 — the same per-value canonical form the codecs and
// metadata.Property.Fields rely on, so a derived instance's parent link
// (instance.ParentRef) can be verified byte-for-byte against its source
// regardless of which language computed it.
func ComputeHash(inst *instance.Instance) ([32]byte, error) {
	if h, ok := inst.Hash(); ok {
		return h, nil
	}

	h := sha3.NewLegacyKeccak256()
	if meta := inst.Meta(); meta != nil {
		h.Write([]byte(meta.URI()))
	}
	for _, d := range inst.Dimensions() {
		h.Write(leInt64(d))
	}
	for i := 0; i < inst.NProperties(); i++ {
		v, err := inst.GetProperty(i)
		if err != nil {
			return [32]byte{}, err
		}
		if err := dtype.UpdateSHA3(h, v); err != nil {
			return [32]byte{}, dliteerr.Wrap(dliteerr.Serialise, err, "entity: hash property %d", i)
		}
	}

	var digest [32]byte
	copy(digest[:], h.Sum(nil))
	inst.SetHash(digest)
	return digest, nil
}

func leInt64(v int64) []byte {
	b := make([]byte, 8)
	u := uint64(v)
	for i := 0; i < 8; i++ {
		b[i] = byte(u >> (8 * i))
	}
	return b
}
