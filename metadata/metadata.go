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

// Package metadata implements the structural composite records used
// inside entity definitions (§3.3): Dimension, Property and Relation.
// Grounded on the teacher's small structural-record style
// (FileEntity/FunctionEntity in _examples/vjache-cie/pkg/ingestion/schema.go)
// and on §3.3/§4.2 of the specification.
package metadata

import (
	"github.com/sintef/dlite-go/dtype"
)

// Dimension is a named symbolic length referenced by array properties.
type Dimension struct {
	Name        string
	Description string
}

// Fields implements dtype.Composite.
func (d Dimension) Fields() []dtype.CompositeField {
	fields := []dtype.CompositeField{
		{Name: "name", Value: strValue(d.Name)},
	}
	if d.Description != "" {
		fields = append(fields, dtype.CompositeField{Name: "description", Value: strValue(d.Description)})
	}
	return fields
}

// TypeName implements dtype.Composite.
func (Dimension) TypeName() string { return "dimension" }

// Property is a typed, named, dimensioned field of an entity.
type Property struct {
	Name        string
	Type        dtype.Type
	Shape       []string // dimension-name expressions, not values
	Unit        string   // optional
	Description string   // optional
}

// NDims is the number of array dimensions (0 for a scalar property).
func (p Property) NDims() int { return len(p.Shape) }

// IsArray reports whether p is array-shaped.
func (p Property) IsArray() bool { return len(p.Shape) > 0 }

// Fields implements dtype.Composite.
func (p Property) Fields() []dtype.CompositeField {
	fields := []dtype.CompositeField{
		{Name: "name", Value: strValue(p.Name)},
		{Name: "type", Value: strValue(p.Type.Name())},
	}
	if len(p.Shape) > 0 {
		fields = append(fields, dtype.CompositeField{Name: "shape", Value: shapeValue(p.Shape)})
	}
	if p.Unit != "" {
		fields = append(fields, dtype.CompositeField{Name: "unit", Value: strValue(p.Unit)})
	}
	if p.Description != "" {
		fields = append(fields, dtype.CompositeField{Name: "description", Value: strValue(p.Description)})
	}
	return fields
}

// TypeName implements dtype.Composite.
func (Property) TypeName() string { return "property" }

// Relation is a subject-predicate-object triple, optionally typed and
// optionally identified.
type Relation struct {
	S  string
	P  string
	O  string
	D  string // optional datatype
	ID string // optional identifier
}

// Fields implements dtype.Composite.
func (r Relation) Fields() []dtype.CompositeField {
	fields := []dtype.CompositeField{
		{Name: "s", Value: strValue(r.S)},
		{Name: "p", Value: strValue(r.P)},
		{Name: "o", Value: strValue(r.O)},
	}
	if r.D != "" {
		fields = append(fields, dtype.CompositeField{Name: "d", Value: strValue(r.D)})
	}
	if r.ID != "" {
		fields = append(fields, dtype.CompositeField{Name: "id", Value: strValue(r.ID)})
	}
	return fields
}

// TypeName implements dtype.Composite.
func (Relation) TypeName() string { return "relation" }

func strValue(s string) dtype.Value {
	return dtype.Value{Type: dtype.Type{Code: dtype.StringPtr}, Bytes: []byte(s)}
}

// shapeValue packs a shape expression list as a single composite-field
// value; the JSON/BSON codecs render it as a nested array of strings.
func shapeValue(shape []string) dtype.Value {
	vals := make([]dtype.Value, len(shape))
	for i, s := range shape {
		vals[i] = strValue(s)
	}
	return dtype.Value{Type: dtype.Type{Code: dtype.StringPtr}, Array: vals}
}
