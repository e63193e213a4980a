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

package entity

import (
	"github.com/sintef/dlite-go/dtype"
	"github.com/sintef/dlite-go/metadata"
)

// The three built-in self-describing schemas (§3.6), hard-coded at fixed
// identifiers so independent components built against this module agree
// on their shape bit-for-bit. Grounded on original_source/src/dlite-
// schemas.c's entity_schema literal, generalised from its two dimensions
// (ndimensions, nproperties) to three (adding nrelations, §3.3's addition
// of Relation records) and split into the meta-meta/meta pair spec §3.6
// names (BasicMetadataSchema, EntitySchema) instead of the original's
// single self-referential struct.
var (
	BasicMetadataSchema *Entity
	EntitySchema        *Entity
	CollectionEntity    *Entity
)

func init() {
	var err error

	// BasicMetadataSchema (meta-meta): describes the identity fields
	// every piece of metadata carries (uri split into namespace/version/
	// name, plus a description). It is its own meta — the one genuinely
	// self-referential link in the trio (§9) — wired weakly below.
	BasicMetadataSchema, err = NewAsInstanceOf(
		"http://meta.sintef.no/0.3/basic_metadata_schema",
		"Basic metadata schema: the identity fields common to every entity.",
		nil,
		[]metadata.Property{
			{Name: "name", Type: dtype.Type{Code: dtype.StringPtr}, Description: "Entity name."},
			{Name: "version", Type: dtype.Type{Code: dtype.StringPtr}, Description: "Entity version."},
			{Name: "namespace", Type: dtype.Type{Code: dtype.StringPtr}, Description: "Entity namespace."},
			{Name: "description", Type: dtype.Type{Code: dtype.StringPtr}, Description: "Human-readable description."},
		},
		nil,
		nil, // meta wired below, after construction, as a weak self-reference
		nil, // meta is nil at this point, so it has no dimensions to satisfy
	)
	if err != nil {
		panic("entity: building BasicMetadataSchema: " + err.Error())
	}
	BasicMetadataSchema.SetMeta(BasicMetadataSchema) // weak self-reference, no incref

	// EntitySchema (meta): describes an ordinary Entity's own
	// dimensions[]/properties[]/relations[] arrays (§4.2). Its meta is
	// BasicMetadataSchema, a normal strong link (no cycle: Basic never
	// points back at Entity). BasicMetadataSchema itself has no
	// dimensions, so EntitySchema's metaDimValues (as an instance of
	// BasicMetadataSchema) is empty — its own three dimensions describe
	// instances made *of* EntitySchema, not of EntitySchema itself.
	EntitySchema, err = NewAsInstanceOf(
		"http://meta.sintef.no/0.3/entity_schema",
		"Schema for Entities: their dimensions, properties and relations.",
		[]metadata.Dimension{
			{Name: "ndimensions", Description: "Number of dimensions."},
			{Name: "nproperties", Description: "Number of properties."},
			{Name: "nrelations", Description: "Number of relations."},
		},
		[]metadata.Property{
			{Name: "dimensions", Type: dtype.Type{Code: dtype.DimensionT}, Shape: []string{"ndimensions"}, Description: "Name and description of each dimension."},
			{Name: "properties", Type: dtype.Type{Code: dtype.PropertyT}, Shape: []string{"nproperties"}, Description: "Name, type, shape, unit and description of each property."},
			{Name: "relations", Type: dtype.Type{Code: dtype.RelationT}, Shape: []string{"nrelations"}, Description: "Subject-predicate-object triples."},
		},
		nil,
		BasicMetadataSchema,
		nil,
	)
	if err != nil {
		panic("entity: building EntitySchema: " + err.Error())
	}

	// CollectionEntity: an ordinary Entity (meta=EntitySchema, a normal
	// strong link) whose own instances hold membership as relation
	// triples (supplemented feature, SPEC_FULL §Supplemented features
	// item 4), rather than being a dead schema with no operations
	// exercising it.
	CollectionEntity, err = New(
		"http://meta.sintef.no/0.3/collection_entity",
		"A collection of instances, expressed as relation triples.",
		[]metadata.Dimension{
			{Name: "nrelations", Description: "Number of membership relations."},
		},
		[]metadata.Property{
			{Name: "relations", Type: dtype.Type{Code: dtype.RelationT}, Shape: []string{"nrelations"}, Description: "Collection membership and label triples."},
		},
		nil,
		EntitySchema,
	)
	if err != nil {
		panic("entity: building CollectionEntity: " + err.Error())
	}
}
