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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sintef/dlite-go/dtype"
	"github.com/sintef/dlite-go/instance"
	"github.com/sintef/dlite-go/metadata"
)

// S4 from spec §8: an entity with properties [int8, int64, string10] must
// place int64 at offset 8 past the header and string10 at offset 16, on
// a 64-bit platform, with no dimensions in play.
func TestEntityLayoutOffsets(t *testing.T) {
	e, err := New(
		"http://example.com/0.1/Layout",
		"layout fixture",
		nil,
		[]metadata.Property{
			{Name: "a", Type: dtype.Type{Code: dtype.Int, Size: 1}},
			{Name: "b", Type: dtype.Type{Code: dtype.Int, Size: 8}},
			{Name: "c", Type: dtype.Type{Code: dtype.FixString, Size: 10}},
		},
		nil,
		EntitySchema,
	)
	require.NoError(t, err)

	l := e.Layout()
	require.Len(t, l.PropOffsets, 3)
	assert.Equal(t, l.DimOffset, l.PropOffsets[0])
	assert.Equal(t, 8, l.PropOffsets[1]-l.DimOffset)
	assert.Equal(t, 16, l.PropOffsets[2]-l.DimOffset)
}

func TestEntityRejectsDuplicatePropertyName(t *testing.T) {
	_, err := New("http://example.com/0.1/Dup", "", nil,
		[]metadata.Property{
			{Name: "x", Type: dtype.Type{Code: dtype.Bool}},
			{Name: "x", Type: dtype.Type{Code: dtype.Bool}},
		}, nil, EntitySchema)
	assert.Error(t, err)
}

func TestEntityRejectsUnknownShapeDimension(t *testing.T) {
	_, err := New("http://example.com/0.1/BadShape", "", nil,
		[]metadata.Property{
			{Name: "x", Type: dtype.Type{Code: dtype.Float, Size: 8}, Shape: []string{"nosuch"}},
		}, nil, EntitySchema)
	assert.Error(t, err)
}

func TestBuiltinSchemasAreWellFormed(t *testing.T) {
	assert.Equal(t, BasicMetadataSchema.UUID(), BasicMetadataSchema.Meta().UUID())
	assert.Equal(t, BasicMetadataSchema.UUID(), EntitySchema.Meta().UUID())
	assert.Equal(t, EntitySchema.UUID(), CollectionEntity.Meta().UUID())

	assert.True(t, IsMeta(EntitySchema))
	assert.True(t, IsMeta(BasicMetadataSchema))
	assert.True(t, IsMeta(CollectionEntity))
}

func TestChemistryEntityLifecycle(t *testing.T) {
	chem, err := New(
		"http://www.sintef.no/calm/0.1/Chemistry",
		"A chemical compound.",
		[]metadata.Dimension{{Name: "nelements", Description: "Number of elements."}},
		[]metadata.Property{
			{Name: "elements", Type: dtype.Type{Code: dtype.StringPtr}, Shape: []string{"nelements"}, Description: "Element symbols."},
			{Name: "ratios", Type: dtype.Type{Code: dtype.Float, Size: 8}, Shape: []string{"nelements"}, Description: "Mole ratios."},
		},
		nil,
		EntitySchema,
	)
	require.NoError(t, err)
	assert.Equal(t, "62bfca3a-cd16-5046-b44b-a3d69b34fcff", chem.UUID())
	assert.True(t, IsMeta(chem))
	assert.Equal(t, "http://www.sintef.no/calm/0.1/Chemistry", chem.URI())
}

// Universal invariant 7 from spec §8: ComputeHash is deterministic across
// repeated calls (cached on the instance) and sensitive to property
// content, and setting the same properties via different call orders
// still yields the same digest, since a data instance's property slots
// are positional, not feed-order dependent.
func TestComputeHashIsCachedAndOrderIndependent(t *testing.T) {
	chem, err := New(
		"http://www.sintef.no/calm/0.1/Chemistry2",
		"A chemical compound.",
		[]metadata.Dimension{{Name: "nelements"}},
		[]metadata.Property{
			{Name: "elements", Type: dtype.Type{Code: dtype.StringPtr}, Shape: []string{"nelements"}},
			{Name: "ratios", Type: dtype.Type{Code: dtype.Float, Size: 8}, Shape: []string{"nelements"}},
		},
		nil,
		EntitySchema,
	)
	require.NoError(t, err)

	strVal := func(s string) dtype.Value {
		return dtype.Value{Type: dtype.Type{Code: dtype.StringPtr}, Bytes: []byte(s)}
	}
	strArr := func(vals ...string) dtype.Value {
		arr := make([]dtype.Value, len(vals))
		for i, v := range vals {
			arr[i] = strVal(v)
		}
		return dtype.Value{Type: dtype.Type{Code: dtype.StringPtr}, Array: arr}
	}
	floatArr := func(vals ...float64) dtype.Value {
		arr := make([]dtype.Value, len(vals))
		for i, v := range vals {
			arr[i] = dtype.Value{Type: dtype.Type{Code: dtype.Float, Size: 8}, Float: v}
		}
		return dtype.Value{Type: dtype.Type{Code: dtype.Float, Size: 8}, Array: arr}
	}

	a, err := instance.New(chem, []int64{2}, "")
	require.NoError(t, err)
	require.NoError(t, a.SetProperty(0, strArr("Al", "Mg")))
	require.NoError(t, a.SetProperty(1, floatArr(0.5, 0.5)))

	b, err := instance.New(chem, []int64{2}, "")
	require.NoError(t, err)
	require.NoError(t, b.SetProperty(1, floatArr(0.5, 0.5)))
	require.NoError(t, b.SetProperty(0, strArr("Al", "Mg")))

	ha, err := ComputeHash(a)
	require.NoError(t, err)
	hb, err := ComputeHash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)

	cached, ok := a.Hash()
	require.True(t, ok)
	assert.Equal(t, ha, cached)

	c, err := instance.New(chem, []int64{2}, "")
	require.NoError(t, err)
	require.NoError(t, c.SetProperty(0, strArr("Fe", "Si")))
	require.NoError(t, c.SetProperty(1, floatArr(0.5, 0.5)))
	hc, err := ComputeHash(c)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hc)
}
