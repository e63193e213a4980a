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

package bsoncodec_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/bsoncore"

	"github.com/sintef/dlite-go/bsoncodec"
	"github.com/sintef/dlite-go/dtype"
	"github.com/sintef/dlite-go/entity"
	"github.com/sintef/dlite-go/instance"
	"github.com/sintef/dlite-go/metadata"
)

func chemistryEntity(t *testing.T) *entity.Entity {
	t.Helper()
	e, err := entity.New(
		"http://www.sintef.no/calm/0.1/Chemistry",
		"A chemical compound.",
		[]metadata.Dimension{
			{Name: "nelements"},
			{Name: "nphases"},
		},
		[]metadata.Property{
			{Name: "alloy", Type: dtype.Type{Code: dtype.StringPtr}},
			{Name: "elements", Type: dtype.Type{Code: dtype.StringPtr}, Shape: []string{"nelements"}},
			{Name: "phases", Type: dtype.Type{Code: dtype.StringPtr}, Shape: []string{"nphases"}},
			{Name: "X0", Type: dtype.Type{Code: dtype.Float, Size: 8}, Shape: []string{"nelements"}},
			{Name: "volfrac", Type: dtype.Type{Code: dtype.Float, Size: 8}, Shape: []string{"nphases"}},
		},
		nil,
		entity.EntitySchema,
	)
	require.NoError(t, err)
	return e
}

func strVal(s string) dtype.Value {
	return dtype.Value{Type: dtype.Type{Code: dtype.StringPtr}, Bytes: []byte(s)}
}

func floatVal(f float64) dtype.Value {
	return dtype.Value{Type: dtype.Type{Code: dtype.Float, Size: 8}, Float: f}
}

func strArray(vals ...string) dtype.Value {
	arr := make([]dtype.Value, len(vals))
	for i, v := range vals {
		arr[i] = strVal(v)
	}
	return dtype.Value{Type: dtype.Type{Code: dtype.StringPtr}, Array: arr}
}

func floatArray(vals ...float64) dtype.Value {
	arr := make([]dtype.Value, len(vals))
	for i, v := range vals {
		arr[i] = floatVal(v)
	}
	return dtype.Value{Type: dtype.Type{Code: dtype.Float, Size: 8}, Array: arr}
}

func newChemistryInstance(t *testing.T, chem *entity.Entity, order []int) *instance.Instance {
	t.Helper()
	// A fixed uri gives every instance built here the same identity, so
	// their encodings can be compared byte for byte.
	inst, err := instance.New(chem, []int64{4, 3}, "http://example.com/0.1/ChemistrySample")
	require.NoError(t, err)
	values := []dtype.Value{
		strVal("Sample alloy AlMgSiFe"),
		strArray("Al", "Mg", "Si", "Fe"),
		strArray("FCC_A1", "MG2SI", "ALFESI_ALPHA"),
		floatArray(0.99, 0.005, 0.005, 0.0003),
		floatArray(0.98, 0.01, 0.01),
	}
	for _, i := range order {
		require.NoError(t, inst.SetProperty(i, values[i]))
	}
	return inst
}

func assertValueEqual(t *testing.T, want, have dtype.Value) {
	t.Helper()
	require.Equal(t, len(want.Array), len(have.Array))
	if want.Array != nil {
		for i := range want.Array {
			assertValueEqual(t, want.Array[i], have.Array[i])
		}
		return
	}
	switch want.Type.Code {
	case dtype.Float:
		assert.InDelta(t, want.Float, have.Float, 1e-9)
	case dtype.StringPtr, dtype.FixString:
		assert.Equal(t, string(want.Bytes), string(have.Bytes))
	default:
		assert.Equal(t, want, have)
	}
}

// S5 from spec §8 (testable property 3): two instances built by setting
// the same properties in different orders encode to byte-identical BSON.
func TestEncodeIsByteIdenticalRegardlessOfPropertySetOrder(t *testing.T) {
	chem := chemistryEntity(t)
	a := newChemistryInstance(t, chem, []int{0, 1, 2, 3, 4})
	b := newChemistryInstance(t, chem, []int{4, 2, 0, 3, 1})

	bodyA, err := bsoncodec.Encode(a, bsoncodec.WithMeta)
	require.NoError(t, err)
	bodyB, err := bsoncodec.Encode(b, bsoncodec.WithMeta)
	require.NoError(t, err)

	assert.Equal(t, bodyA, bodyB)
}

// decode(encode(x)) == x (spec §8 testable property 2).
func TestChemistryBSONRoundTrip(t *testing.T) {
	chem := chemistryEntity(t)
	inst := newChemistryInstance(t, chem, []int{0, 1, 2, 3, 4})

	body, err := bsoncodec.Encode(inst, bsoncodec.WithMeta|bsoncodec.WithUuid)
	require.NoError(t, err)

	resolve := func(uri string) (*entity.Entity, error) {
		require.Equal(t, chem.URI(), uri)
		return chem, nil
	}
	got, err := bsoncodec.Decode(body, "", resolve)
	require.NoError(t, err)

	assert.Equal(t, inst.UUID(), got.UUID())
	for i := 0; i < inst.NProperties(); i++ {
		want, err := inst.GetProperty(i)
		require.NoError(t, err)
		have, err := got.GetProperty(i)
		require.NoError(t, err)
		assertValueEqual(t, want, have)
	}
}

func TestEncodeWithoutUuidFlagOmitsUuidWhenUriPresent(t *testing.T) {
	chem := chemistryEntity(t)
	inst, err := instance.New(chem, []int64{0, 0}, "http://example.com/0.1/Thing")
	require.NoError(t, err)

	body, err := bsoncodec.Encode(inst, 0)
	require.NoError(t, err)

	doc := bsoncore.Document(body)
	_, err = doc.LookupErr("uri")
	require.NoError(t, err)
	_, err = doc.LookupErr("uuid")
	require.Error(t, err)
}

// Fixed-width array properties (float, here) pack into a single Binary
// element rather than a BSON array-of-doubles.
func TestEncodeArrayUsesPackedBinaryForFixedWidthScalars(t *testing.T) {
	chem := chemistryEntity(t)
	inst := newChemistryInstance(t, chem, []int{0, 1, 2, 3, 4})

	body, err := bsoncodec.Encode(inst, 0)
	require.NoError(t, err)

	doc := bsoncore.Document(body)
	propsVal, err := doc.LookupErr("properties")
	require.NoError(t, err)
	propsDoc, ok := propsVal.DocumentOK()
	require.True(t, ok)

	x0Val, err := propsDoc.LookupErr("X0")
	require.NoError(t, err)
	_, data, ok := x0Val.BinaryOK()
	require.True(t, ok)
	assert.Len(t, data, 4*8)

	elementsVal, err := propsDoc.LookupErr("elements")
	require.NoError(t, err)
	_, _, ok = elementsVal.BinaryOK()
	assert.False(t, ok, "string array must not pack as binary")
}

// Documents written by Encode always carry a "byteorder" marker of "LE"
// or "BE" (never the old "little"), whichever this host happens to
// produce.
func TestEncodeWritesCanonicalByteorderMarker(t *testing.T) {
	chem := chemistryEntity(t)
	inst := newChemistryInstance(t, chem, []int{0, 1, 2, 3, 4})

	body, err := bsoncodec.Encode(inst, 0)
	require.NoError(t, err)

	marker, err := bsoncore.Document(body).LookupErr("byteorder")
	require.NoError(t, err)
	s, ok := marker.StringValueOK()
	require.True(t, ok)
	assert.Contains(t, []string{"LE", "BE"}, s)
}

// A document missing its "byteorder" marker altogether still decodes,
// defaulting to little-endian per §9 Open Question 1, rather than
// erroring out.
func TestDecodeDefaultsToLittleEndianWhenByteorderMissing(t *testing.T) {
	chem := chemistryEntity(t)
	inst, err := instance.New(chem, []int64{2, 0}, "http://example.com/0.1/NoMarker")
	require.NoError(t, err)
	require.NoError(t, inst.SetProperty(0, strVal("no marker")))
	require.NoError(t, inst.SetProperty(3, floatArray(1.5, -2.25)))

	body, err := bsoncodec.Encode(inst, 0)
	require.NoError(t, err)

	// Strip the byteorder field by re-assembling the document from every
	// other top-level element, which keeps the document valid.
	doc := bsoncore.Document(body)
	elems, err := doc.Elements()
	require.NoError(t, err)
	idx, dst := bsoncore.AppendDocumentStart(nil)
	for _, e := range elems {
		if e.Key() == "byteorder" {
			continue
		}
		dst = bsoncore.AppendValueElement(dst, e.Key(), e.Value())
	}
	stripped, err := bsoncore.AppendDocumentEnd(dst, idx)
	require.NoError(t, err)

	resolve := func(uri string) (*entity.Entity, error) { return chem, nil }
	got, err := bsoncodec.Decode(stripped, chem.URI(), resolve)
	require.NoError(t, err)

	x0, err := got.GetProperty(3)
	require.NoError(t, err)
	assertValueEqual(t, floatArray(1.5, -2.25), x0)
}

// A document whose declared byteorder disagrees with the host's must
// still decode its packed array cells correctly, byteswapping them.
func TestDecodeByteswapsPackedArrayWhenMarkerDisagreesWithHost(t *testing.T) {
	chem := chemistryEntity(t)
	inst, err := instance.New(chem, []int64{2, 0}, "http://example.com/0.1/Foreign")
	require.NoError(t, err)
	require.NoError(t, inst.SetProperty(3, floatArray(1.5, -2.25)))

	body, err := bsoncodec.Encode(inst, 0)
	require.NoError(t, err)
	hostMarker, err := bsoncore.Document(body).LookupErr("byteorder")
	require.NoError(t, err)
	hostOrder, _ := hostMarker.StringValueOK()
	foreign := "BE"
	if hostOrder == "BE" {
		foreign = "LE"
	}

	// Flip the marker and byte-reverse each packed float64 cell to
	// simulate a document genuinely written foreign-endian.
	doc := bsoncore.Document(body)
	propsVal, err := doc.LookupErr("properties")
	require.NoError(t, err)
	propsDoc, ok := propsVal.DocumentOK()
	require.True(t, ok)
	x0Val, err := propsDoc.LookupErr("X0")
	require.NoError(t, err)
	_, data, ok := x0Val.BinaryOK()
	require.True(t, ok)
	swapped := append([]byte(nil), data...)
	for i := 0; i < len(swapped); i += 8 {
		cell := swapped[i : i+8]
		for a, b := 0, 7; a < b; a, b = a+1, b-1 {
			cell[a], cell[b] = cell[b], cell[a]
		}
	}

	elems, err := doc.Elements()
	require.NoError(t, err)
	idx, dst := bsoncore.AppendDocumentStart(nil)
	for _, e := range elems {
		if e.Key() == "byteorder" {
			dst = bsoncore.AppendStringElement(dst, "byteorder", foreign)
			continue
		}
		if e.Key() != "properties" {
			dst = bsoncore.AppendValueElement(dst, e.Key(), e.Value())
			continue
		}
		pidx, pdst := bsoncore.AppendDocumentElementStart(dst, "properties")
		propElems, err := propsDoc.Elements()
		require.NoError(t, err)
		for _, pe := range propElems {
			if pe.Key() == "X0" {
				pdst = bsoncore.AppendBinaryElement(pdst, "X0", 0x00, swapped)
				continue
			}
			pdst = bsoncore.AppendValueElement(pdst, pe.Key(), pe.Value())
		}
		dst, err = bsoncore.AppendDocumentEnd(pdst, pidx)
		require.NoError(t, err)
	}
	flipped, err := bsoncore.AppendDocumentEnd(dst, idx)
	require.NoError(t, err)

	resolve := func(uri string) (*entity.Entity, error) { return chem, nil }
	got, err := bsoncodec.Decode(flipped, chem.URI(), resolve)
	require.NoError(t, err)

	x0, err := got.GetProperty(3)
	require.NoError(t, err)
	assertValueEqual(t, floatArray(1.5, -2.25), x0)
}

// Encoding an Entity's own structure via EncodeMeta uses array-of-record
// layout for dimensions/properties, mirroring jsoncodec's default
// metadata layout.
func TestEncodeMetaBodyUsesArrayLayout(t *testing.T) {
	chem := chemistryEntity(t)
	body, err := bsoncodec.EncodeMeta(chem, 0)
	require.NoError(t, err)

	doc := bsoncore.Document(body)
	dimsVal, err := doc.LookupErr("dimensions")
	require.NoError(t, err)
	dimsArr, ok := dimsVal.ArrayOK()
	require.True(t, ok)
	elems, err := dimsArr.Values()
	require.NoError(t, err)
	assert.Len(t, elems, 2)

	propsVal, err := doc.LookupErr("properties")
	require.NoError(t, err)
	propsArr, ok := propsVal.ArrayOK()
	require.True(t, ok)
	propElems, err := propsArr.Values()
	require.NoError(t, err)
	assert.Len(t, propElems, 5)
}
