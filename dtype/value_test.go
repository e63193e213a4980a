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

package dtype

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/sha3"
)

// S3 from spec §8.
func TestScanFloat64(t *testing.T) {
	v, err := Scan(Type{Code: Float, Size: 8}, "3.14", Unquoted)
	require.NoError(t, err)
	assert.Equal(t, 3.14, v.Float)
}

// fakeRecord stands in for Dimension/Property/Relation: a composite whose
// "unit" field is only present when set, exercising the same
// present-or-absent shape without importing package metadata (which
// imports dtype itself).
type fakeRecord struct {
	name string
	unit string
}

func (r fakeRecord) Fields() []CompositeField {
	fields := []CompositeField{
		{Name: "name", Value: Value{Type: Type{Code: StringPtr}, Bytes: []byte(r.name)}},
	}
	if r.unit != "" {
		fields = append(fields, CompositeField{Name: "unit", Value: Value{Type: Type{Code: StringPtr}, Bytes: []byte(r.unit)}})
	}
	return fields
}

func (fakeRecord) TypeName() string { return "fakeRecord" }

// Universal invariant 7 from spec §8: the canonical feed skips an absent
// optional field rather than writing a sentinel for it, so a composite
// with the field absent hashes differently from one with it present, and
// hashing the absent-field composite again gives the same digest.
func TestUpdateSHA3SkipsAbsentOptionalFields(t *testing.T) {
	withUnit := fakeRecord{name: "X0", unit: "kg"}
	withoutUnit := fakeRecord{name: "X0"}

	h1 := sha3.New256()
	require.NoError(t, UpdateSHA3(h1, Value{Type: Type{Code: PropertyT}, Comp: withUnit}))

	h2 := sha3.New256()
	require.NoError(t, UpdateSHA3(h2, Value{Type: Type{Code: PropertyT}, Comp: withoutUnit}))

	assert.NotEqual(t, h1.Sum(nil), h2.Sum(nil), "present vs. absent optional field must feed different bytes")

	// Re-feeding the same absent-unit composite twice is deterministic:
	// no sentinel byte sneaks in for the missing field on either pass.
	h3 := sha3.New256()
	require.NoError(t, UpdateSHA3(h3, Value{Type: Type{Code: PropertyT}, Comp: withoutUnit}))
	assert.Equal(t, h2.Sum(nil), h3.Sum(nil))
}

// An array-shaped value feeds its elements, not its own (empty) scalar
// fields — otherwise two properties with different shape dimensions
// would hash identically.
func TestUpdateSHA3FeedsArrayElements(t *testing.T) {
	els := func(vals ...string) Value {
		arr := make([]Value, len(vals))
		for i, s := range vals {
			arr[i] = Value{Type: Type{Code: StringPtr}, Bytes: []byte(s)}
		}
		return Value{Type: Type{Code: StringPtr}, Array: arr}
	}

	h1 := sha3.New256()
	require.NoError(t, UpdateSHA3(h1, els("nelements")))

	h2 := sha3.New256()
	require.NoError(t, UpdateSHA3(h2, els("nphases")))

	assert.NotEqual(t, h1.Sum(nil), h2.Sum(nil), "different array contents must hash differently")
}

func TestScanBool(t *testing.T) {
	v, err := Scan(Type{Code: Bool}, "true", Unquoted)
	require.NoError(t, err)
	assert.True(t, v.Bool)
}

func TestScanQuotedBlob(t *testing.T) {
	v, err := Scan(Type{Code: Blob, Size: 4}, `"ff0a1008"`, Quoted)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0x0a, 0x10, 0x08}, v.Bytes)
}

func TestPrintScanRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		typ  Type
		val  Value
	}{
		{"int32", Type{Code: Int, Size: 4}, Value{Type: Type{Code: Int, Size: 4}, Int: -42}},
		{"uint64", Type{Code: UInt, Size: 8}, Value{Type: Type{Code: UInt, Size: 8}, Uint: 9999999999}},
		{"float64", Type{Code: Float, Size: 8}, Value{Type: Type{Code: Float, Size: 8}, Float: 0.0003}},
		{"string", Type{Code: StringPtr}, Value{Type: Type{Code: StringPtr}, Bytes: []byte("Sample alloy")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := Print(tc.val, Quoted)
			require.NoError(t, err)
			got, err := Scan(tc.typ, s, Quoted)
			require.NoError(t, err)
			assert.Equal(t, tc.val, got)
		})
	}
}

func TestCastNarrowingTruncates(t *testing.T) {
	v := Value{Type: Type{Code: Int, Size: 4}, Int: 300}
	got, err := Cast(v, Type{Code: Int, Size: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(44), got.Int) // 300 truncated to int8 = 44
}

func TestCastNumberToString(t *testing.T) {
	v := Value{Type: Type{Code: Float, Size: 8}, Float: 1.5}
	got, err := Cast(v, Type{Code: StringPtr})
	require.NoError(t, err)
	assert.Equal(t, "1.5", string(got.Bytes))
}

func TestCastStringToNumber(t *testing.T) {
	v := Value{Type: Type{Code: StringPtr}, Bytes: []byte("42")}
	got, err := Cast(v, Type{Code: Int, Size: 8})
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.Int)
}

func TestNameAndParseNameRoundTrip(t *testing.T) {
	cases := []Type{
		{Code: Blob, Size: 4},
		{Code: Bool},
		{Code: Int, Size: 8},
		{Code: UInt, Size: 2},
		{Code: Float, Size: 8},
		{Code: FixString, Size: 10},
		{Code: StringPtr},
		{Code: Ref},
		{Code: DimensionT},
		{Code: PropertyT},
		{Code: RelationT},
	}
	for _, tc := range cases {
		name := tc.Name()
		got, err := ParseName(name)
		require.NoError(t, err, name)
		assert.Equal(t, tc, got, name)
	}
}

func TestParseNameTypedRef(t *testing.T) {
	got, err := ParseName("http://www.sintef.no/calm/0.1/Chemistry")
	require.NoError(t, err)
	assert.Equal(t, Ref, got.Code)
	assert.Equal(t, "http://www.sintef.no/calm/0.1/Chemistry", got.RefTarget)
}

func TestParseNameRejectsGarbage(t *testing.T) {
	_, err := ParseName("not a type")
	assert.Error(t, err)
}

func TestLayoutAndPadding(t *testing.T) {
	size, align, err := Type{Code: Int, Size: 8}.Layout()
	require.NoError(t, err)
	assert.Equal(t, 8, size)
	assert.Equal(t, 8, align)

	pad, err := PaddingAt(Type{Code: Int, Size: 8}, 1)
	require.NoError(t, err)
	assert.Equal(t, 7, pad)
}

func intVal(n int64) Value { return Value{Type: Type{Code: Int, Size: 8}, Int: n} }

// A reader's extra capacity over the writer's zero-pads rather than
// repeating or misaligning existing elements (§4.1 ndcast).
func TestNDCastPadsWhenReaderShapeIsLarger(t *testing.T) {
	src := Value{Type: Type{Code: Int, Size: 8}, Array: []Value{intVal(1), intVal(2), intVal(3)}}
	got, err := NDCast(src, []int64{3}, []int64{5}, Type{Code: Int, Size: 8})
	require.NoError(t, err)
	require.Len(t, got.Array, 5)
	for i, want := range []int64{1, 2, 3, 0, 0} {
		assert.Equal(t, want, got.Array[i].Int)
	}
}

// A reader with less capacity than the writer truncates.
func TestNDCastTruncatesWhenReaderShapeIsSmaller(t *testing.T) {
	src := Value{Type: Type{Code: Int, Size: 8}, Array: []Value{intVal(1), intVal(2), intVal(3)}}
	got, err := NDCast(src, []int64{3}, []int64{2}, Type{Code: Int, Size: 8})
	require.NoError(t, err)
	require.Len(t, got.Array, 2)
	assert.Equal(t, int64(1), got.Array[0].Int)
	assert.Equal(t, int64(2), got.Array[1].Int)
}

// NDCast remaps row-by-row for a genuinely two-dimensional shape change,
// rather than sliding elements across row boundaries the way a flat
// truncate-or-pad would.
func TestNDCastReshapesRowMajorTwoDimensional(t *testing.T) {
	// writer: 2 rows x 2 cols = [[1,2],[3,4]] flattened to [1,2,3,4]
	src := Value{Type: Type{Code: Int, Size: 8}, Array: []Value{intVal(1), intVal(2), intVal(3), intVal(4)}}
	// reader: 3 rows x 2 cols — row 2 (index 2) is new, zero-padded
	got, err := NDCast(src, []int64{2, 2}, []int64{3, 2}, Type{Code: Int, Size: 8})
	require.NoError(t, err)
	require.Len(t, got.Array, 6)
	for i, want := range []int64{1, 2, 3, 4, 0, 0} {
		assert.Equal(t, want, got.Array[i].Int)
	}
}

// Elements are cast to the destination type as they're remapped, not
// just reshaped, since a reader's shape change can accompany a type
// change across schema revisions.
func TestNDCastCastsElementType(t *testing.T) {
	src := Value{Type: Type{Code: Int, Size: 8}, Array: []Value{intVal(1), intVal(2)}}
	got, err := NDCast(src, []int64{2}, []int64{2}, Type{Code: Float, Size: 8})
	require.NoError(t, err)
	require.Len(t, got.Array, 2)
	assert.Equal(t, Float, got.Array[0].Type.Code)
	assert.Equal(t, 1.0, got.Array[0].Float)
	assert.Equal(t, 2.0, got.Array[1].Float)
}

func TestNDCastRejectsRankMismatch(t *testing.T) {
	src := Value{Type: Type{Code: Int, Size: 8}, Array: []Value{intVal(1)}}
	_, err := NDCast(src, []int64{1}, []int64{1, 1}, Type{Code: Int, Size: 8})
	assert.Error(t, err)
}
