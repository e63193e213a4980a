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
	"encoding/binary"
	"encoding/hex"
	"hash"
	"math"
	"strconv"
	"strings"

	"github.com/sintef/dlite-go/dliteerr"
)

// Composite is implemented by the structural composite types
// (Dimension, Property, Relation — §3.3) so that dtype can print, scan
// and hash them without importing the package that defines their Go
// struct shape (which itself needs to import dtype for Property.Type).
type Composite interface {
	// Fields returns the composite's fields in declaration order. An
	// absent optional field is omitted entirely, never represented with
	// a sentinel, per §4.1's canonical SHA-3 feed rule.
	Fields() []CompositeField
	// TypeName is the composite's canonical type name ("dimension",
	// "property" or "relation").
	TypeName() string
}

// CompositeField is one named field of a Composite value.
type CompositeField struct {
	Name  string
	Value Value
}

// Value is a single decoded property value: a tagged union discriminated
// by Type.Code. Exactly one of the typed fields is meaningful for a given
// Code; Array holds the flattened element values when the originating
// property is array-shaped (ndims>0).
type Value struct {
	Type  Type
	Bool  bool
	Int   int64
	Uint  uint64
	Float float64
	Bytes []byte // Blob content or FixString/StringPtr text (UTF-8, no terminator)
	Ref   string // uuid or uri of the referenced instance
	Comp  Composite
	Array []Value
}

// QuoteFlag controls whether Print/Scan surround strings and blobs with
// double quotes.
type QuoteFlag bool

const (
	Quoted   QuoteFlag = true
	Unquoted QuoteFlag = false
)

// Print writes v's JSON-compatible textual form, per §4.1. Composites
// emit `{"field": value, ...}` objects in declaration order; this is the
// single source of truth that the JSON codec's soft7 writer also calls
// into for scalar and blob values.
func Print(v Value, quoted QuoteFlag) (string, error) {
	switch v.Type.Code {
	case Bool:
		if v.Bool {
			return "true", nil
		}
		return "false", nil
	case Int:
		return strconv.FormatInt(v.Int, 10), nil
	case UInt:
		return strconv.FormatUint(v.Uint, 10), nil
	case Float:
		return strconv.FormatFloat(v.Float, 'g', -1, 64), nil
	case Blob:
		s := hex.EncodeToString(v.Bytes)
		if quoted {
			return `"` + s + `"`, nil
		}
		return s, nil
	case FixString, StringPtr:
		s := string(v.Bytes)
		if quoted {
			return strconv.Quote(s), nil
		}
		return s, nil
	case Ref:
		if quoted {
			return strconv.Quote(v.Ref), nil
		}
		return v.Ref, nil
	case DimensionT, PropertyT, RelationT:
		return printComposite(v.Comp, quoted)
	default:
		return "", dliteerr.New(dliteerr.Type, "print: unknown type code %d", v.Type.Code)
	}
}

func printComposite(c Composite, quoted QuoteFlag) (string, error) {
	if c == nil {
		return "null", nil
	}
	var b strings.Builder
	b.WriteByte('{')
	for i, f := range c.Fields() {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(f.Name))
		b.WriteByte(':')
		s, err := Print(f.Value, Quoted)
		if err != nil {
			return "", err
		}
		b.WriteString(s)
	}
	b.WriteByte('}')
	return b.String(), nil
}

// Scan parses src into a Value of type t, the inverse of Print. It
// returns a typed error (dliteerr.Syntax) on malformed input.
func Scan(t Type, src string, quoted QuoteFlag) (Value, error) {
	switch t.Code {
	case Bool:
		switch src {
		case "true":
			return Value{Type: t, Bool: true}, nil
		case "false":
			return Value{Type: t, Bool: false}, nil
		default:
			return Value{}, dliteerr.New(dliteerr.Syntax, "invalid bool literal: %q", src)
		}
	case Int:
		n, err := strconv.ParseInt(src, 10, t.Size*8)
		if err != nil {
			return Value{}, dliteerr.Wrap(dliteerr.Syntax, err, "invalid int literal: %q", src)
		}
		return Value{Type: t, Int: n}, nil
	case UInt:
		n, err := strconv.ParseUint(src, 10, t.Size*8)
		if err != nil {
			return Value{}, dliteerr.Wrap(dliteerr.Syntax, err, "invalid uint literal: %q", src)
		}
		return Value{Type: t, Uint: n}, nil
	case Float:
		f, err := strconv.ParseFloat(src, 64)
		if err != nil {
			return Value{}, dliteerr.Wrap(dliteerr.Syntax, err, "invalid float literal: %q", src)
		}
		return Value{Type: t, Float: f}, nil
	case Blob:
		s := unquoteIfNeeded(src, quoted)
		b, err := hex.DecodeString(s)
		if err != nil {
			return Value{}, dliteerr.Wrap(dliteerr.Syntax, err, "invalid blob literal: %q", src)
		}
		return Value{Type: t, Bytes: b}, nil
	case FixString, StringPtr:
		s := src
		if quoted {
			unq, err := strconv.Unquote(src)
			if err != nil {
				return Value{}, dliteerr.Wrap(dliteerr.Syntax, err, "invalid string literal: %q", src)
			}
			s = unq
		}
		return Value{Type: t, Bytes: []byte(s)}, nil
	case Ref:
		s := unquoteIfNeeded(src, quoted)
		return Value{Type: t, Ref: s}, nil
	default:
		return Value{}, dliteerr.New(dliteerr.Unsupported, "scan: composite type %s must be scanned via its own constructor", t.Name())
	}
}

func unquoteIfNeeded(src string, quoted QuoteFlag) string {
	if quoted && strings.HasPrefix(src, `"`) {
		if unq, err := strconv.Unquote(src); err == nil {
			return unq
		}
	}
	return src
}

// Cast performs a value-preserving cast of v to type dst. Numeric
// widenings are exact; narrowings follow C-style truncation;
// string-to-number parses; number-to-string uses Print's shortest
// round-trip formatting (§4.1).
func Cast(v Value, dst Type) (Value, error) {
	if v.Type.Code == dst.Code && v.Type.Size == dst.Size && v.Type.RefTarget == dst.RefTarget {
		return v, nil
	}
	switch dst.Code {
	case Int:
		n, err := toInt64(v)
		if err != nil {
			return Value{}, err
		}
		return Value{Type: dst, Int: truncateInt(n, dst.Size)}, nil
	case UInt:
		n, err := toUint64(v)
		if err != nil {
			return Value{}, err
		}
		return Value{Type: dst, Uint: truncateUint(n, dst.Size)}, nil
	case Float:
		f, err := toFloat64(v)
		if err != nil {
			return Value{}, err
		}
		return Value{Type: dst, Float: f}, nil
	case Bool:
		switch v.Type.Code {
		case Int:
			return Value{Type: dst, Bool: v.Int != 0}, nil
		case UInt:
			return Value{Type: dst, Bool: v.Uint != 0}, nil
		case Float:
			return Value{Type: dst, Bool: v.Float != 0}, nil
		case Bool:
			return Value{Type: dst, Bool: v.Bool}, nil
		}
	case FixString, StringPtr:
		s, err := Print(v, Unquoted)
		if err != nil {
			return Value{}, err
		}
		b := []byte(s)
		if dst.Code == FixString && dst.Size > 0 && len(b) > dst.Size-1 {
			b = b[:dst.Size-1]
		}
		return Value{Type: dst, Bytes: b}, nil
	}
	return Value{}, dliteerr.New(dliteerr.Type, "cannot cast %s to %s", v.Type.Name(), dst.Name())
}

// NDCast reshapes a flattened array value from its writer's row-major
// extents (srcShape) onto a reader's declared extents (dstShape),
// casting each retained element to dst via Cast (§4.1 ndcast). The two
// shapes must share a rank (one extent per dimension); per dimension, a
// reader extent shorter than the writer's truncates, and one longer
// zero-pads with dst-typed zero values, mirroring a strided reslice of
// one n-dimensional array into another rather than a flat
// truncate-or-pad of the element list — two writer rows reshaped onto
// three reader rows stay aligned row-by-row instead of sliding element
// N of row 1 into row 2.
func NDCast(v Value, srcShape, dstShape []int64, dst Type) (Value, error) {
	if len(srcShape) != len(dstShape) {
		return Value{}, dliteerr.New(dliteerr.Value, "ndcast: rank mismatch: writer has %d dimensions, reader has %d", len(srcShape), len(dstShape))
	}
	srcStrides := rowMajorStrides(srcShape)
	dstStrides := rowMajorStrides(dstShape)

	dstTotal := 1
	for _, n := range dstShape {
		dstTotal *= int(n)
	}
	out := make([]Value, dstTotal)
	idx := make([]int64, len(dstShape))
	for flat := 0; flat < dstTotal; flat++ {
		unflattenInto(idx, dstStrides, flat)

		inBounds := true
		for d, i := range idx {
			if i >= srcShape[d] {
				inBounds = false
				break
			}
		}
		if !inBounds {
			out[flat] = Value{Type: dst}
			continue
		}

		srcFlat := 0
		for d, i := range idx {
			srcFlat += int(i) * int(srcStrides[d])
		}
		if srcFlat < 0 || srcFlat >= len(v.Array) {
			out[flat] = Value{Type: dst}
			continue
		}
		cast, err := Cast(v.Array[srcFlat], dst)
		if err != nil {
			return Value{}, err
		}
		out[flat] = cast
	}
	return Value{Type: dst, Array: out}, nil
}

// rowMajorStrides returns, for each dimension of shape, the number of
// flat elements one step in that dimension advances — the last
// dimension is fastest-varying (row-major, C order).
func rowMajorStrides(shape []int64) []int64 {
	strides := make([]int64, len(shape))
	acc := int64(1)
	for d := len(shape) - 1; d >= 0; d-- {
		strides[d] = acc
		acc *= shape[d]
	}
	return strides
}

// unflattenInto writes flat's per-dimension multi-index (given strides)
// into idx.
func unflattenInto(idx, strides []int64, flat int) {
	rem := int64(flat)
	for d, s := range strides {
		if s == 0 {
			idx[d] = 0
			continue
		}
		idx[d] = rem / s
		rem %= s
	}
}

func toInt64(v Value) (int64, error) {
	switch v.Type.Code {
	case Int:
		return v.Int, nil
	case UInt:
		return int64(v.Uint), nil
	case Float:
		return int64(v.Float), nil
	case Bool:
		if v.Bool {
			return 1, nil
		}
		return 0, nil
	case FixString, StringPtr:
		n, err := strconv.ParseInt(strings.TrimRight(string(v.Bytes), "\x00"), 10, 64)
		if err != nil {
			return 0, dliteerr.Wrap(dliteerr.Syntax, err, "cannot parse %q as int", v.Bytes)
		}
		return n, nil
	}
	return 0, dliteerr.New(dliteerr.Type, "cannot cast %s to int", v.Type.Name())
}

func toUint64(v Value) (uint64, error) {
	switch v.Type.Code {
	case UInt:
		return v.Uint, nil
	case Int:
		return uint64(v.Int), nil
	case Float:
		return uint64(v.Float), nil
	case Bool:
		if v.Bool {
			return 1, nil
		}
		return 0, nil
	case FixString, StringPtr:
		n, err := strconv.ParseUint(strings.TrimRight(string(v.Bytes), "\x00"), 10, 64)
		if err != nil {
			return 0, dliteerr.Wrap(dliteerr.Syntax, err, "cannot parse %q as uint", v.Bytes)
		}
		return n, nil
	}
	return 0, dliteerr.New(dliteerr.Type, "cannot cast %s to uint", v.Type.Name())
}

func toFloat64(v Value) (float64, error) {
	switch v.Type.Code {
	case Float:
		return v.Float, nil
	case Int:
		return float64(v.Int), nil
	case UInt:
		return float64(v.Uint), nil
	case Bool:
		if v.Bool {
			return 1, nil
		}
		return 0, nil
	case FixString, StringPtr:
		f, err := strconv.ParseFloat(strings.TrimRight(string(v.Bytes), "\x00"), 64)
		if err != nil {
			return 0, dliteerr.Wrap(dliteerr.Syntax, err, "cannot parse %q as float", v.Bytes)
		}
		return f, nil
	}
	return 0, dliteerr.New(dliteerr.Type, "cannot cast %s to float", v.Type.Name())
}

func truncateInt(n int64, size int) int64 {
	switch size {
	case 1:
		return int64(int8(n))
	case 2:
		return int64(int16(n))
	case 4:
		return int64(int32(n))
	default:
		return n
	}
}

func truncateUint(n uint64, size int) uint64 {
	switch size {
	case 1:
		return uint64(uint8(n))
	case 2:
		return uint64(uint16(n))
	case 4:
		return uint64(uint32(n))
	default:
		return n
	}
}

// UpdateSHA3 feeds v's canonical byte sequence into h (§4.1): Bool is one
// byte 0/1; ints/floats are little-endian bytes of the declared width;
// FixString/StringPtr are UTF-8 bytes without a terminator; composites
// feed each field in declaration order, skipping absent optional fields;
// an array-shaped value (Array != nil, e.g. a property's shape list or
// any array-shaped property) feeds each element in order instead of its
// own (empty) scalar fields.
func UpdateSHA3(h hash.Hash, v Value) error {
	if v.Array != nil {
		for _, elem := range v.Array {
			if err := UpdateSHA3(h, elem); err != nil {
				return err
			}
		}
		return nil
	}
	switch v.Type.Code {
	case Bool:
		if v.Bool {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{0})
		}
	case Int:
		h.Write(leBytes(uint64(v.Int), v.Type.Size))
	case UInt:
		h.Write(leBytes(v.Uint, v.Type.Size))
	case Float:
		h.Write(leFloatBytes(v.Float, v.Type.Size))
	case Blob, FixString, StringPtr:
		h.Write(v.Bytes)
	case Ref:
		h.Write([]byte(v.Ref))
	case DimensionT, PropertyT, RelationT:
		if v.Comp == nil {
			return nil
		}
		for _, f := range v.Comp.Fields() {
			if err := UpdateSHA3(h, f.Value); err != nil {
				return err
			}
		}
	default:
		return dliteerr.New(dliteerr.Type, "update_sha3: unknown type code %d", v.Type.Code)
	}
	return nil
}

func leBytes(v uint64, size int) []byte {
	buf := make([]byte, size)
	switch size {
	case 1:
		buf[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(buf, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(buf, v)
	}
	return buf
}

func leFloatBytes(f float64, size int) []byte {
	switch size {
	case 4:
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(f)))
		return buf
	case 8:
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, math.Float64bits(f))
		return buf
	default:
		// 80/96/128-bit extended precision has no native Go
		// representation; the canonical feed widens through float64
		// and zero-pads; there is no software extended-precision
		// implementation.
		buf := make([]byte, size)
		binary.LittleEndian.PutUint64(buf, math.Float64bits(f))
		return buf
	}
}
