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

package bsoncodec

import (
	"encoding/binary"
	"log/slog"
	"math"
	"strconv"
	"sync"

	"go.mongodb.org/mongo-driver/bson/bsoncore"

	"github.com/sintef/dlite-go/dliteerr"
	"github.com/sintef/dlite-go/dtype"
	"github.com/sintef/dlite-go/entity"
	"github.com/sintef/dlite-go/instance"
	"github.com/sintef/dlite-go/internal/dlog"
)

// MetaResolver looks up an entity by its meta uri (mirrors
// jsoncodec.MetaResolver; kept as a separate type so bsoncodec never
// imports package jsoncodec).
type MetaResolver func(metaURI string) (*entity.Entity, error)

var (
	loggerMu sync.Mutex
	logger   *slog.Logger
)

// SetLogger sets the logger Decode warns through when a document is
// missing its "byteorder" marker (§9 Open Question 1). Passing nil
// reverts to slog.Default (internal/dlog.Or's fallback).
func SetLogger(l *slog.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	logger = l
}

func currentLogger() *slog.Logger {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	return dlog.With(logger, "bsoncodec")
}

// Decode parses a single-instance data document written by Encode.
// Decoding a metadata (array-layout) document is not supported, for the
// same reason as jsoncodec.Decode: entity.New is the one true constructor
// for an entity.Entity's shape.
func Decode(src []byte, metaURI string, resolve MetaResolver) (*instance.Instance, error) {
	doc := bsoncore.Document(src)
	if err := doc.Validate(); err != nil {
		return nil, dliteerr.Wrap(dliteerr.Parse, err, "bsoncodec: decode: invalid document")
	}

	bo, err := documentByteorder(doc)
	if err != nil {
		return nil, err
	}

	id, err := lookupString(doc, "uri")
	if err != nil {
		return nil, err
	}
	if id == "" {
		id, err = lookupString(doc, "uuid")
		if err != nil {
			return nil, err
		}
	}
	if id == "" {
		return nil, dliteerr.New(dliteerr.Parse, "bsoncodec: decode: document has neither uri nor uuid")
	}

	m, err := lookupString(doc, "meta")
	if err != nil {
		return nil, err
	}
	if m != "" {
		metaURI = m
	}
	if metaURI == "" {
		return nil, dliteerr.New(dliteerr.MissingMetadata, "bsoncodec: decode: no meta uri in document or supplied by caller")
	}
	meta, err := resolve(metaURI)
	if err != nil {
		return nil, err
	}

	dimvalues, err := decodeDimensions(doc, meta)
	if err != nil {
		return nil, err
	}

	inst, err := instance.New(meta, dimvalues, id)
	if err != nil {
		return nil, err
	}

	propsVal, err := doc.LookupErr("properties")
	if err != nil {
		return inst, nil
	}
	propsDoc, ok := propsVal.DocumentOK()
	if !ok {
		return nil, dliteerr.New(dliteerr.Parse, "bsoncodec: decode: properties is not a document")
	}
	for i := 0; i < meta.NProperties(); i++ {
		name := meta.PropertyName(i)
		v, err := propsDoc.LookupErr(name)
		if err != nil {
			continue
		}
		val, err := decodeProperty(v, meta.PropertyType(i), len(meta.PropertyShape(i)) > 0, bo)
		if err != nil {
			return nil, dliteerr.Wrap(dliteerr.Parse, err, "bsoncodec: decode: property %q", name)
		}
		val, err = reconcileArrayShape(val, meta, i, dimvalues)
		if err != nil {
			return nil, dliteerr.Wrap(dliteerr.Parse, err, "bsoncodec: decode: property %q", name)
		}
		if err := inst.SetProperty(i, val); err != nil {
			return nil, err
		}
	}
	return inst, nil
}

// reconcileArrayShape applies dtype.NDCast when the wire array's actual
// element count doesn't match the element count the reader's own meta
// expects for this property's declared shape against dimvalues (§4.1
// ndcast), mirroring jsoncodec.reconcileArrayShape. Scalar properties
// and arrays that already match pass through untouched.
func reconcileArrayShape(v dtype.Value, meta instance.Meta, i int, dimvalues []int64) (dtype.Value, error) {
	shape := meta.PropertyShape(i)
	if len(shape) == 0 {
		return v, nil
	}
	want, err := shapeLength(meta, shape, dimvalues)
	if err != nil {
		return dtype.Value{}, err
	}
	have := int64(len(v.Array))
	if have == want {
		return v, nil
	}
	return dtype.NDCast(v, []int64{have}, []int64{want}, meta.PropertyType(i))
}

// shapeLength resolves a property's shape (dimension-name expressions)
// against dimvalues to the total element count it implies, mirroring
// instance.Instance.arrayLength's resolution rule.
func shapeLength(meta instance.Meta, shape []string, dimvalues []int64) (int64, error) {
	n := int64(1)
	for _, name := range shape {
		idx, ok := meta.DimensionIndex(name)
		if !ok {
			return 0, dliteerr.New(dliteerr.InvalidMetadata, "unknown dimension %q in property shape", name)
		}
		if idx < 0 || idx >= len(dimvalues) {
			return 0, dliteerr.New(dliteerr.Index, "dimension index %d out of range", idx)
		}
		n *= dimvalues[idx]
	}
	return n, nil
}

func decodeDimensions(doc bsoncore.Document, meta instance.Meta) ([]int64, error) {
	n := meta.NDimensions()
	if n == 0 {
		return nil, nil
	}
	vals := make([]int64, n)
	val, err := doc.LookupErr("dimensions")
	if err != nil {
		return vals, nil
	}
	dimsDoc, ok := val.DocumentOK()
	if !ok {
		return nil, dliteerr.New(dliteerr.Parse, "bsoncodec: decode: dimensions is not a document")
	}
	for i := 0; i < n; i++ {
		name := meta.DimensionName(i)
		dv, err := dimsDoc.LookupErr(name)
		if err != nil {
			continue
		}
		n64, ok := asInt64(dv)
		if !ok {
			return nil, dliteerr.New(dliteerr.Parse, "bsoncodec: decode: dimension %q is not numeric", name)
		}
		vals[i] = n64
	}
	return vals, nil
}

// decodeProperty dispatches to an array or scalar decode depending on the
// property's declared shape (not the wire value's own shape: a
// fixed-width array arrives as a packed Binary, indistinguishable from a
// Blob scalar by its BSON type alone). bo is the document's declared
// byteorder, applied only to packed array cells (bo is meaningless for
// ordinary BSON-native scalar/array values, which the driver already
// decodes itself).
func decodeProperty(v bsoncore.Value, elemType dtype.Type, isArray bool, bo binary.ByteOrder) (dtype.Value, error) {
	if !isArray {
		return decodeScalar(v, elemType)
	}
	if subtype, data, ok := v.BinaryOK(); ok {
		if subtype != binarySubtypeGeneric {
			return dtype.Value{}, dliteerr.New(dliteerr.Parse, "bsoncodec: decode: unexpected binary subtype %d", subtype)
		}
		return unpackFixedArray(data, elemType, bo)
	}
	arr, ok := v.ArrayOK()
	if !ok {
		return dtype.Value{}, dliteerr.New(dliteerr.Parse, "bsoncodec: decode: expected array or packed binary for %s", elemType.Name())
	}
	elems, err := arr.Values()
	if err != nil {
		return dtype.Value{}, dliteerr.Wrap(dliteerr.Parse, err, "bsoncodec: decode: array elements")
	}
	out := make([]dtype.Value, len(elems))
	for i, e := range elems {
		sv, err := decodeScalar(e, elemType)
		if err != nil {
			return dtype.Value{}, err
		}
		out[i] = sv
	}
	return dtype.Value{Type: elemType, Array: out}, nil
}

func unpackFixedArray(data []byte, elemType dtype.Type, bo binary.ByteOrder) (dtype.Value, error) {
	width := elemType.Size
	if elemType.Code == dtype.Bool {
		width = 1
	}
	if width <= 0 || len(data)%width != 0 {
		return dtype.Value{}, dliteerr.New(dliteerr.Parse, "bsoncodec: decode: malformed packed array for %s", elemType.Name())
	}
	n := len(data) / width
	arr := make([]dtype.Value, n)
	for i := 0; i < n; i++ {
		cell := data[i*width : (i+1)*width]
		v, err := unpackScalar(cell, elemType, bo)
		if err != nil {
			return dtype.Value{}, err
		}
		arr[i] = v
	}
	return dtype.Value{Type: elemType, Array: arr}, nil
}

func unpackScalar(b []byte, t dtype.Type, bo binary.ByteOrder) (dtype.Value, error) {
	switch t.Code {
	case dtype.Bool:
		return dtype.Value{Type: t, Bool: b[0] != 0}, nil
	case dtype.Int:
		return dtype.Value{Type: t, Int: int64(unpackUint(b, bo))}, nil
	case dtype.UInt:
		return dtype.Value{Type: t, Uint: unpackUint(b, bo)}, nil
	case dtype.Float:
		return dtype.Value{Type: t, Float: unpackFloat(b, bo)}, nil
	}
	return dtype.Value{}, dliteerr.New(dliteerr.Type, "bsoncodec: decode: %s cannot appear in a packed array", t.Name())
}

// unpackUint reads b as a fixed-width unsigned cell in the packed
// array's declared byteorder bo, which may disagree with the host's own
// order (documentByteorder resolves that disagreement up front).
func unpackUint(b []byte, bo binary.ByteOrder) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(bo.Uint16(b))
	case 4:
		return uint64(bo.Uint32(b))
	case 8:
		return bo.Uint64(b)
	}
	return 0
}

func unpackFloat(b []byte, bo binary.ByteOrder) float64 {
	switch len(b) {
	case 4:
		return float64(math.Float32frombits(bo.Uint32(b)))
	default:
		return math.Float64frombits(bo.Uint64(b[:8]))
	}
}

// documentByteorder resolves doc's declared array byteorder to a
// binary.ByteOrder for unpacking packed array cells (§9 Open Question
// 1). A document missing the "byteorder" field entirely is warned about
// and treated as "LE", matching Encode's marker for a little-endian
// host; any value other than "LE"/"BE" is a parse error.
func documentByteorder(doc bsoncore.Document) (binary.ByteOrder, error) {
	marker, err := lookupString(doc, "byteorder")
	if err != nil {
		return nil, err
	}
	if marker == "" {
		currentLogger().Warn("bsoncodec: decode: document has no byteorder marker, assuming LE")
		marker = "LE"
	}
	switch marker {
	case "LE":
		return binary.LittleEndian, nil
	case "BE":
		return binary.BigEndian, nil
	}
	return nil, dliteerr.New(dliteerr.Parse, "bsoncodec: decode: unknown byteorder marker %q", marker)
}

func decodeScalar(v bsoncore.Value, t dtype.Type) (dtype.Value, error) {
	switch t.Code {
	case dtype.Bool:
		b, ok := v.BooleanOK()
		if !ok {
			return dtype.Value{}, typeErr(t, v)
		}
		return dtype.Value{Type: t, Bool: b}, nil
	case dtype.Int:
		n, ok := asInt64(v)
		if !ok {
			return dtype.Value{}, typeErr(t, v)
		}
		return dtype.Value{Type: t, Int: n}, nil
	case dtype.UInt:
		n, ok := asInt64(v)
		if !ok {
			return dtype.Value{}, typeErr(t, v)
		}
		return dtype.Value{Type: t, Uint: uint64(n)}, nil
	case dtype.Float:
		if t.Size <= 8 {
			f, ok := v.DoubleOK()
			if !ok {
				return dtype.Value{}, typeErr(t, v)
			}
			return dtype.Value{Type: t, Float: f}, nil
		}
		d, ok := v.Decimal128OK()
		if !ok {
			return dtype.Value{}, typeErr(t, v)
		}
		f, err := strconv.ParseFloat(d.String(), 64)
		if err != nil {
			return dtype.Value{}, dliteerr.Wrap(dliteerr.Parse, err, "bsoncodec: decode: decimal128")
		}
		return dtype.Value{Type: t, Float: f}, nil
	case dtype.FixString, dtype.StringPtr:
		s, ok := v.StringValueOK()
		if !ok {
			return dtype.Value{}, typeErr(t, v)
		}
		return dtype.Value{Type: t, Bytes: []byte(s)}, nil
	case dtype.Ref:
		s, ok := v.StringValueOK()
		if !ok {
			return dtype.Value{}, typeErr(t, v)
		}
		return dtype.Value{Type: t, Ref: s}, nil
	case dtype.Blob:
		subtype, data, ok := v.BinaryOK()
		if !ok || subtype != binarySubtypeGeneric {
			return dtype.Value{}, typeErr(t, v)
		}
		return dtype.Value{Type: t, Bytes: append([]byte(nil), data...)}, nil
	}
	return dtype.Value{}, dliteerr.New(dliteerr.Unsupported, "bsoncodec: decode: composite type %s not supported by Decode", t.Name())
}

// asInt64 widens whichever BSON numeric representation v holds
// (int32/int64/double) to int64, since a dimension or Int/UInt property
// may have been written as any of them.
func asInt64(v bsoncore.Value) (int64, bool) {
	if n, ok := v.Int64OK(); ok {
		return n, true
	}
	if n, ok := v.Int32OK(); ok {
		return int64(n), true
	}
	if f, ok := v.DoubleOK(); ok {
		return int64(f), true
	}
	return 0, false
}

func typeErr(t dtype.Type, v bsoncore.Value) error {
	return dliteerr.New(dliteerr.Parse, "bsoncodec: decode: value for %s has unexpected bson type %s", t.Name(), v.Type)
}

func lookupString(doc bsoncore.Document, key string) (string, error) {
	v, err := doc.LookupErr(key)
	if err != nil {
		return "", nil
	}
	s, ok := v.StringValueOK()
	if !ok {
		return "", dliteerr.New(dliteerr.Parse, "bsoncodec: decode: field %q is not a string", key)
	}
	return s, nil
}
