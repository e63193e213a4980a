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

// Package bsoncodec implements the byte-stable BSON codec (§4.6): an
// explicit "byteorder" marker recording the writer's native order, a
// fixed scalar-type mapping table, and raw host-order array blobs for
// fixed-width element types (bool/int/uint/float) instead of a BSON
// array-of-elements, mirroring how the original implementation mmaps its
// array properties directly as host-endian memory. A reader decodes
// packed cells according to the document's own marker, byteswapping when
// it disagrees with the reader's host order, and warns and assumes "LE"
// when the marker is absent altogether (§9 Open Question 1).
//
// Grounded on §4.6 and on original_source/src/dlite-bson.c/.h's two-pass
// size-then-fill construction and explicit sub-document begin/end, which
// bsoncore.AppendDocumentStart/AppendDocumentEnd already implement (they
// reserve a four-byte length prefix and patch it on End).
package bsoncodec

import (
	"encoding/binary"
	"math"
	"strconv"

	"go.mongodb.org/mongo-driver/bson/bsoncore"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/sintef/dlite-go/dliteerr"
	"github.com/sintef/dlite-go/dtype"
	"github.com/sintef/dlite-go/entity"
	"github.com/sintef/dlite-go/instance"
)

// WriteOption is one bit of bsoncodec's write options, the BSON analogue
// of jsoncodec.WriteOption's WithUuid/WithMeta bits (Single/UriKey
// don't apply here: a BSON document is always single-instance, and a
// multi-instance container is a storage-driver concern, not a codec one).
type WriteOption uint8

const (
	// WithUuid includes the uuid field even when uri is also present.
	WithUuid WriteOption = 1 << iota
	// WithMeta embeds the instance's meta uri in the document.
	WithMeta
)

// Has reports whether opts includes flag.
func (opts WriteOption) Has(flag WriteOption) bool { return opts&flag != 0 }

// hostByteorder is "LE" or "BE" depending on the running host's native
// byte order — the same runtime check dlite-bson.c does by reinterpreting
// a uint32 as bytes, expressed via encoding/binary.NativeEndian instead.
var hostByteorder = func() string {
	var probe [4]byte
	binary.NativeEndian.PutUint32(probe[:], 0x01020304)
	if probe[0] == 0x04 {
		return "LE"
	}
	return "BE"
}()

// binarySubtypeGeneric is BSON binary subtype 0x00 ("Generic binary
// subtype"), used for both Blob scalars and packed fixed-width array
// blobs.
const binarySubtypeGeneric = 0x00

// Encode writes a single-instance BSON document for a data instance
// (§4.6); properties encode as a document keyed by name. Encoding
// metadata (an Entity's own structure) goes through EncodeMeta instead —
// see jsoncodec.Encode's doc comment for why dispatch cannot be inferred
// from a bare *instance.Instance.
func Encode(inst *instance.Instance, opts WriteOption) ([]byte, error) {
	idx, dst := bsoncore.AppendDocumentStart(nil)
	dst, err := encodeHeader(dst, inst, opts)
	if err != nil {
		return nil, err
	}
	ent, hasMeta := metaOf(inst)
	dst, err = encodeDataBody(dst, inst, ent, hasMeta)
	if err != nil {
		return nil, err
	}
	return bsoncore.AppendDocumentEnd(dst, idx)
}

// EncodeMeta writes a single-instance BSON metadata document for e itself:
// array-of-record layout for dimensions/properties/relations, matching
// jsoncodec.EncodeMeta's default layout.
func EncodeMeta(e *entity.Entity, opts WriteOption) ([]byte, error) {
	idx, dst := bsoncore.AppendDocumentStart(nil)
	dst, err := encodeHeader(dst, &e.Instance, opts)
	if err != nil {
		return nil, err
	}
	dst, err = encodeMetaBody(dst, e)
	if err != nil {
		return nil, err
	}
	return bsoncore.AppendDocumentEnd(dst, idx)
}

func encodeHeader(dst []byte, inst *instance.Instance, opts WriteOption) ([]byte, error) {
	dst = bsoncore.AppendStringElement(dst, "byteorder", hostByteorder)

	if inst.URI() != "" {
		dst = bsoncore.AppendStringElement(dst, "uri", inst.URI())
		if opts.Has(WithUuid) {
			dst = bsoncore.AppendStringElement(dst, "uuid", inst.UUID())
		}
	} else {
		dst = bsoncore.AppendStringElement(dst, "uuid", inst.UUID())
	}

	if ent, hasMeta := metaOf(inst); opts.Has(WithMeta) && hasMeta {
		dst = bsoncore.AppendStringElement(dst, "meta", ent.URI())
	}

	if p := inst.Parent(); p != nil {
		pidx, pdst := bsoncore.AppendDocumentElementStart(dst, "parent")
		pdst = bsoncore.AppendStringElement(pdst, "uuid", p.UUID)
		pdst = bsoncore.AppendBinaryElement(pdst, "hash", binarySubtypeGeneric, p.Hash[:])
		var err error
		dst, err = bsoncore.AppendDocumentEnd(pdst, pidx)
		if err != nil {
			return nil, dliteerr.Wrap(dliteerr.Serialise, err, "bsoncodec: encode parent")
		}
	}
	return dst, nil
}

// metaOf extracts the *entity.Entity inst is described by; every Meta in
// this runtime is concretely an *entity.Entity (see jsoncodec.metaOf).
func metaOf(inst *instance.Instance) (*entity.Entity, bool) {
	m := inst.Meta()
	if m == nil {
		return nil, false
	}
	e, ok := m.(*entity.Entity)
	return e, ok
}

func encodeDataBody(dst []byte, inst *instance.Instance, meta *entity.Entity, hasMeta bool) ([]byte, error) {
	if hasMeta && len(inst.Dimensions()) > 0 {
		didx, ddst := bsoncore.AppendDocumentElementStart(dst, "dimensions")
		for i, v := range inst.Dimensions() {
			ddst = bsoncore.AppendInt64Element(ddst, meta.DimensionName(i), v)
		}
		var err error
		dst, err = bsoncore.AppendDocumentEnd(ddst, didx)
		if err != nil {
			return nil, dliteerr.Wrap(dliteerr.Serialise, err, "bsoncodec: encode dimensions")
		}
	}

	pidx, pdst := bsoncore.AppendDocumentElementStart(dst, "properties")
	for i := 0; i < inst.NProperties(); i++ {
		name := strconv.Itoa(i)
		if hasMeta {
			name = meta.PropertyName(i)
		}
		v, err := inst.GetProperty(i)
		if err != nil {
			return nil, err
		}
		pdst, err = encodeValue(pdst, name, v)
		if err != nil {
			return nil, err
		}
	}
	out, err := bsoncore.AppendDocumentEnd(pdst, pidx)
	if err != nil {
		return nil, dliteerr.Wrap(dliteerr.Serialise, err, "bsoncodec: encode properties")
	}
	return out, nil
}

func encodeMetaBody(dst []byte, e *entity.Entity) ([]byte, error) {
	dst = bsoncore.AppendStringElement(dst, "uri", e.URI())
	if e.Description() != "" {
		dst = bsoncore.AppendStringElement(dst, "description", e.Description())
	}

	didx, ddst := bsoncore.AppendArrayElementStart(dst, "dimensions")
	for i, d := range e.Dimensions() {
		var err error
		ddst, err = encodeComposite(ddst, strconv.Itoa(i), d)
		if err != nil {
			return nil, err
		}
	}
	var err error
	dst, err = bsoncore.AppendArrayEnd(ddst, didx)
	if err != nil {
		return nil, dliteerr.Wrap(dliteerr.Serialise, err, "bsoncodec: encode dimensions array")
	}

	pidx, pdst := bsoncore.AppendArrayElementStart(dst, "properties")
	for i, p := range e.Properties() {
		pdst, err = encodeComposite(pdst, strconv.Itoa(i), p)
		if err != nil {
			return nil, err
		}
	}
	dst, err = bsoncore.AppendArrayEnd(pdst, pidx)
	if err != nil {
		return nil, dliteerr.Wrap(dliteerr.Serialise, err, "bsoncodec: encode properties array")
	}

	if rels := e.Relations(); len(rels) > 0 {
		ridx, rdst := bsoncore.AppendArrayElementStart(dst, "relations")
		for i, r := range rels {
			rdst, err = encodeComposite(rdst, strconv.Itoa(i), r)
			if err != nil {
				return nil, err
			}
		}
		dst, err = bsoncore.AppendArrayEnd(rdst, ridx)
		if err != nil {
			return nil, dliteerr.Wrap(dliteerr.Serialise, err, "bsoncodec: encode relations array")
		}
	}
	return dst, nil
}

// encodeValue writes v under key. Array-shaped values of a fixed-width
// scalar element type (bool/int/uint/float) pack into a single Binary
// element of raw host-order cells rather than a BSON array of elements —
// the "raw host-endian array blobs" optimisation (§4.6) that mirrors the
// original's mmap'd arrays; every other element type falls back to an
// ordinary BSON array.
func encodeValue(dst []byte, key string, v dtype.Value) ([]byte, error) {
	if v.Array != nil {
		if blob, ok := packFixedArray(v); ok {
			return bsoncore.AppendBinaryElement(dst, key, binarySubtypeGeneric, blob), nil
		}
		aidx, adst := bsoncore.AppendArrayElementStart(dst, key)
		for i, elem := range v.Array {
			var err error
			adst, err = encodeValue(adst, strconv.Itoa(i), elem)
			if err != nil {
				return nil, err
			}
		}
		out, err := bsoncore.AppendArrayEnd(adst, aidx)
		if err != nil {
			return nil, dliteerr.Wrap(dliteerr.Serialise, err, "bsoncodec: encode array %q", key)
		}
		return out, nil
	}
	return encodeScalar(dst, key, v)
}

func encodeScalar(dst []byte, key string, v dtype.Value) ([]byte, error) {
	switch v.Type.Code {
	case dtype.Bool:
		return bsoncore.AppendBooleanElement(dst, key, v.Bool), nil
	case dtype.Int:
		if v.Type.Size <= 4 {
			return bsoncore.AppendInt32Element(dst, key, int32(v.Int)), nil
		}
		return bsoncore.AppendInt64Element(dst, key, v.Int), nil
	case dtype.UInt:
		// BSON has no unsigned integer type; uint64 is carried as the
		// bit-identical int64 (decodeScalar casts back).
		if v.Type.Size < 4 {
			return bsoncore.AppendInt32Element(dst, key, int32(v.Uint)), nil
		}
		return bsoncore.AppendInt64Element(dst, key, int64(v.Uint)), nil
	case dtype.Float:
		if v.Type.Size <= 8 {
			return bsoncore.AppendDoubleElement(dst, key, v.Float), nil
		}
		d, err := primitive.ParseDecimal128(strconv.FormatFloat(v.Float, 'g', -1, 64))
		if err != nil {
			return nil, dliteerr.Wrap(dliteerr.Serialise, err, "bsoncodec: encode decimal128")
		}
		return bsoncore.AppendDecimal128Element(dst, key, d), nil
	case dtype.FixString, dtype.StringPtr:
		return bsoncore.AppendStringElement(dst, key, string(v.Bytes)), nil
	case dtype.Ref:
		return bsoncore.AppendStringElement(dst, key, v.Ref), nil
	case dtype.Blob:
		return bsoncore.AppendBinaryElement(dst, key, binarySubtypeGeneric, v.Bytes), nil
	case dtype.DimensionT, dtype.PropertyT, dtype.RelationT:
		return encodeComposite(dst, key, v.Comp)
	}
	return nil, dliteerr.New(dliteerr.Type, "bsoncodec: encode: unknown type code %d", v.Type.Code)
}

func encodeComposite(dst []byte, key string, c dtype.Composite) ([]byte, error) {
	if c == nil {
		return bsoncore.AppendNullElement(dst, key), nil
	}
	idx, cdst := bsoncore.AppendDocumentElementStart(dst, key)
	for _, f := range c.Fields() {
		var err error
		cdst, err = encodeValue(cdst, f.Name, f.Value)
		if err != nil {
			return nil, err
		}
	}
	out, err := bsoncore.AppendDocumentEnd(cdst, idx)
	if err != nil {
		return nil, dliteerr.Wrap(dliteerr.Serialise, err, "bsoncodec: encode composite %q", key)
	}
	return out, nil
}

// packFixedArray returns v's elements packed as contiguous host-native-
// order cells (mirroring the original's mmap'd arrays, which are whatever
// order the writing process's CPU happens to use), and ok=false if v's
// element type isn't fixed-width scalar. The "byteorder" header field
// records which order that is, so a reader on a foreign-endian host
// knows to byteswap these cells back.
func packFixedArray(v dtype.Value) ([]byte, bool) {
	width := v.Type.Size
	switch v.Type.Code {
	case dtype.Bool:
		width = 1
	case dtype.Int, dtype.UInt, dtype.Float:
	default:
		return nil, false
	}
	buf := make([]byte, 0, len(v.Array)*width)
	for _, elem := range v.Array {
		buf = append(buf, scalarHostBytes(elem)...)
	}
	return buf, true
}

// scalarHostBytes renders a fixed-width scalar's host-native-order cell.
func scalarHostBytes(v dtype.Value) []byte {
	switch v.Type.Code {
	case dtype.Bool:
		if v.Bool {
			return []byte{1}
		}
		return []byte{0}
	case dtype.Int:
		return hostUintBytes(uint64(v.Int), v.Type.Size)
	case dtype.UInt:
		return hostUintBytes(v.Uint, v.Type.Size)
	case dtype.Float:
		return hostFloatBytes(v.Float, v.Type.Size)
	}
	return nil
}

func hostUintBytes(v uint64, size int) []byte {
	buf := make([]byte, size)
	switch size {
	case 1:
		buf[0] = byte(v)
	case 2:
		binary.NativeEndian.PutUint16(buf, uint16(v))
	case 4:
		binary.NativeEndian.PutUint32(buf, uint32(v))
	case 8:
		binary.NativeEndian.PutUint64(buf, v)
	}
	return buf
}

func hostFloatBytes(f float64, size int) []byte {
	buf := make([]byte, size)
	switch size {
	case 4:
		binary.NativeEndian.PutUint32(buf, math.Float32bits(float32(f)))
	default:
		// 80/96/128-bit extended precision widens through float64 and
		// zero-pads past the first 8 bytes, the same limitation as
		// dtype.UpdateSHA3's canonical feed.
		binary.NativeEndian.PutUint64(buf[:8], math.Float64bits(f))
	}
	return buf
}
