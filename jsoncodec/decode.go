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

package jsoncodec

import (
	"encoding/json"

	"github.com/sintef/dlite-go/dliteerr"
	"github.com/sintef/dlite-go/dtype"
	"github.com/sintef/dlite-go/entity"
	"github.com/sintef/dlite-go/instance"
)

// MetaResolver looks up an entity by its meta uri, used by Decode to
// resolve the instance shape needed to parse its property block.
// Typically backed by a store.Store (kept as a function type so
// jsoncodec never imports package store).
type MetaResolver func(metaURI string) (*entity.Entity, error)

// Decode parses a single-instance soft7 document (§4.5), resolving its
// meta either from the document's own "meta" field or, if absent, from
// metaURI (mirroring dlite_json_scan's optional metaid argument).
// Decoding a metadata (array-layout) document is not supported — callers
// that need to read metadata back construct entity.Entity values via
// entity.New directly, since that is the one true source of an Entity's
// shape (see DESIGN.md).
func Decode(src []byte, metaURI string, resolve MetaResolver) (*instance.Instance, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(src, &top); err != nil {
		return nil, dliteerr.Wrap(dliteerr.Parse, err, "jsoncodec: decode: not a JSON object")
	}

	id, err := stringField(top, "uri")
	if err != nil {
		return nil, err
	}
	if id == "" {
		id, err = stringField(top, "uuid")
		if err != nil {
			return nil, err
		}
	}
	if id == "" {
		return nil, dliteerr.New(dliteerr.Parse, "jsoncodec: decode: document has neither uri nor uuid")
	}

	if raw, ok := top["meta"]; ok {
		var m string
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, dliteerr.Wrap(dliteerr.Parse, err, "jsoncodec: decode: meta field")
		}
		metaURI = m
	}
	if metaURI == "" {
		return nil, dliteerr.New(dliteerr.MissingMetadata, "jsoncodec: decode: no meta uri in document or supplied by caller")
	}
	meta, err := resolve(metaURI)
	if err != nil {
		return nil, err
	}

	dimvalues, err := decodeDimensions(top["dimensions"], meta)
	if err != nil {
		return nil, err
	}

	inst, err := instance.New(meta, dimvalues, id)
	if err != nil {
		return nil, err
	}

	var props map[string]json.RawMessage
	if raw, ok := top["properties"]; ok {
		if err := json.Unmarshal(raw, &props); err != nil {
			return nil, dliteerr.Wrap(dliteerr.Parse, err, "jsoncodec: decode: properties")
		}
	}
	for i := 0; i < meta.NProperties(); i++ {
		raw, ok := props[meta.PropertyName(i)]
		if !ok {
			continue
		}
		v, err := decodeValue(raw, meta.PropertyType(i))
		if err != nil {
			return nil, dliteerr.Wrap(dliteerr.Parse, err, "jsoncodec: decode: property %q", meta.PropertyName(i))
		}
		v, err = reconcileArrayShape(v, meta, i, dimvalues)
		if err != nil {
			return nil, dliteerr.Wrap(dliteerr.Parse, err, "jsoncodec: decode: property %q", meta.PropertyName(i))
		}
		if err := inst.SetProperty(i, v); err != nil {
			return nil, err
		}
	}
	return inst, nil
}

// reconcileArrayShape applies dtype.NDCast when the wire array's actual
// element count doesn't match the element count the reader's own meta
// expects for this property's declared shape against dimvalues (§4.1
// ndcast) — e.g. the document was written against an earlier schema
// revision whose dimension values resolved to a different array length.
// Scalar properties and arrays that already match pass through
// untouched.
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

func decodeDimensions(raw json.RawMessage, meta instance.Meta) ([]int64, error) {
	n := meta.NDimensions()
	if n == 0 {
		return nil, nil
	}
	vals := make([]int64, n)
	if len(raw) == 0 {
		return vals, nil
	}
	var obj map[string]int64
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, dliteerr.Wrap(dliteerr.Parse, err, "jsoncodec: decode: dimensions")
	}
	for i := 0; i < n; i++ {
		vals[i] = obj[meta.DimensionName(i)]
	}
	return vals, nil
}

// decodeValue parses raw as a Value of elemType, recursing into JSON
// arrays for array-shaped properties. Composite element types
// (DimensionT/PropertyT/RelationT) are not supported — they only occur
// in metadata (array-layout) documents, which Decode does not read.
func decodeValue(raw json.RawMessage, elemType dtype.Type) (dtype.Value, error) {
	trimmed := raw
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var elems []json.RawMessage
		if err := json.Unmarshal(raw, &elems); err != nil {
			return dtype.Value{}, dliteerr.Wrap(dliteerr.Parse, err, "jsoncodec: decode: array")
		}
		arr := make([]dtype.Value, len(elems))
		for i, e := range elems {
			v, err := decodeValue(e, elemType)
			if err != nil {
				return dtype.Value{}, err
			}
			arr[i] = v
		}
		return dtype.Value{Type: elemType, Array: arr}, nil
	}
	switch elemType.Code {
	case dtype.DimensionT, dtype.PropertyT, dtype.RelationT:
		return dtype.Value{}, dliteerr.New(dliteerr.Unsupported, "jsoncodec: decode: composite type %s not supported by Decode", elemType.Name())
	}
	var text string
	var quoted dtype.QuoteFlag
	switch elemType.Code {
	case dtype.Bool:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return dtype.Value{}, dliteerr.Wrap(dliteerr.Parse, err, "jsoncodec: decode: bool")
		}
		return dtype.Value{Type: elemType, Bool: b}, nil
	case dtype.Int, dtype.UInt, dtype.Float:
		text = string(raw)
		quoted = dtype.Unquoted
	default: // FixString, StringPtr, Ref, Blob
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return dtype.Value{}, dliteerr.Wrap(dliteerr.Parse, err, "jsoncodec: decode: string")
		}
		return dtype.Scan(elemType, s, dtype.Unquoted)
	}
	return dtype.Scan(elemType, text, quoted)
}

func stringField(top map[string]json.RawMessage, key string) (string, error) {
	raw, ok := top[key]
	if !ok {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", dliteerr.Wrap(dliteerr.Parse, err, "jsoncodec: decode: field %q", key)
	}
	return s, nil
}
