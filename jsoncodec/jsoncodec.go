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

// Package jsoncodec implements the dual-layout JSON codec (§4.5): soft7
// (properties keyed by name) for data instances, array layout
// (dimensions[]/properties[] record lists) for metadata, single- and
// multi-instance documents, document classification (check), and the
// append/iter helpers storage drivers build on.
//
// Grounded on §4.5/§8 S1/S6 and on
// _examples/original_source/src/dlite-json.h's check/scan/append/iter
// surface, generalised to Go's encoding/json. Field order is hand-written
// rather than produced by json.Marshal on a map, since the wire format
// fixes a field order (uuid, uri, meta, parent, dimensions, properties)
// that map-based marshaling (which sorts keys) cannot reproduce.
package jsoncodec

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/sintef/dlite-go/dliteerr"
	"github.com/sintef/dlite-go/dtype"
	"github.com/sintef/dlite-go/entity"
	"github.com/sintef/dlite-go/instance"
)

// WriteOption is one bit of the enumerated, orthogonal write options
// (§4.5): Single, UriKey, WithUuid, WithMeta, Arrays.
type WriteOption uint8

const (
	// Single marks the output as a single-instance document. Encode
	// always produces a single document and EncodeMulti always
	// produces a multi document regardless of this bit; it exists so
	// callers can record classification intent alongside the other
	// flags and so Check's result can be compared against it.
	Single WriteOption = 1 << iota
	// UriKey keys a multi-instance document's entries by uri instead
	// of uuid. Instances without a uri always fall back to uuid.
	UriKey
	// WithUuid includes the uuid field even when uri is also present
	// (uuid is always included when uri is absent, since it is then
	// the only identity available).
	WithUuid
	// WithMeta embeds the instance's meta uri in the document. Absent,
	// a reader must be told the meta out of band (scan's metaid
	// parameter), matching dlite_json_scan's optional metaid argument.
	WithMeta
	// Arrays switches a metadata document away from its default array
	// layout: with this bit set, EncodeMeta writes the *soft7*
	// alternative instead, as a forward-migration escape hatch (see
	// DESIGN.md's Open Question 2).
	Arrays
)

// Has reports whether opts includes flag.
func (opts WriteOption) Has(flag WriteOption) bool { return opts&flag != 0 }

// Encode writes a single-instance soft7 JSON document for a data
// instance. Encoding metadata (an Entity's own structure) goes through
// EncodeMeta instead: a bare *instance.Instance can be a data instance
// of any entity (including an ordinary entity acting as another's meta),
// and there is no way to recover the concrete *entity.Entity a given
// *instance.Instance might be embedded in — Go gives embedding no
// upward pointer — so dispatch cannot be inferred from inst alone and
// must be the caller's choice of entry point.
func Encode(inst *instance.Instance, opts WriteOption) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeDataBody(&buf, inst, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeMeta writes a single-instance metadata JSON document for e
// itself: array layout (dimensions[]/properties[]/relations[]) unless
// opts.Arrays forces the soft7 alternative (see DESIGN.md's Open
// Question 2).
func EncodeMeta(e *entity.Entity, opts WriteOption) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeMetaBody(&buf, e, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeMulti writes a multi-instance document of data instances: a
// top-level object mapping each instance's id (its uri if opts.UriKey
// and it has one, else its uuid) to its body.
func EncodeMulti(insts []*instance.Instance, opts WriteOption) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, inst := range insts {
		if i > 0 {
			buf.WriteByte(',')
		}
		key := inst.UUID()
		if opts.Has(UriKey) && inst.URI() != "" {
			key = inst.URI()
		}
		writeJSONString(&buf, key)
		buf.WriteByte(':')
		if err := encodeDataBody(&buf, inst, opts); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// metaOf extracts the *entity.Entity inst is described by; every Meta in
// this runtime is concretely an *entity.Entity, so the type assertion
// below never fails for a well-formed instance.
func metaOf(inst *instance.Instance) (*entity.Entity, bool) {
	m := inst.Meta()
	if m == nil {
		return nil, false
	}
	e, ok := m.(*entity.Entity)
	return e, ok
}

func encodeDataBody(buf *bytes.Buffer, inst *instance.Instance, opts WriteOption) error {
	meta, hasMeta := metaOf(inst)

	buf.WriteByte('{')
	wroteField := false
	field := func(name string) {
		if wroteField {
			buf.WriteByte(',')
		}
		wroteField = true
		writeJSONString(buf, name)
		buf.WriteByte(':')
	}

	if inst.URI() != "" {
		field("uri")
		writeJSONString(buf, inst.URI())
		if opts.Has(WithUuid) {
			field("uuid")
			writeJSONString(buf, inst.UUID())
		}
	} else {
		field("uuid")
		writeJSONString(buf, inst.UUID())
	}

	if opts.Has(WithMeta) && hasMeta {
		field("meta")
		writeJSONString(buf, meta.URI())
	}

	if p := inst.Parent(); p != nil {
		field("parent")
		buf.WriteByte('{')
		buf.WriteString(`"uuid":`)
		writeJSONString(buf, p.UUID)
		buf.WriteString(`,"hash":`)
		h, _ := dtype.Print(dtype.Value{Type: dtype.Type{Code: dtype.Blob, Size: len(p.Hash)}, Bytes: p.Hash[:]}, dtype.Quoted)
		buf.WriteString(h)
		buf.WriteByte('}')
	}

	if hasMeta && len(inst.Dimensions()) > 0 {
		field("dimensions")
		buf.WriteByte('{')
		for i, v := range inst.Dimensions() {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeJSONString(buf, meta.DimensionName(i))
			buf.WriteByte(':')
			buf.WriteString(strconv.FormatInt(v, 10))
		}
		buf.WriteByte('}')
	}

	field("properties")
	buf.WriteByte('{')
	for i := 0; i < inst.NProperties(); i++ {
		if i > 0 {
			buf.WriteByte(',')
		}
		name := strconv.Itoa(i)
		if hasMeta {
			name = meta.PropertyName(i)
		}
		writeJSONString(buf, name)
		buf.WriteByte(':')
		v, err := inst.GetProperty(i)
		if err != nil {
			return err
		}
		s, err := encodeValue(v)
		if err != nil {
			return err
		}
		buf.WriteString(s)
	}
	buf.WriteByte('}')
	buf.WriteByte('}')
	return nil
}

func encodeMetaBody(buf *bytes.Buffer, e *entity.Entity, opts WriteOption) error {
	if opts.Has(Arrays) {
		return encodeMetaSoft7(buf, e)
	}
	buf.WriteByte('{')
	buf.WriteString(`"uri":`)
	writeJSONString(buf, e.URI())
	if e.Description() != "" {
		buf.WriteString(`,"description":`)
		writeJSONString(buf, e.Description())
	}

	buf.WriteString(`,"dimensions":[`)
	for i, d := range e.Dimensions() {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(`{"name":`)
		writeJSONString(buf, d.Name)
		if d.Description != "" {
			buf.WriteString(`,"description":`)
			writeJSONString(buf, d.Description)
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')

	buf.WriteString(`,"properties":[`)
	for i, p := range e.Properties() {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(`{"name":`)
		writeJSONString(buf, p.Name)
		buf.WriteString(`,"type":`)
		writeJSONString(buf, p.Type.Name())
		if len(p.Shape) > 0 {
			buf.WriteString(`,"shape":[`)
			for j, s := range p.Shape {
				if j > 0 {
					buf.WriteByte(',')
				}
				writeJSONString(buf, s)
			}
			buf.WriteByte(']')
		}
		if p.Unit != "" {
			buf.WriteString(`,"unit":`)
			writeJSONString(buf, p.Unit)
		}
		if p.Description != "" {
			buf.WriteString(`,"description":`)
			writeJSONString(buf, p.Description)
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')

	if len(e.Relations()) > 0 {
		buf.WriteString(`,"relations":[`)
		for i, r := range e.Relations() {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteString(`{"s":`)
			writeJSONString(buf, r.S)
			buf.WriteString(`,"p":`)
			writeJSONString(buf, r.P)
			buf.WriteString(`,"o":`)
			writeJSONString(buf, r.O)
			if r.D != "" {
				buf.WriteString(`,"d":`)
				writeJSONString(buf, r.D)
			}
			if r.ID != "" {
				buf.WriteString(`,"id":`)
				writeJSONString(buf, r.ID)
			}
			buf.WriteByte('}')
		}
		buf.WriteByte(']')
	}
	buf.WriteByte('}')
	return nil
}

// encodeMetaSoft7 is the Open-Question-2 migration escape hatch: the same
// fields, but dimensions/properties keyed by name instead of listed as
// array-of-record.
func encodeMetaSoft7(buf *bytes.Buffer, e *entity.Entity) error {
	buf.WriteByte('{')
	buf.WriteString(`"uri":`)
	writeJSONString(buf, e.URI())
	if e.Description() != "" {
		buf.WriteString(`,"description":`)
		writeJSONString(buf, e.Description())
	}
	buf.WriteString(`,"dimensions":{`)
	for i, d := range e.Dimensions() {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeJSONString(buf, d.Name)
		buf.WriteByte(':')
		writeJSONString(buf, d.Description)
	}
	buf.WriteString(`},"properties":{`)
	for i, p := range e.Properties() {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeJSONString(buf, p.Name)
		buf.WriteByte(':')
		writeJSONString(buf, p.Type.Name())
	}
	buf.WriteString("}}")
	return nil
}

// encodeValue renders v as a JSON value: arrays recurse over elements,
// scalars and composites defer to dtype.Print, the single source of
// truth for textual rendering.
func encodeValue(v dtype.Value) (string, error) {
	if v.Array != nil {
		var b strings.Builder
		b.WriteByte('[')
		for i, elem := range v.Array {
			if i > 0 {
				b.WriteByte(',')
			}
			s, err := encodeValue(elem)
			if err != nil {
				return "", err
			}
			b.WriteString(s)
		}
		b.WriteByte(']')
		return b.String(), nil
	}
	return dtype.Print(v, dtype.Quoted)
}

func writeJSONString(buf *bytes.Buffer, s string) {
	b, _ := json.Marshal(s)
	buf.Write(b)
}

// DocKind classifies a document as describing metadata or data (§4.5,
// §8 S6).
type DocKind int

const (
	KindUnknown DocKind = iota
	KindData
	KindMeta
)

// Document is the result of Check: a document's shape, independent of
// its content.
type Document struct {
	Kind   DocKind
	Multi  bool
	UriKey bool // only meaningful when Multi
	Arrays bool // only meaningful when Kind == KindMeta
}

// Check classifies src per §4.5/§8 S6: metadata vs data, single vs
// multi, which layout, uri-as-key vs uuid-as-key.
func Check(src []byte) (Document, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(src, &top); err != nil {
		return Document{}, dliteerr.Wrap(dliteerr.Parse, err, "jsoncodec: check: not a JSON object")
	}
	if doc, ok := checkSingle(top); ok {
		return doc, nil
	}
	// Not a single instance: must be a multi-instance document. Inspect
	// an arbitrary (lowest-key, for determinism) entry's shape.
	if len(top) == 0 {
		return Document{}, dliteerr.New(dliteerr.Parse, "jsoncodec: check: empty document")
	}
	keys := make([]string, 0, len(top))
	for k := range top {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	first := keys[0]
	var entry map[string]json.RawMessage
	if err := json.Unmarshal(top[first], &entry); err != nil {
		return Document{}, dliteerr.Wrap(dliteerr.Parse, err, "jsoncodec: check: multi-document entry %q is not an object", first)
	}
	doc, ok := checkSingle(entry)
	if !ok {
		return Document{}, dliteerr.New(dliteerr.Parse, "jsoncodec: check: cannot classify document")
	}
	doc.Multi = true
	_, hasURI := entry["uri"]
	doc.UriKey = hasURI
	return doc, nil
}

func checkSingle(obj map[string]json.RawMessage) (Document, bool) {
	_, hasDims := obj["dimensions"]
	_, hasProps := obj["properties"]
	_, hasURI := obj["uri"]
	_, hasUUID := obj["uuid"]
	if !hasURI && !hasUUID {
		return Document{}, false
	}
	if hasDims && isJSONArray(obj["dimensions"]) && hasProps && isJSONArray(obj["properties"]) {
		return Document{Kind: KindMeta, Arrays: true}, true
	}
	if hasDims && isJSONObject(obj["dimensions"]) {
		return Document{Kind: KindMeta, Arrays: false}, true
	}
	if hasProps {
		return Document{Kind: KindData}, true
	}
	return Document{}, false
}

func isJSONArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// Append parses buf as a JSON object, adds inst under a new top-level
// key, and re-emits the whole document (§4.5). Re-encoding goes through
// encoding/json.Marshal, so key order in the result is not preserved —
// only the testable property that matters here is the key count (§8
// property 4).
func Append(buf []byte, inst *instance.Instance, opts WriteOption) ([]byte, error) {
	var top map[string]json.RawMessage
	if len(buf) == 0 {
		top = make(map[string]json.RawMessage)
	} else if err := json.Unmarshal(buf, &top); err != nil {
		return nil, dliteerr.Wrap(dliteerr.Parse, err, "jsoncodec: append: buf is not a JSON object")
	}
	key := inst.UUID()
	if opts.Has(UriKey) && inst.URI() != "" {
		key = inst.URI()
	}
	body, err := Encode(inst, opts)
	if err != nil {
		return nil, err
	}
	top[key] = json.RawMessage(body)
	out, err := json.Marshal(top)
	if err != nil {
		return nil, dliteerr.Wrap(dliteerr.Serialise, err, "jsoncodec: append: re-emit")
	}
	return out, nil
}

// Iter yields the ids held by a multi-instance document, optionally
// restricted to instances whose "meta" field equals metaID (§4.5).
func Iter(src []byte, metaID string) ([]string, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(src, &top); err != nil {
		return nil, dliteerr.Wrap(dliteerr.Parse, err, "jsoncodec: iter: not a JSON object")
	}
	ids := make([]string, 0, len(top))
	for id, raw := range top {
		if metaID != "" {
			var entry struct {
				Meta string `json:"meta"`
			}
			if err := json.Unmarshal(raw, &entry); err != nil || entry.Meta != metaID {
				continue
			}
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
