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

// Package dtype implements the runtime's closed type system (§3.2, §4.1):
// primitive and composite type descriptors with fully specified memory
// layout, alignment, print/scan, casting and canonical hashing semantics.
// Grounded on the type enum in
// _examples/original_source/src/dlite-types.h and the print/scan split in
// _examples/original_source/src/dlite-print.c, generalised from the
// original's seven-member enum to the richer composite set (§3.3) this
// spec adds (Dimension, Property, Relation, typed Ref).
package dtype

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sintef/dlite-go/dliteerr"
)

// Code is the closed set of type tags.
type Code uint8

const (
	Blob Code = iota
	Bool
	Int
	UInt
	Float
	FixString
	StringPtr
	Ref
	DimensionT
	PropertyT
	RelationT
)

func (c Code) String() string {
	switch c {
	case Blob:
		return "blob"
	case Bool:
		return "bool"
	case Int:
		return "int"
	case UInt:
		return "uint"
	case Float:
		return "float"
	case FixString:
		return "string"
	case StringPtr:
		return "stringptr"
	case Ref:
		return "ref"
	case DimensionT:
		return "dimension"
	case PropertyT:
		return "property"
	case RelationT:
		return "relation"
	default:
		return "unknown"
	}
}

// Type is a type descriptor: a tag plus the size parameter that
// distinguishes instances of that tag (Blob/FixString length, Int/UInt/
// Float width in bytes). RefTarget optionally names the meta uri of a
// typed Ref; an empty RefTarget means an untyped ref.
type Type struct {
	Code      Code
	Size      int
	RefTarget string
}

// Word and pointer size assumed by the layout model. The runtime targets
// 64-bit hosts, matching spec §8 S4 ("offset 8 ... on 64-bit platforms").
const (
	WordSize    = 8
	PointerSize = 8
)

var validIntSizes = map[int]bool{1: true, 2: true, 4: true, 8: true}
var validFloatSizes = map[int]bool{4: true, 8: true, 10: true, 12: true, 16: true}

// Validate checks that Size is legal for Code (§3.2's closed parameter
// sets).
func (t Type) Validate() error {
	switch t.Code {
	case Blob:
		if t.Size < 0 {
			return dliteerr.New(dliteerr.Type, "blob size must be >= 0, got %d", t.Size)
		}
	case Bool:
	case Int, UInt:
		if !validIntSizes[t.Size] {
			return dliteerr.New(dliteerr.Type, "%s size must be one of 1,2,4,8, got %d", t.Code, t.Size)
		}
	case Float:
		if !validFloatSizes[t.Size] {
			return dliteerr.New(dliteerr.Type, "float size must be one of 4,8,10,12,16, got %d", t.Size)
		}
	case FixString:
		if t.Size < 0 {
			return dliteerr.New(dliteerr.Type, "string size must be >= 0, got %d", t.Size)
		}
	case StringPtr, Ref, DimensionT, PropertyT, RelationT:
		// Size is ignored; these are always pointer-sized cells.
	default:
		return dliteerr.New(dliteerr.Type, "unknown type code %d", t.Code)
	}
	return nil
}

// Layout returns the byte size and alignment of t, per §4.1's layout
// operation. Alignment follows natural alignment with fallbacks for the
// 80/96/128-bit float widths, which have no native Go representation and
// are aligned to 16 as most ABIs do for extended/quad precision.
func (t Type) Layout() (size, align int, err error) {
	if err = t.Validate(); err != nil {
		return 0, 0, err
	}
	switch t.Code {
	case Blob:
		return t.Size, 1, nil
	case Bool:
		return 1, 1, nil
	case Int, UInt:
		return t.Size, t.Size, nil
	case Float:
		if t.Size <= 8 {
			return t.Size, t.Size, nil
		}
		return t.Size, 16, nil
	case FixString:
		return t.Size, 1, nil
	case StringPtr, Ref, DimensionT, PropertyT, RelationT:
		return PointerSize, PointerSize, nil
	}
	return 0, 0, dliteerr.New(dliteerr.Type, "unknown type code %d", t.Code)
}

// Owns reports whether a value of this type owns heap memory and
// therefore needs a deep copy on assignment and a deep release on
// destruction (§3.2, §3.4).
func (t Type) Owns() bool {
	switch t.Code {
	case StringPtr, Ref, DimensionT, PropertyT, RelationT:
		return true
	default:
		return false
	}
}

// PaddingAt returns the minimum number of padding bytes so that
// offset+padding is correctly aligned for t (§4.1, §4.2 step 5).
func PaddingAt(t Type, offset int) (int, error) {
	_, align, err := t.Layout()
	if err != nil {
		return 0, err
	}
	if align == 0 {
		return 0, nil
	}
	rem := offset % align
	if rem == 0 {
		return 0, nil
	}
	return align - rem, nil
}

// MemberOffset is a convenience wrapper combining the end of the previous
// member with the padding needed to align t.
func MemberOffset(prevEnd, prevSize int, t Type) (int, error) {
	cursor := prevEnd + prevSize
	pad, err := PaddingAt(t, cursor)
	if err != nil {
		return 0, err
	}
	return cursor + pad, nil
}

// Name returns t's canonical textual name per the closed grammar in §4.1.
func (t Type) Name() string {
	switch t.Code {
	case Blob:
		return fmt.Sprintf("blob%d", t.Size)
	case Bool:
		return "bool"
	case Int:
		return fmt.Sprintf("int%d", t.Size*8)
	case UInt:
		return fmt.Sprintf("uint%d", t.Size*8)
	case Float:
		return fmt.Sprintf("float%d", t.Size*8)
	case FixString:
		if t.Size == 0 {
			return "string"
		}
		return fmt.Sprintf("string%d", t.Size)
	case StringPtr:
		return "string"
	case Ref:
		if t.RefTarget != "" {
			return t.RefTarget
		}
		return "ref"
	case DimensionT:
		return "dimension"
	case PropertyT:
		return "property"
	case RelationT:
		return "relation"
	}
	return "unknown"
}

// ParseName parses a canonical type name back into a Type, the inverse of
// Name, rejecting anything outside the closed grammar of §4.1.
func ParseName(name string) (Type, error) {
	switch {
	case name == "bool":
		return Type{Code: Bool}, nil
	case name == "ref":
		return Type{Code: Ref}, nil
	case name == "string":
		return Type{Code: StringPtr}, nil
	case name == "dimension":
		return Type{Code: DimensionT}, nil
	case name == "property":
		return Type{Code: PropertyT}, nil
	case name == "relation":
		return Type{Code: RelationT}, nil
	case strings.HasPrefix(name, "blob"):
		n, err := parseSuffixInt(name, "blob")
		if err != nil {
			return Type{}, err
		}
		return Type{Code: Blob, Size: n}, nil
	case strings.HasPrefix(name, "int"):
		n, err := parseSuffixInt(name, "int")
		if err != nil {
			return Type{}, err
		}
		t := Type{Code: Int, Size: n / 8}
		if err := t.Validate(); err != nil {
			return Type{}, err
		}
		return t, nil
	case strings.HasPrefix(name, "uint"):
		n, err := parseSuffixInt(name, "uint")
		if err != nil {
			return Type{}, err
		}
		t := Type{Code: UInt, Size: n / 8}
		if err := t.Validate(); err != nil {
			return Type{}, err
		}
		return t, nil
	case strings.HasPrefix(name, "float"):
		n, err := parseSuffixInt(name, "float")
		if err != nil {
			return Type{}, err
		}
		t := Type{Code: Float, Size: n / 8}
		if err := t.Validate(); err != nil {
			return Type{}, err
		}
		return t, nil
	case strings.HasPrefix(name, "string"):
		n, err := parseSuffixInt(name, "string")
		if err != nil {
			return Type{}, err
		}
		return Type{Code: FixString, Size: n}, nil
	case strings.Contains(name, "/"):
		// A <meta-uri>: typed ref.
		return Type{Code: Ref, RefTarget: name}, nil
	default:
		return Type{}, dliteerr.New(dliteerr.Syntax, "not a valid type name: %q", name)
	}
}

func parseSuffixInt(name, prefix string) (int, error) {
	suffix := strings.TrimPrefix(name, prefix)
	n, err := strconv.Atoi(suffix)
	if err != nil {
		return 0, dliteerr.Wrap(dliteerr.Syntax, err, "invalid type name %q", name)
	}
	return n, nil
}
