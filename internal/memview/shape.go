// Package memview models debugger-reported types and renders raw memory.
// It is pure: every offset and size here was either parsed from a type
// string or supplied by the session from per-field debugger queries.
package memview

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnparseableType reports a type string outside the supported grammar.
	ErrUnparseableType = errors.New("unparseable-type")
	// ErrInconsistentLayout reports a field extending past its struct size.
	ErrInconsistentLayout = errors.New("inconsistent-layout")
)

// ShapeKind discriminates TypeShape variants.
type ShapeKind int

const (
	ShapeScalar ShapeKind = iota
	ShapeArray
	ShapePointer
	ShapeStruct
	ShapeOpaque
)

// FieldShape is one struct member with its resolved placement.
type FieldShape struct {
	Offset int
	Size   int
	Name   string
	Type   string
	Shape  *TypeShape // nil when the member type was not resolved further
}

// TypeShape is the structured form of a debugger-reported type string.
type TypeShape struct {
	Kind    ShapeKind
	Name    string     // scalar/struct/opaque display name
	Size    int        // total size in bytes; 0 when unknown (opaque)
	Elem    *TypeShape // array element
	Count   int        // array element count
	Pointee string     // pointer target type string
	Fields  []FieldShape
}

// Validate checks the struct invariants: fields sorted by non-decreasing
// offset, no overlap, and no field ending past the declared size.
func (s *TypeShape) Validate() error {
	if s.Kind != ShapeStruct {
		return nil
	}
	fields := make([]FieldShape, len(s.Fields))
	copy(fields, s.Fields)
	sort.SliceStable(fields, func(i, j int) bool { return fields[i].Offset < fields[j].Offset })
	end := 0
	for _, f := range fields {
		if f.Offset < end {
			return fmt.Errorf("%w: field %s overlaps previous field", ErrInconsistentLayout, f.Name)
		}
		end = f.Offset + f.Size
		if s.Size > 0 && end > s.Size {
			return fmt.Errorf("%w: field %s ends at %d past struct size %d",
				ErrInconsistentLayout, f.Name, end, s.Size)
		}
	}
	return nil
}

// PointerField returns the link field to follow: the field named "next" when
// one exists and is pointer-typed, else the first pointer-typed field.
func (s *TypeShape) PointerField() (FieldShape, bool) {
	var first *FieldShape
	for i := range s.Fields {
		f := &s.Fields[i]
		if !IsPointerType(f.Type) {
			continue
		}
		if f.Name == "next" {
			return *f, true
		}
		if first == nil {
			first = f
		}
	}
	if first != nil {
		return *first, true
	}
	return FieldShape{}, false
}

// IsPointerType reports whether a type string denotes a pointer. Array
// declarations are excluded even when the element type is a pointer.
func IsPointerType(ty string) bool {
	t := strings.TrimSpace(ty)
	return strings.Contains(t, "*") && !strings.ContainsAny(t, "[]")
}

// StripPointer removes trailing '*' suffixes: "struct Node *" -> "struct Node".
func StripPointer(ty string) string {
	t := strings.TrimSpace(ty)
	for strings.HasSuffix(t, "*") {
		t = strings.TrimSpace(strings.TrimSuffix(t, "*"))
	}
	return t
}

// NormalizeType compacts a type string for display: "int [5]" -> "int[5]".
func NormalizeType(ty string) string {
	t := strings.TrimSpace(ty)
	var b strings.Builder
	for i := 0; i < len(t); i++ {
		if t[i] == ' ' && i+1 < len(t) && t[i+1] == '[' {
			continue
		}
		b.WriteByte(t[i])
	}
	return b.String()
}

// NormalizePointer compacts pointer spacing: "struct Node *" -> "struct Node*".
func NormalizePointer(ty string) string {
	return strings.ReplaceAll(NormalizeType(ty), " *", "*")
}
