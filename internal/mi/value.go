package mi

import "strings"

// ValueKind discriminates the variants of a Value.
type ValueKind int

const (
	KindConst ValueKind = iota
	KindTuple
	KindList
	KindNamedList
)

// Field is one name=value pair inside a tuple or named list.
type Field struct {
	Name  string
	Value Value
}

// Value is one node of a parsed MI payload tree. Strings hold the decoded
// form of the wire's C-escaped literal; numbers and addresses stay strings
// at this layer and are typed by the session when an operation needs them.
type Value struct {
	Kind   ValueKind
	Const  string  // KindConst
	Fields []Field // KindTuple, KindNamedList; insertion order preserved
	Items  []Value // KindList
}

// ConstValue builds a KindConst value.
func ConstValue(s string) Value {
	return Value{Kind: KindConst, Const: s}
}

// TupleValue builds a KindTuple value from ordered fields.
func TupleValue(fields ...Field) Value {
	return Value{Kind: KindTuple, Fields: fields}
}

// ListValue builds a KindList value.
func ListValue(items ...Value) Value {
	return Value{Kind: KindList, Items: items}
}

// NamedListValue builds a KindNamedList value from ordered pairs.
func NamedListValue(fields ...Field) Value {
	return Value{Kind: KindNamedList, Fields: fields}
}

// Lookup returns the first field with the given name in a tuple or named
// list. The second result is false when the name is absent or the value is
// not a container with fields.
func (v Value) Lookup(name string) (Value, bool) {
	for _, f := range v.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Str returns the decoded string of a named const field, or "" when absent.
func (v Value) Str(name string) string {
	f, ok := v.Lookup(name)
	if !ok || f.Kind != KindConst {
		return ""
	}
	return f.Const
}

// Deep returns the const string reached by walking the given field path.
func (v Value) Deep(path ...string) string {
	cur := v
	for i, name := range path {
		next, ok := cur.Lookup(name)
		if !ok {
			return ""
		}
		if i == len(path)-1 {
			if next.Kind == KindConst {
				return next.Const
			}
			return ""
		}
		cur = next
	}
	return ""
}

// Encode renders the value back to wire syntax. Re-parsing the result yields
// a structurally identical tree; whitespace is never emitted.
func (v Value) Encode() string {
	var b strings.Builder
	encodeValue(&b, v)
	return b.String()
}

func encodeValue(b *strings.Builder, v Value) {
	switch v.Kind {
	case KindConst:
		b.WriteByte('"')
		b.WriteString(escapeString(v.Const))
		b.WriteByte('"')
	case KindTuple:
		b.WriteByte('{')
		encodeFields(b, v.Fields)
		b.WriteByte('}')
	case KindList:
		b.WriteByte('[')
		for i, item := range v.Items {
			if i > 0 {
				b.WriteByte(',')
			}
			encodeValue(b, item)
		}
		b.WriteByte(']')
	case KindNamedList:
		b.WriteByte('[')
		encodeFields(b, v.Fields)
		b.WriteByte(']')
	}
}

func encodeFields(b *strings.Builder, fields []Field) {
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(f.Name)
		b.WriteByte('=')
		encodeValue(b, f.Value)
	}
}

func escapeString(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case 0:
			// A following octal digit would extend a short escape.
			if i+1 < len(s) && s[i+1] >= '0' && s[i+1] <= '7' {
				b.WriteString(`\000`)
			} else {
				b.WriteString(`\0`)
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
