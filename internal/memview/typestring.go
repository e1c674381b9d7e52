package memview

import (
	"fmt"
	"strconv"
	"strings"
)

// type-forming qualifiers stay in the scalar name; storage and cv qualifiers
// are dropped from the shape.
var droppedQualifiers = map[string]bool{
	"const": true, "volatile": true, "static": true,
}

var typeQualifiers = map[string]bool{
	"unsigned": true, "signed": true, "short": true, "long": true,
}

// ParseTypeString parses a debugger-reported type rendering into a shape.
// Grammar: qualifier* base suffix*, where base is an identifier optionally
// preceded by struct/union/enum, and suffixes are '*' and '[N]'. Pointer
// suffixes bind tightly right; array suffixes apply in postfix order. The
// debugger's rendering is accepted as authoritative.
func ParseTypeString(ty string, wordSize int) (*TypeShape, error) {
	toks, err := lexType(ty)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, fmt.Errorf("%w: empty type string", ErrUnparseableType)
	}

	var baseWords []string
	i := 0
	for i < len(toks) && isWord(toks[i]) {
		w := toks[i]
		i++
		if droppedQualifiers[w] {
			continue
		}
		baseWords = append(baseWords, w)
		// struct/union/enum consume exactly one following identifier.
		if w == "struct" || w == "union" || w == "enum" {
			if i < len(toks) && isWord(toks[i]) {
				baseWords = append(baseWords, toks[i])
				i++
			}
			break
		}
		// A plain identifier that is not a qualifier ends the base.
		if !typeQualifiers[w] {
			break
		}
	}
	if len(baseWords) == 0 {
		return nil, fmt.Errorf("%w: no base type in %q", ErrUnparseableType, ty)
	}

	shape := baseShape(strings.Join(baseWords, " "), wordSize)

	for ; i < len(toks); i++ {
		tok := toks[i]
		switch {
		case tok == "*":
			shape = &TypeShape{
				Kind:    ShapePointer,
				Name:    shape.Name + " *",
				Size:    wordSize,
				Pointee: shape.Name,
			}
		case strings.HasPrefix(tok, "["):
			n, err := strconv.Atoi(strings.Trim(tok, "[]"))
			if err != nil || n < 0 {
				return nil, fmt.Errorf("%w: bad array count in %q", ErrUnparseableType, ty)
			}
			elem := shape
			shape = &TypeShape{
				Kind:  ShapeArray,
				Name:  fmt.Sprintf("%s [%d]", elem.Name, n),
				Size:  elem.Size * n,
				Elem:  elem,
				Count: n,
			}
		default:
			return nil, fmt.Errorf("%w: unexpected token %q in %q", ErrUnparseableType, tok, ty)
		}
	}
	return shape, nil
}

func baseShape(name string, wordSize int) *TypeShape {
	switch {
	case strings.HasPrefix(name, "struct "):
		return &TypeShape{Kind: ShapeStruct, Name: name}
	case strings.HasPrefix(name, "union "):
		return &TypeShape{Kind: ShapeOpaque, Name: name}
	case strings.HasPrefix(name, "enum "):
		return &TypeShape{Kind: ShapeScalar, Name: name, Size: 4}
	}
	if sz, ok := scalarSize(name, wordSize); ok {
		return &TypeShape{Kind: ShapeScalar, Name: name, Size: sz}
	}
	return &TypeShape{Kind: ShapeOpaque, Name: name}
}

// scalarSize guesses the size of a simple C scalar. The session overrides
// these with per-expression sizeof queries whenever it can; the guess only
// drives array stride fallbacks.
func scalarSize(name string, wordSize int) (int, bool) {
	switch name {
	case "char", "unsigned char", "signed char", "_Bool", "bool":
		return 1, true
	case "short", "unsigned short", "short int", "unsigned short int":
		return 2, true
	case "int", "unsigned", "unsigned int", "signed int", "float":
		return 4, true
	case "long", "unsigned long", "long int", "unsigned long int":
		return maxInt(wordSize, 4), true
	case "long long", "unsigned long long", "long long int", "unsigned long long int", "double":
		return 8, true
	case "void":
		return 0, true
	}
	return 0, false
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func isWord(tok string) bool {
	return tok != "*" && !strings.HasPrefix(tok, "[")
}

func lexType(ty string) ([]string, error) {
	var toks []string
	s := strings.TrimSpace(ty)
	for i := 0; i < len(s); {
		switch c := s[i]; {
		case c == ' ' || c == '\t':
			i++
		case c == '*':
			toks = append(toks, "*")
			i++
		case c == '[':
			j := strings.IndexByte(s[i:], ']')
			if j < 0 {
				return nil, fmt.Errorf("%w: unterminated array suffix in %q", ErrUnparseableType, ty)
			}
			toks = append(toks, s[i:i+j+1])
			i += j + 1
		default:
			j := i
			for j < len(s) && s[j] != ' ' && s[j] != '\t' && s[j] != '*' && s[j] != '[' {
				j++
			}
			toks = append(toks, s[i:j])
			i = j
		}
	}
	return toks, nil
}
