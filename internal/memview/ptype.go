package memview

import (
	"strconv"
	"strings"
)

// ParsePtypeOutput turns the console text of gdb's `ptype /o` into a shape.
// Supported forms: "type = <elem> [N]" arrays, "type = struct X { ... }"
// blocks with /* offset | size */ annotations, and a scalar fallback using
// the supplied size. The session later refines struct offsets and sizes
// with per-field queries; the annotated numbers serve as the baseline.
func ParsePtypeOutput(text string, wordSize, fallbackSize int) *TypeShape {
	if shape := parseArrayLine(text, wordSize); shape != nil {
		return shape
	}
	if shape := parseStructBlock(text); shape != nil {
		return shape
	}
	name := "unknown"
	for _, line := range strings.Split(text, "\n") {
		if rest, ok := strings.CutPrefix(strings.TrimSpace(line), "type ="); ok {
			name = strings.TrimSpace(rest)
			break
		}
	}
	return &TypeShape{Kind: ShapeScalar, Name: name, Size: fallbackSize}
}

func parseArrayLine(text string, wordSize int) *TypeShape {
	for _, line := range strings.Split(text, "\n") {
		rest, ok := strings.CutPrefix(strings.TrimSpace(line), "type =")
		if !ok {
			continue
		}
		parts := strings.Fields(rest)
		if len(parts) < 2 {
			continue
		}
		last := parts[len(parts)-1]
		if !strings.HasPrefix(last, "[") || !strings.HasSuffix(last, "]") {
			continue
		}
		n, err := strconv.Atoi(strings.Trim(last, "[]"))
		if err != nil {
			continue
		}
		elemName := strings.Join(parts[:len(parts)-1], " ")
		if strings.Contains(elemName, "{") {
			continue
		}
		elem, perr := ParseTypeString(elemName, wordSize)
		if perr != nil {
			continue
		}
		return &TypeShape{
			Kind:  ShapeArray,
			Name:  elemName + " [" + strconv.Itoa(n) + "]",
			Size:  elem.Size * n,
			Elem:  elem,
			Count: n,
		}
	}
	return nil
}

// parseStructBlock reads `ptype /o` annotations:
//
//	/* offset      |    size */  type = struct Node {
//	/*      0      |       4 */    int id;
//	/*      8      |      16 */    char name[16];
//	                               /* total size (bytes):   32 */
func parseStructBlock(text string) *TypeShape {
	lines := strings.Split(text, "\n")
	name := ""
	started := false
	var fields []FieldShape
	totalSize := 0

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if !started {
			if i := strings.Index(line, "type = struct"); i >= 0 {
				started = true
				rest := strings.TrimSpace(line[i+len("type = struct"):])
				if f := strings.Fields(rest); len(f) > 0 && f[0] != "{" {
					name = f[0]
				}
			}
			continue
		}
		if strings.HasPrefix(line, "}") {
			break
		}
		if strings.Contains(line, "total size") {
			totalSize = lastInt(line)
			continue
		}
		if !strings.HasPrefix(line, "/*") || strings.Contains(line, "XXX") {
			continue // hole annotations describe padding, not members
		}
		f, ok := parseFieldLine(line)
		if !ok {
			continue
		}
		fields = append(fields, f)
	}

	if !started || len(fields) == 0 {
		return nil
	}
	if totalSize == 0 {
		last := fields[len(fields)-1]
		totalSize = last.Offset + last.Size
	}
	return &TypeShape{
		Kind:   ShapeStruct,
		Name:   "struct " + name,
		Size:   totalSize,
		Fields: fields,
	}
}

// parseFieldLine handles one annotated member:
//
//	/*     24      |       8 */    struct Node *next;
func parseFieldLine(line string) (FieldShape, bool) {
	body, ok := strings.CutPrefix(line, "/*")
	if !ok {
		return FieldShape{}, false
	}
	annot, decl, ok := strings.Cut(body, "*/")
	if !ok {
		return FieldShape{}, false
	}
	offPart, sizePart, ok := strings.Cut(annot, "|")
	if !ok {
		return FieldShape{}, false
	}
	// Bitfield offsets render as "off:bit"; keep the byte part.
	offText := strings.TrimSpace(offPart)
	if i := strings.IndexByte(offText, ':'); i >= 0 {
		offText = offText[:i]
	}
	offset, err1 := strconv.Atoi(offText)
	size, err2 := strconv.Atoi(strings.TrimSpace(sizePart))
	if err1 != nil || err2 != nil {
		return FieldShape{}, false
	}

	decl = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(decl), ";"))
	if decl == "" {
		return FieldShape{}, false
	}
	i := strings.LastIndexByte(decl, ' ')
	if i < 0 {
		return FieldShape{}, false
	}
	fieldType := strings.TrimSpace(decl[:i])
	fieldName := strings.TrimSpace(decl[i+1:])

	// Leading '*' belongs to the type: "struct Node *next".
	for strings.HasPrefix(fieldName, "*") {
		fieldName = fieldName[1:]
		fieldType += " *"
	}
	if strings.Contains(fieldName, ":") {
		return FieldShape{}, false // bitfields carry no follow-able address
	}
	// Array member: "char name[16]".
	if i := strings.IndexByte(fieldName, '['); i >= 0 {
		count := strings.TrimSuffix(fieldName[i+1:], "]")
		fieldType = fieldType + "[" + count + "]"
		fieldName = fieldName[:i]
	}
	if fieldName == "" {
		return FieldShape{}, false
	}
	return FieldShape{Offset: offset, Size: size, Name: fieldName, Type: fieldType}, true
}

func lastInt(line string) int {
	fields := strings.Fields(line)
	for i := len(fields) - 1; i >= 0; i-- {
		tok := strings.Trim(fields[i], ":)")
		if n, err := strconv.Atoi(tok); err == nil {
			return n
		}
	}
	return 0
}
