package memview

import (
	"fmt"
	"strings"
)

// Endian is the byte order of the target, as reported by the debugger.
type Endian int

const (
	EndianUnknown Endian = iota
	EndianLittle
	EndianBig
)

func (e Endian) String() string {
	switch e {
	case EndianLittle:
		return "little-endian"
	case EndianBig:
		return "big-endian"
	}
	return "endian-unknown"
}

// HexBody renders bytes as word-size groups, one line per word:
//
//	+0x0000: 00 00 00 00 0a 00 00 00 | ascii="........"
//
// A trailing partial word pads hex cells with ".." and ascii with '.'.
// The output is a pure function of (bytes, wordSize).
func HexBody(data []byte, wordSize int) []string {
	if wordSize < 1 {
		wordSize = 1
	}
	var lines []string
	for off := 0; off < len(data); off += wordSize {
		end := off + wordSize
		hexCells := make([]string, 0, wordSize)
		var ascii strings.Builder
		for i := off; i < end; i++ {
			if i < len(data) {
				hexCells = append(hexCells, fmt.Sprintf("%02x", data[i]))
				ascii.WriteByte(asciiByte(data[i]))
			} else {
				hexCells = append(hexCells, "..")
				ascii.WriteByte('.')
			}
		}
		lines = append(lines, fmt.Sprintf("  +0x%04x: %s | ascii=\"%s\"",
			off, strings.Join(hexCells, " "), ascii.String()))
	}
	return lines
}

func asciiByte(b byte) byte {
	if b >= 0x20 && b <= 0x7e {
		return b
	}
	return '.'
}

// DecodeWord assembles up to 8 bytes into an unsigned integer according to
// the byte order. With EndianUnknown the result is unusable and callers must
// suppress multi-byte decoding; DecodeWord then behaves as little-endian so
// the function stays total.
func DecodeWord(data []byte, endian Endian) uint64 {
	n := len(data)
	if n > 8 {
		n = 8
	}
	var v uint64
	if endian == EndianBig {
		for i := 0; i < n; i++ {
			v = v<<8 | uint64(data[i])
		}
		return v
	}
	for i := n - 1; i >= 0; i-- {
		v = v<<8 | uint64(data[i])
	}
	return v
}

// PrettifyValue collapses gdb's repeat notation and runs of escaped NULs:
// "'\000' <repeats 13 times>" -> "\0 (x13)". Other values pass through.
func PrettifyValue(s string) string {
	if out, ok := collapseRepeats(s); ok {
		return out
	}
	if out, ok := collapseNulRuns(s); ok {
		return out
	}
	return s
}

func collapseRepeats(s string) (string, bool) {
	const marker = "' <repeats "
	changed := false
	for {
		i := strings.Index(s, marker)
		if i < 0 {
			break
		}
		// Find the quoted '\0…' immediately before the marker.
		start := strings.LastIndex(s[:i], "'")
		if start < 0 || strings.Trim(s[start+1:i], "\\0") != "" {
			break
		}
		rest := s[i+len(marker):]
		end := strings.Index(rest, " times>")
		if end < 0 {
			break
		}
		count := rest[:end]
		if count == "" || strings.TrimLeft(count, "0123456789") != "" {
			break
		}
		s = s[:start] + `\0 (x` + count + `)` + rest[end+len(" times>"):]
		changed = true
	}
	return s, changed
}

func collapseNulRuns(s string) (string, bool) {
	var b strings.Builder
	changed := false
	for i := 0; i < len(s); {
		count := 0
		j := i
		for j < len(s) && strings.HasPrefix(s[j:], `\0`) {
			k := j + 2
			for k < len(s) && k < j+4 && s[k] == '0' {
				k++
			}
			count++
			j = k
		}
		if count >= 2 {
			fmt.Fprintf(&b, `\0 (x%d)`, count)
			i = j
			changed = true
			continue
		}
		b.WriteByte(s[i])
		i++
	}
	if !changed {
		return s, false
	}
	return b.String(), true
}
