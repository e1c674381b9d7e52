package repl

import (
	"fmt"
	"io"
	"strings"

	"github.com/code0-god/gdb-memviz/internal/memview"
	"github.com/code0-god/gdb-memviz/internal/session"
	"github.com/code0-god/gdb-memviz/internal/vmmap"
)

func printLocals(w io.Writer, locals []session.Local) {
	if len(locals) == 0 {
		fmt.Fprintln(w, "no locals")
		return
	}
	for i, l := range locals {
		value := "<unavailable>"
		if l.Value != "" {
			value = memview.PrettifyValue(l.Value)
		}
		prefix := l.Name
		if l.Type != "" {
			prefix = memview.NormalizeType(l.Type) + " " + l.Name
		}
		fmt.Fprintf(w, "%d: %s = %s\n", i, prefix, value)
	}
}

func printGlobals(w io.Writer, globals []session.Global) {
	if len(globals) == 0 {
		fmt.Fprintln(w, "no globals")
		return
	}
	for i, g := range globals {
		value := "<unavailable>"
		if g.Value != "" {
			value = memview.PrettifyValue(g.Value)
		}
		fmt.Fprintf(w, "%d: %s %s = %s\n", i, memview.NormalizeType(g.Type), g.Name, value)
	}
}

func printMemoryHeader(w io.Writer, m session.MemoryRead) {
	ty := m.Type
	if ty == "" {
		ty = "unknown"
	}
	fmt.Fprintf(w, "symbol: %s (%s)\n", m.Expr, memview.NormalizeType(ty))
	fmt.Fprintf(w, "address: 0x%x\n", m.Addr)
	words := 0
	if m.WordSize > 0 {
		words = (m.Delivered() + m.WordSize - 1) / m.WordSize
	}
	fmt.Fprintf(w, "size: %d bytes (requested: %d, %d words, word size = %d)\n",
		m.Delivered(), m.Requested, words, m.WordSize)
	arch := m.Arch
	if arch == "" {
		arch = "unknown"
	}
	fmt.Fprintf(w, "layout: %s (arch=%s)\n", m.Endian, arch)
	if m.Truncated {
		fmt.Fprintf(w, "(truncated to %d bytes)\n", m.Delivered())
	}
}

func printMemoryFull(w io.Writer, m session.MemoryRead) {
	printMemoryHeader(w, m)
	if m.Delivered() == 0 {
		fmt.Fprintln(w, "bytes(0): (no bytes read)")
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "raw:")
	printMemoryBody(w, m)
}

func printMemoryBody(w io.Writer, m session.MemoryRead) {
	for _, line := range memview.HexBody(m.Bytes, m.WordSize) {
		fmt.Fprintln(w, line)
	}
}

func printView(w io.Writer, v session.View, wordSize int) {
	shape := v.Shape
	fmt.Fprintf(w, "symbol: %s (%s) @ 0x%x\n",
		v.Symbol, memview.NormalizeType(shape.Name), v.Read.Addr)
	fmt.Fprintf(w, "size: %d bytes (word size = %d)\n", v.Read.Delivered(), wordSize)
	arch := v.Read.Arch
	if arch == "" {
		arch = "unknown"
	}
	fmt.Fprintf(w, "layout: %s (arch=%s)\n", v.Read.Endian, arch)

	switch shape.Kind {
	case memview.ShapeStruct:
		fmt.Fprintln(w, "\nfields:")
		fmt.Fprintln(w, "  offset    size  field")
		for _, f := range shape.Fields {
			fmt.Fprintf(w, "  +0x%04x %6d  %-11s (%s)\n",
				f.Offset, f.Size, f.Name, memview.NormalizePointer(f.Type))
		}
	case memview.ShapeArray:
		fmt.Fprintln(w, "\nelements:")
		fmt.Fprintln(w, "  offset    index  type")
		elemSize := 0
		if shape.Elem != nil {
			elemSize = shape.Elem.Size
		}
		for i := 0; i < shape.Count; i++ {
			elemName := ""
			if shape.Elem != nil {
				elemName = memview.NormalizeType(shape.Elem.Name)
			}
			fmt.Fprintf(w, "  +0x%04x %7s  %s\n", i*elemSize, fmt.Sprintf("[%d]", i), elemName)
		}
	case memview.ShapePointer:
		fmt.Fprintf(w, "pointee type: %s\n", memview.NormalizeType(shape.Pointee))
	default:
		fmt.Fprintf(w, "\nscalar:\n  type: %s\n  size: %d bytes\n", shape.Name, shape.Size)
	}

	fmt.Fprintln(w, "\nraw:")
	printMemoryBody(w, v.Read)
}

func printFollow(w io.Writer, hops []session.Hop) {
	for _, h := range hops {
		fmt.Fprintf(w, "[%d] %s (%s) = 0x%x\n", h.Depth, h.Expr, h.Type, h.Value)
		switch {
		case h.IsNull:
			fmt.Fprintln(w, "    -> NULL (stopped)")
		case h.IsCycle:
			fmt.Fprintln(w, "    -> (cycle)")
		case h.Target != "":
			fmt.Fprintf(w, "    -> %s\n", h.Target)
		}
	}
}

func printStopped(w io.Writer, ev session.StopEvent) {
	fmt.Fprintln(w, ev)
}

func printBreakpoint(w io.Writer, bp session.Breakpoint) {
	loc := "<unknown>"
	switch {
	case bp.File != "" && bp.Line > 0:
		loc = fmt.Sprintf("%s:%d", bp.File, bp.Line)
	case bp.Func != "":
		loc = bp.Func
	}
	fmt.Fprintf(w, "breakpoint %d at %s\n", bp.Number, loc)
}

func formatSize(bytes uint64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/gb)
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/mb)
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/kb)
	}
	return fmt.Sprintf("%d B", bytes)
}

func regionDesc(r vmmap.Region) string {
	switch r.Path {
	case "[heap]":
		return "(heap)"
	case "[stack]":
		return "(stack)"
	}
	return r.Path
}

func printVmRegions(w io.Writer, regions []vmmap.Region) {
	fmt.Fprintln(w, "regions:")
	for _, r := range regions {
		label := "[" + string(r.Class) + "]"
		desc := regionDesc(r)
		if desc == "" {
			fmt.Fprintf(w, "  %-10s 0x%016x-0x%016x (%s) %s\n",
				label, r.Start, r.End, formatSize(r.Size()), r.Perms)
		} else {
			fmt.Fprintf(w, "  %-10s 0x%016x-0x%016x (%s) %s %s\n",
				label, r.Start, r.End, formatSize(r.Size()), r.Perms, desc)
		}
	}
}

func printRegionLine(w io.Writer, indent string, r vmmap.Region) {
	desc := regionDesc(r)
	if desc == "" {
		fmt.Fprintf(w, "%sregion: [%s] 0x%016x-0x%016x %s\n",
			indent, r.Class, r.Start, r.End, r.Perms)
	} else {
		fmt.Fprintf(w, "%sregion: [%s] 0x%016x-0x%016x %s %s\n",
			indent, r.Class, r.Start, r.End, r.Perms, desc)
	}
}

func printVmLocate(w io.Writer, info session.VmLocateInfo) {
	fmt.Fprintf(w, "expr: %s (%s)\n", info.Expr, memview.NormalizeType(info.Type))
	if info.IsPointer {
		fmt.Fprintln(w, "  storage:")
		if info.StorageAddr != 0 {
			fmt.Fprintf(w, "    addr:   0x%016x\n", info.StorageAddr)
			if info.StorageRegion != nil {
				printRegionLine(w, "    ", *info.StorageRegion)
				fmt.Fprintf(w, "    offset: +0x%x from region base\n",
					info.StorageAddr-info.StorageRegion.Start)
			}
		}
		fmt.Fprintln(w, "  value:")
		switch {
		case info.IsNull:
			fmt.Fprintln(w, "    ptr:    0x0 (NULL)")
		case info.HasValue:
			fmt.Fprintf(w, "    ptr:    0x%016x\n", info.ValueAddr)
			if info.ValueRegion != nil {
				printRegionLine(w, "    ", *info.ValueRegion)
				fmt.Fprintf(w, "    offset: +0x%x from region base\n",
					info.ValueAddr-info.ValueRegion.Start)
			} else {
				fmt.Fprintln(w, "    region: <unknown>")
			}
		default:
			fmt.Fprintln(w, "    ptr:    <unavailable>")
		}
		return
	}
	fmt.Fprintln(w, "  object:")
	if info.HasValue {
		fmt.Fprintf(w, "    addr:   0x%016x\n", info.ValueAddr)
		if info.ValueRegion != nil {
			printRegionLine(w, "    ", *info.ValueRegion)
			fmt.Fprintf(w, "    offset: +0x%x from region base\n",
				info.ValueAddr-info.ValueRegion.Start)
		} else {
			fmt.Fprintln(w, "    region: <unknown>")
		}
	} else {
		fmt.Fprintln(w, "    addr:   <unavailable>")
	}
}

func printVmVars(w io.Writer, groups []vmmap.RegionGroup) {
	if len(groups) == 0 {
		fmt.Fprintln(w, "no resolvable addresses")
		return
	}
	for _, g := range groups {
		printRegionLine(w, "", g.Region)
		for _, v := range g.Vars {
			fmt.Fprintf(w, "  %-8s %-20s 0x%016x\n", v.Tag, v.Name, v.Addr)
		}
	}
}

func printHelp(w io.Writer) {
	help := []string{
		"Commands:",
		"  locals                - list locals in current frame",
		"  globals               - list globals in the target's source files",
		"  mem <expr> [len]      - hex+ASCII dump sizeof(<expr>) bytes (capped) at &<expr>; len overrides size",
		"  view <symbol>         - show type-based layout for symbol (struct/array) plus raw dump",
		"  follow <sym> [d]      - follow pointer chain for symbol up to optional depth (default 8)",
		"  vm                    - show process memory map from /proc/<pid>/maps",
		"  vm locate <expr>      - show which VM region contains the given expression",
		"  vm vars               - group locals/globals/heap targets by VM region",
		"  break <loc> | b       - set breakpoint (e.g. 'break main', 'b file.c:42')",
		"  next | n              - execute next line (step over)",
		"  step | s              - step into functions",
		"  continue | c          - continue execution until next breakpoint",
		"  help                  - show this message",
		"  quit | q              - exit",
	}
	fmt.Fprintln(w, strings.Join(help, "\n"))
}
