package session

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/code0-god/gdb-memviz/internal/memview"
	"github.com/code0-god/gdb-memviz/internal/mi"
	"github.com/code0-god/gdb-memviz/internal/vmmap"
)

// Locals lists frame-0 variables in declaration order. Values the debugger
// elides (aggregates) are recovered with a follow-up evaluation; missing
// types via a throwaway variable object; addresses best-effort.
func (s *Session) Locals(ctx context.Context) ([]Local, error) {
	if err := s.requireStopped(); err != nil {
		return nil, err
	}
	rec, err := s.query(ctx, "-stack-list-locals --simple-values")
	if err != nil {
		return nil, err
	}
	list, _ := rec.Payload.Lookup("locals")
	var locals []Local
	for _, item := range list.Items {
		name := item.Str("name")
		if name == "" {
			continue
		}
		l := Local{
			Name:  name,
			Type:  item.Str("type"),
			Value: item.Str("value"),
		}
		if l.Value == "" {
			if v, verr := s.evaluate(ctx, name); verr == nil {
				l.Value = v
			}
		}
		if l.Type == "" {
			if ty, terr := s.fetchType(ctx, name); terr == nil {
				l.Type = ty
			}
		}
		if addr, aerr := s.evaluateAddr(ctx, "&"+name); aerr == nil {
			l.Addr = addr
		}
		locals = append(locals, l)
	}
	return locals, nil
}

// Globals enumerates file-scoped and program-scoped variables, preferring
// the structured -symbol-info-variables form and degrading to console
// `info variables` parsing when the debugger predates it.
func (s *Session) Globals(ctx context.Context) ([]Global, error) {
	if err := s.requireStopped(); err != nil {
		return nil, err
	}
	decls, err := s.globalDecls(ctx)
	if err != nil {
		return nil, err
	}
	globals := make([]Global, 0, len(decls))
	for _, d := range decls {
		g := Global{Name: d.name, Type: d.typeName, File: d.file}
		if v, verr := s.evaluate(ctx, d.name); verr == nil {
			g.Value = v
		}
		if addr, aerr := s.evaluateAddr(ctx, "&"+d.name); aerr == nil {
			g.Addr = addr
		}
		globals = append(globals, g)
	}
	return globals, nil
}

type globalDecl struct {
	name     string
	typeName string
	file     string
}

func (s *Session) globalDecls(ctx context.Context) ([]globalDecl, error) {
	filter := s.frameFileBase(ctx)
	if rec, err := s.query(ctx, "-symbol-info-variables"); err == nil {
		if decls := parseSymbolInfoVariables(rec, filter); len(decls) > 0 {
			return decls, nil
		}
	}
	text, err := s.console(ctx, "info variables")
	if err != nil {
		return nil, err
	}
	return parseInfoVariables(text, filter), nil
}

// frameFileBase returns the basename of the current frame's source file,
// used to scope globals to the target where possible.
func (s *Session) frameFileBase(ctx context.Context) string {
	rec, err := s.query(ctx, "-stack-info-frame")
	if err != nil {
		return ""
	}
	file := rec.Payload.Deep("frame", "fullname")
	if file == "" {
		file = rec.Payload.Deep("frame", "file")
	}
	if file == "" {
		return ""
	}
	return filepath.Base(file)
}

func parseSymbolInfoVariables(rec mi.Record, filterBase string) []globalDecl {
	symbols, _ := rec.Payload.Lookup("symbols")
	debug, _ := symbols.Lookup("debug")
	var decls []globalDecl
	for _, fileEntry := range debug.Items {
		file := fileEntry.Str("fullname")
		if file == "" {
			file = fileEntry.Str("filename")
		}
		if filterBase != "" && filepath.Base(file) != filterBase {
			continue
		}
		if filterBase == "" && strings.HasPrefix(file, "/usr") {
			continue // system headers drown out the target without a filter
		}
		syms, _ := fileEntry.Lookup("symbols")
		for _, sym := range syms.Items {
			name := sym.Str("name")
			ty := sym.Str("type")
			if name == "" || strings.Contains(ty, "(") {
				continue
			}
			decls = append(decls, globalDecl{name: name, typeName: ty, file: file})
		}
	}
	return decls
}

// parseInfoVariables scrapes the console listing: per-file blocks headed by
// "File <path>:", declarations as "<line>:\t<type> <name>;". The listing is
// cut at "Non-debugging symbols".
func parseInfoVariables(text, filterBase string) []globalDecl {
	var decls []globalDecl
	currentFile := ""
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "All defined variables") {
			continue
		}
		if strings.HasPrefix(line, "Non-debugging symbols") {
			break
		}
		if rest, ok := strings.CutPrefix(line, "File "); ok {
			currentFile = strings.TrimSuffix(strings.TrimSpace(rest), ":")
			continue
		}
		if filterBase != "" && filepath.Base(currentFile) != filterBase {
			continue
		}
		if !strings.Contains(line, ";") || strings.Contains(line, "(") {
			continue
		}
		if ty, name, ok := parseGlobalDecl(line); ok {
			decls = append(decls, globalDecl{name: name, typeName: ty, file: currentFile})
		}
	}
	return decls
}

// parseGlobalDecl splits "13:\tint g_counter;" or "char g_message[16];".
func parseGlobalDecl(line string) (typeName, name string, ok bool) {
	cleaned := strings.TrimSpace(line)
	if colon := strings.IndexByte(cleaned, ':'); colon > 0 {
		if strings.TrimLeft(cleaned[:colon], "0123456789") == "" {
			cleaned = strings.TrimSpace(cleaned[colon+1:])
		}
	}
	cleaned = strings.TrimSpace(strings.TrimSuffix(cleaned, ";"))
	parts := strings.Fields(cleaned)
	if len(parts) < 2 {
		return "", "", false
	}
	name = parts[len(parts)-1]
	if i := strings.IndexByte(name, '['); i >= 0 {
		name = name[:i]
	}
	name = strings.TrimLeft(name, "*")
	typeName = strings.Join(parts[:len(parts)-1], " ")
	if name == "" || typeName == "" {
		return "", "", false
	}
	return typeName, name, true
}

// Mem reads sizeof(expr) bytes at &(expr), or the explicit length when one
// is given. Reads above MaxDumpBytes are tail-cut; an explicit zero length
// yields an empty read, not an error.
func (s *Session) Mem(ctx context.Context, expr string, length int, hasLen bool) (MemoryRead, error) {
	if err := s.requireStopped(); err != nil {
		return MemoryRead{}, err
	}
	prof := s.Profile()

	requested := length
	if !hasLen {
		n, err := s.evaluateSizeof(ctx, expr)
		if err != nil {
			requested = defaultDumpLen
		} else {
			requested = n
		}
	}
	if requested < 0 {
		return MemoryRead{}, fmt.Errorf("%w: negative length", ErrReadFailed)
	}
	truncated := false
	if requested > MaxDumpBytes {
		requested = MaxDumpBytes
		truncated = true
	}

	addr, err := s.evaluateAddr(ctx, "&("+expr+")")
	if err != nil {
		return MemoryRead{}, err
	}
	ty, _ := s.fetchType(ctx, expr)

	data, err := s.readMemory(ctx, addr, requested)
	if err != nil {
		return MemoryRead{}, err
	}
	return MemoryRead{
		Expr:      expr,
		Type:      ty,
		Addr:      addr,
		Bytes:     data,
		WordSize:  prof.PointerSize,
		Endian:    prof.Endian,
		Arch:      prof.Arch,
		Requested: requested,
		Truncated: truncated,
	}, nil
}

// ViewSymbol resolves the symbol's type into a shape with per-field offsets
// and sizes, plus the raw bytes underneath. Struct offsets come from
// offsetof-style subtraction; sizes from per-field sizeof queries; the
// annotated ptype numbers serve as fallback.
func (s *Session) ViewSymbol(ctx context.Context, symbol string) (View, error) {
	if err := s.requireStopped(); err != nil {
		return View{}, err
	}
	prof := s.Profile()

	size, err := s.evaluateSizeof(ctx, symbol)
	if err != nil {
		return View{}, err
	}

	var shape *memview.TypeShape
	if ty, terr := s.fetchType(ctx, symbol); terr == nil && memview.IsPointerType(ty) {
		// A pointer symbol is presented as a pointer, not as its pointee.
		shape = &memview.TypeShape{
			Kind:    memview.ShapePointer,
			Name:    ty,
			Size:    size,
			Pointee: memview.StripPointer(ty),
		}
	} else {
		text, perr := s.console(ctx, "ptype /o "+symbol)
		if perr != nil {
			text = ""
		}
		shape = memview.ParsePtypeOutput(text, prof.PointerSize, size)
		if shape.Kind == memview.ShapeStruct {
			s.refineStructLayout(ctx, symbol, shape)
			if shape.Size == 0 {
				shape.Size = size
			}
			if verr := shape.Validate(); verr != nil {
				return View{}, verr
			}
		}
	}

	read, err := s.Mem(ctx, symbol, size, true)
	if err != nil {
		return View{}, err
	}
	return View{Symbol: symbol, Shape: shape, Read: read}, nil
}

// refineStructLayout overrides annotated field numbers with live queries:
// sizeof(sym.field) for sizes and pointer subtraction for offsets. Failures
// keep the annotated values.
func (s *Session) refineStructLayout(ctx context.Context, symbol string, shape *memview.TypeShape) {
	for i := range shape.Fields {
		f := &shape.Fields[i]
		if n, err := s.evaluateSizeof(ctx, symbol+"."+f.Name); err == nil && n > 0 {
			f.Size = n
		}
		offExpr := fmt.Sprintf("(char *)&(%s.%s) - (char *)&(%s)", symbol, f.Name, symbol)
		if v, err := s.evaluate(ctx, offExpr); err == nil {
			if off, perr := strconv.Atoi(strings.TrimSpace(v)); perr == nil && off >= 0 {
				f.Offset = off
			}
		}
	}
}

// Follow walks the pointer chain starting at symbol. The link field is the
// pointee field named "next" when present, else its first pointer-typed
// field. The walk stops on NULL, on a revisited pointer value, or at the
// depth bound.
func (s *Session) Follow(ctx context.Context, symbol string, depth int) ([]Hop, error) {
	if err := s.requireStopped(); err != nil {
		return nil, err
	}
	if depth <= 0 {
		depth = DefaultFollowDepth
	}
	prof := s.Profile()

	ty, err := s.fetchType(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if !memview.IsPointerType(ty) {
		return nil, fmt.Errorf("follow: %q is not a pointer type (got %q)", symbol, ty)
	}
	pointee := memview.StripPointer(ty)
	ptrDisplay := memview.NormalizePointer(ty)

	value, err := s.evaluate(ctx, symbol)
	if err != nil {
		return nil, err
	}
	addr, _ := scrapeAddr(value)

	// Pointee layout decides the link field; non-struct pointees get a
	// single-hop walk.
	var link memview.FieldShape
	hasLink := false
	if text, perr := s.console(ctx, "ptype /o "+pointee); perr == nil {
		shape := memview.ParsePtypeOutput(text, prof.PointerSize, prof.PointerSize)
		if shape.Kind == memview.ShapeStruct {
			link, hasLink = shape.PointerField()
		}
	}

	visited := make(map[uint64]bool)
	var hops []Hop
	expr := symbol
	for d := 0; d < depth; d++ {
		hop := Hop{Depth: d, Expr: expr, Type: ptrDisplay, Value: addr}
		if addr == 0 {
			hop.IsNull = true
			hops = append(hops, hop)
			break
		}
		if visited[addr] {
			hop.IsCycle = true
			hops = append(hops, hop)
			break
		}
		visited[addr] = true

		target, terr := s.evaluate(ctx, fmt.Sprintf("*(%s *) 0x%x", pointee, addr))
		if terr != nil {
			hop.Target = fmt.Sprintf("<eval error: %v>", terr)
			hops = append(hops, hop)
			break
		}
		hop.Target = memview.PrettifyValue(target)
		hops = append(hops, hop)

		if !hasLink {
			break
		}
		linkSize := link.Size
		if linkSize <= 0 {
			linkSize = prof.PointerSize
		}
		data, rerr := s.readMemory(ctx, addr+uint64(link.Offset), linkSize)
		if rerr != nil {
			break
		}
		addr = memview.DecodeWord(data, prof.Endian)
		expr += "->" + link.Name
	}
	return hops, nil
}

// InferiorPid resolves the debugged process id, structured form first, then
// console `info proc`.
func (s *Session) InferiorPid(ctx context.Context) (int, error) {
	s.mu.Lock()
	pid := s.pid
	s.mu.Unlock()
	if pid > 0 {
		return pid, nil
	}
	if rec, err := s.query(ctx, "-list-thread-groups"); err == nil {
		groups, _ := rec.Payload.Lookup("groups")
		for _, g := range groups.Items {
			if p, perr := strconv.Atoi(g.Str("pid")); perr == nil && p > 0 {
				s.mu.Lock()
				s.pid = p
				s.mu.Unlock()
				return p, nil
			}
		}
	}
	text, err := s.console(ctx, "info proc")
	if err != nil {
		return 0, fmt.Errorf("inferior pid: %w", err)
	}
	for _, line := range strings.Split(text, "\n") {
		fields := strings.Fields(line)
		for i, tok := range fields {
			if tok == "process" && i+1 < len(fields) {
				if p, perr := strconv.Atoi(fields[i+1]); perr == nil && p > 0 {
					s.mu.Lock()
					s.pid = p
					s.mu.Unlock()
					return p, nil
				}
			}
		}
	}
	return 0, fmt.Errorf("inferior pid: not reported by gdb")
}

// Vm returns the classified region list for the inferior.
func (s *Session) Vm(ctx context.Context) ([]vmmap.Region, error) {
	if err := s.requireStopped(); err != nil {
		return nil, err
	}
	pid, err := s.InferiorPid(ctx)
	if err != nil {
		return nil, err
	}
	return vmmap.ReadPid(pid, s.targetPath)
}

// VmLocateInfo resolves an expression against the region list. Pointers are
// reported twice: where the pointer itself lives and where it points.
type VmLocateInfo struct {
	Expr      string
	Type      string
	IsPointer bool
	IsNull    bool

	StorageAddr   uint64
	StorageRegion *vmmap.Region

	ValueAddr   uint64
	HasValue    bool
	ValueRegion *vmmap.Region
}

// Region returns the region of the primary address (the pointed-to region
// for pointers, the object's region otherwise).
func (i VmLocateInfo) Region() (vmmap.Region, error) {
	if i.ValueRegion != nil {
		return *i.ValueRegion, nil
	}
	return vmmap.Region{}, &vmmap.NotMappedError{Addr: i.ValueAddr}
}

// VmLocate evaluates the expression and finds its region(s).
func (s *Session) VmLocate(ctx context.Context, expr string) (VmLocateInfo, error) {
	if err := s.requireStopped(); err != nil {
		return VmLocateInfo{}, err
	}
	regions, err := s.Vm(ctx)
	if err != nil {
		return VmLocateInfo{}, err
	}

	ty, terr := s.fetchType(ctx, expr)
	if terr != nil {
		ty = "unknown"
	}
	value, verr := s.evaluate(ctx, expr)
	if verr != nil {
		return VmLocateInfo{}, verr
	}

	info := VmLocateInfo{Expr: expr, Type: ty}
	trimmed := strings.TrimSpace(value)
	if memview.IsPointerType(ty) && strings.HasPrefix(trimmed, "0x") {
		info.IsPointer = true
		if storage, aerr := s.evaluateAddr(ctx, "&("+expr+")"); aerr == nil {
			info.StorageAddr = storage
			if reg, lerr := vmmap.Locate(regions, storage); lerr == nil {
				r := reg
				info.StorageRegion = &r
			}
		}
		addr, _ := scrapeAddr(trimmed)
		if addr == 0 {
			info.IsNull = true
			return info, nil
		}
		info.ValueAddr = addr
		info.HasValue = true
		if reg, lerr := vmmap.Locate(regions, addr); lerr == nil {
			r := reg
			info.ValueRegion = &r
		}
		return info, nil
	}

	// Plain object, or a non-pointer scalar holding an address: prefer the
	// object's own storage; fall back to interpreting the value as an
	// address when the expression has no storage (e.g. arithmetic).
	if addr, aerr := s.evaluateAddr(ctx, "&("+expr+")"); aerr == nil {
		info.ValueAddr = addr
		info.HasValue = true
	} else if addr, ok := scrapeAddr(trimmed); ok {
		info.ValueAddr = addr
		info.HasValue = true
	} else {
		return VmLocateInfo{}, fmt.Errorf("%w: %q", ErrNoAddress, expr)
	}
	if reg, lerr := vmmap.Locate(regions, info.ValueAddr); lerr == nil {
		r := reg
		info.ValueRegion = &r
	}
	return info, nil
}

// VmVars groups locals, globals, and heap targets reached by pointer
// chains by containing region. Entries without a resolved address drop out.
func (s *Session) VmVars(ctx context.Context) ([]vmmap.RegionGroup, error) {
	if err := s.requireStopped(); err != nil {
		return nil, err
	}
	regions, err := s.Vm(ctx)
	if err != nil {
		return nil, err
	}

	var tagged []vmmap.TaggedAddress
	locals, err := s.Locals(ctx)
	if err != nil {
		return nil, err
	}
	for _, l := range locals {
		if l.Addr != 0 {
			tagged = append(tagged, vmmap.TaggedAddress{Tag: "locals", Name: l.Name, Addr: l.Addr})
		}
	}
	if globals, gerr := s.Globals(ctx); gerr == nil {
		for _, g := range globals {
			if g.Addr != 0 {
				tagged = append(tagged, vmmap.TaggedAddress{Tag: "globals", Name: g.Name, Addr: g.Addr})
			}
		}
	}
	// Heap targets: every address a pointer local's chain reaches.
	for _, l := range locals {
		if !memview.IsPointerType(l.Type) {
			continue
		}
		hops, ferr := s.Follow(ctx, l.Name, DefaultFollowDepth)
		if ferr != nil {
			continue
		}
		for _, h := range hops {
			if h.IsNull || h.IsCycle || h.Value == 0 {
				continue
			}
			tagged = append(tagged, vmmap.TaggedAddress{
				Tag:  "heap",
				Name: h.Expr,
				Addr: h.Value,
			})
		}
	}
	return vmmap.GroupByRegion(regions, tagged), nil
}
