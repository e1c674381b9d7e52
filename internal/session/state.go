package session

import (
	"errors"
	"fmt"

	"github.com/code0-god/gdb-memviz/internal/memview"
)

// Session failure sentinels. Each renders as the lowercase single-line
// diagnostic shown to the user.
var (
	ErrNotStopped   = errors.New("not-stopped")
	ErrNotRunning   = errors.New("not-running")
	ErrExited       = errors.New("exited")
	ErrNoSuchSymbol = errors.New("no-such-symbol")
	ErrNoAddress    = errors.New("no-address")
	ErrSizeUnknown  = errors.New("size-unknown")
	ErrReadFailed   = errors.New("read-failed")
)

// UnexpectedClassError reports a result class the operation cannot use.
type UnexpectedClassError struct {
	Class string
}

func (e *UnexpectedClassError) Error() string {
	return "unexpected-class: " + e.Class
}

// State is the session's execution state machine.
type State int

const (
	StateIdle State = iota
	StateLoaded
	StateArmed
	StateRunning
	StateStopped
	StateExited
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoaded:
		return "loaded"
	case StateArmed:
		return "armed"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateExited:
		return "exited"
	}
	return "unknown"
}

// Frame is the stopped thread's frame 0.
type Frame struct {
	File string
	Line int
	Func string
	Addr string
}

// StopEvent is one inferior run-state change, driven solely by async-exec
// records.
type StopEvent struct {
	Reason   string
	Frame    Frame
	Exited   bool
	ExitCode int
}

func (e StopEvent) String() string {
	if e.Exited {
		return fmt.Sprintf("exited (code %d)", e.ExitCode)
	}
	where := "stopped (location unknown)"
	if e.Frame.File != "" && e.Frame.Line > 0 {
		where = fmt.Sprintf("stopped at %s:%d", e.Frame.File, e.Frame.Line)
		if e.Frame.Func != "" {
			where += fmt.Sprintf(" (%s)", e.Frame.Func)
		}
	}
	if e.Reason != "" {
		return where + " | reason: " + e.Reason
	}
	return where
}

// TargetProfile describes the debugged architecture, established once after
// the first stop at the entry function.
type TargetProfile struct {
	Arch        string
	PointerSize int
	Endian      memview.Endian
}

// Local is one frame-0 variable. Values and addresses are re-fetched on
// every stop; entries have no identity across stops.
type Local struct {
	Name  string
	Type  string
	Value string // "" when the debugger elided the value
	Addr  uint64 // 0 when unresolved
}

// Global is one file-scoped or program-scoped variable.
type Global struct {
	Name  string
	Type  string
	Value string
	Addr  uint64
	File  string
}

// MemoryRead is one framed byte read. Truncation is always tail-cut.
type MemoryRead struct {
	Expr      string
	Type      string
	Addr      uint64
	Bytes     []byte
	WordSize  int
	Endian    memview.Endian
	Arch      string
	Requested int
	Truncated bool
}

// Delivered returns the byte count actually read.
func (m MemoryRead) Delivered() int { return len(m.Bytes) }

// View pairs a resolved type shape with the raw bytes underneath it.
type View struct {
	Symbol string
	Shape  *memview.TypeShape
	Read   MemoryRead
}

// Hop is one step of a pointer chain walk.
type Hop struct {
	Depth   int
	Expr    string // access expression: sym, sym->next, ...
	Type    string // pointer type rendering
	Value   uint64
	Target  string // pointee rendering; "" for NULL and cycle hops
	IsNull  bool
	IsCycle bool
}

// Breakpoint is the debugger-assigned breakpoint record.
type Breakpoint struct {
	Number int
	File   string
	Line   int
	Func   string
}
