// Package repl is the line-oriented shell over the session's command
// surface.
package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/code0-god/gdb-memviz/internal/session"
	"github.com/code0-god/gdb-memviz/internal/vmmap"
	"github.com/code0-god/gdb-memviz/internal/ws"
)

const prompt = "memviz> "

type Repl struct {
	log  *log.Logger
	sess *session.Session
	hub  *ws.Hub // nil unless --serve
	out  io.Writer
	errw io.Writer
}

func New(sess *session.Session, hub *ws.Hub, logger *log.Logger) *Repl {
	return &Repl{
		log:  logger,
		sess: sess,
		hub:  hub,
		out:  os.Stdout,
		errw: os.Stderr,
	}
}

// Run reads commands until quit or EOF. History persists in memviz-history
// under the system temp directory.
func (r *Repl) Run(ctx context.Context) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	historyPath := filepath.Join(os.TempDir(), "memviz-history")
	if f, err := os.Open(historyPath); err == nil {
		_, _ = line.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		if f, err := os.Create(historyPath); err == nil {
			_, _ = line.WriteHistory(f)
			_ = f.Close()
		}
	}()

	for {
		input, err := line.Prompt(prompt)
		if errors.Is(err, liner.ErrPromptAborted) {
			continue
		}
		if err != nil {
			return nil // EOF or terminal gone
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if quit := r.dispatch(ctx, input); quit {
			return nil
		}
	}
}

// dispatch runs one command; returns true on quit.
func (r *Repl) dispatch(ctx context.Context, input string) bool {
	cmd, rest, _ := strings.Cut(input, " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case "quit", "q":
		return true
	case "help":
		printHelp(r.out)
	case "locals":
		if locals, err := r.sess.Locals(ctx); err != nil {
			r.fail(err)
		} else {
			printLocals(r.out, locals)
			r.publishLocals(locals)
		}
	case "globals":
		if globals, err := r.sess.Globals(ctx); err != nil {
			r.fail(err)
		} else {
			printGlobals(r.out, globals)
		}
	case "mem":
		r.handleMem(ctx, rest)
	case "view":
		if rest == "" {
			fmt.Fprintln(r.out, "usage: view <symbol>")
			break
		}
		symbol := strings.Fields(rest)[0]
		if v, err := r.sess.ViewSymbol(ctx, symbol); err != nil {
			r.fail(err)
		} else {
			printView(r.out, v, r.sess.Profile().PointerSize)
		}
	case "follow":
		r.handleFollow(ctx, rest)
	case "break", "b":
		if rest == "" {
			fmt.Fprintln(r.out, "usage: break <location>")
			break
		}
		if bp, err := r.sess.Break(ctx, rest); err != nil {
			r.fail(err)
		} else {
			printBreakpoint(r.out, bp)
		}
	case "next", "n":
		r.execOp(ctx, r.sess.Next)
	case "step", "s":
		r.execOp(ctx, r.sess.Step)
	case "continue", "c":
		r.execOp(ctx, r.sess.Continue)
	case "vm":
		r.handleVm(ctx, input, rest)
	default:
		fmt.Fprintf(r.out, "unknown command: '%s'\n", input)
	}
	return false
}

func (r *Repl) execOp(ctx context.Context, op func(context.Context) (session.StopEvent, error)) {
	ev, err := op(ctx)
	if err != nil {
		r.fail(err)
		return
	}
	printStopped(r.out, ev)
	// Stop events reach observers through the session's observer channel;
	// the shell only contributes the snapshots it already computed.
	if r.hub != nil && !ev.Exited {
		if locals, lerr := r.sess.Locals(ctx); lerr == nil {
			r.publishLocals(locals)
		}
	}
}

func (r *Repl) publishLocals(locals []session.Local) {
	if r.hub == nil {
		return
	}
	msgs := make([]ws.LocalMsg, 0, len(locals))
	for _, l := range locals {
		m := ws.LocalMsg{Name: l.Name, Type: l.Type, Value: l.Value}
		if l.Addr != 0 {
			m.Addr = fmt.Sprintf("0x%x", l.Addr)
		}
		msgs = append(msgs, m)
	}
	r.hub.PublishLocals(msgs)
}

func (r *Repl) handleMem(ctx context.Context, rest string) {
	if rest == "" {
		fmt.Fprintln(r.out, "usage: mem <expr> [len]")
		return
	}
	fields := strings.Fields(rest)
	expr := fields[0]
	length := 0
	hasLen := false
	if len(fields) > 1 {
		n, err := strconv.Atoi(fields[1])
		if err != nil || n < 0 {
			fmt.Fprintf(r.out, "invalid length: %s\n", fields[1])
			return
		}
		length = n
		hasLen = true
	}
	m, err := r.sess.Mem(ctx, expr, length, hasLen)
	if err != nil {
		r.fail(err)
		return
	}
	printMemoryFull(r.out, m)
}

func (r *Repl) handleFollow(ctx context.Context, rest string) {
	if rest == "" {
		fmt.Fprintln(r.out, "usage: follow <symbol> [depth]")
		return
	}
	fields := strings.Fields(rest)
	symbol := fields[0]
	depth := session.DefaultFollowDepth
	if len(fields) > 1 {
		n, err := strconv.Atoi(fields[1])
		if err != nil || n <= 0 {
			fmt.Fprintf(r.out, "follow: invalid depth '%s'\n", fields[1])
			return
		}
		depth = n
	}
	hops, err := r.sess.Follow(ctx, symbol, depth)
	if err != nil {
		r.fail(err)
		return
	}
	printFollow(r.out, hops)
}

func (r *Repl) handleVm(ctx context.Context, input, rest string) {
	fields := strings.Fields(rest)
	switch {
	case len(fields) == 0:
		regions, err := r.sess.Vm(ctx)
		if err != nil {
			r.fail(err)
			return
		}
		printVmRegions(r.out, regions)
		r.publishRegions(regions)
	case fields[0] == "locate":
		if len(fields) < 2 {
			fmt.Fprintf(r.errw, "invalid vm usage: '%s'\n  usage: vm\n         vm locate <expr>\n         vm vars\n", input)
			return
		}
		expr := strings.Join(fields[1:], " ")
		info, err := r.sess.VmLocate(ctx, expr)
		if err != nil {
			r.fail(err)
			return
		}
		printVmLocate(r.out, info)
	case fields[0] == "vars":
		groups, err := r.sess.VmVars(ctx)
		if err != nil {
			r.fail(err)
			return
		}
		printVmVars(r.out, groups)
	default:
		fmt.Fprintf(r.errw, "invalid vm usage: '%s'\n  usage: vm\n         vm locate <expr>\n         vm vars\n", input)
	}
}

func (r *Repl) publishRegions(regions []vmmap.Region) {
	if r.hub == nil {
		return
	}
	msgs := make([]ws.RegionMsg, 0, len(regions))
	for _, reg := range regions {
		msgs = append(msgs, ws.RegionMsg{
			Class: string(reg.Class),
			Start: fmt.Sprintf("0x%x", reg.Start),
			End:   fmt.Sprintf("0x%x", reg.End),
			Perms: reg.Perms.String(),
			Path:  reg.Path,
		})
	}
	r.hub.PublishRegions(msgs)
}

func (r *Repl) fail(err error) {
	fmt.Fprintln(r.errw, err.Error())
	r.log.Printf("[Repl] %v", err)
}
