// Package tui is the full-screen shell: locals, a memory pane for the
// selected symbol, and the region strip, synchronized with execution. Every
// key maps onto one command-surface call; nothing non-trivial lives here.
package tui

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/code0-god/gdb-memviz/internal/memview"
	"github.com/code0-god/gdb-memviz/internal/session"
	"github.com/code0-god/gdb-memviz/internal/vmmap"
)

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("25")).Padding(0, 1)
	paneStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	selectedStyle = lipgloss.NewStyle().Reverse(true)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	errStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

type Tui struct {
	log  *log.Logger
	sess *session.Session

	width  int
	height int

	locals   []session.Local
	regions  []vmmap.Region
	selected int
	dump     *session.MemoryRead
	status   string
}

func New(sess *session.Session, logger *log.Logger) *Tui {
	return &Tui{log: logger, sess: sess}
}

// Run owns the terminal until q. The render loop and command submissions
// share one goroutine; long operations suspend the UI, as documented.
func (t *Tui) Run(ctx context.Context) error {
	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("tui: raw mode: %w", err)
	}
	defer func() {
		_ = term.Restore(fd, oldState)
		fmt.Print("\x1b[?1049l") // leave alternate screen
	}()
	fmt.Print("\x1b[?1049h")

	t.refreshSize(fd)
	t.refreshState(ctx)
	t.render()

	buf := make([]byte, 8)
	for {
		n, rerr := os.Stdin.Read(buf)
		if rerr != nil || n == 0 {
			return nil
		}
		key := decodeKey(buf[:n])
		switch key {
		case "q", "ctrl-c":
			return nil
		case "n":
			t.exec(ctx, t.sess.Next)
		case "s":
			t.exec(ctx, t.sess.Step)
		case "c":
			t.exec(ctx, t.sess.Continue)
		case "up":
			if t.selected > 0 {
				t.selected--
			}
		case "down":
			if t.selected < len(t.locals)-1 {
				t.selected++
			}
		case "m":
			t.dumpSelected(ctx)
		}
		t.refreshSize(fd)
		t.render()
	}
}

func decodeKey(b []byte) string {
	switch {
	case len(b) == 1 && b[0] == 3:
		return "ctrl-c"
	case len(b) == 1:
		return string(b)
	case len(b) >= 3 && b[0] == 0x1b && b[1] == '[':
		switch b[2] {
		case 'A':
			return "up"
		case 'B':
			return "down"
		}
	}
	return ""
}

func (t *Tui) exec(ctx context.Context, op func(context.Context) (session.StopEvent, error)) {
	t.status = "running..."
	t.render()
	ev, err := op(ctx)
	if err != nil {
		t.status = errStyle.Render(err.Error())
		return
	}
	t.status = ev.String()
	t.dump = nil
	t.refreshState(ctx)
}

func (t *Tui) refreshState(ctx context.Context) {
	if t.sess.State() != session.StateStopped {
		t.locals = nil
		t.regions = nil
		return
	}
	if locals, err := t.sess.Locals(ctx); err == nil {
		t.locals = locals
	}
	if regions, err := t.sess.Vm(ctx); err == nil {
		t.regions = regions
	}
	if t.selected >= len(t.locals) {
		t.selected = 0
	}
}

func (t *Tui) dumpSelected(ctx context.Context) {
	if t.selected >= len(t.locals) {
		return
	}
	name := t.locals[t.selected].Name
	m, err := t.sess.Mem(ctx, name, 0, false)
	if err != nil {
		t.status = errStyle.Render(err.Error())
		return
	}
	t.dump = &m
	t.status = "dumped " + name
}

func (t *Tui) refreshSize(fd int) {
	if w, h, err := term.GetSize(fd); err == nil {
		t.width, t.height = w, h
	}
	if t.width <= 0 {
		t.width = 80
	}
	if t.height <= 0 {
		t.height = 24
	}
}

func (t *Tui) render() {
	ev := t.sess.LastStop()
	prof := t.sess.Profile()
	header := headerStyle.Width(t.width).Render(fmt.Sprintf(
		"memviz | %s | %s | %s | n:next s:step c:continue m:dump q:quit",
		t.sess.TargetPath(), t.sess.State(), ev))

	leftWidth := t.width/2 - 2
	rightWidth := t.width - leftWidth - 4

	left := paneStyle.Width(leftWidth).Render(
		titleStyle.Render("locals") + "\n" + t.renderLocals(leftWidth))
	right := paneStyle.Width(rightWidth).Render(
		titleStyle.Render("memory") + "\n" + t.renderDump(prof.PointerSize))
	body := lipgloss.JoinHorizontal(lipgloss.Top, left, right)

	strip := paneStyle.Width(t.width - 2).Render(
		titleStyle.Render("regions") + "\n" + t.renderRegions())

	var b strings.Builder
	b.WriteString("\x1b[2J\x1b[H")
	b.WriteString(header)
	b.WriteString("\r\n")
	writeLines(&b, body)
	writeLines(&b, strip)
	if t.status != "" {
		b.WriteString(dimStyle.Render(t.status))
		b.WriteString("\r\n")
	}
	fmt.Print(b.String())
}

// writeLines emits CR+LF line endings, required in raw mode.
func writeLines(b *strings.Builder, block string) {
	for _, line := range strings.Split(block, "\n") {
		b.WriteString(line)
		b.WriteString("\r\n")
	}
}

func (t *Tui) renderLocals(width int) string {
	if len(t.locals) == 0 {
		return dimStyle.Render("(no locals)")
	}
	var lines []string
	for i, l := range t.locals {
		value := l.Value
		if value == "" {
			value = "<unavailable>"
		}
		line := fmt.Sprintf("%s %s = %s",
			memview.NormalizeType(l.Type), l.Name, memview.PrettifyValue(value))
		if len(line) > width-2 && width > 5 {
			line = line[:width-3] + "…"
		}
		if i == t.selected {
			line = selectedStyle.Render(line)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (t *Tui) renderDump(wordSize int) string {
	if t.dump == nil {
		return dimStyle.Render("(select a local and press m)")
	}
	lines := []string{fmt.Sprintf("%s @ 0x%x (%d bytes)",
		t.dump.Expr, t.dump.Addr, t.dump.Delivered())}
	lines = append(lines, memview.HexBody(t.dump.Bytes, wordSize)...)
	return strings.Join(lines, "\n")
}

func (t *Tui) renderRegions() string {
	if len(t.regions) == 0 {
		return dimStyle.Render("(no region data)")
	}
	var parts []string
	for _, r := range t.regions {
		switch r.Class {
		case vmmap.ClassText, vmmap.ClassData, vmmap.ClassBss, vmmap.ClassHeap, vmmap.ClassStack:
			parts = append(parts, fmt.Sprintf("[%s 0x%x-0x%x]", r.Class, r.Start, r.End))
		}
	}
	if len(parts) == 0 {
		return dimStyle.Render("(no text/data/heap/stack regions)")
	}
	return strings.Join(parts, " ")
}
