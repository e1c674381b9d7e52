package mi

import (
	"bufio"
	"context"
	"io"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/code0-god/gdb-memviz/internal/logging"
)

// harness wires a pipe transport to a scripted responder standing in for
// gdb. The responder sees each framed command line and writes back whatever
// the script returns.
type harness struct {
	tr    *Transport
	lines chan string // commands as written by the transport
	out   *io.PipeWriter
}

func newHarness(script func(cmd string) []string) *harness {
	respR, respW := io.Pipe()
	cmdR, cmdW := io.Pipe()

	h := &harness{
		tr:    newPipeTransport(respR, cmdW, logging.Discard()),
		lines: make(chan string, 16),
		out:   respW,
	}
	go func() {
		scanner := bufio.NewScanner(cmdR)
		for scanner.Scan() {
			line := scanner.Text()
			h.lines <- line
			if script == nil {
				continue
			}
			for _, reply := range script(line) {
				h.inject(reply)
			}
		}
	}()
	return h
}

// inject writes one raw MI line as if gdb had produced it.
func (h *harness) inject(line string) {
	_, _ = io.WriteString(h.out, line+"\n")
}

func (h *harness) closeOutput() {
	_ = h.out.Close()
}

// stripToken removes the decimal token prefix from a framed command.
func stripToken(line string) string {
	return strings.TrimLeft(line, "0123456789")
}

var _ = Describe("Transport", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("should frame commands with monotonically increasing tokens", func() {
		h := newHarness(func(cmd string) []string {
			return []string{stripTokenKeep(cmd) + "^done"}
		})
		defer h.closeOutput()

		for i := 1; i <= 3; i++ {
			_, err := h.tr.Submit(ctx, "-noop")
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(<-h.lines).To(Equal("1-noop"))
		Expect(<-h.lines).To(Equal("2-noop"))
		Expect(<-h.lines).To(Equal("3-noop"))
	})

	It("should resolve a submit with its matching tokened result", func() {
		h := newHarness(func(cmd string) []string {
			if stripToken(cmd) == "-data-evaluate-expression \"x\"" {
				return []string{cmd[:1] + `^done,value="42"`}
			}
			return []string{cmd[:1] + "^done"}
		})
		defer h.closeOutput()

		rec, err := h.tr.Submit(ctx, `-data-evaluate-expression "x"`)
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.Class).To(Equal(ClassDone))
		Expect(rec.Payload.Str("value")).To(Equal("42"))
	})

	It("should resolve the oldest pending request for an untokened result", func() {
		h := newHarness(func(cmd string) []string {
			return []string{`^done,value="untokened"`}
		})
		defer h.closeOutput()

		rec, err := h.tr.Submit(ctx, "-old-style")
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.Payload.Str("value")).To(Equal("untokened"))
	})

	It("should fan async and stream records to Events in wire order", func() {
		h := newHarness(nil)
		defer h.closeOutput()

		h.inject(`*running,thread-id="all"`)
		h.inject(`~"console text\n"`)
		h.inject(`=library-loaded,id="/lib/libc.so.6"`)

		Eventually(h.tr.Events()).Should(Receive(WithTransform(
			func(r Record) string { return r.Class }, Equal("running"))))
		Eventually(h.tr.Events()).Should(Receive(WithTransform(
			func(r Record) string { return r.Text }, Equal("console text\n"))))
		Eventually(h.tr.Events()).Should(Receive(WithTransform(
			func(r Record) string { return r.Class }, Equal("library-loaded"))))
	})

	It("should consume prompt markers silently", func() {
		h := newHarness(nil)
		defer h.closeOutput()

		h.inject("(gdb)")
		h.inject("(gdb)")
		h.inject(`*stopped,reason="breakpoint-hit"`)

		var rec Record
		Eventually(h.tr.Events()).Should(Receive(&rec))
		Expect(rec.IsStop()).To(BeTrue())
	})

	It("should skip malformed lines without dying", func() {
		h := newHarness(nil)
		defer h.closeOutput()

		h.inject(`!garbage`)
		h.inject(`*stopped,reason="signal-received"`)

		var rec Record
		Eventually(h.tr.Events()).Should(Receive(&rec))
		Expect(rec.Class).To(Equal(ClassStopped))
	})

	It("should fail pending requests with TransportClosed when the reader ends", func() {
		h := newHarness(nil)

		errCh := make(chan error, 1)
		go func() {
			_, err := h.tr.Submit(ctx, "-hangs-forever")
			errCh <- err
		}()
		Eventually(h.lines).Should(Receive())

		h.closeOutput()
		var err error
		Eventually(errCh, time.Second).Should(Receive(&err))
		Expect(err).To(MatchError(ErrTransportClosed))
	})

	It("should close the events channel on shutdown", func() {
		h := newHarness(nil)
		h.closeOutput()
		Eventually(h.tr.Events()).Should(BeClosed())
	})

	It("should reject submits after close", func() {
		h := newHarness(nil)
		h.closeOutput()
		Eventually(h.tr.Events()).Should(BeClosed())

		_, err := h.tr.Submit(ctx, "-late")
		Expect(err).To(MatchError(ErrTransportClosed))
	})

	It("should time out locally when no result arrives", func() {
		h := newHarness(nil) // never responds
		defer h.closeOutput()

		tctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		_, err := h.tr.Submit(tctx, "-slow")
		Expect(err).To(MatchError(ErrTimeout))
	})

	It("should capture console stream text during SubmitCapture", func() {
		h := newHarness(func(cmd string) []string {
			return []string{
				`~"type = struct Node {\n"`,
				`~"    int id;\n"`,
				`~"}\n"`,
				cmd[:1] + "^done",
			}
		})
		defer h.closeOutput()

		rec, text, err := h.tr.SubmitCapture(ctx, `-interpreter-exec console "ptype Node"`)
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.Class).To(Equal(ClassDone))
		Expect(text).To(Equal("type = struct Node {\n    int id;\n}\n"))

		// Captured lines never appear on the events stream.
		Consistently(h.tr.Events(), 100*time.Millisecond).ShouldNot(Receive())
	})
})

// stripTokenKeep returns the token prefix of a framed command.
func stripTokenKeep(line string) string {
	for i := 0; i < len(line); i++ {
		if line[i] < '0' || line[i] > '9' {
			return line[:i]
		}
	}
	return line
}
