package session

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/code0-god/gdb-memviz/internal/logging"
	"github.com/code0-god/gdb-memviz/internal/memview"
	"github.com/code0-god/gdb-memviz/internal/mi"
)

func TestSession(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Session Suite")
}

// fakeTransport scripts the debugger side: a handler per command prefix,
// plus an events channel the tests feed with async records.
type fakeTransport struct {
	handlers []*fakeHandler
	events   chan mi.Record
	calls    []string
}

type fakeHandler struct {
	prefix  string
	result  string   // raw MI result line, e.g. `^done,value="42"`
	console []string // decoded console text chunks for SubmitCapture
	after   func()   // runs after the command is seen (e.g. push *stopped)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan mi.Record, 64)}
}

func (f *fakeTransport) on(prefix, result string) *fakeHandler {
	h := &fakeHandler{prefix: prefix, result: result}
	f.handlers = append(f.handlers, h)
	return h
}

func (f *fakeTransport) onConsole(prefix, result string, console ...string) {
	f.handlers = append(f.handlers, &fakeHandler{prefix: prefix, result: result, console: console})
}

func (f *fakeTransport) find(command string) *fakeHandler {
	for _, h := range f.handlers {
		if strings.HasPrefix(command, h.prefix) {
			return h
		}
	}
	return nil
}

func (f *fakeTransport) Submit(_ context.Context, command string) (mi.Record, error) {
	rec, _, err := f.dispatch(command)
	return rec, err
}

func (f *fakeTransport) SubmitCapture(_ context.Context, command string) (mi.Record, string, error) {
	return f.dispatch(command)
}

func (f *fakeTransport) dispatch(command string) (mi.Record, string, error) {
	f.calls = append(f.calls, command)
	h := f.find(command)
	if h == nil {
		rec, _ := mi.ParseRecord(`^error,msg="unscripted command"`)
		return rec, "", fmt.Errorf("gdb: unscripted command %q", command)
	}
	rec, err := mi.ParseRecord(h.result)
	if err != nil {
		return mi.Record{}, "", err
	}
	if h.after != nil {
		h.after()
	}
	return rec, strings.Join(h.console, ""), nil
}

func (f *fakeTransport) Events() <-chan mi.Record { return f.events }
func (f *fakeTransport) Interrupt() error         { return nil }
func (f *fakeTransport) Close() error             { close(f.events); return nil }

// push injects one async record as if it had arrived on the wire.
func (f *fakeTransport) push(line string) {
	rec, err := mi.ParseRecord(line)
	Expect(err).NotTo(HaveOccurred())
	f.events <- rec
}

const stoppedAtMain = `*stopped,reason="breakpoint-hit",frame={addr="0x555555555189",func="main",file="sample.c",fullname="/tmp/sample.c",line="37",arch="i386:x86-64"}`

func scriptArm(f *fakeTransport) {
	f.on("-gdb-version", `^done`)
	f.on("-list-features", `^done,features=["data-read-memory-bytes"]`)
	f.on("-break-insert main", `^done,bkpt={number="1",file="sample.c",line="37",func="main"}`)
	runHandler := f.on("-exec-run", `^running`)
	runHandler.after = func() { f.push(stoppedAtMain) }
	f.on(`-data-evaluate-expression "sizeof(void*)"`, `^done,value="8"`)
	f.on("-gdb-show endian", `^done,value="The target endianness is set automatically (currently little endian)."`)
	f.on("-gdb-show architecture", `^done,value="i386:x86-64"`)
}

// armed builds a session stopped at main with an 8-byte little-endian
// profile.
func armed(f *fakeTransport) *Session {
	scriptArm(f)
	s := New(f, "/tmp/sample", logging.Discard(), Options{})
	ev, err := s.Arm(context.Background())
	Expect(err).NotTo(HaveOccurred())
	Expect(ev.Frame.Func).To(Equal("main"))
	Eventually(s.State).Should(Equal(StateStopped))
	return s
}

var _ = Describe("Session", func() {
	var (
		f   *fakeTransport
		ctx context.Context
	)

	BeforeEach(func() {
		f = newFakeTransport()
		ctx = context.Background()
	})

	Describe("Arm", func() {
		It("should run to the entry breakpoint and establish the profile", func() {
			s := armed(f)
			prof := s.Profile()
			Expect(prof.PointerSize).To(Equal(8))
			Expect(prof.Endian).To(Equal(memview.EndianLittle))
			Expect(prof.Arch).To(Equal("i386:x86-64"))
		})

		It("should fail when the target exits before reaching entry", func() {
			scriptArm(f)
			for i := range f.handlers {
				if f.handlers[i].prefix == "-exec-run" {
					f.handlers[i].after = func() {
						f.push(`*stopped,reason="exited-normally"`)
					}
				}
			}
			s := New(f, "/tmp/sample", logging.Discard(), Options{})
			_, err := s.Arm(ctx)
			Expect(err).To(MatchError(ErrExited))
		})
	})

	Describe("state machine", func() {
		It("should reject queries before the first stop", func() {
			s := New(f, "/tmp/sample", logging.Discard(), Options{})
			_, err := s.Locals(ctx)
			Expect(err).To(MatchError(ErrNotStopped))
		})

		It("should apply stops seen while no query is in flight", func() {
			s := armed(f)
			f.push(`*stopped,reason="end-stepping-range",frame={func="main",file="sample.c",line="40"}`)
			Eventually(func() int { return s.LastStop().Frame.Line }).Should(Equal(40))
			Expect(s.State()).To(Equal(StateStopped))
		})

		It("should transition to Exited and reject execution with not-running", func() {
			s := armed(f)
			f.push(`*stopped,reason="exited-normally"`)
			Eventually(s.State).Should(Equal(StateExited))

			_, err := s.Next(ctx)
			Expect(err).To(MatchError(ErrNotRunning))

			_, err = s.Locals(ctx)
			Expect(err).To(MatchError(ErrExited))
		})

		It("should never regress from Exited", func() {
			s := armed(f)
			f.push(`*stopped,reason="exited",exit-code="01"`)
			Eventually(s.State).Should(Equal(StateExited))
			Expect(s.LastStop().ExitCode).To(Equal(1))

			f.push(`*stopped,reason="breakpoint-hit",frame={func="main",line="1"}`)
			Consistently(s.State).Should(Equal(StateExited))
		})
	})

	Describe("execution operations", func() {
		It("should submit the command and wait for the stop", func() {
			s := armed(f)
			h := f.on("-exec-next", `^running`)
			h.after = func() {
				f.push(`*stopped,reason="end-stepping-range",frame={func="main",file="sample.c",line="38"}`)
			}
			ev, err := s.Next(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(ev.Reason).To(Equal("end-stepping-range"))
			Expect(ev.Frame.Line).To(Equal(38))
		})

		It("should return non-breakpoint stop reasons unchanged", func() {
			s := armed(f)
			h := f.on("-exec-continue", `^running`)
			h.after = func() {
				f.push(`*stopped,reason="signal-received",signal-name="SIGSEGV",frame={func="main",line="39",file="sample.c"}`)
			}
			ev, err := s.Continue(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(ev.Reason).To(Equal("signal-received"))
		})

		It("should return the breakpoint number from break", func() {
			s := armed(f)
			f.on("-break-insert sample.c:40", `^done,bkpt={number="2",file="sample.c",line="40"}`)
			bp, err := s.Break(ctx, "sample.c:40")
			Expect(err).NotTo(HaveOccurred())
			Expect(bp.Number).To(Equal(2))
			Expect(bp.Line).To(Equal(40))
		})
	})

	Describe("Locals", func() {
		It("should list locals and recover elided values and types", func() {
			s := armed(f)
			f.on("-stack-list-locals",
				`^done,locals=[{name="x",type="int",value="42"},{name="node0",type="struct Node"},{name="mystery"}]`)
			f.on(`-data-evaluate-expression "node0"`, `^done,value="{id = 0, count = 10}"`)
			f.on(`-data-evaluate-expression "mystery"`, `^done,value="7"`)
			f.on(`-var-create - * "mystery"`, `^done,name="var1",numchild="0",type="int"`)
			f.on("-var-delete var1", `^done`)
			f.on(`-data-evaluate-expression "&x"`, `^done,value="0x7ffd0000a010"`)
			f.on(`-data-evaluate-expression "&node0"`, `^done,value="0x7ffd0000a020"`)
			f.on(`-data-evaluate-expression "&mystery"`, `^error,msg="no address"`)

			locals, err := s.Locals(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(locals).To(HaveLen(3))

			Expect(locals[0]).To(Equal(Local{Name: "x", Type: "int", Value: "42", Addr: 0x7ffd0000a010}))
			Expect(locals[1].Value).To(Equal("{id = 0, count = 10}"))
			Expect(locals[2].Type).To(Equal("int"))
			Expect(locals[2].Addr).To(BeZero())
		})
	})

	Describe("Mem", func() {
		scriptMem := func(size int, hexBytes string) {
			f.on(`-data-evaluate-expression "sizeof(node0)"`, fmt.Sprintf(`^done,value="%d"`, size))
			f.on(`-data-evaluate-expression "&(node0)"`, `^done,value="0x7ffd0000a020"`)
			f.on(`-var-create - * "node0"`, `^done,name="var1",type="struct Node"`)
			f.on("-var-delete var1", `^done`)
			f.on("-data-read-memory-bytes",
				fmt.Sprintf(`^done,memory=[{begin="0x7ffd0000a020",offset="0x0",end="0x7ffd0000a040",contents="%s"}]`, hexBytes))
		}

		It("should size the read with sizeof and decode the bytes", func() {
			s := armed(f)
			scriptMem(8, "000000000a000000")
			m, err := s.Mem(ctx, "node0", 0, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(m.Requested).To(Equal(8))
			Expect(m.Delivered()).To(Equal(8))
			Expect(m.Bytes).To(Equal([]byte{0, 0, 0, 0, 0x0a, 0, 0, 0}))
			Expect(m.WordSize).To(Equal(8))
			Expect(m.Endian).To(Equal(memview.EndianLittle))
			Expect(m.Truncated).To(BeFalse())
		})

		It("should cap explicit lengths at 512 and mark truncation", func() {
			s := armed(f)
			scriptMem(8, strings.Repeat("00", 512))
			m, err := s.Mem(ctx, "node0", 4096, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(m.Requested).To(Equal(512))
			Expect(m.Delivered()).To(Equal(512))
			Expect(m.Truncated).To(BeTrue())
		})

		It("should return an empty read for an explicit zero length", func() {
			s := armed(f)
			scriptMem(8, "")
			m, err := s.Mem(ctx, "node0", 0, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(m.Requested).To(BeZero())
			Expect(m.Delivered()).To(BeZero())
			Expect(m.Truncated).To(BeFalse())
		})
	})

	Describe("ViewSymbol", func() {
		It("should build a struct layout with refined offsets", func() {
			s := armed(f)
			f.on(`-data-evaluate-expression "sizeof(node0)"`, `^done,value="32"`)
			f.on(`-var-create - * "node0"`, `^done,name="var1",type="struct Node"`)
			f.on("-var-delete var1", `^done`)
			f.onConsole(`-interpreter-exec console "ptype /o node0"`, `^done`,
				"type = struct Node {\n",
				"/*      0      |       4 */    int id;\n",
				"/*      4      |       4 */    int count;\n",
				"/*      8      |      16 */    char name[16];\n",
				"/*     24      |       8 */    struct Node *next;\n",
				"                               /* total size (bytes):   32 */\n",
				"}\n")
			f.on(`-data-evaluate-expression "sizeof(node0.id)"`, `^done,value="4"`)
			f.on(`-data-evaluate-expression "sizeof(node0.count)"`, `^done,value="4"`)
			f.on(`-data-evaluate-expression "sizeof(node0.name)"`, `^done,value="16"`)
			f.on(`-data-evaluate-expression "sizeof(node0.next)"`, `^done,value="8"`)
			f.on(`-data-evaluate-expression "(char *)&(node0.id) - (char *)&(node0)"`, `^done,value="0"`)
			f.on(`-data-evaluate-expression "(char *)&(node0.count) - (char *)&(node0)"`, `^done,value="4"`)
			f.on(`-data-evaluate-expression "(char *)&(node0.name) - (char *)&(node0)"`, `^done,value="8"`)
			f.on(`-data-evaluate-expression "(char *)&(node0.next) - (char *)&(node0)"`, `^done,value="24"`)
			f.on(`-data-evaluate-expression "&(node0)"`, `^done,value="0x7ffd0000a020"`)
			f.on("-data-read-memory-bytes",
				`^done,memory=[{begin="0x7ffd0000a020",offset="0x0",end="0x7ffd0000a040",contents="`+strings.Repeat("00", 32)+`"}]`)

			v, err := s.ViewSymbol(ctx, "node0")
			Expect(err).NotTo(HaveOccurred())
			Expect(v.Shape.Kind).To(Equal(memview.ShapeStruct))
			Expect(v.Shape.Size).To(Equal(32))
			Expect(v.Shape.Fields).To(HaveLen(4))
			Expect(v.Shape.Fields[0].Offset).To(Equal(0))
			Expect(v.Shape.Fields[1].Offset).To(Equal(4))
			Expect(v.Shape.Fields[2].Offset).To(Equal(8))
			Expect(v.Shape.Fields[3].Offset).To(Equal(24))
			Expect(v.Read.Delivered()).To(Equal(32))
		})

		It("should present a pointer symbol as a pointer", func() {
			s := armed(f)
			f.on(`-data-evaluate-expression "sizeof(node_ptr)"`, `^done,value="8"`)
			f.on(`-var-create - * "node_ptr"`, `^done,name="var1",type="struct Node *"`)
			f.on("-var-delete var1", `^done`)
			f.on(`-data-evaluate-expression "&(node_ptr)"`, `^done,value="0x7ffd0000a060"`)
			f.on("-data-read-memory-bytes",
				`^done,memory=[{begin="0x7ffd0000a060",offset="0x0",end="0x7ffd0000a068",contents="20a000007ffd0000"}]`)

			v, err := s.ViewSymbol(ctx, "node_ptr")
			Expect(err).NotTo(HaveOccurred())
			Expect(v.Shape.Kind).To(Equal(memview.ShapePointer))
			Expect(v.Shape.Pointee).To(Equal("struct Node"))
		})
	})

	Describe("Follow", func() {
		nodePtypeConsole := []string{
			"type = struct Node {\n",
			"/*      0      |       4 */    int id;\n",
			"/*      4      |       4 */    int count;\n",
			"/*      8      |      16 */    char name[16];\n",
			"/*     24      |       8 */    struct Node *next;\n",
			"                               /* total size (bytes):   32 */\n",
			"}\n",
		}

		scriptPointee := func() {
			f.on(`-var-create - * "node_ptr"`, `^done,name="var1",type="struct Node *"`)
			f.on("-var-delete var1", `^done`)
			f.onConsole(`-interpreter-exec console "ptype /o struct Node"`, `^done`, nodePtypeConsole...)
		}

		readAt := func(addr uint64, next uint64) {
			f.on(fmt.Sprintf("-data-read-memory-bytes 0x%x 8", addr+24),
				fmt.Sprintf(`^done,memory=[{begin="0x0",offset="0x0",end="0x8",contents="%016x"}]`, swap64(next)))
		}

		It("should walk a chain and stop on NULL", func() {
			s := armed(f)
			scriptPointee()
			f.on(`-data-evaluate-expression "node_ptr"`, `^done,value="0x1000"`)
			f.on(`-data-evaluate-expression "*(struct Node *) 0x1000"`, `^done,value="{id = 0}"`)
			f.on(`-data-evaluate-expression "*(struct Node *) 0x2000"`, `^done,value="{id = 1}"`)
			readAt(0x1000, 0x2000)
			readAt(0x2000, 0)

			hops, err := s.Follow(ctx, "node_ptr", 4)
			Expect(err).NotTo(HaveOccurred())
			Expect(hops).To(HaveLen(3))
			Expect(hops[0].Expr).To(Equal("node_ptr"))
			Expect(hops[0].Value).To(Equal(uint64(0x1000)))
			Expect(hops[1].Expr).To(Equal("node_ptr->next"))
			Expect(hops[2].Expr).To(Equal("node_ptr->next->next"))
			Expect(hops[2].IsNull).To(BeTrue())
		})

		It("should detect cycles", func() {
			s := armed(f)
			scriptPointee()
			f.on(`-data-evaluate-expression "node_ptr"`, `^done,value="0x1000"`)
			f.on(`-data-evaluate-expression "*(struct Node *) 0x1000"`, `^done,value="{id = 0}"`)
			f.on(`-data-evaluate-expression "*(struct Node *) 0x2000"`, `^done,value="{id = 1}"`)
			readAt(0x1000, 0x2000)
			readAt(0x2000, 0x1000) // back edge

			hops, err := s.Follow(ctx, "node_ptr", 8)
			Expect(err).NotTo(HaveOccurred())
			Expect(hops).To(HaveLen(3))
			Expect(hops[2].IsCycle).To(BeTrue())
			Expect(hops[2].Value).To(Equal(uint64(0x1000)))
		})

		It("should return a single NULL hop for a null pointer", func() {
			s := armed(f)
			scriptPointee()
			f.on(`-data-evaluate-expression "node_ptr"`, `^done,value="0x0"`)

			hops, err := s.Follow(ctx, "node_ptr", 8)
			Expect(err).NotTo(HaveOccurred())
			Expect(hops).To(HaveLen(1))
			Expect(hops[0].IsNull).To(BeTrue())
			Expect(hops[0].Depth).To(BeZero())
		})

		It("should stop at the depth bound", func() {
			s := armed(f)
			scriptPointee()
			f.on(`-data-evaluate-expression "node_ptr"`, `^done,value="0x1000"`)
			f.on(`-data-evaluate-expression "*(struct Node *) 0x1000"`, `^done,value="{id = 0}"`)
			f.on(`-data-evaluate-expression "*(struct Node *) 0x2000"`, `^done,value="{id = 1}"`)
			readAt(0x1000, 0x2000)
			readAt(0x2000, 0x3000)

			hops, err := s.Follow(ctx, "node_ptr", 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(hops).To(HaveLen(2))
			Expect(hops[1].Value).To(Equal(uint64(0x2000)))
		})

		It("should reject non-pointer symbols", func() {
			s := armed(f)
			f.on(`-var-create - * "x"`, `^done,name="var1",type="int"`)
			f.on("-var-delete var1", `^done`)
			_, err := s.Follow(ctx, "x", 8)
			Expect(err).To(MatchError(ContainSubstring("not a pointer")))
		})
	})

	Describe("Globals", func() {
		It("should use the structured symbol listing when available", func() {
			s := armed(f)
			f.on("-stack-info-frame", `^done,frame={level="0",func="main",file="sample.c",fullname="/tmp/sample.c",line="37"}`)
			f.on("-symbol-info-variables",
				`^done,symbols={debug=[{filename="sample.c",fullname="/tmp/sample.c",symbols=[{line="14",name="g_counter",type="int",description="int g_counter;"},{line="15",name="g_message",type="char [16]",description="char g_message[16];"}]}]}`)
			f.on(`-data-evaluate-expression "g_counter"`, `^done,value="1234"`)
			f.on(`-data-evaluate-expression "&g_counter"`, `^done,value="0x404010"`)
			f.on(`-data-evaluate-expression "g_message"`, `^done,value="\"hello-memviz\""`)
			f.on(`-data-evaluate-expression "&g_message"`, `^done,value="0x404020"`)

			globals, err := s.Globals(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(globals).To(HaveLen(2))
			Expect(globals[0].Name).To(Equal("g_counter"))
			Expect(globals[0].Value).To(Equal("1234"))
			Expect(globals[0].Addr).To(Equal(uint64(0x404010)))
			Expect(globals[1].Type).To(Equal("char [16]"))
		})

		It("should degrade to parsing the console listing", func() {
			s := armed(f)
			f.on("-stack-info-frame", `^done,frame={level="0",func="main",file="sample.c",fullname="/tmp/sample.c",line="37"}`)
			f.on("-symbol-info-variables", `^error,msg="Undefined MI command"`)
			f.onConsole(`-interpreter-exec console "info variables"`, `^done`,
				"All defined variables:\n",
				"\n",
				"File /tmp/sample.c:\n",
				"14:\tint g_counter;\n",
				"15:\tchar g_message[16];\n",
				"\n",
				"Non-debugging symbols:\n",
				"0x0000000000400318  _init\n")
			f.on(`-data-evaluate-expression "g_counter"`, `^done,value="1234"`)
			f.on(`-data-evaluate-expression "&g_counter"`, `^done,value="0x404010"`)
			f.on(`-data-evaluate-expression "g_message"`, `^done,value="\"hello-memviz\""`)
			f.on(`-data-evaluate-expression "&g_message"`, `^done,value="0x404020"`)

			globals, err := s.Globals(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(globals).To(HaveLen(2))
			Expect(globals[0].Name).To(Equal("g_counter"))
			Expect(globals[1].Name).To(Equal("g_message"))
			Expect(globals[1].Type).To(Equal("char"))
		})
	})

	Describe("InferiorPid", func() {
		It("should prefer the structured thread-group listing", func() {
			s := armed(f)
			f.on("-list-thread-groups", `^done,groups=[{id="i1",type="process",pid="4321",executable="/tmp/sample"}]`)
			pid, err := s.InferiorPid(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(pid).To(Equal(4321))
		})

		It("should fall back to console info proc", func() {
			s := armed(f)
			f.on("-list-thread-groups", `^error,msg="nope"`)
			f.onConsole(`-interpreter-exec console "info proc"`, `^done`,
				"process 9876\n", "cmdline = '/tmp/sample'\n")
			pid, err := s.InferiorPid(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(pid).To(Equal(9876))
		})
	})
})

// swap64 renders a little-endian byte image of v as a big-endian hex
// literal, matching gdb's contents="..." byte order.
func swap64(v uint64) uint64 {
	var out uint64
	for i := 0; i < 8; i++ {
		out = out<<8 | (v & 0xff)
		v >>= 8
	}
	return out
}

var _ = Describe("timeouts", func() {
	It("should carry distinct defaults for queries and execution", func() {
		f := newFakeTransport()
		s := New(f, "/tmp/sample", logging.Discard(), Options{})
		Expect(s.opts.QueryTimeout).To(Equal(5 * time.Second))
		Expect(s.opts.ExecTimeout).To(Equal(60 * time.Second))
	})
})
