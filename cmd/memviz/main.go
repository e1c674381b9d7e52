package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/code0-god/gdb-memviz/config"
	"github.com/code0-god/gdb-memviz/internal/buildc"
	"github.com/code0-god/gdb-memviz/internal/logging"
	"github.com/code0-god/gdb-memviz/internal/mi"
	"github.com/code0-god/gdb-memviz/internal/repl"
	"github.com/code0-god/gdb-memviz/internal/session"
	"github.com/code0-god/gdb-memviz/internal/tui"
	"github.com/code0-god/gdb-memviz/internal/ws"
)

// Exit codes.
const (
	exitOK         = 0
	exitBadArgs    = 2
	exitNoDebugger = 3
	exitBadTarget  = 4
	exitGdbDied    = 5
)

var (
	flagGdb        string
	flagVerbose    bool
	flagLogFile    string
	flagTui        bool
	flagServe      string
	flagConfig     string
	flagSymbolMode string
)

var rootCmd = &cobra.Command{
	Use:   "memviz [flags] <target> [args...]",
	Short: "Interactive memory visualizer for native executables",
	Long: `memviz drives gdb's machine interface to present a structured view of a
C/C++ program's live memory: stack locals, globals, raw bytes, type
layouts, pointer chains, and virtual memory regions.

The target is an executable, or a single C/C++ source file which is
compiled with debug info to <name>-memviz.out first.`,
	Args:          cobra.MinimumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVar(&flagGdb, "gdb", "", "gdb binary to drive (env override: GDB)")
	rootCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "mirror protocol traffic to stderr")
	rootCmd.Flags().StringVar(&flagLogFile, "log-file", "", "log file path (logs are always written)")
	rootCmd.Flags().BoolVarP(&flagTui, "tui", "t", false, "run the terminal UI shell")
	rootCmd.Flags().StringVar(&flagServe, "serve", "", "serve session events to websocket observers on this address")
	rootCmd.Flags().StringVar(&flagConfig, "config", "", "config file (yaml)")
	rootCmd.Flags().StringVar(&flagSymbolMode, "symbol-index-mode", "debug-only",
		"symbol index hint: debug-only, debug-and-nondebug, or none")
	rootCmd.Flags().SetInterspersed(false)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(exitBadArgs)
	}
}

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func fail(code int, format string, args ...any) error {
	return &exitError{code: code, err: fmt.Errorf(format, args...)}
}

func run(cmd *cobra.Command, args []string) error {
	switch flagSymbolMode {
	case "debug-only", "debug-and-nondebug", "none":
	default:
		return fail(exitBadArgs,
			"invalid --symbol-index-mode %q, expected one of: debug-only, debug-and-nondebug, none", flagSymbolMode)
	}

	cfg := config.Default()
	if flagConfig != "" {
		loaded, err := config.Load(flagConfig)
		if err != nil {
			return fail(exitBadArgs, "config: %v", err)
		}
		cfg = loaded
	}

	logPath := flagLogFile
	if logPath == "" {
		logPath = cfg.Logging.File
	}
	logger, closeLog, err := logging.Setup(logPath, flagVerbose)
	if err != nil {
		return fail(exitBadArgs, "%v", err)
	}
	defer closeLog()
	logger.Printf("[Main] symbol-index-mode=%s", flagSymbolMode)

	target := args[0]
	targetArgs := args[1:]
	if _, serr := os.Stat(target); serr != nil {
		return fail(exitBadTarget, "target unreadable: %s", target)
	}
	if buildc.IsSourceFile(target) {
		built, berr := buildc.Compile(target, logger)
		if berr != nil {
			return fail(exitBadTarget, "%v", berr)
		}
		target = built
	}

	gdbPath := mi.ResolveGdbPath(firstNonEmpty(flagGdb, cfg.Gdb.Path))

	spin := startSpinner("launching " + gdbPath + "...")
	tr, err := mi.Spawn(gdbPath, target, targetArgs, logger)
	if err != nil {
		stopSpinner(spin)
		return fail(exitNoDebugger, "%v", err)
	}

	sess := session.New(tr, target, logger, session.Options{
		QueryTimeout: cfg.Timeouts.Query.Std(),
		ExecTimeout:  cfg.Timeouts.Exec.Std(),
	})
	defer func() { _ = sess.Close() }()

	ctx := context.Background()
	if spin != nil {
		spin.Suffix = " running to main..."
	}
	stop, err := sess.Arm(ctx)
	stopSpinner(spin)
	if err != nil {
		if errors.Is(err, mi.ErrTransportClosed) {
			return fail(exitGdbDied, "gdb exited unexpectedly: %v", err)
		}
		return fail(exitGdbDied, "%v", err)
	}
	if flagSymbolMode == "debug-and-nondebug" {
		sess.WarmSymbolIndex(ctx)
	}

	var hub *ws.Hub
	if flagServe != "" {
		hub = ws.NewHub(target, logger)
		go hub.Run()
		defer hub.Shutdown()
		server := ws.NewServer(flagServe, target, hub, logger)
		server.SetArch(sess.Profile().Arch)
		go func() {
			if serr := server.Serve(); serr != nil {
				logger.Printf("[Main] observer server: %v", serr)
			}
		}()
		// Every stop reaches observers, whichever shell triggered it.
		go func(stops <-chan session.StopEvent) {
			for ev := range stops {
				hub.PublishStop(ws.StopEventMsg{
					Reason:   ev.Reason,
					File:     ev.Frame.File,
					Line:     ev.Frame.Line,
					Func:     ev.Frame.Func,
					Exited:   ev.Exited,
					ExitCode: ev.ExitCode,
				})
			}
		}(sess.Observe())
	}

	if flagTui {
		return tui.New(sess, logger).Run(ctx)
	}

	fmt.Println(stop)
	fmt.Println("Type 'help' for commands.")
	return repl.New(sess, hub, logger).Run(ctx)
}

func startSpinner(suffix string) *spinner.Spinner {
	if flagVerbose || !isatty.IsTerminal(os.Stdout.Fd()) {
		return nil
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + suffix
	s.Start()
	return s
}

func stopSpinner(s *spinner.Spinner) {
	if s != nil {
		s.Stop()
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
