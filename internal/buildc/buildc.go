// Package buildc compiles a single C/C++ source target with debug info so
// the visualizer can be pointed at a .c file directly.
package buildc

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

var sourceExtensions = map[string]bool{
	".c": true, ".cc": true, ".cpp": true, ".cxx": true,
}

// IsSourceFile reports whether the target looks like a compilable source
// file rather than an executable.
func IsSourceFile(path string) bool {
	return sourceExtensions[strings.ToLower(filepath.Ext(path))]
}

// Compile builds the source with $CC (default cc), no optimization, full
// debug info, into <stem>-memviz.out next to the source. Returns the output
// path.
func Compile(src string, logger *log.Logger) (string, error) {
	cc := os.Getenv("CC")
	if cc == "" {
		cc = "cc"
	}
	stem := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	out := filepath.Join(filepath.Dir(src), stem+"-memviz.out")

	logger.Printf("[Build] %s -g -O0 -fno-omit-frame-pointer %s -o %s", cc, src, out)
	cmd := exec.Command(cc, "-g", "-O0", "-fno-omit-frame-pointer", src, "-o", out)
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("compile %s: %w", src, err)
	}
	return out, nil
}
