package lexer

import (
	"fmt"
	"os"
)

// Warner receives non-fatal recovery diagnostics from the lexer. It is
// injected rather than hardwired so tests can assert on what was
// recovered from, per the repo's "inject the warning sink" design note.
type Warner func(format string, args ...any)

// Stderr is the default Warner: one line per warning, formatted
// "[WARNING] <text>", written to os.Stderr.
func Stderr(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "[WARNING] %s\n", fmt.Sprintf(format, args...))
}

// Discard silences all warnings.
func Discard(format string, args ...any) {}
