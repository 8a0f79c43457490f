// Package debug provides env-gated diagnostic output for tbd.
// Debug logging goes to stderr and is enabled by TBD_DEBUG or --verbose.
package debug

import (
	"fmt"
	"os"
)

var (
	enabled     = os.Getenv("TBD_DEBUG") != ""
	verboseMode = false
	quietMode   = false
)

// Enabled reports whether debug output is active.
func Enabled() bool {
	return enabled || verboseMode
}

// SetVerbose enables verbose/debug output.
func SetVerbose(verbose bool) {
	verboseMode = verbose
}

// SetQuiet enables quiet mode (suppress non-essential output).
func SetQuiet(quiet bool) {
	quietMode = quiet
}

// IsQuiet returns true if quiet mode is enabled.
func IsQuiet() bool {
	return quietMode
}

// Logf writes one debug line to stderr when debugging is enabled. A
// missing trailing newline is added.
func Logf(format string, args ...interface{}) {
	if enabled || verboseMode {
		msg := fmt.Sprintf(format, args...)
		if len(msg) == 0 || msg[len(msg)-1] != '\n' {
			msg += "\n"
		}
		fmt.Fprint(os.Stderr, msg)
	}
}

// PrintNormal prints informational output unless quiet mode is enabled.
func PrintNormal(format string, args ...interface{}) {
	if !quietMode {
		fmt.Printf(format, args...)
	}
}
