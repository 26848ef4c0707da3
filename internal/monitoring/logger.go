// Package monitoring is the diagnostic log of the rig. Messages are tagged
// with the component that emits them ("engine: ...", "actuator: ...",
// "api: ...") so one stream can be filtered per subsystem. Operator-facing
// output of the CLI goes to stdout instead.
package monitoring

import (
	"log"
	"os"
)

var std = log.New(os.Stderr, "coolrig ", log.LstdFlags|log.Lmicroseconds)

// Logf writes one diagnostic line. Replace it with SetLogger.
var Logf = std.Printf

// SetLogger redirects diagnostics, for example into a test's log. nil mutes
// them, which the operator console needs while it owns the terminal.
func SetLogger(f func(format string, v ...any)) {
	if f == nil {
		Logf = func(string, ...any) {}
		return
	}
	Logf = f
}
