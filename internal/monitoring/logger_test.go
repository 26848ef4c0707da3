package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	saved := Logf
	t.Cleanup(func() { Logf = saved })

	var lines []string
	SetLogger(func(format string, v ...any) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	Logf("engine: tick %d", 3)

	SetLogger(nil)
	Logf("engine: muted")

	if len(lines) != 1 || lines[0] != "engine: tick 3" {
		t.Errorf("lines = %q, want [\"engine: tick 3\"]", lines)
	}
}
