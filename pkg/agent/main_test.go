package agent

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies that no test in this package leaks goroutines. The stop
// signal watcher and endpoint timeouts all spawn short-lived goroutines that
// must be released when their cancel funcs run.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
