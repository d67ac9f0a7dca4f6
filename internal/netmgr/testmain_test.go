package netmgr_test

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain checks for goroutine leaks after all tests in this package
// complete, chiefly the per-socket receive loops and worker pool Manager
// spins up.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
