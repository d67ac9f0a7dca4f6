package stun_test

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain checks for goroutine leaks after all tests in this package
// complete, chiefly the per-client-transaction goroutine Table.SendRequest
// spawns.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
