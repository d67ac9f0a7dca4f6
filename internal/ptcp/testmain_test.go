package ptcp_test

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain checks for goroutine leaks after all tests in this package
// complete, chiefly the external clock-driving loops the tests themselves
// spin up around an Engine (mirroring how cmd/natcorectl drives one).
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
