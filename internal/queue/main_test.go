package queue

import (
	"testing"

	"go.uber.org/goleak"
)

// Blocked Dequeue callers must never outlive their context or the queue.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
