package ir

import (
	"fmt"
	"sync/atomic"
)

// nameCounter backs UniqueName. It is process-wide so concurrent
// lowering jobs never collide.
var nameCounter atomic.Int64

// UniqueName returns a fresh name starting with prefix. Monotonic and
// safe for concurrent use.
func UniqueName(prefix string) string {
	n := nameCounter.Add(1)
	return fmt.Sprintf("%s%d", prefix, n-1)
}

// ResetNameCounterForTesting rewinds the counter so tests produce
// stable names. Never call outside tests.
func ResetNameCounterForTesting() {
	nameCounter.Store(0)
}
