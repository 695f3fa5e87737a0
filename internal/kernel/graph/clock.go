package graph

import "time"

// nowMonotonic is the default wall-clock source for operator timing. Tests
// override it via Graph.NowFunc for determinism.
func nowMonotonic() int64 {
	return time.Now().UnixNano()
}
