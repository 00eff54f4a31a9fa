// Package engine orchestrates asynchronous alignment jobs. Each submitted
// job gets its own tracker goroutine driving the dispatch-correlate-poll
// lifecycle against the remote service; the engine persists every state and
// progress change to the store and fans them out to SSE subscribers through
// the progress broker.
package engine
