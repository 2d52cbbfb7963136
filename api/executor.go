// Package api
// Author: momentics
//
// Executor contract for pipeline task dispatch.

package api

// Executor abstracts parallel execution of pipeline tasks.
type Executor interface {
	// Submit schedules task for execution. It never blocks; a full queue
	// yields ErrResourceExhausted.
	Submit(task func()) error

	// NumWorkers returns current number of active worker routines.
	NumWorkers() int

	// Close stops accepting tasks and waits for running ones to return.
	Close()
}
