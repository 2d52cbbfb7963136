// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Error definitions for concurrency module.

package concurrency

import (
	"fmt"

	"github.com/momentics/hioload-http/api"
)

var (
	// ErrExecutorClosed indicates the executor has been shut down
	ErrExecutorClosed = fmt.Errorf("executor is closed: %w", api.ErrServerClosed)

	// ErrQueueFull indicates the executor backlog is at capacity
	ErrQueueFull = fmt.Errorf("executor queue is full: %w", api.ErrResourceExhausted)

	// ErrInvalidWorkerCount indicates invalid worker count configuration
	ErrInvalidWorkerCount = fmt.Errorf("invalid worker count: %w", api.ErrInvalidArgument)
)
