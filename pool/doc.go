// Package pool
// Author: momentics <momentics@gmail.com>
//
// Buffer pooling for the I/O path. Event loops borrow read scratch space
// and response encode buffers here instead of allocating per event.
package pool
