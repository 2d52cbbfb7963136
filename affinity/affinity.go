// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// CPU pinning for event loop threads. Platform implementations live in
// affinity_linux.go and affinity_other.go.

package affinity

import (
	"errors"
	"runtime"
)

// ErrUnsupported is returned where threads cannot be pinned.
var ErrUnsupported = errors.New("affinity: not supported on this platform")

// Pin locks the calling goroutine to its OS thread and restricts that
// thread to one CPU. slot selects the CPU among those the process may run
// on, wrapping around. The goroutine stays locked even when pinning fails
// and the thread exits with it.
func Pin(slot int) error {
	runtime.LockOSThread()
	if slot < 0 {
		return errors.New("affinity: negative slot")
	}
	return setAffinityPlatform(slot)
}
