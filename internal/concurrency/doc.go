// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Concurrency primitives shared by the event loops: the bounded executor
// that runs pipeline tasks off the loops, and the wakeable task queue other
// goroutines use to hand work to a loop.
package concurrency
