// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package transport provides the byte-stream transports the event loops
// drive: non-blocking TCP sockets with their listener, and a TLS layer that
// wraps any other transport through an in-memory record bridge.
//
// Every transport follows the api.Transport contract: Read and Write never
// block, return api.ErrWouldBlock when they cannot make progress, and Read
// reports an orderly peer close as io.EOF.
package transport
