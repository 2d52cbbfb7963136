// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package http1 is the incremental HTTP/1.x byte codec: it turns raw socket
// bytes into request/response heads and body chunks and back.
//
// Parsers never assume a whole message is present. Every parse call takes the
// bytes accumulated so far and reports one of three outcomes: incomplete
// (a nil result with zero bytes consumed), a parsed unit with the number of
// bytes it occupied, or a *ProtocolError describing a violation. A
// ProtocolError is terminal for the message and carries the status code a
// server should answer with.
package http1
