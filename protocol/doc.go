// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Implements the WebSocket wire protocol (RFC 6455) for hioload-http.
//
// Includes:
//   - Incremental frame parsing over the connection's accumulated input
//   - Server and client frame encoding with rolling XOR masking
//   - Fragment reassembly with message size and UTF-8 enforcement
//   - Upgrade handshake validation and 101 response construction
//   - Close payload parsing and encoding
//
// Nothing here performs I/O; the server package feeds bytes in and writes
// the encoded output itself.
package protocol
