// File: protocol/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

// FrameError is a protocol violation on an established WebSocket. Code is
// the close code the endpoint should fail the connection with.
type FrameError struct {
	Code   uint16
	Reason string
}

func (e *FrameError) Error() string {
	return "websocket: " + e.Reason
}

var (
	ErrReservedBits           = &FrameError{CloseProtocolError, "reserved bits set"}
	ErrReservedOpcode         = &FrameError{CloseProtocolError, "reserved opcode"}
	ErrNonMinimalLength       = &FrameError{CloseProtocolError, "payload length not minimally encoded"}
	ErrControlTooLong         = &FrameError{CloseProtocolError, "control frame payload exceeds 125 bytes"}
	ErrFragmentedControl      = &FrameError{CloseProtocolError, "fragmented control frame"}
	ErrUnmaskedFrame          = &FrameError{CloseProtocolError, "client frame not masked"}
	ErrUnexpectedContinuation = &FrameError{CloseProtocolError, "continuation without an open message"}
	ErrInterleavedMessage     = &FrameError{CloseProtocolError, "new message while a fragmented one is open"}
	ErrBadClosePayload        = &FrameError{CloseProtocolError, "malformed close payload"}
	ErrFrameTooLarge          = &FrameError{CloseMessageTooBig, "frame payload too large"}
	ErrMessageTooLarge        = &FrameError{CloseMessageTooBig, "message too large"}
	ErrInvalidUTF8            = &FrameError{CloseInvalidPayloadData, "invalid UTF-8 in text payload"}
)

// HandshakeError rejects an upgrade request. Status is the HTTP response
// code to answer with.
type HandshakeError struct {
	Status int
	Reason string
}

func (e *HandshakeError) Error() string {
	return "websocket handshake: " + e.Reason
}

var (
	ErrNotUpgrade          = &HandshakeError{400, "not a websocket upgrade request"}
	ErrBadUpgradeMethod    = &HandshakeError{405, "upgrade request method must be GET"}
	ErrMissingWebSocketKey = &HandshakeError{400, "missing or malformed Sec-WebSocket-Key"}
	ErrBadWebSocketVersion = &HandshakeError{426, "unsupported websocket version; only 13 is supported"}
)
