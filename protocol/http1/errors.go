// File: protocol/http1/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package http1

// ProtocolError is a malformed-message outcome. Status is the response code
// a server would synthesize for it.
type ProtocolError struct {
	Status int
	Reason string
}

func (e *ProtocolError) Error() string {
	return "http1: " + e.Reason
}

// Malformed-message outcomes. They are compared by identity with errors.Is.
var (
	ErrBareLF          = &ProtocolError{Status: 400, Reason: "line not terminated by CRLF"}
	ErrLineTooLong     = &ProtocolError{Status: 431, Reason: "header line too long"}
	ErrHeadTooLarge    = &ProtocolError{Status: 431, Reason: "message head too large"}
	ErrTooManyHeaders  = &ProtocolError{Status: 431, Reason: "too many header fields"}
	ErrBadRequestLine  = &ProtocolError{Status: 400, Reason: "malformed request line"}
	ErrBadStatusLine   = &ProtocolError{Status: 400, Reason: "malformed status line"}
	ErrBadVersion      = &ProtocolError{Status: 505, Reason: "unsupported HTTP version"}
	ErrBadHeader       = &ProtocolError{Status: 400, Reason: "malformed header field"}
	ErrAmbiguousLength = &ProtocolError{Status: 400, Reason: "both Content-Length and Transfer-Encoding present"}
	ErrBadLength       = &ProtocolError{Status: 400, Reason: "invalid Content-Length"}
	ErrBadCoding       = &ProtocolError{Status: 501, Reason: "unsupported transfer coding"}
	ErrBadChunk        = &ProtocolError{Status: 400, Reason: "malformed chunked encoding"}
	ErrBodyTooLarge    = &ProtocolError{Status: 413, Reason: "message body too large"}
)
