// File: protocol/close.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"encoding/binary"
	"unicode/utf8"
)

// ValidCloseCode reports whether code may appear on the wire.
func ValidCloseCode(code uint16) bool {
	switch {
	case code >= 1000 && code <= 1003:
		return true
	case code >= 1007 && code <= 1014:
		return true
	case code >= 3000 && code <= 4999:
		return true
	}
	return false
}

// ParseClosePayload decodes a close frame body. An empty body yields
// CloseNoStatusRcvd.
func ParseClosePayload(p []byte) (uint16, string, error) {
	switch {
	case len(p) == 0:
		return CloseNoStatusRcvd, "", nil
	case len(p) == 1:
		return 0, "", ErrBadClosePayload
	}
	code := binary.BigEndian.Uint16(p)
	if !ValidCloseCode(code) {
		return 0, "", ErrBadClosePayload
	}
	reason := p[2:]
	if !utf8.Valid(reason) {
		return 0, "", ErrInvalidUTF8
	}
	return code, string(reason), nil
}

// AppendClosePayload appends code and reason, truncating the reason so the
// payload fits a control frame. CloseNoStatusRcvd yields an empty payload.
func AppendClosePayload(dst []byte, code uint16, reason string) []byte {
	if code == CloseNoStatusRcvd || code == 0 {
		return dst
	}
	if len(reason) > MaxControlPayloadLen-2 {
		reason = reason[:MaxControlPayloadLen-2]
		for len(reason) > 0 && !utf8.ValidString(reason) {
			reason = reason[:len(reason)-1]
		}
	}
	dst = binary.BigEndian.AppendUint16(dst, code)
	return append(dst, reason...)
}

// AppendCloseFrame appends a complete server close frame.
func AppendCloseFrame(dst []byte, code uint16, reason string) []byte {
	var p [MaxControlPayloadLen]byte
	return AppendFrame(dst, OpcodeClose, true, AppendClosePayload(p[:0], code, reason))
}
