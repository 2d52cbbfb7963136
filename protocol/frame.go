// Package protocol
// Author: momentics <momentics@gmail.com>
//
// WebSocket frame encoding/decoding and masking.
//
// ParseFrame works on the connection's accumulated input and never copies:
// the returned payload is unmasked in place and aliases the input buffer.

package protocol

import (
	"encoding/binary"
	"math"
)

// Frame is one decoded WebSocket frame.
type Frame struct {
	Fin     bool
	Opcode  Opcode
	Masked  bool
	MaskKey [4]byte
	Payload []byte // aliases the parse buffer, already unmasked
}

// FrameLimits constrains what ParseFrame accepts.
type FrameLimits struct {
	MaxPayload  int64 // per-frame cap; MaxFramePayload when zero
	RequireMask bool  // reject unmasked frames, set by servers
}

// ParseFrame decodes the frame at the start of buf.
// It returns (nil, 0, nil) while the frame is incomplete.
func ParseFrame(buf []byte, lim FrameLimits) (*Frame, int, error) {
	if len(buf) < 2 {
		return nil, 0, nil
	}
	b0, b1 := buf[0], buf[1]
	if b0&RsvBits != 0 {
		return nil, 0, ErrReservedBits
	}
	f := &Frame{
		Fin:    b0&FinBit != 0,
		Opcode: Opcode(b0 & 0x0F),
		Masked: b1&MaskBit != 0,
	}
	switch f.Opcode {
	case OpcodeContinuation, OpcodeText, OpcodeBinary, OpcodeClose, OpcodePing, OpcodePong:
	default:
		return nil, 0, ErrReservedOpcode
	}
	if lim.RequireMask && !f.Masked {
		return nil, 0, ErrUnmaskedFrame
	}

	length := uint64(b1 & 0x7F)
	offset := 2
	switch length {
	case 126:
		if len(buf) < offset+2 {
			return nil, 0, nil
		}
		length = uint64(binary.BigEndian.Uint16(buf[offset:]))
		offset += 2
		if length < 126 {
			return nil, 0, ErrNonMinimalLength
		}
	case 127:
		if len(buf) < offset+8 {
			return nil, 0, nil
		}
		length = binary.BigEndian.Uint64(buf[offset:])
		offset += 8
		if length > math.MaxInt64 {
			return nil, 0, ErrReservedBits
		}
		if length <= 0xFFFF {
			return nil, 0, ErrNonMinimalLength
		}
	}

	if f.Opcode.IsControl() {
		if !f.Fin {
			return nil, 0, ErrFragmentedControl
		}
		if length > MaxControlPayloadLen {
			return nil, 0, ErrControlTooLong
		}
	}
	limit := lim.MaxPayload
	if limit <= 0 {
		limit = MaxFramePayload
	}
	if length > uint64(limit) {
		return nil, 0, ErrFrameTooLarge
	}

	if f.Masked {
		if len(buf) < offset+4 {
			return nil, 0, nil
		}
		copy(f.MaskKey[:], buf[offset:offset+4])
		offset += 4
	}
	total := offset + int(length)
	if len(buf) < total {
		return nil, 0, nil
	}
	f.Payload = buf[offset:total]
	if f.Masked {
		Mask(f.Payload, f.MaskKey, 0)
	}
	return f, total, nil
}

// appendHeader writes the fixed header plus the minimal length encoding.
func appendHeader(dst []byte, op Opcode, fin bool, n int, maskBit byte) []byte {
	b0 := byte(op) & 0x0F
	if fin {
		b0 |= FinBit
	}
	switch {
	case n <= 125:
		return append(dst, b0, byte(n)|maskBit)
	case n <= 0xFFFF:
		dst = append(dst, b0, 126|maskBit)
		return binary.BigEndian.AppendUint16(dst, uint16(n))
	default:
		dst = append(dst, b0, 127|maskBit)
		return binary.BigEndian.AppendUint64(dst, uint64(n))
	}
}

// AppendFrame appends an unmasked (server to client) frame.
func AppendFrame(dst []byte, op Opcode, fin bool, payload []byte) []byte {
	dst = appendHeader(dst, op, fin, len(payload), 0)
	return append(dst, payload...)
}

// AppendMaskedFrame appends a client frame masked with key. payload is not
// modified.
func AppendMaskedFrame(dst []byte, op Opcode, fin bool, payload []byte, key [4]byte) []byte {
	dst = appendHeader(dst, op, fin, len(payload), MaskBit)
	dst = append(dst, key[:]...)
	start := len(dst)
	dst = append(dst, payload...)
	Mask(dst[start:], key, 0)
	return dst
}

// Mask XORs b with key starting at key position pos and returns the position
// following b. Applying it twice restores the input.
func Mask(b []byte, key [4]byte, pos int) int {
	pos &= 3
	for i := range b {
		b[i] ^= key[pos]
		pos = (pos + 1) & 3
	}
	return pos
}
