// File: protocol/assembler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Fragment reassembly for data frames. Control frames never pass through
// the assembler; they may arrive between fragments and are handled directly.

package protocol

import "unicode/utf8"

// Message is a complete text or binary message. Data is owned by the caller.
type Message struct {
	Opcode Opcode
	Data   []byte
}

// Assembler joins data frames into messages.
type Assembler struct {
	MaxMessage int64 // zero means no limit beyond the frame cap

	op     Opcode
	buf    []byte
	active bool
}

// Push adds a data frame. It returns the message and true once the final
// fragment arrives.
func (a *Assembler) Push(f *Frame) (Message, bool, error) {
	switch f.Opcode {
	case OpcodeContinuation:
		if !a.active {
			return Message{}, false, ErrUnexpectedContinuation
		}
	case OpcodeText, OpcodeBinary:
		if a.active {
			return Message{}, false, ErrInterleavedMessage
		}
		a.op, a.active = f.Opcode, true
		a.buf = a.buf[:0]
	default:
		return Message{}, false, ErrReservedOpcode
	}
	if a.MaxMessage > 0 && int64(len(a.buf)+len(f.Payload)) > a.MaxMessage {
		a.Reset()
		return Message{}, false, ErrMessageTooLarge
	}
	a.buf = append(a.buf, f.Payload...)
	if !f.Fin {
		return Message{}, false, nil
	}

	data := make([]byte, len(a.buf))
	copy(data, a.buf)
	op := a.op
	a.active = false
	a.buf = a.buf[:0]
	if op == OpcodeText && !utf8.Valid(data) {
		return Message{}, false, ErrInvalidUTF8
	}
	return Message{Opcode: op, Data: data}, true, nil
}

// InProgress reports whether a fragmented message is open.
func (a *Assembler) InProgress() bool { return a.active }

// Reset drops any partial message.
func (a *Assembler) Reset() {
	a.active = false
	a.buf = a.buf[:0]
}
