// File: protocol/http1/encode.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Append-style encoders. Header fields go out in the caller's order. A
// caller-declared Content-Length or Transfer-Encoding stays in place when it
// agrees with the chosen Framing and is dropped otherwise; the encoder adds
// a framing field only when none of the caller's survived.

package http1

import (
	"strconv"
	"strings"
)

// AppendRequestHead appends the request line and header of h.
func AppendRequestHead(dst []byte, h *RequestHead, f Framing) []byte {
	dst = append(dst, h.Method...)
	dst = append(dst, ' ')
	dst = append(dst, h.Target...)
	dst = append(dst, ' ')
	dst = append(dst, h.Version.String()...)
	dst = append(dst, "\r\n"...)
	return appendFields(dst, h.Header, f)
}

// AppendResponseHead appends the status line and header of h.
func AppendResponseHead(dst []byte, h *ResponseHead, f Framing) []byte {
	v := h.Version
	if v.Major == 0 {
		v = HTTP11
	}
	dst = append(dst, v.String()...)
	dst = append(dst, ' ')
	dst = strconv.AppendInt(dst, int64(h.Status), 10)
	dst = append(dst, ' ')
	reason := h.Reason
	if reason == "" {
		reason = StatusText(h.Status)
	}
	dst = append(dst, reason...)
	dst = append(dst, "\r\n"...)
	if h.Status/100 == 1 || h.Status == 204 {
		f = Framing{Mode: None}
	}
	return appendFields(dst, h.Header, f)
}

func appendFields(dst []byte, h Header, f Framing) []byte {
	keepCL, keepTE := framingFields(h, f)
	declared := false
	for i, fl := range h {
		switch {
		case strings.EqualFold(fl.Name, "Content-Length"):
			if i != keepCL {
				continue
			}
			declared = true
		case strings.EqualFold(fl.Name, "Transfer-Encoding"):
			if !keepTE {
				continue
			}
			declared = declared || f.Mode == Chunked
		}
		dst = appendField(dst, fl.Name, fl.Value)
	}
	if !declared {
		switch f.Mode {
		case Fixed:
			dst = append(dst, "Content-Length: "...)
			dst = strconv.AppendInt(dst, f.Length, 10)
			dst = append(dst, "\r\n"...)
		case Chunked:
			dst = appendField(dst, "Transfer-Encoding", "chunked")
		}
	}
	return append(dst, "\r\n"...)
}

// framingFields decides which caller framing fields agree with f: the index
// of the first Content-Length carrying exactly f.Length, and whether the
// Transfer-Encoding fields may stay. They stay for chunked framing when
// chunked is the final coding, and for close-delimited framing when it is
// absent.
func framingFields(h Header, f Framing) (keepCL int, keepTE bool) {
	keepCL = -1
	switch f.Mode {
	case Fixed:
		for i, fl := range h {
			if !strings.EqualFold(fl.Name, "Content-Length") {
				continue
			}
			if n, ok := parseDecimal(strings.Trim(fl.Value, " \t")); ok && n == f.Length {
				keepCL = i
			}
			break
		}
	case Chunked, UntilClose:
		codings := splitTokens(h.Values("Transfer-Encoding"))
		if len(codings) == 0 {
			return keepCL, false
		}
		chunkedLast := strings.EqualFold(codings[len(codings)-1], "chunked")
		keepTE = chunkedLast == (f.Mode == Chunked)
	}
	return keepCL, keepTE
}

func appendField(dst []byte, name, value string) []byte {
	dst = append(dst, name...)
	dst = append(dst, ": "...)
	dst = append(dst, value...)
	return append(dst, "\r\n"...)
}

// AppendChunk appends p as one chunk. Empty input appends nothing, since a
// zero-size chunk would terminate the body.
func AppendChunk(dst, p []byte) []byte {
	if len(p) == 0 {
		return dst
	}
	dst = strconv.AppendInt(dst, int64(len(p)), 16)
	dst = append(dst, "\r\n"...)
	dst = append(dst, p...)
	return append(dst, "\r\n"...)
}

// AppendLastChunk appends the terminating chunk and optional trailer.
func AppendLastChunk(dst []byte, trailer Header) []byte {
	dst = append(dst, "0\r\n"...)
	for _, f := range trailer {
		dst = appendField(dst, f.Name, f.Value)
	}
	return append(dst, "\r\n"...)
}
