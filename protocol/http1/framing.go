// File: protocol/http1/framing.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Body framing is derived from the head alone, once per message.

package http1

import "strings"

// Mode selects how the end of a message body is found.
type Mode int

const (
	None       Mode = iota // no body
	Fixed                  // Content-Length bytes
	Chunked                // chunked transfer coding
	UntilClose             // body ends when the connection closes
)

func (m Mode) String() string {
	switch m {
	case None:
		return "none"
	case Fixed:
		return "fixed"
	case Chunked:
		return "chunked"
	case UntilClose:
		return "until-close"
	default:
		return "unknown"
	}
}

// Framing is a body framing mode plus the declared length for Fixed.
type Framing struct {
	Mode   Mode
	Length int64
}

// RequestFraming derives the body framing of a request.
// A message carrying both Content-Length and Transfer-Encoding is rejected.
func RequestFraming(h *RequestHead) (Framing, error) {
	te := h.Header.Values("Transfer-Encoding")
	cl := h.Header.Values("Content-Length")
	if len(te) > 0 {
		if len(cl) > 0 {
			return Framing{}, ErrAmbiguousLength
		}
		codings := splitTokens(te)
		if len(codings) != 1 || !strings.EqualFold(codings[0], "chunked") {
			return Framing{}, ErrBadCoding
		}
		return Framing{Mode: Chunked}, nil
	}
	if len(cl) > 0 {
		n, err := contentLength(cl)
		if err != nil {
			return Framing{}, err
		}
		return Framing{Mode: Fixed, Length: n}, nil
	}
	return Framing{Mode: None}, nil
}

// ResponseFraming derives the body framing of a response to a request made
// with method.
func ResponseFraming(method string, h *ResponseHead) (Framing, error) {
	if method == "HEAD" || h.Status/100 == 1 || h.Status == 204 || h.Status == 304 {
		return Framing{Mode: None}, nil
	}
	te := h.Header.Values("Transfer-Encoding")
	cl := h.Header.Values("Content-Length")
	if len(te) > 0 {
		if len(cl) > 0 {
			return Framing{}, ErrAmbiguousLength
		}
		codings := splitTokens(te)
		if len(codings) > 0 && strings.EqualFold(codings[len(codings)-1], "chunked") {
			return Framing{Mode: Chunked}, nil
		}
		return Framing{Mode: UntilClose}, nil
	}
	if len(cl) > 0 {
		n, err := contentLength(cl)
		if err != nil {
			return Framing{}, err
		}
		return Framing{Mode: Fixed, Length: n}, nil
	}
	return Framing{Mode: UntilClose}, nil
}

// contentLength accepts repeated or comma-listed values only when they agree.
func contentLength(values []string) (int64, error) {
	n := int64(-1)
	for _, v := range splitTokens(values) {
		m, ok := parseDecimal(v)
		if !ok || (n >= 0 && m != n) {
			return 0, ErrBadLength
		}
		n = m
	}
	if n < 0 {
		return 0, ErrBadLength
	}
	return n, nil
}

func splitTokens(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.Trim(part, " \t"); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// ChooseFraming picks the framing a sender should use.
//
// A length the caller declared in the header wins unless a transform of
// unknown output length is attached. Otherwise a known body length selects
// Content-Length, an unknown one selects chunked for HTTP/1.1 peers and
// close-delimited for HTTP/1.0 peers.
func ChooseFraming(peer Version, h Header, knownLen int64, transform bool) Framing {
	if !transform {
		if h.HasToken("Transfer-Encoding", "chunked") {
			return Framing{Mode: Chunked}
		}
		if cl := h.Values("Content-Length"); len(cl) > 0 {
			if n, err := contentLength(cl); err == nil {
				return Framing{Mode: Fixed, Length: n}
			}
		}
		if knownLen >= 0 {
			return Framing{Mode: Fixed, Length: knownLen}
		}
	}
	if peer.AtLeast(1, 1) {
		return Framing{Mode: Chunked}
	}
	return Framing{Mode: UntilClose}
}
