// File: protocol/http1/parse.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Resumable head parser. The caller hands in the bytes accumulated since the
// start of the message; the parser remembers how far it already scanned so a
// head trickling in one byte at a time is not rescanned from the beginning.

package http1

import (
	"bytes"
	"strconv"
)

// Limits bounds the resources a single message head may consume.
type Limits struct {
	MaxLineBytes int // longest single line, CRLF excluded
	MaxHeadBytes int // whole head including the terminating empty line
	MaxHeaders   int // number of header fields
}

// DefaultLimits mirrors common server defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxLineBytes: 8 << 10,
		MaxHeadBytes: 64 << 10,
		MaxHeaders:   128,
	}
}

// HeadParser incrementally locates and parses one message head at a time.
// The zero value uses DefaultLimits.
type HeadParser struct {
	Limits Limits

	started   bool // leading empty lines have been skipped
	skip      int  // number of leading CRLF bytes skipped
	scanned   int  // bytes after skip already checked for the terminator
	lineStart int  // offset after skip where the current line begins
}

// Reset forgets any partially scanned head.
func (p *HeadParser) Reset() {
	p.started, p.skip, p.scanned, p.lineStart = false, 0, 0, 0
}

func (p *HeadParser) limits() Limits {
	l := p.Limits
	d := DefaultLimits()
	if l.MaxLineBytes <= 0 {
		l.MaxLineBytes = d.MaxLineBytes
	}
	if l.MaxHeadBytes <= 0 {
		l.MaxHeadBytes = d.MaxHeadBytes
	}
	if l.MaxHeaders <= 0 {
		l.MaxHeaders = d.MaxHeaders
	}
	return l
}

// ParseRequest parses a request head from the start of buf.
// It returns (nil, 0, nil) while the head is incomplete.
func (p *HeadParser) ParseRequest(buf []byte) (*RequestHead, int, error) {
	lines, n, err := p.locate(buf)
	if lines == nil || err != nil {
		return nil, 0, err
	}
	line, rest := nextLine(lines)
	h := &RequestHead{}
	if err := parseRequestLine(line, h); err != nil {
		return nil, 0, err
	}
	if h.Header, err = parseFields(rest, p.limits().MaxHeaders); err != nil {
		return nil, 0, err
	}
	return h, n, nil
}

// ParseResponse parses a response head from the start of buf.
// It returns (nil, 0, nil) while the head is incomplete.
func (p *HeadParser) ParseResponse(buf []byte) (*ResponseHead, int, error) {
	lines, n, err := p.locate(buf)
	if lines == nil || err != nil {
		return nil, 0, err
	}
	line, rest := nextLine(lines)
	h := &ResponseHead{}
	if err := parseStatusLine(line, h); err != nil {
		return nil, 0, err
	}
	if h.Header, err = parseFields(rest, p.limits().MaxHeaders); err != nil {
		return nil, 0, err
	}
	return h, n, nil
}

// locate finds the complete head in buf. On success it returns the head
// lines without the final empty line and the total bytes the head occupies,
// and resets the parser for the next message.
func (p *HeadParser) locate(buf []byte) ([]byte, int, error) {
	lim := p.limits()
	if !p.started {
		i := 0
		for i+1 < len(buf) && buf[i] == '\r' && buf[i+1] == '\n' {
			i += 2
		}
		if i > lim.MaxHeadBytes {
			return nil, 0, ErrHeadTooLarge
		}
		if i == len(buf) || (i+1 == len(buf) && buf[i] == '\r') {
			return nil, 0, nil
		}
		if buf[i] == '\n' {
			return nil, 0, ErrBareLF
		}
		p.started, p.skip = true, i
	}
	body := buf[p.skip:]
	for i := p.scanned; i < len(body); i++ {
		if body[i] != '\n' {
			continue
		}
		if i == 0 || body[i-1] != '\r' {
			return nil, 0, ErrBareLF
		}
		lineLen := i - 1 - p.lineStart
		if lineLen > lim.MaxLineBytes {
			return nil, 0, ErrLineTooLong
		}
		if lineLen == 0 {
			if i+1 > lim.MaxHeadBytes {
				return nil, 0, ErrHeadTooLarge
			}
			lines := body[:p.lineStart]
			n := p.skip + i + 1
			p.Reset()
			return lines, n, nil
		}
		p.lineStart = i + 1
	}
	p.scanned = len(body)
	if len(body)-p.lineStart > lim.MaxLineBytes+1 {
		return nil, 0, ErrLineTooLong
	}
	if len(body) > lim.MaxHeadBytes {
		return nil, 0, ErrHeadTooLarge
	}
	return nil, 0, nil
}

// nextLine splits off the first CRLF-terminated line.
func nextLine(b []byte) (line, rest []byte) {
	i := bytes.IndexByte(b, '\n')
	if i < 0 {
		return b, nil
	}
	return b[:i-1], b[i+1:]
}

func parseRequestLine(line []byte, h *RequestHead) error {
	sp1 := bytes.IndexByte(line, ' ')
	if sp1 <= 0 {
		return ErrBadRequestLine
	}
	sp2 := bytes.LastIndexByte(line, ' ')
	if sp2 <= sp1+1 {
		return ErrBadRequestLine
	}
	method, target, proto := line[:sp1], line[sp1+1:sp2], line[sp2+1:]
	for _, c := range method {
		if !isTokenChar(c) {
			return ErrBadRequestLine
		}
	}
	for _, c := range target {
		if c <= ' ' || c == 0x7f {
			return ErrBadRequestLine
		}
	}
	v, err := parseVersion(proto)
	if err != nil {
		return err
	}
	h.Method, h.Target, h.Version = string(method), string(target), v
	return nil
}

func parseStatusLine(line []byte, h *ResponseHead) error {
	sp := bytes.IndexByte(line, ' ')
	if sp < 0 {
		return ErrBadStatusLine
	}
	v, err := parseVersion(line[:sp])
	if err == ErrBadRequestLine {
		return ErrBadStatusLine
	} else if err != nil {
		return err
	}
	rest := line[sp+1:]
	if len(rest) < 3 || (len(rest) > 3 && rest[3] != ' ') {
		return ErrBadStatusLine
	}
	code := 0
	for _, c := range rest[:3] {
		if c < '0' || c > '9' {
			return ErrBadStatusLine
		}
		code = code*10 + int(c-'0')
	}
	if code < 100 {
		return ErrBadStatusLine
	}
	h.Version, h.Status = v, code
	if len(rest) > 4 {
		h.Reason = string(rest[4:])
	}
	return nil
}

// parseVersion accepts HTTP/1.0 and HTTP/1.1; any other well-formed version
// is rejected with 505.
func parseVersion(b []byte) (Version, error) {
	if len(b) != 8 || string(b[:5]) != "HTTP/" || b[6] != '.' ||
		b[5] < '0' || b[5] > '9' || b[7] < '0' || b[7] > '9' {
		return Version{}, ErrBadRequestLine
	}
	v := Version{Major: int(b[5] - '0'), Minor: int(b[7] - '0')}
	if v.Major != 1 || v.Minor > 1 {
		return Version{}, ErrBadVersion
	}
	return v, nil
}

// parseFields parses CRLF-separated header lines. Obsolete line folding is
// replaced by a single space.
func parseFields(b []byte, max int) (Header, error) {
	var h Header
	for len(b) > 0 {
		var line []byte
		line, b = nextLine(b)
		if line[0] == ' ' || line[0] == '\t' {
			if len(h) == 0 {
				return nil, ErrBadHeader
			}
			cont := trimOWS(line)
			if !validValue(cont) {
				return nil, ErrBadHeader
			}
			last := &h[len(h)-1]
			if last.Value == "" {
				last.Value = string(cont)
			} else if len(cont) > 0 {
				last.Value += " " + string(cont)
			}
			continue
		}
		f, err := parseField(line)
		if err != nil {
			return nil, err
		}
		if len(h) == max {
			return nil, ErrTooManyHeaders
		}
		h = append(h, f)
	}
	return h, nil
}

func parseField(line []byte) (Field, error) {
	colon := bytes.IndexByte(line, ':')
	if colon <= 0 {
		return Field{}, ErrBadHeader
	}
	for _, c := range line[:colon] {
		if !isTokenChar(c) {
			return Field{}, ErrBadHeader
		}
	}
	value := trimOWS(line[colon+1:])
	if !validValue(value) {
		return Field{}, ErrBadHeader
	}
	return Field{Name: string(line[:colon]), Value: string(value)}, nil
}

func trimOWS(b []byte) []byte {
	for len(b) > 0 && (b[0] == ' ' || b[0] == '\t') {
		b = b[1:]
	}
	for len(b) > 0 && (b[len(b)-1] == ' ' || b[len(b)-1] == '\t') {
		b = b[:len(b)-1]
	}
	return b
}

func validValue(b []byte) bool {
	for _, c := range b {
		if (c < ' ' && c != '\t') || c == 0x7f {
			return false
		}
	}
	return true
}

func isTokenChar(c byte) bool {
	if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' {
		return true
	}
	switch c {
	case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '.', '^', '_', '`', '|', '~':
		return true
	}
	return false
}

// parseDecimal parses a non-negative decimal without sign or spaces.
func parseDecimal(s string) (int64, bool) {
	if s == "" || len(s) > 18 {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	return n, err == nil
}
