// File: protocol/http1/head.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package http1

import "strconv"

// Version is an HTTP protocol version.
type Version struct {
	Major, Minor int
}

var (
	HTTP10 = Version{1, 0}
	HTTP11 = Version{1, 1}
)

func (v Version) String() string {
	return "HTTP/" + strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor)
}

// AtLeast reports whether v is major.minor or newer.
func (v Version) AtLeast(major, minor int) bool {
	return v.Major > major || (v.Major == major && v.Minor >= minor)
}

// RequestHead is a parsed request line plus header fields.
type RequestHead struct {
	Method  string
	Target  string
	Version Version
	Header  Header
}

// KeepAlive reports whether the client intends to reuse the connection.
func (h *RequestHead) KeepAlive() bool {
	if h.Header.HasToken("Connection", "close") {
		return false
	}
	if h.Version.AtLeast(1, 1) {
		return true
	}
	return h.Header.HasToken("Connection", "keep-alive")
}

// IsUpgrade reports whether the request asks to switch protocols.
func (h *RequestHead) IsUpgrade() bool {
	return h.Version.AtLeast(1, 1) &&
		h.Header.HasToken("Connection", "upgrade") &&
		h.Header.Get("Upgrade") != ""
}

// ExpectsContinue reports an "Expect: 100-continue" request.
func (h *RequestHead) ExpectsContinue() bool {
	return h.Version.AtLeast(1, 1) && h.Header.HasToken("Expect", "100-continue")
}

// ResponseHead is a status line plus header fields.
type ResponseHead struct {
	Version Version
	Status  int
	Reason  string
	Header  Header
}

// Close reports whether the response demands closing the connection.
func (h *ResponseHead) Close() bool {
	return h.Header.HasToken("Connection", "close")
}
