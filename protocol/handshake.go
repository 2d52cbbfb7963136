// File: protocol/handshake.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// RFC 6455 opening handshake on top of the http1 codec types.

package protocol

import (
	"crypto/sha1"
	"encoding/base64"
	"strings"

	"github.com/momentics/hioload-http/protocol/http1"
)

// ComputeAcceptKey computes the Sec-WebSocket-Accept value from the client's key.
// This implements the algorithm specified in RFC6455 Section 1.3.
func ComputeAcceptKey(clientKey string) string {
	hash := sha1.Sum([]byte(clientKey + WebSocketGUID))
	return base64.StdEncoding.EncodeToString(hash[:])
}

// CheckUpgradeRequest validates an upgrade request and returns the client key.
func CheckUpgradeRequest(h *http1.RequestHead) (string, error) {
	if !h.IsUpgrade() || !h.Header.HasToken("Upgrade", "websocket") {
		return "", ErrNotUpgrade
	}
	if h.Method != "GET" {
		return "", ErrBadUpgradeMethod
	}
	if strings.TrimSpace(h.Header.Get("Sec-WebSocket-Version")) != RequiredWebSocketVersion {
		return "", ErrBadWebSocketVersion
	}
	key := strings.TrimSpace(h.Header.Get("Sec-WebSocket-Key"))
	if raw, err := base64.StdEncoding.DecodeString(key); err != nil || len(raw) != 16 {
		return "", ErrMissingWebSocketKey
	}
	return key, nil
}

// Subprotocols returns the client's offered subprotocols in preference order.
func Subprotocols(h *http1.RequestHead) []string {
	var out []string
	for _, v := range h.Header.Values("Sec-WebSocket-Protocol") {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// NegotiateSubprotocol picks the first offered subprotocol the server
// supports, or "".
func NegotiateSubprotocol(offered, supported []string) string {
	for _, o := range offered {
		for _, s := range supported {
			if o == s {
				return o
			}
		}
	}
	return ""
}

// UpgradeResponse validates req and builds the 101 response head.
func UpgradeResponse(req *http1.RequestHead, supported []string) (*http1.ResponseHead, error) {
	key, err := CheckUpgradeRequest(req)
	if err != nil {
		return nil, err
	}
	resp := &http1.ResponseHead{
		Version: http1.HTTP11,
		Status:  101,
		Header: http1.Header{
			{Name: "Upgrade", Value: "websocket"},
			{Name: "Connection", Value: "Upgrade"},
			{Name: "Sec-WebSocket-Accept", Value: ComputeAcceptKey(key)},
		},
	}
	if p := NegotiateSubprotocol(Subprotocols(req), supported); p != "" {
		resp.Header.Add("Sec-WebSocket-Protocol", p)
	}
	return resp, nil
}

// RejectHeader returns extra header fields a rejection response should carry.
func RejectHeader(err error) http1.Header {
	if err == ErrBadWebSocketVersion {
		return http1.Header{{Name: "Sec-WebSocket-Version", Value: RequiredWebSocketVersion}}
	}
	return nil
}
