// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations and constants.

package api

// ConnPhase enumerates the states of a server connection.
type ConnPhase int

const (
	PhaseAwaitingRequest ConnPhase = iota
	PhaseReadingHead
	PhaseReadingBody
	PhaseDispatched
	PhaseWritingResponse
	PhaseKeepAlive
	PhaseUpgrading
	PhaseWebSocketActive
	PhaseClosing
	PhaseClosed
)

func (p ConnPhase) String() string {
	switch p {
	case PhaseAwaitingRequest:
		return "awaiting-request"
	case PhaseReadingHead:
		return "reading-head"
	case PhaseReadingBody:
		return "reading-body"
	case PhaseDispatched:
		return "dispatched"
	case PhaseWritingResponse:
		return "writing-response"
	case PhaseKeepAlive:
		return "keep-alive"
	case PhaseUpgrading:
		return "upgrading"
	case PhaseWebSocketActive:
		return "websocket-active"
	case PhaseClosing:
		return "closing"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}
