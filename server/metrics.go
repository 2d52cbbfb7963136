// File: server/metrics.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

// Metric keys, emitted below the "hioload" service prefix.
var (
	keyConnAccepted = []string{"conn", "accepted"}
	keyConnClosed   = []string{"conn", "closed"}
	keyConnRejected = []string{"conn", "rejected"}
	keyConnActive   = []string{"conn", "active"}

	keyHTTPRequests  = []string{"http", "requests"}
	keyHTTPMalformed = []string{"http", "malformed"}
	keyHTTPRejected  = []string{"http", "rejected"}
	keyHTTPDuration  = []string{"http", "request_duration"}

	keyWSUpgrades = []string{"ws", "upgrades"}
	keyWSMessages = []string{"ws", "messages"}
)
