// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics, configuration decoding and debug introspection for
// hioload-http.
//
// Provides concurrent-safe state handling primitives including:
//   - Metrics telemetry on armon/go-metrics with an in-memory sink
//   - Generic map decoding into typed configuration structs
//   - Debug probe registration and JSON state export
package control
