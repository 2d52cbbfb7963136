// File: server/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"errors"
	"fmt"

	"github.com/momentics/hioload-http/api"
)

var (
	// ErrServerClosed is returned by Start after Shutdown.
	ErrServerClosed = api.ErrServerClosed

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("server already started")

	// ErrNoListeners is returned by Start when no address could be bound.
	ErrNoListeners = fmt.Errorf("no listen addresses: %w", api.ErrInvalidArgument)

	// ErrWebSocketClosed is returned by WebSocket methods once the
	// connection is closing or gone.
	ErrWebSocketClosed = fmt.Errorf("websocket closed: %w", api.ErrTransportClosed)

	// ErrHandlerPanic wraps a panic recovered from a pipeline handler.
	ErrHandlerPanic = errors.New("handler panicked")

	// ErrBodyLength reports a body producer that yielded more or fewer
	// bytes than the declared Content-Length.
	ErrBodyLength = errors.New("body length does not match Content-Length")

	// ErrBadUpgrade reports an Upgrade outcome whose head is not a 101.
	ErrBadUpgrade = fmt.Errorf("upgrade outcome needs status 101: %w", api.ErrInvalidArgument)
)
