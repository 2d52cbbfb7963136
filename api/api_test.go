package api_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/momentics/hioload-http/api"
	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesSentinelByCode(t *testing.T) {
	err := api.NewError(api.ErrCodeInvalidArgument, "bad size").WithContext("size", -1)
	assert.True(t, errors.Is(err, api.ErrInvalidArgument))
	assert.False(t, errors.Is(err, api.ErrNotSupported))
	assert.Contains(t, err.Error(), "bad size")
	assert.Contains(t, err.Error(), "size:-1")

	wrapped := fmt.Errorf("config: %w", api.NewError(api.ErrCodeResourceExhausted, "full"))
	assert.ErrorIs(t, wrapped, api.ErrResourceExhausted)
	assert.Equal(t, "full", api.NewError(api.ErrCodeInternal, "full").Error())
}

func TestConnPhaseString(t *testing.T) {
	assert.Equal(t, "awaiting-request", api.PhaseAwaitingRequest.String())
	assert.Equal(t, "websocket-active", api.PhaseWebSocketActive.String())
	assert.Equal(t, "unknown", api.ConnPhase(99).String())
}
