package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/guardline/agent/internal/domain"
)

func dispatchOne(t *testing.T, raw string) *domain.BackendCommand {
	t.Helper()
	var got *domain.BackendCommand
	p := NewPushChannel("wss://example/ws", Credentials{}, func(cmd domain.BackendCommand) {
		got = &cmd
	}, nil, zap.NewNop())
	p.dispatch(raw)
	return got
}

// TestDispatch_KnownCommands verifies every push command maps correctly
func TestDispatch_KnownCommands(t *testing.T) {
	tests := []struct {
		raw      string
		wantType string
	}{
		{PushLockNow, "lock"},
		{PushUnlockNow, "unlock"},
		{PushRefreshRules, "refresh_rules"},
		{PushScreenshot, "screenshot"},
	}
	for _, tt := range tests {
		cmd := dispatchOne(t, tt.raw)
		require.NotNil(t, cmd, "command %q must dispatch", tt.raw)
		assert.Equal(t, tt.wantType, cmd.Type)
	}
}

// TestDispatch_ResetPIN verifies the PIN payload is extracted
func TestDispatch_ResetPIN(t *testing.T) {
	cmd := dispatchOne(t, "RESET_PIN:4321")

	require.NotNil(t, cmd)
	assert.Equal(t, "reset_pin", cmd.Type)
	assert.Equal(t, "4321", cmd.PIN)
}

// TestDispatch_UnknownDropped verifies unknown commands never reach the
// handler
func TestDispatch_UnknownDropped(t *testing.T) {
	assert.Nil(t, dispatchOne(t, "SELF_DESTRUCT"))
	assert.Nil(t, dispatchOne(t, ""))
}

// TestIsConnected_DefaultDisconnected verifies the channel reports
// disconnected before Run starts
func TestIsConnected_DefaultDisconnected(t *testing.T) {
	p := NewPushChannel("wss://example/ws", Credentials{}, nil, nil, zap.NewNop())
	assert.False(t, p.IsConnected())
}

// TestIsConnected_TracksTransitions verifies every state change is visible to
// the next read, with no intermediate reads lost
func TestIsConnected_TracksTransitions(t *testing.T) {
	p := NewPushChannel("wss://example/ws", Credentials{}, nil, nil, zap.NewNop())

	p.setConnected(true)
	assert.True(t, p.IsConnected())
	assert.True(t, p.IsConnected())

	p.setConnected(false)
	assert.False(t, p.IsConnected())

	p.setConnected(true)
	p.setConnected(false)
	p.setConnected(true)
	assert.True(t, p.IsConnected())
}
