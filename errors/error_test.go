package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_FormatsMessageAndCapturesWrappedError(t *testing.T) {
	base := fmt.Errorf("socket reset")
	err := New(ERR_TRANSPORT_AEAD, "frame %d failed to decrypt: %v", 7, base)

	assert.Equal(t, ERR_TRANSPORT_AEAD, err.Code())
	assert.Contains(t, err.Message(), "frame 7 failed to decrypt")
	require.NotNil(t, err.WrappedErr())
	assert.Contains(t, err.WrappedErr().Error(), "socket reset")
}

func TestError_Is_MatchesByCode(t *testing.T) {
	a := New(ERR_HANDSHAKE_INVALID_CERT, "bad sig")
	b := New(ERR_HANDSHAKE_INVALID_CERT, "different message, same code")

	assert.True(t, a.Is(b))
	assert.False(t, a.Is(New(ERR_HANDSHAKE_TIMEOUT, "timeout")))
}

func TestAs_UnwrapsToConcreteType(t *testing.T) {
	wrapped := New(ERR_SLOW_CONSUMER, "peer 3 exceeded send buffer", New(ERR_TRANSPORT, "buffer full"))

	var target *Error
	require.True(t, As(wrapped, &target))
	assert.Equal(t, ERR_SLOW_CONSUMER, target.Code())
}

func TestDisconnectsPeer(t *testing.T) {
	assert.True(t, DisconnectsPeer(NewAEADError("bad tag")))
	assert.True(t, DisconnectsPeer(NewTooManyPeersError("over cap")))
	assert.False(t, DisconnectsPeer(NewUpstreamError("ipc link down")))
	assert.False(t, DisconnectsPeer(nil))
}

func TestShouldReplyWithSetupConnectionError(t *testing.T) {
	err := NewUnsupportedVersionError("min_version too high")

	assert.True(t, ShouldReplyWithSetupConnectionError(err, false))
	assert.False(t, ShouldReplyWithSetupConnectionError(err, true))
}

func TestIsFatalAndIsUpstreamError(t *testing.T) {
	assert.True(t, IsFatal(NewFatalError("cannot bind listen socket")))
	assert.False(t, IsFatal(NewUpstreamError("retrying")))
	assert.True(t, IsUpstreamError(NewUpstreamError("ipc dropped")))
}

func TestErrData_SetAndGet(t *testing.T) {
	err := New(ERR_SLOW_CONSUMER, "peer disconnected")
	err.SetData("peer_id", "abc-123")

	assert.Equal(t, "abc-123", err.Data().GetData("peer_id"))
}
