package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf_Sentinels(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
	}{
		{"connection failed", ErrConnectionFailed, KindConnection},
		{"connection closed", ErrConnectionClosed, KindConnection},
		{"reconnect exhausted", ErrReconnectExhausted, KindConnection},
		{"connection timeout", ErrConnectionTimeout, KindTimeout},
		{"deadline exceeded", context.DeadlineExceeded, KindTimeout},
		{"malformed envelope", ErrMalformedEnvelope, KindProtocol},
		{"missing type", ErrMissingType, KindProtocol},
		{"poll failed", ErrPollRequestFailed, KindPolling},
		{"no endpoint", ErrNoEndpoint, KindPolling},
		{"not connected", ErrNotConnected, KindSubscription},
		{"invalid config", ErrInvalidConfig, KindConfig},
		{"plain error", errors.New("boom"), KindUnknown},
		{"nil", nil, KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, KindOf(tt.err))
		})
	}
}

func TestKindOf_WrappedChain(t *testing.T) {
	err := fmt.Errorf("dial: %w", ErrConnectionFailed)
	assert.Equal(t, KindConnection, KindOf(err))
	assert.True(t, IsConnectionError(err))
}

func TestWrapProtocol(t *testing.T) {
	err := WrapProtocol(ErrMalformedEnvelope, "Dispatcher", "Deliver", "decode envelope")
	require.Error(t, err)

	assert.True(t, IsProtocolError(err))
	assert.True(t, IsInvalid(err))
	assert.False(t, IsFatal(err))
	assert.Contains(t, err.Error(), "Dispatcher.Deliver")
	assert.True(t, errors.Is(err, ErrMalformedEnvelope))
}

func TestWrapPolling_IsTransientAndIsolated(t *testing.T) {
	err := WrapPolling(fmt.Errorf("status 503"), "Poller", "fetchChannel", "price.live")
	require.Error(t, err)

	assert.True(t, IsPollingError(err))
	assert.True(t, IsTransient(err))
	assert.False(t, IsFatal(err))
}

func TestWrapTerminal_PreservesKind(t *testing.T) {
	err := WrapTerminal(ErrConnectionTimeout, "Session", "connect", "open websocket")
	require.Error(t, err)

	assert.True(t, IsFatal(err))
	assert.Equal(t, KindTimeout, KindOf(err))
	assert.True(t, errors.Is(err, ErrConnectionTimeout))
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, WrapConnection(nil, "c", "m", "a"))
	assert.NoError(t, WrapProtocol(nil, "c", "m", "a"))
	assert.NoError(t, WrapTimeout(nil, "c", "m", "a"))
	assert.NoError(t, WrapPolling(nil, "c", "m", "a"))
	assert.NoError(t, WrapSubscription(nil, "c", "m", "a"))
	assert.NoError(t, WrapTerminal(nil, "c", "m", "a"))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ErrorFatal, Classify(ErrReconnectExhausted))
	assert.Equal(t, ErrorInvalid, Classify(ErrMalformedEnvelope))
	assert.Equal(t, ErrorTransient, Classify(ErrConnectionFailed))
	assert.Equal(t, ErrorTransient, Classify(errors.New("something else")))
}

func TestIsTransient_MessagePatterns(t *testing.T) {
	assert.True(t, IsTransient(errors.New("dial tcp: connection refused")))
	assert.True(t, IsTransient(errors.New("i/o timeout")))
	assert.False(t, IsTransient(nil))
}

func TestClassString(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "connection", KindConnection.String())
	assert.Equal(t, "protocol", KindProtocol.String())
	assert.Equal(t, "timeout", KindTimeout.String())
	assert.Equal(t, "polling", KindPolling.String())
	assert.Equal(t, "subscription", KindSubscription.String())
	assert.Equal(t, "unknown", KindUnknown.String())
}
