package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/solstream/bus/internal/channel"
	"github.com/solstream/bus/pb"
)

func TestConnLimiter(t *testing.T) {
	l := NewConnLimiter(2)
	assert.True(t, l.Acquire("10.0.0.1"))
	assert.True(t, l.Acquire("10.0.0.1"))
	assert.False(t, l.Acquire("10.0.0.1"))
	assert.True(t, l.Acquire("10.0.0.2"))

	l.Release("10.0.0.1")
	assert.True(t, l.Acquire("10.0.0.1"))
}

func TestConnLimiterDisabled(t *testing.T) {
	l := NewConnLimiter(0)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Acquire("10.0.0.1"))
	}
}

func TestSubscribeStatusMapping(t *testing.T) {
	st, ok := status.FromError(subscribeStatus(channel.ErrNotInitialized))
	require.True(t, ok)
	assert.Equal(t, codes.FailedPrecondition, st.Code())

	st, ok = status.FromError(subscribeStatus(&channel.SlotNotAvailableError{FirstAvailable: 7}))
	require.True(t, ok)
	assert.Equal(t, codes.InvalidArgument, st.Code())
	assert.Contains(t, st.Message(), "7")

	st, ok = status.FromError(subscribeStatus(channel.ErrClosed))
	require.True(t, ok)
	assert.Equal(t, codes.Unavailable, st.Code())
}

func TestPingFrameDecodes(t *testing.T) {
	upd := &pb.SubscribeUpdate{}
	require.NoError(t, upd.Unmarshal(pingFrame()))
	assert.NotNil(t, upd.Ping)
	assert.NotNil(t, upd.CreatedAt)
}
