package pb

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

type captureGeyser struct {
	gotRequest *SubscribeRequest
	frames     [][]byte
}

func (s *captureGeyser) Subscribe(req *SubscribeRequest, stream Geyser_SubscribeServer) error {
	s.gotRequest = req
	for _, frame := range s.frames {
		if err := stream.Send(&RawFrame{Data: frame}); err != nil {
			return err
		}
	}
	return nil
}

func TestGeyserSubscribeOverBufconn(t *testing.T) {
	first, err := (&SubscribeUpdate{Slot: &SubscribeUpdateSlot{Slot: 10, Status: SlotStatusProcessed}}).Marshal()
	require.NoError(t, err)
	second, err := (&SubscribeUpdate{Entry: &SubscribeUpdateEntry{Slot: 10, Index: 1}}).Marshal()
	require.NoError(t, err)

	impl := &captureGeyser{frames: [][]byte{first, second}}

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.ForceServerCodec(Codec{}))
	RegisterGeyserServer(srv, impl)
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	replay := uint64(9)
	client := NewGeyserClient(conn)
	stream, err := client.Subscribe(ctx, &SubscribeRequest{
		ReplayFromSlot: &replay,
		Commitment:     CommitmentConfirmed,
	})
	require.NoError(t, err)

	upd, err := stream.Recv()
	require.NoError(t, err)
	require.NotNil(t, upd.Slot)
	assert.Equal(t, uint64(10), upd.Slot.Slot)

	upd, err = stream.Recv()
	require.NoError(t, err)
	require.NotNil(t, upd.Entry)
	assert.Equal(t, uint64(1), upd.Entry.Index)

	_, err = stream.Recv()
	assert.True(t, errors.Is(err, io.EOF))

	require.NotNil(t, impl.gotRequest)
	require.NotNil(t, impl.gotRequest.ReplayFromSlot)
	assert.Equal(t, uint64(9), *impl.gotRequest.ReplayFromSlot)
	assert.Equal(t, CommitmentConfirmed, impl.gotRequest.Commitment)
}
