package pb

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
)

// The gRPC surface is maintained by hand, like the rest of this package.
// Messages travel through a pass-through codec so the server can ship
// pre-encoded update frames without re-marshalling them per subscriber.

// Marshaler is implemented by every hand-maintained message type.
type Marshaler interface {
	Size() int
	MarshalAppend([]byte) []byte
}

// Unmarshaler is the decode side counterpart.
type Unmarshaler interface {
	Unmarshal([]byte) error
}

// RawFrame carries an already-encoded SubscribeUpdate through the codec
// untouched.
type RawFrame struct {
	Data []byte
}

func (f *RawFrame) Size() int                     { return len(f.Data) }
func (f *RawFrame) MarshalAppend(b []byte) []byte { return append(b, f.Data...) }
func (f *RawFrame) Unmarshal(b []byte) error {
	f.Data = make([]byte, len(b))
	copy(f.Data, b)
	return nil
}

// Codec plugs the hand-maintained types into grpc. Register on the server
// with grpc.ForceServerCodec and on clients with grpc.ForceCodec.
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(Marshaler)
	if !ok {
		return nil, fmt.Errorf("pb: cannot marshal %T", v)
	}
	return m.MarshalAppend(make([]byte, 0, m.Size())), nil
}

func (Codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(Unmarshaler)
	if !ok {
		return fmt.Errorf("pb: cannot unmarshal into %T", v)
	}
	return m.Unmarshal(data)
}

func (Codec) Name() string { return "solstream" }

// GeyserServer is implemented by the relay's gRPC transport.
type GeyserServer interface {
	Subscribe(*SubscribeRequest, Geyser_SubscribeServer) error
}

type Geyser_SubscribeServer interface {
	Send(*RawFrame) error
	grpc.ServerStream
}

type geyserSubscribeServer struct {
	grpc.ServerStream
}

func (s *geyserSubscribeServer) Send(f *RawFrame) error {
	return s.ServerStream.SendMsg(f)
}

func _Geyser_Subscribe_Handler(srv any, stream grpc.ServerStream) error {
	req := &SubscribeRequest{}
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(GeyserServer).Subscribe(req, &geyserSubscribeServer{stream})
}

var Geyser_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "solstream.Geyser",
	HandlerType: (*GeyserServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       _Geyser_Subscribe_Handler,
			ServerStreams: true,
		},
	},
	Metadata: "solstream/geyser.proto",
}

func RegisterGeyserServer(s grpc.ServiceRegistrar, srv GeyserServer) {
	s.RegisterService(&Geyser_ServiceDesc, srv)
}

// GeyserClient is the consumer-side handle for downstream relays.
type GeyserClient interface {
	Subscribe(ctx context.Context, in *SubscribeRequest, opts ...grpc.CallOption) (Geyser_SubscribeClient, error)
}

type Geyser_SubscribeClient interface {
	Recv() (*SubscribeUpdate, error)
	grpc.ClientStream
}

type geyserClient struct {
	cc grpc.ClientConnInterface
}

func NewGeyserClient(cc grpc.ClientConnInterface) GeyserClient {
	return &geyserClient{cc}
}

func (c *geyserClient) Subscribe(ctx context.Context, in *SubscribeRequest, opts ...grpc.CallOption) (Geyser_SubscribeClient, error) {
	opts = append([]grpc.CallOption{grpc.ForceCodec(Codec{})}, opts...)
	stream, err := c.cc.NewStream(ctx, &Geyser_ServiceDesc.Streams[0], "/solstream.Geyser/Subscribe", opts...)
	if err != nil {
		return nil, err
	}
	x := &geyserSubscribeClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type geyserSubscribeClient struct {
	grpc.ClientStream
}

func (c *geyserSubscribeClient) Recv() (*SubscribeUpdate, error) {
	u := &SubscribeUpdate{}
	if err := c.ClientStream.RecvMsg(u); err != nil {
		return nil, err
	}
	return u, nil
}
