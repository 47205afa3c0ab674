package visualiser

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/fleet-overlay/internal/overlay"
)

// The renderer service carries frames as google.protobuf.Struct documents
// with the same field names as the JSON API.
const (
	serviceName        = "overlay.v1.OverlayService"
	methodGetFrame     = "/" + serviceName + "/GetFrame"
	methodGetStats     = "/" + serviceName + "/GetStats"
	methodStreamFrames = "/" + serviceName + "/StreamFrames"
)

// highlightField names the robot whose trajectories should be flagged.
const highlightField = "highlight"

type overlayServer interface {
	GetFrame(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetStats(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
	StreamFrames(req *structpb.Struct, stream grpc.ServerStream) error
}

var overlayServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*overlayServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetFrame", Handler: getFrameHandler},
		{MethodName: "GetStats", Handler: getStatsHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamFrames", Handler: streamFramesHandler, ServerStreams: true},
	},
	Metadata: "overlay/v1/overlay.proto",
}

func registerOverlayService(s grpc.ServiceRegistrar, srv overlayServer) {
	s.RegisterService(&overlayServiceDesc, srv)
}

func getFrameHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(overlayServer).GetFrame(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetFrame}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(overlayServer).GetFrame(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func getStatsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(overlayServer).GetStats(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetStats}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(overlayServer).GetStats(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func streamFramesHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(overlayServer).StreamFrames(in, stream)
}

// service implements overlayServer on top of a Publisher.
type service struct {
	publisher *Publisher
}

func highlightOf(req *structpb.Struct) string {
	if req == nil {
		return ""
	}
	return req.GetFields()[highlightField].GetStringValue()
}

func (s *service) GetFrame(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f, ok := s.publisher.Latest()
	if !ok {
		return nil, status.Error(codes.Unavailable, "no frame published yet")
	}
	out, err := frameToStruct(f.WithHighlight(highlightOf(req)))
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (s *service) GetStats(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	out, err := toStruct(s.publisher.Stats())
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// StreamFrames sends the latest frame, if any, then every new frame until
// the client goes away or the publisher stops.
func (s *service) StreamFrames(req *structpb.Struct, stream grpc.ServerStream) error {
	client, err := s.publisher.addClient()
	if err != nil {
		return status.Error(codes.ResourceExhausted, err.Error())
	}
	defer s.publisher.removeClient(client.id)

	highlight := highlightOf(req)
	send := func(f overlay.Frame) error {
		msg, err := frameToStruct(f.WithHighlight(highlight))
		if err != nil {
			return status.Error(codes.Internal, err.Error())
		}
		return stream.SendMsg(msg)
	}

	if f, ok := s.publisher.Latest(); ok {
		if err := send(f); err != nil {
			return err
		}
	}

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.publisher.stopCh:
			return nil
		case f := <-client.frameCh:
			if err := send(f); err != nil {
				logger.Logf("send to %s failed: %v", client.id, err)
				return err
			}
		}
	}
}

func frameToStruct(f overlay.Frame) (*structpb.Struct, error) {
	return toStruct(f)
}

// toStruct converts v to a Struct through its JSON form.
func toStruct(v interface{}) (*structpb.Struct, error) {
	data, err := sonic.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode: %w", err)
	}
	var m map[string]interface{}
	if err := sonic.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode: %w", err)
	}
	return structpb.NewStruct(m)
}

// Client is a renderer-side client for the overlay service.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func highlightRequest(robot string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		highlightField: structpb.NewStringValue(robot),
	}}
}

// GetFrame fetches the latest frame with robot's trajectories highlighted.
func (c *Client) GetFrame(ctx context.Context, robot string) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodGetFrame, highlightRequest(robot), out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetStats fetches publisher statistics.
func (c *Client) GetStats(ctx context.Context) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodGetStats, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// FrameStream receives frames from StreamFrames.
type FrameStream struct {
	grpc.ClientStream
}

// Recv blocks for the next frame.
func (s *FrameStream) Recv() (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := s.ClientStream.RecvMsg(out); err != nil {
		return nil, err
	}
	return out, nil
}

// StreamFrames subscribes to frames with robot's trajectories highlighted.
func (c *Client) StreamFrames(ctx context.Context, robot string) (*FrameStream, error) {
	stream, err := c.conn.NewStream(ctx, &overlayServiceDesc.Streams[0], methodStreamFrames)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(highlightRequest(robot)); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &FrameStream{ClientStream: stream}, nil
}
