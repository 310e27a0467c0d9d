// Package pushgrpc provides the optional gRPC transport for the Push
// Channel's downstream-notify sink, for deployments where the "core"
// consumer (betting front-end, metacognitive supervisor) runs as a
// separate process rather than behind the plain HTTP notify sink. The
// server and client are hand-wired against grpc.ServiceDesc the way
// protoc-gen-go-grpc would generate them, carrying the payload as a
// google.protobuf.Struct rather than a compiled message type, so the
// payload schema can evolve without a proto regeneration step.
package pushgrpc

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/fullscreen-triangle/morphine/internal/monitoring"
	"github.com/fullscreen-triangle/morphine/internal/push"
)

var logf = monitoring.Component("PushGRPC")

const serviceName = "morphine.push.v1.NotifyService"

// Handler is implemented by the receiver of notify payloads (the "core"
// consumer service).
type Handler interface {
	HandleNotify(ctx context.Context, streamID string, payload map[string]interface{}) error
}

var notifyServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Handler)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Notify",
			Handler:    notifyHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "push.proto",
}

func notifyHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return callNotify(srv.(Handler), ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Notify"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return callNotify(srv.(Handler), ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func callNotify(h Handler, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	streamID := in.Fields["stream_id"].GetStringValue()
	if err := h.HandleNotify(ctx, streamID, in.AsMap()); err != nil {
		return nil, err
	}
	return &structpb.Struct{}, nil
}

// Server hosts the Notify RPC for a Handler.
type Server struct {
	grpcServer *grpc.Server
	listener   net.Listener
}

// Serve starts the gRPC server listening on addr, registering handler
// under the hand-wired ServiceDesc above. It serves in a background
// goroutine and returns as soon as the listener is open; call Stop on
// the returned Server to shut it down.
func Serve(addr string, handler Handler) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("pushgrpc: listen: %w", err)
	}
	s := grpc.NewServer()
	s.RegisterService(&notifyServiceDesc, handler)

	srv := &Server{grpcServer: s, listener: lis}
	go func() {
		logf("serving on %s", addr)
		if err := s.Serve(lis); err != nil {
			logf("server stopped: %v", err)
		}
	}()
	return srv, nil
}

// Stop gracefully stops the server.
func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}

// Client posts notify payloads to a remote Server over gRPC.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to a pushgrpc Server at addr.
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("pushgrpc: dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close tears down the client connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// NotifySink adapts Client to push.NotifySink: failures are logged and
// never retried, matching every other notify sink.
type NotifySink struct {
	Client *Client
}

// Notify implements push.NotifySink by invoking the remote Notify RPC.
func (n NotifySink) Notify(streamID string, payload push.NotifyPayload) {
	angles := make(map[string]interface{}, len(payload.KeyJointAngles))
	for name, deg := range payload.KeyJointAngles {
		angles[name] = deg
	}
	req, err := structpb.NewStruct(map[string]interface{}{
		"stream_id":        streamID,
		"detection_count":  payload.DetectionCount,
		"active_tracks":    payload.ActiveTracks,
		"pose_detected":    payload.PoseDetected,
		"max_speed":        payload.MaxSpeed,
		"motion_energy":    payload.MotionEnergy,
		"key_joint_angles": angles,
		"stride_frequency": payload.StrideFrequency,
	})
	if err != nil {
		logf("stream=%s notify encode failed: %v", streamID, err)
		return
	}

	out := new(structpb.Struct)
	if err := n.Client.conn.Invoke(context.Background(), "/"+serviceName+"/Notify", req, out); err != nil {
		logf("stream=%s notify failed: %v", streamID, err)
	}
}
