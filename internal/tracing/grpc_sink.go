package tracing

import (
	"context"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// stepServiceDesc stands in for a protoc-generated TraceExport service: no
// .proto toolchain is available in this environment, so the single
// bidirectional-streaming method is wired directly against the generic
// grpc.ServiceDesc/StreamDesc machinery, carrying structpb.Struct messages
// built from Step instead of a generated message type. The well-known
// structpb wrapper type is itself a real google.golang.org/protobuf
// message, so encode/decode still goes through the library's wire codec.
var stepServiceDesc = grpc.ServiceDesc{
	ServiceName: "actorcore.tracing.TraceExport",
	HandlerType: (*any)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Export",
			ServerStreams: true,
			ClientStreams: true,
			Handler:       exportStreamHandler,
		},
	},
	Metadata: "internal/tracing/trace_export.proto",
}

// RegisterTraceExportServer wires sink's stream handling into srv so a
// remote collector dialing in receives every subsequently recorded Step.
func RegisterTraceExportServer(srv *grpc.Server, sink *GRPCSink) {
	srv.RegisterService(&stepServiceDesc, sink)
}

func exportStreamHandler(srv any, stream grpc.ServerStream) error {
	sink := srv.(*GRPCSink)
	sink.register(stream)
	defer sink.unregister(stream)
	for {
		var msg structpb.Struct
		if err := stream.RecvMsg(&msg); err != nil {
			return err
		}
		// Inbound frames are currently unused; the export direction is
		// server-to-client. Receiving keeps the bidi stream's flow control
		// draining so a collector's keepalive pings don't stall the call.
	}
}

// GRPCSink streams Step records to every connected collector stream,
// protobuf-encoding each one as a structpb.Struct.
type GRPCSink struct {
	mu      sync.Mutex
	streams map[grpc.ServerStream]struct{}
}

// NewGRPCSink constructs an empty sink; call RegisterTraceExportServer to
// expose it on a *grpc.Server.
func NewGRPCSink() *GRPCSink {
	return &GRPCSink{streams: make(map[grpc.ServerStream]struct{})}
}

func (s *GRPCSink) register(stream grpc.ServerStream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams[stream] = struct{}{}
}

func (s *GRPCSink) unregister(stream grpc.ServerStream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.streams, stream)
}

func stepToStruct(step Step) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"coop_name":    step.CoopName,
		"agent_name":   step.AgentName,
		"message_type": step.MessageType,
		"kind":         step.Kind,
		"detail":       step.Detail,
	})
}

// RecordStep implements Sink, fanning step out to every connected stream. A
// stream whose SendMsg fails is dropped from the broadcast set.
func (s *GRPCSink) RecordStep(step Step) {
	msg, err := stepToStruct(step)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for stream := range s.streams {
		if err := stream.SendMsg(msg); err != nil {
			delete(s.streams, stream)
		}
	}
}

// Close is a no-op: stream lifecycles are owned by the *grpc.Server that
// hosts stepServiceDesc, not by the sink itself.
func (s *GRPCSink) Close(_ context.Context) error { return nil }
