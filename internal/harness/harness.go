// Package harness provides an in-process ext_proc echo server for tests: a
// receive loop that answers each phase it gets in kind, served over
// go-control-plane's published ExternalProcessor types.
package harness

import (
	"context"
	"io"
	"net"

	extprocv3 "github.com/envoyproxy/go-control-plane/envoy/service/ext_proc/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1 << 20

// EchoServer answers every phase it receives with a ProcessingResponse of
// the same phase kind: RequestHeaders gets a RequestHeaders response,
// RequestBody a RequestBody response, and likewise for the two response-path
// phases. It never buffers across phases.
type EchoServer struct {
	extprocv3.UnimplementedExternalProcessorServer
}

func (EchoServer) Process(stream extprocv3.ExternalProcessor_ProcessServer) error {
	for {
		req, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		var resp *extprocv3.ProcessingResponse
		switch req.Request.(type) {
		case *extprocv3.ProcessingRequest_RequestHeaders:
			resp = &extprocv3.ProcessingResponse{
				Response: &extprocv3.ProcessingResponse_RequestHeaders{
					RequestHeaders: &extprocv3.HeadersResponse{},
				},
			}
		case *extprocv3.ProcessingRequest_RequestBody:
			resp = &extprocv3.ProcessingResponse{
				Response: &extprocv3.ProcessingResponse_RequestBody{
					RequestBody: &extprocv3.BodyResponse{},
				},
			}
		case *extprocv3.ProcessingRequest_ResponseHeaders:
			resp = &extprocv3.ProcessingResponse{
				Response: &extprocv3.ProcessingResponse_ResponseHeaders{
					ResponseHeaders: &extprocv3.HeadersResponse{},
				},
			}
		case *extprocv3.ProcessingRequest_ResponseBody:
			resp = &extprocv3.ProcessingResponse{
				Response: &extprocv3.ProcessingResponse_ResponseBody{
					ResponseBody: &extprocv3.BodyResponse{},
				},
			}
		default:
			continue
		}

		if err := stream.Send(resp); err != nil {
			return err
		}
	}
}

// Server is a running in-process ext_proc server reachable only through its
// own bufconn dialer.
type Server struct {
	grpcServer *grpc.Server
	listener   *bufconn.Listener
}

// Start launches an EchoServer bound to an in-memory bufconn listener.
func Start() *Server {
	lis := bufconn.Listen(bufSize)
	s := grpc.NewServer()
	extprocv3.RegisterExternalProcessorServer(s, EchoServer{})
	go func() { _ = s.Serve(lis) }()
	return &Server{grpcServer: s, listener: lis}
}

// Dial connects to the harness server over its bufconn.
func (s *Server) Dial(ctx context.Context) (*grpc.ClientConn, error) {
	return grpc.DialContext(ctx, "bufconn",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return s.listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
}

// Stop tears down the harness server.
func (s *Server) Stop() {
	s.grpcServer.Stop()
}
