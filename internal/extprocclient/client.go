package extprocclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	corev3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	extprocv3 "github.com/envoyproxy/go-control-plane/envoy/service/ext_proc/v3"
	"google.golang.org/grpc"

	"github.com/bonnetn/ext-proc-load-tester/internal/clock"
)

// StreamError classifies a failure of the scripted exchange: which phase it
// happened in and the underlying cause.
type StreamError struct {
	Phase string
	Err   error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("extprocclient: %s: %v", e.Phase, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// payload is the fixed request/response body sent on every stream.
var payload = []byte("ext-proc-load-tester")

// phase pairs one scripted ProcessingRequest with the predicate that
// recognizes the ProcessingResponse answering it. Envoy's ext_proc protocol
// echoes every phase back in kind: a RequestHeaders ProcessingRequest is
// answered by a RequestHeaders ProcessingResponse, never by a
// ResponseHeaders one, and likewise for the other three phases driven here.
type phase struct {
	name  string
	req   *extprocv3.ProcessingRequest
	match func(*extprocv3.ProcessingResponse) bool
}

func script() []phase {
	return []phase{
		{
			name: "request_headers",
			req:  requestHeaders(),
			match: func(r *extprocv3.ProcessingResponse) bool {
				_, ok := r.Response.(*extprocv3.ProcessingResponse_RequestHeaders)
				return ok
			},
		},
		{
			name: "request_body",
			req:  requestBody(),
			match: func(r *extprocv3.ProcessingResponse) bool {
				_, ok := r.Response.(*extprocv3.ProcessingResponse_RequestBody)
				return ok
			},
		},
		{
			name: "response_headers",
			req:  responseHeaders(),
			match: func(r *extprocv3.ProcessingResponse) bool {
				_, ok := r.Response.(*extprocv3.ProcessingResponse_ResponseHeaders)
				return ok
			},
		},
		{
			name: "response_body",
			req:  responseBody(),
			match: func(r *extprocv3.ProcessingResponse) bool {
				_, ok := r.Response.(*extprocv3.ProcessingResponse_ResponseBody)
				return ok
			},
		},
	}
}

// Run opens a new bidi stream on conn, drives the scripted exchange to
// completion, and returns the wall-clock elapsed time from stream-open to
// the final response phase. Any deviation (wrong message, early close,
// transport error) is reported as a *StreamError.
func Run(ctx context.Context, conn grpc.ClientConnInterface, clk clock.Clock) (time.Duration, error) {
	client := extprocv3.NewExternalProcessorClient(conn)

	start := clk.Now()

	stream, err := client.Process(ctx)
	if err != nil {
		return 0, &StreamError{Phase: "open", Err: err}
	}
	defer stream.CloseSend()

	for _, ph := range script() {
		if err := stream.Send(ph.req); err != nil {
			return 0, &StreamError{Phase: "send_" + ph.name, Err: err}
		}
		if _, err := recvPhase(stream, ph.match); err != nil {
			return 0, &StreamError{Phase: "recv_" + ph.name, Err: err}
		}
	}

	return clk.Now().Sub(start), nil
}

type processStream interface {
	Send(*extprocv3.ProcessingRequest) error
	Recv() (*extprocv3.ProcessingResponse, error)
	CloseSend() error
}

func recvPhase(stream processStream, match func(*extprocv3.ProcessingResponse) bool) (*extprocv3.ProcessingResponse, error) {
	resp, err := stream.Recv()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("stream closed before expected response")
	}
	if err != nil {
		return nil, err
	}
	if !match(resp) {
		return nil, fmt.Errorf("unexpected response phase: %T", resp.Response)
	}
	return resp, nil
}

func requestHeaders() *extprocv3.ProcessingRequest {
	return &extprocv3.ProcessingRequest{
		Request: &extprocv3.ProcessingRequest_RequestHeaders{
			RequestHeaders: &extprocv3.HttpHeaders{
				Headers: &corev3.HeaderMap{
					Headers: []*corev3.HeaderValue{
						{Key: ":method", Value: "POST"},
						{Key: ":path", Value: "/"},
						{Key: ":authority", Value: "load-test"},
						{Key: "content-type", Value: "application/octet-stream"},
					},
				},
				EndOfStream: false,
			},
		},
	}
}

func requestBody() *extprocv3.ProcessingRequest {
	return &extprocv3.ProcessingRequest{
		Request: &extprocv3.ProcessingRequest_RequestBody{
			RequestBody: &extprocv3.HttpBody{
				Body:        payload,
				EndOfStream: true,
			},
		},
	}
}

func responseHeaders() *extprocv3.ProcessingRequest {
	return &extprocv3.ProcessingRequest{
		Request: &extprocv3.ProcessingRequest_ResponseHeaders{
			ResponseHeaders: &extprocv3.HttpHeaders{
				Headers: &corev3.HeaderMap{
					Headers: []*corev3.HeaderValue{
						{Key: ":status", Value: "200"},
						{Key: "content-type", Value: "application/octet-stream"},
					},
				},
				EndOfStream: false,
			},
		},
	}
}

func responseBody() *extprocv3.ProcessingRequest {
	return &extprocv3.ProcessingRequest{
		Request: &extprocv3.ProcessingRequest_ResponseBody{
			ResponseBody: &extprocv3.HttpBody{
				Body:        payload,
				EndOfStream: true,
			},
		},
	}
}
