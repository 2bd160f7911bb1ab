package extprocclient

import (
	"context"
	"testing"
	"time"

	extprocv3 "github.com/envoyproxy/go-control-plane/envoy/service/ext_proc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bonnetn/ext-proc-load-tester/internal/clock"
	"github.com/bonnetn/ext-proc-load-tester/internal/harness"
)

func TestRunCompletesAgainstEchoServer(t *testing.T) {
	srv := harness.Start()
	defer srv.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := srv.Dial(ctx)
	require.NoError(t, err)
	defer conn.Close()

	elapsed, err := Run(ctx, conn, clock.New())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, elapsed, time.Duration(0))
}

func TestRunFailsOnCancelledContext(t *testing.T) {
	srv := harness.Start()
	defer srv.Stop()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dialCancel()
	conn, err := srv.Dial(dialCtx)
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = Run(ctx, conn, clock.New())
	require.Error(t, err)
	var streamErr *StreamError
	assert.ErrorAs(t, err, &streamErr)
}

// fakeStream lets recvPhase's matching be exercised directly against a
// scripted sequence of responses, independent of any particular server.
type fakeStream struct {
	responses []*extprocv3.ProcessingResponse
	i         int
}

func (f *fakeStream) Send(*extprocv3.ProcessingRequest) error { return nil }

func (f *fakeStream) Recv() (*extprocv3.ProcessingResponse, error) {
	r := f.responses[f.i]
	f.i++
	return r, nil
}

func (f *fakeStream) CloseSend() error { return nil }

func TestRecvPhaseRejectsCrossKindResponse(t *testing.T) {
	stream := &fakeStream{responses: []*extprocv3.ProcessingResponse{
		{Response: &extprocv3.ProcessingResponse_ResponseHeaders{ResponseHeaders: &extprocv3.HeadersResponse{}}},
	}}

	_, err := recvPhase(stream, func(r *extprocv3.ProcessingResponse) bool {
		_, ok := r.Response.(*extprocv3.ProcessingResponse_RequestHeaders)
		return ok
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected response phase")
}

func TestRecvPhaseAcceptsSameKindResponse(t *testing.T) {
	stream := &fakeStream{responses: []*extprocv3.ProcessingResponse{
		{Response: &extprocv3.ProcessingResponse_RequestHeaders{RequestHeaders: &extprocv3.HeadersResponse{}}},
	}}

	_, err := recvPhase(stream, func(r *extprocv3.ProcessingResponse) bool {
		_, ok := r.Response.(*extprocv3.ProcessingResponse_RequestHeaders)
		return ok
	})
	require.NoError(t, err)
}
