// Package transport turns a target URI into a connected, shareable gRPC
// channel. It is a thin dispatcher over grpc-go's own dial machinery: scheme
// selection decides transport credentials and, for unix, a custom dialer;
// everything else is grpc-go's problem.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// ErrConnectFailed is returned when a target URI is well-formed but no
// channel could be established to it.
var ErrConnectFailed = errors.New("transport: connect failed")

// ErrUnsupportedScheme is returned for any scheme outside {grpc, http,
// https, unix}.
var ErrUnsupportedScheme = errors.New("transport: unsupported scheme")

// Factory yields connected channels for target URIs. A single Factory's
// channels are safe for concurrent use by many stream drivers.
type Factory struct {
	// DialTimeout bounds how long Connect waits for the transport to come
	// up before reporting ErrConnectFailed. Zero means no timeout.
	DialTimeout time.Duration
}

// New returns a Factory with the given per-connect dial timeout.
func New(dialTimeout time.Duration) *Factory {
	return &Factory{DialTimeout: dialTimeout}
}

// Connect parses target, selects transport credentials for its scheme, and
// blocks until the channel is connected or DialTimeout elapses. Schemes
// outside {grpc, http, https, unix} fail without attempting to connect.
func (f *Factory) Connect(ctx context.Context, target string) (*grpc.ClientConn, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedScheme, err)
	}

	if f.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.DialTimeout)
		defer cancel()
	}

	opts := []grpc.DialOption{grpc.WithBlock()}
	dialTarget := u.Host

	switch u.Scheme {
	case "grpc", "http":
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	case "https":
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{})))
	case "unix":
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		opts = append(opts, grpc.WithContextDialer(unixDialer))
		dialTarget = "unix:" + path
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	conn, err := grpc.DialContext(ctx, dialTarget, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConnectFailed, target, err)
	}
	return conn, nil
}

func unixDialer(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	path := addr
	const prefix = "unix:"
	if len(path) > len(prefix) && path[:len(prefix)] == prefix {
		path = path[len(prefix):]
	}
	return d.DialContext(ctx, "unix", path)
}
