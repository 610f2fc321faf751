package loadtest

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/gorilla/websocket"
	"github.com/informalsystems/frameload/internal/wsconn"
)

// Conn is a single transport connection carrying a stream of frames.
// Read and Write may be called concurrently from one reader and one writer.
// Close may be called at any time, from any goroutine, and must unblock a
// pending Read or Write. Reads and writes failing because of our own Close
// must return an error matching net.ErrClosed.
type Conn interface {
	io.ReadWriteCloser
	SetWriteDeadline(t time.Time) error
}

var _ Conn = (*wsconn.Conn)(nil)

// Dialer opens a new connection to the server under test.
type Dialer func(ctx context.Context) (Conn, error)

// NewDialer builds a dialer for the configured transport.
func NewDialer(cfg Config) Dialer {
	timeout := cfg.ConnectTimeout.Duration()
	if cfg.Transport == TransportWebSocket {
		return wsDialer(cfg.URL(), timeout)
	}
	return tcpDialer(cfg.Addr(), timeout)
}

func tcpDialer(addr string, timeout time.Duration) Dialer {
	d := &net.Dialer{Timeout: timeout}
	return func(ctx context.Context) (Conn, error) {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			_ = tcpConn.SetNoDelay(true)
		}
		return conn, nil
	}
}

func wsDialer(u string, timeout time.Duration) Dialer {
	d := &websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: timeout,
	}
	return func(ctx context.Context) (Conn, error) {
		conn, resp, err := d.DialContext(ctx, u, nil)
		if err != nil {
			if resp != nil {
				return nil, fmt.Errorf("failed to connect to remote WebSockets endpoint %s: %s (status code %d): %w", u, resp.Status, resp.StatusCode, err)
			}
			return nil, err
		}
		return wsconn.New(conn), nil
	}
}
