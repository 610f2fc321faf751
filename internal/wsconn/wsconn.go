// Package wsconn presents the binary messages of a WebSockets connection as a
// continuous byte stream, so that frames may be split across, or packed into,
// messages in any way the peer likes.
package wsconn

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const closeTimeout = time.Second

// Conn wraps a WebSockets connection. One goroutine may Read while another
// Writes. Each Write becomes exactly one binary message. Once Close has been
// called, failing reads and writes return an error matching net.ErrClosed,
// just like a closed net.Conn.
type Conn struct {
	conn      *websocket.Conn
	cur       io.Reader
	closing   atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var _ io.ReadWriteCloser = (*Conn)(nil)

// New wraps an established WebSockets connection.
func New(conn *websocket.Conn) *Conn {
	return &Conn{conn: conn}
}

func (c *Conn) localErr(err error) error {
	if c.closing.Load() {
		return fmt.Errorf("%w: %v", net.ErrClosed, err)
	}
	return err
}

// Read returns io.EOF once the peer has closed the connection normally.
// Non-binary messages are skipped.
func (c *Conn) Read(p []byte) (int, error) {
	for {
		if c.cur == nil {
			mt, r, err := c.conn.NextReader()
			if err != nil {
				if err = c.localErr(err); errors.Is(err, net.ErrClosed) {
					return 0, err
				}
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			c.cur = r
		}
		n, err := c.cur.Read(p)
		if err == io.EOF {
			c.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		if err != nil {
			err = c.localErr(err)
		}
		return n, err
	}
}

func (c *Conn) Write(p []byte) (int, error) {
	if err := c.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, c.localErr(err)
	}
	return len(p), nil
}

func (c *Conn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

// Close tries to say goodbye to the remote end before tearing down the
// underlying connection. Only the first call has any effect.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeTimeout),
		)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
