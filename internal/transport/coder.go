package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

type coderDialer struct {
	opts Options
}

func newCoder(opts Options) *coderDialer {
	return &coderDialer{opts: opts}
}

func (d *coderDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.HandshakeTimeout)
	defer cancel()

	ws, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	ws.SetReadLimit(d.opts.ReadLimit)
	return &coderConn{ws: ws}, nil
}

// coderConn relies on coder/websocket for write serialization; the mutex
// only guards the closed flag.
type coderConn struct {
	ws *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func (c *coderConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (c *coderConn) Write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return c.ws.Write(ctx, websocket.MessageText, data)
}

func (c *coderConn) Close(reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.ws.Close(websocket.StatusNormalClosure, reason)
}
