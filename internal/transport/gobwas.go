package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

type gobwasDialer struct {
	opts Options
}

func newGobwas(opts Options) *gobwasDialer {
	return &gobwasDialer{opts: opts}
}

func (d *gobwasDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	dialer := ws.Dialer{
		Timeout: d.opts.HandshakeTimeout,
	}
	if len(header) > 0 {
		dialer.Header = ws.HandshakeHeaderHTTP(header)
	}
	conn, br, _, err := dialer.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	var src io.Reader = conn
	if br != nil {
		// The server sent frames together with the handshake response.
		src = br
	}
	c := &gobwasConn{conn: conn, closeTimeout: d.opts.CloseTimeout, readLimit: d.opts.ReadLimit}
	c.rd = &wsutil.Reader{
		Source:         src,
		State:          ws.StateClientSide,
		CheckUTF8:      true,
		OnIntermediate: c.handleControl,
	}
	c.control = wsutil.ControlFrameHandler(&c.ctlBuf, ws.StateClientSide)
	return c, nil
}

// gobwasConn frames messages itself. Outbound frames, including control
// replies produced while reading, are built in a buffer and written to the
// socket in one call under wmu.
type gobwasConn struct {
	conn         net.Conn
	closeTimeout time.Duration
	readLimit    int64

	rd      *wsutil.Reader
	control wsutil.FrameHandlerFunc
	ctlBuf  bytes.Buffer

	wmu    sync.Mutex
	closed bool
}

func (c *gobwasConn) Read(ctx context.Context) ([]byte, error) {
	if d, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(d)
	}
	for {
		hdr, err := c.rd.NextFrame()
		if err != nil {
			return nil, err
		}
		if hdr.OpCode.IsControl() {
			if err := c.handleControl(hdr, c.rd); err != nil {
				return nil, err
			}
			continue
		}
		if hdr.OpCode&(ws.OpText|ws.OpBinary) == 0 {
			if err := c.rd.Discard(); err != nil {
				return nil, err
			}
			continue
		}
		data, err := io.ReadAll(io.LimitReader(c.rd, c.readLimit+1))
		if err != nil {
			return nil, err
		}
		if int64(len(data)) > c.readLimit {
			return nil, fmt.Errorf("frame exceeds read limit of %d bytes", c.readLimit)
		}
		return data, nil
	}
}

func (c *gobwasConn) handleControl(hdr ws.Header, r io.Reader) error {
	err := c.control(hdr, r)
	if c.ctlBuf.Len() > 0 {
		c.wmu.Lock()
		if !c.closed {
			_, _ = c.conn.Write(c.ctlBuf.Bytes())
		}
		c.wmu.Unlock()
		c.ctlBuf.Reset()
	}
	return err
}

func (c *gobwasConn) Write(ctx context.Context, data []byte) error {
	var buf bytes.Buffer
	if err := wsutil.WriteClientMessage(&buf, ws.OpText, data); err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if err := c.conn.SetWriteDeadline(writeDeadline(ctx)); err != nil {
		return err
	}
	_, err := c.conn.Write(buf.Bytes())
	return err
}

func (c *gobwasConn) Close(reason string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	var buf bytes.Buffer
	body := ws.NewCloseFrameBody(ws.StatusNormalClosure, reason)
	if err := wsutil.WriteClientMessage(&buf, ws.OpClose, body); err == nil {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.closeTimeout))
		_, _ = c.conn.Write(buf.Bytes())
	}
	return c.conn.Close()
}
