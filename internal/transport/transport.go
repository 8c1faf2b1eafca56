// Package transport provides the WebSocket primitive the link runs on. Each
// driver wraps one WebSocket library behind the same Dialer/Conn pair.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Driver names accepted by New.
const (
	DriverGorilla = "gorilla"
	DriverCoder   = "coder"
	DriverGobwas  = "gobwas"
)

// ErrClosed is returned by Read and Write after Close.
var ErrClosed = errors.New("transport: connection closed")

// Conn is an open text-frame socket. Write may be called concurrently with
// Read; concurrent Writes are serialized by the driver.
type Conn interface {
	// Read blocks until the next data frame arrives.
	Read(ctx context.Context) ([]byte, error)
	// Write sends one text frame.
	Write(ctx context.Context, data []byte) error
	// Close sends a normal close frame with reason and releases the socket.
	Close(reason string) error
}

// Dialer opens Conns.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// Options tune every driver.
type Options struct {
	HandshakeTimeout time.Duration
	ReadLimit        int64
	CloseTimeout     time.Duration
}

func (o Options) withDefaults() Options {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 5 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 1 << 20
	}
	if o.CloseTimeout <= 0 {
		o.CloseTimeout = time.Second
	}
	return o
}

// New returns the dialer for driver. An empty name selects gorilla.
func New(driver string, opts Options) (Dialer, error) {
	opts = opts.withDefaults()
	switch driver {
	case "", DriverGorilla:
		return newGorilla(opts), nil
	case DriverCoder:
		return newCoder(opts), nil
	case DriverGobwas:
		return newGobwas(opts), nil
	default:
		return nil, fmt.Errorf("unknown transport driver %q", driver)
	}
}

// Drivers lists the accepted driver names.
func Drivers() []string {
	return []string{DriverGorilla, DriverCoder, DriverGobwas}
}

func writeDeadline(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Time{}
}
