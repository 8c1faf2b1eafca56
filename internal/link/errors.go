package link

import (
	"errors"
	"fmt"
)

// ErrorKind classifies link errors.
type ErrorKind string

const (
	KindConnection     ErrorKind = "connection"
	KindProtocol       ErrorKind = "protocol"
	KindSend           ErrorKind = "send"
	KindHeartbeat      ErrorKind = "heartbeat"
	KindRecoveryFailed ErrorKind = "recovery"
)

var (
	ErrNotConnected      = errors.New("link not connected")
	ErrBufferFull        = errors.New("offline buffer full")
	ErrEmptyType         = errors.New("message type is empty")
	ErrInvalidPayload    = errors.New("invalid message payload")
	ErrHeartbeatTimeout  = errors.New("heartbeat timeout")
	ErrConnectInProgress = errors.New("connect already in progress")
	ErrConnectAborted    = errors.New("connect aborted by disconnect")
)

// Error is a classified link failure.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
