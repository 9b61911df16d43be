package websocket

import "errors"

var (
	ErrCapacityExceeded   = errors.New("connection pool at capacity")
	ErrQueueFull          = errors.New("outbound queue full")
	ErrNotConnected       = errors.New("connection not established")
	ErrConnectionClosed   = errors.New("connection closed")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrHeartbeatTimeout   = errors.New("heartbeat pong not received")
)
