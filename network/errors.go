package network

import "errors"

var (
	ErrConnectionClosed        = errors.New("connection closed")
	ErrConnectionPoolExhausted = errors.New("connection pool exhausted")
	ErrInvalidAddress          = errors.New("invalid address")
	ErrListenerClosed          = errors.New("listener closed")
	ErrConnectionNotFound      = errors.New("connection not found")
	ErrInvalidPoolConfig       = errors.New("invalid pool configuration")
	ErrPoolClosed              = errors.New("pool closed")
	ErrGracefulShutdownTimeout = errors.New("graceful shutdown timeout")
)
