package network

import (
	"context"
	"sync"
	"time"
)

// DisconnectReason explains, for logging only, why a connection was closed.
// MQTT 3.1.1's DISCONNECT packet carries no payload of its own, so this
// enum never touches the wire — it exists purely so the handlers
// registered with a DisconnectManager can tell a client-initiated
// disconnect from a keepalive timeout or a server shutdown.
type DisconnectReason byte

const (
	DisconnectClientRequested DisconnectReason = iota
	DisconnectKeepAliveTimeout
	DisconnectProtocolError
	DisconnectNotAuthorized
	DisconnectSessionTakenOver
	DisconnectServerShuttingDown
)

func (r DisconnectReason) String() string {
	switch r {
	case DisconnectClientRequested:
		return "client requested"
	case DisconnectKeepAliveTimeout:
		return "keepalive timeout"
	case DisconnectProtocolError:
		return "protocol error"
	case DisconnectNotAuthorized:
		return "not authorized"
	case DisconnectSessionTakenOver:
		return "session taken over"
	case DisconnectServerShuttingDown:
		return "server shutting down"
	default:
		return "unknown"
	}
}

// DisconnectEvent describes a connection's closure for the handlers a
// DisconnectManager dispatches to.
type DisconnectEvent struct {
	Reason DisconnectReason
}

type DisconnectHandler func(*Connection, *DisconnectEvent) error

// DisconnectManager fans a connection's closure out to any number of
// registered handlers (session cleanup, metrics, audit logging) and
// provides a bounded-time graceful close.
type DisconnectManager struct {
	mu              sync.RWMutex
	handlers        []DisconnectHandler
	gracefulTimeout time.Duration
}

func NewDisconnectManager(gracefulTimeout time.Duration) *DisconnectManager {
	if gracefulTimeout == 0 {
		gracefulTimeout = 5 * time.Second
	}

	return &DisconnectManager{
		handlers:        make([]DisconnectHandler, 0),
		gracefulTimeout: gracefulTimeout,
	}
}

func (dm *DisconnectManager) OnDisconnect(handler DisconnectHandler) {
	dm.mu.Lock()
	dm.handlers = append(dm.handlers, handler)
	dm.mu.Unlock()
}

func (dm *DisconnectManager) HandleDisconnect(conn *Connection, event *DisconnectEvent) error {
	dm.mu.RLock()
	handlers := make([]DisconnectHandler, len(dm.handlers))
	copy(handlers, dm.handlers)
	dm.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(conn, event); err != nil {
			return err
		}
	}

	return nil
}

// GracefulDisconnect runs the registered handlers and closes conn, bounded
// by the manager's graceful timeout.
func (dm *DisconnectManager) GracefulDisconnect(ctx context.Context, conn *Connection, reason DisconnectReason) error {
	event := &DisconnectEvent{Reason: reason}

	timeoutCtx, cancel := context.WithTimeout(ctx, dm.gracefulTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		if err := dm.HandleDisconnect(conn, event); err != nil {
			done <- err
			return
		}
		done <- conn.Close()
	}()

	select {
	case err := <-done:
		return err
	case <-timeoutCtx.Done():
		_ = conn.Close()
		return ErrGracefulShutdownTimeout
	}
}

// GracefulShutdown closes every connection in a Pool in parallel, bounded
// by an overall timeout, used when the broker process is shutting down.
type GracefulShutdown struct {
	pool    *Pool
	dm      *DisconnectManager
	timeout time.Duration

	mu       sync.Mutex
	shutdown bool
}

func NewGracefulShutdown(pool *Pool, dm *DisconnectManager, timeout time.Duration) *GracefulShutdown {
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &GracefulShutdown{
		pool:    pool,
		dm:      dm,
		timeout: timeout,
	}
}

func (gs *GracefulShutdown) Shutdown(ctx context.Context) error {
	gs.mu.Lock()
	if gs.shutdown {
		gs.mu.Unlock()
		return nil
	}
	gs.shutdown = true
	gs.mu.Unlock()

	timeoutCtx, cancel := context.WithTimeout(ctx, gs.timeout)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	gs.pool.ForEach(func(conn *Connection) bool {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()

			if err := gs.dm.GracefulDisconnect(timeoutCtx, c, DisconnectServerShuttingDown); err != nil {
				select {
				case errCh <- err:
				default:
				}
			}
		}(conn)

		return true
	})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case err := <-errCh:
		return err
	case <-timeoutCtx.Done():
		return ErrGracefulShutdownTimeout
	}
}

func (gs *GracefulShutdown) IsShutdown() bool {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return gs.shutdown
}
