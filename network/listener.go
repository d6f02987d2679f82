package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// ListenerConfig carries the accept-side settings for the broker's TCP
// endpoint. There is deliberately no TLS here — transport security is a
// collaborator's job (a terminating proxy, or a caller that wraps the
// accepted net.Conn itself).
type ListenerConfig struct {
	Address string
	// TCPKeepAlive is the OS-level probe interval set on accepted sockets;
	// it is unrelated to the MQTT keepalive the Watchdog enforces.
	TCPKeepAlive time.Duration
	// AcceptTimeout bounds each Accept call so the loop can observe
	// shutdown; it does not reject slow clients.
	AcceptTimeout time.Duration
}

func DefaultListenerConfig(address string) *ListenerConfig {
	return &ListenerConfig{
		Address:       address,
		TCPKeepAlive:  30 * time.Second,
		AcceptTimeout: 5 * time.Second,
	}
}

// ConnectionHandler runs the protocol for one accepted connection and
// returns when the connection is finished. The Listener registers the
// connection in the pool before calling it and removes it again when it
// returns, so a handler never has to clean up after itself.
type ConnectionHandler func(*Connection) error

// Listener binds the broker's TCP endpoint, admits connections against the
// pool's bound, and hands each one to the configured ConnectionHandler in
// its own goroutine.
type Listener struct {
	config   *ListenerConfig
	listener net.Listener
	pool     *Pool

	mu      sync.RWMutex
	handler ConnectionHandler

	connSeq  atomic.Uint64
	accepted atomic.Uint64
	rejected atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closed    atomic.Bool
	closeOnce sync.Once
}

func NewListener(config *ListenerConfig, pool *Pool) (*Listener, error) {
	if config == nil || config.Address == "" {
		return nil, ErrInvalidAddress
	}

	if pool == nil {
		var err error
		pool, err = NewPool(DefaultPoolConfig())
		if err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Listener{
		config: config,
		pool:   pool,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// OnConnection sets the handler invoked for each accepted connection. It
// must be called before Start; a listener with no handler closes every
// connection it accepts.
func (l *Listener) OnConnection(handler ConnectionHandler) {
	l.mu.Lock()
	l.handler = handler
	l.mu.Unlock()
}

func (l *Listener) Start() error {
	if l.closed.Load() {
		return ErrListenerClosed
	}

	var err error
	l.listener, err = net.Listen("tcp", l.config.Address)
	if err != nil {
		return fmt.Errorf("failed to start listener: %w", err)
	}

	l.wg.Add(1)
	go l.acceptLoop()

	return nil
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()

	for {
		select {
		case <-l.ctx.Done():
			return
		default:
		}

		if l.config.AcceptTimeout > 0 {
			if tcpListener, ok := l.listener.(*net.TCPListener); ok {
				_ = tcpListener.SetDeadline(time.Now().Add(l.config.AcceptTimeout))
			}
		}

		netConn, err := l.listener.Accept()
		if err != nil {
			if l.closed.Load() {
				return
			}

			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}

			continue
		}

		l.wg.Add(1)
		go l.handleConnection(netConn)
	}
}

func (l *Listener) handleConnection(netConn net.Conn) {
	defer l.wg.Done()

	conn := NewConnection(netConn, l.generateConnectionID(), &ConnectionConfig{
		TCPKeepAlive: l.config.TCPKeepAlive,
	})

	if err := l.pool.Add(conn); err != nil {
		_ = conn.Close()
		l.rejected.Add(1)
		return
	}

	l.accepted.Add(1)

	l.mu.RLock()
	handler := l.handler
	l.mu.RUnlock()

	if handler != nil {
		_ = handler(conn)
	}

	_ = l.pool.Remove(conn.ID())
}

func (l *Listener) generateConnectionID() string {
	seq := l.connSeq.Add(1)
	return fmt.Sprintf("conn-%d-%d", time.Now().UnixNano(), seq)
}

func (l *Listener) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}

	var err error
	l.closeOnce.Do(func() {
		l.cancel()

		if l.listener != nil {
			err = l.listener.Close()
		}

		l.wg.Wait()
	})

	return err
}

func (l *Listener) Addr() net.Addr {
	if l.listener != nil {
		return l.listener.Addr()
	}
	return nil
}

func (l *Listener) Stats() ListenerStats {
	return ListenerStats{
		Accepted: l.accepted.Load(),
		Rejected: l.rejected.Load(),
		Active:   uint64(l.pool.Len()),
	}
}

type ListenerStats struct {
	Accepted uint64
	Rejected uint64
	Active   uint64
}
