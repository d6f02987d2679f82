package network

import (
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

type ConnectionState int32

const (
	StateConnected ConnectionState = iota
	StateClosing
	StateClosed
)

// Connection wraps one accepted client socket. It tracks the connection's
// lifecycle state, byte counters, last-activity timestamp, and — once the
// MQTT handshake has completed — the ClientId the session authenticated as,
// so disconnect handlers and shutdown logging can name the client rather
// than the socket. TLS termination is not handled here: the broker takes
// whatever net.Conn it is handed, and a TLS-terminating proxy or listener
// is an external collaborator.
type Connection struct {
	conn net.Conn
	id   string

	state        atomic.Int32
	lastActivity atomic.Int64

	readDeadline  time.Duration
	writeDeadline time.Duration

	mu       sync.RWMutex
	clientID string

	closeOnce sync.Once
	closeCh   chan struct{}

	bytesRead    atomic.Uint64
	bytesWritten atomic.Uint64
}

// ConnectionConfig carries per-connection socket settings. The zero value
// is the broker's default: no read or write deadline, because idle
// detection belongs to the MQTT keepalive watchdog, not the socket layer,
// and a blanket read deadline would sever clients that declared a long
// keepalive interval.
type ConnectionConfig struct {
	TCPKeepAlive  time.Duration
	ReadDeadline  time.Duration
	WriteDeadline time.Duration
}

func NewConnection(conn net.Conn, id string, cfg *ConnectionConfig) *Connection {
	if cfg == nil {
		cfg = &ConnectionConfig{}
	}

	c := &Connection{
		conn:          conn,
		id:            id,
		readDeadline:  cfg.ReadDeadline,
		writeDeadline: cfg.WriteDeadline,
		closeCh:       make(chan struct{}),
	}

	c.state.Store(int32(StateConnected))
	c.touch()

	if cfg.TCPKeepAlive > 0 {
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			_ = tcpConn.SetKeepAlive(true)
			_ = tcpConn.SetKeepAlivePeriod(cfg.TCPKeepAlive)
		}
	}

	return c
}

func (c *Connection) ID() string {
	return c.id
}

// SetClientID records the ClientId this connection authenticated as. The
// connection actor calls this once CONNECT succeeds; before that the
// ClientId is empty.
func (c *Connection) SetClientID(clientID string) {
	c.mu.Lock()
	c.clientID = clientID
	c.mu.Unlock()
}

// ClientID returns the ClientId recorded by SetClientID, or "" before the
// MQTT handshake has completed.
func (c *Connection) ClientID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clientID
}

func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Connection) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *Connection) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

func (c *Connection) Read(b []byte) (int, error) {
	if c.State() != StateConnected {
		return 0, ErrConnectionClosed
	}

	if c.readDeadline > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.readDeadline))
	}

	n, err := c.conn.Read(b)
	if n > 0 {
		c.bytesRead.Add(uint64(n))
		c.touch()
	}

	return n, err
}

func (c *Connection) Write(b []byte) (int, error) {
	if c.State() != StateConnected {
		return 0, ErrConnectionClosed
	}

	if c.writeDeadline > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeDeadline))
	}

	n, err := c.conn.Write(b)
	if n > 0 {
		c.bytesWritten.Add(uint64(n))
		c.touch()
	}

	return n, err
}

func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosing))
		close(c.closeCh)
		err = c.conn.Close()
		c.state.Store(int32(StateClosed))
	})
	return err
}

// CloseChan is closed when Close is first called, for selects that need to
// observe the connection going away.
func (c *Connection) CloseChan() <-chan struct{} {
	return c.closeCh
}

func (c *Connection) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

func (c *Connection) IdleDuration() time.Duration {
	return time.Since(c.LastActivity())
}

func (c *Connection) BytesRead() uint64 {
	return c.bytesRead.Load()
}

func (c *Connection) BytesWritten() uint64 {
	return c.bytesWritten.Load()
}

var _ io.ReadWriter = (*Connection)(nil)
