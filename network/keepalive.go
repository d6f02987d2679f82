package network

import (
	"sync"
	"time"
)

// KeepAliveSlack is the multiplier applied to a client's declared keepalive
// interval when computing the deadline a Watchdog enforces. The protocol
// leaves the exact grace period to the server; a 1.5x allowance tolerates
// network jitter around one PINGREQ interval without flapping the
// connection.
const KeepAliveSlack = 1.5

// Watchdog enforces a connection's inactivity deadline. The broker never
// sends pings of its own — only the client does that — so a Watchdog just
// watches for silence. Reset should be called on every valid packet
// received from the client, PINGREQ included; expiry without a Reset in
// time invokes onExpire once and disarms the watchdog.
type Watchdog struct {
	conn     *Connection
	timeout  time.Duration
	onExpire func(*Connection)

	mu       sync.Mutex
	timer    *time.Timer
	deadline time.Time
	stopped  bool
}

// NewWatchdog builds a Watchdog for conn from the keepalive seconds declared
// in the client's CONNECT packet. A keepAliveSeconds of 0 disables the
// deadline entirely, matching the protocol's "keepalive of zero turns the
// mechanism off" rule.
func NewWatchdog(conn *Connection, keepAliveSeconds uint16, onExpire func(*Connection)) *Watchdog {
	var timeout time.Duration
	if keepAliveSeconds > 0 {
		timeout = time.Duration(float64(keepAliveSeconds) * KeepAliveSlack * float64(time.Second))
	}
	return &Watchdog{
		conn:     conn,
		timeout:  timeout,
		onExpire: onExpire,
	}
}

// Start arms the deadline timer. A zero timeout (keepalive disabled) makes
// this a no-op.
func (w *Watchdog) Start() {
	if w.timeout <= 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.deadline = time.Now().Add(w.timeout)
	w.timer = time.AfterFunc(w.timeout, w.expire)
}

// Reset pushes the deadline out by one more timeout window.
func (w *Watchdog) Reset() {
	if w.timeout <= 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped || w.timer == nil {
		return
	}
	w.deadline = time.Now().Add(w.timeout)
	w.timer.Reset(w.timeout)
}

func (w *Watchdog) expire() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.mu.Unlock()

	if w.onExpire != nil {
		w.onExpire(w.conn)
	}
}

// Stop disarms the watchdog. Safe to call more than once, and safe to call
// even if Start was never called.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
}

// Deadline reports when the watchdog will next expire. It is the zero Time
// before Start is called or when the watchdog carries no timeout.
func (w *Watchdog) Deadline() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.deadline
}

// Enabled reports whether this watchdog enforces a deadline at all.
func (w *Watchdog) Enabled() bool {
	return w.timeout > 0
}

// WatchdogRegistry tracks the live Watchdog for every connection the
// Listener is currently serving, keyed by connection ID. Shared across
// Connection Actor goroutines, so it carries its own lock.
type WatchdogRegistry struct {
	mu        sync.RWMutex
	watchdogs map[string]*Watchdog
}

// NewWatchdogRegistry returns an empty registry.
func NewWatchdogRegistry() *WatchdogRegistry {
	return &WatchdogRegistry{
		watchdogs: make(map[string]*Watchdog),
	}
}

// Add registers and starts a Watchdog for conn.
func (r *WatchdogRegistry) Add(conn *Connection, keepAliveSeconds uint16, onExpire func(*Connection)) *Watchdog {
	w := NewWatchdog(conn, keepAliveSeconds, onExpire)

	r.mu.Lock()
	r.watchdogs[conn.ID()] = w
	r.mu.Unlock()

	w.Start()
	return w
}

// Remove stops and forgets the Watchdog for connID, if any.
func (r *WatchdogRegistry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if w, ok := r.watchdogs[connID]; ok {
		w.Stop()
		delete(r.watchdogs, connID)
	}
}

// Get returns the Watchdog for connID, if registered.
func (r *WatchdogRegistry) Get(connID string) (*Watchdog, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.watchdogs[connID]
	return w, ok
}

// Close stops every registered Watchdog.
func (r *WatchdogRegistry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, w := range r.watchdogs {
		w.Stop()
	}
	r.watchdogs = make(map[string]*Watchdog)
}
