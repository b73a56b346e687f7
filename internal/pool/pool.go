// Package pool keeps one long-lived session per device and hands it out to one user at a time.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jackadi-io/netbatch/internal/config"
	"github.com/jackadi-io/netbatch/internal/inventory"
	"golang.org/x/sync/singleflight"
)

var ErrPoolClosed = errors.New("connection pool closed")

// ConnectionError wraps a failure to open a session to a device.
type ConnectionError struct {
	Device string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %s", e.Device, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// CommandError reports a command the device executed and rejected.
//
// The session is still usable, unlike any other error returned by Session.Run.
type CommandError struct {
	Command    string
	Output     string
	ExitStatus int
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %q failed with status %d", e.Command, e.ExitStatus)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ": " + out
	}
	return msg
}

// Session is an established channel to a device, able to run one command at a time.
type Session interface {
	Run(ctx context.Context, command string) (string, error)
	Close() error
}

// Dialer opens sessions. Dial is the expensive step the pool amortizes.
type Dialer interface {
	Dial(ctx context.Context, device inventory.Device) (Session, error)
}

type DialerFunc func(ctx context.Context, device inventory.Device) (Session, error)

func (f DialerFunc) Dial(ctx context.Context, device inventory.Device) (Session, error) {
	return f(ctx, device)
}

type Options struct {
	// IdleEviction closes connections unused for longer, zero disables it.
	IdleEviction time.Duration
	// DialTimeout bounds a session creation, zero means config.DefaultDialTimeout.
	DialTimeout time.Duration
}

// Pool maps a device name to its connection.
//
// The map lock is never held during a dial: concurrent acquires for the same device share one
// in-flight dial, different devices dial in parallel.
type Pool struct {
	dialer  Dialer
	opts    Options
	mutex   *sync.Mutex
	conns   map[string]*Connection
	flights singleflight.Group
	closed  bool
	now     func() time.Time
}

func New(dialer Dialer, opts Options) *Pool {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = config.DefaultDialTimeout
	}
	return &Pool{
		dialer: dialer,
		opts:   opts,
		mutex:  &sync.Mutex{},
		conns:  make(map[string]*Connection),
		now:    time.Now,
	}
}

// Acquire returns the connection of device for exclusive use until Release or Evict.
//
// It blocks while the session is created or while another caller holds the connection.
func (p *Pool) Acquire(ctx context.Context, device inventory.Device) (*Connection, error) {
	for {
		conn, err := p.get(ctx, device)
		if err != nil {
			return nil, err
		}

		select {
		case conn.slot <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		// the connection may have been evicted while waiting for it.
		p.mutex.Lock()
		current := !p.closed && p.conns[device.Name] == conn
		closed := p.closed
		p.mutex.Unlock()

		if current && conn.State() != StateBroken {
			conn.setState(StateBusy)
			return conn, nil
		}

		p.discard(conn)
		if closed {
			return nil, ErrPoolClosed
		}
	}
}

func (p *Pool) get(ctx context.Context, device inventory.Device) (*Connection, error) {
	p.mutex.Lock()
	if p.closed {
		p.mutex.Unlock()
		return nil, ErrPoolClosed
	}
	conn, ok := p.conns[device.Name]
	p.mutex.Unlock()
	if ok {
		return conn, nil
	}

	// the dial is not bound to the first caller: another waiter may still want the session.
	ch := p.flights.DoChan(device.Name, func() (any, error) {
		return p.create(ctx, device)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Connection), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pool) create(ctx context.Context, device inventory.Device) (*Connection, error) {
	p.mutex.Lock()
	if conn, ok := p.conns[device.Name]; ok {
		p.mutex.Unlock()
		return conn, nil
	}
	p.mutex.Unlock()

	dialCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.DialTimeout)
	defer cancel()

	slog.Debug("opening session", "device", device.Name, "address", device.Address)
	start := p.now()
	session, err := p.dialer.Dial(dialCtx, device)
	if err != nil {
		slog.Warn("session creation failed", "device", device.Name, "error", err)
		return nil, &ConnectionError{Device: device.Name, Err: err}
	}

	now := p.now()
	conn := &Connection{
		device:    device,
		session:   session,
		createdAt: now,
		lastUsed:  now,
		state:     StateIdle,
		slot:      make(chan struct{}, 1),
		mutex:     &sync.Mutex{},
		now:       p.now,
	}

	p.mutex.Lock()
	if p.closed {
		p.mutex.Unlock()
		_ = session.Close()
		return nil, ErrPoolClosed
	}
	p.conns[device.Name] = conn
	p.mutex.Unlock()

	slog.Debug("session opened", "device", device.Name, "duration", now.Sub(start))
	return conn, nil
}

// Release gives the connection back to the idle set.
func (p *Pool) Release(conn *Connection) {
	if conn == nil {
		return
	}
	if conn.State() == StateBroken {
		p.discard(conn)
		return
	}
	conn.mutex.Lock()
	conn.state = StateIdle
	conn.lastUsed = conn.now()
	conn.mutex.Unlock()
	conn.unlock()
}

// Evict marks a held connection broken and closes it: the next Acquire creates a new session.
func (p *Pool) Evict(conn *Connection) {
	if conn == nil {
		return
	}
	conn.setState(StateBroken)

	p.mutex.Lock()
	if p.conns[conn.device.Name] == conn {
		delete(p.conns, conn.device.Name)
	}
	p.mutex.Unlock()

	slog.Debug("connection evicted", "device", conn.device.Name)
	p.discard(conn)
}

// EvictDevice forces the recreation of the device connection on next Acquire.
//
// A connection currently held is closed when its holder releases it.
func (p *Pool) EvictDevice(name string) {
	p.mutex.Lock()
	conn, ok := p.conns[name]
	if ok {
		delete(p.conns, name)
	}
	p.mutex.Unlock()

	if !ok {
		return
	}
	conn.setState(StateBroken)
	select {
	case conn.slot <- struct{}{}:
		p.discard(conn)
	default:
	}
}

// discard closes a connection whose slot is held by the caller, then frees the slot.
func (p *Pool) discard(conn *Connection) {
	conn.closeSession()
	conn.unlock()
}

// CloseAll closes every connection. Further Acquire calls fail with ErrPoolClosed.
func (p *Pool) CloseAll() error {
	p.mutex.Lock()
	if p.closed {
		p.mutex.Unlock()
		return nil
	}
	p.closed = true
	conns := make([]*Connection, 0, len(p.conns))
	for _, c := range p.conns {
		conns = append(conns, c)
	}
	clear(p.conns)
	p.mutex.Unlock()

	var errs []error
	for _, conn := range conns {
		conn.setState(StateBroken)
		select {
		case conn.slot <- struct{}{}:
			if err := conn.closeSession(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", conn.device.Name, err))
			}
			conn.unlock()
		default:
			// in use: closed by its holder on Release.
		}
	}

	slog.Debug("connection pool closed", "connections", len(conns))
	return errors.Join(errs...)
}

// Reap closes idle connections unused since IdleEviction and returns how many were closed.
func (p *Pool) Reap() int {
	if p.opts.IdleEviction <= 0 {
		return 0
	}
	deadline := p.now().Add(-p.opts.IdleEviction)

	p.mutex.Lock()
	stale := []*Connection{}
	for name, conn := range p.conns {
		if conn.LastUsed().After(deadline) {
			continue
		}
		select {
		case conn.slot <- struct{}{}:
			delete(p.conns, name)
			stale = append(stale, conn)
		default:
		}
	}
	p.mutex.Unlock()

	for _, conn := range stale {
		conn.setState(StateBroken)
		slog.Debug("idle connection closed", "device", conn.device.Name)
		p.discard(conn)
	}
	return len(stale)
}

// RunReaper calls Reap at every interval until ctx is done.
func (p *Pool) RunReaper(ctx context.Context, interval time.Duration) {
	if p.opts.IdleEviction <= 0 {
		return
	}
	if interval <= 0 {
		interval = config.PoolReapInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := p.Reap(); n > 0 {
				slog.Info("idle connections closed", "count", n)
			}
		case <-ctx.Done():
			return
		}
	}
}

// ConnectionInfo is a point-in-time view of a pooled connection.
type ConnectionInfo struct {
	Device    string    `json:"device"`
	CreatedAt time.Time `json:"created_at"`
	LastUsed  time.Time `json:"last_used"`
	State     State     `json:"state"`
}

// Stats lists the pooled connections sorted by device name.
func (p *Pool) Stats() []ConnectionInfo {
	p.mutex.Lock()
	conns := make([]*Connection, 0, len(p.conns))
	for _, c := range p.conns {
		conns = append(conns, c)
	}
	p.mutex.Unlock()

	out := make([]ConnectionInfo, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.Info())
	}
	slices.SortFunc(out, func(a, b ConnectionInfo) int { return strings.Compare(a.Device, b.Device) })
	return out
}

// Len returns the number of pooled connections.
func (p *Pool) Len() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.conns)
}
