package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackadi-io/netbatch/internal/inventory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	device string
	closed atomic.Bool
}

func (s *fakeSession) Run(_ context.Context, command string) (string, error) {
	if s.closed.Load() {
		return "", errors.New("session closed")
	}
	return s.device + ": " + command, nil
}

func (s *fakeSession) Close() error {
	s.closed.Store(true)
	return nil
}

// fakeDialer counts dials per device and can be slowed down or made to fail.
type fakeDialer struct {
	mu       sync.Mutex
	dials    map[string]int
	sessions []*fakeSession
	delay    time.Duration
	fail     map[string]error
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{dials: map[string]int{}, fail: map[string]error{}}
}

func (d *fakeDialer) Dial(ctx context.Context, device inventory.Device) (Session, error) {
	d.mu.Lock()
	d.dials[device.Name]++
	err := d.fail[device.Name]
	delay := d.delay
	d.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	s := &fakeSession{device: device.Name}
	d.mu.Lock()
	d.sessions = append(d.sessions, s)
	d.mu.Unlock()
	return s, nil
}

func (d *fakeDialer) count(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[name]
}

var (
	r1 = inventory.Device{Name: "R1", Address: "10.0.0.1"}
	r2 = inventory.Device{Name: "R2", Address: "10.0.0.2"}
)

func TestAcquireReusesConnection(t *testing.T) {
	dialer := newFakeDialer()
	p := New(dialer, Options{})
	ctx := context.Background()

	conn, err := p.Acquire(ctx, r1)
	require.NoError(t, err)
	assert.Equal(t, StateBusy, conn.State())

	out, err := conn.Run(ctx, "show version")
	require.NoError(t, err)
	assert.Equal(t, "R1: show version", out)

	p.Release(conn)
	assert.Equal(t, StateIdle, conn.State())

	again, err := p.Acquire(ctx, r1)
	require.NoError(t, err)
	assert.Same(t, conn, again)
	p.Release(again)

	assert.Equal(t, 1, dialer.count("R1"))
	assert.Equal(t, 1, p.Len())
}

func TestAcquireSharesInFlightDial(t *testing.T) {
	dialer := newFakeDialer()
	dialer.delay = 50 * time.Millisecond
	p := New(dialer, Options{})

	const callers = 8
	conns := make(chan *Connection, callers)
	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := p.Acquire(context.Background(), r1)
			if !assert.NoError(t, err) {
				return
			}
			conns <- conn
			p.Release(conn)
		}()
	}
	wg.Wait()
	close(conns)

	var first *Connection
	for conn := range conns {
		if first == nil {
			first = conn
		}
		assert.Same(t, first, conn)
	}
	assert.Equal(t, 1, dialer.count("R1"), "concurrent acquires must share one dial")
}

func TestDevicesDialInParallel(t *testing.T) {
	dialer := newFakeDialer()
	dialer.delay = 100 * time.Millisecond
	p := New(dialer, Options{})

	start := time.Now()
	var wg sync.WaitGroup
	for _, d := range []inventory.Device{r1, r2, {Name: "R3"}, {Name: "R4"}} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := p.Acquire(context.Background(), d)
			if assert.NoError(t, err) {
				p.Release(conn)
			}
		}()
	}
	wg.Wait()

	assert.Less(t, time.Since(start), 350*time.Millisecond, "dials must not be serialized")
	assert.Equal(t, 4, p.Len())
}

func TestAcquireIsExclusive(t *testing.T) {
	p := New(newFakeDialer(), Options{})
	ctx := context.Background()

	conn, err := p.Acquire(ctx, r1)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(waitCtx, r1)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	acquired := make(chan *Connection)
	go func() {
		c, err := p.Acquire(ctx, r1)
		if assert.NoError(t, err) {
			acquired <- c
		}
	}()

	p.Release(conn)
	select {
	case c := <-acquired:
		assert.Same(t, conn, c)
		p.Release(c)
	case <-time.After(time.Second):
		t.Fatal("waiting acquire never got the released connection")
	}
}

func TestDialFailureIsNotCached(t *testing.T) {
	dialer := newFakeDialer()
	dialer.fail["R1"] = errors.New("connection refused")
	p := New(dialer, Options{})
	ctx := context.Background()

	_, err := p.Acquire(ctx, r1)
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "R1", connErr.Device)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, 0, p.Len())

	dialer.mu.Lock()
	delete(dialer.fail, "R1")
	dialer.mu.Unlock()

	conn, err := p.Acquire(ctx, r1)
	require.NoError(t, err)
	p.Release(conn)
	assert.Equal(t, 2, dialer.count("R1"))
}

func TestEvict(t *testing.T) {
	dialer := newFakeDialer()
	p := New(dialer, Options{})
	ctx := context.Background()

	conn, err := p.Acquire(ctx, r1)
	require.NoError(t, err)
	p.Evict(conn)

	assert.Equal(t, StateBroken, conn.State())
	assert.Equal(t, 0, p.Len())
	_, err = conn.Run(ctx, "show clock")
	assert.Error(t, err, "evicted session must be closed")

	fresh, err := p.Acquire(ctx, r1)
	require.NoError(t, err)
	assert.NotSame(t, conn, fresh)
	p.Release(fresh)
	assert.Equal(t, 2, dialer.count("R1"))
}

func TestEvictDeviceWhileHeld(t *testing.T) {
	p := New(newFakeDialer(), Options{})
	ctx := context.Background()

	conn, err := p.Acquire(ctx, r1)
	require.NoError(t, err)

	p.EvictDevice("R1")
	assert.Equal(t, 0, p.Len())

	// still usable by its holder until released.
	_, err = conn.Run(ctx, "show clock")
	require.NoError(t, err)

	p.Release(conn)
	_, err = conn.Run(ctx, "show clock")
	assert.Error(t, err)

	p.EvictDevice("unknown")
}

func TestCloseAll(t *testing.T) {
	dialer := newFakeDialer()
	p := New(dialer, Options{})
	ctx := context.Background()

	idle, err := p.Acquire(ctx, r1)
	require.NoError(t, err)
	p.Release(idle)
	held, err := p.Acquire(ctx, r2)
	require.NoError(t, err)

	require.NoError(t, p.CloseAll())
	assert.Equal(t, 0, p.Len())

	_, err = p.Acquire(ctx, r1)
	require.ErrorIs(t, err, ErrPoolClosed)

	_, err = idle.Run(ctx, "show clock")
	assert.Error(t, err)

	p.Release(held)
	_, err = held.Run(ctx, "show clock")
	assert.Error(t, err, "held connection is closed on release")

	require.NoError(t, p.CloseAll())
}

func TestReap(t *testing.T) {
	p := New(newFakeDialer(), Options{IdleEviction: time.Minute})
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }
	ctx := context.Background()

	old, err := p.Acquire(ctx, r1)
	require.NoError(t, err)
	p.Release(old)

	held, err := p.Acquire(ctx, r2)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, p.Reap(), "only the idle connection is reaped")
	assert.Equal(t, StateBroken, old.State())

	stats := p.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, "R2", stats[0].Device)
	assert.Equal(t, StateBusy, stats[0].State)

	p.Release(held)
}

func TestReapDisabled(t *testing.T) {
	p := New(newFakeDialer(), Options{})
	conn, err := p.Acquire(context.Background(), r1)
	require.NoError(t, err)
	p.Release(conn)

	assert.Equal(t, 0, p.Reap())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.RunReaper(ctx, time.Millisecond)
}

func TestStats(t *testing.T) {
	p := New(newFakeDialer(), Options{})
	ctx := context.Background()

	for _, d := range []inventory.Device{r2, r1} {
		conn, err := p.Acquire(ctx, d)
		require.NoError(t, err)
		p.Release(conn)
	}

	stats := p.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, "R1", stats[0].Device)
	assert.Equal(t, "R2", stats[1].Device)
	for _, s := range stats {
		assert.Equal(t, StateIdle, s.State)
		assert.False(t, s.CreatedAt.IsZero())
	}
}

func TestCommandError(t *testing.T) {
	err := &CommandError{Command: "show foo", Output: "% Invalid input\n", ExitStatus: 1}
	assert.Equal(t, `command "show foo" failed with status 1: % Invalid input`, err.Error())
}
