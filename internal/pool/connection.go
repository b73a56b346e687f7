package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackadi-io/netbatch/internal/inventory"
)

type State int

const (
	StateIdle State = iota
	StateBusy
	StateBroken
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StateBroken:
		return "broken"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "idle":
		*s = StateIdle
	case "busy":
		*s = StateBusy
	case "broken":
		*s = StateBroken
	default:
		return fmt.Errorf("unknown connection state %q", text)
	}
	return nil
}

// Connection is a pooled session bound to one device.
type Connection struct {
	device    inventory.Device
	session   Session
	createdAt time.Time

	// slot is held by the current user of the connection.
	slot chan struct{}

	mutex     *sync.Mutex
	lastUsed  time.Time
	state     State
	closeOnce sync.Once
	closeErr  error
	now       func() time.Time
}

func (c *Connection) Device() inventory.Device {
	return c.device
}

// Run executes one command on the underlying session.
func (c *Connection) Run(ctx context.Context, command string) (string, error) {
	out, err := c.session.Run(ctx, command)

	c.mutex.Lock()
	c.lastUsed = c.now()
	c.mutex.Unlock()

	return out, err
}

func (c *Connection) State() State {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.state
}

func (c *Connection) LastUsed() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.lastUsed
}

func (c *Connection) Info() ConnectionInfo {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return ConnectionInfo{
		Device:    c.device.Name,
		CreatedAt: c.createdAt,
		LastUsed:  c.lastUsed,
		State:     c.state,
	}
}

func (c *Connection) setState(s State) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.state == StateBroken {
		return
	}
	c.state = s
}

func (c *Connection) closeSession() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.session.Close()
	})
	return c.closeErr
}

func (c *Connection) unlock() {
	select {
	case <-c.slot:
	default:
	}
}
