package executor

import (
	"time"

	"github.com/jackadi-io/netbatch/internal/inventory"
)

type Status string

const (
	StatusOK      Status = "ok"
	StatusError   Status = "error"
	StatusTimeout Status = "timeout"
)

// CommandTask is one command to run on one device.
type CommandTask struct {
	Device  inventory.Device
	Command string
	Timeout time.Duration
	// Attempt is the connection attempt, starting at 1, that opened the session running the task.
	Attempt int
}

// CommandResult is the outcome of a CommandTask. Output is set on success, even when empty,
// Error otherwise.
type CommandResult struct {
	Device    string        `json:"device"`
	Command   string        `json:"command"`
	Status    Status        `json:"status"`
	Output    string        `json:"output"`
	Error     string        `json:"error,omitempty"`
	Attempt   int           `json:"attempt,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

func (r CommandResult) OK() bool {
	return r.Status == StatusOK
}

// BatchResult holds every command result of a batch, ordered by device then command.
//
// The device lists follow the order of the requested devices. A device is failed as soon as
// one of its commands did not succeed.
type BatchResult struct {
	RunID            string          `json:"run_id"`
	StartedAt        time.Time       `json:"started_at"`
	FinishedAt       time.Time       `json:"finished_at"`
	Results          []CommandResult `json:"results"`
	DevicesRequested []string        `json:"devices_requested"`
	DevicesSucceeded []string        `json:"devices_succeeded"`
	DevicesFailed    []string        `json:"devices_failed"`
}

func (b BatchResult) Duration() time.Duration {
	return b.FinishedAt.Sub(b.StartedAt)
}

// Counts returns the number of results per status.
func (b BatchResult) Counts() map[Status]int {
	counts := map[Status]int{}
	for _, r := range b.Results {
		counts[r.Status]++
	}
	return counts
}

// ByDevice returns the results of one device, in command order.
func (b BatchResult) ByDevice(name string) []CommandResult {
	out := []CommandResult{}
	for _, r := range b.Results {
		if r.Device == name {
			out = append(out, r)
		}
	}
	return out
}

// Devices returns the device names in result order.
func (b BatchResult) Devices() []string {
	seen := map[string]bool{}
	names := []string{}
	for _, r := range b.Results {
		if !seen[r.Device] {
			seen[r.Device] = true
			names = append(names, r.Device)
		}
	}
	return names
}

func (b *BatchResult) count() {
	devices := b.DevicesRequested
	if len(devices) == 0 {
		devices = b.Devices()
	}

	failed := map[string]bool{}
	seen := map[string]bool{}
	for _, r := range b.Results {
		seen[r.Device] = true
		if !r.OK() {
			failed[r.Device] = true
		}
	}

	b.DevicesSucceeded, b.DevicesFailed = []string{}, []string{}
	for _, name := range devices {
		if failed[name] || !seen[name] {
			b.DevicesFailed = append(b.DevicesFailed, name)
		} else {
			b.DevicesSucceeded = append(b.DevicesSucceeded, name)
		}
	}
}
