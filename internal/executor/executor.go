// Package executor runs commands on many devices concurrently and collects every outcome.
//
// Commands of one device run sequentially on one pooled connection, devices run in parallel
// up to Options.MaxConcurrency. A failure on one device never affects another one: it is
// recorded as a result, never returned as an error.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/jackadi-io/netbatch/internal/config"
	"github.com/jackadi-io/netbatch/internal/inventory"
	"github.com/jackadi-io/netbatch/internal/pool"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNoDevices  = errors.New("no device to run on")
	ErrNoCommands = errors.New("no command to run")
)

const (
	cancelledDetail  = "batch cancelled before the command started"
	skippedDetail    = "skipped after a previous failure on the device"
	noCommandsDetail = "no command for device"
)

// CommandSource builds the commands of a device, typically from intents.
type CommandSource interface {
	Commands(device inventory.Device) ([]string, error)
}

// Pool is the part of the connection pool used by the executor.
type Pool interface {
	Acquire(ctx context.Context, device inventory.Device) (*pool.Connection, error)
	Release(conn *pool.Connection)
	Evict(conn *pool.Connection)
}

type Options struct {
	MaxConcurrency     int
	CommandTimeout     time.Duration
	StopOnFirstFailure bool
	// AcquireRetries is the number of extra attempts to get a connection before giving up on a device.
	AcquireRetries int
	// Commands overrides the batch commands per device when set.
	Commands CommandSource
}

// DefaultOptions returns the options used for zero fields.
func DefaultOptions() Options {
	return Options{
		MaxConcurrency: config.DefaultMaxConcurrency,
		CommandTimeout: config.DefaultCommandTimeout,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = config.DefaultMaxConcurrency
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = config.DefaultCommandTimeout
	}
	if o.AcquireRetries < 0 {
		o.AcquireRetries = 0
	}
	return o
}

type Executor struct {
	pool       Pool
	now        func() time.Time
	retryDelay time.Duration
	lastRunID  atomic.Int64
}

func New(p Pool) *Executor {
	return &Executor{
		pool:       p,
		now:        time.Now,
		retryDelay: config.AcquireRetryDelay,
	}
}

// newRunID returns a time based identifier, strictly increasing within the process.
func (e *Executor) newRunID(t time.Time) string {
	id := t.UnixNano()
	for {
		last := e.lastRunID.Load()
		if id <= last {
			id = last + 1
		}
		if e.lastRunID.CompareAndSwap(last, id) {
			return strconv.FormatInt(id, 10)
		}
	}
}

// Execute runs commands on every device and returns once all of them are done.
//
// The result always holds one entry per (device, command) pair, ordered by device then command.
// The only errors are ErrNoDevices, ErrNoCommands and pool.ErrPoolClosed, the latter being
// returned together with the complete result.
func (e *Executor) Execute(ctx context.Context, devices []inventory.Device, commands []string, opts Options) (BatchResult, error) {
	if len(devices) == 0 {
		return BatchResult{}, ErrNoDevices
	}
	if opts.Commands == nil && len(commands) == 0 {
		return BatchResult{}, ErrNoCommands
	}
	opts = opts.withDefaults()

	start := e.now()
	batch := BatchResult{
		RunID:            e.newRunID(start),
		StartedAt:        start,
		DevicesRequested: make([]string, 0, len(devices)),
	}
	for _, d := range devices {
		batch.DevicesRequested = append(batch.DevicesRequested, d.Name)
	}
	logger := slog.With("run", batch.RunID)
	logger.Info("batch started", "devices", len(devices), "commands", len(commands), "concurrency", opts.MaxConcurrency)

	var poolClosed atomic.Bool
	groups := make([][]CommandResult, len(devices))

	var g errgroup.Group
	g.SetLimit(opts.MaxConcurrency)
	for i, device := range devices {
		g.Go(func() error {
			w := worker{executor: e, opts: opts, device: device, logger: logger.With("device", device.Name)}
			groups[i] = w.run(ctx, commands)
			if w.poolClosed {
				poolClosed.Store(true)
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, group := range groups {
		batch.Results = append(batch.Results, group...)
	}
	batch.FinishedAt = e.now()
	batch.count()

	logger.Info("batch finished",
		"duration", batch.Duration(),
		"succeeded", len(batch.DevicesSucceeded),
		"failed", len(batch.DevicesFailed),
	)

	if poolClosed.Load() {
		return batch, pool.ErrPoolClosed
	}
	return batch, nil
}

// worker runs the command group of one device.
type worker struct {
	executor   *Executor
	opts       Options
	device     inventory.Device
	logger     *slog.Logger
	conn       *pool.Connection
	attempt    int
	poolClosed bool
}

func (w *worker) run(ctx context.Context, commands []string) []CommandResult {
	if w.opts.Commands != nil {
		var err error
		commands, err = w.opts.Commands.Commands(w.device)
		if err != nil {
			w.logger.Warn("unable to build commands", "error", err)
			return []CommandResult{w.failed(commandLabel(w.opts.Commands), StatusError, err.Error())}
		}
		if len(commands) == 0 {
			w.logger.Warn("no command built for device")
			return []CommandResult{w.failed(commandLabel(w.opts.Commands), StatusError, noCommandsDetail)}
		}
	}

	results := make([]CommandResult, 0, len(commands))
	defer w.release()

	for i, cmd := range commands {
		if ctx.Err() != nil {
			return append(results, w.fill(commands[i:], cancelledDetail)...)
		}

		// CloseAll or EvictDevice broke the connection while it was held.
		if w.conn != nil && w.conn.State() == pool.StateBroken {
			w.logger.Debug("held connection closed by the pool")
			w.release()
		}

		if w.conn == nil {
			if err := w.acquire(ctx); err != nil {
				detail := err.Error()
				if ctx.Err() != nil {
					detail = cancelledDetail
				}
				w.logger.Warn("unable to get a connection", "error", err)
				return append(results, w.fill(commands[i:], detail)...)
			}
		}

		res := w.runCommand(ctx, CommandTask{
			Device:  w.device,
			Command: cmd,
			Timeout: w.opts.CommandTimeout,
			Attempt: w.attempt,
		})
		results = append(results, res)

		if !res.OK() && w.opts.StopOnFirstFailure {
			return append(results, w.fill(commands[i+1:], skippedDetail)...)
		}
	}

	return results
}

func (w *worker) acquire(ctx context.Context) error {
	var err error
	for attempt := 0; attempt <= w.opts.AcquireRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(w.executor.retryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
			w.logger.Debug("retrying connection", "attempt", attempt+1)
		}

		w.conn, err = w.executor.pool.Acquire(ctx, w.device)
		if err == nil {
			w.attempt = attempt + 1
			return nil
		}
		if errors.Is(err, pool.ErrPoolClosed) {
			w.poolClosed = true
			return err
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}

func (w *worker) release() {
	if w.conn != nil {
		w.executor.pool.Release(w.conn)
		w.conn = nil
	}
}

func (w *worker) evict() {
	if w.conn != nil {
		w.executor.pool.Evict(w.conn)
		w.conn = nil
	}
}

type runOutput struct {
	output string
	err    error
}

// runCommand enforces the task timeout even if the session ignores its context.
//
// A running command is not interrupted by the batch cancellation, only by its own timeout.
func (w *worker) runCommand(ctx context.Context, task CommandTask) CommandResult {
	cmdCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), task.Timeout)
	defer cancel()

	res := CommandResult{
		Device:    task.Device.Name,
		Command:   task.Command,
		Attempt:   task.Attempt,
		StartedAt: w.executor.now(),
	}

	done := make(chan runOutput, 1)
	conn := w.conn
	go func() {
		out, err := conn.Run(cmdCtx, task.Command)
		done <- runOutput{out, err}
	}()

	var out runOutput
	select {
	case out = <-done:
	case <-cmdCtx.Done():
		out = runOutput{err: cmdCtx.Err()}
	}
	res.Duration = w.executor.now().Sub(res.StartedAt)

	var cmdErr *pool.CommandError
	switch {
	case out.err == nil:
		res.Status = StatusOK
		res.Output = out.output
	case errors.Is(out.err, context.DeadlineExceeded) || cmdCtx.Err() != nil:
		res.Status = StatusTimeout
		res.Error = fmt.Sprintf("command timed out after %s", task.Timeout)
		w.logger.Warn("command timed out", "command", task.Command, "timeout", task.Timeout)
		w.evict()
	case errors.As(out.err, &cmdErr):
		res.Status = StatusError
		res.Error = cmdErr.Error()
		w.logger.Debug("command rejected by device", "command", task.Command, "status", cmdErr.ExitStatus)
	default:
		res.Status = StatusError
		res.Error = out.err.Error()
		w.logger.Warn("command failed", "command", task.Command, "error", out.err)
		w.evict()
	}

	return res
}

func (w *worker) failed(command string, status Status, detail string) CommandResult {
	return CommandResult{
		Device:    w.device.Name,
		Command:   command,
		Status:    status,
		Error:     detail,
		StartedAt: w.executor.now(),
	}
}

func (w *worker) fill(commands []string, detail string) []CommandResult {
	out := make([]CommandResult, 0, len(commands))
	for _, cmd := range commands {
		out = append(out, w.failed(cmd, StatusError, detail))
	}
	return out
}

func commandLabel(src CommandSource) string {
	if s, ok := src.(fmt.Stringer); ok {
		return s.String()
	}
	return "commands"
}
