// Package pipeline persists and analyzes batch results in the background.
//
// The foreground hands a finished batch to Submit and returns immediately. Failures of the
// background work are logged and counted, they never reach the caller.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jackadi-io/netbatch/internal/config"
	"github.com/jackadi-io/netbatch/internal/executor"
	"golang.org/x/sync/errgroup"
)

var (
	ErrQueueFull = errors.New("result queue is full")
	ErrClosed    = errors.New("result pipeline closed")
)

// Job is a finished batch waiting to be processed.
type Job struct {
	Batch    executor.BatchResult
	Category string
}

// Sink stores a batch, see sink.Store.
type Sink interface {
	Persist(batch executor.BatchResult, category string) error
}

// Analyzer runs after a job is persisted.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, job Job) error
}

type Options struct {
	QueueSize int
	Workers   int
}

// Stats counts processed jobs since Start.
type Stats struct {
	Submitted int64 `json:"submitted"`
	Persisted int64 `json:"persisted"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
}

type Processor struct {
	sink      Sink
	analyzers []Analyzer
	workers   int
	queue     chan Job

	mutex   *sync.RWMutex
	closed  bool
	started bool
	group   *errgroup.Group

	submitted atomic.Int64
	persisted atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

func New(sink Sink, opts Options, analyzers ...Analyzer) *Processor {
	if opts.QueueSize <= 0 {
		opts.QueueSize = config.DefaultQueueSize
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Processor{
		sink:      sink,
		analyzers: analyzers,
		workers:   opts.Workers,
		queue:     make(chan Job, opts.QueueSize),
		mutex:     &sync.RWMutex{},
	}
}

// Start launches the workers. They stop when ctx is done or once Close has drained the queue.
func (p *Processor) Start(ctx context.Context) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	g, ctx := errgroup.WithContext(ctx)
	for range p.workers {
		g.Go(func() error {
			p.work(ctx)
			return nil
		})
	}
	p.group = g
	slog.Debug("result pipeline started", "workers", p.workers, "queue", cap(p.queue))
}

// Submit queues a job without blocking.
func (p *Processor) Submit(job Job) error {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	if p.closed {
		return ErrClosed
	}

	select {
	case p.queue <- job:
		p.submitted.Add(1)
		return nil
	default:
		p.dropped.Add(1)
		slog.Warn("result queue full, batch not persisted", "run", job.Batch.RunID, "category", job.Category)
		return ErrQueueFull
	}
}

// Close stops accepting jobs and waits for the queued ones.
func (p *Processor) Close() {
	p.mutex.Lock()
	if p.closed {
		p.mutex.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	g := p.group
	p.mutex.Unlock()

	if g != nil {
		_ = g.Wait()
	}
	slog.Debug("result pipeline closed", "persisted", p.persisted.Load(), "failed", p.failed.Load())
}

func (p *Processor) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Persisted: p.persisted.Load(),
		Failed:    p.failed.Load(),
		Dropped:   p.dropped.Load(),
	}
}

func (p *Processor) work(ctx context.Context) {
	for {
		select {
		case job, ok := <-p.queue:
			if !ok {
				return
			}
			p.process(ctx, job)
		case <-ctx.Done():
			if n := len(p.queue); n > 0 {
				slog.Warn("result pipeline stopped with pending batches", "pending", n)
			}
			return
		}
	}
}

func (p *Processor) process(ctx context.Context, job Job) {
	logger := slog.With("run", job.Batch.RunID, "category", job.Category)

	if p.sink != nil {
		if err := p.sink.Persist(job.Batch, job.Category); err != nil {
			p.failed.Add(1)
			logger.Error("unable to persist batch", "error", err)
			return
		}
		p.persisted.Add(1)
	}

	for _, a := range p.analyzers {
		if err := a.Analyze(ctx, job); err != nil {
			logger.Warn("analysis failed", "analyzer", a.Name(), "error", err)
		}
	}
}
