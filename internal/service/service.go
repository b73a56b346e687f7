// Package service is the entry point used by the CLI and the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jackadi-io/netbatch/internal/config"
	"github.com/jackadi-io/netbatch/internal/executor"
	"github.com/jackadi-io/netbatch/internal/intent"
	"github.com/jackadi-io/netbatch/internal/inventory"
	"github.com/jackadi-io/netbatch/internal/pipeline"
	"github.com/jackadi-io/netbatch/internal/scope"
)

var ErrNoIntentCatalog = errors.New("no intent catalog loaded")

// Executor runs a batch, see executor.Executor.
type Executor interface {
	Execute(ctx context.Context, devices []inventory.Device, commands []string, opts executor.Options) (executor.BatchResult, error)
}

// Submitter hands a batch to the background pipeline, see pipeline.Processor.
type Submitter interface {
	Submit(job pipeline.Job) error
}

type Service struct {
	inventory atomic.Pointer[inventory.Inventory]
	executor  Executor
	pipeline  Submitter
	catalog   *intent.Catalog
	defaults  executor.Options
}

// New returns a service. pipeline and catalog are optional.
func New(inv *inventory.Inventory, exec Executor, pipe Submitter, catalog *intent.Catalog, defaults executor.Options) *Service {
	s := &Service{
		executor: exec,
		pipeline: pipe,
		catalog:  catalog,
		defaults: defaults,
	}
	s.inventory.Store(inv)
	return s
}

func (s *Service) Inventory() *inventory.Inventory {
	return s.inventory.Load()
}

// SetInventory swaps the inventory snapshot, batches already running keep the previous one.
func (s *Service) SetInventory(inv *inventory.Inventory) {
	s.inventory.Store(inv)
	slog.Info("inventory reloaded", "devices", inv.Len())
}

func (s *Service) Catalog() *intent.Catalog {
	return s.catalog
}

// ResolveScope resolves expr against the current inventory.
func (s *Service) ResolveScope(expr string) (scope.Resolution, error) {
	return scope.Resolve(expr, s.Inventory())
}

// Options are the per-request execution settings. Zero values and nil pointers keep the
// service defaults, a set pointer replaces the default even with false or zero.
type Options struct {
	MaxConcurrency     int
	CommandTimeout     time.Duration
	StopOnFirstFailure *bool
	AcquireRetries     *int
}

// ExecuteBatch runs commands on devices with the service defaults overridden by opts.
func (s *Service) ExecuteBatch(ctx context.Context, devices []inventory.Device, commands []string, opts Options) (executor.BatchResult, error) {
	return s.executor.Execute(ctx, devices, commands, s.options(opts))
}

func (s *Service) options(opts Options) executor.Options {
	out := s.defaults
	if opts.MaxConcurrency > 0 {
		out.MaxConcurrency = opts.MaxConcurrency
	}
	if opts.CommandTimeout > 0 {
		out.CommandTimeout = opts.CommandTimeout
	}
	if opts.StopOnFirstFailure != nil {
		out.StopOnFirstFailure = *opts.StopOnFirstFailure
	}
	if opts.AcquireRetries != nil {
		out.AcquireRetries = *opts.AcquireRetries
	}
	return out
}

// Request describes a batch: a scope and either raw commands or intents.
type Request struct {
	Scope    string        `json:"scope"`
	Commands []string      `json:"commands,omitempty"`
	Intents  []intent.Call `json:"intents,omitempty"`
	Category string        `json:"category,omitempty"`
	Options  Options       `json:"-"`
}

type Response struct {
	Category   string               `json:"category"`
	Unresolved []string             `json:"unresolved,omitempty"`
	Batch      executor.BatchResult `json:"batch"`
	// Queued reports whether the batch was handed to the background pipeline.
	Queued bool `json:"queued"`
}

func (r Request) category() string {
	if r.Category == "" {
		return config.DefaultCategory
	}
	return r.Category
}

// Run resolves the scope, executes the batch and submits the result for persistence.
//
// Persistence happens in the background: its failures are logged, never returned.
func (s *Service) Run(ctx context.Context, req Request) (Response, error) {
	resp := Response{Category: req.category()}

	res, err := s.ResolveScope(req.Scope)
	if err != nil {
		return resp, err
	}
	resp.Unresolved = res.Unresolved
	if len(res.Unresolved) > 0 {
		slog.Warn("devices not found in inventory", "scope", req.Scope, "devices", res.Unresolved)
	}

	opts := s.options(req.Options)
	if len(req.Intents) > 0 {
		plan, err := s.plan(req.Intents)
		if err != nil {
			return resp, err
		}
		opts.Commands = plan
	}

	batch, err := s.executor.Execute(ctx, res.Devices, req.Commands, opts)
	resp.Batch = batch
	if batch.RunID == "" {
		return resp, err
	}

	if s.pipeline != nil {
		if perr := s.pipeline.Submit(pipeline.Job{Batch: batch, Category: resp.Category}); perr != nil {
			slog.Warn("batch not queued for persistence", "run", batch.RunID, "error", perr)
		} else {
			resp.Queued = true
		}
	}

	return resp, err
}

func (s *Service) plan(calls []intent.Call) (*intent.Plan, error) {
	if s.catalog == nil {
		return nil, ErrNoIntentCatalog
	}
	return s.catalog.NewPlan(calls...)
}

// DevicePlan is the preview of what would run on one device.
type DevicePlan struct {
	Device   inventory.Device `json:"device"`
	Commands []string         `json:"commands,omitempty"`
	Error    string           `json:"error,omitempty"`
}

type Plan struct {
	Scope      string       `json:"scope"`
	Rule       scope.Rule   `json:"rule"`
	Devices    []DevicePlan `json:"devices"`
	Unresolved []string     `json:"unresolved,omitempty"`
}

// Plan previews a request without contacting any device.
func (s *Service) Plan(req Request) (Plan, error) {
	res, err := s.ResolveScope(req.Scope)
	if err != nil {
		return Plan{}, err
	}

	p := Plan{Scope: req.Scope, Rule: res.Rule, Unresolved: res.Unresolved, Devices: []DevicePlan{}}

	var source executor.CommandSource
	if len(req.Intents) > 0 {
		plan, err := s.plan(req.Intents)
		if err != nil {
			return Plan{}, err
		}
		source = plan
	} else if len(req.Commands) == 0 {
		return Plan{}, executor.ErrNoCommands
	}

	for _, d := range res.Devices {
		dp := DevicePlan{Device: d, Commands: req.Commands}
		if source != nil {
			cmds, err := source.Commands(d)
			if err != nil {
				dp.Commands = nil
				dp.Error = fmt.Sprintf("unable to build commands: %s", err)
			} else {
				dp.Commands = cmds
			}
		}
		p.Devices = append(p.Devices, dp)
	}

	return p, nil
}
