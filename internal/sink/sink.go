// Package sink persists batch results on disk for later analysis.
//
// Every command result is one blob stored under res/<run>/<category>/<device>/<command>,
// the batch summary under run/<run>/<category>. Writing the same batch twice overwrites the
// same keys.
package sink

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/jackadi-io/netbatch/internal/config"
	"github.com/jackadi-io/netbatch/internal/executor"
	"github.com/jackadi-io/netbatch/internal/serializer"
)

var (
	ErrNotFound     = errors.New("result not found")
	ErrInvalidRunID = errors.New("run ID and category are required")
)

const lockStripes = 64

// RunInfo is the stored summary of a batch. Device lists keep the batch order.
type RunInfo struct {
	RunID            string                  `json:"run_id"`
	Category         string                  `json:"category"`
	StartedAt        time.Time               `json:"started_at"`
	FinishedAt       time.Time               `json:"finished_at"`
	DevicesRequested []string                `json:"devices_requested"`
	DevicesSucceeded []string                `json:"devices_succeeded"`
	DevicesFailed    []string                `json:"devices_failed"`
	Counts           map[executor.Status]int `json:"counts"`
}

// record is the stored form of a command result, Index keeps the command order of the device.
type record struct {
	Index int `json:"index"`
	executor.CommandResult
}

type Options struct {
	// TTL of every written key, zero keeps them forever.
	TTL time.Duration
	// InMemory keeps the store in memory, the directory is ignored.
	InMemory bool
	// ReadOnly opens an existing store for reading only.
	ReadOnly bool
}

type Store struct {
	db    *badger.DB
	ttl   time.Duration
	locks [lockStripes]sync.Mutex
}

// Open opens or creates the store in dir.
func Open(dir string, opts Options) (*Store, error) {
	dbOptions := badger.DefaultOptions(dir).WithLogger(badgerLogger{})
	if opts.InMemory {
		dbOptions = badger.DefaultOptions("").WithInMemory(true).WithLogger(badgerLogger{})
	} else if opts.ReadOnly {
		dbOptions = dbOptions.WithReadOnly(true)
	}

	db, err := badger.Open(dbOptions)
	if err != nil {
		return nil, fmt.Errorf("unable to open result store: %w", err)
	}
	return &Store{db: db, ttl: opts.TTL}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// lock serializes writers of the same (run, category, device).
func (s *Store) lock(run, category, device string) func() {
	h := fnv.New32a()
	_, _ = h.Write(DeviceResultsPrefix(run, category, device))
	m := &s.locks[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}

func (s *Store) entry(key, value []byte) *badger.Entry {
	e := badger.NewEntry(key, value)
	if s.ttl > 0 {
		e = e.WithTTL(s.ttl)
	}
	return e
}

// Persist writes every result of batch under category. It can be called again with the same
// batch: the keys are overwritten, never duplicated.
func (s *Store) Persist(batch executor.BatchResult, category string) error {
	if batch.RunID == "" || category == "" {
		return ErrInvalidRunID
	}

	devices := batch.Devices()
	for _, device := range devices {
		if err := s.persistDevice(batch.RunID, category, device, batch.ByDevice(device)); err != nil {
			return fmt.Errorf("unable to persist %s: %w", device, err)
		}
	}

	requested := batch.DevicesRequested
	if len(requested) == 0 {
		requested = devices
	}
	info := RunInfo{
		RunID:            batch.RunID,
		Category:         category,
		StartedAt:        batch.StartedAt,
		FinishedAt:       batch.FinishedAt,
		DevicesRequested: requested,
		DevicesSucceeded: batch.DevicesSucceeded,
		DevicesFailed:    batch.DevicesFailed,
		Counts:           batch.Counts(),
	}
	data, err := serializer.JSON.Marshal(info)
	if err != nil {
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(s.entry(RunKey(batch.RunID, category), data))
	})
	if err != nil {
		return fmt.Errorf("unable to persist run summary: %w", err)
	}

	slog.Debug("results persisted", "run", batch.RunID, "category", category, "devices", len(devices), "results", len(batch.Results))
	return nil
}

func (s *Store) persistDevice(run, category, device string, results []executor.CommandResult) error {
	unlock := s.lock(run, category, device)
	defer unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		for i, r := range results {
			data, err := serializer.JSON.Marshal(record{Index: i, CommandResult: r})
			if err != nil {
				return err
			}
			if err := txn.SetEntry(s.entry(ResultKey(run, category, device, r.Command), data)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Read returns the results of one device in command order.
func (s *Store) Read(run, category, device string) ([]executor.CommandResult, error) {
	records, err := s.scan(DeviceResultsPrefix(run, category, device))
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}

	slices.SortStableFunc(records, func(a, b record) int { return a.Index - b.Index })
	return unwrap(records), nil
}

// ReadCommand returns a single result.
func (s *Store) ReadCommand(run, category, device, command string) (executor.CommandResult, error) {
	var r record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(ResultKey(run, category, device, command))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return serializer.JSON.Unmarshal(val, &r)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return executor.CommandResult{}, ErrNotFound
	}
	if err != nil {
		return executor.CommandResult{}, err
	}
	return r.CommandResult, nil
}

// List returns every result of a run, ordered by device then command.
func (s *Store) List(run, category string) ([]executor.CommandResult, error) {
	records, err := s.scan(RunResultsPrefix(run, category))
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}

	// the summary keeps the device order of the batch, keys are sorted by name.
	order := map[string]int{}
	if info, err := s.Run(run, category); err == nil {
		for i, d := range info.DevicesRequested {
			order[d] = i
		}
	}

	slices.SortStableFunc(records, func(a, b record) int {
		ia, oka := order[a.Device]
		ib, okb := order[b.Device]
		switch {
		case oka && okb && ia != ib:
			return ia - ib
		case oka != okb:
			if oka {
				return -1
			}
			return 1
		case a.Device != b.Device:
			return strings.Compare(a.Device, b.Device)
		}
		return a.Index - b.Index
	})
	return unwrap(records), nil
}

func (s *Store) scan(prefix []byte) ([]record, error) {
	records := []record{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var r record
			err := item.Value(func(val []byte) error {
				return serializer.JSON.Unmarshal(val, &r)
			})
			if err != nil {
				slog.Warn("skipping unreadable result", "key", string(item.Key()), "error", err)
				continue
			}
			records = append(records, r)
		}
		return nil
	})
	return records, err
}

func unwrap(records []record) []executor.CommandResult {
	out := make([]executor.CommandResult, 0, len(records))
	for _, r := range records {
		out = append(out, r.CommandResult)
	}
	return out
}

// Run returns the summary of a run.
func (s *Store) Run(run, category string) (RunInfo, error) {
	var info RunInfo
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(RunKey(run, category))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return serializer.JSON.Unmarshal(val, &info)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return RunInfo{}, ErrNotFound
	}
	return info, err
}

// Runs lists the stored runs, most recent first. A limit of zero uses config.ResultsListLimit.
func (s *Store) Runs(limit int) ([]RunInfo, error) {
	if limit <= 0 {
		limit = config.ResultsListLimit
	}
	limit = min(limit, config.MaxResultsListLimit)

	runs := []RunInfo{}
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(RunKeyPrefix + keySeparator)
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(append(prefix, 0xFF)); it.Valid() && len(runs) < limit; it.Next() {
			var info RunInfo
			err := it.Item().Value(func(val []byte) error {
				return serializer.JSON.Unmarshal(val, &info)
			})
			if err != nil {
				slog.Warn("skipping unreadable run", "key", string(it.Item().Key()), "error", err)
				continue
			}
			runs = append(runs, info)
		}
		return nil
	})
	return runs, err
}

// RunGC reclaims value log space periodically until ctx is done.
func (s *Store) RunGC(ctx context.Context) {
	ticker := time.NewTicker(config.DatabaseGCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			err := s.db.RunValueLogGC(config.DBGCThreshold)
			if errors.Is(err, badger.ErrGCInMemoryMode) {
				return
			}
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				slog.Warn("database GC failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
