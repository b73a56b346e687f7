package pipeline

import (
	"context"
	"log/slog"

	"github.com/jackadi-io/netbatch/internal/executor"
)

// SummaryAnalyzer logs the outcome of every batch and the devices that failed.
type SummaryAnalyzer struct {
	Logger *slog.Logger
}

func (SummaryAnalyzer) Name() string {
	return "summary"
}

func (a SummaryAnalyzer) Analyze(_ context.Context, job Job) error {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}

	counts := job.Batch.Counts()
	attrs := []any{
		"run", job.Batch.RunID,
		"category", job.Category,
		"devices", len(job.Batch.DevicesRequested),
		"ok", counts[executor.StatusOK],
		"error", counts[executor.StatusError],
		"timeout", counts[executor.StatusTimeout],
		"duration", job.Batch.Duration(),
	}

	if len(job.Batch.DevicesFailed) == 0 {
		logger.Info("batch summary", attrs...)
		return nil
	}

	logger.Warn("batch summary", append(attrs, "failed_devices", job.Batch.DevicesFailed)...)
	return nil
}
