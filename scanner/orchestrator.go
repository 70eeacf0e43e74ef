package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"sessionscan/logging"
)

// Summary reports the totals of one orchestrated scan.
type Summary struct {
	Ranges        []string              `json:"ranges"`
	InvalidRanges []string              `json:"invalid_ranges,omitempty"`
	Enqueued      int64                 `json:"enqueued"`
	Processed     int64                 `json:"processed"`
	Matched       int64                 `json:"matched"`
	Outcomes      map[OutcomeKind]int64 `json:"outcomes"`
	SinkErrors    int64                 `json:"sink_errors"`
	Remaining     int                   `json:"remaining"`
	Duration      time.Duration         `json:"duration_ns"`
}

// Orchestrator sequences one batch scan: parse ranges, fill the queue,
// run the pool, wait, report.
type Orchestrator struct {
	Workers int
	Port    int
	Queue   TargetQueue
	Prober  Prober
	Sink    Sink
	Logger  *slog.Logger

	// MaxHosts bounds the total addresses across all ranges; 0 means DefaultMaxHosts.
	MaxHosts int64

	// OnEnqueued, if set, is called once with the number of queued addresses
	// before the pool starts.
	OnEnqueued func(total int64)
	// OnOutcome is passed through to the Pool.
	OnOutcome func(ProbeOutcome)
}

// Run scans every host of ranges. Invalid ranges are logged and skipped.
// The returned error is non-nil when the valid ranges exceed MaxHosts, in
// which case nothing is enqueued, or when the queue could not be filled.
func (o *Orchestrator) Run(ctx context.Context, ranges []string) (Summary, error) {
	logger := o.Logger
	if logger == nil {
		logger = logging.Logger()
	}
	start := time.Now()

	parsed, rangeErrs := Enumerate(ranges)
	summary := Summary{Ranges: make([]string, 0, len(parsed))}
	for _, err := range rangeErrs {
		logger.Warn("skipping invalid range", "error", err)
		summary.InvalidRanges = append(summary.InvalidRanges, err.Error())
	}

	for _, r := range parsed {
		summary.Ranges = append(summary.Ranges, r.String())
	}

	limit := o.MaxHosts
	if limit <= 0 {
		limit = DefaultMaxHosts
	}
	if _, err := CheckHostLimit(parsed, limit); err != nil {
		summary.Duration = time.Since(start)
		return summary, err
	}

	for _, r := range parsed {
		n, err := o.enqueue(ctx, r)
		summary.Enqueued += n
		if err != nil {
			summary.Duration = time.Since(start)
			return summary, fmt.Errorf("failed to enqueue %s: %w", r, err)
		}
		logger.Info("range enqueued", "range", r.String(), "hosts", n)
	}

	if o.OnEnqueued != nil {
		o.OnEnqueued(summary.Enqueued)
	}
	logger.Info("scan starting", "targets", summary.Enqueued, "workers", o.Workers, "port", o.Port)

	pool := &Pool{
		Workers:   o.Workers,
		Queue:     o.Queue,
		Prober:    o.Prober,
		Sink:      o.Sink,
		Port:      o.Port,
		Logger:    logger,
		OnOutcome: o.OnOutcome,
	}
	stats := pool.Run(ctx)

	summary.Processed = stats.Processed
	summary.Outcomes = stats.Outcomes
	summary.Matched = stats.Outcomes[Matched]
	summary.SinkErrors = stats.SinkErrors
	if remaining, err := o.Queue.Len(context.WithoutCancel(ctx)); err == nil {
		summary.Remaining = remaining
	} else {
		logger.Error("failed to read queue length", "error", err)
	}
	summary.Duration = time.Since(start)

	logger.Info("scan completed",
		"processed", summary.Processed,
		"matched", summary.Matched,
		"remaining", summary.Remaining,
		"duration_ms", float64(summary.Duration)/float64(time.Millisecond),
	)
	return summary, nil
}

func (o *Orchestrator) enqueue(ctx context.Context, r NetworkRange) (int64, error) {
	var n int64
	for addr := range r.Hosts() {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if err := o.Queue.Push(ctx, addr.String()); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
