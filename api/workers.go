package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"sessionscan/scanner"
)

// ScanRunner executes one task's scan, recording matches through sink.
type ScanRunner func(ctx context.Context, task *ScanTask, sink scanner.Sink) (scanner.Summary, error)

// StartWorkers launches background goroutines that process scan tasks.
// The returned WaitGroup is released once every worker has observed ctx
// cancellation and finished its current task.
func StartWorkers(ctx context.Context, store TaskStore, run ScanRunner, numWorkers int, logger *slog.Logger) *sync.WaitGroup {
	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			workerLoop(ctx, store, run, logger)
		}()
	}
	return &wg
}

func workerLoop(ctx context.Context, store TaskStore, run ScanRunner, logger *slog.Logger) {
	for ctx.Err() == nil {
		taskID, err := store.PopFromQueue(ctx)
		if err != nil {
			if errors.Is(err, ErrNoTask) || ctx.Err() != nil {
				continue
			}
			logger.Error("worker failed to pop task", "error", err)
			sleep(ctx, time.Second)
			continue
		}
		processTask(ctx, store, run, taskID, logger)
	}
}

func processTask(ctx context.Context, store TaskStore, run ScanRunner, taskID string, logger *slog.Logger) {
	task, err := store.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			logger.Warn("worker task disappeared", "task_id", taskID)
			return
		}
		logger.Error("worker failed to load task", "task_id", taskID, "error", err)
		return
	}

	now := time.Now().UTC()
	task.Status = StatusRunning
	task.Error = ""
	task.Summary = nil
	task.StartedAt = &now
	task.CompletedAt = nil
	if err := store.UpdateTask(ctx, task); err != nil {
		logger.Error("worker failed to mark task running", "task_id", taskID, "error", err)
		return
	}
	logger.Info("task started", "task_id", taskID, "ranges", task.Ranges, "workers", task.Workers)

	sink := scanner.SinkFunc(func(ctx context.Context, m scanner.MatchRecord) error {
		return store.AppendMatch(context.WithoutCancel(ctx), taskID, m)
	})

	summary, err := run(ctx, task, sink)
	if err == nil && ctx.Err() != nil {
		task.Summary = &summary
		err = fmt.Errorf("scan interrupted with %d addresses left: %w", summary.Remaining, ctx.Err())
	}
	if err != nil {
		failTask(task, store, err, logger)
		return
	}

	task.Status = StatusCompleted
	task.Summary = &summary
	done := time.Now().UTC()
	task.CompletedAt = &done
	if err := store.UpdateTask(context.WithoutCancel(ctx), task); err != nil {
		logger.Error("worker failed to update task", "task_id", task.ID, "error", err)
		return
	}
	logger.Info("task completed", "task_id", task.ID, "processed", summary.Processed, "matched", summary.Matched)
}

func failTask(task *ScanTask, store TaskStore, err error, logger *slog.Logger) {
	logger.Error("worker task failed", "task_id", task.ID, "error", err)
	task.Status = StatusFailed
	task.Error = err.Error()
	now := time.Now().UTC()
	task.CompletedAt = &now
	if updateErr := store.UpdateTask(context.Background(), task); updateErr != nil {
		logger.Error("worker failed to persist failed task", "task_id", task.ID, "error", updateErr)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// NewScanRunner returns a ScanRunner that scans with a fresh in-memory queue
// per task, sharing prober, port, host limit and any extra sink (such as an
// output file).
func NewScanRunner(prober scanner.Prober, port int, maxHosts int64, extra scanner.Sink, logger *slog.Logger) ScanRunner {
	return func(ctx context.Context, task *ScanTask, sink scanner.Sink) (scanner.Summary, error) {
		if task.Workers < 1 {
			return scanner.Summary{}, fmt.Errorf("task %s has no workers configured", task.ID)
		}
		if extra != nil {
			sink = scanner.MultiSink{sink, extra}
		}
		o := &scanner.Orchestrator{
			Workers:  task.Workers,
			Port:     port,
			Queue:    scanner.NewMemoryQueue(),
			Prober:   prober,
			Sink:     sink,
			Logger:   logger.With("task_id", task.ID),
			MaxHosts: maxHosts,
		}
		return o.Run(ctx, task.Ranges)
	}
}
