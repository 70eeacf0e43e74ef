package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"sessionscan/logging"
)

// Stats is a snapshot of what a pool run did.
type Stats struct {
	Processed   int64                 `json:"processed"`
	Outcomes    map[OutcomeKind]int64 `json:"outcomes"`
	SinkErrors  int64                 `json:"sink_errors"`
	QueueErrors int64                 `json:"queue_errors"`
}

type counters struct {
	processed   atomic.Int64
	byKind      [outcomeKindCount]atomic.Int64
	sinkErrors  atomic.Int64
	queueErrors atomic.Int64
}

func (c *counters) snapshot() Stats {
	s := Stats{
		Processed:   c.processed.Load(),
		Outcomes:    make(map[OutcomeKind]int64, len(c.byKind)),
		SinkErrors:  c.sinkErrors.Load(),
		QueueErrors: c.queueErrors.Load(),
	}
	for kind := range c.byKind {
		if n := c.byKind[kind].Load(); n > 0 {
			s.Outcomes[OutcomeKind(kind)] = n
		}
	}
	return s
}

// Pool runs a fixed number of workers over a pre-filled TargetQueue.
//
// Each worker loops TryPop, Probe, Classify and, for a match, Sink.Record,
// and exits as soon as TryPop reports the queue empty. Run returns once
// every worker has exited.
type Pool struct {
	Workers int
	Queue   TargetQueue
	Prober  Prober
	Sink    Sink
	Port    int
	Logger  *slog.Logger

	// OnOutcome, if set, is called from worker goroutines after every address.
	OnOutcome func(ProbeOutcome)
}

// Run starts the workers and blocks until all of them are done.
// Fewer than one worker is treated as one. Cancelling ctx stops workers
// from claiming further addresses.
func (p *Pool) Run(ctx context.Context) Stats {
	logger := p.Logger
	if logger == nil {
		logger = logging.Logger()
	}

	workers := p.Workers
	if workers < 1 {
		workers = 1
	}

	var c counters
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.workerLoop(ctx, id, logger, &c)
		}(w)
	}
	wg.Wait()
	return c.snapshot()
}

func (p *Pool) workerLoop(ctx context.Context, id int, logger *slog.Logger, c *counters) {
	for {
		if ctx.Err() != nil {
			return
		}

		addr, ok, err := p.Queue.TryPop(ctx)
		if err != nil {
			c.queueErrors.Add(1)
			logger.Error("worker failed to pop target", "worker", id, "error", err)
			return
		}
		if !ok {
			return
		}

		out := p.process(ctx, addr, logger, c)
		c.processed.Add(1)
		c.byKind[out.Kind].Add(1)
		if p.OnOutcome != nil {
			p.OnOutcome(out)
		}
	}
}

// process handles one address. A panic anywhere in the probe path is
// confined to this address.
func (p *Pool) process(ctx context.Context, addr string, logger *slog.Logger, c *counters) (out ProbeOutcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("probe panicked", "address", addr, "panic", r)
			out = ProbeOutcome{
				Kind:    NetworkError,
				Address: addr,
				Port:    p.Port,
				Reason:  "panic",
				Err:     fmt.Errorf("probe panicked: %v", r),
			}
		}
	}()

	raw := p.Prober.Probe(ctx, addr)
	out = Classify(addr, p.Port, raw)

	if out.Kind != Matched {
		logger.Debug("probe finished", "address", addr, "outcome", out.Kind.String(), "reason", out.Reason)
		return out
	}

	logger.Info("service matched", "address", addr, "port", p.Port, "sessions", out.Evidence.SessionCount)
	if p.Sink == nil {
		return out
	}
	rec := MatchRecord{
		Address:  addr,
		Port:     p.Port,
		Evidence: out.Evidence,
		FoundAt:  time.Now().UTC(),
	}
	if err := p.Sink.Record(ctx, rec); err != nil {
		c.sinkErrors.Add(1)
		logger.Error("failed to record match", "address", addr, "port", p.Port, "error", err)
	}
	return out
}
