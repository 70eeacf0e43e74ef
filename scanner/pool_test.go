package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"sessionscan/logging"
)

// fakeProber answers from a table keyed by address; unknown addresses are refused.
type fakeProber struct {
	responses map[string]RawOutcome
	panicOn   string
	calls     sync.Map
}

func (f *fakeProber) Probe(_ context.Context, addr string) RawOutcome {
	n, _ := f.calls.LoadOrStore(addr, new(atomic.Int64))
	n.(*atomic.Int64).Add(1)
	if addr == f.panicOn {
		panic("boom")
	}
	if raw, ok := f.responses[addr]; ok {
		return raw
	}
	return RawOutcome{Kind: RawNetworkFailure, Reason: "refused"}
}

func (f *fakeProber) callCount(addr string) int64 {
	n, ok := f.calls.Load(addr)
	if !ok {
		return 0
	}
	return n.(*atomic.Int64).Load()
}

// memorySink collects records in memory.
type memorySink struct {
	mu      sync.Mutex
	records []MatchRecord
}

func (s *memorySink) Record(_ context.Context, m MatchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, m)
	return nil
}

func (s *memorySink) lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Line())
	}
	sort.Strings(out)
	return out
}

func filledQueue(t *testing.T, addrs []string) *MemoryQueue {
	t.Helper()
	q := NewMemoryQueue()
	for _, a := range addrs {
		if err := q.Push(context.Background(), a); err != nil {
			t.Fatal(err)
		}
	}
	return q
}

func testAddrs(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("10.0.%d.%d", i/256, i%256)
	}
	return out
}

func TestPoolProcessesEveryAddressOnce(t *testing.T) {
	addrs := testAddrs(300)
	responses := map[string]RawOutcome{
		"10.0.0.5":  okJSON(`[]`),
		"10.0.0.77": okJSON(`[{"name":"a","status":"up","config":{}}]`),
		"10.0.1.10": okJSON(`{"error":"nope"}`),
	}

	for _, workers := range []int{1, 7, 500} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			prober := &fakeProber{responses: responses}
			sink := &memorySink{}
			pool := &Pool{
				Workers: workers,
				Queue:   filledQueue(t, addrs),
				Prober:  prober,
				Sink:    sink,
				Port:    3000,
				Logger:  logging.Discard(),
			}
			stats := pool.Run(context.Background())

			if stats.Processed != int64(len(addrs)) {
				t.Fatalf("processed %d, want %d", stats.Processed, len(addrs))
			}
			for _, a := range addrs {
				if n := prober.callCount(a); n != 1 {
					t.Fatalf("%s probed %d times", a, n)
				}
			}
			got := sink.lines()
			want := []string{"10.0.0.5:3000", "10.0.0.77:3000"}
			if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
				t.Fatalf("matches = %v, want %v", got, want)
			}
			if stats.Outcomes[Matched] != 2 || stats.Outcomes[NoMatch] != 1 || stats.Outcomes[NetworkError] != int64(len(addrs)-3) {
				t.Fatalf("unexpected outcome counts %v", stats.Outcomes)
			}
		})
	}
}

func TestPoolWithoutWorkersStillDrainsQueue(t *testing.T) {
	for _, workers := range []int{0, -3} {
		q := filledQueue(t, testAddrs(10))
		pool := &Pool{Workers: workers, Queue: q, Prober: &fakeProber{}, Port: 3000, Logger: logging.Discard()}
		stats := pool.Run(context.Background())
		if stats.Processed != 10 {
			t.Fatalf("workers=%d: processed %d, want 10", workers, stats.Processed)
		}
		if n, _ := q.Len(context.Background()); n != 0 {
			t.Fatalf("workers=%d: %d addresses left in queue", workers, n)
		}
	}
}

func TestPoolEmptyQueueCompletesImmediately(t *testing.T) {
	pool := &Pool{
		Workers: 10,
		Queue:   NewMemoryQueue(),
		Prober:  &fakeProber{},
		Port:    3000,
		Logger:  logging.Discard(),
	}
	stats := pool.Run(context.Background())
	if stats.Processed != 0 {
		t.Fatalf("processed %d on empty queue", stats.Processed)
	}
}

func TestPoolIsolatesPanicsAndSinkErrors(t *testing.T) {
	addrs := testAddrs(20)
	prober := &fakeProber{
		panicOn: "10.0.0.3",
		responses: map[string]RawOutcome{
			"10.0.0.4": okJSON(`[]`),
			"10.0.0.9": okJSON(`[]`),
		},
	}
	failing := SinkFunc(func(_ context.Context, m MatchRecord) error {
		if m.Address == "10.0.0.4" {
			return &SinkWriteError{Record: m, Err: errors.New("disk full")}
		}
		return nil
	})

	var seen atomic.Int64
	pool := &Pool{
		Workers:   2,
		Queue:     filledQueue(t, addrs),
		Prober:    prober,
		Sink:      failing,
		Port:      3000,
		Logger:    logging.Discard(),
		OnOutcome: func(ProbeOutcome) { seen.Add(1) },
	}
	stats := pool.Run(context.Background())

	if stats.Processed != int64(len(addrs)) || seen.Load() != int64(len(addrs)) {
		t.Fatalf("processed %d, callbacks %d, want %d", stats.Processed, seen.Load(), len(addrs))
	}
	if stats.SinkErrors != 1 {
		t.Fatalf("sink errors = %d, want 1", stats.SinkErrors)
	}
	if stats.Outcomes[Matched] != 2 {
		t.Fatalf("matched = %d, want 2", stats.Outcomes[Matched])
	}
}

// brokenQueue fails every pop.
type brokenQueue struct{ MemoryQueue }

func (b *brokenQueue) TryPop(context.Context) (string, bool, error) {
	return "", false, errors.New("connection reset")
}

func TestPoolStopsWorkersOnQueueError(t *testing.T) {
	q := &brokenQueue{}
	_ = q.Push(context.Background(), "10.0.0.1")
	pool := &Pool{Workers: 3, Queue: q, Prober: &fakeProber{}, Port: 3000, Logger: logging.Discard()}
	stats := pool.Run(context.Background())
	if stats.QueueErrors != 3 || stats.Processed != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestPoolStopsClaimingAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var processed atomic.Int64
	prober := ProberFunc(func(context.Context, string) RawOutcome {
		if processed.Add(1) == 5 {
			cancel()
		}
		return RawOutcome{Kind: RawNetworkFailure}
	})
	q := filledQueue(t, testAddrs(100))
	pool := &Pool{Workers: 1, Queue: q, Prober: prober, Port: 3000, Logger: logging.Discard()}
	stats := pool.Run(ctx)

	if stats.Processed != 5 {
		t.Fatalf("processed %d after cancel, want 5", stats.Processed)
	}
	if n, _ := q.Len(context.Background()); n != 95 {
		t.Fatalf("remaining %d, want 95", n)
	}
}
