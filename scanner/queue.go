package scanner

import (
	"context"
	"sync"
)

// TargetQueue holds pending addresses for the worker pool.
//
// TryPop never blocks: ok == false with a nil error means the queue is empty,
// which is how workers learn there is no more work.
type TargetQueue interface {
	Push(ctx context.Context, addr string) error
	TryPop(ctx context.Context) (addr string, ok bool, err error)
	Len(ctx context.Context) (int, error)
}

// MemoryQueue is an in-process FIFO TargetQueue safe for concurrent use.
type MemoryQueue struct {
	mu    sync.Mutex
	items []string
	head  int
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

// Push appends addr to the tail of the queue.
func (q *MemoryQueue) Push(_ context.Context, addr string) error {
	q.mu.Lock()
	q.items = append(q.items, addr)
	q.mu.Unlock()
	return nil
}

// TryPop removes and returns the head of the queue, or reports empty.
func (q *MemoryQueue) TryPop(_ context.Context) (string, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head >= len(q.items) {
		return "", false, nil
	}
	addr := q.items[q.head]
	q.items[q.head] = ""
	q.head++

	// Reclaim the drained prefix once it dominates the backing array.
	if q.head > 1024 && q.head*2 > len(q.items) {
		q.items = append([]string(nil), q.items[q.head:]...)
		q.head = 0
	}
	return addr, true, nil
}

// Len returns the number of addresses still waiting.
func (q *MemoryQueue) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head, nil
}
