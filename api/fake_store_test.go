package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"sessionscan/scanner"
)

// memoryStore is an in-process TaskStore for tests.
type memoryStore struct {
	mu      sync.Mutex
	tasks   map[string]ScanTask
	matches map[string][]scanner.MatchRecord
	queue   []string
	pushErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{tasks: make(map[string]ScanTask), matches: make(map[string][]scanner.MatchRecord)}
}

func (m *memoryStore) CreateTask(_ context.Context, task *ScanTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.ID] = *task
	return nil
}

func (m *memoryStore) GetTask(_ context.Context, id string) (*ScanTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	task.Matches = append([]scanner.MatchRecord(nil), m.matches[id]...)
	return &task, nil
}

func (m *memoryStore) UpdateTask(_ context.Context, task *ScanTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[task.ID]; !ok {
		return ErrTaskNotFound
	}
	stored := *task
	stored.Matches = nil
	m.tasks[task.ID] = stored
	return nil
}

func (m *memoryStore) AppendMatch(_ context.Context, taskID string, rec scanner.MatchRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matches[taskID] = append(m.matches[taskID], rec)
	return nil
}

func (m *memoryStore) PushToQueue(_ context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pushErr != nil {
		return m.pushErr
	}
	m.queue = append(m.queue, taskID)
	return nil
}

// PopFromQueue mimics the Redis poll interval with a short sleep when empty.
func (m *memoryStore) PopFromQueue(_ context.Context) (string, error) {
	m.mu.Lock()
	if len(m.queue) == 0 {
		m.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		return "", ErrNoTask
	}
	id := m.queue[0]
	m.queue = m.queue[1:]
	m.mu.Unlock()
	return id, nil
}

var errQueueDown = errors.New("queue down")
