package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"sessionscan/scanner"
)

// TaskStore defines persistence operations for scan tasks.
type TaskStore interface {
	CreateTask(ctx context.Context, task *ScanTask) error
	GetTask(ctx context.Context, id string) (*ScanTask, error)
	UpdateTask(ctx context.Context, task *ScanTask) error
	AppendMatch(ctx context.Context, taskID string, m scanner.MatchRecord) error
	PushToQueue(ctx context.Context, taskID string) error
	PopFromQueue(ctx context.Context) (string, error)
}

var (
	// ErrTaskNotFound indicates the requested task doesn't exist in the store.
	ErrTaskNotFound = errors.New("task not found")
	// ErrNoTask is returned by PopFromQueue when nothing arrived within the poll interval.
	ErrNoTask = errors.New("no task queued")
)

const taskQueueKey = "sessionscan:tasks:queue"

// RedisStore implements TaskStore using Redis as backend.
type RedisStore struct {
	client *redis.Client
	poll   time.Duration
}

// NewRedisStore constructs a Redis-backed task store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, poll: 2 * time.Second}
}

func (s *RedisStore) taskKey(id string) string {
	return fmt.Sprintf("sessionscan:scan:%s", id)
}

func (s *RedisStore) matchesKey(id string) string {
	return fmt.Sprintf("sessionscan:scan:%s:matches", id)
}

// CreateTask persists a new scan task in Redis.
func (s *RedisStore) CreateTask(ctx context.Context, task *ScanTask) error {
	data, err := serializeTask(task)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, s.taskKey(task.ID), data).Err()
}

// GetTask retrieves a task by ID together with the matches recorded so far.
func (s *RedisStore) GetTask(ctx context.Context, id string) (*ScanTask, error) {
	res, err := s.client.HGetAll(ctx, s.taskKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, ErrTaskNotFound
	}
	task, err := deserializeTask(res)
	if err != nil {
		return nil, err
	}

	raw, err := s.client.LRange(ctx, s.matchesKey(id), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	for _, item := range raw {
		var m scanner.MatchRecord
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("decode match for task %s: %w", id, err)
		}
		task.Matches = append(task.Matches, m)
	}
	return task, nil
}

// UpdateTask updates an existing task in Redis. Matches are stored separately
// and are not touched.
func (s *RedisStore) UpdateTask(ctx context.Context, task *ScanTask) error {
	data, err := serializeTask(task)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, s.taskKey(task.ID), data).Err()
}

// AppendMatch adds one match to the task's match list.
func (s *RedisStore) AppendMatch(ctx context.Context, taskID string, m scanner.MatchRecord) error {
	encoded, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.client.RPush(ctx, s.matchesKey(taskID), encoded).Err()
}

// PushToQueue enqueues a task ID for workers to process.
func (s *RedisStore) PushToQueue(ctx context.Context, taskID string) error {
	return s.client.LPush(ctx, taskQueueKey, taskID).Err()
}

// PopFromQueue waits up to the poll interval for a task ID.
func (s *RedisStore) PopFromQueue(ctx context.Context) (string, error) {
	res, err := s.client.BRPop(ctx, s.poll, taskQueueKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoTask
	}
	if err != nil {
		return "", err
	}
	if len(res) != 2 {
		return "", errors.New("unexpected response size from BRPOP")
	}
	return res[1], nil
}

func serializeTask(task *ScanTask) (map[string]interface{}, error) {
	ranges, err := json.Marshal(task.Ranges)
	if err != nil {
		return nil, err
	}

	var summaryData string
	if task.Summary != nil {
		encoded, err := json.Marshal(task.Summary)
		if err != nil {
			return nil, err
		}
		summaryData = string(encoded)
	}

	return map[string]interface{}{
		"id":           task.ID,
		"status":       task.Status,
		"ranges":       string(ranges),
		"workers":      task.Workers,
		"summary":      summaryData,
		"created_at":   formatTime(&task.CreatedAt),
		"started_at":   formatTime(task.StartedAt),
		"completed_at": formatTime(task.CompletedAt),
		"error":        task.Error,
	}, nil
}

func deserializeTask(data map[string]string) (*ScanTask, error) {
	task := &ScanTask{
		ID:     data["id"],
		Status: data["status"],
		Error:  data["error"],
	}

	if raw := data["ranges"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &task.Ranges); err != nil {
			return nil, err
		}
	}
	if raw := data["workers"]; raw != "" {
		workers, err := strconv.Atoi(raw)
		if err != nil {
			return nil, err
		}
		task.Workers = workers
	}
	if raw := data["summary"]; raw != "" {
		var summary scanner.Summary
		if err := json.Unmarshal([]byte(raw), &summary); err != nil {
			return nil, err
		}
		task.Summary = &summary
	}

	createdAt, err := parseTime(data["created_at"])
	if err != nil {
		return nil, err
	}
	if createdAt != nil {
		task.CreatedAt = *createdAt
	}
	if task.StartedAt, err = parseTime(data["started_at"]); err != nil {
		return nil, err
	}
	if task.CompletedAt, err = parseTime(data["completed_at"]); err != nil {
		return nil, err
	}
	return task, nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func parseTime(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
