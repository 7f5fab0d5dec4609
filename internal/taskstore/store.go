package taskstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/praxislabs/scout/internal/metrics"
)

// Store persists task records in Redis with a fixed retention window
// measured from creation. Entries that outlive the window become
// unreachable regardless of status, and late writes into an expired slot
// are dropped silently.
type Store struct {
	client    *redis.Client
	logger    *zap.Logger
	retention time.Duration
}

// NewStore creates a task store with the given retention window.
func NewStore(client *redis.Client, retention time.Duration, logger *zap.Logger) *Store {
	return &Store{
		client:    client,
		logger:    logger,
		retention: retention,
	}
}

func taskKey(id string) string {
	return fmt.Sprintf("task:%s", id)
}

// Create writes a new task entry and starts its retention clock.
func (s *Store) Create(ctx context.Context, task *Task) error {
	task.CreatedAt = time.Now()
	task.ExpiresAt = task.CreatedAt.Add(s.retention)

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if err := s.client.Set(ctx, taskKey(task.ID), data, s.retention).Err(); err != nil {
		return fmt.Errorf("create task %s: %w", task.ID, err)
	}
	return nil
}

// Get retrieves a task by id. Returns ErrTaskNotFound once the retention
// window has elapsed.
func (s *Store) Get(ctx context.Context, id string) (*Task, error) {
	data, err := s.client.Get(ctx, taskKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrTaskNotFound
	} else if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}

	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("unmarshal task %s: %w", id, err)
	}
	return &task, nil
}

// Delete removes a task entry.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, taskKey(id)).Err(); err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}

// MarkProcessing transitions a task to processing.
func (s *Store) MarkProcessing(ctx context.Context, id string) error {
	return s.update(ctx, id, func(t *Task) {
		t.Status = StatusProcessing
	})
}

// Complete writes the terminal completed state with the synthesized result.
func (s *Store) Complete(ctx context.Context, id, result string) error {
	return s.update(ctx, id, func(t *Task) {
		t.Status = StatusCompleted
		t.Result = result
		t.Error = ""
	})
}

// Fail writes the terminal failed state with a user-visible error.
func (s *Store) Fail(ctx context.Context, id, errMsg string) error {
	return s.update(ctx, id, func(t *Task) {
		t.Status = StatusFailed
		t.Error = errMsg
		t.Result = ""
	})
}

// update applies a mutation to an existing entry. Terminal states are
// write-once: a mutation against an already-terminal task is ignored.
// A mutation against an expired slot is a no-op, not an error; retention
// is a hard ceiling, not a guarantee of completion.
func (s *Store) update(ctx context.Context, id string, mutate func(*Task)) error {
	task, err := s.Get(ctx, id)
	if errors.Is(err, ErrTaskNotFound) {
		metrics.TaskWritesDropped.Inc()
		s.logger.Debug("Dropping write to expired task slot", zap.String("task_id", id))
		return nil
	} else if err != nil {
		return err
	}

	if task.Status.Terminal() {
		s.logger.Warn("Ignoring write to terminal task",
			zap.String("task_id", id),
			zap.String("status", string(task.Status)),
		)
		return nil
	}

	mutate(task)

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	// SET XX with KEEPTTL: only lands if the slot still exists, and the
	// retention clock keeps running from creation (fixed, not sliding).
	ok, err := s.client.SetXX(ctx, taskKey(id), data, redis.KeepTTL).Result()
	if err != nil {
		return fmt.Errorf("update task %s: %w", id, err)
	}
	if !ok {
		metrics.TaskWritesDropped.Inc()
		s.logger.Debug("Task slot expired during update, write dropped", zap.String("task_id", id))
	}
	return nil
}

// Ping verifies the Redis connection, for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
