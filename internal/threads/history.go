package threads

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Roles recorded in thread history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry in a conversation thread.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"ts"`
}

// History keeps a bounded per-thread conversation transcript in Redis.
// The orchestrator reads recent messages for gate checks; it is not a
// durable chat log.
type History struct {
	client      *redis.Client
	logger      *zap.Logger
	ttl         time.Duration
	maxMessages int
}

// NewHistory creates a thread history manager.
func NewHistory(client *redis.Client, maxMessages int, ttl time.Duration, logger *zap.Logger) *History {
	return &History{
		client:      client,
		logger:      logger,
		ttl:         ttl,
		maxMessages: maxMessages,
	}
}

func threadKey(threadID string) string {
	return fmt.Sprintf("thread:%s", threadID)
}

// Append records a message at the tail of the thread, trimming the thread
// to the configured size and refreshing its TTL.
func (h *History) Append(ctx context.Context, threadID string, msg Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	key := threadKey(threadID)
	pipe := h.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, int64(-h.maxMessages), -1)
	pipe.Expire(ctx, key, h.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append to thread %s: %w", threadID, err)
	}
	return nil
}

// Recent returns up to n most recent messages in chronological order.
func (h *History) Recent(ctx context.Context, threadID string, n int) ([]Message, error) {
	raw, err := h.client.LRange(ctx, threadKey(threadID), int64(-n), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read thread %s: %w", threadID, err)
	}

	msgs := make([]Message, 0, len(raw))
	for _, item := range raw {
		var msg Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			h.logger.Warn("Skipping malformed thread entry",
				zap.String("thread_id", threadID),
				zap.Error(err),
			)
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// RecentByRole returns up to n most recent messages with the given role,
// in chronological order.
func (h *History) RecentByRole(ctx context.Context, threadID, role string, n int) ([]Message, error) {
	// Scan the whole retained window; threads are already trimmed.
	all, err := h.Recent(ctx, threadID, h.maxMessages)
	if err != nil {
		return nil, err
	}

	var matched []Message
	for _, msg := range all {
		if msg.Role == role {
			matched = append(matched, msg)
		}
	}
	if len(matched) > n {
		matched = matched[len(matched)-n:]
	}
	return matched, nil
}

// Contents extracts the message bodies in order.
func Contents(msgs []Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}
