package worker

// dlq.go: Dead Letter Queue
// Jobs that exhaust their retries are moved here for inspection or replay.
// Uses a Redis list per source queue: dlq:{original_queue}

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const DLQPrefix = "dlq:"

// DLQEntry wraps a failed job with metadata for debugging.
type DLQEntry struct {
	OriginalQueue string          `json:"original_queue"`
	JobType       string          `json:"job_type"`
	Payload       json.RawMessage `json:"payload"`
	Reason        string          `json:"reason"`
	FailedAt      string          `json:"failed_at"` // ISO 8601
	Attempts      int             `json:"attempts"`
}

// SendToDLQ pushes a failed job to the dead letter queue.
func SendToDLQ(ctx context.Context, rdb *redis.Client, queue string, jobType string, payload json.RawMessage, reason string, attempts int) {
	entry := DLQEntry{
		OriginalQueue: queue,
		JobType:       jobType,
		Payload:       payload,
		Reason:        reason,
		FailedAt:      time.Now().UTC().Format(time.RFC3339),
		Attempts:      attempts,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		log.Error().Err(err).Str("queue", queue).Msg("dlq: failed to marshal entry")
		return
	}

	dlqKey := DLQPrefix + queue
	if err := rdb.LPush(context.WithoutCancel(ctx), dlqKey, data).Err(); err != nil {
		log.Error().Err(err).Str("dlq_key", dlqKey).Msg("dlq: failed to push to DLQ")
		return
	}

	log.Warn().
		Str("queue", queue).
		Str("job_type", jobType).
		Str("reason", reason).
		Int("attempts", attempts).
		Msg("dlq: job moved to dead letter queue")
}

// DLQLength returns the number of entries in a DLQ for monitoring.
func DLQLength(ctx context.Context, rdb *redis.Client, queue string) (int64, error) {
	return rdb.LLen(ctx, DLQPrefix+queue).Result()
}

// ReplayDLQ moves up to limit entries of a queue's DLQ back onto the queue.
// Entries that already failed maxAttempts times stay parked.
func ReplayDLQ(ctx context.Context, rdb *redis.Client, queue string, limit, maxAttempts int) (int, error) {
	d := NewDispatcher(rdb)
	key := DLQPrefix + queue
	// Parked entries go back to the head, so never visit more than the
	// current length in one pass.
	pending, err := rdb.LLen(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if int64(limit) > pending {
		limit = int(pending)
	}
	replayed := 0
	for i := 0; i < limit; i++ {
		raw, err := rdb.RPop(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return replayed, err
		}
		var entry DLQEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			log.Error().Err(err).Str("dlq_key", key).Msg("dlq: dropping unreadable entry")
			continue
		}
		if entry.Attempts >= maxAttempts {
			// Park it at the head so the loop does not see it again this pass.
			if err := rdb.LPush(ctx, key, raw).Err(); err != nil {
				return replayed, err
			}
			continue
		}
		job := Job{Type: entry.JobType, Payload: entry.Payload, Attempts: entry.Attempts}
		if err := d.push(ctx, queue, job); err != nil {
			return replayed, err
		}
		replayed++
	}
	return replayed, nil
}
