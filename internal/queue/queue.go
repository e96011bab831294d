// Package queue provides a thin Redis-list-backed broker adapter: blocking
// pop with timeout, atomic push, and length inspection over two named
// lists (main and DLQ). Any Redis-protocol-compatible store works.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ventodeco/submission-intake/internal/jobs"
)

// ErrDecode signals that a popped element could not be decoded as a Job.
// It is distinct from transport errors: the element is already removed
// from the broker, so the caller must treat it as a general error rather
// than silently discarding it.
var ErrDecode = errors.New("queue: decode error")

// Queue wraps a Redis client and exposes the broker contract required by
// the upload and DLQ consumer pools.
type Queue struct {
	client redis.UniversalClient
}

// New wraps an existing Redis client.
func New(client redis.UniversalClient) *Queue {
	return &Queue{client: client}
}

// Enqueue pushes the serialized job to the head of the named list.
func (q *Queue) Enqueue(ctx context.Context, list string, job jobs.Job) error {
	data, err := jobs.Encode(job)
	if err != nil {
		return fmt.Errorf("queue: encode job: %w", err)
	}
	if err := q.client.LPush(ctx, list, data).Err(); err != nil {
		return fmt.Errorf("queue: lpush %s: %w", list, err)
	}
	return nil
}

// Dequeue blocks up to timeout waiting for an element at the tail of the
// named list. It returns (nil, nil) on timeout, a Job on success, and
// ErrDecode (wrapped) if the popped payload cannot be decoded.
//
// Enqueue pushes to the head (LPUSH) and Dequeue pops from the tail
// (BRPOP), so a single consumer observes FIFO order.
func (q *Queue) Dequeue(ctx context.Context, list string, timeout time.Duration) (*jobs.Job, error) {
	res, err := q.client.BRPop(ctx, timeout, list).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: brpop %s: %w", list, err)
	}
	// BRPop returns [listName, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("%w: unexpected brpop reply shape", ErrDecode)
	}
	job, err := jobs.Decode([]byte(res[1]))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return &job, nil
}

// Length returns the current length of the named list.
func (q *Queue) Length(ctx context.Context, list string) (int64, error) {
	n, err := q.client.LLen(ctx, list).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: llen %s: %w", list, err)
	}
	return n, nil
}
