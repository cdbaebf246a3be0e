// Package redisq keeps scheduled reminders in Redis so they outlive the
// process. A sorted set orders reminder ids by fire time and a hash per id
// holds the payload; a Worker polls for due entries and delivers them.
package redisq

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/brk3/habitd/internal/dispatch"
	"github.com/brk3/habitd/internal/logger"
	"github.com/brk3/habitd/internal/nudge"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "habits:"

type Dispatcher struct {
	client *redis.Client
	prefix string
}

func New(client *redis.Client, prefix string) *Dispatcher {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Dispatcher{client: client, prefix: prefix}
}

func (d *Dispatcher) queueKey() string            { return d.prefix + "queue" }
func (d *Dispatcher) authKey() string             { return d.prefix + "authorized" }
func (d *Dispatcher) payloadKey(id string) string { return d.prefix + "reminder:" + id }

func (d *Dispatcher) Schedule(ctx context.Context, fireAt time.Time, p dispatch.Payload) (string, error) {
	if !d.IsAuthorized(ctx) {
		return "", dispatch.ErrUnauthorized
	}

	id := uuid.NewString()
	_, err := d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, d.payloadKey(id),
			"habit_id", p.HabitID,
			"title", p.Title,
			"body", p.Body,
			"fire_at", fireAt.UTC().Format(time.RFC3339Nano),
		)
		pipe.ZAdd(ctx, d.queueKey(), redis.Z{Score: float64(fireAt.UnixMilli()), Member: id})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue reminder: %w", err)
	}
	return id, nil
}

func (d *Dispatcher) Cancel(ctx context.Context, id string) error {
	removed, err := d.client.ZRem(ctx, d.queueKey(), id).Result()
	if err != nil {
		return fmt.Errorf("failed to dequeue reminder %s: %w", id, err)
	}
	if err := d.client.Del(ctx, d.payloadKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete reminder %s: %w", id, err)
	}
	if removed == 0 {
		return fmt.Errorf("reminder %s: %w", id, dispatch.ErrNotFound)
	}
	return nil
}

// IsAuthorized is true unless authorization was explicitly revoked. Redis
// errors count as not authorized.
func (d *Dispatcher) IsAuthorized(ctx context.Context) bool {
	v, err := d.client.Get(ctx, d.authKey()).Result()
	if errors.Is(err, redis.Nil) {
		return true
	}
	if err != nil {
		logger.WarnContext(ctx, "Failed to read notification authorization", "error", err)
		return false
	}
	return v == "1"
}

func (d *Dispatcher) Authorize(ctx context.Context) (bool, error) {
	if err := d.SetAuthorized(ctx, true); err != nil {
		return false, err
	}
	return true, nil
}

func (d *Dispatcher) SetAuthorized(ctx context.Context, ok bool) error {
	v := "0"
	if ok {
		v = "1"
	}
	return d.client.Set(ctx, d.authKey(), v, 0).Err()
}

// Pending returns the number of queued reminders.
func (d *Dispatcher) Pending(ctx context.Context) (int64, error) {
	return d.client.ZCard(ctx, d.queueKey()).Result()
}

// claimDue removes and returns up to limit reminders due at or before now.
// ZREM decides ownership, so concurrent workers never deliver one reminder
// twice.
func (d *Dispatcher) claimDue(ctx context.Context, now time.Time, limit int64) ([]nudge.Reminder, error) {
	ids, err := d.client.ZRangeByScore(ctx, d.queueKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read due reminders: %w", err)
	}

	var out []nudge.Reminder
	for _, id := range ids {
		n, err := d.client.ZRem(ctx, d.queueKey(), id).Result()
		if err != nil {
			return out, fmt.Errorf("failed to claim reminder %s: %w", id, err)
		}
		if n == 0 {
			continue
		}
		fields, err := d.client.HGetAll(ctx, d.payloadKey(id)).Result()
		if err != nil {
			return out, fmt.Errorf("failed to load reminder %s: %w", id, err)
		}
		_ = d.client.Del(ctx, d.payloadKey(id)).Err()

		fireAt, _ := time.Parse(time.RFC3339Nano, fields["fire_at"])
		out = append(out, nudge.Reminder{
			HabitID: fields["habit_id"],
			Title:   fields["title"],
			Body:    fields["body"],
			FireAt:  fireAt,
		})
	}
	return out, nil
}

var (
	_ dispatch.Dispatcher = (*Dispatcher)(nil)
	_ dispatch.Authorizer = (*Dispatcher)(nil)
)
