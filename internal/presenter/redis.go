package presenter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPresenter stores the latest row per instrument and publishes every
// update so external dashboards can follow the table live.
//
// Keys:    <prefix>:snapshot:<instId>, <prefix>:status
// Channel: <prefix>.prices.<instId>
type RedisPresenter struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisPresenter wraps a go-redis client. A zero ttl keeps keys forever.
func NewRedisPresenter(client redis.Cmdable, prefix string, ttl time.Duration) *RedisPresenter {
	if prefix == "" {
		prefix = "okxwatch"
	}
	return &RedisPresenter{client: client, prefix: prefix, ttl: ttl}
}

type redisRow struct {
	Row
	At time.Time `json:"at"`
}

// Present implements Presenter.
func (p *RedisPresenter) Present(ctx context.Context, snap Snapshot) error {
	_, err := p.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, p.StatusKey(), snap.Status, p.ttl)
		for _, row := range snap.Rows {
			payload, err := json.Marshal(redisRow{Row: row, At: snap.At})
			if err != nil {
				return fmt.Errorf("marshal row %s: %w", row.Instrument, err)
			}
			pipe.Set(ctx, p.SnapshotKey(row.Instrument), payload, p.ttl)
			pipe.Publish(ctx, p.Channel(row.Instrument), payload)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish snapshot to redis: %w", err)
	}
	return nil
}

// SnapshotKey is the key holding an instrument's latest row.
func (p *RedisPresenter) SnapshotKey(instID string) string {
	return p.prefix + ":snapshot:" + instID
}

// StatusKey is the key holding the latest status text.
func (p *RedisPresenter) StatusKey() string {
	return p.prefix + ":status"
}

// Channel is the pub/sub channel for an instrument.
func (p *RedisPresenter) Channel(instID string) string {
	return p.prefix + ".prices." + instID
}

var _ Presenter = (*RedisPresenter)(nil)
