// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package pubsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/flagrelay/internal/healthcheck"
	"github.com/cardinalhq/flagrelay/internal/idgen"
	"github.com/cardinalhq/flagrelay/internal/logctx"
)

// redisSubscriber is the part of the Redis client the service needs.
type redisSubscriber interface {
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// RedisService listens on Redis pub/sub channels.
type RedisService struct {
	client        redisSubscriber
	channels      []string
	handler       MessageHandler
	maxConcurrent int
	health        healthcheck.ConditionSetter
}

var _ Backend = (*RedisService)(nil)

// NewRedisService subscribes client to channels once Run is called. The
// caller owns client.
func NewRedisService(client redis.UniversalClient, cfg RedisConfig, handler MessageHandler, maxConcurrent int, health healthcheck.ConditionSetter) (*RedisService, error) {
	if len(cfg.Channels) == 0 {
		return nil, errors.New("at least one redis channel is required")
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &RedisService{
		client:        client,
		channels:      cfg.Channels,
		handler:       handler,
		maxConcurrent: maxConcurrent,
		health:        health,
	}, nil
}

func (rs *RedisService) GetName() string {
	return string(BackendTypeRedis)
}

func (rs *RedisService) setReady(ready bool) {
	if rs.health != nil {
		rs.health.SetReadyCondition("ingest_redis", ready)
	}
}

func (rs *RedisService) Run(doneCtx context.Context) error {
	rs.setReady(false)

	sub := rs.client.Subscribe(doneCtx, rs.channels...)
	defer func() {
		if err := sub.Close(); err != nil {
			slog.Warn("Failed to close redis subscription", slog.Any("error", err))
		}
	}()

	// Wait for the subscription confirmation so failures surface at start.
	if _, err := sub.Receive(doneCtx); err != nil {
		if doneCtx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to subscribe to redis channels: %w", err)
	}

	slog.Info("Listening for update notifications on redis",
		slog.Any("channels", rs.channels),
		slog.Int("max_concurrent", rs.maxConcurrent))
	rs.setReady(true)

	g := new(errgroup.Group)
	g.SetLimit(rs.maxConcurrent)

	ch := sub.Channel()
	for {
		select {
		case <-doneCtx.Done():
			slog.Info("Shutting down redis listener")
			_ = g.Wait()
			return nil
		case msg, ok := <-ch:
			if !ok {
				_ = g.Wait()
				rs.setReady(false)
				if doneCtx.Err() != nil {
					return nil
				}
				return errors.New("redis subscription channel closed")
			}
			if msg == nil {
				continue
			}
			source := "redis:" + msg.Channel
			payload := []byte(msg.Payload)
			g.Go(func() error {
				ctx := logctx.WithMessage(doneCtx, source, idgen.NextMessageID())
				// Errors are logged by the handler; one bad message must not stop the loop.
				_ = rs.handler.HandleMessage(ctx, source, payload)
				return nil
			})
		}
	}
}
