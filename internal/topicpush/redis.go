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

package topicpush

import (
	"context"

	"github.com/redis/go-redis/v9"
)

type redisPublishClient interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisPublisher publishes each destination as a Redis pub/sub channel.
type RedisPublisher struct {
	client redisPublishClient
	prefix string
}

var _ Publisher = (*RedisPublisher)(nil)

// NewRedisPublisher publishes through client, prefixing channel names.
// The caller owns the client; Close does not close it.
func NewRedisPublisher(client redis.UniversalClient, prefix string) *RedisPublisher {
	return &RedisPublisher{client: client, prefix: prefix}
}

func (r *RedisPublisher) Name() string { return "redis" }

func (r *RedisPublisher) Publish(ctx context.Context, destination string, payload []byte) error {
	return r.client.Publish(ctx, r.prefix+destination, payload).Err()
}

func (r *RedisPublisher) Close() error { return nil }
