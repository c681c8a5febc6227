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
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/cardinalhq/flagrelay/internal/healthcheck"
)

// BackendDeps carries what the backends need beyond their own config.
type BackendDeps struct {
	Handler MessageHandler
	Ingest  IngestConfig
	Redis   RedisConfig
	GCP     GCPConfig
	SQS     SQSConfig
	Azure   AzureConfig

	// RedisClient is shared with other Redis users and is required for the
	// redis backend.
	RedisClient redis.UniversalClient
	// HTTP is the push service mounted on the main server, if any.
	HTTP   *HTTPService
	Health healthcheck.ConditionSetter
}

// NewBackend creates a new Backend implementation based on the specified type
func NewBackend(ctx context.Context, backendType BackendType, deps BackendDeps) (Backend, error) {
	switch backendType {
	case BackendTypeRedis:
		if deps.RedisClient == nil {
			return nil, fmt.Errorf("redis backend requires a redis client")
		}
		return NewRedisService(deps.RedisClient, deps.Redis, deps.Handler, deps.Ingest.MaxConcurrent, deps.Health)
	case BackendTypeGCPPubSub:
		return NewGCPPubSubService(ctx, deps.GCP, deps.Handler, deps.Ingest.MaxConcurrent, deps.Health)
	case BackendTypeSQS:
		return NewSQSService(ctx, deps.SQS, deps.Handler, deps.Ingest.MaxConcurrent, deps.Health)
	case BackendTypeAzure:
		return NewAzureQueueService(ctx, deps.Azure, deps.Handler, deps.Health)
	case BackendTypeHTTP:
		if deps.HTTP == nil {
			return nil, fmt.Errorf("http backend requires the push service")
		}
		return deps.HTTP, nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", backendType)
	}
}

// NewBackends creates every backend named in the ingest config.
func NewBackends(ctx context.Context, deps BackendDeps) ([]Backend, error) {
	backends := make([]Backend, 0, len(deps.Ingest.Backends))
	for _, name := range deps.Ingest.Backends {
		b, err := NewBackend(ctx, BackendType(name), deps)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s backend: %w", name, err)
		}
		backends = append(backends, b)
	}
	return backends, nil
}
