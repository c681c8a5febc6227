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

// Package pubsub receives update notifications from external channels and
// drives each one through classification, invalidation, and broadcast.
package pubsub

import (
	"context"
	"time"
)

// Service defines the interface for pubsub services
type Service interface {
	Run(ctx context.Context) error
}

// BackendType represents supported pubsub backend types
type BackendType string

const (
	BackendTypeRedis     BackendType = "redis"
	BackendTypeGCPPubSub BackendType = "gcp"
	BackendTypeSQS       BackendType = "sqs"
	BackendTypeAzure     BackendType = "azure"
	BackendTypeHTTP      BackendType = "http"
)

// Backend defines the interface for different pubsub backends
type Backend interface {
	Service
	GetName() string
}

// MessageHandler processes one raw inbound notification.
type MessageHandler interface {
	HandleMessage(ctx context.Context, source string, raw []byte) error
}

// IngestConfig holds the ingest section of the service configuration.
type IngestConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Backends      []string      `mapstructure:"backends"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	StatsInterval time.Duration `mapstructure:"stats_interval"`
}

// RedisConfig describes the Redis server and the channels to subscribe to.
type RedisConfig struct {
	Addr     string   `mapstructure:"addr"`
	Password string   `mapstructure:"password"`
	DB       int      `mapstructure:"db"`
	Channels []string `mapstructure:"channels"`
}

// GCPConfig identifies the Pub/Sub subscription to receive from.
type GCPConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	SubscriptionID  string `mapstructure:"subscription_id"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

// SQSConfig identifies the SQS queue to poll.
type SQSConfig struct {
	QueueURL string `mapstructure:"queue_url"`
	Region   string `mapstructure:"region"`
	RoleARN  string `mapstructure:"role_arn"`
	Endpoint string `mapstructure:"endpoint"`
}

// AzureConfig identifies the Storage queue to poll.
type AzureConfig struct {
	StorageAccount string `mapstructure:"storage_account"`
	QueueName      string `mapstructure:"queue_name"`
	Endpoint       string `mapstructure:"endpoint"`
}

// DefaultIngestConfig returns the ingest defaults.
func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		Enabled:       true,
		Backends:      []string{string(BackendTypeRedis)},
		MaxConcurrent: 10,
		StatsInterval: 20 * time.Second,
	}
}

// DefaultRedisConfig returns the Redis defaults, subscribed to the Flipt
// update channels.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr: "localhost:6379",
		Channels: []string{
			"flipt:flags:update",
			"flipt:segments:update",
			"flipt:constraints:update",
		},
	}
}
