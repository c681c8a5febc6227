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

// Package topicpush publishes update notifications to hierarchical topic
// names on one or more external brokers.
package topicpush

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/flagrelay/internal/fly"
	"github.com/cardinalhq/flagrelay/internal/updates"
)

var (
	publishedCounter metric.Int64Counter
	failedCounter    metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/flagrelay/internal/topicpush")

	var err error
	publishedCounter, err = meter.Int64Counter(
		"flagrelay.topicpush.published",
		metric.WithDescription("Notifications published to a topic destination"),
	)
	if err != nil {
		panic(err)
	}
	failedCounter, err = meter.Int64Counter(
		"flagrelay.topicpush.failed",
		metric.WithDescription("Notifications that failed to publish"),
	)
	if err != nil {
		panic(err)
	}
}

// Config holds the topicpush section of the service configuration.
type Config struct {
	Enabled     bool          `mapstructure:"enabled"`
	Backends    []string      `mapstructure:"backends"`
	KafkaTopic  string        `mapstructure:"kafka_topic"`
	RedisPrefix string        `mapstructure:"redis_prefix"`
	Timeout     time.Duration `mapstructure:"timeout"`

	// Settings for the Kafka updates topic. When KafkaEnsureTopic is set the
	// topic is created at startup if it does not exist.
	KafkaEnsureTopic       bool          `mapstructure:"kafka_ensure_topic"`
	KafkaPartitions        int           `mapstructure:"kafka_partitions"`
	KafkaReplicationFactor int           `mapstructure:"kafka_replication_factor"`
	KafkaRetention         time.Duration `mapstructure:"kafka_retention"`
}

// DefaultConfig returns the topicpush defaults.
func DefaultConfig() Config {
	return Config{
		Backends:   []string{"kafka"},
		KafkaTopic: "flagrelay.updates",
		Timeout:    5 * time.Second,

		KafkaEnsureTopic:       true,
		KafkaPartitions:        4,
		KafkaReplicationFactor: 1,
		KafkaRetention:         2 * time.Hour,
	}
}

// UsesBackend reports whether the named backend is configured.
func (c Config) UsesBackend(name string) bool {
	return slices.Contains(c.Backends, name)
}

// KafkaTopicSpec describes the single Kafka topic all destinations share.
func (c Config) KafkaTopicSpec() fly.TopicSpec {
	return fly.TopicSpec{
		Name:              c.KafkaTopic,
		PartitionCount:    c.KafkaPartitions,
		ReplicationFactor: c.KafkaReplicationFactor,
		Retention:         c.KafkaRetention,
	}
}

// Publisher delivers a payload to a destination on one broker.
type Publisher interface {
	Publish(ctx context.Context, destination string, payload []byte) error
	Name() string
	Close() error
}

// TopicNames returns the broad and namespace scoped destinations for an
// update: "{kindPlural}" and "{kindPlural}/{namespace}". The namespace is
// path escaped so the result always has exactly two segments.
func TopicNames(kind updates.Kind, namespace string) (string, string) {
	plural := kind.Plural()
	return plural, plural + "/" + url.PathEscape(namespace)
}

// Registry fans a publish out to every configured publisher.
type Registry struct {
	publishers []Publisher
	timeout    time.Duration
}

// NewRegistry returns a registry over the given publishers.
func NewRegistry(timeout time.Duration, publishers ...Publisher) *Registry {
	return &Registry{publishers: publishers, timeout: timeout}
}

// Publish sends the payload to the destination on every publisher. Each
// publisher is attempted regardless of the others' failures.
func (r *Registry) Publish(ctx context.Context, destination string, payload []byte) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var errs *multierror.Error
	for _, p := range r.publishers {
		attrs := metric.WithAttributes(
			attribute.String("backend", p.Name()),
		)
		if err := p.Publish(ctx, destination, payload); err != nil {
			failedCounter.Add(ctx, 1, attrs)
			errs = multierror.Append(errs, fmt.Errorf("%s publish to %s: %w", p.Name(), destination, err))
			continue
		}
		publishedCounter.Add(ctx, 1, attrs)
	}
	return errs.ErrorOrNil()
}

// Names lists the configured publishers.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.publishers))
	for _, p := range r.publishers {
		names = append(names, p.Name())
	}
	return names
}

// Close closes every publisher.
func (r *Registry) Close() error {
	var errs *multierror.Error
	for _, p := range r.publishers {
		if err := p.Close(); err != nil {
			slog.Warn("Failed to close publisher", slog.String("backend", p.Name()), slog.Any("error", err))
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}
