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

package fly

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cardinalhq/kafka-sync/kafkasync"
)

// TopicSyncer creates or checks the Kafka topics the relay writes to.
type TopicSyncer struct {
	factory *Factory
}

func newTopicSyncer(factory *Factory) *TopicSyncer {
	return &TopicSyncer{factory: factory}
}

// CreateTopicSyncer creates a topic syncer sharing the factory's connection settings.
func (f *Factory) CreateTopicSyncer() *TopicSyncer {
	return newTopicSyncer(f)
}

// SyncTopics reconciles the brokers with topicsConfig. With fix set, missing
// topics are created; otherwise differences are only reported.
func (ts *TopicSyncer) SyncTopics(ctx context.Context, topicsConfig *kafkasync.Config, fix bool) error {
	connConfig, err := ts.createConnectionConfig()
	if err != nil {
		return fmt.Errorf("failed to create connection config: %w", err)
	}

	syncer, err := kafkasync.NewSyncer(connConfig, topicsConfig)
	if err != nil {
		return fmt.Errorf("failed to create syncer: %w", err)
	}

	mode := kafkasync.SyncModeInfo
	modeStr := "info"
	if fix {
		mode = kafkasync.SyncModeFix
		modeStr = "fix"
	}

	slog.Info("Starting Kafka topic synchronization",
		slog.String("mode", modeStr),
		slog.Int("topic_count", len(topicsConfig.Topics)))

	if err := syncer.Sync(ctx, mode); err != nil {
		return fmt.Errorf("failed to sync topics: %w", err)
	}

	slog.Info("Kafka topic synchronization completed")
	return nil
}

func (ts *TopicSyncer) createConnectionConfig() (kafkasync.ConnectionConfig, error) {
	cfg := ts.factory.GetConfig()
	connConfig := kafkasync.ConnectionConfig{
		BootstrapServers: cfg.Brokers,
	}

	if cfg.SASLEnabled {
		mechanism, err := ts.factory.createSASLMechanism()
		if err != nil {
			return connConfig, fmt.Errorf("failed to create SASL mechanism: %w", err)
		}
		connConfig.SASLMechanism = mechanism
	}

	if cfg.TLSEnabled {
		connConfig.TLS = &tls.Config{
			InsecureSkipVerify: cfg.TLSSkipVerify,
		}
	}

	return connConfig, nil
}

// LoadTopicsConfig loads a kafkasync configuration from a file.
func LoadTopicsConfig(filename string) (*kafkasync.Config, error) {
	return kafkasync.LoadConfigFromFile(filename)
}

// TopicSpec describes one topic the relay needs.
type TopicSpec struct {
	Name              string
	PartitionCount    int
	ReplicationFactor int
	Retention         time.Duration
}

// TopicsConfig builds a kafkasync configuration for the given topics.
// Update notifications are short lived, so retention defaults to two hours.
func TopicsConfig(specs ...TopicSpec) *kafkasync.Config {
	cfg := &kafkasync.Config{
		Defaults: kafkasync.Defaults{
			PartitionCount:    4,
			ReplicationFactor: 1,
			TopicConfig: map[string]string{
				"retention.ms": "7200000",
			},
		},
		Topics:           make([]kafkasync.Topic, 0, len(specs)),
		OperationTimeout: time.Minute,
	}
	for _, s := range specs {
		topic := kafkasync.Topic{
			Name:              s.Name,
			PartitionCount:    s.PartitionCount,
			ReplicationFactor: s.ReplicationFactor,
		}
		if s.Retention > 0 {
			topic.Config = map[string]string{
				"retention.ms": strconv.FormatInt(s.Retention.Milliseconds(), 10),
			}
		}
		cfg.Topics = append(cfg.Topics, topic)
	}
	return cfg
}
