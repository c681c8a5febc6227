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

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cardinalhq/kafka-sync/kafkasync"
	"github.com/spf13/cobra"

	"github.com/cardinalhq/flagrelay/config"
	"github.com/cardinalhq/flagrelay/internal/fly"
)

func init() {
	var (
		topicsFile string
		checkOnly  bool
	)

	kafkaTopicsCmd := &cobra.Command{
		Use:   "kafka-topics",
		Short: "create the Kafka topic that topic push writes to",
		Long: `Create the Kafka updates topic if it is missing. The topic name, partitions,
replication and retention come from the topicpush section unless a kafka-sync
file is given with --file (or KAFKA_TOPICS_FILE).`,
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, err := config.LoadFile(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if topicsFile == "" {
				topicsFile = os.Getenv("KAFKA_TOPICS_FILE")
			}

			ctx, cancel := context.WithTimeout(c.Context(), 5*time.Minute)
			defer cancel()
			return ensureKafkaTopics(ctx, cfg, topicsFile, !checkOnly)
		},
	}

	kafkaTopicsCmd.Flags().StringVar(&topicsFile, "file", "", "kafka-sync topics file overriding the configured topic")
	kafkaTopicsCmd.Flags().BoolVar(&checkOnly, "check", false, "report differences without creating topics")

	rootCmd.AddCommand(kafkaTopicsCmd)
}

// kafkaTopicsConfig returns the topics to sync: the contents of topicsFile
// when set, otherwise the configured updates topic.
func kafkaTopicsConfig(cfg *config.Config, topicsFile string) (*kafkasync.Config, error) {
	if topicsFile != "" {
		slog.Info("Loading Kafka topics from file", slog.String("file", topicsFile))
		topics, err := fly.LoadTopicsConfig(topicsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load Kafka topics file: %w", err)
		}
		return topics, nil
	}
	if cfg.TopicPush.KafkaTopic == "" {
		return nil, errors.New("topicpush.kafka_topic is empty")
	}
	return fly.TopicsConfig(cfg.TopicPush.KafkaTopicSpec()), nil
}

func ensureKafkaTopics(ctx context.Context, cfg *config.Config, topicsFile string, fix bool) error {
	topics, err := kafkaTopicsConfig(cfg, topicsFile)
	if err != nil {
		return err
	}
	if len(topics.Topics) == 0 {
		slog.Info("No Kafka topics configured, skipping")
		return nil
	}

	syncer := fly.NewFactory(&cfg.Kafka).CreateTopicSyncer()
	return syncer.SyncTopics(ctx, topics, fix)
}
