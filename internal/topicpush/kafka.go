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
	"fmt"

	"github.com/cardinalhq/flagrelay/internal/fly"
)

// DestinationHeader carries the topic destination on Kafka messages.
const DestinationHeader = "destination"

// KafkaPublisher writes every destination to one Kafka topic, keyed by the
// destination. Kafka topic names cannot contain '/', so the hierarchy lives
// in the key and a header rather than the topic name.
type KafkaPublisher struct {
	producer fly.Producer
	topic    string
}

var _ Publisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates a publisher from the Kafka configuration.
func NewKafkaPublisher(cfg *fly.Config, topic string) (*KafkaPublisher, error) {
	producer, err := fly.NewFactory(cfg).CreateProducer()
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return newKafkaPublisher(producer, topic), nil
}

func newKafkaPublisher(producer fly.Producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (k *KafkaPublisher) Name() string { return "kafka" }

func (k *KafkaPublisher) Publish(ctx context.Context, destination string, payload []byte) error {
	return k.producer.Send(ctx, k.topic, fly.Message{
		Key:     []byte(destination),
		Value:   payload,
		Headers: map[string]string{DestinationHeader: destination},
	})
}

func (k *KafkaPublisher) Close() error {
	return k.producer.Close()
}
