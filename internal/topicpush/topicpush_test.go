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
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/flagrelay/internal/fly"
	"github.com/cardinalhq/flagrelay/internal/updates"
)

func TestTopicNames(t *testing.T) {
	tests := []struct {
		kind      updates.Kind
		namespace string
		broad     string
		scoped    string
	}{
		{updates.KindFlag, "bep", "flags", "flags/bep"},
		{updates.KindSegment, "default", "segments", "segments/default"},
		{updates.KindConstraint, "gtm", "constraints", "constraints/gtm"},
		{updates.KindUnknown, "default", "unknown", "unknown/default"},
		{updates.KindFlag, "a/b", "flags", "flags/a%2Fb"},
		{updates.KindFlag, "a%2Fb", "flags", "flags/a%252Fb"},
	}
	for _, tt := range tests {
		broad, scoped := TopicNames(tt.kind, tt.namespace)
		assert.Equal(t, tt.broad, broad)
		assert.Equal(t, tt.scoped, scoped)
	}
}

func TestTopicNames_NamespaceStaysOneSegment(t *testing.T) {
	_, nested := TopicNames(updates.KindFlag, "a/b")
	_, flat := TopicNames(updates.KindFlag, "a")
	assert.NotEqual(t, "flags/a/b", nested)
	assert.Len(t, strings.Split(nested, "/"), 2)
	assert.False(t, strings.HasPrefix(nested, flat+"/"))
}

func TestConfig_KafkaTopicSpec(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.UsesBackend("kafka"))
	assert.False(t, cfg.UsesBackend("redis"))
	assert.Equal(t, fly.TopicSpec{
		Name:              "flagrelay.updates",
		PartitionCount:    4,
		ReplicationFactor: 1,
		Retention:         2 * time.Hour,
	}, cfg.KafkaTopicSpec())
}

func TestRegistry_PublishesToEveryBackend(t *testing.T) {
	a := NewMemoryPublisher()
	b := NewMemoryPublisher()
	b.FailWith(errors.New("broker down"))
	c := NewMemoryPublisher()

	r := NewRegistry(0, a, b, c)
	err := r.Publish(context.Background(), "flags/bep", []byte(`{}`))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Equal(t, []string{"flags/bep"}, a.Destinations())
	assert.Empty(t, b.Destinations())
	assert.Equal(t, []string{"flags/bep"}, c.Destinations())
	assert.Equal(t, []string{"memory", "memory", "memory"}, r.Names())
	assert.NoError(t, r.Close())
}

func TestRegistry_NoPublishers(t *testing.T) {
	assert.NoError(t, NewRegistry(0).Publish(context.Background(), "flags", nil))
}

type mockProducer struct {
	mock.Mock
}

func (m *mockProducer) Send(ctx context.Context, topic string, message fly.Message) error {
	return m.Called(ctx, topic, message).Error(0)
}

func (m *mockProducer) BatchSend(ctx context.Context, topic string, messages []fly.Message) error {
	return m.Called(ctx, topic, messages).Error(0)
}

func (m *mockProducer) Close() error {
	return m.Called().Error(0)
}

func TestKafkaPublisher_KeysByDestination(t *testing.T) {
	p := &mockProducer{}
	p.On("Send", mock.Anything, "flagrelay.updates", fly.Message{
		Key:     []byte("segments/bep"),
		Value:   []byte(`{"kind":"segment"}`),
		Headers: map[string]string{"destination": "segments/bep"},
	}).Return(nil).Once()
	p.On("Close").Return(nil).Once()

	k := newKafkaPublisher(p, "flagrelay.updates")
	require.NoError(t, k.Publish(context.Background(), "segments/bep", []byte(`{"kind":"segment"}`)))
	require.NoError(t, k.Close())
	assert.Equal(t, "kafka", k.Name())
	p.AssertExpectations(t)
}

type fakeRedis struct {
	channels []string
	payloads []any
	err      error
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message any) *redis.IntCmd {
	f.channels = append(f.channels, channel)
	f.payloads = append(f.payloads, message)
	return redis.NewIntResult(1, f.err)
}

func TestRedisPublisher_PrefixesChannel(t *testing.T) {
	f := &fakeRedis{}
	r := &RedisPublisher{client: f, prefix: "flagrelay:"}

	require.NoError(t, r.Publish(context.Background(), "flags/bep", []byte("x")))
	assert.Equal(t, []string{"flagrelay:flags/bep"}, f.channels)
	assert.Equal(t, []any{[]byte("x")}, f.payloads)

	f.err = errors.New("READONLY")
	assert.Error(t, r.Publish(context.Background(), "flags", nil))
}
