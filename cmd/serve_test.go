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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/flagrelay/config"
	"github.com/cardinalhq/flagrelay/internal/updates"
)

func TestBuildUpdate_ClassifiesBack(t *testing.T) {
	now := time.Date(2025, 8, 6, 16, 5, 0, 0, time.UTC)

	tests := []struct {
		name        string
		opts        publishOptions
		wantChannel string
		wantKind    updates.Kind
		wantKey     string
	}{
		{
			name:        "flag",
			opts:        publishOptions{kind: "flag", namespace: "bep", key: "new-ui", action: "disabled", enabled: "false", source: "test"},
			wantChannel: "flipt:flags:update",
			wantKind:    updates.KindFlag,
			wantKey:     "new-ui",
		},
		{
			name:        "segment default key",
			opts:        publishOptions{kind: "segment", namespace: "default", action: "updated", source: "test"},
			wantChannel: "flipt:segments:update",
			wantKind:    updates.KindSegment,
			wantKey:     "test-segment",
		},
		{
			name:        "constraint custom channel",
			opts:        publishOptions{kind: "constraint", namespace: "ops", key: "c-1", segmentKey: "beta", action: "created", channel: "custom", source: "test"},
			wantChannel: "custom",
			wantKind:    updates.KindConstraint,
			wantKey:     "c-1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, channel, err := buildUpdate(tt.opts, now)
			require.NoError(t, err)
			assert.Equal(t, tt.wantChannel, channel)

			ev, err := updates.Classify(payload)
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, ev.Kind)
			assert.Equal(t, tt.opts.namespace, ev.Namespace)
			assert.Equal(t, tt.wantKey, ev.EntityKey)
			assert.Equal(t, "test", ev.Source)
			assert.Equal(t, "2025-08-06T16:05:00Z", ev.Timestamp)
		})
	}
}

func TestBuildUpdate_Enabled(t *testing.T) {
	payload, _, err := buildUpdate(publishOptions{kind: "flag", namespace: "bep", action: "enabled", enabled: "true"}, time.Now())
	require.NoError(t, err)
	ev, err := updates.Classify(payload)
	require.NoError(t, err)
	require.NotNil(t, ev.Enabled)
	assert.True(t, *ev.Enabled)
}

func TestBuildUpdate_Rejects(t *testing.T) {
	_, _, err := buildUpdate(publishOptions{kind: "variant"}, time.Now())
	assert.Error(t, err)

	_, _, err = buildUpdate(publishOptions{kind: "flag", enabled: "maybe"}, time.Now())
	assert.Error(t, err)
}

func TestNeedsRedis(t *testing.T) {
	cfg := config.Default()
	assert.True(t, needsRedis(cfg))

	cfg.Ingest.Backends = []string{"sqs"}
	assert.False(t, needsRedis(cfg))

	cfg.TopicPush.Enabled = true
	cfg.TopicPush.Backends = []string{"kafka", "redis"}
	assert.True(t, needsRedis(cfg))

	cfg.Ingest.Enabled = false
	cfg.TopicPush.Enabled = false
	cfg.Ingest.Backends = []string{"redis"}
	assert.False(t, needsRedis(cfg))
}

func TestNewTopicRegistry(t *testing.T) {
	cfg := config.Default()

	cfg.TopicPush.Backends = []string{"memory"}
	reg, err := newTopicRegistry(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"memory"}, reg.Names())

	cfg.TopicPush.Backends = []string{"nats"}
	_, err = newTopicRegistry(cfg, nil)
	assert.ErrorContains(t, err, "unsupported topic push backend")

	cfg.TopicPush.Backends = nil
	_, err = newTopicRegistry(cfg, nil)
	assert.Error(t, err)
}

func TestBuildVersion(t *testing.T) {
	assert.Contains(t, buildVersion(), version)
}
