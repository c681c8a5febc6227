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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTopicSyncer(t *testing.T) {
	factory := NewFactory(&Config{Brokers: []string{"localhost:9092"}})
	syncer := factory.CreateTopicSyncer()

	require.NotNil(t, syncer)
	assert.Same(t, factory, syncer.factory)
}

func TestTopicSyncer_ConnectionConfig(t *testing.T) {
	tests := []struct {
		name       string
		config     *Config
		expectSASL bool
		expectTLS  bool
	}{
		{
			name:   "plain",
			config: &Config{Brokers: []string{"broker1:9092", "broker2:9092"}},
		},
		{
			name: "sasl",
			config: &Config{
				Brokers:       []string{"broker1:9092", "broker2:9092"},
				SASLEnabled:   true,
				SASLMechanism: "SCRAM-SHA-512",
				SASLUsername:  "relay",
				SASLPassword:  "secret",
			},
			expectSASL: true,
		},
		{
			name: "tls",
			config: &Config{
				Brokers:       []string{"broker1:9092", "broker2:9092"},
				TLSEnabled:    true,
				TLSSkipVerify: true,
			},
			expectTLS: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			connConfig, err := NewFactory(tt.config).CreateTopicSyncer().createConnectionConfig()
			require.NoError(t, err)
			assert.Equal(t, tt.config.Brokers, connConfig.BootstrapServers)

			if tt.expectSASL {
				assert.NotNil(t, connConfig.SASLMechanism)
			} else {
				assert.Nil(t, connConfig.SASLMechanism)
			}
			if tt.expectTLS {
				require.NotNil(t, connConfig.TLS)
				assert.True(t, connConfig.TLS.InsecureSkipVerify)
			} else {
				assert.Nil(t, connConfig.TLS)
			}
		})
	}
}

func TestTopicSyncer_UnsupportedSASLMechanism(t *testing.T) {
	syncer := NewFactory(&Config{
		Brokers:       []string{"localhost:9092"},
		SASLEnabled:   true,
		SASLMechanism: "GSSAPI",
	}).CreateTopicSyncer()

	_, err := syncer.createConnectionConfig()
	assert.ErrorContains(t, err, "unsupported SASL mechanism")
}

func TestTopicsConfig(t *testing.T) {
	cfg := TopicsConfig(
		TopicSpec{Name: "flagrelay.updates", PartitionCount: 8, ReplicationFactor: 3, Retention: 30 * time.Minute},
		TopicSpec{Name: "flagrelay.other"},
	)

	assert.Equal(t, 4, cfg.Defaults.PartitionCount)
	assert.Equal(t, 1, cfg.Defaults.ReplicationFactor)
	assert.Equal(t, "7200000", cfg.Defaults.TopicConfig["retention.ms"])
	assert.Equal(t, time.Minute, cfg.OperationTimeout)

	require.Len(t, cfg.Topics, 2)
	assert.Equal(t, "flagrelay.updates", cfg.Topics[0].Name)
	assert.Equal(t, 8, cfg.Topics[0].PartitionCount)
	assert.Equal(t, 3, cfg.Topics[0].ReplicationFactor)
	assert.Equal(t, "1800000", cfg.Topics[0].Config["retention.ms"])

	assert.Equal(t, "flagrelay.other", cfg.Topics[1].Name)
	assert.Zero(t, cfg.Topics[1].PartitionCount)
	assert.Nil(t, cfg.Topics[1].Config)
}

func TestLoadTopicsConfig(t *testing.T) {
	content := `
defaults:
  partitionCount: 6
  replicationFactor: 2
topics:
  - name: flagrelay.updates
    config:
      retention.ms: "600000"
operationTimeout: 30s
`
	file := filepath.Join(t.TempDir(), "kafka_topics.yaml")
	require.NoError(t, os.WriteFile(file, []byte(content), 0o644))

	cfg, err := LoadTopicsConfig(file)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Defaults.PartitionCount)
	require.Len(t, cfg.Topics, 1)
	assert.Equal(t, "flagrelay.updates", cfg.Topics[0].Name)
	assert.Equal(t, "600000", cfg.Topics[0].Config["retention.ms"])
	assert.Equal(t, 30*time.Second, cfg.OperationTimeout)
}

func TestLoadTopicsConfig_MissingFile(t *testing.T) {
	_, err := LoadTopicsConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
