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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeIfBase64(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain json", `{"type":"flag.update"}`, `{"type":"flag.update"}`},
		{"encoded json", "eyJ0eXBlIjoiZmxhZy51cGRhdGUifQ==", `{"type":"flag.update"}`},
		{"not multiple of four", "abc", "abc"},
		{"invalid chars", "ab$d", "ab$d"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(decodeIfBase64(tt.in)))
		})
	}
}

func TestNewBackend_Validation(t *testing.T) {
	ctx := context.Background()
	h := &recordingHandler{}

	_, err := NewBackend(ctx, "carrier-pigeon", BackendDeps{Handler: h})
	assert.ErrorContains(t, err, "unsupported backend type")

	_, err = NewBackend(ctx, BackendTypeRedis, BackendDeps{Handler: h})
	assert.ErrorContains(t, err, "requires a redis client")

	_, err = NewBackend(ctx, BackendTypeHTTP, BackendDeps{Handler: h})
	assert.ErrorContains(t, err, "requires the push service")

	_, err = NewBackend(ctx, BackendTypeGCPPubSub, BackendDeps{Handler: h})
	assert.ErrorContains(t, err, "gcp.project_id")

	_, err = NewBackend(ctx, BackendTypeSQS, BackendDeps{Handler: h})
	assert.ErrorContains(t, err, "sqs.queue_url")

	_, err = NewBackend(ctx, BackendTypeAzure, BackendDeps{Handler: h})
	assert.ErrorContains(t, err, "azure.queue_name")
}

func TestNewBackends_HTTP(t *testing.T) {
	h := &recordingHandler{}
	svc := NewHTTPService(h, 1, nil)

	backends, err := NewBackends(context.Background(), BackendDeps{
		Handler: h,
		Ingest:  IngestConfig{Backends: []string{"http"}},
		HTTP:    svc,
	})
	require.NoError(t, err)
	require.Len(t, backends, 1)
	assert.Equal(t, "http", backends[0].GetName())
}

func TestNewRedisService_RequiresChannels(t *testing.T) {
	_, err := NewRedisService(nil, RedisConfig{}, &recordingHandler{}, 1, nil)
	assert.Error(t, err)
}
