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

package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticTokens map[string]string

func (s staticTokens) Token(namespace string) (string, bool) {
	t, ok := s[namespace]
	return t, ok
}

func newTestClient(t *testing.T, h http.Handler, tokens TokenResolver) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{URL: srv.URL + "/", CacheTTL: time.Minute, RequestTimeout: 5 * time.Second}, tokens)
}

func TestReload_ListsFlagsWithBearerToken(t *testing.T) {
	var gotAuth, gotPath string
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_ = json.NewEncoder(w).Encode(map[string]any{
			"flags": []map[string]any{{"key": "new-ui", "enabled": true, "namespaceKey": "bep"}},
		})
	})
	c := newTestClient(t, h, staticTokens{})

	require.NoError(t, c.Reload(context.Background(), "bep", "secret"))
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "/api/v1/namespaces/bep/flags", gotPath)
}

func TestReload_FollowsPages(t *testing.T) {
	var calls atomic.Int32
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Query().Get("pageToken") == "" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"flags":         []map[string]any{{"key": "a"}},
				"nextPageToken": "p2",
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"flags": []map[string]any{{"key": "b"}}})
	})
	c := newTestClient(t, h, staticTokens{})

	flags, err := c.ListFlags(context.Background(), "default", "tok")
	require.NoError(t, err)
	require.Len(t, flags, 2)
	assert.Equal(t, "a", flags[0].Key)
	assert.Equal(t, "b", flags[1].Key)
	assert.Equal(t, int32(2), calls.Load())
}

func TestReload_UnauthorizedReturnsStatusError(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	})
	c := newTestClient(t, h, staticTokens{})

	err := c.Reload(context.Background(), "bep", "wrong")
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
	assert.Equal(t, "bep", se.Namespace)
	assert.Equal(t, "bad token", se.Body)
}

func TestIsEnabled_CachesUntilReload(t *testing.T) {
	var evals atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /evaluate/v1/boolean", func(w http.ResponseWriter, r *http.Request) {
		evals.Add(1)
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"enabled": req["entityId"] == "user-1",
		})
	})
	mux.HandleFunc("GET /api/v1/namespaces/{ns}/flags", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"flags":[]}`))
	})
	c := newTestClient(t, mux, staticTokens{"bep": "tok"})
	ctx := context.Background()

	on, err := c.IsEnabled(ctx, "bep", "new-ui", "user-1")
	require.NoError(t, err)
	assert.True(t, on)

	on, err = c.IsEnabled(ctx, "bep", "new-ui", "user-1")
	require.NoError(t, err)
	assert.True(t, on)
	assert.Equal(t, int32(1), evals.Load())

	off, err := c.IsEnabled(ctx, "bep", "new-ui", "user-2")
	require.NoError(t, err)
	assert.False(t, off)
	assert.Equal(t, int32(2), evals.Load())

	require.NoError(t, c.Reload(ctx, "bep", "tok"))

	_, err = c.IsEnabled(ctx, "bep", "new-ui", "user-1")
	require.NoError(t, err)
	assert.Equal(t, int32(3), evals.Load())
}

func TestIsEnabled_LoadRacingReloadIsNotCached(t *testing.T) {
	var evals atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("POST /evaluate/v1/boolean", func(w http.ResponseWriter, r *http.Request) {
		if evals.Add(1) == 1 {
			close(started)
			<-release
			_, _ = w.Write([]byte(`{"enabled":true}`))
			return
		}
		_, _ = w.Write([]byte(`{"enabled":false}`))
	})
	mux.HandleFunc("GET /api/v1/namespaces/{ns}/flags", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"flags":[]}`))
	})
	c := newTestClient(t, mux, staticTokens{"bep": "tok"})
	ctx := context.Background()

	type result struct {
		on  bool
		err error
	}
	done := make(chan result, 1)
	go func() {
		on, err := c.IsEnabled(ctx, "bep", "new-ui", "user-1")
		done <- result{on, err}
	}()

	<-started
	require.NoError(t, c.Reload(ctx, "bep", "tok"))
	close(release)

	first := <-done
	require.NoError(t, first.err)
	assert.True(t, first.on)
	assert.False(t, c.cache.Has(evalKey{Namespace: "bep", FlagKey: "new-ui", EntityID: "user-1"}))

	on, err := c.IsEnabled(ctx, "bep", "new-ui", "user-1")
	require.NoError(t, err)
	assert.False(t, on)
	assert.Equal(t, int32(2), evals.Load())
}

func TestIsEnabled_ReloadOfOtherNamespaceKeepsLoad(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("POST /evaluate/v1/boolean", func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		_, _ = w.Write([]byte(`{"enabled":true}`))
	})
	mux.HandleFunc("GET /api/v1/namespaces/{ns}/flags", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"flags":[]}`))
	})
	c := newTestClient(t, mux, staticTokens{"bep": "tok", "gtm": "tok"})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := c.IsEnabled(ctx, "bep", "new-ui", "user-1")
		done <- err
	}()

	<-started
	require.NoError(t, c.Reload(ctx, "gtm", "tok"))
	close(release)

	require.NoError(t, <-done)
	assert.True(t, c.cache.Has(evalKey{Namespace: "bep", FlagKey: "new-ui", EntityID: "user-1"}))
}

func TestIsEnabled_UnknownNamespace(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})
	c := newTestClient(t, h, staticTokens{})

	_, err := c.IsEnabled(context.Background(), "nope", "f", "u")
	assert.ErrorIs(t, err, ErrNamespaceNotConfigured)
}

func TestIsEnabled_ErrorNotCached(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"enabled":true}`))
	})
	c := newTestClient(t, h, staticTokens{"default": ""})

	_, err := c.IsEnabled(context.Background(), "default", "f", "u")
	require.Error(t, err)

	fail.Store(false)
	on, err := c.IsEnabled(context.Background(), "default", "f", "u")
	require.NoError(t, err)
	assert.True(t, on)
}

func TestPurgeOnlyTouchesNamespace(t *testing.T) {
	c := NewClient(DefaultConfig(), staticTokens{})
	c.cache.Set(evalKey{Namespace: "a", FlagKey: "f"}, true, 0)
	c.cache.Set(evalKey{Namespace: "a", FlagKey: "g"}, true, 0)
	c.cache.Set(evalKey{Namespace: "b", FlagKey: "f"}, true, 0)

	assert.Equal(t, 2, c.purge("a"))
	assert.Equal(t, 1, c.cache.Len())
}
