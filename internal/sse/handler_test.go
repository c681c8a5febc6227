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

package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedNamespaces []string

func (f fixedNamespaces) SupportedNamespaces() []string { return f }

type sseEvent struct {
	name string
	data string
}

func readEvent(t *testing.T, sc *bufio.Scanner) sseEvent {
	t.Helper()
	var ev sseEvent
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if ev.name != "" || ev.data != "" {
				return ev
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data += strings.TrimPrefix(line, "data: ")
		}
	}
	require.NoError(t, sc.Err())
	t.Fatal("stream ended before an event was read")
	return ev
}

func newTestServer(t *testing.T, cfg Config) (*Registry, *httptest.Server) {
	t.Helper()
	reg := NewRegistry(cfg.BufferSize)
	mux := http.NewServeMux()
	NewHandler(reg, cfg, fixedNamespaces{"bep", "default"}).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return reg, srv
}

func TestHandler_StreamsNamespaceEvents(t *testing.T) {
	reg, srv := newTestServer(t, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/subscribe/bep", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	sc := bufio.NewScanner(resp.Body)
	ack := readEvent(t, sc)
	assert.Equal(t, "connection", ack.name)
	assert.Contains(t, ack.data, "Connected to bep updates")

	require.Eventually(t, func() bool {
		return reg.Stats().NamespaceStats["bep"] == 1
	}, time.Second, 10*time.Millisecond)

	reg.Broadcast("flag.update", []byte(`{"flag_key":"new-ui"}`), "bep")
	ev := readEvent(t, sc)
	assert.Equal(t, "flag.update", ev.name)
	assert.JSONEq(t, `{"flag_key":"new-ui"}`, ev.data)

	cancel()
	require.Eventually(t, func() bool {
		return reg.Stats().NamespaceClients == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_MaxLifetimeClosesStream(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxLifetime = 50 * time.Millisecond
	reg, srv := newTestServer(t, cfg)

	resp, err := http.Get(srv.URL + "/subscribe")
	require.NoError(t, err)
	defer resp.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	readEvent(t, sc)
	for sc.Scan() {
	}

	assert.Equal(t, 0, reg.Stats().TotalClients)
}

func TestHandler_Keepalive(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Keepalive = 20 * time.Millisecond
	cfg.MaxLifetime = 200 * time.Millisecond
	_, srv := newTestServer(t, cfg)

	resp, err := http.Get(srv.URL + "/subscribe")
	require.NoError(t, err)
	defer resp.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	sawKeepalive := false
	for sc.Scan() {
		if sc.Text() == ": keepalive" {
			sawKeepalive = true
			break
		}
	}
	assert.True(t, sawKeepalive)
}

func TestHandler_Diagnostics(t *testing.T) {
	reg, srv := newTestServer(t, DefaultConfig())
	reg.Subscribe("gtm")

	t.Run("stats", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/stats")
		require.NoError(t, err)
		defer resp.Body.Close()

		var s Stats
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&s))
		assert.Equal(t, 0, s.TotalClients)
		assert.Equal(t, 1, s.NamespaceClients)
		assert.Equal(t, map[string]int{"gtm": 1}, s.NamespaceStats)
	})

	t.Run("info", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/info")
		require.NoError(t, err)
		defer resp.Body.Close()

		var info struct {
			Topics       []string `json:"topics"`
			MessageTypes []string `json:"messageTypes"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
		assert.Contains(t, info.Topics, "flags/{namespace}")
		assert.Contains(t, info.Topics, "constraints")
		assert.Contains(t, info.MessageTypes, "segment.update")
	})

	t.Run("namespaces", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/namespaces")
		require.NoError(t, err)
		defer resp.Body.Close()

		var body struct {
			Namespaces           []string `json:"namespaces"`
			Count                int      `json:"count"`
			SubscribedNamespaces []string `json:"subscribedNamespaces"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, []string{"bep", "default"}, body.Namespaces)
		assert.Equal(t, 2, body.Count)
		assert.Equal(t, []string{"gtm"}, body.SubscribedNamespaces)
	})
}

func TestWriteFrame_MultilineData(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, writeFrame(rec, Frame{Event: "x", Data: []byte("a\nb")}))
	assert.Equal(t, "event: x\ndata: a\ndata: b\n\n", rec.Body.String())
}
