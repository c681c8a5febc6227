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
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu      sync.Mutex
	sources []string
	bodies  []string
}

func (h *recordingHandler) HandleMessage(_ context.Context, source string, raw []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sources = append(h.sources, source)
	h.bodies = append(h.bodies, string(raw))
	return nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.bodies)
}

type fakeHealth struct {
	mu         sync.Mutex
	conditions map[string]bool
}

func (f *fakeHealth) SetReadyCondition(name string, ready bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conditions == nil {
		f.conditions = map[string]bool{}
	}
	f.conditions[name] = ready
}

func (f *fakeHealth) get(name string) (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.conditions[name]
	return v, ok
}

func TestHTTPService_AcceptsAndProcesses(t *testing.T) {
	h := &recordingHandler{}
	health := &fakeHealth{}
	svc := NewHTTPService(h, 4, health)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(`{"type":"flag.update","data":{}}`))
	req.Header.Set("X-Request-Id", "req-1")
	rec := httptest.NewRecorder()
	svc.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "req-1", rec.Header().Get("X-Request-Id"))
	require.Eventually(t, func() bool { return h.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"http"}, h.sources)

	ready, ok := health.get("ingest_http")
	assert.True(t, ok)
	assert.True(t, ready)

	cancel()
	require.NoError(t, <-done)
	ready, _ = health.get("ingest_http")
	assert.False(t, ready)
}

func TestHTTPService_Rejections(t *testing.T) {
	svc := NewHTTPService(&recordingHandler{}, 1, nil)

	rec := httptest.NewRecorder()
	svc.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ingest", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	svc.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader("")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	svc.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(strings.Repeat("x", HTTPBodyLimitBytes+1))))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	// Nothing drains the queue, so the second push finds it full.
	rec = httptest.NewRecorder()
	svc.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader("{}")))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	rec = httptest.NewRecorder()
	svc.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader("{}")))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
