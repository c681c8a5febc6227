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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEvaluator struct {
	enabled bool
	err     error
	got     []string
}

func (s *stubEvaluator) IsEnabled(_ context.Context, namespace, flagKey, entityID string) (bool, error) {
	s.got = []string{namespace, flagKey, entityID}
	return s.enabled, s.err
}

func serveFlag(ev Evaluator, req *http.Request) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.Handle("GET /flags/{namespace}/{flagKey}", FlagHandler(ev))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestFlagHandler(t *testing.T) {
	ev := &stubEvaluator{enabled: true}

	rec := serveFlag(ev, httptest.NewRequest(http.MethodGet, "/flags/bep/new-ui?entity_id=user-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"bep", "new-ui", "user-1"}, ev.got)

	var body FlagCheck
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, FlagCheck{Namespace: "bep", FlagKey: "new-ui", EntityID: "user-1", Enabled: true}, body)
}

func TestFlagHandler_EntityHeader(t *testing.T) {
	ev := &stubEvaluator{}
	req := httptest.NewRequest(http.MethodGet, "/flags/bep/new-ui", nil)
	req.Header.Set("X-Entity-Id", "user-2")

	rec := serveFlag(ev, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-2", ev.got[2])
}

func TestFlagHandler_Errors(t *testing.T) {
	tests := []struct {
		name string
		url  string
		err  error
		want int
	}{
		{"missing entity", "/flags/bep/new-ui", nil, http.StatusBadRequest},
		{"unknown namespace", "/flags/ops/x?entity_id=u", ErrNamespaceNotConfigured, http.StatusNotFound},
		{"upstream status", "/flags/bep/x?entity_id=u", &StatusError{StatusCode: http.StatusUnauthorized, Namespace: "bep"}, http.StatusBadGateway},
		{"transport", "/flags/bep/x?entity_id=u", errors.New("dial tcp: refused"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serveFlag(&stubEvaluator{err: tt.err}, httptest.NewRequest(http.MethodGet, tt.url, nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
