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
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/flagrelay/internal/healthcheck"
	"github.com/cardinalhq/flagrelay/internal/logctx"
)

// HTTPBodyLimitBytes caps the size of a pushed notification.
const HTTPBodyLimitBytes = 1 << 20

type httpWork struct {
	id   string
	body []byte
}

// HTTPService accepts notifications pushed with POST and processes them on
// a single worker. It does not own a listener; mount it on a mux.
type HTTPService struct {
	workChan chan httpWork
	tracer   trace.Tracer
	handler  MessageHandler
	health   healthcheck.ConditionSetter
}

var (
	_ Backend      = (*HTTPService)(nil)
	_ http.Handler = (*HTTPService)(nil)
)

func NewHTTPService(handler MessageHandler, queueSize int, health healthcheck.ConditionSetter) *HTTPService {
	if queueSize <= 0 {
		queueSize = 100
	}
	return &HTTPService{
		workChan: make(chan httpWork, queueSize),
		tracer:   otel.Tracer("github.com/cardinalhq/flagrelay/internal/pubsub/http"),
		handler:  handler,
		health:   health,
	}
}

func (ps *HTTPService) GetName() string {
	return string(BackendTypeHTTP)
}

// Run processes queued notifications until ctx is cancelled.
func (ps *HTTPService) Run(doneCtx context.Context) error {
	slog.Info("Starting HTTP push listener")
	if ps.health != nil {
		ps.health.SetReadyCondition("ingest_http", true)
		defer ps.health.SetReadyCondition("ingest_http", false)
	}

	for {
		select {
		case <-doneCtx.Done():
			slog.Info("HTTP push listener stopped")
			return nil
		case work := <-ps.workChan:
			ps.process(doneCtx, work)
		}
	}
}

func (ps *HTTPService) process(ctx context.Context, work httpWork) {
	ctx, span := ps.tracer.Start(ctx, "HTTPService.Process",
		trace.WithAttributes(attribute.String("message_id", work.id)))
	defer span.End()

	ctx = logctx.WithMessage(ctx, "http", work.id)
	if err := ps.handler.HandleMessage(ctx, "http", work.body); err != nil {
		span.RecordError(err)
	}
}

func (ps *HTTPService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, HTTPBodyLimitBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesError *http.MaxBytesError
		if errors.As(err, &maxBytesError) {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Error reading request body", http.StatusInternalServerError)
		return
	}
	if len(body) == 0 {
		http.Error(w, "Empty request body", http.StatusBadRequest)
		return
	}

	id := r.Header.Get("X-Request-Id")
	if id == "" {
		id = uuid.NewString()
	}
	w.Header().Set("X-Request-Id", id)

	select {
	case ps.workChan <- httpWork{id: id, body: body}:
		w.WriteHeader(http.StatusAccepted)
	default:
		http.Error(w, "Ingest queue full", http.StatusServiceUnavailable)
	}
}
