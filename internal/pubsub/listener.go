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
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/flagrelay/internal/logctx"
	"github.com/cardinalhq/flagrelay/internal/updates"
)

var (
	messagesReceived metric.Int64Counter
	messagesDropped  metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/flagrelay/internal/pubsub")

	var err error
	messagesReceived, err = meter.Int64Counter(
		"flagrelay.messages.received",
		metric.WithDescription("Inbound update notifications received"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create messages.received counter: %w", err))
	}

	messagesDropped, err = meter.Int64Counter(
		"flagrelay.messages.dropped",
		metric.WithDescription("Inbound update notifications dropped before broadcast"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create messages.dropped counter: %w", err))
	}
}

// Dispatcher runs the processor for an event's kind.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev updates.Event) bool
}

// Router delivers an event to live clients.
type Router interface {
	Route(ctx context.Context, ev updates.Event) error
}

// Listener is the MessageHandler shared by every backend.
type Listener struct {
	dispatcher Dispatcher
	router     Router
	stats      *StatsAggregator
}

var _ MessageHandler = (*Listener)(nil)

// NewListener wires the pipeline. stats may be nil.
func NewListener(dispatcher Dispatcher, router Router, stats *StatsAggregator) *Listener {
	return &Listener{dispatcher: dispatcher, router: router, stats: stats}
}

// HandleMessage classifies the message, runs the matching processor, and
// broadcasts it. A message that cannot be classified is logged and dropped,
// and the classification error is returned. Broadcast failures are logged by
// the router and do not fail the message.
func (l *Listener) HandleMessage(ctx context.Context, source string, raw []byte) error {
	ll := logctx.FromContext(ctx)
	messagesReceived.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))

	ev, err := updates.Classify(raw)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, updates.ErrMissingData) {
			reason = "missing_data"
		}
		ll.Warn("Dropping update notification",
			slog.String("reason", reason),
			slog.Int("bytes", len(raw)),
			slog.Any("error", err))
		messagesDropped.Add(ctx, 1, metric.WithAttributes(
			attribute.String("source", source),
			attribute.String("reason", reason),
		))
		l.record(func(s *StatsAggregator) { s.RecordFailed(updates.KindUnknown.String(), 1) })
		return err
	}
	if ev.Source == "" {
		ev.Source = source
	}

	ll.Info("Received update notification",
		slog.String("type", ev.Type),
		slog.String("kind", ev.Kind.String()),
		slog.String("namespace", ev.Namespace),
		slog.String("action", ev.Action))

	if l.dispatcher != nil && ev.Kind != updates.KindUnknown {
		l.dispatcher.Dispatch(ctx, ev)
	} else {
		ll.Info("No processor for update type, broadcasting only", slog.String("type", ev.Type))
		l.record(func(s *StatsAggregator) { s.RecordSkipped(ev.Kind.String(), 1) })
	}

	if l.router != nil {
		if err := l.router.Route(ctx, ev); err != nil {
			ll.Warn("Update broadcast completed with failures", slog.Any("error", err))
		}
	}

	if ev.Kind != updates.KindUnknown {
		l.record(func(s *StatsAggregator) { s.RecordProcessed(ev.Kind.String(), ev.ParsedAction().String()) })
	}
	return nil
}

func (l *Listener) record(fn func(*StatsAggregator)) {
	if l.stats != nil {
		fn(l.stats)
	}
}
