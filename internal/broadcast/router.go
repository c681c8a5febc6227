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

// Package broadcast delivers a classified update to the streaming registry
// and the topic push registry.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"

	"github.com/cardinalhq/flagrelay/internal/logctx"
	"github.com/cardinalhq/flagrelay/internal/topicpush"
	"github.com/cardinalhq/flagrelay/internal/updates"
)

// StreamBroadcaster sends an event to streaming subscribers. An empty
// namespace targets global subscribers.
type StreamBroadcaster interface {
	Broadcast(eventName string, data []byte, namespace string) int
}

// TopicPublisher publishes a payload to a topic destination.
type TopicPublisher interface {
	Publish(ctx context.Context, destination string, payload []byte) error
}

// Router delivers events to both paths. Either may be nil when disabled.
type Router struct {
	stream StreamBroadcaster
	topics TopicPublisher
}

// NewRouter creates a router. Pass an untyped nil for a disabled path.
func NewRouter(stream StreamBroadcaster, topics TopicPublisher) *Router {
	return &Router{stream: stream, topics: topics}
}

// Route serializes the event once and delivers it. Topic push and streaming
// are attempted independently; the returned error only aggregates failures
// that were already logged.
func (r *Router) Route(ctx context.Context, ev updates.Event) error {
	ll := logctx.FromContext(ctx).With(
		slog.String("kind", ev.Kind.String()),
		slog.String("namespace", ev.Namespace),
	)

	data, err := json.Marshal(ev)
	if err != nil {
		ll.Error("Failed to serialize update", slog.Any("error", err))
		return fmt.Errorf("serialize update: %w", err)
	}

	var errs *multierror.Error

	if r.topics != nil {
		broad, scoped := topicpush.TopicNames(ev.Kind, ev.Namespace)
		for _, dest := range []string{broad, scoped} {
			if err := r.topics.Publish(ctx, dest, data); err != nil {
				ll.Error("Failed to publish update to topic",
					slog.String("destination", dest),
					slog.Any("error", err))
				errs = multierror.Append(errs, err)
			}
		}
	}

	if r.stream != nil {
		name := ev.Kind.EventName()
		global := r.stream.Broadcast(name, data, "")
		scoped := r.stream.Broadcast(name, data, ev.Namespace)
		ll.Debug("Streamed update",
			slog.String("event", name),
			slog.Int("global_attempts", global),
			slog.Int("namespace_attempts", scoped))
	}

	return errs.ErrorOrNil()
}
