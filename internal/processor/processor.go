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

// Package processor turns classified update events into cache invalidation
// side effects, one processor per entity kind.
package processor

import (
	"context"
	"log/slog"

	"github.com/cardinalhq/flagrelay/internal/logctx"
	"github.com/cardinalhq/flagrelay/internal/updates"
)

// Invalidator refreshes evaluation data for a namespace.
type Invalidator interface {
	Invalidate(ctx context.Context, namespace string)
}

// Processor handles one kind of update event.
type Processor interface {
	Process(ctx context.Context, ev updates.Event)
	Kind() updates.Kind
}

// Dispatcher routes events to the processor registered for their kind.
type Dispatcher struct {
	processors map[updates.Kind]Processor
}

// NewDispatcher registers the given processors by kind.
func NewDispatcher(processors ...Processor) *Dispatcher {
	d := &Dispatcher{processors: make(map[updates.Kind]Processor, len(processors))}
	for _, p := range processors {
		d.processors[p.Kind()] = p
	}
	return d
}

// NewDefaultDispatcher wires the flag, segment, and constraint processors
// to one invalidator.
func NewDefaultDispatcher(inv Invalidator) *Dispatcher {
	return NewDispatcher(
		NewFlagProcessor(inv),
		NewSegmentProcessor(inv),
		NewConstraintProcessor(inv),
	)
}

// Dispatch runs the matching processor and reports whether one existed.
func (d *Dispatcher) Dispatch(ctx context.Context, ev updates.Event) bool {
	p, ok := d.processors[ev.Kind]
	if !ok {
		logctx.FromContext(ctx).Debug("No processor for event kind",
			slog.String("kind", ev.Kind.String()),
			slog.String("type", ev.Type))
		return false
	}
	p.Process(ctx, ev)
	return true
}

func eventLogger(ctx context.Context, ev updates.Event) *slog.Logger {
	ll := logctx.FromContext(ctx).With(
		slog.String("kind", ev.Kind.String()),
		slog.String("namespace", ev.Namespace),
	)
	if ev.EntityKey != "" {
		ll = ll.With(slog.String("entity_key", ev.EntityKey))
	}
	return ll
}
