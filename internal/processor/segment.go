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

package processor

import (
	"context"
	"log/slog"

	"github.com/cardinalhq/flagrelay/internal/updates"
)

// SegmentProcessor handles segment lifecycle events. Segments feed every
// flag rule that references them, so any change invalidates the namespace.
type SegmentProcessor struct {
	inv Invalidator
}

var _ Processor = (*SegmentProcessor)(nil)

func NewSegmentProcessor(inv Invalidator) *SegmentProcessor {
	return &SegmentProcessor{inv: inv}
}

func (p *SegmentProcessor) Kind() updates.Kind { return updates.KindSegment }

func (p *SegmentProcessor) Process(ctx context.Context, ev updates.Event) {
	switch ev.ParsedAction() {
	case updates.ActionCreated:
		p.created(ctx, ev)
	case updates.ActionUpdated:
		p.updated(ctx, ev)
	case updates.ActionDeleted:
		p.deleted(ctx, ev)
	default:
		eventLogger(ctx, ev).Info("Segment event with unrecognized action, invalidating namespace",
			slog.String("action", ev.Action))
		p.inv.Invalidate(ctx, ev.Namespace)
	}
}

func (p *SegmentProcessor) created(ctx context.Context, ev updates.Event) {
	eventLogger(ctx, ev).Info("Segment created")
	p.inv.Invalidate(ctx, ev.Namespace)
}

func (p *SegmentProcessor) updated(ctx context.Context, ev updates.Event) {
	eventLogger(ctx, ev).Info("Segment updated")
	p.inv.Invalidate(ctx, ev.Namespace)
}

func (p *SegmentProcessor) deleted(ctx context.Context, ev updates.Event) {
	eventLogger(ctx, ev).Info("Segment deleted")
	p.inv.Invalidate(ctx, ev.Namespace)
}
