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

// FlagProcessor handles flag lifecycle and toggle events.
type FlagProcessor struct {
	inv Invalidator
}

var _ Processor = (*FlagProcessor)(nil)

func NewFlagProcessor(inv Invalidator) *FlagProcessor {
	return &FlagProcessor{inv: inv}
}

func (p *FlagProcessor) Kind() updates.Kind { return updates.KindFlag }

func (p *FlagProcessor) Process(ctx context.Context, ev updates.Event) {
	switch ev.ParsedAction() {
	case updates.ActionCreated:
		p.created(ctx, ev)
	case updates.ActionUpdated:
		p.updated(ctx, ev)
	case updates.ActionDeleted:
		p.deleted(ctx, ev)
	case updates.ActionEnabled:
		p.toggled(ctx, ev, true)
	case updates.ActionDisabled:
		p.toggled(ctx, ev, false)
	default:
		eventLogger(ctx, ev).Info("Flag event with unrecognized action, invalidating namespace",
			slog.String("action", ev.Action))
		p.inv.Invalidate(ctx, ev.Namespace)
	}
}

func (p *FlagProcessor) created(ctx context.Context, ev updates.Event) {
	eventLogger(ctx, ev).Info("Flag created")
	p.inv.Invalidate(ctx, ev.Namespace)
}

func (p *FlagProcessor) updated(ctx context.Context, ev updates.Event) {
	ll := eventLogger(ctx, ev)
	if ev.Enabled != nil {
		ll = ll.With(slog.Bool("enabled", *ev.Enabled))
	}
	ll.Info("Flag updated")
	p.inv.Invalidate(ctx, ev.Namespace)
}

func (p *FlagProcessor) deleted(ctx context.Context, ev updates.Event) {
	eventLogger(ctx, ev).Info("Flag deleted")
	p.inv.Invalidate(ctx, ev.Namespace)
}

func (p *FlagProcessor) toggled(ctx context.Context, ev updates.Event, enabled bool) {
	eventLogger(ctx, ev).Info("Flag toggled", slog.Bool("enabled", enabled))
	p.inv.Invalidate(ctx, ev.Namespace)
}
