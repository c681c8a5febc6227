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

// Package invalidate drops cached flag evaluation data for a namespace when
// an upstream change is seen.
package invalidate

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/flagrelay/internal/evaluation"
	"github.com/cardinalhq/flagrelay/internal/logctx"
)

var invalidationCounter metric.Int64Counter

func init() {
	meter := otel.Meter("github.com/cardinalhq/flagrelay/internal/invalidate")

	var err error
	invalidationCounter, err = meter.Int64Counter(
		"flagrelay.invalidations",
		metric.WithDescription("Namespace invalidation attempts by result"),
	)
	if err != nil {
		panic(err)
	}
}

// Reloader refreshes the evaluation data for a namespace.
type Reloader interface {
	Reload(ctx context.Context, namespace, token string) error
}

// Invalidator resolves credentials and asks the Reloader to refresh.
type Invalidator struct {
	table    *Table
	reloader Reloader
}

// NewInvalidator returns an invalidator over the given table.
func NewInvalidator(table *Table, reloader Reloader) *Invalidator {
	return &Invalidator{table: table, reloader: reloader}
}

// Table returns the credential table backing the invalidator.
func (i *Invalidator) Table() *Table {
	return i.table
}

// SupportedNamespaces lists namespaces that can be invalidated.
func (i *Invalidator) SupportedNamespaces() []string {
	return i.table.SupportedNamespaces()
}

// IsSupported reports whether the namespace can be invalidated.
func (i *Invalidator) IsSupported(namespace string) bool {
	return i.table.IsSupported(namespace)
}

// Invalidate refreshes the namespace. It never fails: a missing credential
// or a reload error is logged and the call returns.
func (i *Invalidator) Invalidate(ctx context.Context, namespace string) {
	ll := logctx.FromContext(ctx).With(slog.String("namespace", namespace))
	defer func() {
		if r := recover(); r != nil {
			ll.Error("Recovered from panic during invalidation", slog.Any("panic", r))
			record(ctx, "failed")
		}
	}()

	token, ok := i.table.Token(namespace)
	if !ok {
		ll.Info("No credential configured for namespace, skipping invalidation",
			slog.Any("supported", i.table.SupportedNamespaces()))
		record(ctx, "skipped")
		return
	}

	if err := i.reloader.Reload(ctx, namespace, token); err != nil {
		if IsUnauthorized(err) {
			ll.Error("Evaluation service rejected namespace credential",
				slog.String("token_preview", preview(token)),
				slog.Any("error", err))
			record(ctx, "unauthorized")
			return
		}
		ll.Error("Failed to invalidate namespace", slog.Any("error", err))
		record(ctx, "failed")
		return
	}

	ll.Debug("Invalidated namespace")
	record(ctx, "ok")
}

func record(ctx context.Context, result string) {
	invalidationCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// IsUnauthorized reports whether err looks like an authentication failure.
func IsUnauthorized(err error) bool {
	if err == nil {
		return false
	}
	var se *evaluation.StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized")
}
