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

// Package sse keeps the registry of server-sent event subscribers and serves
// the subscribe endpoints.
package sse

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ConnectionEventName names the acknowledgment sent on subscribe.
const ConnectionEventName = "connection"

var (
	meter          = otel.Meter("github.com/cardinalhq/flagrelay/internal/sse")
	sentCounter    metric.Int64Counter
	evictedCounter metric.Int64Counter
)

func init() {
	var err error
	sentCounter, err = meter.Int64Counter(
		"flagrelay.sse.sent",
		metric.WithDescription("Events enqueued to streaming connections"),
	)
	if err != nil {
		panic(err)
	}
	evictedCounter, err = meter.Int64Counter(
		"flagrelay.sse.evicted",
		metric.WithDescription("Streaming connections removed after a failed send"),
	)
	if err != nil {
		panic(err)
	}
}

// Stats is a point-in-time view of the registry.
type Stats struct {
	TotalClients     int            `json:"totalClients"`
	NamespaceClients int            `json:"namespaceClients"`
	NamespaceStats   map[string]int `json:"namespaceStats"`
}

// Registry tracks subscribers. A connection is either global or scoped to
// exactly one namespace.
type Registry struct {
	bufferSize int

	global mapset.Set[*Connection]

	mu         sync.RWMutex
	namespaces map[string]mapset.Set[*Connection]
}

// NewRegistry creates a registry whose connections buffer up to bufferSize
// pending events.
func NewRegistry(bufferSize int) *Registry {
	r := &Registry{
		bufferSize: bufferSize,
		global:     mapset.NewSet[*Connection](),
		namespaces: map[string]mapset.Set[*Connection]{},
	}
	_, err := meter.Int64ObservableGauge(
		"flagrelay.sse.connections",
		metric.WithDescription("Open streaming connections"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			s := r.Stats()
			o.Observe(int64(s.TotalClients), metric.WithAttributes(attribute.String("scope", "global")))
			o.Observe(int64(s.NamespaceClients), metric.WithAttributes(attribute.String("scope", "namespace")))
			return nil
		}),
	)
	if err != nil {
		slog.Warn("Failed to register connection gauge", slog.Any("error", err))
	}
	return r
}

type connectionStatus struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Subscribe queues the connection acknowledgment and then registers the
// connection, so the acknowledgment is always its first frame. An empty
// namespace subscribes globally.
func (r *Registry) Subscribe(namespace string) *Connection {
	conn := newConnection(namespace, r.bufferSize)

	scope := "Flipt"
	if namespace != "" {
		scope = namespace
	}
	ack, _ := json.Marshal(connectionStatus{
		Type:      "connection_status",
		Message:   "Connected to " + scope + " updates",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err := conn.Send(ConnectionEventName, ack); err != nil {
		slog.Warn("Failed to queue connection acknowledgment",
			slog.String("connection_id", conn.ID()),
			slog.Any("error", err))
	}

	if namespace == "" {
		r.global.Add(conn)
		slog.Info("Streaming client connected",
			slog.String("connection_id", conn.ID()),
			slog.Int("total_clients", r.global.Cardinality()))
		return conn
	}

	r.mu.Lock()
	set, ok := r.namespaces[namespace]
	if !ok {
		set = mapset.NewSet[*Connection]()
		r.namespaces[namespace] = set
	}
	set.Add(conn)
	count := set.Cardinality()
	r.mu.Unlock()
	slog.Info("Streaming client connected",
		slog.String("connection_id", conn.ID()),
		slog.String("namespace", namespace),
		slog.Int("namespace_clients", count))
	return conn
}

// Unsubscribe closes the connection and removes it from whichever set holds
// it. Repeated calls are no-ops.
func (r *Registry) Unsubscribe(conn *Connection) {
	if conn == nil {
		return
	}
	conn.Close()

	if conn.namespace == "" {
		if r.global.Contains(conn) {
			r.global.Remove(conn)
			slog.Info("Streaming client disconnected",
				slog.String("connection_id", conn.ID()),
				slog.Int("total_clients", r.global.Cardinality()))
		}
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.namespaces[conn.namespace]
	if !ok || !set.Contains(conn) {
		return
	}
	set.Remove(conn)
	if set.Cardinality() == 0 {
		delete(r.namespaces, conn.namespace)
	}
	slog.Info("Streaming client disconnected",
		slog.String("connection_id", conn.ID()),
		slog.String("namespace", conn.namespace),
		slog.Int("namespace_clients", set.Cardinality()))
}

// Broadcast sends an event to the global set when namespace is empty, and
// otherwise only to that namespace's subscribers. Connections that fail the
// send are evicted immediately. It returns the number of delivery attempts.
func (r *Registry) Broadcast(eventName string, data []byte, namespace string) int {
	var targets []*Connection
	if namespace == "" {
		targets = r.global.ToSlice()
	} else {
		r.mu.RLock()
		set, ok := r.namespaces[namespace]
		if ok {
			targets = set.ToSlice()
		}
		r.mu.RUnlock()
		if !ok {
			slog.Debug("No streaming clients for namespace", slog.String("namespace", namespace))
			return 0
		}
	}

	ctx := context.Background()
	sent := 0
	for _, conn := range targets {
		if err := conn.Send(eventName, data); err != nil {
			reason := "closed"
			if errors.Is(err, ErrSlowConsumer) {
				reason = "slow_consumer"
			}
			slog.Warn("Failed to deliver event, removing streaming client",
				slog.String("connection_id", conn.ID()),
				slog.String("event", eventName),
				slog.String("reason", reason))
			evictedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
			r.Unsubscribe(conn)
			continue
		}
		sent++
	}
	if sent > 0 {
		sentCounter.Add(ctx, int64(sent), metric.WithAttributes(attribute.String("event", eventName)))
	}

	slog.Debug("Broadcast streaming event",
		slog.String("event", eventName),
		slog.String("namespace", namespace),
		slog.Int("attempts", len(targets)),
		slog.Int("delivered", sent))
	return len(targets)
}

// Stats reports connection counts.
func (r *Registry) Stats() Stats {
	s := Stats{
		TotalClients:   r.global.Cardinality(),
		NamespaceStats: map[string]int{},
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for ns, set := range r.namespaces {
		n := set.Cardinality()
		s.NamespaceStats[ns] = n
		s.NamespaceClients += n
	}
	return s
}

// Namespaces lists namespaces that currently have subscribers.
func (r *Registry) Namespaces() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.namespaces))
	for ns := range r.namespaces {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// CloseAll disconnects every subscriber, used at shutdown.
func (r *Registry) CloseAll() {
	for _, conn := range r.global.ToSlice() {
		r.Unsubscribe(conn)
	}
	r.mu.RLock()
	var scoped []*Connection
	for _, set := range r.namespaces {
		scoped = append(scoped, set.ToSlice()...)
	}
	r.mu.RUnlock()
	for _, conn := range scoped {
		r.Unsubscribe(conn)
	}
}
