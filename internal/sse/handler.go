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

package sse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cardinalhq/flagrelay/internal/updates"
)

// Config holds the streaming section of the service configuration.
type Config struct {
	Enabled     bool          `mapstructure:"enabled"`
	BufferSize  int           `mapstructure:"buffer_size"`
	Keepalive   time.Duration `mapstructure:"keepalive"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
}

// DefaultConfig returns the streaming defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		BufferSize: 32,
		Keepalive:  30 * time.Second,
	}
}

// NamespaceLister reports namespaces that have evaluation credentials.
type NamespaceLister interface {
	SupportedNamespaces() []string
}

// Handler serves the subscribe and diagnostic endpoints.
type Handler struct {
	registry   *Registry
	cfg        Config
	namespaces NamespaceLister
}

// NewHandler creates a handler. namespaces may be nil.
func NewHandler(registry *Registry, cfg Config, namespaces NamespaceLister) *Handler {
	return &Handler{registry: registry, cfg: cfg, namespaces: namespaces}
}

// Register installs the handler's routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /subscribe", h.handleSubscribe)
	mux.HandleFunc("GET /subscribe/{namespace}", h.handleSubscribe)
	mux.HandleFunc("GET /stats", h.handleStats)
	mux.HandleFunc("GET /info", h.handleInfo)
	mux.HandleFunc("GET /namespaces", h.handleNamespaces)
	mux.HandleFunc("GET /status", h.handleStatus)
}

func (h *Handler) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	namespace := r.PathValue("namespace")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	conn := h.registry.Subscribe(namespace)
	defer h.registry.Unsubscribe(conn)

	ll := slog.With(slog.String("connection_id", conn.ID()), slog.String("namespace", namespace))

	keepalive := h.cfg.Keepalive
	if keepalive <= 0 {
		keepalive = DefaultConfig().Keepalive
	}
	ticker := time.NewTicker(keepalive)
	defer ticker.Stop()

	var lifetime <-chan time.Time
	if h.cfg.MaxLifetime > 0 {
		timer := time.NewTimer(h.cfg.MaxLifetime)
		defer timer.Stop()
		lifetime = timer.C
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-conn.Done():
			return
		case <-lifetime:
			ll.Info("Streaming connection reached max lifetime")
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				ll.Warn("Failed to write keepalive", slog.Any("error", err))
				return
			}
			flusher.Flush()
		case frame := <-conn.Frames():
			if err := writeFrame(w, frame); err != nil {
				ll.Warn("Failed to write event", slog.String("event", frame.Event), slog.Any("error", err))
				return
			}
			flusher.Flush()
		}
	}
}

func writeFrame(w http.ResponseWriter, f Frame) error {
	var buf bytes.Buffer
	if f.Event != "" {
		buf.WriteString("event: ")
		buf.WriteString(f.Event)
		buf.WriteByte('\n')
	}
	for _, line := range bytes.Split(f.Data, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", slog.Any("error", err))
	}
}

func (h *Handler) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.registry.Stats())
}

var entityKinds = []updates.Kind{updates.KindFlag, updates.KindSegment, updates.KindConstraint}

func (h *Handler) handleInfo(w http.ResponseWriter, _ *http.Request) {
	topics := make([]string, 0, 2*len(entityKinds))
	messageTypes := []string{"connection_status"}
	for _, k := range entityKinds {
		topics = append(topics, k.Plural(), k.Plural()+"/{namespace}")
		messageTypes = append(messageTypes, k.EventName())
	}
	writeJSON(w, map[string]any{
		"streamEndpoints": []string{"/subscribe", "/subscribe/{namespace}"},
		"topics":          topics,
		"messageTypes":    messageTypes,
	})
}

func (h *Handler) handleNamespaces(w http.ResponseWriter, _ *http.Request) {
	namespaces := []string{}
	if h.namespaces != nil {
		namespaces = h.namespaces.SupportedNamespaces()
	}
	writeJSON(w, map[string]any{
		"namespaces":           namespaces,
		"count":                len(namespaces),
		"subscribedNamespaces": h.registry.Namespaces(),
	})
}

func (h *Handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{
		"status":    "running",
		"timestamp": time.Now().UnixMilli(),
	})
}
