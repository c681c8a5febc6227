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
	"log/slog"
	"net/http"
)

// Evaluator answers boolean flag checks.
type Evaluator interface {
	IsEnabled(ctx context.Context, namespace, flagKey, entityID string) (bool, error)
}

// FlagCheck is the response body of the flag check endpoint.
type FlagCheck struct {
	Namespace string `json:"namespace"`
	FlagKey   string `json:"flagKey"`
	EntityID  string `json:"entityId"`
	Enabled   bool   `json:"enabled"`
}

// FlagHandler serves GET /flags/{namespace}/{flagKey}. The entity comes from
// the entity_id query parameter or the X-Entity-Id header.
func FlagHandler(ev Evaluator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		namespace := r.PathValue("namespace")
		flagKey := r.PathValue("flagKey")
		entityID := r.URL.Query().Get("entity_id")
		if entityID == "" {
			entityID = r.Header.Get("X-Entity-Id")
		}
		if entityID == "" {
			http.Error(w, "entity_id is required", http.StatusBadRequest)
			return
		}

		enabled, err := ev.IsEnabled(r.Context(), namespace, flagKey, entityID)
		if err != nil {
			var se *StatusError
			switch {
			case errors.Is(err, ErrNamespaceNotConfigured):
				http.Error(w, err.Error(), http.StatusNotFound)
			case errors.As(err, &se):
				slog.Warn("Flag check rejected by evaluation service",
					slog.String("namespace", namespace),
					slog.String("flag_key", flagKey),
					slog.Int("status", se.StatusCode))
				http.Error(w, "evaluation service error", http.StatusBadGateway)
			default:
				slog.Error("Flag check failed",
					slog.String("namespace", namespace),
					slog.String("flag_key", flagKey),
					slog.Any("error", err))
				http.Error(w, "evaluation failed", http.StatusBadGateway)
			}
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(FlagCheck{
			Namespace: namespace,
			FlagKey:   flagKey,
			EntityID:  entityID,
			Enabled:   enabled,
		})
	}
}
