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

package updates

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformedPayload is returned when a message is not a JSON object.
	ErrMalformedPayload = errors.New("malformed update payload")

	// ErrMissingData is returned when a message has no data object.
	ErrMissingData = errors.New("update payload has no data field")
)

// ClassifyKind maps an update type such as "flag.update" to its Kind by prefix.
func ClassifyKind(eventType string) Kind {
	switch {
	case strings.HasPrefix(eventType, "flag."):
		return KindFlag
	case strings.HasPrefix(eventType, "segment."):
		return KindSegment
	case strings.HasPrefix(eventType, "constraint."):
		return KindConstraint
	default:
		return KindUnknown
	}
}

// Classify parses a raw notification and returns the typed Event.
// Missing optional fields are tolerated; only an unparseable body or a
// missing data object produce an error.
func Classify(raw []byte) (Event, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return Event{}, fmt.Errorf("%w: empty message", ErrMalformedPayload)
	}

	var envelope map[string]any
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if envelope == nil {
		return Event{}, fmt.Errorf("%w: not a JSON object", ErrMalformedPayload)
	}

	rawData, ok := envelope["data"]
	if !ok || rawData == nil {
		return Event{}, ErrMissingData
	}
	data, ok := rawData.(map[string]any)
	if !ok {
		return Event{}, fmt.Errorf("%w: data is %T, not an object", ErrMalformedPayload, rawData)
	}

	eventType := stringField(envelope, "type")
	kind := ClassifyKind(eventType)

	namespace := stringField(data, "namespace")
	if namespace == "" {
		namespace = DefaultNamespace
	}

	ev := Event{
		Kind:      kind,
		Type:      eventType,
		Action:    stringField(data, "action"),
		Namespace: namespace,
		Data:      data,
		Source:    stringField(envelope, "source"),
		Timestamp: stringField(envelope, "timestamp"),
	}
	if field := entityKeyField(kind); field != "" {
		ev.EntityKey = stringField(data, field)
	}
	if enabled, ok := data["enabled"].(bool); ok {
		ev.Enabled = &enabled
	}

	return ev, nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
