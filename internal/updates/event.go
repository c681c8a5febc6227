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
	"encoding/json"
	"strings"
)

// DefaultNamespace is used when an update does not name a namespace.
const DefaultNamespace = "default"

// Kind classifies an update by the entity it describes.
type Kind int

const (
	KindUnknown Kind = iota
	KindFlag
	KindSegment
	KindConstraint
)

func (k Kind) String() string {
	switch k {
	case KindFlag:
		return "flag"
	case KindSegment:
		return "segment"
	case KindConstraint:
		return "constraint"
	default:
		return "unknown"
	}
}

// Plural is the collection name used for topic addressing, e.g. "flags".
func (k Kind) Plural() string {
	switch k {
	case KindFlag:
		return "flags"
	case KindSegment:
		return "segments"
	case KindConstraint:
		return "constraints"
	default:
		return "unknown"
	}
}

// EventName is the name streamed to live connections, e.g. "flag.update".
func (k Kind) EventName() string {
	return k.String() + ".update"
}

// Action is the change an update reports for its entity.
type Action int

const (
	ActionNone Action = iota
	ActionCreated
	ActionUpdated
	ActionDeleted
	ActionEnabled
	ActionDisabled
	ActionUnrecognized
)

// ParseAction maps an action string to an Action, ignoring case.
// An empty string yields ActionNone.
func ParseAction(s string) Action {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return ActionNone
	case "created":
		return ActionCreated
	case "updated":
		return ActionUpdated
	case "deleted":
		return ActionDeleted
	case "enabled":
		return ActionEnabled
	case "disabled":
		return ActionDisabled
	default:
		return ActionUnrecognized
	}
}

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionCreated:
		return "created"
	case ActionUpdated:
		return "updated"
	case ActionDeleted:
		return "deleted"
	case ActionEnabled:
		return "enabled"
	case ActionDisabled:
		return "disabled"
	default:
		return "unrecognized"
	}
}

// Event is a classified update notification. It is built once by Classify
// and not modified afterwards.
type Event struct {
	Kind      Kind
	Type      string
	Action    string
	Namespace string
	EntityKey string
	Enabled   *bool
	Data      map[string]any
	Source    string
	Timestamp string
}

// ParsedAction returns the Action enum for the event's raw action string.
func (e Event) ParsedAction() Action {
	return ParseAction(e.Action)
}

// entityKeyField returns the data field holding the entity key for the kind.
func entityKeyField(k Kind) string {
	switch k {
	case KindFlag:
		return "flag_key"
	case KindSegment:
		return "segment_key"
	case KindConstraint:
		return "constraint_id"
	default:
		return ""
	}
}

// MarshalJSON renders the event in the shape delivered to live clients.
func (e Event) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"type":      e.Type,
		"kind":      e.Kind.String(),
		"namespace": e.Namespace,
		"data":      e.Data,
		"source":    e.Source,
		"timestamp": e.Timestamp,
	}
	if e.Action != "" {
		out["action"] = e.Action
	}
	if field := entityKeyField(e.Kind); field != "" && e.EntityKey != "" {
		out[field] = e.EntityKey
	}
	if e.Enabled != nil {
		out["enabled"] = *e.Enabled
	}
	if e.Data == nil {
		out["data"] = map[string]any{}
	}
	return json.Marshal(out)
}
