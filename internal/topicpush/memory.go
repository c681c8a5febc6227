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

package topicpush

import (
	"context"
	"sync"
)

// Delivery is one payload recorded by a MemoryPublisher.
type Delivery struct {
	Destination string
	Payload     []byte
}

// MemoryPublisher records deliveries in process. It backs local
// development and tests.
type MemoryPublisher struct {
	mu         sync.Mutex
	deliveries []Delivery
	err        error
}

var _ Publisher = (*MemoryPublisher)(nil)

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (m *MemoryPublisher) Name() string { return "memory" }

func (m *MemoryPublisher) Publish(_ context.Context, destination string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.deliveries = append(m.deliveries, Delivery{Destination: destination, Payload: payload})
	return nil
}

// FailWith makes subsequent publishes return err. Pass nil to recover.
func (m *MemoryPublisher) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Deliveries returns a copy of what has been published so far.
func (m *MemoryPublisher) Deliveries() []Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Delivery, len(m.deliveries))
	copy(out, m.deliveries)
	return out
}

// Destinations returns the destinations published so far, in order.
func (m *MemoryPublisher) Destinations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.deliveries))
	for i, d := range m.deliveries {
		out[i] = d.Destination
	}
	return out
}

func (m *MemoryPublisher) Close() error { return nil }
