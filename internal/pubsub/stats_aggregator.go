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

package pubsub

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// StatsAggregator collects and periodically reports processing statistics
// per entity kind.
type StatsAggregator struct {
	mu       sync.Mutex
	stats    map[string]*kindStats
	interval time.Duration
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type kindStats struct {
	processed int64
	failed    int64
	skipped   int64
	actions   map[string]int64
}

// NewStatsAggregator creates a new stats aggregator with the specified reporting interval
func NewStatsAggregator(interval time.Duration) *StatsAggregator {
	if interval <= 0 {
		interval = 20 * time.Second
	}
	return &StatsAggregator{
		stats:    make(map[string]*kindStats),
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start begins periodic reporting
func (sa *StatsAggregator) Start(ctx context.Context) {
	sa.wg.Add(1)
	go func() {
		defer sa.wg.Done()
		ticker := time.NewTicker(sa.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				sa.reportStats()
				return
			case <-sa.done:
				sa.reportStats()
				return
			case <-ticker.C:
				sa.reportStats()
			}
		}
	}()
}

// Stop stops the aggregator and reports final stats
func (sa *StatsAggregator) Stop() {
	sa.stopOnce.Do(func() { close(sa.done) })
	sa.wg.Wait()
}

func (sa *StatsAggregator) get(kind string) *kindStats {
	s := sa.stats[kind]
	if s == nil {
		s = &kindStats{actions: map[string]int64{}}
		sa.stats[kind] = s
	}
	return s
}

// RecordProcessed records one processed update of the given kind and action
func (sa *StatsAggregator) RecordProcessed(kind, action string) {
	sa.mu.Lock()
	defer sa.mu.Unlock()
	s := sa.get(kind)
	s.processed++
	s.actions[action]++
}

// RecordFailed records updates of a kind that could not be processed
func (sa *StatsAggregator) RecordFailed(kind string, count int) {
	sa.mu.Lock()
	defer sa.mu.Unlock()
	sa.get(kind).failed += int64(count)
}

// RecordSkipped records updates of a kind that were broadcast without a processor
func (sa *StatsAggregator) RecordSkipped(kind string, count int) {
	sa.mu.Lock()
	defer sa.mu.Unlock()
	sa.get(kind).skipped += int64(count)
}

// reportStats reports and resets statistics
func (sa *StatsAggregator) reportStats() {
	sa.mu.Lock()
	defer sa.mu.Unlock()

	if len(sa.stats) == 0 {
		return
	}

	var totalProcessed, totalFailed, totalSkipped int64
	kinds := make([]string, 0, len(sa.stats))
	for kind, s := range sa.stats {
		totalProcessed += s.processed
		totalFailed += s.failed
		totalSkipped += s.skipped
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	attrs := []any{
		slog.Int64("total_processed", totalProcessed),
		slog.Int64("total_failed", totalFailed),
		slog.Int64("total_skipped", totalSkipped),
	}

	for _, kind := range kinds {
		s := sa.stats[kind]
		group := []any{
			slog.Int64("processed", s.processed),
			slog.Int64("failed", s.failed),
			slog.Int64("skipped", s.skipped),
		}
		actions := make([]string, 0, len(s.actions))
		for a := range s.actions {
			actions = append(actions, a)
		}
		sort.Strings(actions)
		for _, a := range actions {
			group = append(group, slog.Int64("action_"+a, s.actions[a]))
		}
		attrs = append(attrs, slog.Group(kind, group...))
	}

	slog.Info("Update processing stats", attrs...)

	sa.stats = make(map[string]*kindStats)
}
