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

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/cardinalhq/flagrelay/config"
	"github.com/cardinalhq/flagrelay/internal/updates"
)

type publishOptions struct {
	kind       string
	namespace  string
	key        string
	segmentKey string
	action     string
	enabled    string
	channel    string
	source     string
	dryRun     bool
}

func init() {
	opts := publishOptions{}

	publishCmd := &cobra.Command{
		Use:   "publish",
		Short: "publish a simulated Flipt update to Redis",
		Long: `Publish a simulated flag, segment or constraint update on the Redis channel
the relay listens on. Useful for checking that clients receive updates.`,
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, err := config.LoadFile(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			payload, channel, err := buildUpdate(opts, time.Now())
			if err != nil {
				return err
			}
			if opts.dryRun {
				fmt.Fprintf(c.OutOrStdout(), "%s %s\n", channel, payload)
				return nil
			}

			client := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			defer client.Close()

			ctx, cancel := context.WithTimeout(c.Context(), 10*time.Second)
			defer cancel()

			receivers, err := client.Publish(ctx, channel, payload).Result()
			if err != nil {
				return fmt.Errorf("failed to publish to %s: %w", channel, err)
			}
			slog.Info("Published simulated update",
				slog.String("channel", channel),
				slog.Int64("receivers", receivers))
			fmt.Fprintf(c.OutOrStdout(), "published to %s (%d receivers)\n", channel, receivers)
			return nil
		},
	}

	publishCmd.Flags().StringVar(&opts.kind, "kind", "flag", "entity kind: flag, segment or constraint")
	publishCmd.Flags().StringVar(&opts.namespace, "namespace", updates.DefaultNamespace, "namespace of the entity")
	publishCmd.Flags().StringVar(&opts.key, "key", "", "flag key, segment key or constraint id")
	publishCmd.Flags().StringVar(&opts.segmentKey, "segment", "test-segment", "segment key for constraint updates")
	publishCmd.Flags().StringVar(&opts.action, "action", "updated", "change action")
	publishCmd.Flags().StringVar(&opts.enabled, "enabled", "", "flag enabled state (true/false), omitted when empty")
	publishCmd.Flags().StringVar(&opts.channel, "channel", "", "Redis channel (default flipt:<kinds>:update)")
	publishCmd.Flags().StringVar(&opts.source, "source", "flagrelay-publish", "source recorded in the message")
	publishCmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "print the message instead of publishing it")

	rootCmd.AddCommand(publishCmd)
}

// buildUpdate renders the notification Flipt would publish for the change
// described by opts and the channel it would go to.
func buildUpdate(opts publishOptions, now time.Time) ([]byte, string, error) {
	kind := updates.ClassifyKind(opts.kind + ".")
	if kind == updates.KindUnknown {
		return nil, "", fmt.Errorf("unsupported kind %q", opts.kind)
	}

	data := map[string]any{
		"action":    opts.action,
		"namespace": opts.namespace,
	}
	switch kind {
	case updates.KindFlag:
		data["flag_key"] = orDefault(opts.key, "test-flag")
		switch opts.enabled {
		case "":
		case "true":
			data["enabled"] = true
		case "false":
			data["enabled"] = false
		default:
			return nil, "", fmt.Errorf("invalid --enabled value %q", opts.enabled)
		}
	case updates.KindSegment:
		data["segment_key"] = orDefault(opts.key, "test-segment")
	case updates.KindConstraint:
		data["constraint_id"] = orDefault(opts.key, "constraint-123")
		data["segment_key"] = opts.segmentKey
	}

	payload, err := json.Marshal(map[string]any{
		"type":      kind.EventName(),
		"data":      data,
		"source":    opts.source,
		"timestamp": now.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode update: %w", err)
	}

	channel := opts.channel
	if channel == "" {
		channel = "flipt:" + kind.Plural() + ":update"
	}
	return payload, channel, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
