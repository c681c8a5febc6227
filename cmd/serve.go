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
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/flagrelay/config"
	"github.com/cardinalhq/flagrelay/internal/broadcast"
	"github.com/cardinalhq/flagrelay/internal/debugging"
	"github.com/cardinalhq/flagrelay/internal/evaluation"
	"github.com/cardinalhq/flagrelay/internal/healthcheck"
	"github.com/cardinalhq/flagrelay/internal/invalidate"
	"github.com/cardinalhq/flagrelay/internal/processor"
	"github.com/cardinalhq/flagrelay/internal/pubsub"
	"github.com/cardinalhq/flagrelay/internal/sse"
	"github.com/cardinalhq/flagrelay/internal/topicpush"
)

var configFile string

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "run the update relay",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.LoadFile(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			ctx, doneFx, err := setupTelemetry("flagrelay", cfg.Debug, nil)
			if err != nil {
				return fmt.Errorf("failed to setup telemetry: %w", err)
			}
			defer func() {
				if err := doneFx(); err != nil {
					slog.Error("Error shutting down telemetry", slog.Any("error", err))
				}
			}()

			slog.Info("Starting flagrelay", slog.String("version", buildVersion()))
			return serve(ctx, cfg)
		},
	})
}

func serve(ctx context.Context, cfg *config.Config) error {
	debugging.RunPprof(ctx, cfg.Pprof)

	healthServer := healthcheck.NewServer(cfg.Health)
	go func() {
		if err := healthServer.Start(ctx); err != nil {
			slog.Error("Health check server stopped", slog.Any("error", err))
		}
	}()

	table := invalidate.NewTable(cfg.FeatureFlag.Credentials)
	table.LogConfiguration()

	flipt := evaluation.NewClient(cfg.FeatureFlag.Evaluation, table)
	flipt.Start()
	defer flipt.Stop()

	invalidator := invalidate.NewInvalidator(table, flipt)
	dispatcher := processor.NewDefaultDispatcher(invalidator)

	var redisClient redis.UniversalClient
	if needsRedis(cfg) {
		redisClient = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.Redis.Addr},
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			if err := redisClient.Close(); err != nil {
				slog.Warn("Failed to close redis client", slog.Any("error", err))
			}
		}()
	}

	// Disabled paths stay as untyped nil interfaces so the router skips them.
	var stream broadcast.StreamBroadcaster
	var registry *sse.Registry
	if cfg.Streaming.Enabled {
		registry = sse.NewRegistry(cfg.Streaming.BufferSize)
		stream = registry
		defer registry.CloseAll()
	} else {
		slog.Info("Streaming connections disabled")
	}

	var topics broadcast.TopicPublisher
	if cfg.TopicPush.Enabled {
		if cfg.TopicPush.UsesBackend("kafka") && cfg.TopicPush.KafkaEnsureTopic {
			if err := ensureKafkaTopics(ctx, cfg, "", true); err != nil {
				slog.Warn("Failed to ensure Kafka updates topic", slog.Any("error", err))
			}
		}
		topicRegistry, err := newTopicRegistry(cfg, redisClient)
		if err != nil {
			return err
		}
		defer func() {
			if err := topicRegistry.Close(); err != nil {
				slog.Warn("Failed to close topic publishers", slog.Any("error", err))
			}
		}()
		topics = topicRegistry
		slog.Info("Topic push enabled", slog.Any("publishers", topicRegistry.Names()))
	} else {
		slog.Info("Topic push disabled")
	}

	router := broadcast.NewRouter(stream, topics)

	stats := pubsub.NewStatsAggregator(cfg.Ingest.StatsInterval)
	stats.Start(ctx)
	defer stats.Stop()

	listener := pubsub.NewListener(dispatcher, router, stats)

	mux := http.NewServeMux()
	if registry != nil {
		sse.NewHandler(registry, cfg.Streaming, invalidator).Register(mux)
	}
	mux.Handle("GET /flags/{namespace}/{flagKey}", evaluation.FlagHandler(flipt))

	var backends []pubsub.Backend
	if cfg.Ingest.Enabled {
		var httpSvc *pubsub.HTTPService
		if slices.Contains(cfg.Ingest.Backends, string(pubsub.BackendTypeHTTP)) {
			httpSvc = pubsub.NewHTTPService(listener, 0, healthServer)
			mux.Handle("POST /ingest", httpSvc)
		}

		var err error
		backends, err = pubsub.NewBackends(ctx, pubsub.BackendDeps{
			Handler:     listener,
			Ingest:      cfg.Ingest,
			Redis:       cfg.Redis,
			GCP:         cfg.GCP,
			SQS:         cfg.SQS,
			Azure:       cfg.Azure,
			RedisClient: redisClient,
			HTTP:        httpSvc,
			Health:      healthServer,
		})
		if err != nil {
			return fmt.Errorf("failed to create ingest backends: %w", err)
		}
	} else {
		slog.Info("Ingest disabled; only the diagnostic endpoints are served")
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, b := range backends {
		g.Go(func() error {
			slog.Info("Starting ingest backend", slog.String("backend", b.GetName()))
			if err := b.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("%s backend: %w", b.GetName(), err)
			}
			return nil
		})
	}

	g.Go(func() error {
		slog.Info("Starting HTTP server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down")
		// Streams block until their connection closes, so end them first.
		if registry != nil {
			registry.CloseAll()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	healthServer.SetReady(true)
	healthServer.SetStatus(healthcheck.StatusHealthy)

	err := g.Wait()
	healthServer.SetReady(false)
	return err
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	if cfg.Server.ShutdownTimeout > 0 {
		return cfg.Server.ShutdownTimeout
	}
	return 10 * time.Second
}

func needsRedis(cfg *config.Config) bool {
	if cfg.Ingest.Enabled && slices.Contains(cfg.Ingest.Backends, string(pubsub.BackendTypeRedis)) {
		return true
	}
	return cfg.TopicPush.Enabled && cfg.TopicPush.UsesBackend("redis")
}

func newTopicRegistry(cfg *config.Config, redisClient redis.UniversalClient) (*topicpush.Registry, error) {
	var publishers []topicpush.Publisher
	for _, name := range cfg.TopicPush.Backends {
		switch name {
		case "kafka":
			p, err := topicpush.NewKafkaPublisher(&cfg.Kafka, cfg.TopicPush.KafkaTopic)
			if err != nil {
				return nil, err
			}
			publishers = append(publishers, p)
		case "redis":
			publishers = append(publishers, topicpush.NewRedisPublisher(redisClient, cfg.TopicPush.RedisPrefix))
		case "memory":
			publishers = append(publishers, topicpush.NewMemoryPublisher())
		default:
			return nil, fmt.Errorf("unsupported topic push backend: %s", name)
		}
	}
	if len(publishers) == 0 {
		return nil, errors.New("topic push is enabled but no backends are configured")
	}
	return topicpush.NewRegistry(cfg.TopicPush.Timeout, publishers...), nil
}
