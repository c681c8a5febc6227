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
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/option"

	"github.com/cardinalhq/flagrelay/internal/healthcheck"
	"github.com/cardinalhq/flagrelay/internal/logctx"
)

type GCPPubSubService struct {
	tracer  trace.Tracer
	client  *pubsub.Client
	sub     *pubsub.Subscription
	handler MessageHandler
	health  healthcheck.ConditionSetter
}

// Ensure GCPPubSubService implements Backend interface
var _ Backend = (*GCPPubSubService)(nil)

func NewGCPPubSubService(ctx context.Context, cfg GCPConfig, handler MessageHandler, maxConcurrent int, health healthcheck.ConditionSetter) (*GCPPubSubService, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("gcp.project_id is required")
	}
	if cfg.SubscriptionID == "" {
		return nil, errors.New("gcp.subscription_id is required")
	}

	// Only set credentials if explicitly provided (ADC will handle GCE/Cloud Run)
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	sub := client.Subscription(cfg.SubscriptionID)
	if maxConcurrent > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = maxConcurrent
	}

	slog.Info("GCP Pub/Sub ingest initialized",
		slog.String("project_id", cfg.ProjectID),
		slog.String("subscription_id", cfg.SubscriptionID))

	return &GCPPubSubService{
		tracer:  otel.Tracer("github.com/cardinalhq/flagrelay/internal/pubsub/gcp-pubsub"),
		client:  client,
		sub:     sub,
		handler: handler,
		health:  health,
	}, nil
}

func (ps *GCPPubSubService) GetName() string {
	return string(BackendTypeGCPPubSub)
}

func (ps *GCPPubSubService) Run(doneCtx context.Context) error {
	slog.Info("Starting GCP Pub/Sub listener")
	defer func() {
		if err := ps.client.Close(); err != nil {
			slog.Error("Failed to close GCP Pub/Sub client", slog.Any("error", err))
		}
	}()

	if ps.health != nil {
		ps.health.SetReadyCondition("ingest_gcp", true)
		defer ps.health.SetReadyCondition("ingest_gcp", false)
	}

	err := ps.sub.Receive(doneCtx, ps.messageHandler)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("GCP Pub/Sub receive error: %w", err)
	}
	return nil
}

// messageHandler always acks: a notification that fails classification will
// fail again on redelivery, and missed updates are not replayed.
func (ps *GCPPubSubService) messageHandler(ctx context.Context, msg *pubsub.Message) {
	ctx, span := ps.tracer.Start(ctx, "gcp_pubsub.message_handler",
		trace.WithAttributes(
			attribute.String("message_id", msg.ID),
			attribute.String("publish_time", msg.PublishTime.String()),
		))
	defer span.End()
	defer msg.Ack()

	source := "gcp:" + ps.sub.ID()
	ctx = logctx.WithMessage(ctx, source, msg.ID)

	if err := ps.handler.HandleMessage(ctx, source, msg.Data); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}
