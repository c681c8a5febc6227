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
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"golang.org/x/sync/semaphore"

	"github.com/cardinalhq/flagrelay/internal/awsclient"
	"github.com/cardinalhq/flagrelay/internal/healthcheck"
	"github.com/cardinalhq/flagrelay/internal/idgen"
	"github.com/cardinalhq/flagrelay/internal/logctx"
)

// sqsAPI is the part of the SQS client the service uses.
type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

type SQSService struct {
	client        sqsAPI
	queueURL      string
	handler       MessageHandler
	maxConcurrent int64
	health        healthcheck.ConditionSetter
	retryDelay    time.Duration
}

// Ensure SQSService implements Backend interface
var _ Backend = (*SQSService)(nil)

func NewSQSService(ctx context.Context, cfg SQSConfig, handler MessageHandler, maxConcurrent int, health healthcheck.ConditionSetter) (*SQSService, error) {
	if cfg.QueueURL == "" {
		return nil, errors.New("sqs.queue_url is required")
	}

	awsMgr, err := awsclient.NewManager(ctx, awsclient.WithAssumeRoleSessionName("flagrelay-ingest"))
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS manager: %w", err)
	}

	client, err := awsMgr.GetSQS(ctx,
		awsclient.WithSQSRole(cfg.RoleARN),
		awsclient.WithSQSRegion(cfg.Region),
		awsclient.WithSQSEndpoint(cfg.Endpoint),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create SQS client: %w", err)
	}

	return newSQSService(client.Client, cfg.QueueURL, handler, maxConcurrent, health), nil
}

func newSQSService(client sqsAPI, queueURL string, handler MessageHandler, maxConcurrent int, health healthcheck.ConditionSetter) *SQSService {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &SQSService{
		client:        client,
		queueURL:      queueURL,
		handler:       handler,
		maxConcurrent: int64(maxConcurrent),
		health:        health,
		retryDelay:    5 * time.Second,
	}
}

func (ps *SQSService) GetName() string {
	return string(BackendTypeSQS)
}

func (ps *SQSService) Run(doneCtx context.Context) error {
	slog.Info("Starting SQS listener", slog.String("queue_url", ps.queueURL))
	if ps.health != nil {
		ps.health.SetReadyCondition("ingest_sqs", true)
		defer ps.health.SetReadyCondition("ingest_sqs", false)
	}

	sem := semaphore.NewWeighted(ps.maxConcurrent)
	for {
		if doneCtx.Err() != nil {
			break
		}

		result, err := ps.client.ReceiveMessage(doneCtx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(ps.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
		})
		if err != nil {
			if doneCtx.Err() != nil {
				break
			}
			slog.Error("Failed to receive messages from SQS", slog.Any("error", err))
			select {
			case <-doneCtx.Done():
			case <-time.After(ps.retryDelay):
			}
			continue
		}

		for _, msg := range result.Messages {
			if err := sem.Acquire(doneCtx, 1); err != nil {
				break
			}
			go func(msg types.Message) {
				defer sem.Release(1)
				ps.processMessage(doneCtx, msg)
			}(msg)
		}
	}

	// Drain in-flight handlers before returning.
	_ = sem.Acquire(context.Background(), ps.maxConcurrent)
	slog.Info("SQS listener stopped")
	return nil
}

// processMessage handles and then deletes the message. Notifications are
// not retried, so the delete happens whether or not handling succeeded.
func (ps *SQSService) processMessage(doneCtx context.Context, msg types.Message) {
	messageID := aws.ToString(msg.MessageId)
	if messageID == "" {
		messageID = idgen.NextMessageID()
	}
	source := "sqs"
	ctx := logctx.WithMessage(doneCtx, source, messageID)

	if msg.Body != nil {
		msgCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		_ = ps.handler.HandleMessage(msgCtx, source, []byte(*msg.Body))
		cancel()
	} else {
		logctx.FromContext(ctx).Warn("Received SQS message with nil body")
	}

	// Use a separate context so deletion completes during shutdown.
	deleteCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := ps.client.DeleteMessage(deleteCtx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(ps.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	}); err != nil {
		logctx.FromContext(ctx).Error("Failed to delete SQS message", slog.Any("error", err))
	}
}
