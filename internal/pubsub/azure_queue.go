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
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"github.com/cardinalhq/flagrelay/internal/azureclient"
	"github.com/cardinalhq/flagrelay/internal/healthcheck"
	"github.com/cardinalhq/flagrelay/internal/idgen"
	"github.com/cardinalhq/flagrelay/internal/logctx"
)

// azureQueueAPI is the part of the queue client the service uses.
type azureQueueAPI interface {
	DequeueMessages(ctx context.Context, o *azqueue.DequeueMessagesOptions) (azqueue.DequeueMessagesResponse, error)
	DeleteMessage(ctx context.Context, messageID string, popReceipt string, o *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error)
}

type AzureQueueService struct {
	queue     azureQueueAPI
	queueName string
	handler   MessageHandler
	health    healthcheck.ConditionSetter
	idleDelay time.Duration
}

var _ Backend = (*AzureQueueService)(nil)

func NewAzureQueueService(ctx context.Context, cfg AzureConfig, handler MessageHandler, health healthcheck.ConditionSetter) (*AzureQueueService, error) {
	if cfg.QueueName == "" {
		return nil, errors.New("azure.queue_name is required")
	}

	azureMgr, err := azureclient.NewManager(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure manager: %w", err)
	}

	queueClient, err := azureMgr.GetQueue(ctx,
		azureclient.WithQueueStorageAccount(cfg.StorageAccount),
		azureclient.WithQueueName(cfg.QueueName),
		azureclient.WithQueueEndpoint(cfg.Endpoint),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure Queue client: %w", err)
	}

	return newAzureQueueService(queueClient.QueueClient, cfg.QueueName, handler, health), nil
}

func newAzureQueueService(queue azureQueueAPI, queueName string, handler MessageHandler, health healthcheck.ConditionSetter) *AzureQueueService {
	return &AzureQueueService{
		queue:     queue,
		queueName: queueName,
		handler:   handler,
		health:    health,
		idleDelay: time.Second,
	}
}

func (ps *AzureQueueService) GetName() string {
	return string(BackendTypeAzure)
}

func (ps *AzureQueueService) Run(doneCtx context.Context) error {
	slog.Info("Starting Azure Queue listener", slog.String("queue", ps.queueName))
	if ps.health != nil {
		ps.health.SetReadyCondition("ingest_azure", true)
		defer ps.health.SetReadyCondition("ingest_azure", false)
	}

	for {
		if doneCtx.Err() != nil {
			slog.Info("Azure Queue listener stopped")
			return nil
		}

		n, err := ps.poll(doneCtx)
		if err != nil {
			slog.Error("Failed to receive messages from Azure Queue", slog.Any("error", err))
			ps.sleep(doneCtx, 5*ps.idleDelay)
			continue
		}
		if n == 0 {
			ps.sleep(doneCtx, ps.idleDelay)
		}
	}
}

func (ps *AzureQueueService) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func (ps *AzureQueueService) poll(doneCtx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(doneCtx, 30*time.Second)
	result, err := ps.queue.DequeueMessages(ctx, &azqueue.DequeueMessagesOptions{
		NumberOfMessages:  to.Ptr(int32(32)),
		VisibilityTimeout: to.Ptr(int32(30)),
	})
	cancel()
	if err != nil {
		return 0, err
	}

	source := "azure:" + ps.queueName
	for _, message := range result.Messages {
		if message == nil {
			continue
		}
		messageID := idgen.NextMessageID()
		if message.MessageID != nil {
			messageID = *message.MessageID
		}
		msgCtx := logctx.WithMessage(doneCtx, source, messageID)

		if message.MessageText != nil {
			_ = ps.handler.HandleMessage(msgCtx, source, decodeIfBase64(*message.MessageText))
		}

		if message.MessageID == nil || message.PopReceipt == nil {
			continue
		}
		delCtx, delCancel := context.WithTimeout(context.Background(), 10*time.Second)
		_, err := ps.queue.DeleteMessage(delCtx, *message.MessageID, *message.PopReceipt, nil)
		delCancel()
		if err != nil {
			logctx.FromContext(msgCtx).Error("Failed to delete Azure Queue message", slog.Any("error", err))
		}
	}
	return len(result.Messages), nil
}

// Queue messages are often base64 encoded by the producing SDK.
func decodeIfBase64(s string) []byte {
	// Quick reject: must be multiple of 4
	if len(s)%4 != 0 {
		return []byte(s)
	}

	for _, c := range s {
		if !(('A' <= c && c <= 'Z') ||
			('a' <= c && c <= 'z') ||
			('0' <= c && c <= '9') ||
			c == '+' || c == '/' || c == '=') {
			return []byte(s)
		}
	}

	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return []byte(s)
	}
	return decoded
}
