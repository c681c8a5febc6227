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

// Package azureclient builds Azure Storage queue clients from the default
// credential chain.
package azureclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type clientKey struct {
	StorageAccount string
	QueueName      string
}

type Manager struct {
	baseCred *azidentity.DefaultAzureCredential

	sync.RWMutex
	clients map[clientKey]*QueueClient
	tracer  trace.Tracer
}

// NewManager initializes Azure credential management.
func NewManager(ctx context.Context) (*Manager, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("loading Azure credentials: %w", err)
	}

	return &Manager{
		baseCred: cred,
		clients:  make(map[clientKey]*QueueClient),
		tracer:   otel.Tracer("github.com/cardinalhq/flagrelay/internal/azureclient"),
	}, nil
}
