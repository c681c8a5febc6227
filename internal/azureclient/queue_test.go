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

package azureclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueueConfig_ServiceURL(t *testing.T) {
	assert.Equal(t, "https://acct.queue.core.windows.net/",
		queueConfig{StorageAccount: "acct"}.serviceURL())
	assert.Equal(t, "http://127.0.0.1:10001/devstoreaccount1",
		queueConfig{StorageAccount: "acct", Endpoint: "http://127.0.0.1:10001/devstoreaccount1"}.serviceURL())
}
