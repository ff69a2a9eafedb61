/*
Copyright 2024 Ichiba Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package ichiba

import (
	"embed"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/ichiba-io/ichiba/config"
	"github.com/ichiba-io/ichiba/database"
	redis_db "github.com/ichiba-io/ichiba/internal/redis-db"
)

var tracer = otel.Tracer("ichiba.pipeline")

// SKU prefix embedded in every marketplace SKU. The format is
// ICHIBA-{MARKETPLACE}-{productID}; order sync parses the product ID back
// out of it.
const SkuPrefix = "ICHIBA"

//go:embed sql/*.sql
var SQLFiles embed.FS

// Ichiba represents the main struct for the listing pipeline. It owns the
// job queue, storage, marketplace clients and the shared datasource.
type Ichiba struct {
	queue      *Queue
	redis      redis.UniversalClient
	datasource database.IDataSource
	storage    *StorageClient
	enricher   EnrichmentProvider
	ebay       *EbayClient
}

// NewIchiba initializes a new instance of Ichiba with the provided database
// datasource. It fetches the configuration and wires up the Redis client,
// queue, storage and marketplace clients.
func NewIchiba(db database.IDataSource) (*Ichiba, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)}, configuration.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}
	newQueue := NewQueue(configuration)
	storage, err := NewStorageClient(configuration)
	if err != nil {
		return nil, err
	}

	newIchiba := &Ichiba{
		datasource: db,
		queue:      newQueue,
		redis:      redisClient.Client(),
		storage:    storage,
		enricher:   NewHTTPEnrichmentProvider(configuration),
		ebay:       NewEbayClient(db, configuration),
	}
	return newIchiba, nil
}

// MarketplaceSku builds the SKU for a product on a marketplace.
func MarketplaceSku(marketplace, productID string) string {
	return fmt.Sprintf("%s-%s-%s", SkuPrefix, marketplace, productID)
}

// Queue exposes the job queue, used by the worker command for enqueueing
// scheduled work.
func (i *Ichiba) Queue() *Queue {
	return i.queue
}
