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

package database

import (
	"context"
	"time"

	"github.com/ichiba-io/ichiba/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	product    // Interface for product-related operations
	enrichment // Interface for enrichment task operations
	listing    // Interface for listing-related operations
	order      // Interface for order and sale operations
	credential // Interface for marketplace credential operations
	rates      // Interface for exchange rate operations
}

// product defines methods for handling products.
type product interface {
	CreateProduct(ctx context.Context, prd *model.Product) (*model.Product, error)     // Creates a new product
	GetProduct(ctx context.Context, id string) (*model.Product, error)                 // Retrieves a product by ID
	GetAllProducts(ctx context.Context, limit, offset int) ([]*model.Product, error)   // Retrieves all products
	UpdateProductStatus(ctx context.Context, id string, status string) error           // Updates the status of a product
	UpdateProductStock(ctx context.Context, id string, stock int) error                // Updates product stock
	UpdateProcessedImages(ctx context.Context, id string, urls []string) error         // Stores processed image URLs
	RecordInventoryEvent(ctx context.Context, event *model.InventoryEvent) error       // Records a stock change
	GetInventoryEvents(ctx context.Context, productID string) ([]*model.InventoryEvent, error) // Retrieves stock history for a product
}

// enrichment defines methods for handling enrichment tasks.
type enrichment interface {
	CreateEnrichmentTask(ctx context.Context, task *model.EnrichmentTask) (*model.EnrichmentTask, error) // Creates a new enrichment task
	GetEnrichmentTask(ctx context.Context, id string) (*model.EnrichmentTask, error)                     // Retrieves a task by ID
	GetEnrichmentTaskByProduct(ctx context.Context, productID string) (*model.EnrichmentTask, error)     // Retrieves the task for a product
	GetPendingEnrichmentTasks(ctx context.Context, limit int) ([]*model.EnrichmentTask, error)           // Retrieves pending tasks by priority
	UpdateEnrichmentTask(ctx context.Context, task *model.EnrichmentTask) error                          // Persists enrichment results on a task
	UpdateEnrichmentTaskStatus(ctx context.Context, id string, status string) error                      // Updates the status of a task
	RecordTaskFailure(ctx context.Context, id string, errMsg string) error                               // Increments the error count and stores the last error
	RecordEnrichmentStep(ctx context.Context, step *model.EnrichmentStep) error                          // Records a stage of a task execution
	CompleteEnrichmentStep(ctx context.Context, stepID string, status string, output []byte, errMsg string) error // Finalizes a recorded step
	GetEnrichmentSteps(ctx context.Context, taskID string) ([]*model.EnrichmentStep, error)              // Retrieves steps for a task
	GetProhibitedKeywords(ctx context.Context) ([]*model.ProhibitedKeyword, error)                       // Retrieves active moderation keywords
}

// listing defines methods for handling marketplace listings.
type listing interface {
	CreateListing(ctx context.Context, lst *model.Listing) (*model.Listing, error)                  // Creates or reuses a listing for (product, marketplace, credential)
	GetListing(ctx context.Context, id string) (*model.Listing, error)                              // Retrieves a listing by ID
	GetListingsByProduct(ctx context.Context, productID string) ([]*model.Listing, error)           // Retrieves all listings for a product
	GetListingByMarketplaceID(ctx context.Context, marketplace, remoteID string) (*model.Listing, error) // Retrieves a listing by its remote listing ID
	GetActiveListings(ctx context.Context, marketplace string, limit, offset int) ([]*model.Listing, error) // Retrieves live listings on a marketplace
	UpdateListing(ctx context.Context, lst *model.Listing) error                                    // Persists listing state, snapshot and error message
	UpdateListingPrice(ctx context.Context, id string, price float64) error                         // Updates the listing price
	RecordPriceChange(ctx context.Context, entry *model.PriceHistory) error                         // Appends a price history entry
}

// order defines methods for handling orders and sales.
type order interface {
	UpsertOrder(ctx context.Context, ord *model.Order) (*model.Order, bool, error)       // Upserts by (marketplace, marketplace order id); reports whether the row is new
	GetOrder(ctx context.Context, id string) (*model.Order, error)                       // Retrieves an order by ID
	GetUnfulfilledOrders(ctx context.Context, marketplace string) ([]*model.Order, error) // Retrieves orders awaiting shipment
	MarkOrderShipped(ctx context.Context, id string, trackingNumber, carrier string, shippedAt time.Time) error // Records shipment on an order
	RecordSale(ctx context.Context, sale *model.Sale) (bool, error)                      // Inserts a sale; reports false when the (order, line item) pair already exists
	GetSalesByOrder(ctx context.Context, orderID string) ([]*model.Sale, error)          // Retrieves sales recorded for an order
}

// credential defines methods for handling marketplace credentials.
type credential interface {
	GetActiveCredential(ctx context.Context, marketplace string) (*model.MarketplaceCredential, error) // Retrieves the active credential for a marketplace
	GetCredential(ctx context.Context, id string) (*model.MarketplaceCredential, error)                // Retrieves a credential by ID
	UpdateCredentialTokens(ctx context.Context, id string, accessToken, refreshToken string, expiresAt time.Time) error // Stores refreshed tokens
}

// rates defines methods for handling exchange rates.
type rates interface {
	GetLatestRate(ctx context.Context, from, to string) (*model.ExchangeRate, error) // Retrieves the most recent rate for a currency pair
	RecordRate(ctx context.Context, rate *model.ExchangeRate) error                  // Stores a fetched rate
}
