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
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/texttheater/golang-levenshtein/levenshtein"
	"golang.org/x/time/rate"

	"github.com/ichiba-io/ichiba/config"
	"github.com/ichiba-io/ichiba/database"
	"github.com/ichiba-io/ichiba/internal/apierror"
	"github.com/ichiba-io/ichiba/internal/cache"
	"github.com/ichiba-io/ichiba/internal/request"
	"github.com/ichiba-io/ichiba/model"
)

const credentialCacheTTL = 5 * time.Minute

// EbayClient talks to the eBay Sell APIs. All calls go through a shared
// token bucket so concurrent workers stay inside the account rate limit,
// and transient failures (429, 5xx) are retried with exponential backoff.
type EbayClient struct {
	datasource database.IDataSource
	conf       *config.Configuration
	limiter    *rate.Limiter

	mu         sync.Mutex
	cache      cache.Cache
	credential *model.MarketplaceCredential
	fetchedAt  time.Time
}

// NewEbayClient builds a client. The credential is resolved lazily on first
// use and memoized; the cache connection is also established lazily so a
// missing Redis never blocks construction.
func NewEbayClient(db database.IDataSource, conf *config.Configuration) *EbayClient {
	return &EbayClient{
		datasource: db,
		conf:       conf,
		limiter:    rate.NewLimiter(rate.Limit(conf.Ebay.RequestsPerSecond), conf.Ebay.Burst),
	}
}

// getCredential resolves the active eBay credential, preferring the local
// memo, then the shared cache, then the database. A cache failure falls
// through to the database.
func (c *EbayClient) getCredential(ctx context.Context) (*model.MarketplaceCredential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.credential != nil && time.Since(c.fetchedAt) < credentialCacheTTL {
		return c.credential, nil
	}

	if c.cache == nil {
		if ca, err := cache.NewCache(); err == nil {
			c.cache = ca
		}
	}

	cacheKey := "credentials:" + model.MarketplaceEbay
	if c.cache != nil {
		var cached model.MarketplaceCredential
		if err := c.cache.Get(ctx, cacheKey, &cached); err == nil && cached.CredentialID != "" {
			c.credential = &cached
			c.fetchedAt = time.Now()
			return c.credential, nil
		}
	}

	cred, err := c.datasource.GetActiveCredential(ctx, model.MarketplaceEbay)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, cacheKey, cred, credentialCacheTTL); err != nil {
			logrus.Warnf("failed to cache ebay credential: %v", err)
		}
	}

	c.credential = cred
	c.fetchedAt = time.Now()
	return cred, nil
}

// InvalidateCredential drops the memoized credential, forcing a re-fetch on
// the next call. Used after a token refresh.
func (c *EbayClient) InvalidateCredential(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.credential = nil
	if c.cache != nil {
		_ = c.cache.Delete(ctx, "credentials:"+model.MarketplaceEbay)
	}
}

// doJSON performs one rate-limited, retried JSON API call. The response is
// decoded into out when out is non-nil.
func (c *EbayClient) doJSON(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	cred, err := c.getCredential(ctx)
	if err != nil {
		return err
	}

	call := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		var req *http.Request
		if body != nil {
			payload, err := request.ToJsonReq(body)
			if err != nil {
				return backoff.Permanent(err)
			}
			req, err = http.NewRequestWithContext(ctx, method, cred.ApiBaseUrl+path, payload)
			if err != nil {
				return backoff.Permanent(err)
			}
		} else {
			var err error
			req, err = http.NewRequestWithContext(ctx, method, cred.ApiBaseUrl+path, nil)
			if err != nil {
				return backoff.Permanent(err)
			}
		}
		req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
		req.Header.Set("Content-Language", "en-US")
		req.Header.Set("X-EBAY-C-MARKETPLACE-ID", c.conf.Ebay.MarketplaceId)

		resp, raw, err := request.CallRaw(req)
		if err != nil {
			return err
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return apierror.NewAPIError(apierror.ErrRateLimited, fmt.Sprintf("eBay returned %d for %s", resp.StatusCode, path), string(raw))
		case resp.StatusCode >= 400:
			return backoff.Permanent(apierror.NewAPIError(apierror.ErrUpstream, fmt.Sprintf("eBay rejected %s %s: %d", method, path, resp.StatusCode), string(raw)))
		}

		if out != nil && len(raw) > 0 {
			if err := json.Unmarshal(raw, out); err != nil {
				return backoff.Permanent(err)
			}
		}
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
	return backoff.Retry(call, bo)
}

// EbayInventoryItem is the inventory record created for a SKU before an
// offer can reference it.
type EbayInventoryItem struct {
	Product struct {
		Title       string              `json:"title"`
		Description string              `json:"description"`
		ImageUrls   []string            `json:"imageUrls"`
		Aspects     map[string][]string `json:"aspects,omitempty"`
	} `json:"product"`
	Condition    string `json:"condition"`
	Availability struct {
		ShipToLocationAvailability struct {
			Quantity int `json:"quantity"`
		} `json:"shipToLocationAvailability"`
	} `json:"availability"`
}

// CreateOrUpdateInventoryItem upserts the inventory record for a SKU.
func (c *EbayClient) CreateOrUpdateInventoryItem(ctx context.Context, sku string, item *EbayInventoryItem) error {
	return c.doJSON(ctx, http.MethodPut, "/sell/inventory/v1/inventory_item/"+url.PathEscape(sku), item, nil)
}

// conditionMap translates provider condition vocabulary into eBay condition
// enums.
var conditionMap = map[string]string{
	"new":      "NEW",
	"like_new": "LIKE_NEW",
	"good":     "USED_EXCELLENT",
	"fair":     "USED_GOOD",
	"poor":     "USED_ACCEPTABLE",
}

// EbayCondition maps an internal condition string to the eBay enum,
// defaulting to USED_GOOD.
func EbayCondition(condition string) string {
	if mapped, ok := conditionMap[strings.ToLower(condition)]; ok {
		return mapped
	}
	return "USED_GOOD"
}

type categorySuggestionResponse struct {
	CategorySuggestions []struct {
		Category struct {
			CategoryId   string `json:"categoryId"`
			CategoryName string `json:"categoryName"`
		} `json:"category"`
	} `json:"categorySuggestions"`
}

// SuggestCategory resolves a marketplace category ID for a product. The
// taxonomy API returns ranked suggestions; among them the one whose name is
// closest to our source category by edit distance wins, so a literal
// category match beats the API's first guess.
func (c *EbayClient) SuggestCategory(ctx context.Context, sourceCategory, title string) (string, error) {
	query := sourceCategory
	if query == "" {
		query = title
	}

	var resp categorySuggestionResponse
	path := "/commerce/taxonomy/v1/category_tree/0/get_category_suggestions?q=" + url.QueryEscape(query)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return "", err
	}
	if len(resp.CategorySuggestions) == 0 {
		return "", apierror.NewAPIError(apierror.ErrNotFound, "No category suggestions for "+query, nil)
	}

	best := resp.CategorySuggestions[0].Category.CategoryId
	if sourceCategory != "" {
		bestDistance := -1
		for _, suggestion := range resp.CategorySuggestions {
			distance := levenshtein.DistanceForStrings([]rune(strings.ToLower(sourceCategory)), []rune(strings.ToLower(suggestion.Category.CategoryName)), levenshtein.DefaultOptions)
			if bestDistance < 0 || distance < bestDistance {
				bestDistance = distance
				best = suggestion.Category.CategoryId
			}
		}
	}

	return best, nil
}

// EbayOffer is the offer payload referencing the seller's policies.
type EbayOffer struct {
	Sku                string `json:"sku"`
	MarketplaceId      string `json:"marketplaceId"`
	Format             string `json:"format"`
	AvailableQuantity  int    `json:"availableQuantity"`
	CategoryId         string `json:"categoryId"`
	ListingDescription string `json:"listingDescription"`
	ListingPolicies    struct {
		FulfillmentPolicyId string `json:"fulfillmentPolicyId"`
		PaymentPolicyId     string `json:"paymentPolicyId"`
		ReturnPolicyId      string `json:"returnPolicyId"`
	} `json:"listingPolicies"`
	PricingSummary struct {
		Price struct {
			Value    string `json:"value"`
			Currency string `json:"currency"`
		} `json:"price"`
	} `json:"pricingSummary"`
}

// NewEbayOffer builds an offer for a SKU with policies from configuration.
func (c *EbayClient) NewEbayOffer(sku, categoryID, description string, priceUsd float64) *EbayOffer {
	offer := &EbayOffer{
		Sku:                sku,
		MarketplaceId:      c.conf.Ebay.MarketplaceId,
		Format:             "FIXED_PRICE",
		AvailableQuantity:  1,
		CategoryId:         categoryID,
		ListingDescription: description,
	}
	offer.ListingPolicies.FulfillmentPolicyId = c.conf.Ebay.FulfillmentPolicyId
	offer.ListingPolicies.PaymentPolicyId = c.conf.Ebay.PaymentPolicyId
	offer.ListingPolicies.ReturnPolicyId = c.conf.Ebay.ReturnPolicyId
	offer.PricingSummary.Price.Value = fmt.Sprintf("%.2f", priceUsd)
	offer.PricingSummary.Price.Currency = "USD"
	return offer
}

// CreateOffer creates an offer and returns its ID.
func (c *EbayClient) CreateOffer(ctx context.Context, offer *EbayOffer) (string, error) {
	var resp struct {
		OfferId string `json:"offerId"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/sell/inventory/v1/offer", offer, &resp); err != nil {
		return "", err
	}
	return resp.OfferId, nil
}

// UpdateOffer replaces an existing offer.
func (c *EbayClient) UpdateOffer(ctx context.Context, offerID string, offer *EbayOffer) error {
	return c.doJSON(ctx, http.MethodPut, "/sell/inventory/v1/offer/"+url.PathEscape(offerID), offer, nil)
}

// EbayOfferStatus is the marketplace's view of an offer's lifecycle.
type EbayOfferStatus struct {
	OfferId string `json:"offerId"`
	Status  string `json:"status"`
	Listing struct {
		ListingId     string `json:"listingId"`
		ListingStatus string `json:"listingStatus"`
	} `json:"listing"`
}

// GetOffer retrieves an offer's current status.
func (c *EbayClient) GetOffer(ctx context.Context, offerID string) (*EbayOfferStatus, error) {
	var resp EbayOfferStatus
	if err := c.doJSON(ctx, http.MethodGet, "/sell/inventory/v1/offer/"+url.PathEscape(offerID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PublishOffer publishes an offer and returns the public listing ID.
func (c *EbayClient) PublishOffer(ctx context.Context, offerID string) (string, error) {
	var resp struct {
		ListingId string `json:"listingId"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/sell/inventory/v1/offer/"+url.PathEscape(offerID)+"/publish", nil, &resp); err != nil {
		return "", err
	}
	return resp.ListingId, nil
}

// WithdrawOffer ends the live listing behind an offer.
func (c *EbayClient) WithdrawOffer(ctx context.Context, offerID string) error {
	return c.doJSON(ctx, http.MethodPost, "/sell/inventory/v1/offer/"+url.PathEscape(offerID)+"/withdraw", nil, nil)
}

// EbayOrder is the subset of the Fulfillment API order we consume.
type EbayOrder struct {
	OrderId      string `json:"orderId"`
	CreationDate string `json:"creationDate"`
	Buyer        struct {
		Username string `json:"username"`
	} `json:"buyer"`
	OrderPaymentStatus string `json:"orderPaymentStatus"`
	PricingSummary     struct {
		Total struct {
			Value    string `json:"value"`
			Currency string `json:"currency"`
		} `json:"total"`
	} `json:"pricingSummary"`
	LineItems []struct {
		LineItemId   string `json:"lineItemId"`
		Sku          string `json:"sku"`
		Title        string `json:"title"`
		Quantity     int    `json:"quantity"`
		LineItemCost struct {
			Value string `json:"value"`
		} `json:"lineItemCost"`
		LegacyItemId string `json:"legacyItemId"`
	} `json:"lineItems"`
	FulfillmentStartInstructions []struct {
		ShippingStep struct {
			ShipTo struct {
				FullName       string `json:"fullName"`
				ContactAddress map[string]interface{} `json:"contactAddress"`
			} `json:"shipTo"`
		} `json:"shippingStep"`
	} `json:"fulfillmentStartInstructions"`
}

// GetOrders fetches orders created since the given time, up to limit.
func (c *EbayClient) GetOrders(ctx context.Context, since time.Time, limit int) ([]EbayOrder, error) {
	var resp struct {
		Orders []EbayOrder `json:"orders"`
	}
	filter := url.QueryEscape(fmt.Sprintf("creationdate:[%s..]", since.UTC().Format(time.RFC3339)))
	path := fmt.Sprintf("/sell/fulfillment/v1/order?filter=%s&limit=%d", filter, limit)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Orders, nil
}

// CreateShippingFulfillment confirms shipment for an order's line items.
func (c *EbayClient) CreateShippingFulfillment(ctx context.Context, marketplaceOrderID string, lineItemIDs []string, trackingNumber, carrier string) error {
	type lineItem struct {
		LineItemId string `json:"lineItemId"`
	}
	payload := struct {
		LineItems           []lineItem `json:"lineItems"`
		ShippedDate         string     `json:"shippedDate"`
		ShippingCarrierCode string     `json:"shippingCarrierCode"`
		TrackingNumber      string     `json:"trackingNumber"`
	}{
		ShippedDate:         time.Now().UTC().Format(time.RFC3339),
		ShippingCarrierCode: carrier,
		TrackingNumber:      trackingNumber,
	}
	for _, id := range lineItemIDs {
		payload.LineItems = append(payload.LineItems, lineItem{LineItemId: id})
	}

	return c.doJSON(ctx, http.MethodPost, "/sell/fulfillment/v1/order/"+url.PathEscape(marketplaceOrderID)+"/shipping_fulfillment", payload, nil)
}
