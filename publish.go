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
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wacul/ptr"

	"github.com/ichiba-io/ichiba/config"
	"github.com/ichiba-io/ichiba/internal/apierror"
	"github.com/ichiba-io/ichiba/internal/notification"
	"github.com/ichiba-io/ichiba/model"
)

// Marketplace data keys written by the publish saga. Each remote step
// records its result here immediately, so a resumed publish skips steps
// that already completed.
const (
	dataKeySku        = "sku"
	dataKeyInventory  = "inventory_created_at"
	dataKeyCategoryID = "category_id"
	dataKeyOfferID    = "offer_id"
	dataKeyListingID  = "listing_id"
)

// CreateListing creates a DRAFT listing for an approved enrichment task. If
// a listing already exists for the (product, marketplace, credential) tuple
// the existing row's price is refreshed instead of creating a duplicate.
func (i *Ichiba) CreateListing(ctx context.Context, taskID, marketplace string) (*model.Listing, error) {
	ctx, span := tracer.Start(ctx, "Creating marketplace listing")
	defer span.End()

	task, err := i.datasource.GetEnrichmentTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != model.TaskStatusApproved {
		return nil, apierror.NewAPIError(apierror.ErrNotApproved, fmt.Sprintf("Task not approved: %s", task.Status), nil)
	}

	price, err := i.listingPrice(ctx, task)
	if err != nil {
		return nil, err
	}

	cred, err := i.datasource.GetActiveCredential(ctx, marketplace)
	if err != nil {
		return nil, err
	}

	listing, err := i.datasource.CreateListing(ctx, &model.Listing{
		ProductID:    task.ProductID,
		Marketplace:  marketplace,
		CredentialID: cred.CredentialID,
		Status:       model.ListingDraft,
		ListingPrice: price,
		Currency:     "USD",
	})
	if err != nil {
		return nil, err
	}

	// Existing row: refresh the price instead of duplicating.
	if listing.ListingPrice != price {
		listing.ListingPrice = price
		if err := i.datasource.UpdateListingPrice(ctx, listing.ListingID, price); err != nil {
			return nil, err
		}
	}

	return listing, nil
}

func (i *Ichiba) listingPrice(ctx context.Context, task *model.EnrichmentTask) (float64, error) {
	if task.Pricing != nil && task.Pricing.FinalPriceUsd > 0 {
		return task.Pricing.FinalPriceUsd, nil
	}

	cfg, err := config.Fetch()
	if err != nil {
		return 0, err
	}
	product, err := i.datasource.GetProduct(ctx, task.ProductID)
	if err != nil {
		return 0, err
	}
	pricing, err := CalculateEbayPrice(product.Price, i.GetExchangeRate(ctx), cfg.Pricing.BaseProfitRate)
	if err != nil {
		return 0, err
	}
	return pricing.FinalPriceUsd, nil
}

// ProcessImagesForListing runs the image pipeline over the product's source
// images, stores the resulting URLs on the enrichment task, and advances the
// listing to PENDING_PUBLISH.
func (i *Ichiba) ProcessImagesForListing(ctx context.Context, listingID string) error {
	ctx, span := tracer.Start(ctx, "Processing images for listing")
	defer span.End()

	listing, err := i.datasource.GetListing(ctx, listingID)
	if err != nil {
		return err
	}
	product, err := i.datasource.GetProduct(ctx, listing.ProductID)
	if err != nil {
		return err
	}
	task, err := i.datasource.GetEnrichmentTaskByProduct(ctx, listing.ProductID)
	if err != nil {
		return err
	}

	processed, err := i.ProcessImages(ctx, product.ProductID, product.Images)
	if err != nil {
		task.ImageStatus = model.ImageStatusFailed
		_ = i.datasource.UpdateEnrichmentTask(ctx, task)
		return err
	}

	task.BufferedImages = processed.Buffered
	task.OptimizedImages = processed.Optimized
	task.ImageStatus = model.ImageStatusCompleted
	if err := i.datasource.UpdateEnrichmentTask(ctx, task); err != nil {
		return err
	}
	if err := i.datasource.UpdateProcessedImages(ctx, product.ProductID, processed.Optimized); err != nil {
		return err
	}

	if err := listing.TransitionTo(model.ListingPendingPublish); err != nil {
		return err
	}
	return i.datasource.UpdateListing(ctx, listing)
}

// Publish runs the marketplace submission saga for a listing: inventory
// record, category resolution, offer creation, then offer publish. Progress
// is persisted after every remote step, so re-invoking Publish on a listing
// in ERROR resumes where it stopped rather than repeating completed calls.
// A step failure records the error, parks the listing in ERROR and stops.
func (i *Ichiba) Publish(ctx context.Context, listingID string) error {
	ctx, span := tracer.Start(ctx, "Publishing listing")
	defer span.End()

	listing, err := i.datasource.GetListing(ctx, listingID)
	if err != nil {
		return err
	}
	task, err := i.datasource.GetEnrichmentTaskByProduct(ctx, listing.ProductID)
	if err != nil {
		return err
	}
	if task.Status != model.TaskStatusApproved {
		return apierror.NewAPIError(apierror.ErrNotApproved, fmt.Sprintf("Task not approved: %s", task.Status), nil)
	}
	product, err := i.datasource.GetProduct(ctx, listing.ProductID)
	if err != nil {
		return err
	}

	if err := listing.TransitionTo(model.ListingPublishing); err != nil {
		return err
	}
	if err := i.datasource.UpdateListing(ctx, listing); err != nil {
		return err
	}

	if err := i.runPublishSteps(ctx, listing, task, product); err != nil {
		listing.ErrorMessage = err.Error()
		if terr := listing.TransitionTo(model.ListingError); terr == nil {
			_ = i.datasource.UpdateListing(ctx, listing)
		}
		notification.NotifyError(err)
		i.emitStatusEvent(ctx, "listing.error", map[string]interface{}{
			"listing_id": listing.ListingID,
			"error":      err.Error(),
		})
		return err
	}

	listing.ListedAt = ptr.Time(time.Now())
	listing.ErrorMessage = ""
	if err := listing.TransitionTo(model.ListingActive); err != nil {
		return err
	}
	if err := i.datasource.UpdateListing(ctx, listing); err != nil {
		return err
	}

	if err := i.datasource.UpdateEnrichmentTaskStatus(ctx, task.TaskID, model.TaskStatusPublished); err != nil {
		logrus.Warnf("listing %s active but task status update failed: %v", listing.ListingID, err)
	}
	if err := i.datasource.RecordPriceChange(ctx, &model.PriceHistory{
		ListingID: listing.ListingID,
		Price:     listing.ListingPrice,
		Source:    "publish",
	}); err != nil {
		logrus.Warnf("failed to record price history for %s: %v", listing.ListingID, err)
	}

	title := product.TitleEn
	if t, ok := task.Translations["en"]; ok && t.Title != "" {
		title = t.Title
	}
	notification.SlackPublishAlert(listing.Marketplace, title, listingURL(listing))
	i.emitStatusEvent(ctx, "listing.active", map[string]interface{}{
		"listing_id":             listing.ListingID,
		"marketplace_listing_id": listing.MarketplaceListingID,
	})

	return nil
}

func listingURL(listing *model.Listing) string {
	if listing.Marketplace == model.MarketplaceEbay && listing.MarketplaceListingID != "" {
		return "https://www.ebay.com/itm/" + listing.MarketplaceListingID
	}
	return listing.MarketplaceListingID
}

func (i *Ichiba) runPublishSteps(ctx context.Context, listing *model.Listing, task *model.EnrichmentTask, product *model.Product) error {
	sku := listing.DataString(dataKeySku)
	if sku == "" {
		sku = MarketplaceSku(listing.Marketplace, product.ProductID)
		listing.MergeMarketplaceData(map[string]interface{}{dataKeySku: sku})
		if err := i.datasource.UpdateListing(ctx, listing); err != nil {
			return err
		}
	}

	title, description := listingContent(task, product)

	// Step 1: inventory record.
	if listing.DataString(dataKeyInventory) == "" {
		item := &EbayInventoryItem{}
		item.Product.Title = title
		item.Product.Description = description
		item.Product.ImageUrls = i.externalImageURLs(task.OptimizedImages)
		item.Condition = EbayCondition(productCondition(task, product))
		item.Availability.ShipToLocationAvailability.Quantity = 1
		if task.Attributes != nil && len(task.Attributes.ItemSpecifics) > 0 {
			item.Product.Aspects = make(map[string][]string, len(task.Attributes.ItemSpecifics))
			for k, v := range task.Attributes.ItemSpecifics {
				item.Product.Aspects[k] = []string{v}
			}
		}

		if err := i.ebay.CreateOrUpdateInventoryItem(ctx, sku, item); err != nil {
			return err
		}
		listing.MergeMarketplaceData(map[string]interface{}{dataKeyInventory: time.Now().Format(time.RFC3339)})
		if err := i.datasource.UpdateListing(ctx, listing); err != nil {
			return err
		}
	}

	// Step 2: category resolution.
	categoryID := listing.DataString(dataKeyCategoryID)
	if categoryID == "" {
		sourceCategory := product.Category
		if task.Attributes != nil && task.Attributes.Category != "" {
			sourceCategory = task.Attributes.Category
		}
		var err error
		categoryID, err = i.ebay.SuggestCategory(ctx, sourceCategory, title)
		if err != nil {
			return err
		}
		listing.MergeMarketplaceData(map[string]interface{}{dataKeyCategoryID: categoryID})
		if err := i.datasource.UpdateListing(ctx, listing); err != nil {
			return err
		}
	}

	// Step 3: offer.
	offerID := listing.DataString(dataKeyOfferID)
	if offerID == "" {
		offer := i.ebay.NewEbayOffer(sku, categoryID, description, listing.ListingPrice)
		var err error
		offerID, err = i.ebay.CreateOffer(ctx, offer)
		if err != nil {
			return err
		}
		listing.MergeMarketplaceData(map[string]interface{}{dataKeyOfferID: offerID})
		if err := i.datasource.UpdateListing(ctx, listing); err != nil {
			return err
		}
	}

	// Step 4: publish.
	remoteID, err := i.ebay.PublishOffer(ctx, offerID)
	if err != nil {
		return err
	}
	listing.MarketplaceListingID = remoteID
	listing.MergeMarketplaceData(map[string]interface{}{dataKeyListingID: remoteID})
	return i.datasource.UpdateListing(ctx, listing)
}

func listingContent(task *model.EnrichmentTask, product *model.Product) (string, string) {
	title, description := product.TitleEn, product.DescriptionEn
	if t, ok := task.Translations["en"]; ok {
		if t.Title != "" {
			title = t.Title
		}
		if t.Description != "" {
			description = t.Description
		}
	}
	if title == "" {
		title = product.Title
	}
	if description == "" {
		description = product.Description
	}
	return title, description
}

func productCondition(task *model.EnrichmentTask, product *model.Product) string {
	if task.Attributes != nil && task.Attributes.Condition != "" {
		return task.Attributes.Condition
	}
	return product.Condition
}

// externalImageURLs rewrites internal storage URLs to externally reachable
// ones before they are handed to the marketplace.
func (i *Ichiba) externalImageURLs(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		rewritten, err := i.storage.RewriteInternalURL(u)
		if err != nil {
			logrus.Warnf("failed to rewrite internal URL %s: %v", u, err)
			continue
		}
		out = append(out, rewritten)
	}
	return out
}

// EndListing withdraws the live offer and marks the listing ENDED.
func (i *Ichiba) EndListing(ctx context.Context, listingID string) error {
	ctx, span := tracer.Start(ctx, "Ending listing")
	defer span.End()

	listing, err := i.datasource.GetListing(ctx, listingID)
	if err != nil {
		return err
	}

	offerID := listing.DataString(dataKeyOfferID)
	if offerID != "" && listing.Status == model.ListingActive {
		if err := i.ebay.WithdrawOffer(ctx, offerID); err != nil {
			return err
		}
	}

	if err := listing.TransitionTo(model.ListingEnded); err != nil {
		return err
	}
	if err := i.datasource.UpdateListing(ctx, listing); err != nil {
		return err
	}

	i.emitStatusEvent(ctx, "listing.ended", map[string]interface{}{"listing_id": listing.ListingID})
	return nil
}

// SyncListingStatus refreshes a listing's local status from the
// marketplace's view of its offer. An offer that ended remotely (sold out
// elsewhere, policy takedown) moves the listing to ENDED; a published offer
// confirms ACTIVE. Moves the transition table forbids are skipped, not
// forced.
func (i *Ichiba) SyncListingStatus(ctx context.Context, listingID string) error {
	ctx, span := tracer.Start(ctx, "Syncing listing status")
	defer span.End()

	listing, err := i.datasource.GetListing(ctx, listingID)
	if err != nil {
		return err
	}
	offerID := listing.DataString(dataKeyOfferID)
	if offerID == "" {
		return nil
	}

	status, err := i.ebay.GetOffer(ctx, offerID)
	if err != nil {
		return err
	}

	var target model.ListingStatus
	switch {
	case strings.EqualFold(status.Listing.ListingStatus, "ENDED") || strings.EqualFold(status.Status, "ENDED"):
		target = model.ListingEnded
	case strings.EqualFold(status.Status, "PUBLISHED"):
		target = model.ListingActive
	default:
		return nil
	}
	if target == listing.Status {
		return nil
	}
	if err := listing.TransitionTo(target); err != nil {
		logrus.Warnf("status sync for %s skipped %s -> %s: %v", listing.ListingID, listing.Status, target, err)
		return nil
	}
	return i.datasource.UpdateListing(ctx, listing)
}

// SyncPrices recomputes prices for active listings from the current
// exchange rate and pushes changed ones to the marketplace. Returns the
// number of listings repriced.
func (i *Ichiba) SyncPrices(ctx context.Context, marketplace string, limit int) (int, error) {
	ctx, span := tracer.Start(ctx, "Syncing listing prices")
	defer span.End()

	cfg, err := config.Fetch()
	if err != nil {
		return 0, err
	}

	listings, err := i.datasource.GetActiveListings(ctx, marketplace, limit, 0)
	if err != nil {
		return 0, err
	}

	rate := i.GetExchangeRate(ctx)
	updated := 0
	for _, listing := range listings {
		product, err := i.datasource.GetProduct(ctx, listing.ProductID)
		if err != nil {
			logrus.Warnf("price sync skipping %s: %v", listing.ListingID, err)
			continue
		}

		pricing, err := CalculateEbayPrice(product.Price, rate, cfg.Pricing.BaseProfitRate)
		if err != nil {
			logrus.Warnf("price sync skipping %s: %v", listing.ListingID, err)
			continue
		}
		if pricing.FinalPriceUsd == listing.ListingPrice {
			continue
		}

		offerID := listing.DataString(dataKeyOfferID)
		if offerID == "" {
			continue
		}
		categoryID := listing.DataString(dataKeyCategoryID)
		sku := listing.DataString(dataKeySku)
		_, description := listingContentFromListing(ctx, i, listing, product)
		offer := i.ebay.NewEbayOffer(sku, categoryID, description, pricing.FinalPriceUsd)
		if err := i.ebay.UpdateOffer(ctx, offerID, offer); err != nil {
			logrus.Warnf("price sync failed to update offer for %s: %v", listing.ListingID, err)
			continue
		}

		if err := i.datasource.UpdateListingPrice(ctx, listing.ListingID, pricing.FinalPriceUsd); err != nil {
			return updated, err
		}
		if err := i.datasource.RecordPriceChange(ctx, &model.PriceHistory{
			ListingID: listing.ListingID,
			Price:     pricing.FinalPriceUsd,
			Source:    "price-sync",
			MetaData:  map[string]interface{}{"exchange_rate": rate, "previous_price": listing.ListingPrice},
		}); err != nil {
			logrus.Warnf("failed to record price history for %s: %v", listing.ListingID, err)
		}
		updated++
	}

	return updated, nil
}

func listingContentFromListing(ctx context.Context, i *Ichiba, listing *model.Listing, product *model.Product) (string, string) {
	task, err := i.datasource.GetEnrichmentTaskByProduct(ctx, listing.ProductID)
	if err != nil {
		return product.TitleEn, product.DescriptionEn
	}
	return listingContent(task, product)
}
