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
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ichiba-io/ichiba/internal/apierror"
	"github.com/ichiba-io/ichiba/internal/notification"
	"github.com/ichiba-io/ichiba/model"
)

// Trailing window and page size for an order sync pass.
const (
	orderSyncWindow = 24 * time.Hour
	orderSyncLimit  = 50
)

// SyncResult reports the outcome of one order sync pass.
type SyncResult struct {
	Synced int `json:"synced"`
	Errors int `json:"errors"`
}

// ParseSku extracts the product ID from a marketplace SKU of the form
// ICHIBA-{MARKETPLACE}-{productID}. Product IDs contain underscores, not
// hyphens, so the split is unambiguous.
func ParseSku(sku string) (string, error) {
	parts := strings.SplitN(sku, "-", 3)
	if len(parts) != 3 || parts[0] != SkuPrefix || parts[2] == "" {
		return "", fmt.Errorf("malformed sku: %s", sku)
	}
	return parts[2], nil
}

// SyncOrders fetches recent marketplace orders and reconciles them into
// local records. Sales, inventory events and product status changes happen
// only for orders seen for the first time, so a repeated pass over the same
// remote set is a no-op. One bad line item counts as an error without
// aborting the batch; a SKU that does not parse is not an error, the sale
// is kept without a product link.
func (i *Ichiba) SyncOrders(ctx context.Context) (*SyncResult, error) {
	ctx, span := tracer.Start(ctx, "Syncing marketplace orders")
	defer span.End()

	remoteOrders, err := i.ebay.GetOrders(ctx, time.Now().Add(-orderSyncWindow), orderSyncLimit)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{}
	for _, remote := range remoteOrders {
		if err := i.syncOrder(ctx, remote, result); err != nil {
			result.Errors++
			logrus.Errorf("order sync failed for %s: %v", remote.OrderId, err)
		}
	}

	logrus.WithFields(logrus.Fields{"synced": result.Synced, "errors": result.Errors}).Info("order sync pass complete")
	return result, nil
}

func (i *Ichiba) syncOrder(ctx context.Context, remote EbayOrder, result *SyncResult) error {
	rawData, err := json.Marshal(remote)
	if err != nil {
		return err
	}

	total, _ := strconv.ParseFloat(remote.PricingSummary.Total.Value, 64)
	orderedAt, err := time.Parse(time.RFC3339, remote.CreationDate)
	if err != nil {
		orderedAt = time.Now()
	}

	ord := &model.Order{
		Marketplace:        model.MarketplaceEbay,
		MarketplaceOrderID: remote.OrderId,
		BuyerUsername:      remote.Buyer.Username,
		Total:              total,
		Currency:           remote.PricingSummary.Total.Currency,
		Status:             model.OrderStatusConfirmed,
		PaymentStatus:      paymentStatus(remote.OrderPaymentStatus),
		FulfillmentStatus:  model.FulfillmentUnfulfilled,
		RawData:            rawData,
		OrderedAt:          orderedAt,
	}
	if len(remote.FulfillmentStartInstructions) > 0 {
		ship := remote.FulfillmentStartInstructions[0].ShippingStep.ShipTo
		ord.BuyerName = ship.FullName
		ord.ShippingAddress = ship.ContactAddress
	}

	ord, isNew, err := i.datasource.UpsertOrder(ctx, ord)
	if err != nil {
		return errors.Wrap(err, "upsert order")
	}
	if !isNew {
		return nil
	}

	for _, item := range remote.LineItems {
		if err := i.recordLineItem(ctx, ord, remote, item.LineItemId, item.Sku, item.Title, item.Quantity, item.LineItemCost.Value, item.LegacyItemId); err != nil {
			result.Errors++
			logrus.Warnf("line item %s of order %s: %v", item.LineItemId, ord.OrderID, err)
		}
	}

	result.Synced++
	i.emitStatusEvent(ctx, "order.synced", map[string]interface{}{
		"order_id":             ord.OrderID,
		"marketplace_order_id": ord.MarketplaceOrderID,
	})
	return nil
}

func paymentStatus(remote string) string {
	if strings.EqualFold(remote, "PAID") {
		return model.PaymentStatusPaid
	}
	return model.PaymentStatusPending
}

func (i *Ichiba) recordLineItem(ctx context.Context, ord *model.Order, remote EbayOrder, lineItemID, sku, title string, quantity int, unitPrice, legacyItemID string) error {
	sale := &model.Sale{
		OrderID:           ord.OrderID,
		LineItemID:        lineItemID,
		Sku:               sku,
		Title:             title,
		Quantity:          quantity,
		MarketplaceItemID: legacyItemID,
	}
	sale.UnitPrice, _ = strconv.ParseFloat(unitPrice, 64)
	sale.TotalPrice = sale.UnitPrice * float64(quantity)

	productID, skuErr := ParseSku(sku)
	if skuErr == nil {
		sale.ProductID = productID
		if listings, err := i.datasource.GetListingsByProduct(ctx, productID); err == nil {
			for _, lst := range listings {
				if lst.Marketplace == ord.Marketplace {
					sale.ListingID = lst.ListingID
					break
				}
			}
		}
	}

	created, err := i.datasource.RecordSale(ctx, sale)
	if err != nil {
		return err
	}
	if !created {
		// Already recorded on an earlier pass.
		return nil
	}

	if skuErr != nil {
		// The sale is still recorded for the books, but without a product
		// link there is no inventory to adjust. Legacy SKUs land here; they
		// are not sync errors.
		logrus.Warnf("sale for line item %s of order %s has no product link: %v", lineItemID, ord.OrderID, skuErr)
		return nil
	}

	product, err := i.datasource.GetProduct(ctx, productID)
	if err != nil {
		return err
	}

	// Single-unit inventory: a sale zeroes the stock and marks the product
	// SOLD.
	if err := i.datasource.RecordInventoryEvent(ctx, &model.InventoryEvent{
		ProductID:   productID,
		EventType:   model.InventoryEventSale,
		Quantity:    -quantity,
		PrevStock:   product.Stock,
		NewStock:    0,
		Marketplace: ord.Marketplace,
		OrderID:     ord.OrderID,
		Reason:      "marketplace sale",
	}); err != nil {
		return err
	}
	if err := i.datasource.UpdateProductStock(ctx, productID, 0); err != nil {
		return err
	}
	return i.datasource.UpdateProductStatus(ctx, productID, model.ProductStatusSold)
}

// FulfillOrder confirms shipment with the marketplace and records tracking
// locally. The order's raw payload must contain the line item IDs the
// marketplace expects in the confirmation call.
func (i *Ichiba) FulfillOrder(ctx context.Context, orderID, trackingNumber, carrier string) error {
	ctx, span := tracer.Start(ctx, "Fulfilling order")
	defer span.End()

	ord, err := i.datasource.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	var remote EbayOrder
	if err := json.Unmarshal(ord.RawData, &remote); err != nil || len(remote.LineItems) == 0 {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "Order payload has no resolvable line items", err)
	}

	lineItemIDs := make([]string, 0, len(remote.LineItems))
	for _, item := range remote.LineItems {
		lineItemIDs = append(lineItemIDs, item.LineItemId)
	}

	if err := i.ebay.CreateShippingFulfillment(ctx, ord.MarketplaceOrderID, lineItemIDs, trackingNumber, carrier); err != nil {
		notification.NotifyError(err)
		return err
	}

	shippedAt := time.Now()
	if err := i.datasource.MarkOrderShipped(ctx, ord.OrderID, trackingNumber, carrier, shippedAt); err != nil {
		return err
	}

	i.emitStatusEvent(ctx, "order.shipped", map[string]interface{}{
		"order_id":        ord.OrderID,
		"tracking_number": trackingNumber,
		"carrier":         carrier,
	})
	return nil
}
