package model

import (
	"encoding/json"
	"time"
)

// Order statuses.
const (
	OrderStatusConfirmed = "CONFIRMED"
	OrderStatusShipped   = "SHIPPED"
	OrderStatusCancelled = "CANCELLED"
)

// Payment statuses.
const (
	PaymentStatusPending = "PENDING"
	PaymentStatusPaid    = "PAID"
)

// Fulfillment statuses.
const (
	FulfillmentUnfulfilled = "UNFULFILLED"
	FulfillmentFulfilled   = "FULFILLED"
)

// Order is a marketplace order reconciled into local records, upserted by
// (marketplace, marketplace order id). RawData keeps the provider payload
// verbatim; fulfillment reads the line item id back out of it.
type Order struct {
	ID                 int64                  `json:"-"`
	OrderID            string                 `json:"order_id"`
	Marketplace        string                 `json:"marketplace"`
	MarketplaceOrderID string                 `json:"marketplace_order_id"`
	BuyerUsername      string                 `json:"buyer_username"`
	BuyerName          string                 `json:"buyer_name,omitempty"`
	ShippingAddress    map[string]interface{} `json:"shipping_address,omitempty"`
	Subtotal           float64                `json:"subtotal"`
	ShippingCost       float64                `json:"shipping_cost"`
	Tax                float64                `json:"tax"`
	Total              float64                `json:"total"`
	Currency           string                 `json:"currency"`
	Status             string                 `json:"status"`
	PaymentStatus      string                 `json:"payment_status"`
	FulfillmentStatus  string                 `json:"fulfillment_status"`
	TrackingNumber     string                 `json:"tracking_number,omitempty"`
	TrackingCarrier    string                 `json:"tracking_carrier,omitempty"`
	RawData            json.RawMessage        `json:"raw_data,omitempty"`
	OrderedAt          time.Time              `json:"ordered_at"`
	ShippedAt          *time.Time             `json:"shipped_at,omitempty"`
	CreatedAt          time.Time              `json:"created_at"`
	UpdatedAt          time.Time              `json:"updated_at"`
}

// Sale is one order line item linked back to local records through its
// SKU-embedded product id. Sales are append-only; the (order, line item)
// pair is unique so repeated syncs cannot duplicate financial records.
type Sale struct {
	ID                int64     `json:"-"`
	SaleID            string    `json:"sale_id"`
	OrderID           string    `json:"order_id"`
	LineItemID        string    `json:"line_item_id"`
	ListingID         string    `json:"listing_id,omitempty"`
	ProductID         string    `json:"product_id,omitempty"`
	Sku               string    `json:"sku"`
	Title             string    `json:"title"`
	Quantity          int       `json:"quantity"`
	UnitPrice         float64   `json:"unit_price"`
	TotalPrice        float64   `json:"total_price"`
	MarketplaceItemID string    `json:"marketplace_item_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// Inventory event types.
const (
	InventoryEventSale       = "SALE"
	InventoryEventAdjustment = "ADJUSTMENT"
)

// InventoryEvent is the audit trail for stock changes. A sale records a
// negative quantity.
type InventoryEvent struct {
	ID          int64     `json:"-"`
	EventID     string    `json:"event_id"`
	ProductID   string    `json:"product_id"`
	EventType   string    `json:"event_type"`
	Quantity    int       `json:"quantity"`
	PrevStock   int       `json:"prev_stock"`
	NewStock    int       `json:"new_stock"`
	Marketplace string    `json:"marketplace,omitempty"`
	OrderID     string    `json:"order_id,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
