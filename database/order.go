package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"

	"github.com/ichiba-io/ichiba/internal/apierror"
	"github.com/ichiba-io/ichiba/model"
)

// UpsertOrder inserts or refreshes an order keyed by
// (marketplace, marketplace order id). The boolean reports whether the row
// was newly inserted, which callers use to decide whether to record sales.
func (d Datasource) UpsertOrder(ctx context.Context, ord *model.Order) (*model.Order, bool, error) {
	ctx, span := otel.Tracer("Order").Start(ctx, "Upserting order to db")
	defer span.End()

	addressJSON, err := json.Marshal(ord.ShippingAddress)
	if err != nil {
		return nil, false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal shipping address", err)
	}
	rawData := ord.RawData
	if rawData == nil {
		rawData = []byte("null")
	}

	if ord.OrderID == "" {
		ord.OrderID = model.GenerateUUIDWithSuffix("ord")
	}
	ord.CreatedAt = time.Now()

	var inserted bool
	err = d.Conn.QueryRowContext(ctx, `
		INSERT INTO orders (order_id, marketplace, marketplace_order_id, buyer_username, buyer_name, shipping_address, subtotal, shipping_cost, tax, total, currency, status, payment_status, fulfillment_status, raw_data, ordered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (marketplace, marketplace_order_id) DO UPDATE
		SET status = EXCLUDED.status, payment_status = EXCLUDED.payment_status, raw_data = EXCLUDED.raw_data, updated_at = NOW()
		RETURNING order_id, (xmax = 0)
	`, ord.OrderID, ord.Marketplace, ord.MarketplaceOrderID, ord.BuyerUsername, ord.BuyerName,
		addressJSON, ord.Subtotal, ord.ShippingCost, ord.Tax, ord.Total, ord.Currency,
		ord.Status, ord.PaymentStatus, ord.FulfillmentStatus, rawData, ord.OrderedAt,
	).Scan(&ord.OrderID, &inserted)
	if err != nil {
		return nil, false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to upsert order", err)
	}

	return ord, inserted, nil
}

const orderSelect = `
	SELECT id, order_id, marketplace, marketplace_order_id, COALESCE(buyer_username, ''), COALESCE(buyer_name, ''), COALESCE(shipping_address, 'null'), COALESCE(subtotal, 0), COALESCE(shipping_cost, 0), COALESCE(tax, 0), COALESCE(total, 0), currency, status, COALESCE(payment_status, ''), fulfillment_status, COALESCE(tracking_number, ''), COALESCE(tracking_carrier, ''), COALESCE(raw_data, 'null'), ordered_at, shipped_at, created_at, updated_at
	FROM orders`

func (d Datasource) scanOrder(row rowScanner) (*model.Order, error) {
	ord := &model.Order{}
	var addressJSON []byte
	var shippedAt sql.NullTime

	err := row.Scan(
		&ord.ID, &ord.OrderID, &ord.Marketplace, &ord.MarketplaceOrderID,
		&ord.BuyerUsername, &ord.BuyerName, &addressJSON,
		&ord.Subtotal, &ord.ShippingCost, &ord.Tax, &ord.Total, &ord.Currency,
		&ord.Status, &ord.PaymentStatus, &ord.FulfillmentStatus,
		&ord.TrackingNumber, &ord.TrackingCarrier, &ord.RawData,
		&ord.OrderedAt, &shippedAt, &ord.CreatedAt, &ord.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Order not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve order", err)
	}

	if err := json.Unmarshal(addressJSON, &ord.ShippingAddress); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal shipping address", err)
	}
	if shippedAt.Valid {
		ord.ShippedAt = &shippedAt.Time
	}

	return ord, nil
}

// GetOrder retrieves an order by its ID
func (d Datasource) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	ctx, span := otel.Tracer("Order").Start(ctx, "Fetching order from db")
	defer span.End()

	return d.scanOrder(d.Conn.QueryRowContext(ctx, orderSelect+` WHERE order_id = $1`, id))
}

// GetUnfulfilledOrders retrieves orders awaiting shipment, oldest first
func (d Datasource) GetUnfulfilledOrders(ctx context.Context, marketplace string) ([]*model.Order, error) {
	ctx, span := otel.Tracer("Order").Start(ctx, "Fetching unfulfilled orders from db")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, orderSelect+`
		WHERE marketplace = $1 AND fulfillment_status = $2
		ORDER BY ordered_at ASC
	`, marketplace, model.FulfillmentUnfulfilled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*model.Order
	for rows.Next() {
		ord, err := d.scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, ord)
	}

	return orders, rows.Err()
}

// MarkOrderShipped records shipment on an order
func (d Datasource) MarkOrderShipped(ctx context.Context, id string, trackingNumber, carrier string, shippedAt time.Time) error {
	ctx, span := otel.Tracer("Order").Start(ctx, "Marking order shipped")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, fulfillment_status = $3, tracking_number = $4, tracking_carrier = $5, shipped_at = $6, updated_at = NOW()
		WHERE order_id = $1
	`, id, model.OrderStatusShipped, model.FulfillmentFulfilled, trackingNumber, carrier, shippedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark order shipped", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Order not found", nil)
	}
	return nil
}

// RecordSale inserts a sale for one order line item. The (order, line item)
// pair is unique; a duplicate insert is reported as false with no error so a
// repeated sync pass is a no-op.
func (d Datasource) RecordSale(ctx context.Context, sale *model.Sale) (bool, error) {
	ctx, span := otel.Tracer("Order").Start(ctx, "Saving sale to db")
	defer span.End()

	sale.SaleID = model.GenerateUUIDWithSuffix("sale")
	sale.CreatedAt = time.Now()

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO sales (sale_id, order_id, line_item_id, listing_id, product_id, sku, title, quantity, unit_price, total_price, marketplace_item_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, sale.SaleID, sale.OrderID, sale.LineItemID, sale.ListingID, sale.ProductID, sale.Sku, sale.Title, sale.Quantity, sale.UnitPrice, sale.TotalPrice, sale.MarketplaceItemID, sale.CreatedAt)

	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "unique_violation" {
			return false, nil
		}
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record sale", err)
	}

	return true, nil
}

// GetSalesByOrder retrieves sales recorded for an order
func (d Datasource) GetSalesByOrder(ctx context.Context, orderID string) ([]*model.Sale, error) {
	ctx, span := otel.Tracer("Order").Start(ctx, "Fetching sales from db")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, sale_id, order_id, line_item_id, COALESCE(listing_id, ''), COALESCE(product_id, ''), COALESCE(sku, ''), COALESCE(title, ''), quantity, COALESCE(unit_price, 0), COALESCE(total_price, 0), COALESCE(marketplace_item_id, ''), created_at
		FROM sales
		WHERE order_id = $1
		ORDER BY created_at ASC
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sales []*model.Sale
	for rows.Next() {
		sale := &model.Sale{}
		err = rows.Scan(&sale.ID, &sale.SaleID, &sale.OrderID, &sale.LineItemID, &sale.ListingID, &sale.ProductID, &sale.Sku, &sale.Title, &sale.Quantity, &sale.UnitPrice, &sale.TotalPrice, &sale.MarketplaceItemID, &sale.CreatedAt)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}

	return sales, rows.Err()
}
