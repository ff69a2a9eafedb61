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
	"net/http"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"

	"github.com/ichiba-io/ichiba/model"
)

const remoteOrdersBody = `{"orders":[{
	"orderId": "15-06443-2540",
	"creationDate": "2024-06-01T12:00:00Z",
	"buyer": {"username": "buyer99"},
	"orderPaymentStatus": "PAID",
	"pricingSummary": {"total": {"value": "18.44", "currency": "USD"}},
	"lineItems": [{
		"lineItemId": "li_1",
		"sku": "ICHIBA-EBAY-prd_1",
		"title": "Vintage Seiko Watch",
		"quantity": 1,
		"lineItemCost": {"value": "14.99"},
		"legacyItemId": "110553577900"
	}],
	"fulfillmentStartInstructions": [{"shippingStep": {"shipTo": {
		"fullName": "Taro Yamada",
		"contactAddress": {"addressLine1": "1 Main St", "city": "Springfield", "postalCode": "62701", "countryCode": "US"}
	}}}]
}]}`

func orderRow(orderID, rawData string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "order_id", "marketplace", "marketplace_order_id", "buyer_username", "buyer_name",
		"shipping_address", "subtotal", "shipping_cost", "tax", "total", "currency", "status",
		"payment_status", "fulfillment_status", "tracking_number", "tracking_carrier", "raw_data",
		"ordered_at", "shipped_at", "created_at", "updated_at",
	}).AddRow(1, orderID, "EBAY", "15-06443-2540", "buyer99", "Taro Yamada", []byte("null"),
		0, 0, 0, 18.44, "USD", model.OrderStatusConfirmed, model.PaymentStatusPaid,
		model.FulfillmentUnfulfilled, "", "", []byte(rawData), time.Now(), nil, time.Now(), time.Now())
}

func TestSyncOrders(t *testing.T) {
	t.Run("New order records sale and zeroes inventory", func(t *testing.T) {
		httpmock.Activate()
		defer httpmock.DeactivateAndReset()
		httpmock.RegisterResponder(http.MethodGet, `=~/sell/fulfillment/v1/order\?`,
			httpmock.NewStringResponder(200, remoteOrdersBody))

		ich, mock := newTestIchiba(t)

		mock.ExpectQuery("FROM marketplace_credentials WHERE marketplace =").
			WithArgs("EBAY").
			WillReturnRows(credentialRow())
		mock.ExpectQuery("INSERT INTO orders").
			WillReturnRows(sqlmock.NewRows([]string{"order_id", "inserted"}).AddRow("ord_1", true))
		mock.ExpectQuery("FROM listings WHERE product_id =").
			WithArgs("prd_1").
			WillReturnRows(listingRow("lst_1", "prd_1", "ACTIVE", 14.99, "null"))
		mock.ExpectExec("INSERT INTO sales").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectQuery("FROM products WHERE product_id =").
			WithArgs("prd_1").
			WillReturnRows(productRow("prd_1"))
		mock.ExpectExec("INSERT INTO inventory_events").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE products SET stock").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE products SET status").WillReturnResult(sqlmock.NewResult(0, 1))

		result, err := ich.SyncOrders(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, 1, result.Synced)
		assert.Equal(t, 0, result.Errors)

		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("there were unfulfilled expectations: %s", err)
		}
	})

	t.Run("Malformed sku keeps the sale and counts no error", func(t *testing.T) {
		body := `{"orders":[{
			"orderId": "15-06443-2541",
			"creationDate": "2024-06-01T12:00:00Z",
			"buyer": {"username": "buyer99"},
			"orderPaymentStatus": "PAID",
			"pricingSummary": {"total": {"value": "33.43", "currency": "USD"}},
			"lineItems": [{
				"lineItemId": "li_1",
				"sku": "ICHIBA-EBAY-prd_1",
				"title": "Vintage Seiko Watch",
				"quantity": 1,
				"lineItemCost": {"value": "14.99"},
				"legacyItemId": "110553577900"
			}, {
				"lineItemId": "li_2",
				"sku": "oldsku123",
				"title": "Listed before the sku scheme",
				"quantity": 1,
				"lineItemCost": {"value": "18.44"},
				"legacyItemId": "110553577901"
			}]
		}]}`
		httpmock.Activate()
		defer httpmock.DeactivateAndReset()
		httpmock.RegisterResponder(http.MethodGet, `=~/sell/fulfillment/v1/order\?`,
			httpmock.NewStringResponder(200, body))

		ich, mock := newTestIchiba(t)

		mock.ExpectQuery("FROM marketplace_credentials WHERE marketplace =").
			WithArgs("EBAY").
			WillReturnRows(credentialRow())
		mock.ExpectQuery("INSERT INTO orders").
			WillReturnRows(sqlmock.NewRows([]string{"order_id", "inserted"}).AddRow("ord_2", true))
		// First line item resolves a product and adjusts inventory.
		mock.ExpectQuery("FROM listings WHERE product_id =").
			WithArgs("prd_1").
			WillReturnRows(listingRow("lst_1", "prd_1", "ACTIVE", 14.99, "null"))
		mock.ExpectExec("INSERT INTO sales").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectQuery("FROM products WHERE product_id =").
			WithArgs("prd_1").
			WillReturnRows(productRow("prd_1"))
		mock.ExpectExec("INSERT INTO inventory_events").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE products SET stock").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE products SET status").WillReturnResult(sqlmock.NewResult(0, 1))
		// Second line item still gets a sale, with no product lookup or
		// inventory writes.
		mock.ExpectExec("INSERT INTO sales").WillReturnResult(sqlmock.NewResult(2, 1))

		result, err := ich.SyncOrders(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, 1, result.Synced)
		assert.Equal(t, 0, result.Errors)

		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("there were unfulfilled expectations: %s", err)
		}
	})

	t.Run("Repeated pass over the same order is a no-op", func(t *testing.T) {
		httpmock.Activate()
		defer httpmock.DeactivateAndReset()
		httpmock.RegisterResponder(http.MethodGet, `=~/sell/fulfillment/v1/order\?`,
			httpmock.NewStringResponder(200, remoteOrdersBody))

		ich, mock := newTestIchiba(t)

		mock.ExpectQuery("FROM marketplace_credentials WHERE marketplace =").
			WithArgs("EBAY").
			WillReturnRows(credentialRow())
		// xmax reports an existing row; no sale or inventory writes follow.
		mock.ExpectQuery("INSERT INTO orders").
			WillReturnRows(sqlmock.NewRows([]string{"order_id", "inserted"}).AddRow("ord_1", false))

		result, err := ich.SyncOrders(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, 0, result.Synced)
		assert.Equal(t, 0, result.Errors)

		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("there were unfulfilled expectations: %s", err)
		}
	})
}

func TestPaymentStatus(t *testing.T) {
	assert.Equal(t, model.PaymentStatusPaid, paymentStatus("PAID"))
	assert.Equal(t, model.PaymentStatusPaid, paymentStatus("paid"))
	assert.Equal(t, model.PaymentStatusPending, paymentStatus("PENDING"))
	assert.Equal(t, model.PaymentStatusPending, paymentStatus(""))
}

func TestFulfillOrder(t *testing.T) {
	t.Run("Confirms shipment and records tracking", func(t *testing.T) {
		httpmock.Activate()
		defer httpmock.DeactivateAndReset()
		httpmock.RegisterResponder(http.MethodPost, `=~/shipping_fulfillment$`,
			httpmock.NewStringResponder(200, `{"fulfillmentId":"f_1"}`))

		ich, mock := newTestIchiba(t)

		rawData := `{"orderId":"15-06443-2540","lineItems":[{"lineItemId":"li_1","sku":"ICHIBA-EBAY-prd_1"}]}`
		mock.ExpectQuery("FROM orders WHERE order_id =").
			WithArgs("ord_1").
			WillReturnRows(orderRow("ord_1", rawData))
		mock.ExpectQuery("FROM marketplace_credentials WHERE marketplace =").
			WithArgs("EBAY").
			WillReturnRows(credentialRow())
		mock.ExpectExec("UPDATE orders").WillReturnResult(sqlmock.NewResult(0, 1))

		err := ich.FulfillOrder(context.Background(), "ord_1", "RR123456789JP", "JapanPost")
		assert.NoError(t, err)

		calls := httpmock.GetCallCountInfo()
		assert.Equal(t, 1, calls[`POST =~/shipping_fulfillment$`])

		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("there were unfulfilled expectations: %s", err)
		}
	})

	t.Run("Rejects order without resolvable line items", func(t *testing.T) {
		ich, mock := newTestIchiba(t)

		mock.ExpectQuery("FROM orders WHERE order_id =").
			WithArgs("ord_1").
			WillReturnRows(orderRow("ord_1", "null"))

		err := ich.FulfillOrder(context.Background(), "ord_1", "RR123456789JP", "JapanPost")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "no resolvable line items")
	})
}
