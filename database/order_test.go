package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/ichiba-io/ichiba/model"
)

func TestUpsertOrder_Inserted(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("INSERT INTO orders").
		WillReturnRows(sqlmock.NewRows([]string{"order_id", "inserted"}).AddRow("ord_abc", true))

	ord, inserted, err := ds.UpsertOrder(context.Background(), &model.Order{
		Marketplace:        model.MarketplaceEbay,
		MarketplaceOrderID: "15-06443-2540",
		BuyerUsername:      gofakeit.Username(),
		Total:              18.44,
		Currency:           "USD",
		OrderedAt:          time.Now(),
	})
	assert.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, "ord_abc", ord.OrderID)
}

func TestUpsertOrder_Existing(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	// xmax != 0 reports a conflict update rather than a fresh insert.
	mock.ExpectQuery("INSERT INTO orders").
		WillReturnRows(sqlmock.NewRows([]string{"order_id", "inserted"}).AddRow("ord_abc", false))

	_, inserted, err := ds.UpsertOrder(context.Background(), &model.Order{
		Marketplace:        model.MarketplaceEbay,
		MarketplaceOrderID: "15-06443-2540",
		OrderedAt:          time.Now(),
	})
	assert.NoError(t, err)
	assert.False(t, inserted)
}

func TestRecordSale_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("INSERT INTO sales").
		WillReturnResult(sqlmock.NewResult(1, 1))

	created, err := ds.RecordSale(context.Background(), &model.Sale{
		OrderID:    "ord_abc",
		LineItemID: "li_1",
		Sku:        "ICHIBA-EBAY-prd_1",
		Quantity:   1,
		UnitPrice:  14.99,
	})
	assert.NoError(t, err)
	assert.True(t, created)
}

func TestRecordSale_Duplicate(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("INSERT INTO sales").
		WillReturnError(&pq.Error{Code: "23505", Message: "unique_violation"})

	created, err := ds.RecordSale(context.Background(), &model.Sale{
		OrderID:    "ord_abc",
		LineItemID: "li_1",
	})
	assert.NoError(t, err)
	assert.False(t, created)
}

func TestMarkOrderShipped_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE orders").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = ds.MarkOrderShipped(context.Background(), "ord_missing", "RR123456789JP", "JapanPost", time.Now())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "Order not found")
}
