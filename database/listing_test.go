package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/ichiba-io/ichiba/model"
)

func TestCreateListing_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("INSERT INTO listings").
		WillReturnResult(sqlmock.NewResult(1, 1))

	created, err := ds.CreateListing(context.Background(), &model.Listing{
		ProductID:    "prd_1",
		Marketplace:  model.MarketplaceEbay,
		CredentialID: "cred_1",
		ListingPrice: 14.99,
	})
	assert.NoError(t, err)
	assert.Contains(t, created.ListingID, "lst_")
	assert.Equal(t, model.ListingDraft, created.Status)
	assert.Equal(t, "USD", created.Currency)
}

func TestCreateListing_ExistingTuple(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	// ON CONFLICT DO NOTHING touched no row, so the existing listing is
	// fetched instead.
	mock.ExpectExec("INSERT INTO listings").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM listings WHERE product_id = (.+) AND marketplace =").
		WithArgs("prd_1", model.MarketplaceEbay, "cred_1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "listing_id", "product_id", "marketplace", "credential_id", "status",
			"listing_price", "currency", "marketplace_listing_id", "marketplace_data",
			"error_message", "listed_at", "created_at", "updated_at",
		}).AddRow(1, "lst_existing", "prd_1", model.MarketplaceEbay, "cred_1", model.ListingPendingPublish,
			12.50, "USD", "", []byte("null"), "", nil, time.Now(), time.Now()))

	created, err := ds.CreateListing(context.Background(), &model.Listing{
		ProductID:    "prd_1",
		Marketplace:  model.MarketplaceEbay,
		CredentialID: "cred_1",
		ListingPrice: 14.99,
	})
	assert.NoError(t, err)
	assert.Equal(t, "lst_existing", created.ListingID)
	assert.Equal(t, model.ListingPendingPublish, created.Status)
}

func TestGetListing_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("FROM listings WHERE listing_id =").
		WithArgs("lst_missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = ds.GetListing(context.Background(), "lst_missing")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "Listing not found")
}

func TestUpdateListing_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE listings").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = ds.UpdateListing(context.Background(), &model.Listing{ListingID: "lst_missing", Status: model.ListingActive})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "Listing not found")
}
