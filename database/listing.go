package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/ichiba-io/ichiba/internal/apierror"
	"github.com/ichiba-io/ichiba/model"
)

// CreateListing creates a listing for (product, marketplace, credential) or
// returns the existing one. Publishing is an upsert against this tuple so a
// retried job never creates a duplicate row.
func (d Datasource) CreateListing(ctx context.Context, lst *model.Listing) (*model.Listing, error) {
	ctx, span := otel.Tracer("Listing").Start(ctx, "Saving listing to db")
	defer span.End()

	lst.ListingID = model.GenerateUUIDWithSuffix("lst")
	lst.CreatedAt = time.Now()
	if lst.Status == "" {
		lst.Status = model.ListingDraft
	}
	if lst.Currency == "" {
		lst.Currency = "USD"
	}

	dataJSON, err := json.Marshal(lst.MarketplaceData)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal marketplace data", err)
	}

	// ON CONFLICT DO NOTHING plus a follow-up select keeps the insert
	// idempotent without clobbering an in-flight listing's state.
	result, err := d.Conn.ExecContext(ctx, `
		INSERT INTO listings (listing_id, product_id, marketplace, credential_id, status, listing_price, currency, marketplace_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (product_id, marketplace, credential_id) DO NOTHING
	`, lst.ListingID, lst.ProductID, lst.Marketplace, lst.CredentialID, lst.Status, lst.ListingPrice, lst.Currency, dataJSON)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create listing", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return d.getListingByTuple(ctx, lst.ProductID, lst.Marketplace, lst.CredentialID)
	}

	return lst, nil
}

const listingSelect = `
	SELECT id, listing_id, product_id, marketplace, COALESCE(credential_id, ''), status, COALESCE(listing_price, 0), currency, COALESCE(marketplace_listing_id, ''), COALESCE(marketplace_data, 'null'), COALESCE(error_message, ''), listed_at, created_at, updated_at
	FROM listings`

func (d Datasource) scanListing(row rowScanner) (*model.Listing, error) {
	lst := &model.Listing{}
	var dataJSON []byte
	var listedAt sql.NullTime

	err := row.Scan(
		&lst.ID, &lst.ListingID, &lst.ProductID, &lst.Marketplace, &lst.CredentialID,
		&lst.Status, &lst.ListingPrice, &lst.Currency, &lst.MarketplaceListingID,
		&dataJSON, &lst.ErrorMessage, &listedAt, &lst.CreatedAt, &lst.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Listing not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve listing", err)
	}

	if err := json.Unmarshal(dataJSON, &lst.MarketplaceData); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal marketplace data", err)
	}
	if listedAt.Valid {
		lst.ListedAt = &listedAt.Time
	}

	return lst, nil
}

func (d Datasource) getListingByTuple(ctx context.Context, productID, marketplace, credentialID string) (*model.Listing, error) {
	return d.scanListing(d.Conn.QueryRowContext(ctx, listingSelect+`
		WHERE product_id = $1 AND marketplace = $2 AND credential_id = $3
	`, productID, marketplace, credentialID))
}

// GetListing retrieves a listing by its ID
func (d Datasource) GetListing(ctx context.Context, id string) (*model.Listing, error) {
	ctx, span := otel.Tracer("Listing").Start(ctx, "Fetching listing from db")
	defer span.End()

	return d.scanListing(d.Conn.QueryRowContext(ctx, listingSelect+` WHERE listing_id = $1`, id))
}

// GetListingsByProduct retrieves all listings for a product
func (d Datasource) GetListingsByProduct(ctx context.Context, productID string) ([]*model.Listing, error) {
	ctx, span := otel.Tracer("Listing").Start(ctx, "Fetching listings by product from db")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, listingSelect+` WHERE product_id = $1`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []*model.Listing
	for rows.Next() {
		lst, err := d.scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, lst)
	}

	return listings, rows.Err()
}

// GetListingByMarketplaceID retrieves a listing by its remote listing ID
func (d Datasource) GetListingByMarketplaceID(ctx context.Context, marketplace, remoteID string) (*model.Listing, error) {
	ctx, span := otel.Tracer("Listing").Start(ctx, "Fetching listing by marketplace ID from db")
	defer span.End()

	return d.scanListing(d.Conn.QueryRowContext(ctx, listingSelect+`
		WHERE marketplace = $1 AND marketplace_listing_id = $2
	`, marketplace, remoteID))
}

// GetActiveListings retrieves live listings on a marketplace
func (d Datasource) GetActiveListings(ctx context.Context, marketplace string, limit, offset int) ([]*model.Listing, error) {
	ctx, span := otel.Tracer("Listing").Start(ctx, "Fetching active listings from db")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, listingSelect+`
		WHERE marketplace = $1 AND status = $2
		ORDER BY listed_at DESC
		LIMIT $3 OFFSET $4
	`, marketplace, model.ListingActive, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []*model.Listing
	for rows.Next() {
		lst, err := d.scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, lst)
	}

	return listings, rows.Err()
}

// UpdateListing persists listing state, the marketplace data snapshot and the
// error message in one write. Saga steps call this after every remote call.
func (d Datasource) UpdateListing(ctx context.Context, lst *model.Listing) error {
	ctx, span := otel.Tracer("Listing").Start(ctx, "Updating listing")
	defer span.End()

	dataJSON, err := json.Marshal(lst.MarketplaceData)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal marketplace data", err)
	}

	listedAt := sql.NullTime{}
	if lst.ListedAt != nil {
		listedAt = sql.NullTime{Time: *lst.ListedAt, Valid: true}
	}

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE listings
		SET status = $2, listing_price = $3, marketplace_listing_id = $4, marketplace_data = $5, error_message = $6, listed_at = $7, updated_at = NOW()
		WHERE listing_id = $1
	`, lst.ListingID, lst.Status, lst.ListingPrice, lst.MarketplaceListingID, dataJSON, lst.ErrorMessage, listedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update listing", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Listing not found", nil)
	}
	return nil
}

// UpdateListingPrice updates the listing price
func (d Datasource) UpdateListingPrice(ctx context.Context, id string, price float64) error {
	ctx, span := otel.Tracer("Listing").Start(ctx, "Updating listing price")
	defer span.End()

	_, err := d.Conn.ExecContext(ctx, `
		UPDATE listings SET listing_price = $2, updated_at = NOW() WHERE listing_id = $1
	`, id, price)
	return err
}

// RecordPriceChange appends a price history entry for a listing
func (d Datasource) RecordPriceChange(ctx context.Context, entry *model.PriceHistory) error {
	ctx, span := otel.Tracer("Listing").Start(ctx, "Saving price history to db")
	defer span.End()

	metaDataJSON, err := json.Marshal(entry.MetaData)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO price_history (listing_id, price, source, meta_data)
		VALUES ($1, $2, $3, $4)
	`, entry.ListingID, entry.Price, entry.Source, metaDataJSON)
	return err
}
