package model

import (
	"fmt"
	"time"
)

// Marketplaces a listing can target.
const (
	MarketplaceEbay    = "EBAY"
	MarketplaceDepop   = "DEPOP"
	MarketplaceJoom    = "JOOM"
	MarketplaceShopify = "SHOPIFY"
)

// ListingStatus is the per-marketplace publish state of a listing.
type ListingStatus string

const (
	ListingDraft          ListingStatus = "DRAFT"
	ListingPendingPublish ListingStatus = "PENDING_PUBLISH"
	ListingPublishing     ListingStatus = "PUBLISHING"
	ListingActive         ListingStatus = "ACTIVE"
	ListingError          ListingStatus = "ERROR"
	ListingEnded          ListingStatus = "ENDED"
)

// listingTransitions is the closed transition table for the listing state
// machine. ERROR may re-enter PUBLISHING so a failed publish can be retried
// by a re-publish job, and PUBLISHING may re-enter itself so a resumed saga
// is not rejected.
var listingTransitions = map[ListingStatus][]ListingStatus{
	ListingDraft:          {ListingPendingPublish, ListingError},
	ListingPendingPublish: {ListingPublishing, ListingError},
	ListingPublishing:     {ListingPublishing, ListingActive, ListingError},
	ListingActive:         {ListingEnded, ListingPublishing},
	ListingError:          {ListingPublishing, ListingPendingPublish, ListingEnded},
	ListingEnded:          {},
}

// CanTransition reports whether moving from the current status to next is a
// legal state machine move.
func (s ListingStatus) CanTransition(next ListingStatus) bool {
	for _, allowed := range listingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Listing tracks the remote publish state of one product on one
// marketplace. The (product, marketplace, credential) tuple is unique;
// publishing is an upsert against it.
type Listing struct {
	ID                   int64                  `json:"-"`
	ListingID            string                 `json:"listing_id"`
	ProductID            string                 `json:"product_id"`
	Marketplace          string                 `json:"marketplace"`
	CredentialID         string                 `json:"credential_id,omitempty"`
	Status               ListingStatus          `json:"status"`
	ListingPrice         float64                `json:"listing_price"`
	Currency             string                 `json:"currency"`
	MarketplaceListingID string                 `json:"marketplace_listing_id,omitempty"`
	MarketplaceData      map[string]interface{} `json:"marketplace_data,omitempty"`
	ErrorMessage         string                 `json:"error_message,omitempty"`
	ListedAt             *time.Time             `json:"listed_at,omitempty"`
	CreatedAt            time.Time              `json:"created_at"`
	UpdatedAt            time.Time              `json:"updated_at"`
}

// TransitionTo moves the listing to the next status, rejecting moves the
// transition table does not allow.
func (l *Listing) TransitionTo(next ListingStatus) error {
	if !l.Status.CanTransition(next) {
		return fmt.Errorf("illegal listing transition %s -> %s for %s", l.Status, next, l.ListingID)
	}
	l.Status = next
	return nil
}

// MergeMarketplaceData folds updates into the stored marketplace snapshot
// without dropping previously recorded keys. It never mutates the receiver's
// existing map in place on a nil listing.
func (l *Listing) MergeMarketplaceData(updates map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(l.MarketplaceData)+len(updates))
	for k, v := range l.MarketplaceData {
		merged[k] = v
	}
	for k, v := range updates {
		merged[k] = v
	}
	l.MarketplaceData = merged
	return merged
}

// DataString returns a string value from the marketplace data snapshot, or
// "" when absent. Saga steps use it to detect already-completed remote calls.
func (l *Listing) DataString(key string) string {
	if l.MarketplaceData == nil {
		return ""
	}
	if v, ok := l.MarketplaceData[key].(string); ok {
		return v
	}
	return ""
}

// PriceHistory records each price applied to a listing, with the inputs
// that produced it.
type PriceHistory struct {
	ID        int64                  `json:"-"`
	ListingID string                 `json:"listing_id"`
	Price     float64                `json:"price"`
	Source    string                 `json:"source"`
	MetaData  map[string]interface{} `json:"meta_data,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}
