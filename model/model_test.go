package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateUUIDWithSuffix(t *testing.T) {
	module := "test_module"
	id := GenerateUUIDWithSuffix(module)
	assert.Contains(t, id, module+"_")
}

func TestListingTransitions(t *testing.T) {
	cases := []struct {
		from    ListingStatus
		to      ListingStatus
		allowed bool
	}{
		{ListingDraft, ListingPendingPublish, true},
		{ListingDraft, ListingError, true},
		{ListingDraft, ListingActive, false},
		{ListingPendingPublish, ListingPublishing, true},
		{ListingPendingPublish, ListingActive, false},
		{ListingPublishing, ListingPublishing, true},
		{ListingPublishing, ListingActive, true},
		{ListingPublishing, ListingError, true},
		{ListingActive, ListingEnded, true},
		{ListingActive, ListingPublishing, true},
		{ListingActive, ListingDraft, false},
		{ListingError, ListingPublishing, true},
		{ListingError, ListingPendingPublish, true},
		{ListingError, ListingEnded, true},
		{ListingError, ListingActive, false},
		{ListingEnded, ListingPublishing, false},
		{ListingEnded, ListingDraft, false},
	}

	for _, c := range cases {
		assert.Equal(t, c.allowed, c.from.CanTransition(c.to), "%s -> %s", c.from, c.to)
	}
}

func TestListingTransitionTo(t *testing.T) {
	listing := &Listing{ListingID: "lst_123", Status: ListingDraft}

	err := listing.TransitionTo(ListingActive)
	assert.Error(t, err)
	assert.Equal(t, ListingDraft, listing.Status)

	err = listing.TransitionTo(ListingPendingPublish)
	assert.NoError(t, err)
	assert.Equal(t, ListingPendingPublish, listing.Status)
}

func TestMergeMarketplaceData(t *testing.T) {
	listing := &Listing{
		MarketplaceData: map[string]interface{}{"sku": "ICHIBA-EBAY-prd_1", "offer_id": "old"},
	}

	merged := listing.MergeMarketplaceData(map[string]interface{}{"offer_id": "new", "listing_id": "123"})

	assert.Equal(t, "ICHIBA-EBAY-prd_1", merged["sku"])
	assert.Equal(t, "new", merged["offer_id"])
	assert.Equal(t, "123", merged["listing_id"])
	assert.Equal(t, merged, listing.MarketplaceData)
}

func TestValidationMapResult(t *testing.T) {
	assert.Equal(t, ValidationApproved, Validation{Passed: true, Severity: SeverityLow}.MapResult())
	assert.Equal(t, ValidationReviewRequired, Validation{Severity: SeverityMedium, Flags: []string{"copy"}}.MapResult())
	assert.Equal(t, ValidationReviewRequired, Validation{Severity: SeverityLow, Flags: []string{"odd"}}.MapResult())
	assert.Equal(t, ValidationRejected, Validation{Severity: SeverityHigh}.MapResult())
	assert.Equal(t, ValidationRejected, Validation{Severity: SeverityCritical}.MapResult())
}

func TestListingDataString(t *testing.T) {
	listing := &Listing{}
	assert.Equal(t, "", listing.DataString("sku"))

	listing.MarketplaceData = map[string]interface{}{"sku": "ICHIBA-EBAY-prd_1", "count": 3}
	assert.Equal(t, "ICHIBA-EBAY-prd_1", listing.DataString("sku"))
	assert.Equal(t, "", listing.DataString("count"))
	assert.Equal(t, "", listing.DataString("missing"))
}
