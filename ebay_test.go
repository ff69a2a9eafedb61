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

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
)

func TestEbayCondition(t *testing.T) {
	assert.Equal(t, "NEW", EbayCondition("new"))
	assert.Equal(t, "LIKE_NEW", EbayCondition("Like_New"))
	assert.Equal(t, "USED_EXCELLENT", EbayCondition("good"))
	assert.Equal(t, "USED_GOOD", EbayCondition("fair"))
	assert.Equal(t, "USED_ACCEPTABLE", EbayCondition("poor"))
	assert.Equal(t, "USED_GOOD", EbayCondition("junk"))
	assert.Equal(t, "USED_GOOD", EbayCondition(""))
}

func TestNewEbayOffer(t *testing.T) {
	ich, _ := newTestIchiba(t)

	offer := ich.ebay.NewEbayOffer("ICHIBA-EBAY-prd_1", "31387", "Automatic movement, runs well", 14.9)
	assert.Equal(t, "ICHIBA-EBAY-prd_1", offer.Sku)
	assert.Equal(t, "EBAY_US", offer.MarketplaceId)
	assert.Equal(t, "FIXED_PRICE", offer.Format)
	assert.Equal(t, 1, offer.AvailableQuantity)
	assert.Equal(t, "31387", offer.CategoryId)
	assert.Equal(t, "14.90", offer.PricingSummary.Price.Value)
	assert.Equal(t, "USD", offer.PricingSummary.Price.Currency)
}

func TestSuggestCategory(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder(http.MethodGet, `=~get_category_suggestions`,
		httpmock.NewStringResponder(200, `{"categorySuggestions":[
			{"category":{"categoryId":"281","categoryName":"Jewelry & Watches"}},
			{"category":{"categoryId":"31387","categoryName":"Watches"}}
		]}`))

	ich, mock := newTestIchiba(t)
	mock.ExpectQuery("FROM marketplace_credentials WHERE marketplace =").
		WithArgs("EBAY").
		WillReturnRows(credentialRow())

	// The API ranks "Jewelry & Watches" first; the literal name match wins.
	categoryID, err := ich.ebay.SuggestCategory(context.Background(), "Watches", "Vintage Seiko Watch")
	assert.NoError(t, err)
	assert.Equal(t, "31387", categoryID)
}

func TestSuggestCategoryNoSuggestions(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder(http.MethodGet, `=~get_category_suggestions`,
		httpmock.NewStringResponder(200, `{"categorySuggestions":[]}`))

	ich, mock := newTestIchiba(t)
	mock.ExpectQuery("FROM marketplace_credentials WHERE marketplace =").
		WithArgs("EBAY").
		WillReturnRows(credentialRow())

	_, err := ich.ebay.SuggestCategory(context.Background(), "Watches", "")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "No category suggestions")
}
