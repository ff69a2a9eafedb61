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
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

func TestCalculateEbayPrice(t *testing.T) {
	// 1500 JPY at 150 JPY/USD is a $10 cost; 30% margin and the 13.25%
	// final value fee land on $14.99.
	pricing, err := CalculateEbayPrice(1500, 150, 0.3)
	assert.NoError(t, err)
	assert.Equal(t, 14.99, pricing.FinalPriceUsd)
	assert.Equal(t, 10.0, pricing.CostUsd)
	assert.Equal(t, EbayFeeRate, pricing.PlatformFee)
	assert.Equal(t, 0.0, pricing.PaymentFee)
	assert.Equal(t, 0.0, pricing.ShippingCost)
}

func TestCalculateJoomPrice(t *testing.T) {
	pricing, err := CalculateJoomPrice(1500, 150, 0.3, 5.0)
	assert.NoError(t, err)
	assert.Equal(t, JoomFeeRate, pricing.PlatformFee)
	assert.Equal(t, JoomPaymentFeeRate, pricing.PaymentFee)
	assert.Equal(t, 5.0, pricing.ShippingCost)
	// (13 + 5) / (1 - 0.15 - 0.029), rounded up to the cent.
	assert.Equal(t, 21.93, pricing.FinalPriceUsd)
}

func TestCalculatePriceRoundsUp(t *testing.T) {
	// A price that is already whole cents stays put; anything between
	// cents always moves up, never down.
	exact, err := CalculatePrice(PriceParams{CostJpy: 1500, ExchangeRate: 150, ProfitRate: 0.3, PlatformFee: 0.1325})
	assert.NoError(t, err)

	bumped, err := CalculatePrice(PriceParams{CostJpy: 1501, ExchangeRate: 150, ProfitRate: 0.3, PlatformFee: 0.1325})
	assert.NoError(t, err)
	assert.Greater(t, bumped.FinalPriceUsd, exact.FinalPriceUsd)
}

func TestCalculatePriceMonotonic(t *testing.T) {
	prev := 0.0
	for _, cost := range []float64{500, 1000, 1500, 3000, 10000} {
		pricing, err := CalculatePrice(PriceParams{CostJpy: cost, ExchangeRate: 150, ProfitRate: 0.3, PlatformFee: EbayFeeRate})
		assert.NoError(t, err)
		assert.Greater(t, pricing.FinalPriceUsd, prev)
		prev = pricing.FinalPriceUsd
	}
}

func TestCalculatePriceInvalidInputs(t *testing.T) {
	cases := []PriceParams{
		{CostJpy: 0, ExchangeRate: 150, ProfitRate: 0.3, PlatformFee: 0.1325},
		{CostJpy: -100, ExchangeRate: 150, ProfitRate: 0.3, PlatformFee: 0.1325},
		{CostJpy: 1500, ExchangeRate: 0, ProfitRate: 0.3, PlatformFee: 0.1325},
		{CostJpy: 1500, ExchangeRate: 150, ProfitRate: 0.3, PlatformFee: 0.7, PaymentFee: 0.3},
	}
	for _, params := range cases {
		_, err := CalculatePrice(params)
		assert.Error(t, err, "%+v", params)
	}
}

func TestGetExchangeRate(t *testing.T) {
	t.Run("Cached rate wins", func(t *testing.T) {
		ich, _ := newTestIchiba(t)
		ctx := context.Background()

		ich.redis.Set(ctx, exchangeRateCacheKey, 151.5, time.Minute)
		assert.Equal(t, 151.5, ich.GetExchangeRate(ctx))
	})

	t.Run("Database rate cached for next call", func(t *testing.T) {
		ich, mock := newTestIchiba(t)
		ctx := context.Background()

		rows := sqlmock.NewRows([]string{"id", "from_currency", "to_currency", "rate", "fetched_at"}).
			AddRow(1, "JPY", "USD", 148.2, time.Now())
		mock.ExpectQuery("SELECT id, from_currency, to_currency, rate, fetched_at FROM exchange_rates").
			WithArgs("JPY", "USD").
			WillReturnRows(rows)

		assert.Equal(t, 148.2, ich.GetExchangeRate(ctx))
		// Second call hits the cache, no second query expected.
		assert.Equal(t, 148.2, ich.GetExchangeRate(ctx))

		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("there were unfulfilled expectations: %s", err)
		}
	})

	t.Run("Falls back to configured default", func(t *testing.T) {
		ich, _ := newTestIchiba(t)
		// No cached value and the unexpected query errors out of sqlmock.
		assert.Equal(t, 150.0, ich.GetExchangeRate(context.Background()))
	})
}
