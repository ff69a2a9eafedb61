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
	"time"

	"github.com/shopspring/decimal"

	"github.com/ichiba-io/ichiba/config"
	"github.com/ichiba-io/ichiba/internal/apierror"
	"github.com/ichiba-io/ichiba/model"
)

// Marketplace fee rates applied during price calculation. The payment fee
// only applies on marketplaces that charge it separately from the platform
// fee.
const (
	EbayFeeRate        = 0.1325
	JoomFeeRate        = 0.15
	JoomPaymentFeeRate = 0.029
)

// PriceParams are the inputs to a price calculation.
type PriceParams struct {
	CostJpy      float64
	ExchangeRate float64 // JPY per USD
	ProfitRate   float64
	PlatformFee  float64
	PaymentFee   float64
	ShippingUsd  float64
}

// CalculatePrice converts a JPY cost into a USD listing price. The margin is
// applied on top of cost, shipping is added, then marketplace fees are
// backed out by dividing through (1 - fees) so the fees come out of the
// final price rather than the margin. The result is rounded up to the cent;
// rounding down would undercut the margin on every listing.
func CalculatePrice(params PriceParams) (*model.Pricing, error) {
	if params.CostJpy <= 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Cost must be positive", nil)
	}
	if params.ExchangeRate <= 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Exchange rate must be positive", nil)
	}
	feeTotal := params.PlatformFee + params.PaymentFee
	if feeTotal >= 1 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Combined fee rates must be below 100%", nil)
	}

	costJpy := decimal.NewFromFloat(params.CostJpy)
	rate := decimal.NewFromFloat(params.ExchangeRate)
	costUsd := costJpy.Div(rate)

	base := costUsd.Mul(decimal.NewFromFloat(1).Add(decimal.NewFromFloat(params.ProfitRate)))
	base = base.Add(decimal.NewFromFloat(params.ShippingUsd))

	feeDivisor := decimal.NewFromFloat(1).Sub(decimal.NewFromFloat(feeTotal))
	price := base.Div(feeDivisor)

	// Round up to the cent.
	cents := price.Mul(decimal.NewFromInt(100)).Ceil()
	finalPrice := cents.Div(decimal.NewFromInt(100))

	costUsdRounded, _ := costUsd.Round(2).Float64()
	finalFloat, _ := finalPrice.Float64()

	return &model.Pricing{
		CostJpy:       params.CostJpy,
		CostUsd:       costUsdRounded,
		ExchangeRate:  params.ExchangeRate,
		ProfitRate:    params.ProfitRate,
		PlatformFee:   params.PlatformFee,
		PaymentFee:    params.PaymentFee,
		ShippingCost:  params.ShippingUsd,
		FinalPriceUsd: finalFloat,
	}, nil
}

// CalculateEbayPrice prices a JPY cost for an eBay listing. eBay listings
// ship free, so no shipping charge enters the price.
func CalculateEbayPrice(costJpy, exchangeRate, profitRate float64) (*model.Pricing, error) {
	return CalculatePrice(PriceParams{
		CostJpy:      costJpy,
		ExchangeRate: exchangeRate,
		ProfitRate:   profitRate,
		PlatformFee:  EbayFeeRate,
	})
}

// CalculateJoomPrice prices a JPY cost for a Joom listing, including the
// flat shipping charge and payment processing fee.
func CalculateJoomPrice(costJpy, exchangeRate, profitRate, shippingUsd float64) (*model.Pricing, error) {
	return CalculatePrice(PriceParams{
		CostJpy:      costJpy,
		ExchangeRate: exchangeRate,
		ProfitRate:   profitRate,
		PlatformFee:  JoomFeeRate,
		PaymentFee:   JoomPaymentFeeRate,
		ShippingUsd:  shippingUsd,
	})
}

const exchangeRateCacheKey = "rates:JPY:USD"
const exchangeRateTTL = 1 * time.Hour

// GetExchangeRate returns the JPY to USD rate, preferring the Redis cache,
// then the latest stored rate, then the configured default. A stale rate
// beats a failed price calculation, so errors never propagate from here.
func (i *Ichiba) GetExchangeRate(ctx context.Context) float64 {
	fallback := float64(150)
	cfg, err := config.Fetch()
	if err == nil && cfg.Pricing.DefaultJpyUsd > 0 {
		fallback = cfg.Pricing.DefaultJpyUsd
	}

	if i.redis != nil {
		if cached, err := i.redis.Get(ctx, exchangeRateCacheKey).Float64(); err == nil && cached > 0 {
			return cached
		}
	}

	rate, err := i.datasource.GetLatestRate(ctx, "JPY", "USD")
	if err != nil || rate.Rate <= 0 {
		return fallback
	}

	if i.redis != nil {
		i.redis.Set(ctx, exchangeRateCacheKey, rate.Rate, exchangeRateTTL)
	}
	return rate.Rate
}
