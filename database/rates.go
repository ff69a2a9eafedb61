package database

import (
	"context"
	"database/sql"

	"go.opentelemetry.io/otel"

	"github.com/ichiba-io/ichiba/internal/apierror"
	"github.com/ichiba-io/ichiba/model"
)

// GetLatestRate retrieves the most recent exchange rate for a currency pair
func (d Datasource) GetLatestRate(ctx context.Context, from, to string) (*model.ExchangeRate, error) {
	ctx, span := otel.Tracer("Rates").Start(ctx, "Fetching exchange rate from db")
	defer span.End()

	rate := &model.ExchangeRate{}
	err := d.Conn.QueryRowContext(ctx, `
		SELECT id, from_currency, to_currency, rate, fetched_at
		FROM exchange_rates
		WHERE from_currency = $1 AND to_currency = $2
		ORDER BY fetched_at DESC
		LIMIT 1
	`, from, to).Scan(&rate.ID, &rate.FromCurrency, &rate.ToCurrency, &rate.Rate, &rate.FetchedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Exchange rate not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve exchange rate", err)
	}

	return rate, nil
}

// RecordRate stores a fetched exchange rate
func (d Datasource) RecordRate(ctx context.Context, rate *model.ExchangeRate) error {
	ctx, span := otel.Tracer("Rates").Start(ctx, "Saving exchange rate to db")
	defer span.End()

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO exchange_rates (from_currency, to_currency, rate)
		VALUES ($1, $2, $3)
	`, rate.FromCurrency, rate.ToCurrency, rate.Rate)
	return err
}
