package database

import (
	"context"
	"database/sql"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/ichiba-io/ichiba/internal/apierror"
	"github.com/ichiba-io/ichiba/model"
)

const credentialSelect = `
	SELECT id, credential_id, marketplace, COALESCE(label, ''), api_base_url, access_token, COALESCE(refresh_token, ''), is_active, expires_at, created_at
	FROM marketplace_credentials`

func (d Datasource) scanCredential(row rowScanner) (*model.MarketplaceCredential, error) {
	cred := &model.MarketplaceCredential{}
	var expiresAt sql.NullTime

	err := row.Scan(
		&cred.ID, &cred.CredentialID, &cred.Marketplace, &cred.Label, &cred.ApiBaseUrl,
		&cred.AccessToken, &cred.RefreshToken, &cred.IsActive, &expiresAt, &cred.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Credential not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve credential", err)
	}
	if expiresAt.Valid {
		cred.ExpiresAt = expiresAt.Time
	}

	return cred, nil
}

// GetActiveCredential retrieves the active credential for a marketplace. When
// several are active the most recently created wins.
func (d Datasource) GetActiveCredential(ctx context.Context, marketplace string) (*model.MarketplaceCredential, error) {
	ctx, span := otel.Tracer("Credential").Start(ctx, "Fetching active credential from db")
	defer span.End()

	return d.scanCredential(d.Conn.QueryRowContext(ctx, credentialSelect+`
		WHERE marketplace = $1 AND is_active = TRUE
		ORDER BY created_at DESC
		LIMIT 1
	`, marketplace))
}

// GetCredential retrieves a credential by its ID
func (d Datasource) GetCredential(ctx context.Context, id string) (*model.MarketplaceCredential, error) {
	ctx, span := otel.Tracer("Credential").Start(ctx, "Fetching credential from db")
	defer span.End()

	return d.scanCredential(d.Conn.QueryRowContext(ctx, credentialSelect+` WHERE credential_id = $1`, id))
}

// UpdateCredentialTokens stores refreshed tokens on a credential
func (d Datasource) UpdateCredentialTokens(ctx context.Context, id string, accessToken, refreshToken string, expiresAt time.Time) error {
	ctx, span := otel.Tracer("Credential").Start(ctx, "Updating credential tokens")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE marketplace_credentials
		SET access_token = $2, refresh_token = $3, expires_at = $4
		WHERE credential_id = $1
	`, id, accessToken, refreshToken, expiresAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update credential tokens", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Credential not found", nil)
	}
	return nil
}
