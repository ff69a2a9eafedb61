package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/ichiba-io/ichiba/model"
)

func TestCreateEnrichmentTask_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("INSERT INTO enrichment_tasks").
		WillReturnResult(sqlmock.NewResult(1, 1))

	task, err := ds.CreateEnrichmentTask(context.Background(), &model.EnrichmentTask{ProductID: "prd_1"})
	assert.NoError(t, err)
	assert.Contains(t, task.TaskID, "task_")
	assert.Equal(t, model.TaskStatusPending, task.Status)
	assert.WithinDuration(t, time.Now(), task.CreatedAt, time.Second)
}

func TestCreateEnrichmentTask_DuplicateProduct(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("INSERT INTO enrichment_tasks").
		WillReturnError(&pq.Error{Code: "23505", Message: "unique_violation"})

	_, err = ds.CreateEnrichmentTask(context.Background(), &model.EnrichmentTask{ProductID: "prd_1"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already exists for this product")
}

func TestCreateEnrichmentTask_MissingProduct(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("INSERT INTO enrichment_tasks").
		WillReturnError(&pq.Error{Code: "23503", Message: "foreign_key_violation"})

	_, err = ds.CreateEnrichmentTask(context.Background(), &model.EnrichmentTask{ProductID: "prd_missing"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "Product not found")
}

func TestGetActiveCredential_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("FROM marketplace_credentials WHERE marketplace = (.+) AND is_active = TRUE").
		WithArgs("EBAY").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "credential_id", "marketplace", "label", "api_base_url", "access_token",
			"refresh_token", "is_active", "expires_at", "created_at",
		}).AddRow(1, "cred_1", "EBAY", "main", "https://api.ebay.com", "token-123", "", true, nil, time.Now()))

	cred, err := ds.GetActiveCredential(context.Background(), "EBAY")
	assert.NoError(t, err)
	assert.Equal(t, "cred_1", cred.CredentialID)
	assert.Equal(t, "https://api.ebay.com", cred.ApiBaseUrl)
	assert.True(t, cred.IsActive)
}

func TestGetActiveCredential_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("FROM marketplace_credentials WHERE marketplace = (.+) AND is_active = TRUE").
		WithArgs("JOOM").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = ds.GetActiveCredential(context.Background(), "JOOM")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "Credential not found")
}
