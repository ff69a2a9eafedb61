package config

import (
	"encoding/json"
	"os"
	"testing"
)

func TestValidateAndAddDefaults(t *testing.T) {
	cnf := Configuration{
		DataSource: DataSourceConfig{Dns: ""},
		Redis:      RedisConfig{Dns: "localhost:6379"},
	}

	err := cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "data source DNS is required" {
		t.Errorf("Expected data source DNS required error, got %v", err)
	}

	cnf = Configuration{
		DataSource: DataSourceConfig{Dns: "postgres://localhost:5432"},
		Redis:      RedisConfig{Dns: ""},
	}

	err = cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "redis DNS is required" {
		t.Errorf("Expected redis DNS required error, got %v", err)
	}

	cnf = Configuration{
		DataSource: DataSourceConfig{Dns: "postgres://localhost:5432"},
		Redis:      RedisConfig{Dns: "localhost:6379"},
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	if cnf.ProjectName != "Ichiba" {
		t.Errorf("Expected default project name Ichiba, got %s", cnf.ProjectName)
	}
	if cnf.Queue.PublishQueue != "publish" || cnf.Queue.EnrichmentQueue != "enrichment" ||
		cnf.Queue.OrderSyncQueue != "order_sync" || cnf.Queue.WebhookQueue != "webhook" {
		t.Errorf("Expected default queue names, got %+v", cnf.Queue)
	}
	if cnf.Queue.Concurrency != 3 {
		t.Errorf("Expected default concurrency 3, got %d", cnf.Queue.Concurrency)
	}
	if cnf.Queue.MaxRetryAttempts != 5 {
		t.Errorf("Expected default max retry attempts 5, got %d", cnf.Queue.MaxRetryAttempts)
	}
	if cnf.Ebay.MarketplaceId != "EBAY_US" {
		t.Errorf("Expected default marketplace EBAY_US, got %s", cnf.Ebay.MarketplaceId)
	}
	if cnf.Pricing.BaseProfitRate != 0.3 {
		t.Errorf("Expected default profit rate 0.3, got %f", cnf.Pricing.BaseProfitRate)
	}
	if cnf.Pricing.PlatformFeeRate != 0.1325 {
		t.Errorf("Expected default platform fee 0.1325, got %f", cnf.Pricing.PlatformFeeRate)
	}
	if cnf.Pricing.DefaultJpyUsd != 150 {
		t.Errorf("Expected default JPY/USD rate 150, got %f", cnf.Pricing.DefaultJpyUsd)
	}
	if cnf.Image.MaxWidth != 1200 || cnf.Image.MaxHeight != 1200 || cnf.Image.Quality != 85 {
		t.Errorf("Expected default image settings, got %+v", cnf.Image)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "ichiba.json")
	if err != nil {
		t.Fatalf("Unable to create temporary file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	sampleConfig := Configuration{
		ProjectName: "Temp Project",
		DataSource:  DataSourceConfig{Dns: "temp-dns"},
		Redis:       RedisConfig{Dns: "temp-redis"},
	}
	if err := json.NewEncoder(tmpFile).Encode(sampleConfig); err != nil {
		t.Fatalf("Unable to write to temporary file: %v", err)
	}
	tmpFile.Close()

	// Environment variables override file values.
	os.Setenv("ICHIBA_PROJECT_NAME", "Env Project")
	defer os.Unsetenv("ICHIBA_PROJECT_NAME")

	if err := loadConfigFromFile(tmpFile.Name()); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	cnf, err := Fetch()
	if err != nil {
		t.Fatalf("Expected config to be loaded, got %v", err)
	}
	if cnf.ProjectName != "Env Project" {
		t.Errorf("Expected project name from environment, got %s", cnf.ProjectName)
	}
	if cnf.DataSource.Dns != "temp-dns" {
		t.Errorf("Expected data source DNS from file, got %s", cnf.DataSource.Dns)
	}
}
