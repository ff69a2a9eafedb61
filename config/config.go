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

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

var ConfigStore atomic.Value

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"ICHIBA_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"ICHIBA_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"ICHIBA_REDIS_SKIP_TLS_VERIFY"`
}

// StorageConfig holds the S3/MinIO connection settings used by the image
// pipeline. CdnBaseUrl, when set, is used to build externally reachable
// URLs for uploaded objects; when empty, presigned URLs are used instead.
type StorageConfig struct {
	Endpoint        string `json:"endpoint" envconfig:"ICHIBA_S3_ENDPOINT"`
	AccessKeyId     string `json:"access_key_id" envconfig:"ICHIBA_S3_ACCESS_KEY_ID"`
	SecretAccessKey string `json:"secret_access_key" envconfig:"ICHIBA_S3_SECRET_ACCESS_KEY"`
	Bucket          string `json:"bucket" envconfig:"ICHIBA_S3_BUCKET"`
	Region          string `json:"region" envconfig:"ICHIBA_S3_REGION"`
	ForcePathStyle  bool   `json:"force_path_style" envconfig:"ICHIBA_S3_FORCE_PATH_STYLE"`
	CdnBaseUrl      string `json:"cdn_base_url" envconfig:"ICHIBA_CDN_BASE_URL"`
}

type QueueConfig struct {
	PublishQueue     string `json:"publish_queue"`
	EnrichmentQueue  string `json:"enrichment_queue"`
	OrderSyncQueue   string `json:"order_sync_queue"`
	WebhookQueue     string `json:"webhook_queue"`
	Concurrency      int    `json:"concurrency" envconfig:"ICHIBA_QUEUE_CONCURRENCY"`
	MaxRetryAttempts int    `json:"max_retry_attempts" envconfig:"ICHIBA_QUEUE_MAX_RETRY_ATTEMPTS"`
	MonitoringPort   string `json:"monitoring_port" envconfig:"ICHIBA_QUEUE_MONITORING_PORT"`
}

// EbayConfig carries the pieces of eBay configuration that are not part of
// the per-account credential record. The three policy IDs come from the
// seller account setup and are read from the environment.
type EbayConfig struct {
	MarketplaceId       string  `json:"marketplace_id" envconfig:"ICHIBA_EBAY_MARKETPLACE_ID"`
	FulfillmentPolicyId string  `json:"fulfillment_policy_id" envconfig:"EBAY_FULFILLMENT_POLICY_ID"`
	PaymentPolicyId     string  `json:"payment_policy_id" envconfig:"EBAY_PAYMENT_POLICY_ID"`
	ReturnPolicyId      string  `json:"return_policy_id" envconfig:"EBAY_RETURN_POLICY_ID"`
	RequestsPerSecond   float64 `json:"requests_per_second" envconfig:"ICHIBA_EBAY_RPS"`
	Burst               int     `json:"burst" envconfig:"ICHIBA_EBAY_BURST"`
}

type EnrichmentConfig struct {
	ProviderUrl string `json:"provider_url" envconfig:"ICHIBA_ENRICHMENT_PROVIDER_URL"`
	ApiKey      string `json:"api_key" envconfig:"ICHIBA_ENRICHMENT_API_KEY"`
	Model       string `json:"model" envconfig:"ICHIBA_ENRICHMENT_MODEL"`
	TimeoutSec  int    `json:"timeout_sec" envconfig:"ICHIBA_ENRICHMENT_TIMEOUT_SEC"`
}

type PricingConfig struct {
	BaseProfitRate  float64 `json:"base_profit_rate"`
	PlatformFeeRate float64 `json:"platform_fee_rate"`
	PaymentFeeRate  float64 `json:"payment_fee_rate"`
	ShippingCostUsd float64 `json:"shipping_cost_usd"`
	DefaultJpyUsd   float64 `json:"default_jpy_usd_rate"`
}

type ImageConfig struct {
	MaxWidth    int    `json:"max_width"`
	MaxHeight   int    `json:"max_height"`
	Quality     int    `json:"quality"`
	Format      string `json:"format"`
	Concurrency int    `json:"concurrency"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName  string           `json:"project_name" envconfig:"ICHIBA_PROJECT_NAME"`
	DataSource   DataSourceConfig `json:"data_source"`
	Redis        RedisConfig      `json:"redis"`
	Storage      StorageConfig    `json:"storage"`
	Queue        QueueConfig      `json:"queue"`
	Ebay         EbayConfig       `json:"ebay"`
	Enrichment   EnrichmentConfig `json:"enrichment"`
	Pricing      PricingConfig    `json:"pricing"`
	Image        ImageConfig      `json:"image"`
	Notification Notification     `json:"notification"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("ichiba", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called ichiba.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Ichiba"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Queue.PublishQueue == "" {
		cnf.Queue.PublishQueue = "publish"
	}
	if cnf.Queue.EnrichmentQueue == "" {
		cnf.Queue.EnrichmentQueue = "enrichment"
	}
	if cnf.Queue.OrderSyncQueue == "" {
		cnf.Queue.OrderSyncQueue = "order_sync"
	}
	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = "webhook"
	}
	// Low bounded concurrency keeps us inside marketplace rate limits.
	if cnf.Queue.Concurrency <= 0 {
		cnf.Queue.Concurrency = 3
	}
	if cnf.Queue.MaxRetryAttempts <= 0 {
		cnf.Queue.MaxRetryAttempts = 5
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5004"
	}

	if cnf.Ebay.MarketplaceId == "" {
		cnf.Ebay.MarketplaceId = "EBAY_US"
	}
	if cnf.Ebay.RequestsPerSecond <= 0 {
		cnf.Ebay.RequestsPerSecond = 5
	}
	if cnf.Ebay.Burst <= 0 {
		cnf.Ebay.Burst = 10
	}

	if cnf.Enrichment.Model == "" {
		cnf.Enrichment.Model = "gpt-4o"
	}
	if cnf.Enrichment.TimeoutSec <= 0 {
		cnf.Enrichment.TimeoutSec = 60
	}

	if cnf.Pricing.BaseProfitRate <= 0 {
		cnf.Pricing.BaseProfitRate = 0.3
	}
	if cnf.Pricing.PlatformFeeRate <= 0 {
		cnf.Pricing.PlatformFeeRate = 0.1325
	}
	if cnf.Pricing.DefaultJpyUsd <= 0 {
		cnf.Pricing.DefaultJpyUsd = 150
	}

	if cnf.Image.MaxWidth <= 0 {
		cnf.Image.MaxWidth = 1200
	}
	if cnf.Image.MaxHeight <= 0 {
		cnf.Image.MaxHeight = 1200
	}
	if cnf.Image.Quality <= 0 {
		cnf.Image.Quality = 85
	}
	if cnf.Image.Format == "" {
		cnf.Image.Format = "jpeg"
	}
	if cnf.Image.Concurrency <= 0 {
		cnf.Image.Concurrency = 4
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
