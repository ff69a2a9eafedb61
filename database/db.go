package database

import (
	"database/sql"
	"log"
	"sync"

	"github.com/ichiba-io/ichiba/config"
	"github.com/ichiba-io/ichiba/internal/cache"
)

// Declare a package-level variable to hold the singleton instance.
// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn  *sql.DB
	Cache cache.Cache
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		instance = &Datasource{Conn: con, Cache: nil}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database Connection error ❌: %v", err)
		return nil, err
	}
	err = createProductTable(db)
	if err != nil {
		return nil, err
	}
	err = createEnrichmentTaskTable(db)
	if err != nil {
		return nil, err
	}
	err = createEnrichmentStepTable(db)
	if err != nil {
		return nil, err
	}
	err = createProhibitedKeywordTable(db)
	if err != nil {
		return nil, err
	}
	err = createExchangeRateTable(db)
	if err != nil {
		return nil, err
	}
	err = createCredentialTable(db)
	if err != nil {
		return nil, err
	}
	err = createListingTable(db)
	if err != nil {
		return nil, err
	}
	err = createPriceHistoryTable(db)
	if err != nil {
		return nil, err
	}
	err = createOrderTable(db)
	if err != nil {
		return nil, err
	}
	err = createSaleTable(db)
	if err != nil {
		return nil, err
	}
	err = createInventoryEventTable(db)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// createProductTable creates a PostgreSQL table for the Product struct
func createProductTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS products (
			id SERIAL PRIMARY KEY,
			product_id TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL,
			title_en TEXT,
			description TEXT,
			description_en TEXT,
			price NUMERIC(12,2) NOT NULL,
			currency TEXT NOT NULL DEFAULT 'JPY',
			images JSONB,
			processed_images JSONB,
			weight NUMERIC(10,2),
			condition TEXT,
			category TEXT,
			brand TEXT,
			stock INT NOT NULL DEFAULT 1,
			status TEXT NOT NULL DEFAULT 'ACTIVE',
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
			meta_data JSONB
		)
	`)
	log.Println(err)
	return err
}

// createEnrichmentTaskTable creates a PostgreSQL table for the EnrichmentTask struct
func createEnrichmentTaskTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS enrichment_tasks (
			id SERIAL PRIMARY KEY,
			task_id TEXT NOT NULL UNIQUE,
			product_id TEXT NOT NULL UNIQUE REFERENCES products(product_id),
			priority INT NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'PENDING',
			translations JSONB,
			attributes JSONB,
			validation JSONB,
			validation_result TEXT,
			pricing JSONB,
			buffered_images JSONB,
			optimized_images JSONB,
			image_status TEXT,
			error_count INT NOT NULL DEFAULT 0,
			last_error TEXT,
			started_at TIMESTAMP,
			completed_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	log.Println(err)
	return err
}

// createEnrichmentStepTable creates a PostgreSQL table for the EnrichmentStep struct
func createEnrichmentStepTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS enrichment_steps (
			id SERIAL PRIMARY KEY,
			step_id TEXT NOT NULL UNIQUE,
			task_id TEXT NOT NULL REFERENCES enrichment_tasks(task_id),
			step_type TEXT NOT NULL,
			step_order INT NOT NULL,
			status TEXT NOT NULL,
			output JSONB,
			error_message TEXT,
			started_at TIMESTAMP NOT NULL DEFAULT NOW(),
			completed_at TIMESTAMP
		)
	`)
	log.Println(err)
	return err
}

func createProhibitedKeywordTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS prohibited_keywords (
			id SERIAL PRIMARY KEY,
			keyword TEXT NOT NULL UNIQUE,
			category TEXT,
			severity TEXT NOT NULL DEFAULT 'medium',
			is_active BOOLEAN NOT NULL DEFAULT TRUE
		)
	`)
	log.Println(err)
	return err
}

func createExchangeRateTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS exchange_rates (
			id SERIAL PRIMARY KEY,
			from_currency TEXT NOT NULL,
			to_currency TEXT NOT NULL,
			rate NUMERIC(12,6) NOT NULL,
			fetched_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	log.Println(err)
	return err
}

// createCredentialTable creates a PostgreSQL table for the MarketplaceCredential struct
func createCredentialTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS marketplace_credentials (
			id SERIAL PRIMARY KEY,
			credential_id TEXT NOT NULL UNIQUE,
			marketplace TEXT NOT NULL,
			label TEXT,
			api_base_url TEXT NOT NULL,
			access_token TEXT NOT NULL,
			refresh_token TEXT,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			expires_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	log.Println(err)
	return err
}

// createListingTable creates a PostgreSQL table for the Listing struct
func createListingTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS listings (
			id SERIAL PRIMARY KEY,
			listing_id TEXT NOT NULL UNIQUE,
			product_id TEXT NOT NULL REFERENCES products(product_id),
			marketplace TEXT NOT NULL,
			credential_id TEXT,
			status TEXT NOT NULL DEFAULT 'DRAFT',
			listing_price NUMERIC(12,2),
			currency TEXT NOT NULL DEFAULT 'USD',
			marketplace_listing_id TEXT,
			marketplace_data JSONB,
			error_message TEXT,
			listed_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
			UNIQUE (product_id, marketplace, credential_id)
		)
	`)
	log.Println(err)
	return err
}

func createPriceHistoryTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS price_history (
			id SERIAL PRIMARY KEY,
			listing_id TEXT NOT NULL REFERENCES listings(listing_id),
			price NUMERIC(12,2) NOT NULL,
			source TEXT NOT NULL,
			meta_data JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	log.Println(err)
	return err
}

// createOrderTable creates a PostgreSQL table for the Order struct
func createOrderTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS orders (
			id SERIAL PRIMARY KEY,
			order_id TEXT NOT NULL UNIQUE,
			marketplace TEXT NOT NULL,
			marketplace_order_id TEXT NOT NULL,
			buyer_username TEXT,
			buyer_name TEXT,
			shipping_address JSONB,
			subtotal NUMERIC(12,2),
			shipping_cost NUMERIC(12,2),
			tax NUMERIC(12,2),
			total NUMERIC(12,2),
			currency TEXT NOT NULL DEFAULT 'USD',
			status TEXT NOT NULL,
			payment_status TEXT,
			fulfillment_status TEXT NOT NULL DEFAULT 'UNFULFILLED',
			tracking_number TEXT,
			tracking_carrier TEXT,
			raw_data JSONB,
			ordered_at TIMESTAMP NOT NULL,
			shipped_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
			UNIQUE (marketplace, marketplace_order_id)
		)
	`)
	log.Println(err)
	return err
}

// createSaleTable creates a PostgreSQL table for the Sale struct
func createSaleTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sales (
			id SERIAL PRIMARY KEY,
			sale_id TEXT NOT NULL UNIQUE,
			order_id TEXT NOT NULL REFERENCES orders(order_id),
			line_item_id TEXT NOT NULL,
			listing_id TEXT,
			product_id TEXT,
			sku TEXT,
			title TEXT,
			quantity INT NOT NULL DEFAULT 1,
			unit_price NUMERIC(12,2),
			total_price NUMERIC(12,2),
			marketplace_item_id TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			UNIQUE (order_id, line_item_id)
		)
	`)
	log.Println(err)
	return err
}

func createInventoryEventTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS inventory_events (
			id SERIAL PRIMARY KEY,
			event_id TEXT NOT NULL UNIQUE,
			product_id TEXT NOT NULL REFERENCES products(product_id),
			event_type TEXT NOT NULL,
			quantity INT NOT NULL,
			prev_stock INT NOT NULL,
			new_stock INT NOT NULL,
			marketplace TEXT,
			order_id TEXT,
			reason TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	log.Println(err)
	return err
}
