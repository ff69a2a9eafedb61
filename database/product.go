package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"

	"github.com/ichiba-io/ichiba/internal/apierror"
	"github.com/ichiba-io/ichiba/model"
)

// CreateProduct inserts a new product record into the database
func (d Datasource) CreateProduct(ctx context.Context, prd *model.Product) (*model.Product, error) {
	ctx, span := otel.Tracer("Product").Start(ctx, "Saving product to db")
	defer span.End()

	metaDataJSON, err := json.Marshal(prd.MetaData)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}
	imagesJSON, err := json.Marshal(prd.Images)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal images", err)
	}

	prd.ProductID = model.GenerateUUIDWithSuffix("prd")
	prd.CreatedAt = time.Now()
	if prd.Status == "" {
		prd.Status = model.ProductStatusActive
	}
	if prd.Stock == 0 {
		prd.Stock = 1
	}
	if prd.Currency == "" {
		prd.Currency = "JPY"
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO products (product_id, title, title_en, description, description_en, price, currency, images, weight, condition, category, brand, stock, status, meta_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, prd.ProductID, prd.Title, prd.TitleEn, prd.Description, prd.DescriptionEn, prd.Price, prd.Currency, imagesJSON, prd.Weight, prd.Condition, prd.Category, prd.Brand, prd.Stock, prd.Status, metaDataJSON)

	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "unique_violation" {
			return nil, apierror.NewAPIError(apierror.ErrConflict, "Product with this ID already exists", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create product", err)
	}

	return prd, nil
}

// GetProduct retrieves a product by its ID
func (d Datasource) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	ctx, span := otel.Tracer("Product").Start(ctx, "Fetching product from db")
	defer span.End()

	prd := &model.Product{}
	var imagesJSON, processedJSON, metaDataJSON []byte

	err := d.Conn.QueryRowContext(ctx, `
		SELECT id, product_id, title, COALESCE(title_en, ''), COALESCE(description, ''), COALESCE(description_en, ''), price, currency, COALESCE(images, 'null'), COALESCE(processed_images, 'null'), COALESCE(weight, 0), COALESCE(condition, ''), COALESCE(category, ''), COALESCE(brand, ''), stock, status, COALESCE(meta_data, 'null'), created_at, updated_at
		FROM products
		WHERE product_id = $1
	`, id).Scan(
		&prd.ID, &prd.ProductID, &prd.Title, &prd.TitleEn, &prd.Description, &prd.DescriptionEn,
		&prd.Price, &prd.Currency, &imagesJSON, &processedJSON, &prd.Weight, &prd.Condition,
		&prd.Category, &prd.Brand, &prd.Stock, &prd.Status, &metaDataJSON, &prd.CreatedAt, &prd.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Product not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve product", err)
	}

	if err := json.Unmarshal(imagesJSON, &prd.Images); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal images", err)
	}
	if err := json.Unmarshal(processedJSON, &prd.ProcessedImages); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal processed images", err)
	}
	if err := json.Unmarshal(metaDataJSON, &prd.MetaData); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal metadata", err)
	}

	return prd, nil
}

// GetAllProducts retrieves products ordered by creation time
func (d Datasource) GetAllProducts(ctx context.Context, limit, offset int) ([]*model.Product, error) {
	ctx, span := otel.Tracer("Product").Start(ctx, "Fetching all products from db")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, product_id, title, COALESCE(title_en, ''), price, currency, COALESCE(images, 'null'), stock, status, created_at, updated_at
		FROM products
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve products", err)
	}
	defer rows.Close()

	var products []*model.Product
	for rows.Next() {
		prd := &model.Product{}
		var imagesJSON []byte
		err = rows.Scan(&prd.ID, &prd.ProductID, &prd.Title, &prd.TitleEn, &prd.Price, &prd.Currency, &imagesJSON, &prd.Stock, &prd.Status, &prd.CreatedAt, &prd.UpdatedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan product data", err)
		}
		if err := json.Unmarshal(imagesJSON, &prd.Images); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal images", err)
		}
		products = append(products, prd)
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over products", err)
	}

	return products, nil
}

// UpdateProductStatus updates the status of a product
func (d Datasource) UpdateProductStatus(ctx context.Context, id string, status string) error {
	ctx, span := otel.Tracer("Product").Start(ctx, "Updating product status")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE products SET status = $2, updated_at = NOW() WHERE product_id = $1
	`, id, status)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update product status", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Product not found", nil)
	}
	return nil
}

// UpdateProductStock updates the stock count of a product
func (d Datasource) UpdateProductStock(ctx context.Context, id string, stock int) error {
	ctx, span := otel.Tracer("Product").Start(ctx, "Updating product stock")
	defer span.End()

	_, err := d.Conn.ExecContext(ctx, `
		UPDATE products SET stock = $2, updated_at = NOW() WHERE product_id = $1
	`, id, stock)
	return err
}

// UpdateProcessedImages stores the optimized image URLs for a product
func (d Datasource) UpdateProcessedImages(ctx context.Context, id string, urls []string) error {
	ctx, span := otel.Tracer("Product").Start(ctx, "Updating processed images")
	defer span.End()

	urlsJSON, err := json.Marshal(urls)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal image urls", err)
	}

	_, err = d.Conn.ExecContext(ctx, `
		UPDATE products SET processed_images = $2, updated_at = NOW() WHERE product_id = $1
	`, id, urlsJSON)
	return err
}

// RecordInventoryEvent inserts a stock change record
func (d Datasource) RecordInventoryEvent(ctx context.Context, event *model.InventoryEvent) error {
	ctx, span := otel.Tracer("Product").Start(ctx, "Saving inventory event to db")
	defer span.End()

	event.EventID = model.GenerateUUIDWithSuffix("evt")
	event.CreatedAt = time.Now()

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO inventory_events (event_id, product_id, event_type, quantity, prev_stock, new_stock, marketplace, order_id, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, event.EventID, event.ProductID, event.EventType, event.Quantity, event.PrevStock, event.NewStock, event.Marketplace, event.OrderID, event.Reason, event.CreatedAt)

	return err
}

// GetInventoryEvents retrieves stock history for a product, newest first
func (d Datasource) GetInventoryEvents(ctx context.Context, productID string) ([]*model.InventoryEvent, error) {
	ctx, span := otel.Tracer("Product").Start(ctx, "Fetching inventory events from db")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, event_id, product_id, event_type, quantity, prev_stock, new_stock, COALESCE(marketplace, ''), COALESCE(order_id, ''), COALESCE(reason, ''), created_at
		FROM inventory_events
		WHERE product_id = $1
		ORDER BY created_at DESC
	`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*model.InventoryEvent
	for rows.Next() {
		event := &model.InventoryEvent{}
		err = rows.Scan(&event.ID, &event.EventID, &event.ProductID, &event.EventType, &event.Quantity, &event.PrevStock, &event.NewStock, &event.Marketplace, &event.OrderID, &event.Reason, &event.CreatedAt)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	return events, rows.Err()
}
