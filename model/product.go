package model

import (
	"time"
)

const (
	ProductStatusActive   = "ACTIVE"
	ProductStatusSold     = "SOLD"
	ProductStatusArchived = "ARCHIVED"
)

// Product is the raw scraped source listing. Ingestion creates it; the
// pipeline only reads it and flips the status to SOLD on order sync.
type Product struct {
	ID              int64                  `json:"-"`
	ProductID       string                 `json:"product_id"`
	Title           string                 `json:"title"`
	TitleEn         string                 `json:"title_en,omitempty"`
	Description     string                 `json:"description"`
	DescriptionEn   string                 `json:"description_en,omitempty"`
	Price           float64                `json:"price"` // source cost in JPY
	Currency        string                 `json:"currency"`
	Images          []string               `json:"images"`
	ProcessedImages []string               `json:"processed_images,omitempty"`
	Weight          float64                `json:"weight,omitempty"`
	Condition       string                 `json:"condition,omitempty"`
	Category        string                 `json:"category,omitempty"`
	Brand           string                 `json:"brand,omitempty"`
	Stock           int                    `json:"stock"`
	Status          string                 `json:"status"`
	MetaData        map[string]interface{} `json:"meta_data,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}
