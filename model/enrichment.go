package model

import (
	"time"
)

// Enrichment task lifecycle statuses.
const (
	TaskStatusPending       = "PENDING"
	TaskStatusProcessing    = "PROCESSING"
	TaskStatusApproved      = "APPROVED"
	TaskStatusReadyToReview = "READY_TO_REVIEW"
	TaskStatusRejected      = "REJECTED"
	TaskStatusFailed        = "FAILED"
	TaskStatusPublished     = "PUBLISHED"
)

// Validation results attached to a task once content moderation has run.
const (
	ValidationApproved       = "APPROVED"
	ValidationReviewRequired = "REVIEW_REQUIRED"
	ValidationRejected       = "REJECTED"
)

// Image pipeline status on a task.
const (
	ImageStatusPending   = "PENDING"
	ImageStatusCompleted = "COMPLETED"
	ImageStatusFailed    = "FAILED"
)

// Translation holds the localized title/description for one locale.
type Translation struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Attributes is the structured product data extracted by the enrichment
// provider. Condition uses the provider vocabulary
// (new|like_new|good|fair|poor).
type Attributes struct {
	Brand         string            `json:"brand,omitempty"`
	Color         string            `json:"color,omitempty"`
	Size          string            `json:"size,omitempty"`
	Material      string            `json:"material,omitempty"`
	Condition     string            `json:"condition,omitempty"`
	Category      string            `json:"category,omitempty"`
	ItemSpecifics map[string]string `json:"item_specifics,omitempty"`
	Confidence    float64           `json:"confidence"`
}

// Validation severity levels, ordered.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Validation is the content moderation outcome for a task.
type Validation struct {
	Passed      bool     `json:"passed"`
	Flags       []string `json:"flags"`
	ReviewNotes string   `json:"review_notes,omitempty"`
	Severity    string   `json:"severity"`
}

// MapResult converts a validation outcome into the task-level validation
// result. Critical and high severities reject outright; medium severity or
// any raised flag requires a human look.
func (v Validation) MapResult() string {
	if v.Severity == SeverityCritical || v.Severity == SeverityHigh {
		return ValidationRejected
	}
	if v.Severity == SeverityMedium || len(v.Flags) > 0 {
		return ValidationReviewRequired
	}
	return ValidationApproved
}

// Pricing is the price calculation result stored on a task. All USD values
// are rounded to cents; FinalPriceUsd is always rounded up.
type Pricing struct {
	CostJpy       float64 `json:"cost_jpy"`
	CostUsd       float64 `json:"cost_usd"`
	ExchangeRate  float64 `json:"exchange_rate"`
	ProfitRate    float64 `json:"profit_rate"`
	PlatformFee   float64 `json:"platform_fee"`
	PaymentFee    float64 `json:"payment_fee"`
	ShippingCost  float64 `json:"shipping_cost"`
	FinalPriceUsd float64 `json:"final_price_usd"`
}

// EnrichmentTask is the per-product unit of enrichment work. One row per
// product; publishing is only permitted once Status is APPROVED.
type EnrichmentTask struct {
	ID               int64                  `json:"-"`
	TaskID           string                 `json:"task_id"`
	ProductID        string                 `json:"product_id"`
	Priority         int                    `json:"priority"`
	Status           string                 `json:"status"`
	Translations     map[string]Translation `json:"translations,omitempty"`
	Attributes       *Attributes            `json:"attributes,omitempty"`
	Validation       *Validation            `json:"validation,omitempty"`
	ValidationResult string                 `json:"validation_result,omitempty"`
	Pricing          *Pricing               `json:"pricing,omitempty"`
	BufferedImages   []string               `json:"buffered_images,omitempty"`
	OptimizedImages  []string               `json:"optimized_images,omitempty"`
	ImageStatus      string                 `json:"image_status,omitempty"`
	ErrorCount       int                    `json:"error_count"`
	LastError        string                 `json:"last_error,omitempty"`
	StartedAt        *time.Time             `json:"started_at,omitempty"`
	CompletedAt      *time.Time             `json:"completed_at,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
}

// Enrichment step types, in execution order.
const (
	StepTranslation      = "TRANSLATION"
	StepPriceCalculation = "PRICE_CALCULATION"
)

// Step statuses.
const (
	StepStatusProcessing = "PROCESSING"
	StepStatusCompleted  = "COMPLETED"
	StepStatusFailed     = "FAILED"
)

// EnrichmentStep records a single stage of a task execution, for audit and
// for resuming diagnostics after a failure.
type EnrichmentStep struct {
	ID           int64      `json:"-"`
	StepID       string     `json:"step_id"`
	TaskID       string     `json:"task_id"`
	StepType     string     `json:"step_type"`
	StepOrder    int        `json:"step_order"`
	Status       string     `json:"status"`
	Output       []byte     `json:"output,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// ProhibitedKeyword is a moderation keyword loaded from the database,
// supplementing the built-in keyword table.
type ProhibitedKeyword struct {
	ID       int64  `json:"-"`
	Keyword  string `json:"keyword"`
	Category string `json:"category"`
	Severity string `json:"severity"`
	IsActive bool   `json:"is_active"`
}

// ExchangeRate is a cached currency conversion rate row.
type ExchangeRate struct {
	ID           int64     `json:"-"`
	FromCurrency string    `json:"from_currency"`
	ToCurrency   string    `json:"to_currency"`
	Rate         float64   `json:"rate"`
	FetchedAt    time.Time `json:"fetched_at"`
}
