package model

import (
	"encoding/json"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// JobType is the closed set of work the queue workers know how to run.
// Dispatch on it is exhaustive; an unrecognized type fails the job
// permanently instead of being silently dropped.
type JobType string

const (
	JobEnrichProduct   JobType = "enrich-product"
	JobCalculatePrice  JobType = "calculate-price"
	JobValidateContent JobType = "validate-content"
	JobProcessImages   JobType = "process-images"
	JobPublish         JobType = "publish"
	JobEndListing      JobType = "end-listing"
	JobPriceSync       JobType = "price-sync"
	JobSyncOrders      JobType = "sync-orders"
	JobFulfillOrder    JobType = "fulfill-order"
)

// jobTypes lists every known job type for payload validation.
var jobTypes = []interface{}{
	JobEnrichProduct, JobCalculatePrice, JobValidateContent, JobProcessImages,
	JobPublish, JobEndListing, JobPriceSync, JobSyncOrders, JobFulfillOrder,
}

// JobPayload is the envelope every queued job carries. Only the fields the
// job type needs are populated.
type JobPayload struct {
	Type           JobType `json:"type"`
	ProductID      string  `json:"product_id,omitempty"`
	TaskID         string  `json:"task_id,omitempty"`
	ListingID      string  `json:"listing_id,omitempty"`
	OrderID        string  `json:"order_id,omitempty"`
	CredentialID   string  `json:"credential_id,omitempty"`
	TrackingNumber string  `json:"tracking_number,omitempty"`
	Carrier        string  `json:"carrier,omitempty"`
}

// Validate checks the payload carries the identifiers its job type requires.
func (p JobPayload) Validate() error {
	err := validation.ValidateStruct(&p,
		validation.Field(&p.Type, validation.Required, validation.In(jobTypes...)),
	)
	if err != nil {
		return err
	}

	switch p.Type {
	case JobEnrichProduct:
		return requireField("product_id", p.ProductID)
	case JobCalculatePrice, JobValidateContent:
		return requireField("task_id", p.TaskID)
	case JobProcessImages, JobPublish, JobEndListing:
		return requireField("listing_id", p.ListingID)
	case JobFulfillOrder:
		if err := requireField("order_id", p.OrderID); err != nil {
			return err
		}
		return requireField("tracking_number", p.TrackingNumber)
	case JobSyncOrders, JobPriceSync:
		return nil
	}
	return fmt.Errorf("unknown job type: %s", p.Type)
}

func requireField(name, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", name)
	}
	return nil
}

// ToJSON serializes the payload for enqueueing.
func (p JobPayload) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}
