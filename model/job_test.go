package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobPayloadValidate(t *testing.T) {
	t.Run("Unknown type rejected", func(t *testing.T) {
		err := JobPayload{Type: "reindex-everything"}.Validate()
		assert.Error(t, err)
	})

	t.Run("Missing type rejected", func(t *testing.T) {
		err := JobPayload{}.Validate()
		assert.Error(t, err)
	})

	t.Run("Enrich requires product id", func(t *testing.T) {
		assert.Error(t, JobPayload{Type: JobEnrichProduct}.Validate())
		assert.NoError(t, JobPayload{Type: JobEnrichProduct, ProductID: "prd_1"}.Validate())
	})

	t.Run("Price and validation jobs require task id", func(t *testing.T) {
		assert.Error(t, JobPayload{Type: JobCalculatePrice}.Validate())
		assert.NoError(t, JobPayload{Type: JobCalculatePrice, TaskID: "task_1"}.Validate())
		assert.Error(t, JobPayload{Type: JobValidateContent}.Validate())
		assert.NoError(t, JobPayload{Type: JobValidateContent, TaskID: "task_1"}.Validate())
	})

	t.Run("Listing jobs require listing id", func(t *testing.T) {
		for _, jobType := range []JobType{JobProcessImages, JobPublish, JobEndListing} {
			assert.Error(t, JobPayload{Type: jobType}.Validate())
			assert.NoError(t, JobPayload{Type: jobType, ListingID: "lst_1"}.Validate())
		}
	})

	t.Run("Fulfillment requires order id and tracking", func(t *testing.T) {
		assert.Error(t, JobPayload{Type: JobFulfillOrder}.Validate())
		assert.Error(t, JobPayload{Type: JobFulfillOrder, OrderID: "ord_1"}.Validate())
		assert.NoError(t, JobPayload{Type: JobFulfillOrder, OrderID: "ord_1", TrackingNumber: "1Z999"}.Validate())
	})

	t.Run("Periodic jobs need no identifiers", func(t *testing.T) {
		assert.NoError(t, JobPayload{Type: JobSyncOrders}.Validate())
		assert.NoError(t, JobPayload{Type: JobPriceSync}.Validate())
	})
}

func TestJobPayloadToJSON(t *testing.T) {
	data, err := JobPayload{Type: JobPublish, ListingID: "lst_1"}.ToJSON()
	assert.NoError(t, err)
	assert.JSONEq(t, `{"type":"publish","listing_id":"lst_1"}`, string(data))
}
