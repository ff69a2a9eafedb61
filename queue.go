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

package ichiba

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ichiba-io/ichiba/config"
	redis_db "github.com/ichiba-io/ichiba/internal/redis-db"
	"github.com/ichiba-io/ichiba/model"
)

// Queue represents a queue for handling pipeline jobs.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// NewQueue initializes a new Queue instance with the provided configuration.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB, TLSConfig: redisOption.TLSConfig}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// queueName maps a job type to the queue it runs on.
func queueName(cfg *config.Configuration, jobType model.JobType) string {
	switch jobType {
	case model.JobPublish, model.JobEndListing, model.JobPriceSync:
		return cfg.Queue.PublishQueue
	case model.JobSyncOrders, model.JobFulfillOrder:
		return cfg.Queue.OrderSyncQueue
	default:
		return cfg.Queue.EnrichmentQueue
	}
}

// taskID derives a stable task ID from the payload so a job queued twice for
// the same entity collapses into one. Periodic jobs get a timestamped ID.
func taskID(payload model.JobPayload) string {
	entity := payload.ProductID
	if payload.TaskID != "" {
		entity = payload.TaskID
	}
	if payload.ListingID != "" {
		entity = payload.ListingID
	}
	if payload.OrderID != "" {
		entity = payload.OrderID
	}
	if entity == "" {
		return string(payload.Type) + "_" + time.Now().Format("20060102150405")
	}
	return string(payload.Type) + "_" + entity
}

// Enqueue validates the payload and adds it to the Redis queue for its job
// type.
func (q *Queue) Enqueue(ctx context.Context, payload model.JobPayload, opts ...asynq.Option) error {
	ctx, span := tracer.Start(ctx, "Adding job to Redis queue")
	defer span.End()

	if err := payload.Validate(); err != nil {
		return err
	}

	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	data, err := payload.ToJSON()
	if err != nil {
		return err
	}

	taskOptions := []asynq.Option{
		asynq.TaskID(taskID(payload)),
		asynq.Queue(queueName(cfg, payload.Type)),
		asynq.MaxRetry(cfg.Queue.MaxRetryAttempts),
	}
	taskOptions = append(taskOptions, opts...)

	task := asynq.NewTask(string(payload.Type), data, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued %s: %+v", payload.Type, taskID(payload))

	return nil
}

// QueuePublish enqueues a publish job for a listing.
func (q *Queue) QueuePublish(ctx context.Context, listingID string) error {
	return q.Enqueue(ctx, model.JobPayload{Type: model.JobPublish, ListingID: listingID})
}

// QueueEnrichment enqueues an enrichment job for a product.
func (q *Queue) QueueEnrichment(ctx context.Context, productID string) error {
	return q.Enqueue(ctx, model.JobPayload{Type: model.JobEnrichProduct, ProductID: productID})
}

// QueueImageProcessing enqueues an image pipeline job for a listing.
func (q *Queue) QueueImageProcessing(ctx context.Context, listingID string) error {
	return q.Enqueue(ctx, model.JobPayload{Type: model.JobProcessImages, ListingID: listingID})
}

// QueueOrderSync enqueues an order sync pass.
func (q *Queue) QueueOrderSync(ctx context.Context) error {
	return q.Enqueue(ctx, model.JobPayload{Type: model.JobSyncOrders})
}

// GetJobFromQueue retrieves a queued job by its task ID, checking each
// configured queue.
func (q *Queue) GetJobFromQueue(taskID string) (*model.JobPayload, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	for _, queue := range []string{cfg.Queue.PublishQueue, cfg.Queue.EnrichmentQueue, cfg.Queue.OrderSyncQueue, cfg.Queue.WebhookQueue} {
		task, err := q.Inspector.GetTaskInfo(queue, taskID)
		if err == nil && task != nil {
			var payload model.JobPayload
			if err := json.Unmarshal(task.Payload, &payload); err != nil {
				return nil, err
			}
			return &payload, nil
		}
	}
	return nil, nil
}
