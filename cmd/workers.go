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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	ichiba "github.com/ichiba-io/ichiba"
	"github.com/ichiba-io/ichiba/config"
	"github.com/ichiba-io/ichiba/internal/apierror"
	redis_db "github.com/ichiba-io/ichiba/internal/redis-db"
	"github.com/ichiba-io/ichiba/model"
)

// processJob dispatches one queued job to the pipeline operation its type
// names. The type set is closed: a payload with an unknown type fails
// permanently rather than being retried forever. Permanent domain errors
// (validation, illegal state) also skip retry; transient ones bubble up so
// asynq retries them.
func (b *ichibaInstance) processJob(ctx context.Context, t *asynq.Task) error {
	ctx, span := otel.Tracer("ichiba.worker").Start(ctx, "Process job from Redis queue")
	defer span.End()

	var payload model.JobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logrus.Error(err)
		return fmt.Errorf("malformed job payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := payload.Validate(); err != nil {
		return fmt.Errorf("invalid job payload: %v: %w", err, asynq.SkipRetry)
	}

	var err error
	switch payload.Type {
	case model.JobEnrichProduct:
		var task *model.EnrichmentTask
		task, err = b.ichiba.TaskForProduct(ctx, payload.ProductID)
		if err == nil {
			_, err = b.ichiba.ExecuteTask(ctx, task.TaskID)
		}
	case model.JobCalculatePrice:
		_, err = b.ichiba.RecalculatePrice(ctx, payload.TaskID)
	case model.JobValidateContent:
		_, err = b.ichiba.RevalidateTask(ctx, payload.TaskID)
	case model.JobProcessImages:
		err = b.ichiba.ProcessImagesForListing(ctx, payload.ListingID)
	case model.JobPublish:
		err = b.ichiba.Publish(ctx, payload.ListingID)
	case model.JobEndListing:
		err = b.ichiba.EndListing(ctx, payload.ListingID)
	case model.JobPriceSync:
		_, err = b.ichiba.SyncPrices(ctx, model.MarketplaceEbay, 50)
	case model.JobSyncOrders:
		_, err = b.ichiba.SyncOrders(ctx)
	case model.JobFulfillOrder:
		err = b.ichiba.FulfillOrder(ctx, payload.OrderID, payload.TrackingNumber, payload.Carrier)
	default:
		return fmt.Errorf("unknown job type %q: %w", payload.Type, asynq.SkipRetry)
	}

	if err != nil {
		if !apierror.Retryable(err) {
			logrus.Errorf("job %s failed permanently: %v", payload.Type, err)
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		logrus.Infof("job %s pushed back for retry due to error: %v", payload.Type, err)
		return err
	}

	log.Printf(" [*] Job processed: %s", payload.Type)
	return nil
}

// processWebhook delivers one queued status event.
func (b *ichibaInstance) processWebhook(ctx context.Context, t *asynq.Task) error {
	return ichiba.ProcessWebhook(ctx, t.Payload())
}

func initializeQueues() map[string]int {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return nil
	}

	// Publish work is the most rate-sensitive; it gets the largest share.
	queues := make(map[string]int)
	queues[cfg.Queue.PublishQueue] = 3
	queues[cfg.Queue.EnrichmentQueue] = 2
	queues[cfg.Queue.OrderSyncQueue] = 2
	queues[cfg.Queue.WebhookQueue] = 1
	return queues
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
		asynq.Config{
			Concurrency: conf.Queue.Concurrency,
			Queues:      queues,
		},
	), nil
}

func initializeTaskHandlers(b *ichibaInstance, mux *asynq.ServeMux) {
	jobTypes := []model.JobType{
		model.JobEnrichProduct, model.JobCalculatePrice, model.JobValidateContent,
		model.JobProcessImages, model.JobPublish, model.JobEndListing,
		model.JobPriceSync, model.JobSyncOrders, model.JobFulfillOrder,
	}
	for _, jobType := range jobTypes {
		mux.HandleFunc(string(jobType), b.processJob)
	}
	mux.HandleFunc(ichiba.WebhookTaskType, b.processWebhook)
}

// workerCommands defines the "workers" command to start worker processes
// for the publish, enrichment, order sync and webhook queues.
func workerCommands(b *ichibaInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start ichiba workers",
		Run: func(cmd *cobra.Command, args []string) {
			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			queues := initializeQueues()

			srv, err := initializeWorkerServer(conf, queues)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(b, mux)

			// Monitoring server for queue health.
			redisOption, _ := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
			h := asynqmon.New(asynqmon.Options{
				RootPath: "/monitoring",
				RedisConnOpt: asynq.RedisClientOpt{
					Addr:      redisOption.Addr,
					Password:  redisOption.Password,
					DB:        redisOption.DB,
					TLSConfig: redisOption.TLSConfig,
				},
			})

			go func() {
				monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
				log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
				if err := http.ListenAndServe(monitoringAddr, h); err != nil {
					log.Fatalf("could not start asynqmon server: %v", err)
				}
			}()

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
