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
	"fmt"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/ichiba-io/ichiba/config"
	"github.com/ichiba-io/ichiba/internal/request"
)

// WebhookTaskType is the asynq task type for outbound status events.
const WebhookTaskType = "webhook"

// StatusEvent is an outbound notification about a pipeline state change.
// Consumers (the dashboard's realtime feed, external integrations) receive
// it via the configured webhook URL.
type StatusEvent struct {
	Event     string                 `json:"event"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt time.Time              `json:"created_at"`
}

// emitStatusEvent queues a status event for webhook delivery. Delivery is
// best-effort; a failure to enqueue is logged and never fails the pipeline
// operation that produced the event.
func (i *Ichiba) emitStatusEvent(ctx context.Context, event string, payload map[string]interface{}) {
	cfg, err := config.Fetch()
	if err != nil || cfg.Notification.Webhook.Url == "" {
		return
	}

	data, err := json.Marshal(StatusEvent{Event: event, Payload: payload, CreatedAt: time.Now()})
	if err != nil {
		logrus.Warnf("failed to marshal status event %s: %v", event, err)
		return
	}

	task := asynq.NewTask(WebhookTaskType, data, asynq.Queue(cfg.Queue.WebhookQueue), asynq.MaxRetry(cfg.Queue.MaxRetryAttempts))
	if _, err := i.queue.Client.EnqueueContext(ctx, task); err != nil {
		logrus.Warnf("failed to enqueue status event %s: %v", event, err)
	}
}

// ProcessWebhook delivers one queued status event to the configured webhook
// URL with the configured headers. Non-2xx responses are errors so the
// queue retries delivery.
func ProcessWebhook(ctx context.Context, data []byte) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}
	if cfg.Notification.Webhook.Url == "" {
		return nil
	}

	var event StatusEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return err
	}

	payload, err := request.ToJsonReq(&event)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Notification.Webhook.Url, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range cfg.Notification.Webhook.Headers {
		req.Header.Set(key, value)
	}

	// The response body is irrelevant, only the status decides delivery.
	resp, _, err := request.CallRaw(req)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook delivery failed with status %d", resp.StatusCode)
	}

	logrus.WithField("event", event.Event).Info("webhook delivered")
	return nil
}
