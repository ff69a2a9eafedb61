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
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/wacul/ptr"

	"github.com/ichiba-io/ichiba/config"
	"github.com/ichiba-io/ichiba/internal/apierror"
	"github.com/ichiba-io/ichiba/internal/notification"
	"github.com/ichiba-io/ichiba/internal/request"
	"github.com/ichiba-io/ichiba/model"
)

// EnrichmentProvider produces translations, structured attributes and a
// content moderation verdict for a product. The production implementation
// calls an LLM provider over HTTP; tests substitute a stub.
type EnrichmentProvider interface {
	Translate(ctx context.Context, title, description string) (map[string]model.Translation, error)
	ExtractAttributes(ctx context.Context, title, description string) (*model.Attributes, error)
	ValidateContent(ctx context.Context, title, description string) (*model.Validation, error)
}

// HTTPEnrichmentProvider calls the configured enrichment endpoint. Transient
// failures are retried with exponential backoff before the task is failed.
type HTTPEnrichmentProvider struct {
	url     string
	apiKey  string
	model   string
	timeout time.Duration
}

// NewHTTPEnrichmentProvider builds a provider from configuration.
func NewHTTPEnrichmentProvider(conf *config.Configuration) *HTTPEnrichmentProvider {
	return &HTTPEnrichmentProvider{
		url:     conf.Enrichment.ProviderUrl,
		apiKey:  conf.Enrichment.ApiKey,
		model:   conf.Enrichment.Model,
		timeout: time.Duration(conf.Enrichment.TimeoutSec) * time.Second,
	}
}

type enrichmentRequest struct {
	Model       string `json:"model"`
	Operation   string `json:"operation"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (p *HTTPEnrichmentProvider) call(ctx context.Context, operation, title, description string, out interface{}) error {
	body := enrichmentRequest{Model: p.model, Operation: operation, Title: title, Description: description}

	operation2 := func() error {
		payload, err := request.ToJsonReq(&body)
		if err != nil {
			return backoff.Permanent(err)
		}

		reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, p.url, payload)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+p.apiKey)

		resp, err := request.Call(req, out)
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("enrichment provider returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("enrichment provider rejected request: %d", resp.StatusCode))
		}
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	return backoff.Retry(operation2, bo)
}

func (p *HTTPEnrichmentProvider) Translate(ctx context.Context, title, description string) (map[string]model.Translation, error) {
	var out struct {
		Translations map[string]model.Translation `json:"translations"`
	}
	if err := p.call(ctx, "translate", title, description, &out); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrUpstream, "Translation failed", err)
	}
	return out.Translations, nil
}

func (p *HTTPEnrichmentProvider) ExtractAttributes(ctx context.Context, title, description string) (*model.Attributes, error) {
	var out struct {
		Attributes *model.Attributes `json:"attributes"`
	}
	if err := p.call(ctx, "attributes", title, description, &out); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrUpstream, "Attribute extraction failed", err)
	}
	return out.Attributes, nil
}

func (p *HTTPEnrichmentProvider) ValidateContent(ctx context.Context, title, description string) (*model.Validation, error) {
	var out struct {
		Validation *model.Validation `json:"validation"`
	}
	if err := p.call(ctx, "validate", title, description, &out); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrUpstream, "Content validation failed", err)
	}
	if out.Validation == nil {
		// An empty moderation verdict never counts as a pass.
		return nil, apierror.NewAPIError(apierror.ErrUpstream, "Content validation returned no result", nil)
	}
	return out.Validation, nil
}

// builtinProhibitedKeywords is the baseline moderation table, merged with
// any active keywords from the database at check time.
var builtinProhibitedKeywords = map[string]string{
	"replica":      model.SeverityCritical,
	"counterfeit":  model.SeverityCritical,
	"fake":         model.SeverityHigh,
	"copy":         model.SeverityMedium,
	"knockoff":     model.SeverityHigh,
	"weapon":       model.SeverityCritical,
	"ivory":        model.SeverityCritical,
	"prescription": model.SeverityHigh,
}

// QuickCheck scans a title and description against the prohibited keyword
// table without calling the provider. The worst severity found wins.
func (i *Ichiba) QuickCheck(ctx context.Context, title, description string) *model.Validation {
	text := strings.ToLower(title + " " + description)

	keywords := make(map[string]string, len(builtinProhibitedKeywords))
	for k, v := range builtinProhibitedKeywords {
		keywords[k] = v
	}
	dbKeywords, err := i.datasource.GetProhibitedKeywords(ctx)
	if err != nil {
		logrus.Warnf("failed to load prohibited keywords, using builtin table: %v", err)
	} else {
		for _, kw := range dbKeywords {
			keywords[strings.ToLower(kw.Keyword)] = kw.Severity
		}
	}

	validation := &model.Validation{Passed: true, Severity: model.SeverityLow}
	for keyword, severity := range keywords {
		if strings.Contains(text, keyword) {
			validation.Flags = append(validation.Flags, keyword)
			if severityRank(severity) > severityRank(validation.Severity) {
				validation.Severity = severity
			}
		}
	}
	if len(validation.Flags) > 0 {
		validation.Passed = false
		validation.ReviewNotes = fmt.Sprintf("prohibited keywords found: %s", strings.Join(validation.Flags, ", "))
	}

	return validation
}

func severityRank(severity string) int {
	switch severity {
	case model.SeverityCritical:
		return 3
	case model.SeverityHigh:
		return 2
	case model.SeverityMedium:
		return 1
	default:
		return 0
	}
}

// CreateTask creates an enrichment task for a product and queues it for
// processing.
func (i *Ichiba) CreateTask(ctx context.Context, productID string, priority int) (*model.EnrichmentTask, error) {
	ctx, span := tracer.Start(ctx, "Creating enrichment task")
	defer span.End()

	if _, err := i.datasource.GetProduct(ctx, productID); err != nil {
		return nil, err
	}

	task, err := i.datasource.CreateEnrichmentTask(ctx, &model.EnrichmentTask{
		ProductID: productID,
		Priority:  priority,
	})
	if err != nil {
		return nil, err
	}

	if err := i.queue.QueueEnrichment(ctx, productID); err != nil {
		logrus.Warnf("task %s created but enqueue failed: %v", task.TaskID, err)
	}

	return task, nil
}

// TaskForProduct returns the enrichment task for a product, creating one
// when none exists yet.
func (i *Ichiba) TaskForProduct(ctx context.Context, productID string) (*model.EnrichmentTask, error) {
	task, err := i.datasource.GetEnrichmentTaskByProduct(ctx, productID)
	if err == nil {
		return task, nil
	}
	return i.datasource.CreateEnrichmentTask(ctx, &model.EnrichmentTask{ProductID: productID})
}

// ExecuteTask runs the full enrichment for a product: translation and
// attribute extraction, price calculation, then content validation. Each
// stage is recorded as a step so a failed run can be diagnosed. The final
// task status comes from the validation severity mapping.
func (i *Ichiba) ExecuteTask(ctx context.Context, taskID string) (*model.EnrichmentTask, error) {
	ctx, span := tracer.Start(ctx, "Executing enrichment task")
	defer span.End()

	task, err := i.datasource.GetEnrichmentTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	product, err := i.datasource.GetProduct(ctx, task.ProductID)
	if err != nil {
		return nil, err
	}

	task.Status = model.TaskStatusProcessing
	task.StartedAt = ptr.Time(time.Now())
	if err := i.datasource.UpdateEnrichmentTask(ctx, task); err != nil {
		return nil, err
	}

	if err := i.runTranslationStep(ctx, task, product); err != nil {
		return nil, i.failTask(ctx, task, err)
	}
	if err := i.runPricingStep(ctx, task, product); err != nil {
		return nil, i.failTask(ctx, task, err)
	}

	validation := i.QuickCheck(ctx, task.Translations["en"].Title, task.Translations["en"].Description)
	if validation.Passed {
		providerValidation, err := i.enricher.ValidateContent(ctx, task.Translations["en"].Title, task.Translations["en"].Description)
		if err != nil {
			return nil, i.failTask(ctx, task, err)
		}
		validation = providerValidation
	}
	task.Validation = validation
	task.ValidationResult = validation.MapResult()

	switch task.ValidationResult {
	case model.ValidationApproved:
		task.Status = model.TaskStatusApproved
	case model.ValidationReviewRequired:
		task.Status = model.TaskStatusReadyToReview
	default:
		task.Status = model.TaskStatusRejected
	}

	task.CompletedAt = ptr.Time(time.Now())
	if err := i.datasource.UpdateEnrichmentTask(ctx, task); err != nil {
		return nil, err
	}

	i.emitStatusEvent(ctx, "task."+strings.ToLower(task.Status), map[string]interface{}{
		"task_id":    task.TaskID,
		"product_id": task.ProductID,
		"status":     task.Status,
	})

	return task, nil
}

// RevalidateTask re-runs content moderation on a task's current
// translations and remaps its status from the result. Used after keyword
// table updates or a manual review request.
func (i *Ichiba) RevalidateTask(ctx context.Context, taskID string) (*model.EnrichmentTask, error) {
	ctx, span := tracer.Start(ctx, "Revalidating enrichment task")
	defer span.End()

	task, err := i.datasource.GetEnrichmentTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	title := task.Translations["en"].Title
	description := task.Translations["en"].Description

	validation := i.QuickCheck(ctx, title, description)
	if validation.Passed {
		providerValidation, err := i.enricher.ValidateContent(ctx, title, description)
		if err != nil {
			return nil, i.failTask(ctx, task, err)
		}
		validation = providerValidation
	}

	task.Validation = validation
	task.ValidationResult = validation.MapResult()
	switch task.ValidationResult {
	case model.ValidationApproved:
		task.Status = model.TaskStatusApproved
	case model.ValidationReviewRequired:
		task.Status = model.TaskStatusReadyToReview
	default:
		task.Status = model.TaskStatusRejected
	}

	if err := i.datasource.UpdateEnrichmentTask(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// RecalculatePrice recomputes a task's pricing from the current exchange
// rate and stores it.
func (i *Ichiba) RecalculatePrice(ctx context.Context, taskID string) (*model.Pricing, error) {
	ctx, span := tracer.Start(ctx, "Recalculating task price")
	defer span.End()

	task, err := i.datasource.GetEnrichmentTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	product, err := i.datasource.GetProduct(ctx, task.ProductID)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	pricing, err := CalculateEbayPrice(product.Price, i.GetExchangeRate(ctx), cfg.Pricing.BaseProfitRate)
	if err != nil {
		return nil, err
	}

	task.Pricing = pricing
	if err := i.datasource.UpdateEnrichmentTask(ctx, task); err != nil {
		return nil, err
	}
	return pricing, nil
}

func (i *Ichiba) failTask(ctx context.Context, task *model.EnrichmentTask, cause error) error {
	notification.NotifyError(cause)
	if err := i.datasource.RecordTaskFailure(ctx, task.TaskID, cause.Error()); err != nil {
		logrus.Errorf("failed to record task failure for %s: %v", task.TaskID, err)
	}
	return cause
}

func (i *Ichiba) runTranslationStep(ctx context.Context, task *model.EnrichmentTask, product *model.Product) error {
	step := &model.EnrichmentStep{TaskID: task.TaskID, StepType: model.StepTranslation, StepOrder: 1}
	if err := i.datasource.RecordEnrichmentStep(ctx, step); err != nil {
		logrus.Warnf("failed to record translation step: %v", err)
	}

	translations, err := i.enricher.Translate(ctx, product.Title, product.Description)
	if err != nil {
		_ = i.datasource.CompleteEnrichmentStep(ctx, step.StepID, model.StepStatusFailed, nil, err.Error())
		return err
	}
	attributes, err := i.enricher.ExtractAttributes(ctx, product.Title, product.Description)
	if err != nil {
		_ = i.datasource.CompleteEnrichmentStep(ctx, step.StepID, model.StepStatusFailed, nil, err.Error())
		return err
	}

	task.Translations = translations
	task.Attributes = attributes

	output, _ := json.Marshal(map[string]interface{}{"translations": translations, "attributes": attributes})
	return i.datasource.CompleteEnrichmentStep(ctx, step.StepID, model.StepStatusCompleted, output, "")
}

func (i *Ichiba) runPricingStep(ctx context.Context, task *model.EnrichmentTask, product *model.Product) error {
	step := &model.EnrichmentStep{TaskID: task.TaskID, StepType: model.StepPriceCalculation, StepOrder: 2}
	if err := i.datasource.RecordEnrichmentStep(ctx, step); err != nil {
		logrus.Warnf("failed to record pricing step: %v", err)
	}

	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	rate := i.GetExchangeRate(ctx)
	pricing, err := CalculateEbayPrice(product.Price, rate, cfg.Pricing.BaseProfitRate)
	if err != nil {
		_ = i.datasource.CompleteEnrichmentStep(ctx, step.StepID, model.StepStatusFailed, nil, err.Error())
		return err
	}

	task.Pricing = pricing

	output, _ := json.Marshal(pricing)
	return i.datasource.CompleteEnrichmentStep(ctx, step.StepID, model.StepStatusCompleted, output, "")
}
