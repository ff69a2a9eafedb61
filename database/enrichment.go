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

// CreateEnrichmentTask inserts a new enrichment task. One task per product;
// a second insert for the same product is a conflict.
func (d Datasource) CreateEnrichmentTask(ctx context.Context, task *model.EnrichmentTask) (*model.EnrichmentTask, error) {
	ctx, span := otel.Tracer("Enrichment").Start(ctx, "Saving enrichment task to db")
	defer span.End()

	task.TaskID = model.GenerateUUIDWithSuffix("task")
	task.CreatedAt = time.Now()
	if task.Status == "" {
		task.Status = model.TaskStatusPending
	}

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO enrichment_tasks (task_id, product_id, priority, status)
		VALUES ($1, $2, $3, $4)
	`, task.TaskID, task.ProductID, task.Priority, task.Status)

	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok {
			switch pqErr.Code.Name() {
			case "unique_violation":
				return nil, apierror.NewAPIError(apierror.ErrConflict, "Enrichment task already exists for this product", err)
			case "foreign_key_violation":
				return nil, apierror.NewAPIError(apierror.ErrNotFound, "Product not found", err)
			}
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create enrichment task", err)
	}

	return task, nil
}

// GetEnrichmentTask retrieves a task by its ID
func (d Datasource) GetEnrichmentTask(ctx context.Context, id string) (*model.EnrichmentTask, error) {
	ctx, span := otel.Tracer("Enrichment").Start(ctx, "Fetching enrichment task from db")
	defer span.End()

	return d.scanTask(d.Conn.QueryRowContext(ctx, taskSelect+` WHERE task_id = $1`, id))
}

// GetEnrichmentTaskByProduct retrieves the task for a product
func (d Datasource) GetEnrichmentTaskByProduct(ctx context.Context, productID string) (*model.EnrichmentTask, error) {
	ctx, span := otel.Tracer("Enrichment").Start(ctx, "Fetching enrichment task by product from db")
	defer span.End()

	return d.scanTask(d.Conn.QueryRowContext(ctx, taskSelect+` WHERE product_id = $1`, productID))
}

const taskSelect = `
	SELECT id, task_id, product_id, priority, status, COALESCE(translations, 'null'), COALESCE(attributes, 'null'), COALESCE(validation, 'null'), COALESCE(validation_result, ''), COALESCE(pricing, 'null'), COALESCE(buffered_images, 'null'), COALESCE(optimized_images, 'null'), COALESCE(image_status, ''), error_count, COALESCE(last_error, ''), started_at, completed_at, created_at
	FROM enrichment_tasks`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (d Datasource) scanTask(row rowScanner) (*model.EnrichmentTask, error) {
	task := &model.EnrichmentTask{}
	var translationsJSON, attributesJSON, validationJSON, pricingJSON, bufferedJSON, optimizedJSON []byte
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&task.ID, &task.TaskID, &task.ProductID, &task.Priority, &task.Status,
		&translationsJSON, &attributesJSON, &validationJSON, &task.ValidationResult,
		&pricingJSON, &bufferedJSON, &optimizedJSON, &task.ImageStatus,
		&task.ErrorCount, &task.LastError, &startedAt, &completedAt, &task.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Enrichment task not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve enrichment task", err)
	}

	if err := json.Unmarshal(translationsJSON, &task.Translations); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal translations", err)
	}
	if err := json.Unmarshal(attributesJSON, &task.Attributes); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal attributes", err)
	}
	if err := json.Unmarshal(validationJSON, &task.Validation); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal validation", err)
	}
	if err := json.Unmarshal(pricingJSON, &task.Pricing); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal pricing", err)
	}
	if err := json.Unmarshal(bufferedJSON, &task.BufferedImages); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal buffered images", err)
	}
	if err := json.Unmarshal(optimizedJSON, &task.OptimizedImages); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal optimized images", err)
	}
	if startedAt.Valid {
		task.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		task.CompletedAt = &completedAt.Time
	}

	return task, nil
}

// GetPendingEnrichmentTasks retrieves pending tasks, highest priority first
func (d Datasource) GetPendingEnrichmentTasks(ctx context.Context, limit int) ([]*model.EnrichmentTask, error) {
	ctx, span := otel.Tracer("Enrichment").Start(ctx, "Fetching pending enrichment tasks from db")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, taskSelect+`
		WHERE status = $1
		ORDER BY priority DESC, created_at ASC
		LIMIT $2
	`, model.TaskStatusPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*model.EnrichmentTask
	for rows.Next() {
		task, err := d.scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}

	return tasks, rows.Err()
}

// UpdateEnrichmentTask persists enrichment results on a task
func (d Datasource) UpdateEnrichmentTask(ctx context.Context, task *model.EnrichmentTask) error {
	ctx, span := otel.Tracer("Enrichment").Start(ctx, "Updating enrichment task")
	defer span.End()

	translationsJSON, err := json.Marshal(task.Translations)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal translations", err)
	}
	attributesJSON, err := json.Marshal(task.Attributes)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal attributes", err)
	}
	validationJSON, err := json.Marshal(task.Validation)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal validation", err)
	}
	pricingJSON, err := json.Marshal(task.Pricing)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal pricing", err)
	}
	bufferedJSON, err := json.Marshal(task.BufferedImages)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal buffered images", err)
	}
	optimizedJSON, err := json.Marshal(task.OptimizedImages)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal optimized images", err)
	}

	startedAt := sql.NullTime{}
	if task.StartedAt != nil {
		startedAt = sql.NullTime{Time: *task.StartedAt, Valid: true}
	}
	completedAt := sql.NullTime{}
	if task.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *task.CompletedAt, Valid: true}
	}

	_, err = d.Conn.ExecContext(ctx, `
		UPDATE enrichment_tasks
		SET status = $2, translations = $3, attributes = $4, validation = $5, validation_result = $6, pricing = $7, buffered_images = $8, optimized_images = $9, image_status = $10, error_count = $11, last_error = $12, started_at = $13, completed_at = $14
		WHERE task_id = $1
	`, task.TaskID, task.Status, translationsJSON, attributesJSON, validationJSON, task.ValidationResult, pricingJSON, bufferedJSON, optimizedJSON, task.ImageStatus, task.ErrorCount, task.LastError, startedAt, completedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update enrichment task", err)
	}

	return nil
}

// UpdateEnrichmentTaskStatus updates the status of a task
func (d Datasource) UpdateEnrichmentTaskStatus(ctx context.Context, id string, status string) error {
	ctx, span := otel.Tracer("Enrichment").Start(ctx, "Updating enrichment task status")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE enrichment_tasks SET status = $2 WHERE task_id = $1
	`, id, status)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update task status", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Enrichment task not found", nil)
	}
	return nil
}

// RecordTaskFailure increments the error count and stores the last error message
func (d Datasource) RecordTaskFailure(ctx context.Context, id string, errMsg string) error {
	ctx, span := otel.Tracer("Enrichment").Start(ctx, "Recording task failure")
	defer span.End()

	_, err := d.Conn.ExecContext(ctx, `
		UPDATE enrichment_tasks SET error_count = error_count + 1, last_error = $2, status = $3 WHERE task_id = $1
	`, id, errMsg, model.TaskStatusFailed)
	return err
}

// RecordEnrichmentStep inserts a step record for a task execution stage
func (d Datasource) RecordEnrichmentStep(ctx context.Context, step *model.EnrichmentStep) error {
	ctx, span := otel.Tracer("Enrichment").Start(ctx, "Saving enrichment step to db")
	defer span.End()

	step.StepID = model.GenerateUUIDWithSuffix("step")
	step.StartedAt = time.Now()
	if step.Status == "" {
		step.Status = model.StepStatusProcessing
	}

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO enrichment_steps (step_id, task_id, step_type, step_order, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, step.StepID, step.TaskID, step.StepType, step.StepOrder, step.Status, step.StartedAt)

	return err
}

// CompleteEnrichmentStep finalizes a recorded step with its outcome
func (d Datasource) CompleteEnrichmentStep(ctx context.Context, stepID string, status string, output []byte, errMsg string) error {
	ctx, span := otel.Tracer("Enrichment").Start(ctx, "Completing enrichment step")
	defer span.End()

	if output == nil {
		output = []byte("null")
	}
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE enrichment_steps SET status = $2, output = $3, error_message = $4, completed_at = NOW() WHERE step_id = $1
	`, stepID, status, output, errMsg)
	return err
}

// GetEnrichmentSteps retrieves the recorded steps for a task in execution order
func (d Datasource) GetEnrichmentSteps(ctx context.Context, taskID string) ([]*model.EnrichmentStep, error) {
	ctx, span := otel.Tracer("Enrichment").Start(ctx, "Fetching enrichment steps from db")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, step_id, task_id, step_type, step_order, status, COALESCE(output, 'null'), COALESCE(error_message, ''), started_at, completed_at
		FROM enrichment_steps
		WHERE task_id = $1
		ORDER BY step_order ASC
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*model.EnrichmentStep
	for rows.Next() {
		step := &model.EnrichmentStep{}
		var completedAt sql.NullTime
		err = rows.Scan(&step.ID, &step.StepID, &step.TaskID, &step.StepType, &step.StepOrder, &step.Status, &step.Output, &step.ErrorMessage, &step.StartedAt, &completedAt)
		if err != nil {
			return nil, err
		}
		if completedAt.Valid {
			step.CompletedAt = &completedAt.Time
		}
		steps = append(steps, step)
	}

	return steps, rows.Err()
}

// GetProhibitedKeywords retrieves active moderation keywords
func (d Datasource) GetProhibitedKeywords(ctx context.Context) ([]*model.ProhibitedKeyword, error) {
	ctx, span := otel.Tracer("Enrichment").Start(ctx, "Fetching prohibited keywords from db")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, keyword, COALESCE(category, ''), severity, is_active
		FROM prohibited_keywords
		WHERE is_active = TRUE
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keywords []*model.ProhibitedKeyword
	for rows.Next() {
		kw := &model.ProhibitedKeyword{}
		err = rows.Scan(&kw.ID, &kw.Keyword, &kw.Category, &kw.Severity, &kw.IsActive)
		if err != nil {
			return nil, err
		}
		keywords = append(keywords, kw)
	}

	return keywords, rows.Err()
}
