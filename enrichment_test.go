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
	"net/http"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"

	"github.com/ichiba-io/ichiba/model"
)

func keywordRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "keyword", "category", "severity", "is_active"})
}

func TestQuickCheck(t *testing.T) {
	t.Run("Clean content passes", func(t *testing.T) {
		ich, mock := newTestIchiba(t)
		mock.ExpectQuery("SELECT id, keyword, COALESCE\\(category, ''\\), severity, is_active FROM prohibited_keywords").
			WillReturnRows(keywordRows())

		validation := ich.QuickCheck(context.Background(), "Vintage Seiko Watch", "A well kept automatic watch from the 80s")
		assert.True(t, validation.Passed)
		assert.Empty(t, validation.Flags)
		assert.Equal(t, model.SeverityLow, validation.Severity)
	})

	t.Run("Builtin keyword flags and worst severity wins", func(t *testing.T) {
		ich, mock := newTestIchiba(t)
		mock.ExpectQuery("SELECT id, keyword, COALESCE\\(category, ''\\), severity, is_active FROM prohibited_keywords").
			WillReturnRows(keywordRows())

		validation := ich.QuickCheck(context.Background(), "Replica designer bag", "A good copy of the original")
		assert.False(t, validation.Passed)
		assert.Contains(t, validation.Flags, "replica")
		assert.Contains(t, validation.Flags, "copy")
		assert.Equal(t, model.SeverityCritical, validation.Severity)
		assert.Contains(t, validation.ReviewNotes, "prohibited keywords found")
	})

	t.Run("Database keywords merged with builtin table", func(t *testing.T) {
		ich, mock := newTestIchiba(t)
		mock.ExpectQuery("SELECT id, keyword, COALESCE\\(category, ''\\), severity, is_active FROM prohibited_keywords").
			WillReturnRows(keywordRows().AddRow(1, "Pokemon", "ip", model.SeverityHigh, true))

		validation := ich.QuickCheck(context.Background(), "Pokemon trading card", "rare holo")
		assert.False(t, validation.Passed)
		assert.Contains(t, validation.Flags, "pokemon")
		assert.Equal(t, model.SeverityHigh, validation.Severity)
	})

	t.Run("Keyword load failure falls back to builtin table", func(t *testing.T) {
		ich, _ := newTestIchiba(t)
		// No query expectation: the lookup errors and the builtin table
		// still catches the keyword.
		validation := ich.QuickCheck(context.Background(), "counterfeit coin", "")
		assert.False(t, validation.Passed)
		assert.Contains(t, validation.Flags, "counterfeit")
	})
}

func TestRevalidateTask(t *testing.T) {
	t.Run("Provider failure leaves the task failed", func(t *testing.T) {
		httpmock.Activate()
		defer httpmock.DeactivateAndReset()
		httpmock.RegisterResponder(http.MethodPost, "https://ai.ichiba.io/v1/enrich",
			httpmock.NewStringResponder(500, `{"error":"upstream unavailable"}`))

		ich, mock := newTestIchiba(t)

		mock.ExpectQuery("FROM enrichment_tasks WHERE task_id =").
			WithArgs("task_1").
			WillReturnRows(taskRow("task_1", "prd_1", model.TaskStatusApproved))
		mock.ExpectQuery("SELECT id, keyword, COALESCE\\(category, ''\\), severity, is_active FROM prohibited_keywords").
			WillReturnRows(keywordRows())
		mock.ExpectExec("UPDATE enrichment_tasks SET error_count = error_count \\+ 1").
			WithArgs("task_1", sqlmock.AnyArg(), model.TaskStatusFailed).
			WillReturnResult(sqlmock.NewResult(0, 1))

		task, err := ich.RevalidateTask(context.Background(), "task_1")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "Content validation failed")
		assert.Nil(t, task)

		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("there were unfulfilled expectations: %s", err)
		}
	})

	t.Run("Empty provider verdict is an error", func(t *testing.T) {
		httpmock.Activate()
		defer httpmock.DeactivateAndReset()
		httpmock.RegisterResponder(http.MethodPost, "https://ai.ichiba.io/v1/enrich",
			httpmock.NewStringResponder(200, `{}`))

		ich, mock := newTestIchiba(t)

		mock.ExpectQuery("FROM enrichment_tasks WHERE task_id =").
			WithArgs("task_1").
			WillReturnRows(taskRow("task_1", "prd_1", model.TaskStatusApproved))
		mock.ExpectQuery("SELECT id, keyword, COALESCE\\(category, ''\\), severity, is_active FROM prohibited_keywords").
			WillReturnRows(keywordRows())
		mock.ExpectExec("UPDATE enrichment_tasks SET error_count = error_count \\+ 1").
			WithArgs("task_1", sqlmock.AnyArg(), model.TaskStatusFailed).
			WillReturnResult(sqlmock.NewResult(0, 1))

		task, err := ich.RevalidateTask(context.Background(), "task_1")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "no result")
		assert.Nil(t, task)

		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("there were unfulfilled expectations: %s", err)
		}
	})
}

func TestSeverityRank(t *testing.T) {
	assert.Greater(t, severityRank(model.SeverityCritical), severityRank(model.SeverityHigh))
	assert.Greater(t, severityRank(model.SeverityHigh), severityRank(model.SeverityMedium))
	assert.Greater(t, severityRank(model.SeverityMedium), severityRank(model.SeverityLow))
	assert.Equal(t, 0, severityRank("unknown"))
}
