package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskGainLossUpdate is the task type for gain/loss reconciliation runs.
	TaskGainLossUpdate = "gainloss:update"
)

// GainLossPayload identifies the book and date to reconcile.
type GainLossPayload struct {
	BookID string `json:"book_id"`
	Date   string `json:"date"`
}

// NewGainLossUpdateTask constructs an Asynq task.
func NewGainLossUpdateTask(payload GainLossPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGainLossUpdate, data), nil
}
