package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/crossbooks/crossbooks/internal/gainloss"
)

// GainLossService describes the behaviour required to reconcile a book.
type GainLossService interface {
	Run(ctx context.Context, bookID, date string) (*gainloss.Summary, error)
}

// GainLossUpdateJob coordinates a background reconciliation run.
type GainLossUpdateJob struct {
	Service GainLossService
	Logger  *slog.Logger
	clock   func() time.Time
}

// NewGainLossUpdateJob constructs the job handler.
func NewGainLossUpdateJob(service GainLossService, logger *slog.Logger) *GainLossUpdateJob {
	return &GainLossUpdateJob{
		Service: service,
		Logger:  logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes TaskGainLossUpdate tasks. A malformed payload is dropped
// rather than retried.
func (j *GainLossUpdateJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload GainLossPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		if j.Logger != nil {
			j.Logger.Error("invalid gain/loss payload", slog.Any("error", err))
		}
		return asynq.SkipRetry
	}
	if payload.Date == "" {
		payload.Date = j.clock().Format("2006-01-02")
	}

	started := j.clock()
	summary, err := j.Service.Run(ctx, payload.BookID, payload.Date)
	if err != nil {
		if j.Logger != nil {
			j.Logger.Error("gain/loss run failed",
				slog.String("book_id", payload.BookID),
				slog.String("date", payload.Date),
				slog.Any("error", err))
		}
		return err
	}
	if j.Logger != nil {
		j.Logger.Info("gain/loss run finished",
			slog.String("book_id", payload.BookID),
			slog.String("date", payload.Date),
			slog.String("code", summary.Code),
			slog.Int("accounts", len(summary.Totals)),
			slog.Duration("elapsed", j.clock().Sub(started)))
	}
	return nil
}
