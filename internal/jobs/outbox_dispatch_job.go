package jobs

import (
	"context"
	"fmt"

	"github.com/iandrade/storefront-backend/internal/notifications"
	"github.com/iandrade/storefront-backend/pkg/logger"
	"github.com/iandrade/storefront-backend/pkg/outbox"
	"go.uber.org/multierr"
)

// OutboxDispatchJob drains unpublished outbox events into the notification
// dispatcher. Events past maxAttempts are left in place for inspection; the
// attempt counter records every failed delivery.
type OutboxDispatchJob struct {
	repo        *outbox.Repository
	dispatcher  notifications.Dispatcher
	logg        *logger.Logger
	batchSize   int
	maxAttempts int
}

// NewOutboxDispatchJob builds the outbox dispatch job.
func NewOutboxDispatchJob(repo *outbox.Repository, dispatcher notifications.Dispatcher, logg *logger.Logger, batchSize, maxAttempts int) (*OutboxDispatchJob, error) {
	if repo == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &OutboxDispatchJob{
		repo:        repo,
		dispatcher:  dispatcher,
		logg:        logg,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
	}, nil
}

func (j *OutboxDispatchJob) Name() string { return "outbox-dispatch" }

func (j *OutboxDispatchJob) Run(ctx context.Context) error {
	rows, err := j.repo.FetchUnpublished(j.batchSize)
	if err != nil {
		return fmt.Errorf("fetch unpublished: %w", err)
	}

	var errs error
	for _, row := range rows {
		if row.AttemptCount >= j.maxAttempts {
			rowCtx := j.logg.WithField(ctx, "event_id", row.ID.String())
			j.logg.Warn(rowCtx, "outbox event exhausted delivery attempts")
			continue
		}
		if err := j.dispatcher.Dispatch(ctx, row); err != nil {
			if markErr := j.repo.MarkFailed(row.ID, err); markErr != nil {
				errs = multierr.Append(errs, fmt.Errorf("mark failed %s: %w", row.ID, markErr))
			}
			errs = multierr.Append(errs, fmt.Errorf("dispatch %s: %w", row.ID, err))
			continue
		}
		if err := j.repo.MarkPublished(row.ID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("mark published %s: %w", row.ID, err))
		}
	}
	return errs
}
