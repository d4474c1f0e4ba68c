package notifications

import (
	"context"
	"fmt"

	"github.com/iandrade/storefront-backend/pkg/db/models"
	"github.com/iandrade/storefront-backend/pkg/logger"
)

// Dispatcher delivers order lifecycle events to the notification channel.
// Delivery transports (email, push, SMS) live outside this engine; the outbox
// dispatch job hands committed events to whatever implementation is wired.
type Dispatcher interface {
	Dispatch(ctx context.Context, event models.OutboxEvent) error
}

type logDispatcher struct {
	logg *logger.Logger
}

// NewLogDispatcher returns a dispatcher that records events to the service
// log. It stands in until a real delivery transport is configured.
func NewLogDispatcher(logg *logger.Logger) (Dispatcher, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &logDispatcher{logg: logg}, nil
}

func (d *logDispatcher) Dispatch(ctx context.Context, event models.OutboxEvent) error {
	ctx = d.logg.WithFields(ctx, map[string]any{
		"event_id":       event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
	})
	d.logg.Info(ctx, "notification dispatched")
	return nil
}
