package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type column on outbox rows.
type OutboxAggregateType string

const (
	AggregateOrder       OutboxAggregateType = "order"
	AggregateReservation OutboxAggregateType = "reservation"
	AggregatePayment     OutboxAggregateType = "payment"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateReservation,
	AggregatePayment,
}

// IsValid reports whether the value matches the canonical aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// OutboxEventType maps to the event_type column on outbox rows.
type OutboxEventType string

const (
	EventOrderPlaced         OutboxEventType = "order_placed"
	EventOrderPaid           OutboxEventType = "order_paid"
	EventOrderPaymentFailed  OutboxEventType = "order_payment_failed"
	EventOrderRefunded       OutboxEventType = "order_refunded"
	EventReservationReleased OutboxEventType = "reservation_released"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderPlaced,
	EventOrderPaid,
	EventOrderPaymentFailed,
	EventOrderRefunded,
	EventReservationReleased,
}

// IsValid reports whether the value matches the canonical event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
