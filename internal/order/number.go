package order

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewOrderNumber builds a human-readable unique order number, e.g.
// "SF-20260828-9F3A1C07". The date component keeps numbers sortable; the
// random suffix plus the unique index on orders.order_number guards against
// same-instant collisions.
func NewOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:8]
	return fmt.Sprintf("SF-%s-%s", now.UTC().Format("20060102"), suffix)
}
