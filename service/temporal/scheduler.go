package temporal

import (
	"context"
	"time"
)

// Scheduler manages the Temporal schedule that drives the offer expiry sweep.
// There is a single recurring schedule; each firing runs ExpireOffersWorkflow,
// which cancels every created offer whose validity window has elapsed.
type Scheduler interface {
	// EnsureExpirySchedule creates the expiry sweep schedule if it does not
	// exist, or updates its interval if it does.
	EnsureExpirySchedule(ctx context.Context, interval time.Duration) error

	// DeleteExpirySchedule removes the expiry sweep schedule.
	DeleteExpirySchedule(ctx context.Context) error
}

// ExpiryScheduleID is the Temporal schedule ID for the offer expiry sweep.
const ExpiryScheduleID = "expire-offers-sweep"
