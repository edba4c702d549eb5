package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/seqmarket/genomeledger/service/ledger"
	"github.com/seqmarket/genomeledger/service/metrics"
	natspkg "github.com/seqmarket/genomeledger/service/nats"
)

// ExpireOffersInput contains the input parameters for the expiry sweep.
// The sweep always acts on "now", so there is nothing to configure yet; the
// struct exists so the workflow signature can grow without breaking schedules.
type ExpireOffersInput struct{}

// ExpireOffersResult contains the result of an expiry sweep.
type ExpireOffersResult struct {
	Expired   int       `json:"expired"`
	SweepTime time.Time `json:"sweep_time"`
	Error     *string   `json:"error,omitempty"`
}

// StoreInterface defines the database operations needed by activities.
// This allows for easy mocking in tests.
type StoreInterface interface {
	ExpireTransactions(ctx context.Context) ([]*ledger.Transaction, error)
}

// PublisherInterface defines the NATS publishing operations needed by
// activities.
type PublisherInterface interface {
	PublishTransaction(ctx context.Context, event *natspkg.TransactionEvent) error
}

// Activities holds the dependencies needed by Temporal activities. All
// dependencies are explicit.
type Activities struct {
	store     StoreInterface
	publisher PublisherInterface
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded.
func NewActivities(store StoreInterface, publisher PublisherInterface, m *metrics.Metrics, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		store:     store,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// ExpireOffers cancels every created offer whose validity window has elapsed
// and publishes an expired event for each. The underlying store update is a
// single guarded statement, so a retried activity simply finds nothing left
// to expire.
func (a *Activities) ExpireOffers(ctx context.Context, input ExpireOffersInput) (*ExpireOffersResult, error) {
	start := time.Now()

	expired, err := a.store.ExpireTransactions(ctx)
	if err != nil {
		if a.metrics != nil {
			a.metrics.RecordSweepRun("error", 0, time.Since(start).Seconds())
		}
		a.logger.ErrorContext(ctx, "expiry sweep failed", "error", err)
		return nil, fmt.Errorf("failed to expire transactions: %w", err)
	}

	for _, t := range expired {
		event := natspkg.FromTransaction(natspkg.TransactionExpired, t)
		if err := a.publisher.PublishTransaction(ctx, event); err != nil {
			// The cancellation is already committed; a lost event is
			// recoverable from the store, so log and keep going.
			a.logger.ErrorContext(ctx, "failed to publish expired event",
				"transaction_id", t.ID,
				"genome_id", t.GenomeID,
				"error", err,
			)
		}
	}

	if a.metrics != nil {
		a.metrics.RecordSweepRun("success", len(expired), time.Since(start).Seconds())
	}

	if len(expired) > 0 {
		a.logger.InfoContext(ctx, "expiry sweep cancelled offers", "count", len(expired))
	} else {
		a.logger.DebugContext(ctx, "expiry sweep found nothing to cancel")
	}

	return &ExpireOffersResult{
		Expired:   len(expired),
		SweepTime: start.UTC(),
	}, nil
}
