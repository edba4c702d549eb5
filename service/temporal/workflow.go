package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// ExpireOffersWorkflow cancels transfer offers whose validity window has
// elapsed. It is triggered by the expire-offers-sweep schedule at a
// configured interval and runs a single activity; the heavy lifting (the
// guarded batch update) happens in the store.
func ExpireOffersWorkflow(ctx workflow.Context, input ExpireOffersInput) (*ExpireOffersResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Debug("ExpireOffersWorkflow started")

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 60 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	var result *ExpireOffersResult
	if err := workflow.ExecuteActivity(ctx, a.ExpireOffers, input).Get(ctx, &result); err != nil {
		errMsg := fmt.Sprintf("failed to expire offers: %v", err)
		return &ExpireOffersResult{
			SweepTime: workflow.Now(ctx),
			Error:     &errMsg,
		}, fmt.Errorf("failed to expire offers: %w", err)
	}

	if result.Expired > 0 {
		logger.Info("ExpireOffersWorkflow completed", "expired", result.Expired)
	}
	return result, nil
}
