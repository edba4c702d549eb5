package temporal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/seqmarket/genomeledger/service/ledger"
	natspkg "github.com/seqmarket/genomeledger/service/nats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"
)

// mockStore implements StoreInterface for workflow and activity tests.
type mockStore struct {
	mu      sync.Mutex
	expired []*ledger.Transaction
	err     error
	calls   int
}

func (m *mockStore) ExpireTransactions(ctx context.Context) ([]*ledger.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.expired, nil
}

func expiredTransaction(id string) *ledger.Transaction {
	now := time.Now().UTC()
	return &ledger.Transaction{
		ID:        id,
		GenomeID:  "3f5b0e9a-1c2d-4e6f-8a9b-0c1d2e3f4a5b",
		Seller:    "4Nd1mYvoAYGJiBPdT3Kg3JX4dr9YvYzjPau9vK9838Sd",
		Price:     1000,
		Duration:  60,
		Status:    ledger.StatusCancelled,
		CreatedAt: now.Add(-2 * time.Minute),
	}
}

func TestExpireOffersActivity(t *testing.T) {
	t.Run("expires offers and publishes events", func(t *testing.T) {
		store := &mockStore{expired: []*ledger.Transaction{
			expiredTransaction("a1a1a1a1-0000-0000-0000-000000000001"),
			expiredTransaction("a1a1a1a1-0000-0000-0000-000000000002"),
		}}
		pub := natspkg.NewMockPublisher()
		acts := NewActivities(store, pub, nil, nil)

		result, err := acts.ExpireOffers(context.Background(), ExpireOffersInput{})
		require.NoError(t, err)
		assert.Equal(t, 2, result.Expired)
		assert.Nil(t, result.Error)

		events := pub.TransactionEvents()
		require.Len(t, events, 2)
		for _, e := range events {
			assert.Equal(t, natspkg.TransactionExpired, e.EventType)
			assert.Equal(t, string(ledger.StatusCancelled), e.Status)
		}
	})

	t.Run("nothing to expire", func(t *testing.T) {
		store := &mockStore{}
		pub := natspkg.NewMockPublisher()
		acts := NewActivities(store, pub, nil, nil)

		result, err := acts.ExpireOffers(context.Background(), ExpireOffersInput{})
		require.NoError(t, err)
		assert.Equal(t, 0, result.Expired)
		assert.Empty(t, pub.TransactionEvents())
	})

	t.Run("store error is returned", func(t *testing.T) {
		store := &mockStore{err: errors.New("connection refused")}
		pub := natspkg.NewMockPublisher()
		acts := NewActivities(store, pub, nil, nil)

		_, err := acts.ExpireOffers(context.Background(), ExpireOffersInput{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("publish failure does not fail the sweep", func(t *testing.T) {
		store := &mockStore{expired: []*ledger.Transaction{
			expiredTransaction("a1a1a1a1-0000-0000-0000-000000000003"),
		}}
		pub := natspkg.NewMockPublisher()
		pub.SetPublishError(errors.New("nats unavailable"))
		acts := NewActivities(store, pub, nil, nil)

		result, err := acts.ExpireOffers(context.Background(), ExpireOffersInput{})
		require.NoError(t, err)
		assert.Equal(t, 1, result.Expired)
	})
}

func TestExpireOffersWorkflow(t *testing.T) {
	t.Run("successful sweep", func(t *testing.T) {
		var ts testsuite.WorkflowTestSuite
		env := ts.NewTestWorkflowEnvironment()

		store := &mockStore{expired: []*ledger.Transaction{
			expiredTransaction("b2b2b2b2-0000-0000-0000-000000000001"),
		}}
		pub := natspkg.NewMockPublisher()
		acts := NewActivities(store, pub, nil, nil)
		env.RegisterActivity(acts.ExpireOffers)

		env.ExecuteWorkflow(ExpireOffersWorkflow, ExpireOffersInput{})

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var result ExpireOffersResult
		require.NoError(t, env.GetWorkflowResult(&result))
		assert.Equal(t, 1, result.Expired)
		require.Len(t, pub.TransactionEvents(), 1)
	})

	t.Run("activity failure fails the workflow", func(t *testing.T) {
		var ts testsuite.WorkflowTestSuite
		env := ts.NewTestWorkflowEnvironment()

		store := &mockStore{err: errors.New("database down")}
		pub := natspkg.NewMockPublisher()
		acts := NewActivities(store, pub, nil, nil)
		env.RegisterActivity(acts.ExpireOffers)

		env.ExecuteWorkflow(ExpireOffersWorkflow, ExpireOffersInput{})

		require.True(t, env.IsWorkflowCompleted())
		err := env.GetWorkflowError()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to expire offers")
		// The retry policy allows three attempts before giving up.
		assert.Equal(t, 3, store.calls)
	})
}

func TestMockScheduler(t *testing.T) {
	ctx := context.Background()
	m := NewMockScheduler()

	assert.False(t, m.ScheduleExists())

	require.NoError(t, m.EnsureExpirySchedule(ctx, time.Minute))
	assert.True(t, m.ScheduleExists())
	assert.Equal(t, time.Minute, m.ScheduleInterval())

	// Idempotent with a new interval.
	require.NoError(t, m.EnsureExpirySchedule(ctx, 5*time.Minute))
	assert.Equal(t, 5*time.Minute, m.ScheduleInterval())

	require.NoError(t, m.DeleteExpirySchedule(ctx))
	assert.False(t, m.ScheduleExists())
	require.Error(t, m.DeleteExpirySchedule(ctx))
}
