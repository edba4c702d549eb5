package db

import (
	"context"
	"testing"
	"time"

	"github.com/seqmarket/genomeledger/service/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testOwner = "4Nd1mY5a7bQhW6fJ8kC3pZr2sT9vXuEgD1hLnMoPqRsU"
	testBuyer = "7Xp3qW9eR2tY5uI8oP1aS4dF6gH0jK3lZ7xC9vB2nM5Q"
	testOther = "9Zr5tY2uI8oP3aS6dF1gH4jK7lQ0xC2vB5nM8eW3qT6R"
)

func setupStore(t *testing.T) *TestStore {
	t.Helper()
	SkipIfNoTestDB(t)

	ts := NewTestStore(t, ledger.DefaultPolicy())
	t.Cleanup(func() {
		ts.Cleanup(t)
		ts.Close()
	})
	ts.Cleanup(t)
	return ts
}

func TestCreateAndGetGenome(t *testing.T) {
	ts := setupStore(t)
	ctx := context.Background()

	created, err := ts.CreateGenome(ctx, CreateGenomeParams{
		StorageID: "store-abc",
		Metadata:  "meta-json",
		Owner:     testOwner,
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.False(t, created.Deleted)

	got, err := ts.GetGenome(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "store-abc", got.StorageID)
	assert.Equal(t, "meta-json", got.Metadata)
	assert.Equal(t, testOwner, got.Owner)
	assert.WithinDuration(t, created.CreatedAt, got.CreatedAt, time.Millisecond)
	assert.False(t, got.Deleted)
}

func TestGetGenomeNotFound(t *testing.T) {
	ts := setupStore(t)

	_, err := ts.GetGenome(context.Background(), "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListGenomesByOwner(t *testing.T) {
	ts := setupStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := ts.CreateGenome(ctx, CreateGenomeParams{StorageID: "s", Owner: testOwner})
		require.NoError(t, err)
	}
	_, err := ts.CreateGenome(ctx, CreateGenomeParams{StorageID: "s", Owner: testOther})
	require.NoError(t, err)

	mine, err := ts.ListGenomes(ctx, ListGenomesParams{Owner: testOwner, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, mine, 3)

	all, err := ts.ListGenomes(ctx, ListGenomesParams{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	paged, err := ts.ListGenomes(ctx, ListGenomesParams{Owner: testOwner, Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, paged, 1)
}

func TestDeleteGenome(t *testing.T) {
	ts := setupStore(t)
	ctx := context.Background()

	g, err := ts.CreateGenome(ctx, CreateGenomeParams{StorageID: "s", Owner: testOwner})
	require.NoError(t, err)

	t.Run("non-owner rejected", func(t *testing.T) {
		_, err := ts.DeleteGenome(ctx, g.ID, testOther)
		assert.ErrorIs(t, err, ledger.ErrUnauthorized)

		got, err := ts.GetGenome(ctx, g.ID)
		require.NoError(t, err)
		assert.False(t, got.Deleted)
	})

	t.Run("owner deletes", func(t *testing.T) {
		deleted, err := ts.DeleteGenome(ctx, g.ID, testOwner)
		require.NoError(t, err)
		assert.True(t, deleted.Deleted)

		got, err := ts.GetGenome(ctx, g.ID)
		require.NoError(t, err)
		assert.True(t, got.Deleted)
	})

	t.Run("double delete rejected", func(t *testing.T) {
		_, err := ts.DeleteGenome(ctx, g.ID, testOwner)
		assert.ErrorIs(t, err, ledger.ErrGenomeDeleted)
	})

	t.Run("missing id", func(t *testing.T) {
		_, err := ts.DeleteGenome(ctx, "00000000-0000-0000-0000-000000000001", testOwner)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestCreateTransaction(t *testing.T) {
	ts := setupStore(t)
	ctx := context.Background()

	tx, err := ts.CreateTransaction(ctx, CreateTransactionParams{
		GenomeID: "g1",
		Price:    1000,
		Duration: 86400,
		Seller:   testOwner,
	})
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusCreated, tx.Status)
	assert.Nil(t, tx.Buyer)
	assert.Nil(t, tx.ExecutedAt)
	assert.Equal(t, uint64(1000), tx.Price)
	assert.Equal(t, int64(86400), tx.Duration)
	assert.Equal(t, testOwner, tx.Seller)

	got, err := ts.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, got.ID)
	assert.Equal(t, ledger.StatusCreated, got.Status)
	assert.Nil(t, got.Buyer)
	assert.Nil(t, got.ExecutedAt)
}

func TestExecuteTransaction(t *testing.T) {
	ts := setupStore(t)
	ctx := context.Background()

	tx, err := ts.CreateTransaction(ctx, CreateTransactionParams{
		GenomeID: "g1", Price: 1000, Duration: 86400, Seller: testOwner,
	})
	require.NoError(t, err)

	executed, err := ts.ExecuteTransaction(ctx, tx.ID, testBuyer)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusExecuted, executed.Status)
	require.NotNil(t, executed.Buyer)
	assert.Equal(t, testBuyer, *executed.Buyer)
	require.NotNil(t, executed.ExecutedAt)

	// Persisted state matches what the transition returned.
	got, err := ts.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusExecuted, got.Status)
	require.NotNil(t, got.Buyer)
	assert.Equal(t, testBuyer, *got.Buyer)
	require.NotNil(t, got.ExecutedAt)
	assert.WithinDuration(t, *executed.ExecutedAt, *got.ExecutedAt, time.Millisecond)

	// Immutable fields are untouched.
	assert.Equal(t, tx.Seller, got.Seller)
	assert.Equal(t, tx.Price, got.Price)
	assert.Equal(t, tx.Duration, got.Duration)
	assert.Equal(t, tx.GenomeID, got.GenomeID)
	assert.WithinDuration(t, tx.CreatedAt, got.CreatedAt, time.Millisecond)
}

func TestExecuteTransactionTwice(t *testing.T) {
	ts := setupStore(t)
	ctx := context.Background()

	tx, err := ts.CreateTransaction(ctx, CreateTransactionParams{
		GenomeID: "g1", Price: 1000, Duration: 86400, Seller: testOwner,
	})
	require.NoError(t, err)

	first, err := ts.ExecuteTransaction(ctx, tx.ID, testBuyer)
	require.NoError(t, err)

	_, err = ts.ExecuteTransaction(ctx, tx.ID, testOther)
	assert.ErrorIs(t, err, ledger.ErrInvalidTransactionStatus)

	// The failed retry left the first execution's result intact.
	got, err := ts.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Buyer)
	assert.Equal(t, testBuyer, *got.Buyer)
	assert.WithinDuration(t, *first.ExecutedAt, *got.ExecutedAt, time.Millisecond)
}

func TestCancelTransaction(t *testing.T) {
	ts := setupStore(t)
	ctx := context.Background()

	tx, err := ts.CreateTransaction(ctx, CreateTransactionParams{
		GenomeID: "g1", Price: 1000, Duration: 86400, Seller: testOwner,
	})
	require.NoError(t, err)

	t.Run("non-seller rejected", func(t *testing.T) {
		_, err := ts.CancelTransaction(ctx, tx.ID, testOther)
		assert.ErrorIs(t, err, ledger.ErrUnauthorized)

		got, err := ts.GetTransaction(ctx, tx.ID)
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusCreated, got.Status)
	})

	t.Run("seller cancels", func(t *testing.T) {
		cancelled, err := ts.CancelTransaction(ctx, tx.ID, testOwner)
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusCancelled, cancelled.Status)
		assert.Nil(t, cancelled.Buyer)
		assert.Nil(t, cancelled.ExecutedAt)
	})

	t.Run("execute after cancel rejected", func(t *testing.T) {
		_, err := ts.ExecuteTransaction(ctx, tx.ID, testBuyer)
		assert.ErrorIs(t, err, ledger.ErrInvalidTransactionStatus)
	})

	t.Run("cancel after cancel rejected", func(t *testing.T) {
		_, err := ts.CancelTransaction(ctx, tx.ID, testOwner)
		assert.ErrorIs(t, err, ledger.ErrInvalidTransactionStatus)
	})
}

func TestExecuteExpiredOffer(t *testing.T) {
	ts := setupStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-2 * time.Hour)
	ts.WithClock(func() time.Time { return base })

	tx, err := ts.CreateTransaction(ctx, CreateTransactionParams{
		GenomeID: "g1", Price: 1000, Duration: 3600, Seller: testOwner,
	})
	require.NoError(t, err)

	// Advance past the one hour validity window.
	ts.WithClock(func() time.Time { return base.Add(2 * time.Hour) })

	_, err = ts.ExecuteTransaction(ctx, tx.ID, testBuyer)
	assert.ErrorIs(t, err, ledger.ErrOfferExpired)

	got, err := ts.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCreated, got.Status)
}

func TestExpireTransactions(t *testing.T) {
	ts := setupStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-2 * time.Hour)
	ts.WithClock(func() time.Time { return base })

	expiring, err := ts.CreateTransaction(ctx, CreateTransactionParams{
		GenomeID: "g1", Price: 100, Duration: 3600, Seller: testOwner,
	})
	require.NoError(t, err)

	forever, err := ts.CreateTransaction(ctx, CreateTransactionParams{
		GenomeID: "g2", Price: 100, Duration: 0, Seller: testOwner,
	})
	require.NoError(t, err)

	fresh, err := ts.CreateTransaction(ctx, CreateTransactionParams{
		GenomeID: "g3", Price: 100, Duration: 86400, Seller: testOwner,
	})
	require.NoError(t, err)

	ts.WithClock(func() time.Time { return base.Add(2 * time.Hour) })

	expired, err := ts.ExpireTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, expiring.ID, expired[0].ID)
	assert.Equal(t, ledger.StatusCancelled, expired[0].Status)

	for id, want := range map[string]ledger.Status{
		expiring.ID: ledger.StatusCancelled,
		forever.ID:  ledger.StatusCreated,
		fresh.ID:    ledger.StatusCreated,
	} {
		got, err := ts.GetTransaction(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status)
	}

	// A second sweep finds nothing.
	again, err := ts.ExpireTransactions(ctx)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestExpireTransactionsPolicyDisabled(t *testing.T) {
	SkipIfNoTestDB(t)

	policy := ledger.DefaultPolicy()
	policy.EnforceExpiry = false
	ts := NewTestStore(t, policy)
	t.Cleanup(func() {
		ts.Cleanup(t)
		ts.Close()
	})
	ts.Cleanup(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-2 * time.Hour)
	ts.WithClock(func() time.Time { return base })

	stale, err := ts.CreateTransaction(ctx, CreateTransactionParams{
		GenomeID: "g1", Price: 100, Duration: 3600, Seller: testOwner,
	})
	require.NoError(t, err)

	ts.WithClock(func() time.Time { return base.Add(2 * time.Hour) })

	expired, err := ts.ExpireTransactions(ctx)
	require.NoError(t, err)
	assert.Empty(t, expired)

	got, err := ts.GetTransaction(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCreated, got.Status)

	// With expiry off the stale offer is still executable.
	executed, err := ts.ExecuteTransaction(ctx, stale.ID, testBuyer)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusExecuted, executed.Status)
}

func TestListTransactionsFilters(t *testing.T) {
	ts := setupStore(t)
	ctx := context.Background()

	a, err := ts.CreateTransaction(ctx, CreateTransactionParams{GenomeID: "g1", Price: 1, Duration: 0, Seller: testOwner})
	require.NoError(t, err)
	_, err = ts.CreateTransaction(ctx, CreateTransactionParams{GenomeID: "g1", Price: 2, Duration: 0, Seller: testOther})
	require.NoError(t, err)
	_, err = ts.CreateTransaction(ctx, CreateTransactionParams{GenomeID: "g2", Price: 3, Duration: 0, Seller: testOwner})
	require.NoError(t, err)

	_, err = ts.ExecuteTransaction(ctx, a.ID, testBuyer)
	require.NoError(t, err)

	byGenome, err := ts.ListTransactions(ctx, ListTransactionsParams{GenomeID: "g1", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, byGenome, 2)

	bySeller, err := ts.ListTransactions(ctx, ListTransactionsParams{Seller: testOwner, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, bySeller, 2)

	executed, err := ts.ListTransactions(ctx, ListTransactionsParams{Status: ledger.StatusExecuted, Limit: 10})
	require.NoError(t, err)
	require.Len(t, executed, 1)
	assert.Equal(t, a.ID, executed[0].ID)
}

func TestTransactionNotFound(t *testing.T) {
	ts := setupStore(t)
	ctx := context.Background()

	const missing = "00000000-0000-0000-0000-000000000002"

	_, err := ts.GetTransaction(ctx, missing)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = ts.ExecuteTransaction(ctx, missing, testBuyer)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = ts.CancelTransaction(ctx, missing, testOwner)
	assert.ErrorIs(t, err, ErrNotFound)
}
