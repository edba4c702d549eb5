package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	sellerKey = "4Nd1mY5a7bQhW6fJ8kC3pZr2sT9vXuEgD1hLnMoPqRsU"
	buyerKey  = "7Xp3qW9eR2tY5uI8oP1aS4dF6gH0jK3lZ7xC9vB2nM5Q"
	otherKey  = "9Zr5tY2uI8oP3aS6dF1gH4jK7lQ0xC2vB5nM8eW3qT6R"
)

func newTestOffer(t *testing.T) *Transaction {
	t.Helper()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return NewTransaction("tx-1", "g1", 1000, 86400, sellerKey, now)
}

func TestNewGenome(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g := NewGenome("gen-1", "store-abc", "meta-json", sellerKey, now)

	assert.Equal(t, "gen-1", g.ID)
	assert.Equal(t, "store-abc", g.StorageID)
	assert.Equal(t, "meta-json", g.Metadata)
	assert.Equal(t, sellerKey, g.Owner)
	assert.Equal(t, now, g.CreatedAt)
	assert.False(t, g.Deleted)
}

func TestGenomeMarkDeleted(t *testing.T) {
	now := time.Now().UTC()

	t.Run("owner deletes once", func(t *testing.T) {
		g := NewGenome("gen-1", "store-abc", "meta", sellerKey, now)
		require.NoError(t, g.MarkDeleted(sellerKey))
		assert.True(t, g.Deleted)
	})

	t.Run("non-owner rejected", func(t *testing.T) {
		g := NewGenome("gen-1", "store-abc", "meta", sellerKey, now)
		err := g.MarkDeleted(otherKey)
		assert.ErrorIs(t, err, ErrUnauthorized)
		assert.False(t, g.Deleted)
	})

	t.Run("double delete rejected", func(t *testing.T) {
		g := NewGenome("gen-1", "store-abc", "meta", sellerKey, now)
		require.NoError(t, g.MarkDeleted(sellerKey))
		err := g.MarkDeleted(sellerKey)
		assert.ErrorIs(t, err, ErrGenomeDeleted)
		assert.True(t, g.Deleted)
	})
}

func TestNewTransaction(t *testing.T) {
	tx := newTestOffer(t)

	assert.Equal(t, StatusCreated, tx.Status)
	assert.Nil(t, tx.Buyer)
	assert.Nil(t, tx.ExecutedAt)
	assert.Equal(t, uint64(1000), tx.Price)
	assert.Equal(t, int64(86400), tx.Duration)
	assert.Equal(t, sellerKey, tx.Seller)
	assert.Equal(t, "g1", tx.GenomeID)
}

func TestNewTransactionAcceptsUnvalidatedBounds(t *testing.T) {
	// Zero price and non-positive duration are legal at this layer.
	now := time.Now().UTC()
	tx := NewTransaction("tx-1", "g1", 0, -5, sellerKey, now)
	assert.Equal(t, StatusCreated, tx.Status)

	_, hasExpiry := tx.ExpiresAt()
	assert.False(t, hasExpiry)
	assert.False(t, tx.Expired(now.Add(1000*time.Hour)))
}

func TestExecute(t *testing.T) {
	tx := newTestOffer(t)
	now := tx.CreatedAt.Add(time.Hour)

	require.NoError(t, tx.Execute(buyerKey, now, DefaultPolicy()))

	assert.Equal(t, StatusExecuted, tx.Status)
	require.NotNil(t, tx.Buyer)
	assert.Equal(t, buyerKey, *tx.Buyer)
	require.NotNil(t, tx.ExecutedAt)
	assert.Equal(t, now, *tx.ExecutedAt)

	// Immutable fields survive the transition.
	assert.Equal(t, sellerKey, tx.Seller)
	assert.Equal(t, uint64(1000), tx.Price)
	assert.Equal(t, int64(86400), tx.Duration)
	assert.Equal(t, "g1", tx.GenomeID)
}

func TestExecuteTwice(t *testing.T) {
	tx := newTestOffer(t)
	first := tx.CreatedAt.Add(time.Hour)
	require.NoError(t, tx.Execute(buyerKey, first, DefaultPolicy()))

	err := tx.Execute(otherKey, first.Add(time.Minute), DefaultPolicy())
	assert.ErrorIs(t, err, ErrInvalidTransactionStatus)

	// The first execution's result is untouched by the failed retry.
	require.NotNil(t, tx.Buyer)
	assert.Equal(t, buyerKey, *tx.Buyer)
	require.NotNil(t, tx.ExecutedAt)
	assert.Equal(t, first, *tx.ExecutedAt)
	assert.Equal(t, StatusExecuted, tx.Status)
}

func TestTerminalStatesRejectBothTransitions(t *testing.T) {
	now := time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC)

	t.Run("cancel after execute", func(t *testing.T) {
		tx := newTestOffer(t)
		require.NoError(t, tx.Execute(buyerKey, now, DefaultPolicy()))

		err := tx.Cancel(sellerKey, DefaultPolicy())
		assert.ErrorIs(t, err, ErrInvalidTransactionStatus)
		assert.Equal(t, StatusExecuted, tx.Status)
	})

	t.Run("execute after cancel", func(t *testing.T) {
		tx := newTestOffer(t)
		require.NoError(t, tx.Cancel(sellerKey, DefaultPolicy()))

		err := tx.Execute(buyerKey, now, DefaultPolicy())
		assert.ErrorIs(t, err, ErrInvalidTransactionStatus)
		assert.Equal(t, StatusCancelled, tx.Status)
		assert.Nil(t, tx.Buyer)
		assert.Nil(t, tx.ExecutedAt)
	})

	t.Run("cancel after cancel", func(t *testing.T) {
		tx := newTestOffer(t)
		require.NoError(t, tx.Cancel(sellerKey, DefaultPolicy()))

		err := tx.Cancel(sellerKey, DefaultPolicy())
		assert.ErrorIs(t, err, ErrInvalidTransactionStatus)
	})
}

func TestExecutePolicyChecks(t *testing.T) {
	t.Run("self purchase forbidden by default", func(t *testing.T) {
		tx := newTestOffer(t)
		err := tx.Execute(sellerKey, tx.CreatedAt.Add(time.Hour), DefaultPolicy())
		assert.ErrorIs(t, err, ErrUnauthorized)
		assert.Equal(t, StatusCreated, tx.Status)
		assert.Nil(t, tx.Buyer)
	})

	t.Run("self purchase allowed under permissive policy", func(t *testing.T) {
		tx := newTestOffer(t)
		err := tx.Execute(sellerKey, tx.CreatedAt.Add(time.Hour), Policy{})
		require.NoError(t, err)
		assert.Equal(t, StatusExecuted, tx.Status)
	})

	t.Run("expired offer rejected", func(t *testing.T) {
		tx := newTestOffer(t)
		late := tx.CreatedAt.Add(time.Duration(tx.Duration)*time.Second + time.Second)
		err := tx.Execute(buyerKey, late, DefaultPolicy())
		assert.ErrorIs(t, err, ErrOfferExpired)
		assert.Equal(t, StatusCreated, tx.Status)
	})

	t.Run("expiry boundary is inclusive", func(t *testing.T) {
		tx := newTestOffer(t)
		deadline := tx.CreatedAt.Add(time.Duration(tx.Duration) * time.Second)
		err := tx.Execute(buyerKey, deadline, DefaultPolicy())
		assert.ErrorIs(t, err, ErrOfferExpired)
	})

	t.Run("expiry ignored under permissive policy", func(t *testing.T) {
		tx := newTestOffer(t)
		late := tx.CreatedAt.Add(48 * time.Hour)
		require.NoError(t, tx.Execute(buyerKey, late, Policy{}))
	})

	t.Run("status guard runs before policy checks", func(t *testing.T) {
		tx := newTestOffer(t)
		require.NoError(t, tx.Cancel(sellerKey, DefaultPolicy()))

		// Self purchase of a cancelled offer reports the status failure, not
		// the authorization one.
		err := tx.Execute(sellerKey, tx.CreatedAt, DefaultPolicy())
		assert.ErrorIs(t, err, ErrInvalidTransactionStatus)
	})
}

func TestCancelPolicyChecks(t *testing.T) {
	t.Run("seller may cancel", func(t *testing.T) {
		tx := newTestOffer(t)
		require.NoError(t, tx.Cancel(sellerKey, DefaultPolicy()))
		assert.Equal(t, StatusCancelled, tx.Status)

		// Cancel touches nothing but the status.
		assert.Nil(t, tx.Buyer)
		assert.Nil(t, tx.ExecutedAt)
		assert.Equal(t, uint64(1000), tx.Price)
		assert.Equal(t, int64(86400), tx.Duration)
	})

	t.Run("non-seller rejected by default", func(t *testing.T) {
		tx := newTestOffer(t)
		err := tx.Cancel(otherKey, DefaultPolicy())
		assert.ErrorIs(t, err, ErrUnauthorized)
		assert.Equal(t, StatusCreated, tx.Status)
	})

	t.Run("any authority accepted under permissive policy", func(t *testing.T) {
		tx := newTestOffer(t)
		require.NoError(t, tx.Cancel(otherKey, Policy{}))
		assert.Equal(t, StatusCancelled, tx.Status)
	})
}

func TestBuyerAndExecutedAtTrackStatus(t *testing.T) {
	// buyer and executed_at are nil iff status != executed.
	now := time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC)

	created := newTestOffer(t)
	assert.Nil(t, created.Buyer)
	assert.Nil(t, created.ExecutedAt)

	cancelled := newTestOffer(t)
	require.NoError(t, cancelled.Cancel(sellerKey, DefaultPolicy()))
	assert.Nil(t, cancelled.Buyer)
	assert.Nil(t, cancelled.ExecutedAt)

	executed := newTestOffer(t)
	require.NoError(t, executed.Execute(buyerKey, now, DefaultPolicy()))
	assert.NotNil(t, executed.Buyer)
	assert.NotNil(t, executed.ExecutedAt)
}

func TestStatusHelpers(t *testing.T) {
	assert.True(t, StatusCreated.Valid())
	assert.True(t, StatusExecuted.Valid())
	assert.True(t, StatusCancelled.Valid())
	assert.False(t, Status("pending").Valid())

	assert.False(t, StatusCreated.Terminal())
	assert.True(t, StatusExecuted.Terminal())
	assert.True(t, StatusCancelled.Terminal())
}

func TestExpiresAt(t *testing.T) {
	tx := newTestOffer(t)
	deadline, ok := tx.ExpiresAt()
	require.True(t, ok)
	assert.Equal(t, tx.CreatedAt.Add(24*time.Hour), deadline)

	assert.False(t, tx.Expired(deadline.Add(-time.Second)))
	assert.True(t, tx.Expired(deadline))
	assert.True(t, tx.Expired(deadline.Add(time.Hour)))
}
