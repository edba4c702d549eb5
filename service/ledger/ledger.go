// Package ledger holds the domain model for genome ownership records and the
// transfer-offer state machine. Everything here is pure: no I/O, no clocks, no
// storage. Callers supply the current time and persist the results; the store
// layer is responsible for applying each transition as a single atomic write.
package ledger

import "time"

// Status is the lifecycle state of a Transaction.
type Status string

const (
	// StatusCreated is the initial (and only non-terminal) state.
	StatusCreated Status = "created"
	// StatusExecuted means a buyer accepted the offer. Terminal.
	StatusExecuted Status = "executed"
	// StatusCancelled means the offer was withdrawn or expired. Terminal.
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusExecuted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is permitted out of s.
func (s Status) Terminal() bool {
	return s == StatusExecuted || s == StatusCancelled
}

// GenomeRecord is the authoritative record of who registered a genome dataset.
// StorageID and Metadata are opaque to the ledger; they point at wherever the
// underlying data actually lives. StorageID, Owner and CreatedAt never change
// after creation, and records are only ever soft-deleted.
type GenomeRecord struct {
	ID        string
	StorageID string
	Metadata  string
	Owner     string
	CreatedAt time.Time
	Deleted   bool
}

// Transaction is a price-and-duration-bound offer to transfer rights to a
// genome record from Seller to a buyer. Buyer and ExecutedAt are nil unless
// Status is StatusExecuted, in which case both were set together by Execute.
type Transaction struct {
	ID         string
	GenomeID   string
	Seller     string
	Buyer      *string
	Price      uint64
	Duration   int64 // offer validity window in seconds; <= 0 means no expiry
	Status     Status
	CreatedAt  time.Time
	ExecutedAt *time.Time
}

// Policy controls the authorization and expiry checks applied on top of the
// basic status guard. The zero value reproduces the fully permissive behavior
// of the original on-chain program; DefaultPolicy is what the service runs.
type Policy struct {
	// RequireSellerCancel makes Cancel fail with ErrUnauthorized unless the
	// authority is the transaction's seller.
	RequireSellerCancel bool
	// ForbidSelfPurchase makes Execute fail with ErrUnauthorized when the
	// buyer is the transaction's seller.
	ForbidSelfPurchase bool
	// EnforceExpiry makes Execute fail with ErrOfferExpired once the offer's
	// validity window has elapsed. Offers with Duration <= 0 never expire.
	EnforceExpiry bool
}

// DefaultPolicy returns the hardened policy the service runs with.
func DefaultPolicy() Policy {
	return Policy{
		RequireSellerCancel: true,
		ForbidSelfPurchase:  true,
		EnforceExpiry:       true,
	}
}

// NewGenome creates a genome record owned by owner. StorageID and metadata are
// stored verbatim; the ledger imposes no format or uniqueness constraints.
func NewGenome(id, storageID, metadata, owner string, now time.Time) *GenomeRecord {
	return &GenomeRecord{
		ID:        id,
		StorageID: storageID,
		Metadata:  metadata,
		Owner:     owner,
		CreatedAt: now,
		Deleted:   false,
	}
}

// MarkDeleted soft-deletes the record. Only the owner may delete, and a record
// may be deleted at most once. On failure the record is unchanged.
func (g *GenomeRecord) MarkDeleted(actor string) error {
	if actor != g.Owner {
		return ErrUnauthorized
	}
	if g.Deleted {
		return ErrGenomeDeleted
	}
	g.Deleted = true
	return nil
}

// NewTransaction creates an offer in StatusCreated. Price and duration are
// taken as supplied: a zero price and a non-positive duration are both legal
// here; range validation is the caller's concern.
func NewTransaction(id, genomeID string, price uint64, duration int64, seller string, now time.Time) *Transaction {
	return &Transaction{
		ID:        id,
		GenomeID:  genomeID,
		Seller:    seller,
		Price:     price,
		Duration:  duration,
		Status:    StatusCreated,
		CreatedAt: now,
	}
}

// ExpiresAt returns the end of the offer's validity window. The second return
// is false when the offer has no expiry (Duration <= 0).
func (t *Transaction) ExpiresAt() (time.Time, bool) {
	if t.Duration <= 0 {
		return time.Time{}, false
	}
	return t.CreatedAt.Add(time.Duration(t.Duration) * time.Second), true
}

// Expired reports whether the offer's validity window has elapsed at now.
func (t *Transaction) Expired(now time.Time) bool {
	deadline, ok := t.ExpiresAt()
	if !ok {
		return false
	}
	return !now.Before(deadline)
}

// Execute transitions the offer to StatusExecuted on behalf of buyer. The
// status guard runs first: anything other than StatusCreated fails with
// ErrInvalidTransactionStatus. Policy checks run after the guard. All guards
// must pass before any field is touched; Buyer, ExecutedAt and Status are then
// set together so no intermediate state is ever observable.
func (t *Transaction) Execute(buyer string, now time.Time, p Policy) error {
	if t.Status != StatusCreated {
		return ErrInvalidTransactionStatus
	}
	if p.EnforceExpiry && t.Expired(now) {
		return ErrOfferExpired
	}
	if p.ForbidSelfPurchase && buyer == t.Seller {
		return ErrUnauthorized
	}
	t.Buyer = &buyer
	t.Status = StatusExecuted
	t.ExecutedAt = &now
	return nil
}

// Cancel transitions the offer to StatusCancelled. Only the status changes;
// every other field keeps its value. With RequireSellerCancel set, only the
// seller may cancel.
func (t *Transaction) Cancel(authority string, p Policy) error {
	if t.Status != StatusCreated {
		return ErrInvalidTransactionStatus
	}
	if p.RequireSellerCancel && authority != t.Seller {
		return ErrUnauthorized
	}
	t.Status = StatusCancelled
	return nil
}
