package ledger

import "errors"

// Sentinel errors returned by ledger transitions. Callers distinguish these with
// errors.Is; anything else coming out of a store method is an infrastructure
// failure, not a ledger decision.
var (
	// ErrInvalidTransactionStatus is returned when Execute or Cancel is invoked
	// against a transaction that is not in StatusCreated. The transaction is
	// left unmodified.
	ErrInvalidTransactionStatus = errors.New("invalid transaction status")

	// ErrUnauthorized is returned when the acting identity fails a policy check
	// (non-seller cancel, self purchase, non-owner delete).
	ErrUnauthorized = errors.New("identity not authorized for this operation")

	// ErrOfferExpired is returned when Execute is invoked after the offer's
	// validity window has elapsed.
	ErrOfferExpired = errors.New("offer expired")

	// ErrGenomeDeleted is returned when an operation targets a genome record
	// that has already been soft-deleted.
	ErrGenomeDeleted = errors.New("genome record deleted")
)
