package nats

import (
	"time"

	"github.com/seqmarket/genomeledger/service/ledger"
)

// Transaction event types.
const (
	TransactionCreated   = "created"
	TransactionExecuted  = "executed"
	TransactionCancelled = "cancelled"
	TransactionExpired   = "expired"
)

// Genome event types.
const (
	GenomeRegistered = "registered"
	GenomeDeleted    = "deleted"
)

// TransactionEvent represents a transaction lifecycle event published to
// JetStream on the subject "txns.{genome_id}".
type TransactionEvent struct {
	EventType string `json:"event_type"` // created, executed, cancelled, expired

	// Transaction snapshot after the transition
	TransactionID string     `json:"transaction_id"`
	GenomeID      string     `json:"genome_id"`
	Seller        string     `json:"seller"`
	Buyer         *string    `json:"buyer,omitempty"`
	Price         uint64     `json:"price"`
	Duration      int64      `json:"duration"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	ExecutedAt    *time.Time `json:"executed_at,omitempty"`

	// Metadata
	PublishedAt time.Time `json:"published_at"`
}

// GenomeEvent represents a genome registry event published to JetStream on the
// subject "genomes.{owner}".
type GenomeEvent struct {
	EventType string `json:"event_type"` // registered, deleted

	GenomeID  string    `json:"genome_id"`
	StorageID string    `json:"storage_id"`
	Owner     string    `json:"owner"`
	Deleted   bool      `json:"deleted"`
	CreatedAt time.Time `json:"created_at"`

	PublishedAt time.Time `json:"published_at"`
}

// FromTransaction builds a TransactionEvent from a ledger transaction.
func FromTransaction(eventType string, t *ledger.Transaction) *TransactionEvent {
	return &TransactionEvent{
		EventType:     eventType,
		TransactionID: t.ID,
		GenomeID:      t.GenomeID,
		Seller:        t.Seller,
		Buyer:         t.Buyer,
		Price:         t.Price,
		Duration:      t.Duration,
		Status:        string(t.Status),
		CreatedAt:     t.CreatedAt,
		ExecutedAt:    t.ExecutedAt,
		PublishedAt:   time.Now().UTC(),
	}
}

// FromGenome builds a GenomeEvent from a ledger genome record.
func FromGenome(eventType string, g *ledger.GenomeRecord) *GenomeEvent {
	return &GenomeEvent{
		EventType:   eventType,
		GenomeID:    g.ID,
		StorageID:   g.StorageID,
		Owner:       g.Owner,
		Deleted:     g.Deleted,
		CreatedAt:   g.CreatedAt,
		PublishedAt: time.Now().UTC(),
	}
}
