package db

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/seqmarket/genomeledger/service/ledger"
)

// ErrNotFound is returned when a genome or transaction id does not exist.
// It is distinct from the ledger's own failure modes so callers never confuse
// a missing record with a rejected transition.
var ErrNotFound = errors.New("record not found")

// Store provides persistence for genome records and transactions. Each record
// is an independently addressed row; state transitions load the row under a
// row lock, apply the ledger guard, and persist the result in one database
// transaction, so the precondition check and the mutation commit as a unit.
type Store struct {
	pool   *pgxpool.Pool
	policy ledger.Policy
	now    func() time.Time
}

// NewStore creates a Store over the given connection pool. The policy is
// applied to every execute/cancel transition.
func NewStore(pool *pgxpool.Pool, policy ledger.Policy) *Store {
	return &Store{
		pool:   pool,
		policy: policy,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the store's time source. Intended for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Policy returns the transition policy this store enforces.
func (s *Store) Policy() ledger.Policy {
	return s.policy
}

// CreateGenomeParams contains the caller-supplied fields for a new genome
// record. The store allocates the id and the creation timestamp.
type CreateGenomeParams struct {
	StorageID string
	Metadata  string
	Owner     string
}

// CreateGenome registers a new genome record.
func (s *Store) CreateGenome(ctx context.Context, params CreateGenomeParams) (*ledger.GenomeRecord, error) {
	g := ledger.NewGenome(uuid.NewString(), params.StorageID, params.Metadata, params.Owner, s.now())

	_, err := s.pool.Exec(ctx,
		`INSERT INTO genomes (id, storage_id, metadata, owner, created_at, deleted)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		g.ID, g.StorageID, g.Metadata, g.Owner, g.CreatedAt, g.Deleted,
	)
	if err != nil {
		return nil, fmt.Errorf("insert genome: %w", err)
	}
	return g, nil
}

// GetGenome retrieves a genome record by id.
func (s *Store) GetGenome(ctx context.Context, id string) (*ledger.GenomeRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, storage_id, metadata, owner, created_at, deleted
		 FROM genomes WHERE id = $1`, id)
	return scanGenome(row)
}

// ListGenomesParams contains filter and pagination parameters for ListGenomes.
type ListGenomesParams struct {
	Owner  string // empty lists all owners
	Limit  int32
	Offset int32
}

// ListGenomes retrieves genome records, most recent first. Soft-deleted
// records are included; callers that want to hide them filter on Deleted.
func (s *Store) ListGenomes(ctx context.Context, params ListGenomesParams) ([]*ledger.GenomeRecord, error) {
	query := `SELECT id, storage_id, metadata, owner, created_at, deleted
		 FROM genomes
		 WHERE ($1 = '' OR owner = $1)
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`

	rows, err := s.pool.Query(ctx, query, params.Owner, params.Limit, params.Offset)
	if err != nil {
		return nil, fmt.Errorf("list genomes: %w", err)
	}
	defer rows.Close()

	var genomes []*ledger.GenomeRecord
	for rows.Next() {
		g, err := scanGenome(rows)
		if err != nil {
			return nil, err
		}
		genomes = append(genomes, g)
	}
	return genomes, rows.Err()
}

// DeleteGenome soft-deletes a genome record on behalf of actor. Returns
// ledger.ErrUnauthorized when actor is not the owner and
// ledger.ErrGenomeDeleted when the record was already deleted.
func (s *Store) DeleteGenome(ctx context.Context, id string, actor string) (*ledger.GenomeRecord, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin delete genome: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`SELECT id, storage_id, metadata, owner, created_at, deleted
		 FROM genomes WHERE id = $1 FOR UPDATE`, id)
	g, err := scanGenome(row)
	if err != nil {
		return nil, err
	}

	if err := g.MarkDeleted(actor); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `UPDATE genomes SET deleted = TRUE WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("mark genome deleted: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit delete genome: %w", err)
	}
	return g, nil
}

// CreateTransactionParams contains the caller-supplied fields for a new
// transfer offer. The store allocates the id and the creation timestamp.
type CreateTransactionParams struct {
	GenomeID string
	Price    uint64
	Duration int64
	Seller   string
}

// CreateTransaction opens a new transfer offer in the created state. The
// genome id is stored by value; whether it refers to a live genome record is
// the caller's concern.
func (s *Store) CreateTransaction(ctx context.Context, params CreateTransactionParams) (*ledger.Transaction, error) {
	if params.Price > math.MaxInt64 {
		return nil, fmt.Errorf("price %d exceeds storable range", params.Price)
	}

	t := ledger.NewTransaction(uuid.NewString(), params.GenomeID, params.Price, params.Duration, params.Seller, s.now())

	_, err := s.pool.Exec(ctx,
		`INSERT INTO transactions (id, genome_id, seller, buyer, price, duration, status, created_at, executed_at)
		 VALUES ($1, $2, $3, NULL, $4, $5, $6, $7, NULL)`,
		t.ID, t.GenomeID, t.Seller, int64(t.Price), t.Duration, string(t.Status), t.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}
	return t, nil
}

// GetTransaction retrieves a transaction by id.
func (s *Store) GetTransaction(ctx context.Context, id string) (*ledger.Transaction, error) {
	row := s.pool.QueryRow(ctx, selectTransaction+` WHERE id = $1`, id)
	return scanTransaction(row)
}

// ListTransactionsParams contains filter and pagination parameters for
// ListTransactions. Empty filters match everything.
type ListTransactionsParams struct {
	GenomeID string
	Seller   string
	Status   ledger.Status
	Limit    int32
	Offset   int32
}

// ListTransactions retrieves transactions, most recent first.
func (s *Store) ListTransactions(ctx context.Context, params ListTransactionsParams) ([]*ledger.Transaction, error) {
	query := selectTransaction + `
		 WHERE ($1 = '' OR genome_id = $1)
		   AND ($2 = '' OR seller = $2)
		   AND ($3 = '' OR status = $3)
		 ORDER BY created_at DESC
		 LIMIT $4 OFFSET $5`

	rows, err := s.pool.Query(ctx, query,
		params.GenomeID, params.Seller, string(params.Status), params.Limit, params.Offset)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txns []*ledger.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// ExecuteTransaction transitions a transaction to executed on behalf of buyer.
// The row is locked for the duration of the guard and the write, so concurrent
// writers serialize and the loser observes the terminal state.
func (s *Store) ExecuteTransaction(ctx context.Context, id string, buyer string) (*ledger.Transaction, error) {
	now := s.now()

	var result *ledger.Transaction
	err := s.withLockedTransaction(ctx, id, func(tx pgx.Tx, t *ledger.Transaction) error {
		if err := t.Execute(buyer, now, s.policy); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`UPDATE transactions SET buyer = $2, status = $3, executed_at = $4 WHERE id = $1`,
			id, *t.Buyer, string(t.Status), *t.ExecutedAt,
		)
		if err != nil {
			return fmt.Errorf("execute transaction: %w", err)
		}
		result = t
		return nil
	})
	return result, err
}

// CancelTransaction transitions a transaction to cancelled on behalf of
// authority. Only the status column changes.
func (s *Store) CancelTransaction(ctx context.Context, id string, authority string) (*ledger.Transaction, error) {
	var result *ledger.Transaction
	err := s.withLockedTransaction(ctx, id, func(tx pgx.Tx, t *ledger.Transaction) error {
		if err := t.Cancel(authority, s.policy); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`UPDATE transactions SET status = $2 WHERE id = $1`,
			id, string(t.Status),
		)
		if err != nil {
			return fmt.Errorf("cancel transaction: %w", err)
		}
		result = t
		return nil
	})
	return result, err
}

// ExpireTransactions cancels every created offer whose validity window has
// elapsed at the store's current time. Offers with a non-positive duration
// never expire, and a policy that does not enforce expiry makes the sweep a
// no-op. Returns the offers cancelled by this sweep.
func (s *Store) ExpireTransactions(ctx context.Context) ([]*ledger.Transaction, error) {
	if !s.policy.EnforceExpiry {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`UPDATE transactions
		 SET status = $1
		 WHERE status = $2
		   AND duration > 0
		   AND created_at + make_interval(secs => duration) <= $3
		 RETURNING id, genome_id, seller, buyer, price, duration, status, created_at, executed_at`,
		string(ledger.StatusCancelled), string(ledger.StatusCreated), s.now(),
	)
	if err != nil {
		return nil, fmt.Errorf("expire transactions: %w", err)
	}
	defer rows.Close()

	var expired []*ledger.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		expired = append(expired, t)
	}
	return expired, rows.Err()
}

// withLockedTransaction loads the transaction row under FOR UPDATE, hands the
// domain value to fn, and commits whatever fn wrote. A failed guard rolls the
// whole thing back, leaving the row untouched.
func (s *Store) withLockedTransaction(ctx context.Context, id string, fn func(pgx.Tx, *ledger.Transaction) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, selectTransaction+` WHERE id = $1 FOR UPDATE`, id)
	t, err := scanTransaction(row)
	if err != nil {
		return err
	}

	if err := fn(tx, t); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transition: %w", err)
	}
	return nil
}

const selectTransaction = `SELECT id, genome_id, seller, buyer, price, duration, status, created_at, executed_at
		 FROM transactions`

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanGenome(row rowScanner) (*ledger.GenomeRecord, error) {
	var g ledger.GenomeRecord
	var createdAt pgtype.Timestamptz
	err := row.Scan(&g.ID, &g.StorageID, &g.Metadata, &g.Owner, &createdAt, &g.Deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan genome: %w", err)
	}
	g.CreatedAt = createdAt.Time
	return &g, nil
}

func scanTransaction(row rowScanner) (*ledger.Transaction, error) {
	var t ledger.Transaction
	var buyer pgtype.Text
	var price int64
	var status string
	var createdAt, executedAt pgtype.Timestamptz

	err := row.Scan(&t.ID, &t.GenomeID, &t.Seller, &buyer, &price, &t.Duration, &status, &createdAt, &executedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan transaction: %w", err)
	}

	t.Buyer = stringPtrFromPgtext(buyer)
	t.Price = uint64(price)
	t.Status = ledger.Status(status)
	t.CreatedAt = createdAt.Time
	t.ExecutedAt = timePtrFromPgTimestamptz(executedAt)
	return &t, nil
}

func stringPtrFromPgtext(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}

func timePtrFromPgTimestamptz(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}
