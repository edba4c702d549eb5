package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/seqmarket/genomeledger/service/db"
	"github.com/seqmarket/genomeledger/service/ledger"
	"github.com/seqmarket/genomeledger/service/metrics"
	natspkg "github.com/seqmarket/genomeledger/service/nats"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB - plenty for registration payloads
	maxIdentityLength  = 100     // Solana public keys are 44 chars, give buffer
	maxStorageIDLength = 256
	maxMetadataLength  = 8192
)

var (
	// Valid identity characters: base58 (no 0, O, I, l)
	validIdentityRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

// handleRegisterGenome returns a handler that registers a new genome record.
// POST /api/v1/genomes
func handleRegisterGenome(store *db.Store, publisher natspkg.Publisher, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req struct {
			StorageID string `json:"storage_id"`
			Metadata  string `json:"metadata"`
			Owner     string `json:"owner"`
		}

		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Debug("failed to decode register genome request", "error", err)
			if strings.Contains(err.Error(), "http: request body too large") {
				writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
				return
			}
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}

		if err := validateStorageID(req.StorageID); err != nil {
			logger.Debug("invalid storage id", "storage_id", req.StorageID, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if len(req.Metadata) > maxMetadataLength {
			writeError(w, fmt.Sprintf("metadata too long: maximum length is %d bytes", maxMetadataLength), http.StatusBadRequest)
			return
		}

		if err := validateIdentity("owner", req.Owner); err != nil {
			logger.Debug("invalid owner", "owner", req.Owner, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		genome, err := store.CreateGenome(r.Context(), db.CreateGenomeParams{
			StorageID: req.StorageID,
			Metadata:  req.Metadata,
			Owner:     req.Owner,
		})
		if err != nil {
			logger.Error("failed to create genome record", "owner", req.Owner, "error", err)
			writeError(w, "failed to register genome", http.StatusInternalServerError)
			return
		}

		if m != nil {
			m.RecordGenomeRegistered()
		}
		publishGenomeEvent(r.Context(), publisher, natspkg.GenomeRegistered, genome, logger)

		logger.Info("genome registered",
			"genome_id", genome.ID,
			"owner", genome.Owner,
			"storage_id", genome.StorageID,
		)
		writeJSON(w, genomeToResponse(genome), http.StatusCreated)
	})
}

// handleGetGenome returns a handler that retrieves a single genome record.
// GET /api/v1/genomes/{id}
func handleGetGenome(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := validateRecordID(id); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		genome, err := store.GetGenome(r.Context(), id)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, "genome not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to get genome", "genome_id", id, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, genomeToResponse(genome), http.StatusOK)
	})
}

// handleListGenomes returns a handler that lists genome records.
// GET /api/v1/genomes?owner=&limit=&offset=
func handleListGenomes(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		owner := query.Get("owner")
		if owner != "" {
			if err := validateIdentity("owner", owner); err != nil {
				logger.Debug("invalid owner filter", "owner", owner, "error", err)
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
		}

		limit, offset, err := parseLimitOffset(query.Get("limit"), query.Get("offset"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		genomes, err := store.ListGenomes(r.Context(), db.ListGenomesParams{
			Owner:  owner,
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			logger.Error("failed to list genomes", "owner", owner, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.Debug("genomes listed", "owner", owner, "count", len(genomes))

		resp := make([]genomeResponse, len(genomes))
		for i, g := range genomes {
			resp[i] = genomeToResponse(g)
		}

		writeJSON(w, map[string]interface{}{
			"genomes": resp,
			"count":   len(resp),
			"limit":   limit,
			"offset":  offset,
		}, http.StatusOK)
	})
}

// handleDeleteGenome returns a handler that soft-deletes a genome record. Only
// the owner may delete; the record stays readable afterwards with deleted set.
// DELETE /api/v1/genomes/{id}?actor=
func handleDeleteGenome(store *db.Store, publisher natspkg.Publisher, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		actor := r.URL.Query().Get("actor")

		if err := validateRecordID(id); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := validateIdentity("actor", actor); err != nil {
			logger.Debug("invalid actor", "actor", actor, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		genome, err := store.DeleteGenome(r.Context(), id, actor)
		if err != nil {
			switch {
			case errors.Is(err, db.ErrNotFound):
				writeError(w, "genome not found", http.StatusNotFound)
			case errors.Is(err, ledger.ErrUnauthorized):
				writeError(w, "only the owner can delete a genome record", http.StatusForbidden)
			case errors.Is(err, ledger.ErrGenomeDeleted):
				writeError(w, "genome record already deleted", http.StatusConflict)
			default:
				logger.Error("failed to delete genome", "genome_id", id, "error", err)
				writeError(w, "internal server error", http.StatusInternalServerError)
			}
			return
		}

		if m != nil {
			m.RecordGenomeDeleted()
		}
		publishGenomeEvent(r.Context(), publisher, natspkg.GenomeDeleted, genome, logger)

		logger.Info("genome deleted", "genome_id", id, "owner", genome.Owner)
		w.WriteHeader(http.StatusNoContent)
	})
}

// handleCreateTransaction returns a handler that opens a new transfer offer.
// The genome must exist, must not be deleted, and the seller must be its
// owner; those checks live here rather than in the ledger core because the
// transaction only stores the genome id by value.
// POST /api/v1/transactions
func handleCreateTransaction(store *db.Store, publisher natspkg.Publisher, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req struct {
			GenomeID string `json:"genome_id"`
			Price    uint64 `json:"price"`
			Duration int64  `json:"duration"`
			Seller   string `json:"seller"`
		}

		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Debug("failed to decode create transaction request", "error", err)
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}

		if err := validateRecordID(req.GenomeID); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := validateIdentity("seller", req.Seller); err != nil {
			logger.Debug("invalid seller", "seller", req.Seller, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		// Prices are persisted as bigint, so the upper half of the uint64
		// range is not representable.
		if req.Price > math.MaxInt64 {
			writeError(w, "price exceeds maximum allowed value", http.StatusBadRequest)
			return
		}

		genome, err := store.GetGenome(r.Context(), req.GenomeID)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, "genome not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to look up genome", "genome_id", req.GenomeID, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		if genome.Deleted {
			writeError(w, "genome record deleted", http.StatusConflict)
			return
		}

		if genome.Owner != req.Seller {
			writeError(w, "seller must be the genome owner", http.StatusForbidden)
			return
		}

		txn, err := store.CreateTransaction(r.Context(), db.CreateTransactionParams{
			GenomeID: req.GenomeID,
			Price:    req.Price,
			Duration: req.Duration,
			Seller:   req.Seller,
		})
		if err != nil {
			logger.Error("failed to create transaction", "genome_id", req.GenomeID, "error", err)
			writeError(w, "failed to create transaction", http.StatusInternalServerError)
			return
		}

		if m != nil {
			m.RecordTransition("create")
		}
		publishTransactionEvent(r.Context(), publisher, natspkg.TransactionCreated, txn, logger)

		logger.Info("transaction created",
			"transaction_id", txn.ID,
			"genome_id", txn.GenomeID,
			"seller", txn.Seller,
			"price", txn.Price,
			"duration", txn.Duration,
		)
		writeJSON(w, transactionToResponse(txn), http.StatusCreated)
	})
}

// handleGetTransaction returns a handler that retrieves a single transaction.
// GET /api/v1/transactions/{id}
func handleGetTransaction(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := validateRecordID(id); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		txn, err := store.GetTransaction(r.Context(), id)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, "transaction not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to get transaction", "transaction_id", id, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, transactionToResponse(txn), http.StatusOK)
	})
}

// handleListTransactions returns a handler that lists transactions.
// GET /api/v1/transactions?genome_id=&seller=&status=&limit=&offset=
func handleListTransactions(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		genomeID := query.Get("genome_id")
		if genomeID != "" {
			if err := validateRecordID(genomeID); err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
		}

		seller := query.Get("seller")
		if seller != "" {
			if err := validateIdentity("seller", seller); err != nil {
				logger.Debug("invalid seller filter", "seller", seller, "error", err)
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
		}

		status := ledger.Status(query.Get("status"))
		if status != "" && !status.Valid() {
			writeError(w, "invalid status: must be 'created', 'executed' or 'cancelled'", http.StatusBadRequest)
			return
		}

		limit, offset, err := parseLimitOffset(query.Get("limit"), query.Get("offset"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		txns, err := store.ListTransactions(r.Context(), db.ListTransactionsParams{
			GenomeID: genomeID,
			Seller:   seller,
			Status:   status,
			Limit:    limit,
			Offset:   offset,
		})
		if err != nil {
			logger.Error("failed to list transactions", "genome_id", genomeID, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.Debug("transactions listed", "genome_id", genomeID, "count", len(txns))

		resp := make([]transactionResponse, len(txns))
		for i, t := range txns {
			resp[i] = transactionToResponse(t)
		}

		writeJSON(w, map[string]interface{}{
			"transactions": resp,
			"count":        len(resp),
			"limit":        limit,
			"offset":       offset,
		}, http.StatusOK)
	})
}

// handleExecuteTransaction returns a handler that executes a created offer on
// behalf of a buyer.
// POST /api/v1/transactions/{id}/execute
func handleExecuteTransaction(store *db.Store, publisher natspkg.Publisher, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		id := r.PathValue("id")
		if err := validateRecordID(id); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		var req struct {
			Buyer string `json:"buyer"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Debug("failed to decode execute request", "error", err)
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}

		if err := validateIdentity("buyer", req.Buyer); err != nil {
			logger.Debug("invalid buyer", "buyer", req.Buyer, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		txn, err := store.ExecuteTransaction(r.Context(), id, req.Buyer)
		if err != nil {
			if m != nil {
				m.RecordTransitionFailure("execute", failureReason(err))
			}
			writeTransitionError(w, "execute", id, err, logger)
			return
		}

		if m != nil {
			m.RecordTransition("execute")
		}
		publishTransactionEvent(r.Context(), publisher, natspkg.TransactionExecuted, txn, logger)

		logger.Info("transaction executed",
			"transaction_id", txn.ID,
			"genome_id", txn.GenomeID,
			"buyer", req.Buyer,
		)
		writeJSON(w, transactionToResponse(txn), http.StatusOK)
	})
}

// handleCancelTransaction returns a handler that cancels a created offer.
// POST /api/v1/transactions/{id}/cancel
func handleCancelTransaction(store *db.Store, publisher natspkg.Publisher, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		id := r.PathValue("id")
		if err := validateRecordID(id); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		var req struct {
			Authority string `json:"authority"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Debug("failed to decode cancel request", "error", err)
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}

		if err := validateIdentity("authority", req.Authority); err != nil {
			logger.Debug("invalid authority", "authority", req.Authority, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		txn, err := store.CancelTransaction(r.Context(), id, req.Authority)
		if err != nil {
			if m != nil {
				m.RecordTransitionFailure("cancel", failureReason(err))
			}
			writeTransitionError(w, "cancel", id, err, logger)
			return
		}

		if m != nil {
			m.RecordTransition("cancel")
		}
		publishTransactionEvent(r.Context(), publisher, natspkg.TransactionCancelled, txn, logger)

		logger.Info("transaction cancelled",
			"transaction_id", txn.ID,
			"genome_id", txn.GenomeID,
			"authority", req.Authority,
		)
		writeJSON(w, transactionToResponse(txn), http.StatusOK)
	})
}

// writeTransitionError maps store/ledger errors from a transition to HTTP
// status codes.
func writeTransitionError(w http.ResponseWriter, operation, id string, err error, logger *slog.Logger) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		writeError(w, "transaction not found", http.StatusNotFound)
	case errors.Is(err, ledger.ErrUnauthorized):
		if operation == "execute" {
			writeError(w, "buyer cannot be the seller", http.StatusForbidden)
		} else {
			writeError(w, "only the seller can cancel a transaction", http.StatusForbidden)
		}
	case errors.Is(err, ledger.ErrOfferExpired):
		writeError(w, "offer expired", http.StatusGone)
	case errors.Is(err, ledger.ErrInvalidTransactionStatus):
		writeError(w, "invalid transaction status", http.StatusConflict)
	default:
		logger.Error("transition failed", "operation", operation, "transaction_id", id, "error", err)
		writeError(w, "internal server error", http.StatusInternalServerError)
	}
}

// failureReason converts a transition error into a stable metrics label.
func failureReason(err error) string {
	switch {
	case errors.Is(err, db.ErrNotFound):
		return "not_found"
	case errors.Is(err, ledger.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ledger.ErrOfferExpired):
		return "expired"
	case errors.Is(err, ledger.ErrInvalidTransactionStatus):
		return "invalid_status"
	default:
		return "internal"
	}
}

// publishTransactionEvent publishes a transaction lifecycle event. Publish
// failures are logged and swallowed; the store is the source of truth.
func publishTransactionEvent(ctx context.Context, publisher natspkg.Publisher, eventType string, txn *ledger.Transaction, logger *slog.Logger) {
	if publisher == nil {
		return
	}
	event := natspkg.FromTransaction(eventType, txn)
	if err := publisher.PublishTransaction(ctx, event); err != nil {
		logger.Error("failed to publish transaction event",
			"event_type", eventType,
			"transaction_id", txn.ID,
			"genome_id", txn.GenomeID,
			"error", err,
		)
	}
}

// publishGenomeEvent publishes a genome registry event. Same failure policy as
// publishTransactionEvent.
func publishGenomeEvent(ctx context.Context, publisher natspkg.Publisher, eventType string, genome *ledger.GenomeRecord, logger *slog.Logger) {
	if publisher == nil {
		return
	}
	event := natspkg.FromGenome(eventType, genome)
	if err := publisher.PublishGenome(ctx, event); err != nil {
		logger.Error("failed to publish genome event",
			"event_type", eventType,
			"genome_id", genome.ID,
			"owner", genome.Owner,
			"error", err,
		)
	}
}

// genomeResponse is the JSON response format for a genome record.
type genomeResponse struct {
	ID        string    `json:"id"`
	StorageID string    `json:"storage_id"`
	Metadata  string    `json:"metadata"`
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"created_at"`
	Deleted   bool      `json:"deleted"`
}

func genomeToResponse(g *ledger.GenomeRecord) genomeResponse {
	return genomeResponse{
		ID:        g.ID,
		StorageID: g.StorageID,
		Metadata:  g.Metadata,
		Owner:     g.Owner,
		CreatedAt: g.CreatedAt,
		Deleted:   g.Deleted,
	}
}

// transactionResponse is the JSON response format for a transaction.
type transactionResponse struct {
	ID         string     `json:"id"`
	GenomeID   string     `json:"genome_id"`
	Seller     string     `json:"seller"`
	Buyer      *string    `json:"buyer,omitempty"`
	Price      uint64     `json:"price"`
	Duration   int64      `json:"duration"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	ExecutedAt *time.Time `json:"executed_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

func transactionToResponse(t *ledger.Transaction) transactionResponse {
	resp := transactionResponse{
		ID:         t.ID,
		GenomeID:   t.GenomeID,
		Seller:     t.Seller,
		Buyer:      t.Buyer,
		Price:      t.Price,
		Duration:   t.Duration,
		Status:     string(t.Status),
		CreatedAt:  t.CreatedAt,
		ExecutedAt: t.ExecutedAt,
	}
	if deadline, ok := t.ExpiresAt(); ok {
		resp.ExpiresAt = &deadline
	}
	return resp
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateIdentity validates a participant identity (owner, seller, buyer,
// authority) as a Solana-style base58 public key.
func validateIdentity(field, identity string) error {
	if identity == "" {
		return errorf("%s is required", field)
	}

	if len(identity) > maxIdentityLength {
		return errorf("%s too long: maximum length is %d characters", field, maxIdentityLength)
	}

	// Check for null bytes and control characters
	for _, r := range identity {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in %s: control characters not allowed", field)
		}
	}

	if !validIdentityRegex.MatchString(identity) {
		return errorf("invalid %s format: must contain only valid base58 characters", field)
	}

	if _, err := solanago.PublicKeyFromBase58(identity); err != nil {
		return errorf("invalid %s: not a valid public key", field)
	}

	return nil
}

// validateRecordID validates a genome or transaction id path/query parameter.
func validateRecordID(id string) error {
	if id == "" {
		return errorf("id is required")
	}
	if _, err := uuid.Parse(id); err != nil {
		return errorf("invalid id: must be a UUID")
	}
	return nil
}

// parseLimitOffset parses pagination parameters (default limit 100, max 1000).
func parseLimitOffset(limitStr, offsetStr string) (int32, int32, error) {
	limit := int32(100)
	if limitStr != "" {
		var parsedLimit int
		if _, err := fmt.Sscanf(limitStr, "%d", &parsedLimit); err != nil {
			return 0, 0, errorf("invalid limit parameter: must be an integer")
		}
		if parsedLimit < 1 {
			return 0, 0, errorf("limit must be at least 1")
		}
		if parsedLimit > 1000 {
			return 0, 0, errorf("limit cannot exceed 1000")
		}
		limit = int32(parsedLimit)
	}

	offset := int32(0)
	if offsetStr != "" {
		var parsedOffset int
		if _, err := fmt.Sscanf(offsetStr, "%d", &parsedOffset); err != nil {
			return 0, 0, errorf("invalid offset parameter: must be an integer")
		}
		if parsedOffset < 0 {
			return 0, 0, errorf("offset cannot be negative")
		}
		offset = int32(parsedOffset)
	}

	return limit, offset, nil
}

// validateStorageID validates the off-chain storage pointer for a genome.
func validateStorageID(storageID string) error {
	if storageID == "" {
		return errorf("storage_id is required")
	}

	if len(storageID) > maxStorageIDLength {
		return errorf("storage_id too long: maximum length is %d characters", maxStorageIDLength)
	}

	for _, r := range storageID {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in storage_id: control characters not allowed")
		}
	}

	return nil
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
