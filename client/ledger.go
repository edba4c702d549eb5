package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Genome represents a registered genome record.
type Genome struct {
	ID        string    `json:"id"`
	StorageID string    `json:"storage_id"`
	Metadata  string    `json:"metadata"`
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"created_at"`
	Deleted   bool      `json:"deleted"`
}

// Transaction represents a transfer offer on a genome record.
type Transaction struct {
	ID         string     `json:"id"`
	GenomeID   string     `json:"genome_id"`
	Seller     string     `json:"seller"`
	Buyer      *string    `json:"buyer,omitempty"`
	Price      uint64     `json:"price"`
	Duration   int64      `json:"duration"`
	Status     string     `json:"status"` // created, executed, cancelled
	CreatedAt  time.Time  `json:"created_at"`
	ExecutedAt *time.Time `json:"executed_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// ListTransactionsOptions filters the transaction listing. Zero values mean
// no filter; Limit 0 uses the server default.
type ListTransactionsOptions struct {
	GenomeID string
	Seller   string
	Status   string
	Limit    int
	Offset   int
}

// Client is the HTTP client for the genome ledger service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new ledger service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// RegisterGenome registers a new genome record and returns it.
func (c *Client) RegisterGenome(ctx context.Context, storageID, metadata, owner string) (*Genome, error) {
	reqBody := map[string]interface{}{
		"storage_id": storageID,
		"metadata":   metadata,
		"owner":      owner,
	}

	var genome Genome
	if err := c.post(ctx, "/api/v1/genomes", reqBody, http.StatusCreated, &genome); err != nil {
		return nil, err
	}

	c.logger.Debug("genome registered", "genome_id", genome.ID, "owner", owner)
	return &genome, nil
}

// GetGenome retrieves a single genome record.
func (c *Client) GetGenome(ctx context.Context, id string) (*Genome, error) {
	u := fmt.Sprintf("%s/api/v1/genomes/%s", c.baseURL, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var genome Genome
	if err := json.NewDecoder(resp.Body).Decode(&genome); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &genome, nil
}

// ListGenomes retrieves genome records, optionally filtered by owner.
func (c *Client) ListGenomes(ctx context.Context, owner string) ([]*Genome, error) {
	u := c.baseURL + "/api/v1/genomes"
	if owner != "" {
		u += "?owner=" + url.QueryEscape(owner)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var response struct {
		Genomes []*Genome `json:"genomes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return response.Genomes, nil
}

// DeleteGenome soft-deletes a genome record on behalf of the actor. Only the
// owner may delete.
func (c *Client) DeleteGenome(ctx context.Context, id, actor string) error {
	u := fmt.Sprintf("%s/api/v1/genomes/%s?actor=%s", c.baseURL, url.PathEscape(id), url.QueryEscape(actor))
	req, err := http.NewRequestWithContext(ctx, "DELETE", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return c.parseErrorResponse(resp)
	}

	c.logger.Debug("genome deleted", "genome_id", id, "actor", actor)
	return nil
}

// CreateTransaction opens a new transfer offer. Price is in base units;
// duration is the offer validity window in seconds (0 or negative means the
// offer never expires).
func (c *Client) CreateTransaction(ctx context.Context, genomeID string, price uint64, duration int64, seller string) (*Transaction, error) {
	reqBody := map[string]interface{}{
		"genome_id": genomeID,
		"price":     price,
		"duration":  duration,
		"seller":    seller,
	}

	var txn Transaction
	if err := c.post(ctx, "/api/v1/transactions", reqBody, http.StatusCreated, &txn); err != nil {
		return nil, err
	}

	c.logger.Debug("transaction created", "transaction_id", txn.ID, "genome_id", genomeID)
	return &txn, nil
}

// GetTransaction retrieves a single transaction.
func (c *Client) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	u := fmt.Sprintf("%s/api/v1/transactions/%s", c.baseURL, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var txn Transaction
	if err := json.NewDecoder(resp.Body).Decode(&txn); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &txn, nil
}

// ListTransactions retrieves transactions matching the given options.
func (c *Client) ListTransactions(ctx context.Context, opts ListTransactionsOptions) ([]*Transaction, error) {
	params := url.Values{}
	if opts.GenomeID != "" {
		params.Set("genome_id", opts.GenomeID)
	}
	if opts.Seller != "" {
		params.Set("seller", opts.Seller)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}
	if opts.Offset > 0 {
		params.Set("offset", fmt.Sprintf("%d", opts.Offset))
	}

	u := c.baseURL + "/api/v1/transactions"
	if encoded := params.Encode(); encoded != "" {
		u += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var response struct {
		Transactions []*Transaction `json:"transactions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return response.Transactions, nil
}

// ExecuteTransaction executes a created offer on behalf of the buyer.
func (c *Client) ExecuteTransaction(ctx context.Context, id, buyer string) (*Transaction, error) {
	path := fmt.Sprintf("/api/v1/transactions/%s/execute", url.PathEscape(id))

	var txn Transaction
	if err := c.post(ctx, path, map[string]interface{}{"buyer": buyer}, http.StatusOK, &txn); err != nil {
		return nil, err
	}

	c.logger.Debug("transaction executed", "transaction_id", id, "buyer", buyer)
	return &txn, nil
}

// CancelTransaction cancels a created offer on behalf of the authority.
func (c *Client) CancelTransaction(ctx context.Context, id, authority string) (*Transaction, error) {
	path := fmt.Sprintf("/api/v1/transactions/%s/cancel", url.PathEscape(id))

	var txn Transaction
	if err := c.post(ctx, path, map[string]interface{}{"authority": authority}, http.StatusOK, &txn); err != nil {
		return nil, err
	}

	c.logger.Debug("transaction cancelled", "transaction_id", id, "authority", authority)
	return &txn, nil
}

// post sends a JSON POST request and decodes the response into out when the
// expected status is returned.
func (c *Client) post(ctx context.Context, path string, reqBody interface{}, wantStatus int, out interface{}) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return c.parseErrorResponse(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
