// Package tradeexec is the client for the downstream trade-execution service.
// Calls are made with a bounded connection pool and explicit connect/read
// timeouts; failures are retryable for the affected orders only.
package tradeexec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/finvex/ordergate/internal/config"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrTimeout marks a submission that exceeded the read deadline.
var ErrTimeout = errors.New("tradeexec: submission deadline exceeded")

// OrderSubmission is one order in an outbound batch.
type OrderSubmission struct {
	OrderID  uuid.UUID       `json:"order_id"`
	Symbol   string          `json:"symbol"`
	Side     string          `json:"side"`
	Type     string          `json:"type"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// SubmissionResult is the per-order ack or rejection from the service.
type SubmissionResult struct {
	OrderID     uuid.UUID `json:"order_id"`
	Accepted    bool      `json:"accepted"`
	ExternalRef string    `json:"external_ref,omitempty"`
	Reason      string    `json:"reason,omitempty"`
}

// Client submits order batches for execution.
type Client interface {
	SubmitBatch(ctx context.Context, orders []OrderSubmission) ([]SubmissionResult, error)
}

// HTTPClient implements Client over the service's batch endpoint.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewHTTPClient builds a client with the configured connect and read timeouts.
func NewHTTPClient(cfg *config.TradeExecConfig, logger *zap.Logger) *HTTPClient {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConns,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.ReadTimeout,
		},
		logger: logger,
	}
}

type batchRequest struct {
	Orders []OrderSubmission `json:"orders"`
}

type batchResponse struct {
	Results []SubmissionResult `json:"results"`
}

// SubmitBatch posts the batch and decodes per-order results. The call is made
// outside any database transaction; a slow downstream never holds a
// connection.
func (c *HTTPClient) SubmitBatch(ctx context.Context, orders []OrderSubmission) ([]SubmissionResult, error) {
	body, err := json.Marshal(batchRequest{Orders: orders})
	if err != nil {
		return nil, fmt.Errorf("tradeexec: failed to encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/executions/batch", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tradeexec: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			c.logger.Warn("trade execution call timed out",
				zap.Duration("elapsed", time.Since(start)),
				zap.Int("orders", len(orders)))
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("tradeexec: submission failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tradeexec: unexpected status %d", resp.StatusCode)
	}

	var decoded batchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("tradeexec: failed to decode response: %w", err)
	}

	c.logger.Debug("trade execution batch submitted",
		zap.Int("orders", len(orders)),
		zap.Int("results", len(decoded.Results)),
		zap.Duration("elapsed", time.Since(start)))

	return decoded.Results, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
