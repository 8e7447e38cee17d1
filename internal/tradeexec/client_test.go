package tradeexec

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/finvex/ordergate/internal/config"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testClient(t *testing.T, url string, readTimeout time.Duration) *HTTPClient {
	t.Helper()
	return NewHTTPClient(&config.TradeExecConfig{
		BaseURL:        url,
		ConnectTimeout: time.Second,
		ReadTimeout:    readTimeout,
		MaxIdleConns:   4,
	}, zaptest.NewLogger(t))
}

func submission() OrderSubmission {
	return OrderSubmission{
		OrderID:  uuid.New(),
		Symbol:   "BTC-USD",
		Side:     "BUY",
		Type:     "LIMIT",
		Price:    decimal.NewFromInt(50000),
		Quantity: decimal.RequireFromString("0.25"),
	}
}

func TestSubmitBatchDecodesPerOrderResults(t *testing.T) {
	sub := submission()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/executions/batch", r.URL.Path)

		var req batchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Orders, 1)

		json.NewEncoder(w).Encode(batchResponse{Results: []SubmissionResult{
			{OrderID: req.Orders[0].OrderID, Accepted: true, ExternalRef: "ex-123"},
		}})
	}))
	defer srv.Close()

	client := testClient(t, srv.URL, 5*time.Second)
	results, err := client.SubmitBatch(context.Background(), []OrderSubmission{sub})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, sub.OrderID, results[0].OrderID)
	assert.True(t, results[0].Accepted)
	assert.Equal(t, "ex-123", results[0].ExternalRef)
}

func TestSubmitBatchClassifiesSlowResponseAsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client := testClient(t, srv.URL, 20*time.Millisecond)
	_, err := client.SubmitBatch(context.Background(), []OrderSubmission{submission()})
	require.ErrorIs(t, err, ErrTimeout)
}

func TestSubmitBatchRejectsNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := testClient(t, srv.URL, time.Second)
	_, err := client.SubmitBatch(context.Background(), []OrderSubmission{submission()})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTimeout)
}
