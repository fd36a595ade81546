package openfinance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	defaultBaseURL   = "https://sandbox.plaid.com"
	defaultTimeout   = 30 * time.Second
	defaultPageSize  = 500
	apiVersion       = "2020-09-14"
	accountsPath     = "/accounts/get"
	transactionsPath = "/transactions/sync"
)

var (
	providerMeter           = otel.Meter("finsync/provider")
	providerCallDuration, _ = providerMeter.Float64Histogram("provider.call.duration", metric.WithDescription("Provider API call duration in seconds"), metric.WithUnit("s"))
)

// Config holds the provider client settings.
type Config struct {
	BaseURL  string
	ClientID string
	Secret   string
	Timeout  time.Duration
	PageSize int
}

// Client handles communication with the financial-data provider API
type Client struct {
	httpClient *http.Client
	baseURL    string
	clientID   string
	secret     string
	timeout    time.Duration
	pageSize   int
}

// Ensure Client implements ClientInterface
var _ ClientInterface = (*Client)(nil)

// NewClient creates a new provider API client
func NewClient(cfg Config) *Client {
	c := &Client{
		httpClient: &http.Client{},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		clientID:   cfg.ClientID,
		secret:     cfg.Secret,
		timeout:    cfg.Timeout,
		pageSize:   cfg.PageSize,
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if c.pageSize <= 0 {
		c.pageSize = defaultPageSize
	}
	return c
}

type accountsRequest struct {
	ClientID    string `json:"client_id"`
	Secret      string `json:"secret"`
	AccessToken string `json:"access_token"`
}

type transactionsSyncRequest struct {
	ClientID    string `json:"client_id"`
	Secret      string `json:"secret"`
	AccessToken string `json:"access_token"`
	Cursor      string `json:"cursor,omitempty"`
	Count       int    `json:"count"`
}

// FetchAccounts returns the current account list and balances for a connection.
func (c *Client) FetchAccounts(ctx context.Context, credential string) ([]Account, error) {
	var resp AccountsResponse
	err := c.post(ctx, "accounts", accountsPath, accountsRequest{
		ClientID:    c.clientID,
		Secret:      c.secret,
		AccessToken: credential,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Accounts, nil
}

// FetchDeltaPage returns the changes since cursor. An empty cursor requests
// the full history from the beginning.
func (c *Client) FetchDeltaPage(ctx context.Context, credential, cursor string) (*DeltaPage, error) {
	var resp TransactionsSyncResponse
	err := c.post(ctx, "transactions_sync", transactionsPath, transactionsSyncRequest{
		ClientID:    c.clientID,
		Secret:      c.secret,
		AccessToken: credential,
		Cursor:      cursor,
		Count:       c.pageSize,
	}, &resp)
	if err != nil {
		return nil, err
	}

	if resp.NextCursor == "" {
		return nil, &ProviderError{
			Operation:  "transactions_sync",
			StatusCode: http.StatusOK,
			Message:    "response is missing next_cursor",
			Err:        ErrInvalidResponse,
		}
	}

	return resp.DeltaPage(), nil
}

// post sends one JSON request bounded by the client timeout and decodes the
// 200 body into out. Every failure comes back as *ProviderError.
func (c *Client) post(ctx context.Context, operation, path string, body any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	status := 0
	defer func() {
		providerCallDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
			attribute.String("provider.operation", operation),
			attribute.Int("http.status_code", status),
		))
	}()

	payload, err := json.Marshal(body)
	if err != nil {
		return &ProviderError{Operation: operation, Message: "failed to encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return &ProviderError{Operation: operation, Message: "failed to create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Plaid-Version", apiVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ProviderError{Operation: operation, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()
	status = resp.StatusCode

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ProviderError{Operation: operation, StatusCode: resp.StatusCode, Message: "failed to read response body", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		perr := &ProviderError{Operation: operation, StatusCode: resp.StatusCode}
		var errResp ErrorResponse
		if jsonErr := json.Unmarshal(respBody, &errResp); jsonErr == nil && errResp.ErrorCode != "" {
			perr.Type = errResp.ErrorType
			perr.Code = errResp.ErrorCode
			perr.Message = errResp.ErrorMessage
		} else {
			perr.Message = http.StatusText(resp.StatusCode)
		}
		return perr
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		// A 200 with a body we cannot read is treated like an outage, not a
		// rejection of the credential.
		return &ProviderError{Operation: operation, Message: "failed to decode response", Err: errors.Join(ErrInvalidResponse, err)}
	}

	return nil
}
