package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTPClient talks to a swap-router REST API (quote then swap). A nil
// http.Client or empty base URL leaves the client not ready for live.
type HTTPClient struct {
	host       string
	apiKey     string
	httpClient *http.Client
}

func NewHTTPClient(httpClient *http.Client, host, apiKey string) *HTTPClient {
	return &HTTPClient{
		host:       strings.TrimRight(host, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

func (c *HTTPClient) IsReadyForLive() bool {
	return c != nil && c.httpClient != nil && c.host != ""
}

func (c *HTTPClient) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	var q Quote
	if err := c.post(ctx, "/v1/quote", req, &q); err != nil {
		return nil, err
	}
	if q.ID == "" || !q.PriceUSD.IsPositive() {
		return nil, &Error{Op: "quote", Transient: false, Err: fmt.Errorf("malformed quote response")}
	}
	return &q, nil
}

type swapRequest struct {
	QuoteID    string `json:"quote_id"`
	FeeAccount string `json:"fee_account,omitempty"`
}

func (c *HTTPClient) SwapFromQuote(ctx context.Context, q *Quote, feeAccount string) (*SwapResult, error) {
	if q == nil {
		return nil, &Error{Op: "swap", Transient: false, Err: fmt.Errorf("nil quote")}
	}
	var res SwapResult
	if err := c.post(ctx, "/v1/swap", swapRequest{QuoteID: q.ID, FeeAccount: feeAccount}, &res); err != nil {
		return nil, err
	}
	if res.TxSignature == "" {
		return nil, &Error{Op: "swap", Transient: false, Err: fmt.Errorf("missing tx signature")}
	}
	return &res, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body any, out any) error {
	op := strings.TrimPrefix(path, "/v1/")
	if !c.IsReadyForLive() {
		return &Error{Op: op, Transient: false, Err: fmt.Errorf("venue client not configured")}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return &Error{Op: op, Transient: false, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+path, bytes.NewReader(payload))
	if err != nil {
		return &Error{Op: op, Transient: false, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network failures and timeouts are worth retrying.
		return &Error{Op: op, Transient: true, Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Op: op, Transient: true, Err: err}
	}
	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &Error{Op: op, Transient: true, Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(raw))}
	default:
		return &Error{Op: op, Transient: false, Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(raw))}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Op: op, Transient: false, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
