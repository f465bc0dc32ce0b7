package paystack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/metrics"
	"github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/order"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const DefaultBaseURL = "https://api.paystack.co"

// Status is the verdict of a transaction verification.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusUnknown Status = "unknown"
)

// ErrNotConfigured is returned when no secret key is available.
var ErrNotConfigured = errors.New("paystack secret key not configured")

// UpstreamError reports a verification call that produced no trustworthy answer.
type UpstreamError struct {
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("paystack verify: status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("paystack verify: %v", e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Transaction is the provider's authoritative view of a payment.
type Transaction struct {
	Reference      string
	Status         Status
	ProviderStatus string
	Amount         int64
	Metadata       *order.Metadata
}

// Paid reports whether the provider confirmed a successful charge.
func (t Transaction) Paid() bool { return t.Status == StatusSuccess }

// Client queries the Paystack transaction API.
type Client struct {
	baseURL   string
	secretKey string
	http      *http.Client
	metrics   *metrics.Metrics
}

type ClientOption func(*Client)

func WithHTTPClient(h *http.Client) ClientOption { return func(c *Client) { c.http = h } }

func WithClientMetrics(m *metrics.Metrics) ClientOption { return func(c *Client) { c.metrics = m } }

// NewClient builds a client whose requests time out after timeout.
func NewClient(baseURL, secretKey string, timeout time.Duration, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretKey: secretKey,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type verifyResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    *struct {
		Status    string          `json:"status"`
		Reference string          `json:"reference"`
		Amount    json.Number     `json:"amount"`
		Metadata  json.RawMessage `json:"metadata"`
	} `json:"data"`
}

// FetchStatus asks Paystack for the status of reference. Transport failures,
// non-2xx responses and undecodable bodies yield StatusUnknown with an
// *UpstreamError. A decoded answer other than success yields StatusFailure.
func (c *Client) FetchStatus(ctx context.Context, reference string) (Transaction, error) {
	unknown := Transaction{Reference: reference, Status: StatusUnknown}
	if c.secretKey == "" {
		return unknown, ErrNotConfigured
	}

	start := time.Now()
	tx, err := c.fetch(ctx, reference)
	c.metrics.ObserveOracle(string(tx.Status), time.Since(start))
	if err != nil {
		return unknown, err
	}
	return tx, nil
}

func (c *Client) fetch(ctx context.Context, reference string) (Transaction, error) {
	unknown := Transaction{Reference: reference, Status: StatusUnknown}

	endpoint := fmt.Sprintf("%s/transaction/verify/%s", c.baseURL, url.PathEscape(reference))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return unknown, &UpstreamError{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return unknown, &UpstreamError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return unknown, &UpstreamError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return unknown, &UpstreamError{StatusCode: resp.StatusCode, Err: errors.New("non-success response")}
	}

	var vr verifyResponse
	if err := json.Unmarshal(body, &vr); err != nil {
		return unknown, &UpstreamError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode body: %w", err)}
	}
	if !vr.Status || vr.Data == nil {
		return Transaction{Reference: reference, Status: StatusFailure}, nil
	}

	tx := Transaction{
		Reference:      reference,
		ProviderStatus: vr.Data.Status,
		Status:         StatusFailure,
	}
	if vr.Data.Status != "success" {
		return tx, nil
	}

	amount, err := parseAmount(vr.Data.Amount)
	if err != nil {
		return unknown, &UpstreamError{StatusCode: resp.StatusCode, Err: err}
	}
	md, err := decodeMetadata(vr.Data.Metadata)
	if err != nil {
		return unknown, &UpstreamError{StatusCode: resp.StatusCode, Err: err}
	}
	tx.Status = StatusSuccess
	tx.Amount = amount
	tx.Metadata = md
	return tx, nil
}
