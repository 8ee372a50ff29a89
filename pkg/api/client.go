package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/platinummonkey/pullpay/pkg/auth"
	"github.com/platinummonkey/pullpay/pkg/authz"
	"github.com/platinummonkey/pullpay/pkg/billing"
	"github.com/platinummonkey/pullpay/pkg/httputil"
	"github.com/platinummonkey/pullpay/pkg/ledger"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Client calls the pullpay HTTP API
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithToken sets the bearer credential sent with user operations
func WithToken(token string) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a client for the API at baseURL
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateSubscription subscribes caller to payee for amount per cycle
func (c *Client) CreateSubscription(ctx context.Context, caller, payee string, amount uint64) (*ledger.Entry, error) {
	var entry ledger.Entry
	err := c.invoke(ctx, authz.PathUserOp, InvocationRequest{
		Operation: string(billing.OpCreateSubscription),
		Caller:    caller,
		Payee:     payee,
		Amount:    amount,
	}, &entry)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// CollectPayment collects amount from payer on behalf of payee
func (c *Client) CollectPayment(ctx context.Context, payee, payer string, amount uint64) (*billing.Receipt, error) {
	var receipt billing.Receipt
	err := c.invoke(ctx, authz.PathUserOp, InvocationRequest{
		Operation: string(billing.OpCollectPayment),
		Caller:    payee,
		Payer:     payer,
		Amount:    amount,
	}, &receipt)
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

// Invoke sends req on path and decodes the result into out
func (c *Client) Invoke(ctx context.Context, path authz.CallPath, req InvocationRequest, out interface{}) error {
	return c.invoke(ctx, path, req, out)
}

func (c *Client) invoke(ctx context.Context, path authz.CallPath, req InvocationRequest, out interface{}) error {
	endpoint := "/v1/userops"
	if path == authz.PathRuntime {
		endpoint = "/v1/runtime"
	}

	var resp struct {
		Operation string          `json:"operation"`
		Result    json.RawMessage `json:"result"`
	}
	if err := c.do(ctx, http.MethodPost, endpoint, req, &resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", req.Operation, err)
	}
	return nil
}

// Subscribers lists payee's subscriptions
func (c *Client) Subscribers(ctx context.Context, payee string) ([]SubscriptionView, error) {
	var resp SubscriptionList
	if err := c.do(ctx, http.MethodGet, "/v1/subscriptions/"+url.PathEscape(payee), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Subscriptions, nil
}

// Subscription returns a single subscription
func (c *Client) Subscription(ctx context.Context, payee, payer string) (*SubscriptionView, error) {
	var view SubscriptionView
	path := "/v1/subscriptions/" + url.PathEscape(payee) + "/" + url.PathEscape(payer)
	if err := c.do(ctx, http.MethodGet, path, nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// Plugin returns the installed plugin description
func (c *Client) Plugin(ctx context.Context) (*PluginResponse, error) {
	var resp PluginResponse
	if err := c.do(ctx, http.MethodGet, "/v1/plugin", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Balance returns account's balance
func (c *Client) Balance(ctx context.Context, account string) (uint64, error) {
	var resp BalanceResponse
	if err := c.do(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(account)+"/balance", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Balance, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", auth.BearerPrefix+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &Error{StatusCode: resp.StatusCode}
		var errBody httputil.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errBody); err == nil {
			apiErr.Code = errBody.Code
			apiErr.Message = errBody.Error
		} else {
			apiErr.Message = resp.Status
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
