// Package tastytrade is the REST client for the brokerage API: session
// management, account discovery, option chains, stream tokens, and order
// entry.
package tastytrade

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/optionloop/tastybot/internal/domain"
)

const defaultTimeout = 30 * time.Second

// Client is a thin HTTP client for the brokerage REST API. It holds the
// session token obtained by Login and attaches it to every request.
type Client struct {
	baseURL  string
	username string
	password string

	httpClient *http.Client
	logger     *slog.Logger

	mu           sync.RWMutex
	sessionToken string
}

// NewClient creates a Client for the given API base URL and credentials.
func NewClient(baseURL, username, password string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		username:   username,
		password:   password,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger.With(slog.String("component", "tastytrade")),
	}
}

// Login establishes a REST session and stores the session token for
// subsequent requests.
func (c *Client) Login(ctx context.Context) error {
	req := sessionRequest{
		Login:      c.username,
		Password:   c.password,
		RememberMe: true,
	}
	var resp sessionResponse
	if err := c.do(ctx, http.MethodPost, "/sessions", req, &resp); err != nil {
		return fmt.Errorf("tastytrade: login: %w", err)
	}
	if resp.Data.SessionToken == "" {
		return fmt.Errorf("tastytrade: login: %w", domain.ErrNotLoggedIn)
	}

	c.mu.Lock()
	c.sessionToken = resp.Data.SessionToken
	c.mu.Unlock()

	c.logger.Info("session established")
	return nil
}

// SessionToken returns the current session token, if logged in.
func (c *Client) SessionToken() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionToken, c.sessionToken != ""
}

// AccountNumbers returns the account numbers visible to the logged-in
// customer.
func (c *Client) AccountNumbers(ctx context.Context) ([]string, error) {
	var customer customerResponse
	if err := c.do(ctx, http.MethodGet, "/customers/me", nil, &customer); err != nil {
		return nil, fmt.Errorf("tastytrade: fetch customer: %w", err)
	}

	var accounts accountsResponse
	path := "/customers/" + customer.Data.ID + "/accounts"
	if err := c.do(ctx, http.MethodGet, path, nil, &accounts); err != nil {
		return nil, fmt.Errorf("tastytrade: fetch accounts: %w", err)
	}

	numbers := make([]string, 0, len(accounts.Data.Items))
	for _, item := range accounts.Data.Items {
		numbers = append(numbers, item.Account.AccountNumber)
	}
	return numbers, nil
}

// Positions returns the open positions for an account.
func (c *Client) Positions(ctx context.Context, account string) ([]Position, error) {
	var resp positionsResponse
	path := "/accounts/" + account + "/positions"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("tastytrade: fetch positions: %w", err)
	}
	return resp.Data.Items, nil
}

// OptionStreamerSymbol resolves an OCC option symbol to its feed symbol.
func (c *Client) OptionStreamerSymbol(ctx context.Context, symbol string) (string, error) {
	var resp optionInfoResponse
	path := "/instruments/equity-options/" + symbol
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return "", fmt.Errorf("tastytrade: resolve streamer symbol %q: %w", symbol, err)
	}
	if resp.Data.StreamerSymbol == "" {
		return "", fmt.Errorf("tastytrade: resolve streamer symbol %q: %w", symbol, domain.ErrNotFound)
	}
	return resp.Data.StreamerSymbol, nil
}

// FetchStreamToken requests a fresh market-data stream token. The returned
// URL is the dxLink endpoint the token is valid for.
func (c *Client) FetchStreamToken(ctx context.Context) (token, url string, err error) {
	var resp quoteTokenResponse
	if err := c.do(ctx, http.MethodGet, "/api-quote-tokens", nil, &resp); err != nil {
		return "", "", fmt.Errorf("tastytrade: fetch stream token: %w", err)
	}
	if resp.Data.Token == "" || resp.Data.DxlinkURL == "" {
		return "", "", fmt.Errorf("tastytrade: fetch stream token: %w", domain.ErrNoQuoteToken)
	}
	return resp.Data.Token, resp.Data.DxlinkURL, nil
}

// NestedOptionChain fetches the nested option chain for an underlying.
func (c *Client) NestedOptionChain(ctx context.Context, underlying string) (*nestedChainResponse, error) {
	var resp nestedChainResponse
	path := "/option-chains/" + underlying + "/nested"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("tastytrade: fetch option chain %q: %w", underlying, err)
	}
	if len(resp.Data.Items) == 0 {
		return nil, fmt.Errorf("tastytrade: fetch option chain %q: %w", underlying, domain.ErrNotFound)
	}
	return &resp, nil
}

// SubmitOrder places a single-leg limit order and returns the venue's
// receipt. A response without a confirmed id is reported as still working.
// When the order carries no venue symbol the OCC symbol is built from its
// contract fields.
func (c *Client) SubmitOrder(ctx context.Context, o *domain.Order, limitPrice float64) (domain.SubmitReceipt, error) {
	if o.Account == "" {
		return domain.SubmitReceipt{}, fmt.Errorf("tastytrade: submit order: %w", domain.ErrInvalidOrder)
	}
	symbol := o.Symbol
	if symbol == "" {
		if o.Underlying == "" || o.Strike <= 0 {
			return domain.SubmitReceipt{}, fmt.Errorf("tastytrade: submit order: %w", domain.ErrInvalidOrder)
		}
		symbol = OCCSymbol(o.Underlying, o.Expiration, o.OptionType, o.Strike)
	}

	req := orderRequest{
		Source:      "user",
		OrderType:   "Limit",
		TimeInForce: "Day",
		Price:       &limitPrice,
		PriceEffect: priceEffect(o.Action),
		Legs: []orderLeg{{
			InstrumentType: "Equity Option",
			Symbol:         symbol,
			Quantity:       o.Quantity,
			Action:         string(o.Action),
		}},
	}

	var resp orderResponse
	path := "/accounts/" + o.Account + "/orders"
	if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return domain.SubmitReceipt{}, fmt.Errorf("tastytrade: submit order: %w", err)
	}
	return receiptFrom(resp), nil
}

// ReplaceOrder re-prices a working order in place. Used while an order is
// pending and its limit price is being walked toward the ask.
func (c *Client) ReplaceOrder(ctx context.Context, account, orderID string, o *domain.Order, limitPrice float64) (domain.SubmitReceipt, error) {
	req := orderRequest{
		OrderType:   "Limit",
		TimeInForce: "Day",
		Price:       &limitPrice,
		PriceEffect: priceEffect(o.Action),
		Legs: []orderLeg{{
			InstrumentType: "Equity Option",
			Symbol:         o.Symbol,
			Quantity:       o.Quantity,
			Action:         string(o.Action),
		}},
	}

	var resp orderResponse
	path := "/accounts/" + account + "/orders/" + orderID
	if err := c.do(ctx, http.MethodPut, path, req, &resp); err != nil {
		return domain.SubmitReceipt{}, fmt.Errorf("tastytrade: replace order %s: %w", orderID, err)
	}
	return receiptFrom(resp), nil
}

// OrderStatus fetches the current venue status of an order.
func (c *Client) OrderStatus(ctx context.Context, account, orderID string) (domain.OrderStatus, error) {
	var resp struct {
		Data struct {
			Status string `json:"status"`
		} `json:"data"`
	}
	path := "/accounts/" + account + "/orders/" + orderID
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return "", fmt.Errorf("tastytrade: order status %s: %w", orderID, err)
	}
	return domain.OrderStatus(resp.Data.Status), nil
}

// CancelOrder cancels a working order.
func (c *Client) CancelOrder(ctx context.Context, account, orderID string) error {
	path := "/accounts/" + account + "/orders/" + orderID
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("tastytrade: cancel order %s: %w", orderID, err)
	}
	return nil
}

func receiptFrom(resp orderResponse) domain.SubmitReceipt {
	id := resp.Data.Order.ID.String()
	status := domain.OrderStatus(resp.Data.Order.Status)
	if id == "" {
		return domain.SubmitReceipt{Status: status, Working: true}
	}
	return domain.SubmitReceipt{OrderID: id, Status: status}
}

func priceEffect(action domain.OrderAction) string {
	if action.IsBuy() {
		return "Debit"
	}
	return "Credit"
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token, ok := c.SessionToken(); ok {
		req.Header.Set("Authorization", token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%s %s: %w", method, path, domain.ErrUnauthorized)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, truncate(data, 200))
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%s %s: decode response: %w", method, path, err)
		}
	}
	return nil
}

func truncate(data []byte, n int) string {
	if len(data) > n {
		return string(data[:n]) + "..."
	}
	return string(data)
}
