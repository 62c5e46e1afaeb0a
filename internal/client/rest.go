// Package client is the consumer side of the order API: a REST client, a
// realtime connection manager and collections kept in sync with change
// notifications.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"

	"clinicstock/backend/internal/domain"
)

type Options struct {
	HTTPClient   *http.Client
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// FailureThreshold is the number of consecutive transport failures that
	// opens the read circuit.
	FailureThreshold uint32
	BreakerTimeout   time.Duration
}

type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	tokens  singleflight.Group

	maxAttempts  int
	initialDelay time.Duration
	maxDelay     time.Duration

	mu    sync.Mutex
	token string
	csrf  string
}

func New(baseURL string, opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = 200 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 2 * time.Second
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = 10 * time.Second
	}

	threshold := opts.FailureThreshold
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "order-api-reads",
		MaxRequests: 1,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("[client] circuit %s: %s -> %s", name, from, to)
		},
	})

	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		http:         opts.HTTPClient,
		breaker:      breaker,
		maxAttempts:  opts.MaxAttempts,
		initialDelay: opts.InitialDelay,
		maxDelay:     opts.MaxDelay,
	}
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Login exchanges credentials for a bearer token and keeps it for later calls.
func (c *Client) Login(ctx context.Context, username, password string) (domain.LoginResponse, error) {
	var resp domain.LoginResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", domain.LoginRequest{Username: username, Password: password}, &resp)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	c.SetToken(resp.AccessToken)
	return resp, nil
}

func (c *Client) ListOrders(ctx context.Context, q domain.OrderQuery) (domain.OrderPage, error) {
	var page domain.OrderPage
	err := c.read(ctx, "/api/v1/orders"+encodeOrderQuery(q), &page)
	return page, err
}

func (c *Client) GetOrder(ctx context.Context, id int64) (domain.Order, error) {
	var payload struct {
		Order domain.Order `json:"order"`
	}
	err := c.read(ctx, "/api/v1/orders/"+strconv.FormatInt(id, 10), &payload)
	return payload.Order, err
}

func (c *Client) OrderStats(ctx context.Context) (domain.OrderStats, error) {
	var payload struct {
		Stats domain.OrderStats `json:"stats"`
	}
	err := c.read(ctx, "/api/v1/orders/stats", &payload)
	return payload.Stats, err
}

func (c *Client) ListProducts(ctx context.Context) ([]domain.Product, error) {
	var payload struct {
		Products []domain.Product `json:"products"`
	}
	err := c.read(ctx, "/api/v1/products", &payload)
	return payload.Products, err
}

func (c *Client) CreateOrder(ctx context.Context, req domain.OrderCreateRequest) (domain.Order, error) {
	return c.orderMutation(ctx, http.MethodPost, "/api/v1/orders", req)
}

func (c *Client) DeleteOrder(ctx context.Context, id int64) error {
	return c.mutate(ctx, http.MethodDelete, "/api/v1/orders/"+strconv.FormatInt(id, 10), nil, nil)
}

func (c *Client) UpdateItemStatus(ctx context.Context, orderID, itemID int64, status domain.ItemStatus) (domain.Order, error) {
	return c.orderMutation(ctx, http.MethodPatch, itemPath(orderID, itemID, "status"), domain.ItemStatusRequest{Status: status})
}

func (c *Client) ReturnItem(ctx context.Context, orderID, itemID int64, qty int, reason string) (domain.Order, error) {
	req := domain.ItemReturnRequest{
		ReturnedQuantity: domain.QuantityInput(strconv.Itoa(qty)),
		RefundReason:     reason,
	}
	return c.orderMutation(ctx, http.MethodPatch, itemPath(orderID, itemID, "return"), req)
}

func itemPath(orderID, itemID int64, action string) string {
	return fmt.Sprintf("/api/v1/orders/%d/items/%d/%s", orderID, itemID, action)
}

func (c *Client) orderMutation(ctx context.Context, method, path string, body any) (domain.Order, error) {
	var payload struct {
		Order domain.Order `json:"order"`
	}
	err := c.mutate(ctx, method, path, body, &payload)
	return payload.Order, err
}

// read performs an idempotent GET, retrying transport failures with
// exponential backoff behind the circuit breaker.
func (c *Client) read(ctx context.Context, path string, dest any) error {
	delay := c.initialDelay
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		outcome, err := c.breaker.Execute(func() (interface{}, error) {
			err := c.do(ctx, http.MethodGet, path, nil, dest)
			if isTransport(err) {
				return nil, err
			}
			// Anything else means the backend answered, so the circuit stays closed.
			return err, nil
		})
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return &TransportError{Op: "GET " + path, Err: err}
		case err != nil:
			lastErr = err
		case outcome != nil:
			return outcome.(error)
		default:
			return nil
		}

		if attempt < c.maxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}
	}
	return lastErr
}

// mutate sends a state-changing request exactly once. A rejected CSRF token
// is refreshed and the request resent, since the server refused it before
// doing anything.
func (c *Client) mutate(ctx context.Context, method, path string, body any, dest any) error {
	err := c.do(ctx, method, path, body, dest)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusForbidden && strings.Contains(apiErr.Message, "CSRF") {
		c.mu.Lock()
		c.csrf = ""
		c.mu.Unlock()
		return c.do(ctx, method, path, body, dest)
	}
	return err
}

func (c *Client) csrfToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.csrf
	c.mu.Unlock()
	if token != "" {
		return token, nil
	}

	// Concurrent mutations share one token fetch.
	v, err, _ := c.tokens.Do("csrf", func() (interface{}, error) {
		var payload struct {
			Token string `json:"csrf_token"`
		}
		if err := c.send(ctx, http.MethodGet, "/api/v1/auth/csrf-token", nil, &payload, ""); err != nil {
			return "", err
		}
		c.mu.Lock()
		c.csrf = payload.Token
		c.mu.Unlock()
		return payload.Token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, dest any) error {
	csrf := ""
	if method != http.MethodGet && path != "/api/v1/auth/login" {
		token, err := c.csrfToken(ctx)
		if err != nil {
			return err
		}
		csrf = token
	}
	return c.send(ctx, method, path, body, dest, csrf)
}

func (c *Client) send(ctx context.Context, method, path string, body any, dest any, csrf string) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}

	op := method + " " + path
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&payload)
		if payload.Error == "" {
			payload.Error = http.StatusText(resp.StatusCode)
		}
		apiErr := &APIError{Status: resp.StatusCode, Message: payload.Error}
		switch resp.StatusCode {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return &TransportError{Op: op, Err: apiErr}
		}
		return apiErr
	}

	if dest == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func encodeOrderQuery(q domain.OrderQuery) string {
	values := url.Values{}
	if q.Status != "" {
		values.Set("status", string(q.Status))
	}
	if q.SupplierID > 0 {
		values.Set("supplier_id", strconv.FormatInt(q.SupplierID, 10))
	}
	if s := strings.TrimSpace(q.Search); s != "" {
		values.Set("search", s)
	}
	if q.From != nil {
		values.Set("from", q.From.UTC().Format(time.RFC3339))
	}
	if q.To != nil {
		values.Set("to", q.To.UTC().Format(time.RFC3339))
	}
	if q.SortBy != "" {
		values.Set("sort_by", q.SortBy)
		if q.Desc {
			values.Set("order", "desc")
		} else {
			values.Set("order", "asc")
		}
	}
	if q.Page > 0 {
		values.Set("page", strconv.Itoa(q.Page))
	}
	if q.PageSize > 0 {
		values.Set("page_size", strconv.Itoa(q.PageSize))
	}
	if len(values) == 0 {
		return ""
	}
	return "?" + values.Encode()
}
