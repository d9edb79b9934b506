package wata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// defaultEndpoints are tried in order until one answers with something
// other than 401/403/404. Wata has moved the h2h link API between hosts
// without notice.
var defaultEndpoints = []string{
	"https://api.wata.pro/api/h2h/links",
	"https://api.wata.pro/api/links",
	"https://wata.pro/api/h2h/links",
}

const maxAttemptsPerCandidate = 3

type Config struct {
	APIKey     string
	PaymentURL string
	AuthHeader string
	AuthScheme string
}

type Client struct {
	apiKey     string
	endpoints  []string
	headers    []headerVariant
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	retryBase  time.Duration

	mu       sync.Mutex
	winner   string
	winnerHV *headerVariant
}

type headerVariant struct {
	name   string
	scheme string
}

func (h headerVariant) apply(req *http.Request, key string) {
	value := key
	if h.scheme != "" {
		value = h.scheme + " " + key
	}
	req.Header.Set(h.name, value)
}

type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("wata api status %d: %s", e.StatusCode, e.Body)
}

// PaymentLinkRequest describes the payment page to create for an order.
type PaymentLinkRequest struct {
	OrderID     string
	AmountCents int64
	Currency    string
	Description string
	SuccessURL  string
	FailURL     string
}

// PaymentLink is the normalized create-link response.
type PaymentLink struct {
	PaymentID string
	URL       string
	Raw       map[string]interface{}
}

func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	endpoints := defaultEndpoints
	if u := strings.TrimSpace(cfg.PaymentURL); u != "" {
		endpoints = append([]string{u}, defaultEndpoints...)
	}
	headers := []headerVariant{
		{name: "Authorization", scheme: "Bearer"},
		{name: "X-Api-Key"},
	}
	if name := strings.TrimSpace(cfg.AuthHeader); name != "" {
		headers = append([]headerVariant{{name: name, scheme: strings.TrimSpace(cfg.AuthScheme)}}, headers...)
	}
	return &Client{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		endpoints:  endpoints,
		headers:    headers,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(5), 10),
		logger:     logger,
		retryBase:  time.Second,
	}
}

// CreatePaymentLink registers a payment page for the order and returns
// its id and URL. Candidate endpoints and auth headers are walked until
// one works; the first working pair is reused for later calls.
func (c *Client) CreatePaymentLink(ctx context.Context, in PaymentLinkRequest) (PaymentLink, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"amount":             float64(in.AmountCents) / 100,
		"currency":           in.Currency,
		"description":        in.Description,
		"orderId":            in.OrderID,
		"successRedirectUrl": in.SuccessURL,
		"failRedirectUrl":    in.FailURL,
	})
	if err != nil {
		return PaymentLink{}, err
	}

	body, err := c.post(ctx, payload)
	if err != nil {
		return PaymentLink{}, err
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return PaymentLink{}, fmt.Errorf("decode payment link response: %w", err)
	}
	out := PaymentLink{
		PaymentID: firstString(raw, []string{"paymentId", "id", "transactionId", "payment_id"}),
		URL:       firstString(raw, []string{"paymentUrl", "url", "redirectUrl", "checkout_url"}),
		Raw:       raw,
	}
	if out.URL == "" {
		return PaymentLink{}, fmt.Errorf("payment link response missing url")
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, payload []byte) ([]byte, error) {
	endpoint, hv := c.cached()
	if endpoint != "" && hv != nil {
		body, err, final := c.attempt(ctx, endpoint, *hv, payload)
		if final {
			return body, err
		}
		// Cached pair stopped working, fall through to a full walk.
		c.cache("", nil)
	}

	var lastErr error
	for _, endpoint := range c.endpoints {
		for _, hv := range c.headers {
			body, err, final := c.attempt(ctx, endpoint, hv, payload)
			if final {
				if err == nil {
					c.cache(endpoint, &hv)
				}
				return body, err
			}
			if err != nil {
				lastErr = err
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no wata endpoint accepted the request")
	}
	return nil, lastErr
}

// attempt posts to one endpoint/header pair with bounded retries on
// 429 and 5xx. final=false means the pair was rejected outright and the
// caller should try the next candidate.
func (c *Client) attempt(ctx context.Context, endpoint string, hv headerVariant, payload []byte) (body []byte, err error, final bool) {
	for try := 0; try < maxAttemptsPerCandidate; try++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err, true
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err, true
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Content-Type", "application/json")
		hv.apply(req, c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err, false
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, readErr, true
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if c.logger != nil {
				c.logger.Debug("wata_api_response", "endpoint", endpoint, "status", resp.StatusCode, "attempt", try+1)
			}
			return body, nil, true
		case resp.StatusCode == http.StatusUnauthorized,
			resp.StatusCode == http.StatusForbidden,
			resp.StatusCode == http.StatusNotFound:
			// Wrong endpoint or auth shape; the next candidate may fit.
			return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}, false
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			if try == maxAttemptsPerCandidate-1 {
				return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}, true
			}
			if err := sleepCtx(ctx, retryDelay(resp, c.retryBase, try)); err != nil {
				return nil, err, true
			}
		default:
			return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}, true
		}
	}
	return nil, fmt.Errorf("wata retries exhausted"), true
}

func retryDelay(resp *http.Response, base time.Duration, try int) time.Duration {
	if ra := strings.TrimSpace(resp.Header.Get("Retry-After")); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return base << try
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) cached() (string, *headerVariant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.winner, c.winnerHV
}

func (c *Client) cache(endpoint string, hv *headerVariant) {
	c.mu.Lock()
	c.winner = endpoint
	c.winnerHV = hv
	c.mu.Unlock()
}
