// Package marketdata implements the public market data providers used by the
// bot: CBR and open.er-api for currency rates, CoinGecko and Binance for
// crypto, MOEX ISS for equities and indices, Yahoo chart for commodities.
package marketdata

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

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rail-service/invest_bot/internal/domain/entities"
)

const (
	DefaultTimeout   = 10 * time.Second
	DefaultRateLimit = 5 // requests per second per provider
	userAgent        = "Mozilla/5.0 (compatible; invest-bot/1.0)"
	maxBodyBytes     = 4 << 20
)

var (
	// ErrUnexpectedPayload marks a response that decoded but does not carry the expected data
	ErrUnexpectedPayload = errors.New("unexpected payload")

	// ErrNoQuotes is returned when a provider produced no quote for any requested symbol
	ErrNoQuotes = errors.New("no quotes in response")
)

// Provider fetches one board of quotes
type Provider interface {
	Name() string
	Fetch(ctx context.Context, symbols []string) (entities.QuoteBoard, error)
}

// StatusError is returned for any non-200 response
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// IsRetryable reports whether a provider failure is transient. Data-shape
// problems and 4xx responses other than 408/429 are not retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrUnexpectedPayload) || errors.Is(err, ErrNoQuotes) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusTooManyRequests,
			statusErr.StatusCode == http.StatusRequestTimeout,
			statusErr.StatusCode >= 500:
			return true
		default:
			return false
		}
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return false
	}
	// transport failures and timeouts
	return true
}

// Options are shared by every provider constructor
type Options struct {
	BaseURL       string
	Timeout       time.Duration
	RatePerSecond float64
	Logger        *zap.Logger
	HTTPClient    *http.Client
}

// client is the rate-limited JSON GET helper every provider is built on
type client struct {
	name       string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

func newClient(name, defaultBaseURL string, opts Options) *client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = DefaultRateLimit
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	burst := int(opts.RatePerSecond)
	if burst < 1 {
		burst = 1
	}

	return &client{
		name:       name,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst),
		logger:     opts.Logger.With(zap.String("provider", name)),
	}
}

// getJSON issues a GET to baseURL+path and decodes the body into dest
func (c *client) getJSON(ctx context.Context, path string, query url.Values, dest interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limit wait: %w", c.name, err)
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", c.name, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		c.logger.Warn("Market data request failed",
			zap.String("path", path),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return fmt.Errorf("%s: request failed: %w", c.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%s: read body: %w", c.name, err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("Market data non-OK response",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.Duration("elapsed", elapsed))
		return &StatusError{Provider: c.name, StatusCode: resp.StatusCode, Body: truncate(string(body), 200)}
	}

	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("%s: decode response: %w", c.name, err)
	}

	c.logger.Debug("Market data response",
		zap.String("path", path),
		zap.Duration("elapsed", elapsed))
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func payloadError(provider, format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w: %s", provider, ErrUnexpectedPayload, fmt.Sprintf(format, args...))
}
