package tinvest

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/rail-service/invest_bot/internal/domain/entities"
	domainerrors "github.com/rail-service/invest_bot/internal/domain/errors"
	"github.com/rail-service/invest_bot/pkg/metrics"
	"github.com/rail-service/invest_bot/pkg/retry"
)

const (
	defaultTimeout = 15 * time.Second
	defaultBaseURL = "https://invest-public-api.tinkoff.ru/rest"
	servicePrefix  = "/tinkoff.public.invest.api.contract.v1."

	// Brokerage API methods
	getAccountsMethod    = "UsersService/GetAccounts"
	getPortfolioMethod   = "OperationsService/GetPortfolio"
	findInstrumentMethod = "InstrumentsService/FindInstrument"
	postOrderMethod      = "OrdersService/PostOrder"
)

// Config represents brokerage API configuration
type Config struct {
	Token     string
	AccountID string // optional, first open account is used when empty
	BaseURL   string
	AppName   string
	Timeout   time.Duration
	Retry     retry.Policy
}

// Client is a REST client for the T-Invest public API
type Client struct {
	config         Config
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker
	retrier        *retry.Retrier
	logger         *zap.Logger
}

// NewClient creates a new brokerage API client
func NewClient(config Config, logger *zap.Logger, retryOpts ...retry.Option) *Client {
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Retry.MaxAttempts == 0 {
		config.Retry = retry.DefaultPolicy()
	}
	config.Retry.RetryableFunc = isRetryable

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	st := gobreaker.Settings{
		Name:        "TInvestAPI",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			return !countsAsFailure(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			metrics.BrokerBreakerState.Set(breakerGauge(to))
			logger.Info("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &Client{
		config:         config,
		httpClient:     httpClient,
		circuitBreaker: gobreaker.NewCircuitBreaker(st),
		retrier:        retry.NewRetrier(config.Retry, logger, retryOpts...),
		logger:         logger,
	}
}

func breakerGauge(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// HasToken reports whether a token is configured
func (c *Client) HasToken() bool {
	return c.config.Token != ""
}

// Account methods

// GetAccounts lists the accounts visible to the token
func (c *Client) GetAccounts(ctx context.Context) ([]entities.BrokerAccount, error) {
	var response getAccountsResponse
	if err := c.call(ctx, getAccountsMethod, getAccountsRequest{}, &response); err != nil {
		c.logger.Error("Failed to list brokerage accounts", zap.Error(err))
		return nil, fmt.Errorf("get accounts failed: %w", err)
	}

	accounts := make([]entities.BrokerAccount, 0, len(response.Accounts))
	for _, a := range response.Accounts {
		accounts = append(accounts, entities.BrokerAccount{
			ID:     a.ID,
			Name:   a.Name,
			Type:   a.Type,
			Status: a.Status,
		})
	}
	return accounts, nil
}

// ResolveAccountID returns the configured account or the first open one
func (c *Client) ResolveAccountID(ctx context.Context) (string, error) {
	if !c.HasToken() {
		return "", domainerrors.UnauthorizedError("brokerage token is not configured")
	}
	if c.config.AccountID != "" {
		return c.config.AccountID, nil
	}

	accounts, err := c.GetAccounts(ctx)
	if err != nil {
		return "", err
	}
	for _, a := range accounts {
		if a.Status == accountStatusOpen {
			return a.ID, nil
		}
	}
	return "", domainerrors.NotFoundError("brokerage account")
}

// GetPortfolio returns the account snapshot valued in roubles
func (c *Client) GetPortfolio(ctx context.Context, accountID string) (*entities.PortfolioSnapshot, error) {
	var response portfolioResponse
	req := portfolioRequest{AccountID: accountID, Currency: "RUB"}
	if err := c.call(ctx, getPortfolioMethod, req, &response); err != nil {
		c.logger.Error("Failed to get portfolio",
			zap.String("account_id", accountID),
			zap.Error(err))
		return nil, fmt.Errorf("get portfolio failed: %w", err)
	}

	snapshot := &entities.PortfolioSnapshot{
		AccountID:     accountID,
		TotalAmount:   response.TotalAmountPortfolio.Decimal(),
		Currency:      response.TotalAmountPortfolio.CurrencyCode(),
		ExpectedYield: response.ExpectedYield.Decimal(),
		Positions:     make([]entities.PortfolioPosition, 0, len(response.Positions)),
	}
	for _, p := range response.Positions {
		snapshot.Positions = append(snapshot.Positions, entities.PortfolioPosition{
			FIGI:           p.FIGI,
			InstrumentUID:  p.InstrumentUID,
			InstrumentType: p.InstrumentType,
			Quantity:       p.Quantity.Decimal(),
			AveragePrice:   p.AveragePositionPrice.Decimal(),
			CurrentPrice:   p.CurrentPrice.Decimal(),
			ExpectedYield:  p.ExpectedYield.Decimal(),
			Currency:       p.CurrentPrice.CurrencyCode(),
		})
	}
	return snapshot, nil
}

// Instrument methods

// FindInstruments runs a free text instrument search
func (c *Client) FindInstruments(ctx context.Context, query string) ([]entities.BrokerInstrument, error) {
	var response findInstrumentResponse
	req := findInstrumentRequest{Query: query, InstrumentKind: instrumentKindUnspecified}
	if err := c.call(ctx, findInstrumentMethod, req, &response); err != nil {
		c.logger.Error("Failed to search instruments",
			zap.String("query", query),
			zap.Error(err))
		return nil, fmt.Errorf("find instrument failed: %w", err)
	}

	instruments := make([]entities.BrokerInstrument, 0, len(response.Instruments))
	for _, i := range response.Instruments {
		instruments = append(instruments, entities.BrokerInstrument{
			UID:               i.UID,
			FIGI:              i.FIGI,
			Ticker:            i.Ticker,
			ClassCode:         i.ClassCode,
			Name:              i.Name,
			InstrumentType:    i.InstrumentType,
			APITradeAvailable: i.APITradeAvailableFlag,
		})
	}
	return instruments, nil
}

// Trading methods

// PostMarketBuy submits a market buy order
func (c *Client) PostMarketBuy(ctx context.Context, req entities.BrokerOrderRequest) (*entities.BrokerOrder, error) {
	if err := ValidateOrderRequest(req); err != nil {
		return nil, domainerrors.ValidationError("order", err.Error())
	}

	c.logger.Info("Submitting market buy",
		zap.String("account_id", req.AccountID),
		zap.String("instrument_id", req.InstrumentID),
		zap.Int64("lots", req.Lots),
		zap.String("order_id", req.IdempotencyKey))

	var response postOrderResponse
	body := postOrderRequest{
		InstrumentID: req.InstrumentID,
		Quantity:     int64String(req.Lots),
		Direction:    orderDirectionBuy,
		AccountID:    req.AccountID,
		OrderType:    orderTypeMarket,
		OrderID:      req.IdempotencyKey,
	}
	if err := c.call(ctx, postOrderMethod, body, &response); err != nil {
		c.logger.Error("Failed to submit order",
			zap.String("instrument_id", req.InstrumentID),
			zap.String("order_id", req.IdempotencyKey),
			zap.Error(err))
		return nil, fmt.Errorf("post order failed: %w", err)
	}

	order := &entities.BrokerOrder{
		OrderID:        response.OrderID,
		Status:         response.ExecutionReportStatus,
		LotsRequested:  int64(response.LotsRequested),
		LotsExecuted:   int64(response.LotsExecuted),
		ExecutedPrice:  response.ExecutedOrderPrice.Decimal(),
		TotalAmount:    response.TotalOrderAmount.Decimal(),
		Currency:       response.TotalOrderAmount.CurrencyCode(),
		IdempotencyKey: req.IdempotencyKey,
	}
	if order.OrderID == "" {
		order.OrderID = req.IdempotencyKey
	}

	c.logger.Info("Order accepted",
		zap.String("order_id", order.OrderID),
		zap.String("status", order.Status))
	return order, nil
}

// Helper methods

// call runs one API method through the circuit breaker and the retrier
func (c *Client) call(ctx context.Context, method string, body, response interface{}) error {
	if !c.HasToken() {
		return ErrNoToken
	}

	_, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		return nil, c.retrier.Do(ctx, func(ctx context.Context) error {
			return c.doRequest(ctx, method, body, response)
		})
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domainerrors.ServiceUnavailableError("brokerage", err)
	}
	return err
}

// doRequest performs a single HTTP request
func (c *Client) doRequest(ctx context.Context, method string, body, response interface{}) error {
	started := time.Now()
	status := "error"
	defer func() {
		metrics.ObserveBrokerRequest(method, status, started)
	}()

	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	fullURL := c.config.BaseURL + servicePrefix + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.Token)
	if c.config.AppName != "" {
		req.Header.Set("x-app-name", c.config.AppName)
	}

	c.logger.Debug("Sending brokerage API request", zap.String("method", method))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	status = strconv.Itoa(resp.StatusCode)

	c.logger.Debug("Received brokerage API response",
		zap.String("method", method),
		zap.Int("status_code", resp.StatusCode),
		zap.Int("body_size", len(respBody)))

	if resp.StatusCode != http.StatusOK {
		return parseAPIError(resp.StatusCode, resp.Header, respBody)
	}

	if response != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, response); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}
	return nil
}
