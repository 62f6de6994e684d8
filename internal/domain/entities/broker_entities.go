package entities

import "github.com/shopspring/decimal"

// Instrument types reported by the brokerage
const (
	InstrumentTypeShare    = "share"
	InstrumentTypeBond     = "bond"
	InstrumentTypeETF      = "etf"
	InstrumentTypeCurrency = "currency"
	InstrumentTypeFutures  = "futures"
)

// BrokerAccount is a brokerage account available to the token
type BrokerAccount struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Status string `json:"status"`
}

// IsOpen reports whether the account can trade
func (a BrokerAccount) IsOpen() bool {
	return a.Status == "ACCOUNT_STATUS_OPEN"
}

// BrokerInstrument is one instrument search hit
type BrokerInstrument struct {
	UID               string `json:"uid"`
	FIGI              string `json:"figi"`
	Ticker            string `json:"ticker"`
	ClassCode         string `json:"class_code"`
	Name              string `json:"name"`
	InstrumentType    string `json:"instrument_type"`
	APITradeAvailable bool   `json:"api_trade_available"`
}

// Identifier returns the id orders should reference, empty when the hit carries none
func (i BrokerInstrument) Identifier() string {
	if i.UID != "" {
		return i.UID
	}
	return i.FIGI
}

// BrokerOrder is the broker's response to an order submission
type BrokerOrder struct {
	OrderID        string          `json:"order_id"`
	Status         string          `json:"status"`
	LotsRequested  int64           `json:"lots_requested"`
	LotsExecuted   int64           `json:"lots_executed"`
	ExecutedPrice  decimal.Decimal `json:"executed_price"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	Currency       string          `json:"currency"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// PortfolioPosition is one holding in a portfolio snapshot
type PortfolioPosition struct {
	FIGI           string          `json:"figi"`
	InstrumentUID  string          `json:"instrument_uid"`
	InstrumentType string          `json:"instrument_type"`
	Quantity       decimal.Decimal `json:"quantity"`
	AveragePrice   decimal.Decimal `json:"average_price"`
	CurrentPrice   decimal.Decimal `json:"current_price"`
	ExpectedYield  decimal.Decimal `json:"expected_yield"`
	Currency       string          `json:"currency"`
}

// MarketValue returns quantity times current price
func (p PortfolioPosition) MarketValue() decimal.Decimal {
	return p.Quantity.Mul(p.CurrentPrice)
}

// PortfolioSnapshot is the broker's view of an account
type PortfolioSnapshot struct {
	AccountID     string              `json:"account_id"`
	TotalAmount   decimal.Decimal     `json:"total_amount"`
	Currency      string              `json:"currency"`
	ExpectedYield decimal.Decimal     `json:"expected_yield"`
	Positions     []PortfolioPosition `json:"positions"`
}

// BrokerOrderRequest describes a market buy submitted on behalf of the account
type BrokerOrderRequest struct {
	AccountID    string `json:"account_id" validate:"required"`
	InstrumentID string `json:"instrument_id" validate:"required"`
	// Lots is the number of lots, not shares
	Lots int64 `json:"lots" validate:"gt=0"`
	// IdempotencyKey is sent as the broker order id; resubmitting the same key never creates a second order
	IdempotencyKey string `json:"idempotency_key" validate:"required,uuid"`
}
