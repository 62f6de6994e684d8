package tinvest

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Enum values used on the wire
const (
	accountStatusOpen = "ACCOUNT_STATUS_OPEN"

	orderDirectionBuy = "ORDER_DIRECTION_BUY"
	orderTypeMarket   = "ORDER_TYPE_MARKET"

	instrumentKindUnspecified = "INSTRUMENT_TYPE_UNSPECIFIED"
)

// int64String decodes int64 values that the REST gateway encodes as JSON strings
type int64String int64

func (v *int64String) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*v = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*v = int64String(n)
	return nil
}

func (v int64String) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatInt(int64(v), 10))
}

// quotation is a fixed point number split into whole units and billionths
type quotation struct {
	Units int64String `json:"units"`
	Nano  int32       `json:"nano"`
}

func (q *quotation) Decimal() decimal.Decimal {
	if q == nil {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(q.Units)).Add(decimal.New(int64(q.Nano), -9))
}

// moneyValue is a quotation with an ISO currency code
type moneyValue struct {
	Currency string      `json:"currency"`
	Units    int64String `json:"units"`
	Nano     int32       `json:"nano"`
}

func (m *moneyValue) Decimal() decimal.Decimal {
	if m == nil {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(m.Units)).Add(decimal.New(int64(m.Nano), -9))
}

func (m *moneyValue) CurrencyCode() string {
	if m == nil {
		return ""
	}
	return strings.ToUpper(m.Currency)
}

type getAccountsRequest struct{}

type getAccountsResponse struct {
	Accounts []struct {
		ID     string `json:"id"`
		Type   string `json:"type"`
		Name   string `json:"name"`
		Status string `json:"status"`
	} `json:"accounts"`
}

type portfolioRequest struct {
	AccountID string `json:"accountId"`
	Currency  string `json:"currency"`
}

type portfolioResponse struct {
	AccountID            string      `json:"accountId"`
	TotalAmountPortfolio *moneyValue `json:"totalAmountPortfolio"`
	ExpectedYield        *quotation  `json:"expectedYield"`
	Positions            []struct {
		FIGI                 string      `json:"figi"`
		InstrumentUID        string      `json:"instrumentUid"`
		InstrumentType       string      `json:"instrumentType"`
		Quantity             *quotation  `json:"quantity"`
		AveragePositionPrice *moneyValue `json:"averagePositionPrice"`
		ExpectedYield        *quotation  `json:"expectedYield"`
		CurrentPrice         *moneyValue `json:"currentPrice"`
	} `json:"positions"`
}

type findInstrumentRequest struct {
	Query                 string `json:"query"`
	InstrumentKind        string `json:"instrumentKind"`
	APITradeAvailableFlag bool   `json:"apiTradeAvailableFlag"`
}

type findInstrumentResponse struct {
	Instruments []struct {
		UID                   string `json:"uid"`
		FIGI                  string `json:"figi"`
		Ticker                string `json:"ticker"`
		ClassCode             string `json:"classCode"`
		Name                  string `json:"name"`
		InstrumentType        string `json:"instrumentType"`
		APITradeAvailableFlag bool   `json:"apiTradeAvailableFlag"`
	} `json:"instruments"`
}

type postOrderRequest struct {
	InstrumentID string      `json:"instrumentId"`
	Quantity     int64String `json:"quantity"`
	Direction    string      `json:"direction"`
	AccountID    string      `json:"accountId"`
	OrderType    string      `json:"orderType"`
	OrderID      string      `json:"orderId"`
}

type postOrderResponse struct {
	OrderID               string      `json:"orderId"`
	ExecutionReportStatus string      `json:"executionReportStatus"`
	LotsRequested         int64String `json:"lotsRequested"`
	LotsExecuted          int64String `json:"lotsExecuted"`
	ExecutedOrderPrice    *moneyValue `json:"executedOrderPrice"`
	TotalOrderAmount      *moneyValue `json:"totalOrderAmount"`
}
