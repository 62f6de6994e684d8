package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// QuoteKind groups quotes by the kind of provider that serves them
type QuoteKind string

const (
	QuoteKindCurrency  QuoteKind = "currency"
	QuoteKindCrypto    QuoteKind = "crypto"
	QuoteKindEquity    QuoteKind = "equity"
	QuoteKindIndex     QuoteKind = "index"
	QuoteKindCommodity QuoteKind = "commodity"
)

// Quote is a single price observation
type Quote struct {
	Symbol    string           `json:"symbol"`
	Name      string           `json:"name,omitempty"`
	Price     decimal.Decimal  `json:"price"`
	Currency  string           `json:"currency"`
	ChangePct *decimal.Decimal `json:"change_pct,omitempty"`
}

// QuoteBoard is a set of quotes from one provider fetch
type QuoteBoard struct {
	Kind      QuoteKind `json:"kind"`
	Source    string    `json:"source"`
	Quotes    []Quote   `json:"quotes"`
	FetchedAt time.Time `json:"fetched_at"`
	// Stale is set when the board comes from the last-known-value store
	Stale bool `json:"stale"`
}

// Find returns the quote for symbol, if present
func (b QuoteBoard) Find(symbol string) (Quote, bool) {
	for _, q := range b.Quotes {
		if q.Symbol == symbol {
			return q, true
		}
	}
	return Quote{}, false
}
