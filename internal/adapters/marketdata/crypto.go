package marketdata

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rail-service/invest_bot/internal/domain/entities"
)

const (
	DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3"
	DefaultBinanceURL   = "https://api.binance.com/api/v3"

	usd = "USD"
)

// binanceSymbols maps CoinGecko ids to Binance USDT pairs
var binanceSymbols = map[string]string{
	"bitcoin":          "BTCUSDT",
	"ethereum":         "ETHUSDT",
	"toncoin":          "TONUSDT",
	"the-open-network": "TONUSDT",
	"solana":           "SOLUSDT",
	"binancecoin":      "BNBUSDT",
	"ripple":           "XRPUSDT",
	"cardano":          "ADAUSDT",
	"dogecoin":         "DOGEUSDT",
	"tron":             "TRXUSDT",
	"litecoin":         "LTCUSDT",
	"polkadot":         "DOTUSDT",
}

// CoinGeckoProvider reads spot USD prices from the CoinGecko simple price API
type CoinGeckoProvider struct {
	client *client
}

var _ Provider = (*CoinGeckoProvider)(nil)

func NewCoinGeckoProvider(opts Options) *CoinGeckoProvider {
	return &CoinGeckoProvider{client: newClient("coingecko", DefaultCoinGeckoURL, opts)}
}

func (p *CoinGeckoProvider) Name() string { return p.client.name }

// Fetch returns USD prices keyed by CoinGecko id
func (p *CoinGeckoProvider) Fetch(ctx context.Context, symbols []string) (entities.QuoteBoard, error) {
	ids := make([]string, 0, len(symbols))
	for _, s := range symbols {
		ids = append(ids, strings.ToLower(s))
	}

	query := url.Values{}
	query.Set("ids", strings.Join(ids, ","))
	query.Set("vs_currencies", "usd")
	query.Set("include_24hr_change", "true")

	var resp map[string]map[string]*float64
	if err := p.client.getJSON(ctx, "/simple/price", query, &resp); err != nil {
		return entities.QuoteBoard{}, err
	}

	quotes := make([]entities.Quote, 0, len(ids))
	for _, id := range ids {
		fields, ok := resp[id]
		if !ok {
			continue
		}
		price := fields["usd"]
		if price == nil || *price <= 0 {
			continue
		}
		q := entities.Quote{
			Symbol:   id,
			Price:    decimal.NewFromFloat(*price),
			Currency: usd,
		}
		if change := fields["usd_24h_change"]; change != nil {
			pct := decimal.NewFromFloat(*change).Round(2)
			q.ChangePct = &pct
		}
		quotes = append(quotes, q)
	}
	if len(quotes) == 0 {
		return entities.QuoteBoard{}, ErrNoQuotes
	}

	return entities.QuoteBoard{
		Kind:      entities.QuoteKindCrypto,
		Source:    p.Name(),
		Quotes:    quotes,
		FetchedAt: time.Now().UTC(),
	}, nil
}

// BinanceProvider reads 24h tickers for USDT pairs. Symbols are CoinGecko
// ids so the board matches the primary provider's.
type BinanceProvider struct {
	client *client
}

var _ Provider = (*BinanceProvider)(nil)

func NewBinanceProvider(opts Options) *BinanceProvider {
	return &BinanceProvider{client: newClient("binance", DefaultBinanceURL, opts)}
}

func (p *BinanceProvider) Name() string { return p.client.name }

type binanceTicker struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChangePercent string `json:"priceChangePercent"`
}

func (p *BinanceProvider) Fetch(ctx context.Context, symbols []string) (entities.QuoteBoard, error) {
	pairs := make([]string, 0, len(symbols))
	idByPair := make(map[string]string, len(symbols))
	for _, s := range symbols {
		id := strings.ToLower(s)
		pair, ok := binanceSymbols[id]
		if !ok {
			continue
		}
		if _, dup := idByPair[pair]; dup {
			continue
		}
		pairs = append(pairs, pair)
		idByPair[pair] = id
	}
	if len(pairs) == 0 {
		return entities.QuoteBoard{}, ErrNoQuotes
	}

	encoded, err := json.Marshal(pairs)
	if err != nil {
		return entities.QuoteBoard{}, err
	}
	query := url.Values{}
	query.Set("symbols", string(encoded))

	var resp []binanceTicker
	if err := p.client.getJSON(ctx, "/ticker/24hr", query, &resp); err != nil {
		return entities.QuoteBoard{}, err
	}

	quotes := make([]entities.Quote, 0, len(resp))
	for _, t := range resp {
		id, ok := idByPair[t.Symbol]
		if !ok {
			continue
		}
		price, err := decimal.NewFromString(t.LastPrice)
		if err != nil || !price.IsPositive() {
			continue
		}
		q := entities.Quote{Symbol: id, Price: price, Currency: usd}
		if change, err := decimal.NewFromString(t.PriceChangePercent); err == nil {
			change = change.Round(2)
			q.ChangePct = &change
		}
		quotes = append(quotes, q)
	}
	if len(quotes) == 0 {
		return entities.QuoteBoard{}, ErrNoQuotes
	}

	return entities.QuoteBoard{
		Kind:      entities.QuoteKindCrypto,
		Source:    p.Name(),
		Quotes:    quotes,
		FetchedAt: time.Now().UTC(),
	}, nil
}
