package marketdata

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rail-service/invest_bot/internal/domain/entities"
)

const (
	DefaultYahooURL = "https://query1.finance.yahoo.com/v8/finance/chart"

	// moscowSuffix is Yahoo's exchange suffix for MOEX listings
	moscowSuffix = ".ME"
)

// YahooProvider reads the last price from Yahoo's chart endpoint, one request per symbol
type YahooProvider struct {
	client *client
	kind   entities.QuoteKind
	suffix string
}

var _ Provider = (*YahooProvider)(nil)

// NewYahooCommoditiesProvider serves futures such as BZ=F and GC=F
func NewYahooCommoditiesProvider(opts Options) *YahooProvider {
	return &YahooProvider{client: newClient("yahoo", DefaultYahooURL, opts), kind: entities.QuoteKindCommodity}
}

// NewYahooMOEXProvider serves MOEX shares or indices through Yahoo's ".ME" listings
func NewYahooMOEXProvider(opts Options, kind entities.QuoteKind) *YahooProvider {
	return &YahooProvider{client: newClient("yahoo", DefaultYahooURL, opts), kind: kind, suffix: moscowSuffix}
}

func (p *YahooProvider) Name() string { return p.client.name }

type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string   `json:"symbol"`
				Currency           string   `json:"currency"`
				ShortName          string   `json:"shortName"`
				RegularMarketPrice *float64 `json:"regularMarketPrice"`
				ChartPreviousClose *float64 `json:"chartPreviousClose"`
				RegularMarketTime  int64    `json:"regularMarketTime"`
			} `json:"meta"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (p *YahooProvider) Fetch(ctx context.Context, symbols []string) (entities.QuoteBoard, error) {
	quotes := make([]entities.Quote, 0, len(symbols))
	var lastErr error

	for _, symbol := range symbols {
		q, err := p.fetchOne(ctx, symbol)
		if err != nil {
			if ctx.Err() != nil {
				return entities.QuoteBoard{}, ctx.Err()
			}
			p.client.logger.Warn("Yahoo quote unavailable", zap.String("symbol", symbol), zap.Error(err))
			lastErr = err
			continue
		}
		quotes = append(quotes, q)
	}
	if len(quotes) == 0 {
		if lastErr != nil {
			return entities.QuoteBoard{}, lastErr
		}
		return entities.QuoteBoard{}, ErrNoQuotes
	}

	return entities.QuoteBoard{
		Kind:      p.kind,
		Source:    p.Name(),
		Quotes:    quotes,
		FetchedAt: time.Now().UTC(),
	}, nil
}

func (p *YahooProvider) fetchOne(ctx context.Context, symbol string) (entities.Quote, error) {
	remote := symbol
	if p.suffix != "" {
		symbol = strings.ToUpper(symbol)
		remote = symbol + p.suffix
	}

	query := url.Values{}
	query.Set("interval", "1d")
	query.Set("range", "5d")

	var resp yahooChartResponse
	if err := p.client.getJSON(ctx, "/"+url.PathEscape(remote), query, &resp); err != nil {
		return entities.Quote{}, err
	}
	if resp.Chart.Error != nil {
		return entities.Quote{}, payloadError(p.Name(), "%s: %s", resp.Chart.Error.Code, resp.Chart.Error.Description)
	}
	if len(resp.Chart.Result) == 0 {
		return entities.Quote{}, payloadError(p.Name(), "empty chart result for %s", remote)
	}

	meta := resp.Chart.Result[0].Meta
	if meta.RegularMarketPrice == nil || *meta.RegularMarketPrice <= 0 {
		return entities.Quote{}, payloadError(p.Name(), "no market price for %s", remote)
	}

	price := decimal.NewFromFloat(*meta.RegularMarketPrice)
	q := entities.Quote{
		Symbol:   symbol,
		Name:     meta.ShortName,
		Price:    price,
		Currency: meta.Currency,
	}
	if meta.ChartPreviousClose != nil && *meta.ChartPreviousClose > 0 {
		prev := decimal.NewFromFloat(*meta.ChartPreviousClose)
		change := price.Sub(prev).Div(prev).Mul(hundred).Round(2)
		q.ChangePct = &change
	}
	return q, nil
}
