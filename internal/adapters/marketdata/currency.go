package marketdata

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rail-service/invest_bot/internal/domain/entities"
)

const (
	DefaultCBRURL   = "https://www.cbr-xml-daily.ru/daily_json.js"
	DefaultERAPIURL = "https://open.er-api.com/v6/latest"

	rub = "RUB"
)

var hundred = decimal.NewFromInt(100)

// CBRProvider reads the Central Bank of Russia daily rates mirror
type CBRProvider struct {
	client *client
}

var _ Provider = (*CBRProvider)(nil)

func NewCBRProvider(opts Options) *CBRProvider {
	return &CBRProvider{client: newClient("cbr", DefaultCBRURL, opts)}
}

func (p *CBRProvider) Name() string { return p.client.name }

type cbrResponse struct {
	Date   string               `json:"Date"`
	Valute map[string]cbrValute `json:"Valute"`
}

type cbrValute struct {
	CharCode string  `json:"CharCode"`
	Nominal  int64   `json:"Nominal"`
	Name     string  `json:"Name"`
	Value    float64 `json:"Value"`
	Previous float64 `json:"Previous"`
}

// Fetch returns RUB prices for one unit of each requested currency
func (p *CBRProvider) Fetch(ctx context.Context, symbols []string) (entities.QuoteBoard, error) {
	var resp cbrResponse
	if err := p.client.getJSON(ctx, "", nil, &resp); err != nil {
		return entities.QuoteBoard{}, err
	}
	if len(resp.Valute) == 0 {
		return entities.QuoteBoard{}, payloadError(p.Name(), "missing Valute table")
	}

	quotes := make([]entities.Quote, 0, len(symbols))
	for _, symbol := range symbols {
		v, ok := resp.Valute[strings.ToUpper(symbol)]
		if !ok || v.Value <= 0 {
			continue
		}
		nominal := decimal.NewFromInt(v.Nominal)
		if v.Nominal <= 0 {
			nominal = decimal.NewFromInt(1)
		}
		price := decimal.NewFromFloat(v.Value).Div(nominal)
		q := entities.Quote{
			Symbol:   strings.ToUpper(symbol),
			Name:     v.Name,
			Price:    price.Round(4),
			Currency: rub,
		}
		if v.Previous > 0 {
			change := decimal.NewFromFloat(v.Value).Sub(decimal.NewFromFloat(v.Previous)).
				Div(decimal.NewFromFloat(v.Previous)).Mul(hundred).Round(2)
			q.ChangePct = &change
		}
		quotes = append(quotes, q)
	}
	if len(quotes) == 0 {
		return entities.QuoteBoard{}, ErrNoQuotes
	}

	fetchedAt := time.Now().UTC()
	if t, err := time.Parse(time.RFC3339, resp.Date); err == nil {
		fetchedAt = t.UTC()
	}
	return entities.QuoteBoard{
		Kind:      entities.QuoteKindCurrency,
		Source:    p.Name(),
		Quotes:    quotes,
		FetchedAt: fetchedAt,
	}, nil
}

// ERAPIProvider reads open.er-api.com latest rates with RUB as the base
type ERAPIProvider struct {
	client *client
}

var _ Provider = (*ERAPIProvider)(nil)

func NewERAPIProvider(opts Options) *ERAPIProvider {
	return &ERAPIProvider{client: newClient("erapi", DefaultERAPIURL, opts)}
}

func (p *ERAPIProvider) Name() string { return p.client.name }

type erapiResponse struct {
	Result             string             `json:"result"`
	BaseCode           string             `json:"base_code"`
	TimeLastUpdateUnix int64              `json:"time_last_update_unix"`
	Rates              map[string]float64 `json:"rates"`
}

// Fetch inverts the RUB-based rates into RUB prices per unit
func (p *ERAPIProvider) Fetch(ctx context.Context, symbols []string) (entities.QuoteBoard, error) {
	var resp erapiResponse
	if err := p.client.getJSON(ctx, "/"+rub, nil, &resp); err != nil {
		return entities.QuoteBoard{}, err
	}
	if resp.Result != "success" {
		return entities.QuoteBoard{}, payloadError(p.Name(), "result %q", resp.Result)
	}

	one := decimal.NewFromInt(1)
	quotes := make([]entities.Quote, 0, len(symbols))
	for _, symbol := range symbols {
		code := strings.ToUpper(symbol)
		rate, ok := resp.Rates[code]
		if !ok || rate <= 0 {
			continue
		}
		quotes = append(quotes, entities.Quote{
			Symbol:   code,
			Price:    one.Div(decimal.NewFromFloat(rate)).Round(4),
			Currency: rub,
		})
	}
	if len(quotes) == 0 {
		return entities.QuoteBoard{}, ErrNoQuotes
	}

	fetchedAt := time.Now().UTC()
	if resp.TimeLastUpdateUnix > 0 {
		fetchedAt = time.Unix(resp.TimeLastUpdateUnix, 0).UTC()
	}
	return entities.QuoteBoard{
		Kind:      entities.QuoteKindCurrency,
		Source:    p.Name(),
		Quotes:    quotes,
		FetchedAt: fetchedAt,
	}, nil
}
