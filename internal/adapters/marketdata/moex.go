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

const DefaultMOEXURL = "https://iss.moex.com/iss"

// moexMarket describes which ISS table and columns carry the price for a market
type moexMarket struct {
	kind      entities.QuoteKind
	path      string
	priceCols []string // marketdata columns in order of preference
	prevCol   string   // securities column used when marketdata has no price yet
	changeCol string
	currency  string
}

var (
	moexShares = moexMarket{
		kind:      entities.QuoteKindEquity,
		path:      "/engines/stock/markets/shares/boards/TQBR/securities.json",
		priceCols: []string{"LAST", "MARKETPRICE"},
		prevCol:   "PREVPRICE",
		changeCol: "LASTTOPREVPRICE",
		currency:  rub,
	}
	moexIndices = moexMarket{
		kind:      entities.QuoteKindIndex,
		path:      "/engines/stock/markets/index/securities.json",
		priceCols: []string{"CURRENTVALUE", "LASTVALUE"},
		prevCol:   "PREVPRICE",
		changeCol: "LASTCHANGEPRC",
	}
)

// MOEXProvider reads Moscow Exchange ISS quotes for shares or indices
type MOEXProvider struct {
	client *client
	market moexMarket
}

var _ Provider = (*MOEXProvider)(nil)

// NewMOEXSharesProvider serves TQBR board share prices
func NewMOEXSharesProvider(opts Options) *MOEXProvider {
	return &MOEXProvider{client: newClient("moex", DefaultMOEXURL, opts), market: moexShares}
}

// NewMOEXIndicesProvider serves index values such as IMOEX and RTSI
func NewMOEXIndicesProvider(opts Options) *MOEXProvider {
	return &MOEXProvider{client: newClient("moex", DefaultMOEXURL, opts), market: moexIndices}
}

func (p *MOEXProvider) Name() string { return p.client.name }

// issTable is the columnar layout every ISS JSON block uses
type issTable struct {
	Columns []string        `json:"columns"`
	Data    [][]interface{} `json:"data"`
}

type issResponse struct {
	Securities *issTable `json:"securities"`
	Marketdata *issTable `json:"marketdata"`
}

// rows indexes table rows by SECID
func (t *issTable) rows() map[string]map[string]interface{} {
	out := make(map[string]map[string]interface{})
	if t == nil {
		return out
	}
	for _, data := range t.Data {
		row := make(map[string]interface{}, len(t.Columns))
		for i, col := range t.Columns {
			if i < len(data) {
				row[col] = data[i]
			}
		}
		if secID, ok := row["SECID"].(string); ok {
			out[secID] = row
		}
	}
	return out
}

func issNumber(row map[string]interface{}, col string) (decimal.Decimal, bool) {
	switch v := row[col].(type) {
	case float64:
		return decimal.NewFromFloat(v), true
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(v)
		return d, err == nil
	default:
		return decimal.Zero, false
	}
}

func issString(row map[string]interface{}, col string) string {
	s, _ := row[col].(string)
	return s
}

func (p *MOEXProvider) Fetch(ctx context.Context, symbols []string) (entities.QuoteBoard, error) {
	codes := make([]string, 0, len(symbols))
	for _, s := range symbols {
		codes = append(codes, strings.ToUpper(s))
	}

	query := url.Values{}
	query.Set("securities", strings.Join(codes, ","))
	query.Set("iss.meta", "off")
	query.Set("iss.only", "securities,marketdata")

	var resp issResponse
	if err := p.client.getJSON(ctx, p.market.path, query, &resp); err != nil {
		return entities.QuoteBoard{}, err
	}
	if resp.Securities == nil && resp.Marketdata == nil {
		return entities.QuoteBoard{}, payloadError(p.Name(), "missing securities and marketdata blocks")
	}

	securities := resp.Securities.rows()
	marketdata := resp.Marketdata.rows()

	quotes := make([]entities.Quote, 0, len(codes))
	for _, code := range codes {
		md := marketdata[code]
		sec := securities[code]
		if md == nil && sec == nil {
			continue
		}

		var price decimal.Decimal
		found := false
		for _, col := range p.market.priceCols {
			if v, ok := issNumber(md, col); ok && v.IsPositive() {
				price, found = v, true
				break
			}
		}
		if !found {
			if v, ok := issNumber(sec, p.market.prevCol); ok && v.IsPositive() {
				price, found = v, true
			}
		}
		if !found {
			continue
		}

		q := entities.Quote{
			Symbol:   code,
			Name:     issString(sec, "SHORTNAME"),
			Price:    price,
			Currency: p.market.currency,
		}
		if change, ok := issNumber(md, p.market.changeCol); ok {
			change = change.Round(2)
			q.ChangePct = &change
		}
		quotes = append(quotes, q)
	}
	if len(quotes) == 0 {
		return entities.QuoteBoard{}, ErrNoQuotes
	}

	return entities.QuoteBoard{
		Kind:      p.market.kind,
		Source:    p.Name(),
		Quotes:    quotes,
		FetchedAt: time.Now().UTC(),
	}, nil
}
