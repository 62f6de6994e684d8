package handlers

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rail-service/invest_bot/internal/domain/entities"
	"github.com/rail-service/invest_bot/internal/domain/services/autobuy"
)

var boardTitles = map[entities.QuoteKind]string{
	entities.QuoteKindCurrency:  "💱 Currency rates",
	entities.QuoteKindCrypto:    "🪙 Crypto",
	entities.QuoteKindEquity:    "📈 MOEX shares",
	entities.QuoteKindIndex:     "📊 Indices",
	entities.QuoteKindCommodity: "🛢 Commodities",
}

func scheduleLine(doc entities.AutobuySettings) string {
	return fmt.Sprintf("Runs daily at %s (%s).", doc.DailyTime, doc.Timezone)
}

func formatPositions(positions []entities.AutobuyPosition) string {
	if len(positions) == 0 {
		return "No positions configured."
	}
	var b strings.Builder
	b.WriteString("Positions:")
	for _, p := range positions {
		fmt.Fprintf(&b, "\n• %s x%d", p.Ticker, p.Qty)
	}
	return b.String()
}

func formatStatus(status autobuy.Status) string {
	doc := status.Settings
	var b strings.Builder

	enabled := "off"
	if doc.Enabled {
		enabled = "on"
	}
	fmt.Fprintf(&b, "Autobuy: %s, job %s\n", enabled, status.State)
	b.WriteString(scheduleLine(doc))
	if status.NextRun != nil {
		loc, err := time.LoadLocation(doc.Timezone)
		if err != nil {
			loc = time.UTC
		}
		fmt.Fprintf(&b, "\nNext run: %s", status.NextRun.In(loc).Format("2006-01-02 15:04 MST"))
	}
	b.WriteString("\n" + formatPositions(doc.Positions))

	if doc.LastRunDate != nil {
		report := entities.AutobuyRunReport{Date: *doc.LastRunDate, Results: doc.LastResults}
		b.WriteString("\n\nLast run:\n" + autobuy.FormatSummary(report))
	}
	return b.String()
}

func formatBoard(board entities.QuoteBoard) string {
	var b strings.Builder
	title := boardTitles[board.Kind]
	if title == "" {
		title = string(board.Kind)
	}
	b.WriteString(title)
	if board.Stale {
		fmt.Fprintf(&b, " (cached %s)", board.FetchedAt.UTC().Format("2006-01-02 15:04 UTC"))
	}

	for _, q := range board.Quotes {
		b.WriteString("\n")
		label := q.Symbol
		if q.Name != "" && !strings.EqualFold(q.Name, q.Symbol) {
			label += " " + q.Name
		}
		fmt.Fprintf(&b, "%s: %s", label, formatPrice(q.Price))
		if q.Currency != "" {
			b.WriteString(" " + q.Currency)
		}
		if q.ChangePct != nil {
			b.WriteString(" " + formatChange(*q.ChangePct))
		}
	}
	fmt.Fprintf(&b, "\nsource: %s", board.Source)
	return b.String()
}

// formatPrice keeps four decimals below 1, two above
func formatPrice(d decimal.Decimal) string {
	if d.Abs().LessThan(decimal.NewFromInt(1)) {
		return d.StringFixed(4)
	}
	return d.StringFixed(2)
}

func formatChange(pct decimal.Decimal) string {
	sign := ""
	if pct.IsPositive() {
		sign = "+"
	}
	return fmt.Sprintf("(%s%s%%)", sign, pct.StringFixed(2))
}

func formatPortfolio(p *entities.PortfolioSnapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "💼 Portfolio %s\nTotal: %s %s", p.AccountID, p.TotalAmount.StringFixed(2), p.Currency)
	if !p.ExpectedYield.IsZero() {
		fmt.Fprintf(&b, ", yield %s", p.ExpectedYield.StringFixed(2))
	}
	if len(p.Positions) == 0 {
		b.WriteString("\nNo positions.")
		return b.String()
	}
	for _, pos := range p.Positions {
		id := pos.FIGI
		if id == "" {
			id = pos.InstrumentUID
		}
		fmt.Fprintf(&b, "\n• %s [%s] %s @ %s = %s %s",
			id, pos.InstrumentType,
			pos.Quantity.String(), formatPrice(pos.CurrentPrice),
			pos.MarketValue().StringFixed(2), pos.Currency)
	}
	return b.String()
}
