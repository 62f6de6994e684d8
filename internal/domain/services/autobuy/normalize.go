package autobuy

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rail-service/invest_bot/internal/domain/entities"
)

// Defaults holds the values substituted for missing or invalid settings fields
type Defaults struct {
	DailyTime string
	Timezone  string
}

// DefaultDefaults returns the built-in fallbacks
func DefaultDefaults() Defaults {
	return Defaults{
		DailyTime: "10:00",
		Timezone:  "Europe/Moscow",
	}
}

// sanitized guarantees the fallbacks are themselves valid
func (d Defaults) sanitized() Defaults {
	builtin := DefaultDefaults()
	if clock, ok := parseClock(d.DailyTime); ok {
		d.DailyTime = clock
	} else {
		d.DailyTime = builtin.DailyTime
	}
	if !validTimezone(d.Timezone) {
		d.Timezone = builtin.Timezone
	}
	return d
}

// DefaultSettings returns the canonical document written on first start
func DefaultSettings(d Defaults) entities.AutobuySettings {
	d = d.sanitized()
	return entities.AutobuySettings{
		Enabled:     false,
		Positions:   []entities.AutobuyPosition{},
		DailyTime:   d.DailyTime,
		Timezone:    d.Timezone,
		LastRunDate: nil,
		LastResults: []entities.AutobuyPositionResult{},
	}
}

// Normalize turns an arbitrary decoded JSON object into a fully populated document.
// Unknown keys are ignored. The function is pure: Normalize of an already normalized
// document returns the same document.
func Normalize(raw map[string]any, d Defaults) entities.AutobuySettings {
	out := DefaultSettings(d)
	if raw == nil {
		return out
	}

	if v, ok := raw["enabled"].(bool); ok {
		out.Enabled = v
	}

	positions := parsePositions(raw["positions"])
	if positionsAbsent(raw["positions"]) {
		positions = legacyPosition(raw)
	}
	out.Positions = dedupePositions(positions)

	if s, ok := raw["daily_time"].(string); ok {
		if clock, ok := parseClock(s); ok {
			out.DailyTime = clock
		}
	}

	if s, ok := raw["timezone"].(string); ok && validTimezone(s) {
		out.Timezone = s
	}

	if s, ok := raw["last_run_date"].(string); ok {
		if _, err := time.Parse(entities.AutobuyDateLayout, s); err == nil {
			date := s
			out.LastRunDate = &date
		}
	}

	out.LastResults = parseResults(raw["last_results"])
	return out
}

// NormalizeSettings applies the same rules to an already typed document
func NormalizeSettings(s entities.AutobuySettings, d Defaults) entities.AutobuySettings {
	out := DefaultSettings(d)
	out.Enabled = s.Enabled

	positions := make([]entities.AutobuyPosition, 0, len(s.Positions))
	for _, p := range s.Positions {
		if pos, ok := cleanPosition(p.Ticker, p.Qty); ok {
			positions = append(positions, pos)
		}
	}
	out.Positions = dedupePositions(positions)

	if clock, ok := parseClock(s.DailyTime); ok {
		out.DailyTime = clock
	}
	if validTimezone(s.Timezone) {
		out.Timezone = s.Timezone
	}
	if s.LastRunDate != nil {
		if _, err := time.Parse(entities.AutobuyDateLayout, *s.LastRunDate); err == nil {
			date := *s.LastRunDate
			out.LastRunDate = &date
		}
	}
	for _, res := range s.LastResults {
		if res.Ticker != "" {
			out.LastResults = append(out.LastResults, res)
		}
	}
	return out
}

func parsePositions(v any) []entities.AutobuyPosition {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	positions := make([]entities.AutobuyPosition, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		ticker, _ := m["ticker"].(string)
		qty, ok := parseQty(firstPresent(m, "qty", "quantity"))
		if !ok {
			continue
		}
		if pos, ok := cleanPosition(ticker, qty); ok {
			positions = append(positions, pos)
		}
	}
	return positions
}

// legacyPosition migrates the old single-instrument shape {"ticker": "...", "qty": N}
func legacyPosition(raw map[string]any) []entities.AutobuyPosition {
	ticker, _ := raw["ticker"].(string)
	if ticker == "" {
		return nil
	}
	qty, ok := parseQty(firstPresent(raw, "qty", "quantity"))
	if !ok {
		return nil
	}
	if pos, ok := cleanPosition(ticker, qty); ok {
		return []entities.AutobuyPosition{pos}
	}
	return nil
}

func firstPresent(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func cleanPosition(ticker string, qty int64) (entities.AutobuyPosition, bool) {
	ticker = NormalizeTicker(ticker)
	if ticker == "" || qty <= 0 {
		return entities.AutobuyPosition{}, false
	}
	return entities.AutobuyPosition{Ticker: ticker, Qty: qty}, true
}

// NormalizeTicker trims and upper-cases a ticker symbol
func NormalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

// dedupePositions keeps the first position of each ticker in place with the last quantity seen
func dedupePositions(positions []entities.AutobuyPosition) []entities.AutobuyPosition {
	index := make(map[string]int, len(positions))
	out := make([]entities.AutobuyPosition, 0, len(positions))
	for _, p := range positions {
		if i, ok := index[p.Ticker]; ok {
			out[i].Qty = p.Qty
			continue
		}
		index[p.Ticker] = len(out)
		out = append(out, p)
	}
	return out
}

// positionsAbsent reports whether the stored document has no positions list to honor.
// A list whose entries are all invalid still counts as present.
func positionsAbsent(v any) bool {
	items, ok := v.([]any)
	return !ok || len(items) == 0
}

func parseQty(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) || n >= 1<<63 || n < -(1<<63) {
			return 0, false
		}
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

func parseResults(v any) []entities.AutobuyPositionResult {
	results := []entities.AutobuyPositionResult{}
	items, ok := v.([]any)
	if !ok {
		return results
	}
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		ticker, _ := m["ticker"].(string)
		if ticker == "" {
			continue
		}
		qty, _ := parseQty(m["qty"])
		res := entities.AutobuyPositionResult{Ticker: ticker, Qty: qty}
		res.OK, _ = m["ok"].(bool)
		res.OrderID, _ = m["order_id"].(string)
		res.Status, _ = m["status"].(string)
		res.Error, _ = m["error"].(string)
		results = append(results, res)
	}
	return results
}

// parseClock accepts H:MM or HH:MM on a 24h clock and returns it zero padded
func parseClock(s string) (string, bool) {
	h, m, ok := splitClock(s)
	if !ok {
		return "", false
	}
	return formatClock(h, m), true
}

func splitClock(s string) (int, int, bool) {
	hh, mm, found := strings.Cut(strings.TrimSpace(s), ":")
	if !found || !isDigits(hh, 1, 2) || !isDigits(mm, 1, 2) {
		return 0, 0, false
	}
	h, _ := strconv.Atoi(hh)
	m, _ := strconv.Atoi(mm)
	if h > 23 || m > 59 {
		return 0, 0, false
	}
	return h, m, true
}

func formatClock(h, m int) string {
	return fmt.Sprintf("%02d:%02d", h, m)
}

func isDigits(s string, minLen, maxLen int) bool {
	if len(s) < minLen || len(s) > maxLen {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// validTimezone reports whether name resolves in the tz database.
// "Local" and the empty string are rejected since they depend on the host.
func validTimezone(name string) bool {
	if name == "" || name == "Local" || strings.TrimSpace(name) != name {
		return false
	}
	_, err := time.LoadLocation(name)
	return err == nil
}
