package autobuy

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/rail-service/invest_bot/internal/domain/errors"
	"github.com/rail-service/invest_bot/internal/domain/entities"
)

func decodeRaw(t *testing.T, doc string) map[string]any {
	t.Helper()
	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(doc), &raw))
	return raw
}

func roundTrip(t *testing.T, s entities.AutobuySettings) map[string]any {
	t.Helper()
	data, err := json.Marshal(s)
	require.NoError(t, err)
	return decodeRaw(t, string(data))
}

func TestNormalize(t *testing.T) {
	d := DefaultDefaults()

	t.Run("empty input yields defaults with every key", func(t *testing.T) {
		s := Normalize(nil, d)
		assert.False(t, s.Enabled)
		assert.Equal(t, "10:00", s.DailyTime)
		assert.Equal(t, "Europe/Moscow", s.Timezone)
		assert.Nil(t, s.LastRunDate)
		assert.NotNil(t, s.Positions)
		assert.NotNil(t, s.LastResults)

		raw := roundTrip(t, s)
		for _, key := range []string{"enabled", "positions", "daily_time", "timezone", "last_run_date", "last_results"} {
			assert.Contains(t, raw, key)
		}
	})

	t.Run("is idempotent", func(t *testing.T) {
		inputs := []string{
			`{}`,
			`{"enabled": true, "positions": [{"ticker": " sber ", "qty": 2}, {"ticker": "gazp", "qty": 1}, {"ticker": "SBER", "qty": 5}]}`,
			`{"ticker": "yndx", "quantity": 3, "daily_time": "7:5", "timezone": "Asia/Tokyo"}`,
			`{"daily_time": "25:00", "timezone": "Mars/Olympus", "last_run_date": "yesterday"}`,
			`{"positions": [{"ticker": "", "qty": 1}, {"ticker": "LKOH", "qty": 0}, {"ticker": "MTSS", "qty": -1}], "last_run_date": "2024-05-01",
			  "last_results": [{"ticker": "SBER", "qty": 1, "ok": true, "order_id": "abc"}]}`,
		}
		for _, in := range inputs {
			once := Normalize(decodeRaw(t, in), d)
			twice := Normalize(roundTrip(t, once), d)
			assert.Equal(t, once, twice, in)
			assert.Equal(t, once, NormalizeSettings(once, d), in)
		}
	})

	t.Run("dedupes tickers keeping the last quantity", func(t *testing.T) {
		s := Normalize(decodeRaw(t, `{"positions": [
			{"ticker": "SBER", "qty": 1},
			{"ticker": "GAZP", "qty": 2},
			{"ticker": "sber", "qty": 7}
		]}`), d)

		assert.Equal(t, []entities.AutobuyPosition{
			{Ticker: "SBER", Qty: 7},
			{Ticker: "GAZP", Qty: 2},
		}, s.Positions)
	})

	t.Run("drops invalid positions", func(t *testing.T) {
		s := Normalize(decodeRaw(t, `{"positions": [
			{"ticker": "", "qty": 1},
			{"ticker": "LKOH", "qty": 0},
			{"ticker": "MTSS", "qty": 1.5},
			{"qty": 3},
			"garbage",
			{"ticker": "ROSN", "qty": "4"}
		]}`), d)

		assert.Equal(t, []entities.AutobuyPosition{{Ticker: "ROSN", Qty: 4}}, s.Positions)
	})

	t.Run("migrates the legacy single ticker shape", func(t *testing.T) {
		s := Normalize(decodeRaw(t, `{"ticker": "yndx", "qty": 3}`), d)
		assert.Equal(t, []entities.AutobuyPosition{{Ticker: "YNDX", Qty: 3}}, s.Positions)

		s = Normalize(decodeRaw(t, `{"ticker": "yndx", "quantity": 2, "positions": []}`), d)
		assert.Equal(t, []entities.AutobuyPosition{{Ticker: "YNDX", Qty: 2}}, s.Positions)
	})

	t.Run("ignores legacy shape when positions exist", func(t *testing.T) {
		s := Normalize(decodeRaw(t, `{"ticker": "YNDX", "qty": 3, "positions": [{"ticker": "SBER", "qty": 1}]}`), d)
		assert.Equal(t, []entities.AutobuyPosition{{Ticker: "SBER", Qty: 1}}, s.Positions)

		s = Normalize(decodeRaw(t, `{"ticker": "GAZP", "qty": 5, "positions": [{"ticker": "SBER", "qty": 0}]}`), d)
		assert.Empty(t, s.Positions, "a present list with only invalid entries is not replaced")

		s = Normalize(decodeRaw(t, `{"ticker": "GAZP", "qty": 5, "positions": null}`), d)
		assert.Equal(t, []entities.AutobuyPosition{{Ticker: "GAZP", Qty: 5}}, s.Positions)
	})

	t.Run("quantity out of int64 range", func(t *testing.T) {
		_, ok := parseQty(float64(1 << 63))
		assert.False(t, ok)
		_, ok = parseQty(float64(-(1 << 63)))
		assert.True(t, ok)
		qty, ok := parseQty(float64(1 << 62))
		assert.True(t, ok)
		assert.Equal(t, int64(1<<62), qty)
	})

	t.Run("daily time", func(t *testing.T) {
		cases := map[string]string{
			"25:00": "10:00",
			"12:60": "10:00",
			"abc":   "10:00",
			"":      "10:00",
			"1230":  "10:00",
			"-1:30": "10:00",
			"00:00": "00:00",
			"23:59": "23:59",
			"9:30":  "09:30",
			"7:5":   "07:05",
		}
		for in, want := range cases {
			s := Normalize(map[string]any{"daily_time": in}, d)
			assert.Equal(t, want, s.DailyTime, in)
		}
	})

	t.Run("timezone", func(t *testing.T) {
		assert.Equal(t, "Asia/Tokyo", Normalize(map[string]any{"timezone": "Asia/Tokyo"}, d).Timezone)
		assert.Equal(t, "UTC", Normalize(map[string]any{"timezone": "UTC"}, d).Timezone)
		assert.Equal(t, "Europe/Moscow", Normalize(map[string]any{"timezone": "Mars/Olympus"}, d).Timezone)
		assert.Equal(t, "Europe/Moscow", Normalize(map[string]any{"timezone": "Local"}, d).Timezone)
		assert.Equal(t, "Europe/Moscow", Normalize(map[string]any{"timezone": 42}, d).Timezone)
	})

	t.Run("last run date", func(t *testing.T) {
		s := Normalize(map[string]any{"last_run_date": "2024-05-01"}, d)
		require.NotNil(t, s.LastRunDate)
		assert.Equal(t, "2024-05-01", *s.LastRunDate)

		assert.Nil(t, Normalize(map[string]any{"last_run_date": "01.05.2024"}, d).LastRunDate)
	})

	t.Run("invalid defaults fall back to built-in values", func(t *testing.T) {
		s := Normalize(nil, Defaults{DailyTime: "99:99", Timezone: "Nowhere/Land"})
		assert.Equal(t, "10:00", s.DailyTime)
		assert.Equal(t, "Europe/Moscow", s.Timezone)
	})
}

func TestParsePosition(t *testing.T) {
	t.Run("accepts and normalizes", func(t *testing.T) {
		pos, err := ParsePosition(" sber ", "10")
		require.NoError(t, err)
		assert.Equal(t, entities.AutobuyPosition{Ticker: "SBER", Qty: 10}, pos)
	})

	t.Run("rejects bad input", func(t *testing.T) {
		cases := [][2]string{
			{"", "1"},
			{"SBER", "0"},
			{"SBER", "-3"},
			{"SBER", "1.5"},
			{"SBER", "ten"},
			{"SB ER", "1"},
			{"VERYLONGTICKER1", "1"},
		}
		for _, c := range cases {
			_, err := ParsePosition(c[0], c[1])
			assert.True(t, domainerrors.IsInvalidInput(err), "%v", c)
		}
	})
}

func TestParseDailyTime(t *testing.T) {
	for _, in := range []string{"25:00", "12:60", "abc"} {
		_, err := ParseDailyTime(in)
		assert.True(t, domainerrors.IsInvalidInput(err), in)
	}
	for in, want := range map[string]string{"00:00": "00:00", "23:59": "23:59", "8:00": "08:00"} {
		got, err := ParseDailyTime(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestValidateTimezone(t *testing.T) {
	tz, err := ValidateTimezone("America/New_York")
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", tz)

	_, err = ValidateTimezone("Nowhere/Land")
	assert.True(t, domainerrors.IsInvalidInput(err))
}
