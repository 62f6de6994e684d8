package autobuy

import (
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	domainerrors "github.com/rail-service/invest_bot/internal/domain/errors"
	"github.com/rail-service/invest_bot/internal/domain/entities"
)

const maxTickerLength = 12

var validate = newValidator()

// PositionInput is a position as typed by the user
type PositionInput struct {
	Ticker string `validate:"required,max=12,ticker"`
	Qty    int64  `validate:"gt=0"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("ticker", func(fl validator.FieldLevel) bool {
		return isTicker(fl.Field().String())
	})
	return v
}

// isTicker allows letters, digits, dots, dashes and underscores
func isTicker(s string) bool {
	if s == "" || len(s) > maxTickerLength {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// ParsePosition validates a ticker and quantity typed into a command
func ParsePosition(ticker, qty string) (entities.AutobuyPosition, error) {
	ticker = NormalizeTicker(ticker)
	if ticker == "" {
		return entities.AutobuyPosition{}, domainerrors.ValidationError("ticker", "ticker is required")
	}

	n, err := strconv.ParseInt(strings.TrimSpace(qty), 10, 64)
	if err != nil {
		return entities.AutobuyPosition{}, domainerrors.ValidationError("qty", "quantity must be a whole number")
	}

	in := PositionInput{Ticker: ticker, Qty: n}
	if err := validate.Struct(in); err != nil {
		return entities.AutobuyPosition{}, positionValidationError(err)
	}
	return entities.AutobuyPosition{Ticker: in.Ticker, Qty: in.Qty}, nil
}

func positionValidationError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return domainerrors.ValidationError("position", "invalid position")
	}
	switch verrs[0].Field() {
	case "Qty":
		return domainerrors.ValidationError("qty", "quantity must be greater than zero")
	default:
		return domainerrors.ValidationError("ticker", "ticker must be 1-12 letters, digits, dots or dashes")
	}
}

// ParseDailyTime validates a HH:MM string and returns it zero padded
func ParseDailyTime(s string) (string, error) {
	clock, ok := parseClock(s)
	if !ok {
		return "", domainerrors.ValidationError("daily_time", "time must be HH:MM in 24h format, e.g. 09:30")
	}
	return clock, nil
}

// ValidateTimezone checks an IANA timezone name against the tz database
func ValidateTimezone(name string) (string, error) {
	name = strings.TrimSpace(name)
	if !validTimezone(name) {
		return "", domainerrors.ValidationError("timezone", "unknown timezone, use an IANA name such as Europe/Moscow")
	}
	return name, nil
}
