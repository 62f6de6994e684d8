package tinvest

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/rail-service/invest_bot/internal/domain/entities"
)

var validate = validator.New()

// ValidateOrderRequest validates an order request before submission
func ValidateOrderRequest(req entities.BrokerOrderRequest) error {
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid order request: %s failed %q", verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid order request: %w", err)
	}
	return nil
}
