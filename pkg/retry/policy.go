package retry

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMaxRetriesExceeded is returned (joined with the last failure) once every attempt failed
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")

	// ErrInvalidPolicy is returned by Validate for unusable policies
	ErrInvalidPolicy = errors.New("invalid retry policy")
)

// Policy describes how many times an operation is attempted and how long to wait in between
type Policy struct {
	// MaxAttempts is the total number of attempts including the first one
	MaxAttempts int
	// DelayMin is the wait after the first failure; it doubles per failure
	DelayMin time.Duration
	// DelayMax caps the wait
	DelayMax time.Duration
	// RetryableFunc decides whether an error is worth another attempt. Nil retries everything.
	RetryableFunc func(error) bool
}

// DefaultPolicy is used by the market data fetchers
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		DelayMin:    1 * time.Second,
		DelayMax:    8 * time.Second,
	}
}

// Validate checks the policy for obviously broken values
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be at least 1, got %d", ErrInvalidPolicy, p.MaxAttempts)
	}
	if p.DelayMin < 0 || p.DelayMax < 0 {
		return fmt.Errorf("%w: delays must not be negative", ErrInvalidPolicy)
	}
	if p.DelayMax < p.DelayMin {
		return fmt.Errorf("%w: delay max %s is below delay min %s", ErrInvalidPolicy, p.DelayMax, p.DelayMin)
	}
	return nil
}
