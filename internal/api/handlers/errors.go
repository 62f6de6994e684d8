package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	domainerrors "github.com/rail-service/invest_bot/internal/domain/errors"
)

// Error codes for JSON error responses
const (
	ErrCodeValidationError    = "VALIDATION_ERROR"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeInternalError      = "INTERNAL_ERROR"
)

// ErrorResponse is the JSON body of every error reply
type ErrorResponse struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func respondError(c *gin.Context, status int, code, message string, details map[string]interface{}) {
	c.JSON(status, ErrorResponse{
		Code:    code,
		Message: message,
		Details: details,
	})
}

// respondDomainError maps a domain error category to an HTTP status
func respondDomainError(c *gin.Context, err error) {
	message := domainerrors.UserMessage(err)
	switch {
	case domainerrors.IsInvalidInput(err):
		respondError(c, http.StatusBadRequest, ErrCodeValidationError, message, nil)
	case domainerrors.IsNotFound(err):
		respondError(c, http.StatusNotFound, ErrCodeNotFound, message, nil)
	case domainerrors.IsUnauthorized(err):
		respondError(c, http.StatusUnauthorized, ErrCodeUnauthorized, message, nil)
	case domainerrors.IsServiceUnavailable(err):
		respondError(c, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, message, nil)
	default:
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, message, nil)
	}
}
