package security

import (
	"regexp"
	"strings"
)

const redacted = "***REDACTED***"

var (
	// Patterns for credentials that end up inside error strings and URLs
	botTokenPattern      = regexp.MustCompile(`[0-9]{6,12}:[A-Za-z0-9_-]{30,}`)
	brokerTokenPattern   = regexp.MustCompile(`\bt\.[A-Za-z0-9_-]{40,}`)
	sendgridKeyPattern   = regexp.MustCompile(`\bSG\.[A-Za-z0-9_-]{16,}\.[A-Za-z0-9_-]{16,}`)
	bearerPattern        = regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9._~+/=-]{8,}`)
	apiKeyPattern        = regexp.MustCompile(`(?i)(api[_-]?key|apikey|secret|token|password)(["\s:=]+["']?)([A-Za-z0-9._-]{16,})`)
	redisPasswordPattern = regexp.MustCompile(`(redis[s]?://[^:/@\s]*:)[^@\s]+@`)
)

// MaskString masks credentials in a string
func MaskString(s string) string {
	s = botTokenPattern.ReplaceAllString(s, redacted)
	s = brokerTokenPattern.ReplaceAllString(s, redacted)
	s = sendgridKeyPattern.ReplaceAllString(s, redacted)
	s = bearerPattern.ReplaceAllString(s, "${1}"+redacted)
	s = apiKeyPattern.ReplaceAllString(s, "${1}${2}"+redacted)
	s = redisPasswordPattern.ReplaceAllString(s, "${1}"+redacted+"@")
	return s
}

// MaskAPIKey masks an API key showing only first 4 chars
func MaskAPIKey(key string) string {
	if len(key) < 4 {
		return "****"
	}
	return key[:4] + strings.Repeat("*", len(key)-4)
}

// redactedError keeps the error chain but masks its text
type redactedError struct {
	err error
}

func (e *redactedError) Error() string { return MaskString(e.err.Error()) }

func (e *redactedError) Unwrap() error { return e.err }

// RedactError wraps err so that Error() never prints credentials.
// errors.Is and errors.As still see the original chain.
func RedactError(err error) error {
	if err == nil {
		return nil
	}
	return &redactedError{err: err}
}
