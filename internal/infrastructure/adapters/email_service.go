package adapters

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

const defaultSubject = "Invest bot notification"

// EmailServiceConfig holds email service configuration
type EmailServiceConfig struct {
	Provider  string
	APIKey    string
	FromEmail string
	FromName  string
	To        string
}

// mailSender is the part of the SendGrid client the service uses
type mailSender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// EmailService sends notification copies by email through SendGrid
type EmailService struct {
	logger *zap.Logger
	config EmailServiceConfig
	client mailSender
}

// NewEmailService creates a new email service
func NewEmailService(logger *zap.Logger, config EmailServiceConfig) (*EmailService, error) {
	provider := strings.ToLower(strings.TrimSpace(config.Provider))
	if provider != "sendgrid" {
		return nil, fmt.Errorf("unsupported email provider: %q", config.Provider)
	}
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, fmt.Errorf("sendgrid api key is required")
	}
	if strings.TrimSpace(config.FromEmail) == "" {
		return nil, fmt.Errorf("email from address is required")
	}
	if strings.TrimSpace(config.To) == "" {
		return nil, fmt.Errorf("email recipient is required")
	}

	return &EmailService{
		logger: logger,
		config: config,
		client: sendgrid.NewSendClient(config.APIKey),
	}, nil
}

// Notify implements the autobuy notifier by mailing the text to the configured recipient
func (e *EmailService) Notify(ctx context.Context, text string) error {
	subject := subjectFor(text)
	htmlContent := "<pre style=\"font-family: monospace\">" + html.EscapeString(text) + "</pre>"
	return e.sendEmail(ctx, e.config.To, subject, htmlContent, text)
}

func (e *EmailService) sendEmail(ctx context.Context, to, subject, htmlContent, textContent string) error {
	ctxWithTimeout, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	from := mail.NewEmail(e.config.FromName, e.config.FromEmail)
	toEmail := mail.NewEmail("", to)
	message := mail.NewSingleEmail(from, subject, toEmail, textContent, htmlContent)

	response, err := e.client.SendWithContext(ctxWithTimeout, message)
	if err != nil {
		e.logger.Error("Failed to send email",
			zap.String("provider", "sendgrid"),
			zap.String("to", to),
			zap.String("subject", subject),
			zap.Error(err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	if response.StatusCode >= 400 {
		e.logger.Error("Email service returned error",
			zap.String("provider", "sendgrid"),
			zap.String("to", to),
			zap.Int("status_code", response.StatusCode),
			zap.String("response_body", response.Body))
		return fmt.Errorf("email service error: status %d, body: %s", response.StatusCode, response.Body)
	}

	e.logger.Info("Email sent successfully",
		zap.String("provider", "sendgrid"),
		zap.String("to", to),
		zap.String("subject", subject),
		zap.Int("status_code", response.StatusCode))
	return nil
}

// subjectFor uses the first line of the message, which carries the run date and counts
func subjectFor(text string) string {
	first, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	first = strings.TrimSpace(first)
	if first == "" {
		return defaultSubject
	}
	if len([]rune(first)) > 120 {
		first = string([]rune(first)[:120])
	}
	return first
}
