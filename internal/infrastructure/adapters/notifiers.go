package adapters

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Notifier delivers a one-off text message to the operator
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// MessageSender sends text to a Telegram chat
type MessageSender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// TelegramNotifier sends notifications to a fixed chat
type TelegramNotifier struct {
	sender MessageSender
	chatID int64
}

func NewTelegramNotifier(sender MessageSender, chatID int64) *TelegramNotifier {
	return &TelegramNotifier{sender: sender, chatID: chatID}
}

func (n *TelegramNotifier) Notify(ctx context.Context, text string) error {
	if n.chatID == 0 {
		return fmt.Errorf("telegram notifier: no chat configured")
	}
	return n.sender.Send(ctx, n.chatID, text)
}

// MultiNotifier fans a message out to every sink. One failing sink does not
// stop the others; all failures are returned joined.
type MultiNotifier struct {
	sinks  []Notifier
	logger *zap.Logger
}

func NewMultiNotifier(logger *zap.Logger, sinks ...Notifier) *MultiNotifier {
	kept := make([]Notifier, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &MultiNotifier{sinks: kept, logger: logger}
}

func (m *MultiNotifier) Notify(ctx context.Context, text string) error {
	var errs []error
	for i, sink := range m.sinks {
		if err := sink.Notify(ctx, text); err != nil {
			m.logger.Warn("Notification sink failed", zap.Int("sink", i), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
