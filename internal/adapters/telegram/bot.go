// Package telegram is the bot transport: long polling for commands and a
// rate-limited send path shared by replies and notifications.
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rail-service/invest_bot/pkg/security"
)

const (
	// MaxMessageLength is Telegram's limit for one text message
	MaxMessageLength = 4096

	defaultPollTimeout   = 30
	defaultSendPerSecond = 20
)

// Config configures the bot transport
type Config struct {
	Token         string
	APIEndpoint   string // defaults to tgbotapi.APIEndpoint
	PollTimeout   int    // long-poll seconds
	SendPerSecond float64
	Debug         bool
	HTTPClient    *http.Client
}

// Command is a parsed slash command from an incoming message
type Command struct {
	ChatID   int64
	UserName string
	Name     string
	Args     []string
}

// CommandHandler produces the reply text for a command. An empty reply sends nothing.
type CommandHandler func(ctx context.Context, cmd Command) string

// Bot wraps the Telegram Bot API client
type Bot struct {
	api     *tgbotapi.BotAPI
	limiter *rate.Limiter
	config  Config
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewBot authenticates with the Bot API (getMe) and returns the transport
func NewBot(config Config, logger *zap.Logger) (*Bot, error) {
	if config.Token == "" {
		return nil, fmt.Errorf("telegram: bot token is required")
	}
	if config.APIEndpoint == "" {
		config.APIEndpoint = tgbotapi.APIEndpoint
	}
	if config.PollTimeout <= 0 {
		config.PollTimeout = defaultPollTimeout
	}
	if config.SendPerSecond <= 0 {
		config.SendPerSecond = defaultSendPerSecond
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: time.Duration(config.PollTimeout+10) * time.Second}
	}

	if err := tgbotapi.SetLogger(botLogger{sugar: logger.Named("telegram").Sugar()}); err != nil {
		logger.Warn("Failed to set telegram logger", zap.Error(err))
	}

	api, err := tgbotapi.NewBotAPIWithClient(config.Token, config.APIEndpoint, httpClient)
	if err != nil {
		return nil, fmt.Errorf("telegram: authorize bot: %w", security.RedactError(err))
	}
	api.Debug = config.Debug

	burst := int(config.SendPerSecond)
	if burst < 1 {
		burst = 1
	}

	logger.Info("Telegram bot authorized", zap.String("username", api.Self.UserName))
	return &Bot{
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(config.SendPerSecond), burst),
		config:  config,
		logger:  logger,
	}, nil
}

// UserName returns the bot's @username
func (b *Bot) UserName() string {
	return b.api.Self.UserName
}

// Send delivers text to a chat, splitting it when it exceeds the message limit
func (b *Bot) Send(ctx context.Context, chatID int64, text string) error {
	for _, chunk := range SplitMessage(text, MaxMessageLength) {
		if err := b.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("telegram: rate limit wait: %w", err)
		}
		msg := tgbotapi.NewMessage(chatID, chunk)
		msg.DisableWebPagePreview = true
		if _, err := b.api.Send(msg); err != nil {
			return fmt.Errorf("telegram: send message: %w", security.RedactError(err))
		}
	}
	return nil
}

// Run polls for updates and dispatches commands until ctx is cancelled, then
// waits for in-flight handlers to finish
func (b *Bot) Run(ctx context.Context, handler CommandHandler) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.config.PollTimeout
	u.AllowedUpdates = []string{"message"}
	updates := b.api.GetUpdatesChan(u)

	b.logger.Info("Telegram polling started", zap.Int("poll_timeout", b.config.PollTimeout))
	defer func() {
		b.api.StopReceivingUpdates()
		b.wg.Wait()
		b.logger.Info("Telegram polling stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			cmd, ok := CommandFromUpdate(update)
			if !ok {
				continue
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.dispatch(ctx, handler, cmd)
			}()
		}
	}
}

func (b *Bot) dispatch(ctx context.Context, handler CommandHandler, cmd Command) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Command handler panicked",
				zap.String("command", cmd.Name),
				zap.Any("panic", r))
		}
	}()

	reply := handler(ctx, cmd)
	if reply == "" {
		return
	}
	// replies still go out while shutting down
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := b.Send(sendCtx, cmd.ChatID, reply); err != nil {
		b.logger.Error("Failed to send reply",
			zap.String("command", cmd.Name),
			zap.Int64("chat_id", cmd.ChatID),
			zap.Error(err))
	}
}

// CommandFromUpdate extracts a command from a message update
func CommandFromUpdate(update tgbotapi.Update) (Command, bool) {
	msg := update.Message
	if msg == nil || msg.Chat == nil || !msg.IsCommand() {
		return Command{}, false
	}

	cmd := Command{
		ChatID: msg.Chat.ID,
		Name:   strings.ToLower(msg.Command()),
		Args:   strings.Fields(msg.CommandArguments()),
	}
	if msg.From != nil {
		cmd.UserName = msg.From.UserName
	}
	return cmd, true
}

// SplitMessage breaks text into chunks of at most limit UTF-16 code units,
// which is how Telegram measures message length, preferring line boundaries
func SplitMessage(text string, limit int) []string {
	if utf16Len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder
	currentLen := 0

	flush := func() {
		if currentLen > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
			currentLen = 0
		}
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		lineLen := utf16Len(line)
		if currentLen+lineLen <= limit {
			current.WriteString(line)
			currentLen += lineLen
			continue
		}
		flush()
		for _, r := range line {
			n := utf16.RuneLen(r)
			if n < 0 {
				n = 1
			}
			if currentLen+n > limit {
				flush()
			}
			current.WriteRune(r)
			currentLen += n
		}
	}
	flush()
	return chunks
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		if l := utf16.RuneLen(r); l > 0 {
			n += l
		} else {
			n++
		}
	}
	return n
}

// botLogger routes the library's logging to zap. The library prints request
// URLs, which carry the bot token.
type botLogger struct {
	sugar *zap.SugaredLogger
}

func (l botLogger) Println(v ...interface{}) {
	l.sugar.Debug(security.MaskString(strings.TrimSpace(fmt.Sprintln(v...))))
}

func (l botLogger) Printf(format string, v ...interface{}) {
	l.sugar.Debug(security.MaskString(fmt.Sprintf(format, v...)))
}
