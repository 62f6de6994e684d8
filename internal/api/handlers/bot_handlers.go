package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rail-service/invest_bot/internal/adapters/telegram"
	"github.com/rail-service/invest_bot/internal/domain/entities"
	domainerrors "github.com/rail-service/invest_bot/internal/domain/errors"
	"github.com/rail-service/invest_bot/internal/domain/services/autobuy"
	"github.com/rail-service/invest_bot/pkg/metrics"
)

// AutobuyService is the command surface of the autobuy feature
type AutobuyService interface {
	Enable(ctx context.Context) (entities.AutobuySettings, error)
	Disable(ctx context.Context) (entities.AutobuySettings, error)
	AddPosition(ctx context.Context, ticker, qty string) (entities.AutobuySettings, error)
	RemovePosition(ctx context.Context, ticker string) (entities.AutobuySettings, error)
	ListPositions(ctx context.Context) ([]entities.AutobuyPosition, error)
	SetDailyTime(ctx context.Context, value string) (entities.AutobuySettings, error)
	SetTimezone(ctx context.Context, value string) (entities.AutobuySettings, error)
	Status(ctx context.Context) (autobuy.Status, error)
	RunNow(ctx context.Context, force bool) (entities.AutobuyRunReport, error)
}

// MarketService serves quote boards
type MarketService interface {
	Board(ctx context.Context, kind entities.QuoteKind, symbols []string) (entities.QuoteBoard, error)
}

// PortfolioService serves the broker portfolio
type PortfolioService interface {
	Snapshot(ctx context.Context) (*entities.PortfolioSnapshot, error)
}

type commandFunc func(ctx context.Context, args []string) (string, error)

type command struct {
	usage string
	help  string
	run   commandFunc
}

// BotHandlers dispatches Telegram commands to the services
type BotHandlers struct {
	autobuy      AutobuyService
	market       MarketService
	portfolio    PortfolioService
	allowedChats map[int64]struct{}
	timeout      time.Duration
	logger       *zap.Logger
	commands     map[string]command
	order        []string
}

// NewBotHandlers creates the command dispatcher. Commands from chats outside
// allowedChats are ignored.
func NewBotHandlers(
	autobuyService AutobuyService,
	marketService MarketService,
	portfolioService PortfolioService,
	allowedChats []int64,
	logger *zap.Logger,
) *BotHandlers {
	h := &BotHandlers{
		autobuy:      autobuyService,
		market:       marketService,
		portfolio:    portfolioService,
		allowedChats: make(map[int64]struct{}, len(allowedChats)),
		timeout:      2 * time.Minute,
		logger:       logger,
	}
	for _, id := range allowedChats {
		h.allowedChats[id] = struct{}{}
	}
	h.register()
	return h
}

func (h *BotHandlers) register() {
	h.commands = make(map[string]command)
	add := func(name, usage, help string, run commandFunc) {
		h.commands[name] = command{usage: usage, help: help, run: run}
		h.order = append(h.order, name)
	}

	add("autobuy_on", "", "enable the daily autobuy", h.enable)
	add("autobuy_off", "", "disable the daily autobuy", h.disable)
	add("autobuy_add", "TICKER QTY", "add or update a position", h.addPosition)
	add("autobuy_remove", "TICKER", "remove a position", h.removePosition)
	add("autobuy_list", "", "list positions", h.listPositions)
	add("autobuy_time", "HH:MM", "set the daily run time", h.setTime)
	add("autobuy_tz", "Area/City", "set the timezone", h.setTimezone)
	add("autobuy_status", "", "show settings, schedule and last results", h.status)
	add("autobuy_run", "[force]", "run autobuy now", h.runNow)
	add("portfolio", "", "show the broker portfolio", h.showPortfolio)
	add("rates", "[CODE...]", "currency rates in RUB", h.board(entities.QuoteKindCurrency))
	add("crypto", "[id...]", "crypto prices in USD", h.board(entities.QuoteKindCrypto))
	add("stocks", "[TICKER...]", "MOEX share prices", h.board(entities.QuoteKindEquity))
	add("indices", "", "MOEX indices", h.board(entities.QuoteKindIndex))
	add("commodities", "", "commodity futures", h.board(entities.QuoteKindCommodity))
	add("help", "", "this message", h.help)
	h.commands["start"] = h.commands["help"]
}

// Handle is the telegram.CommandHandler for the bot
func (h *BotHandlers) Handle(ctx context.Context, cmd telegram.Command) string {
	if _, ok := h.allowedChats[cmd.ChatID]; !ok {
		metrics.BotCommandsTotal.WithLabelValues(cmd.Name, "forbidden").Inc()
		h.logger.Warn("Command from unauthorized chat",
			zap.Int64("chat_id", cmd.ChatID),
			zap.String("user", cmd.UserName),
			zap.String("command", cmd.Name))
		return ""
	}

	c, ok := h.commands[cmd.Name]
	if !ok {
		metrics.BotCommandsTotal.WithLabelValues("unknown", "rejected").Inc()
		return fmt.Sprintf("Unknown command /%s. Send /help for the list.", cmd.Name)
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	reply, err := c.run(ctx, cmd.Args)
	if err != nil {
		metrics.BotCommandsTotal.WithLabelValues(cmd.Name, "error").Inc()
		h.logger.Warn("Command failed",
			zap.String("command", cmd.Name),
			zap.Strings("args", cmd.Args),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("code", domainerrors.GetErrorCode(err)),
			zap.Error(err))
		return replyForError(err)
	}

	metrics.BotCommandsTotal.WithLabelValues(cmd.Name, "ok").Inc()
	h.logger.Info("Command handled",
		zap.String("command", cmd.Name),
		zap.Int64("chat_id", cmd.ChatID),
		zap.Duration("elapsed", time.Since(start)))
	return reply
}

// replyForError maps domain categories to what the user sees
func replyForError(err error) string {
	switch {
	case domainerrors.IsInvalidInput(err), domainerrors.IsNotFound(err):
		return "⚠️ " + domainerrors.UserMessage(err)
	case domainerrors.IsUnauthorized(err):
		return "🔒 " + domainerrors.UserMessage(err)
	case domainerrors.IsServiceUnavailable(err):
		return "⏳ " + domainerrors.UserMessage(err) + ", try again later"
	default:
		return "❌ Command failed: " + domainerrors.UserMessage(err)
	}
}

func usageError(name, usage string) error {
	return domainerrors.ValidationError("args", fmt.Sprintf("usage: /%s %s", name, usage))
}

func (h *BotHandlers) enable(ctx context.Context, _ []string) (string, error) {
	doc, err := h.autobuy.Enable(ctx)
	if err != nil {
		return "", err
	}
	reply := "Autobuy enabled. " + scheduleLine(doc)
	if !doc.HasPositions() {
		reply += "\nNo positions yet, add one with /autobuy_add TICKER QTY."
	}
	return reply, nil
}

func (h *BotHandlers) disable(ctx context.Context, _ []string) (string, error) {
	if _, err := h.autobuy.Disable(ctx); err != nil {
		return "", err
	}
	return "Autobuy disabled.", nil
}

func (h *BotHandlers) addPosition(ctx context.Context, args []string) (string, error) {
	if len(args) != 2 {
		return "", usageError("autobuy_add", "TICKER QTY")
	}
	doc, err := h.autobuy.AddPosition(ctx, args[0], args[1])
	if err != nil {
		return "", err
	}
	return "Saved.\n" + formatPositions(doc.Positions), nil
}

func (h *BotHandlers) removePosition(ctx context.Context, args []string) (string, error) {
	if len(args) != 1 {
		return "", usageError("autobuy_remove", "TICKER")
	}
	doc, err := h.autobuy.RemovePosition(ctx, args[0])
	if err != nil {
		return "", err
	}
	return "Removed.\n" + formatPositions(doc.Positions), nil
}

func (h *BotHandlers) listPositions(ctx context.Context, _ []string) (string, error) {
	positions, err := h.autobuy.ListPositions(ctx)
	if err != nil {
		return "", err
	}
	return formatPositions(positions), nil
}

func (h *BotHandlers) setTime(ctx context.Context, args []string) (string, error) {
	if len(args) != 1 {
		return "", usageError("autobuy_time", "HH:MM")
	}
	doc, err := h.autobuy.SetDailyTime(ctx, args[0])
	if err != nil {
		return "", err
	}
	return "Daily time updated. " + scheduleLine(doc), nil
}

func (h *BotHandlers) setTimezone(ctx context.Context, args []string) (string, error) {
	if len(args) != 1 {
		return "", usageError("autobuy_tz", "Area/City")
	}
	doc, err := h.autobuy.SetTimezone(ctx, args[0])
	if err != nil {
		return "", err
	}
	return "Timezone updated. " + scheduleLine(doc), nil
}

func (h *BotHandlers) status(ctx context.Context, _ []string) (string, error) {
	status, err := h.autobuy.Status(ctx)
	if err != nil {
		return "", err
	}
	return formatStatus(status), nil
}

func (h *BotHandlers) runNow(ctx context.Context, args []string) (string, error) {
	force := false
	switch {
	case len(args) == 0:
	case len(args) == 1 && strings.EqualFold(args[0], "force"):
		force = true
	default:
		return "", usageError("autobuy_run", "[force]")
	}

	report, err := h.autobuy.RunNow(ctx, force)
	if err != nil {
		return "", err
	}
	if report.Skipped {
		reply := fmt.Sprintf("Autobuy %s skipped: %s.", report.Date, report.SkipReason)
		if report.SkipReason == autobuy.SkipAlreadyRan {
			reply += " Use /autobuy_run force to run again."
		}
		return reply, nil
	}
	return fmt.Sprintf("Autobuy %s finished: %d ok, %d failed.", report.Date, report.Succeeded(), report.Failed()), nil
}

func (h *BotHandlers) showPortfolio(ctx context.Context, _ []string) (string, error) {
	snapshot, err := h.portfolio.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	return formatPortfolio(snapshot), nil
}

func (h *BotHandlers) board(kind entities.QuoteKind) commandFunc {
	return func(ctx context.Context, args []string) (string, error) {
		board, err := h.market.Board(ctx, kind, args)
		if err != nil {
			return "", err
		}
		return formatBoard(board), nil
	}
}

func (h *BotHandlers) help(_ context.Context, _ []string) (string, error) {
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, name := range h.order {
		c := h.commands[name]
		b.WriteString("/" + name)
		if c.usage != "" {
			b.WriteString(" " + c.usage)
		}
		b.WriteString(" - " + c.help + "\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
