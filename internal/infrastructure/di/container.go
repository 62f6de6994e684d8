package di

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rail-service/invest_bot/internal/adapters/marketdata"
	"github.com/rail-service/invest_bot/internal/adapters/telegram"
	"github.com/rail-service/invest_bot/internal/adapters/tinvest"
	"github.com/rail-service/invest_bot/internal/api/handlers"
	"github.com/rail-service/invest_bot/internal/domain/entities"
	"github.com/rail-service/invest_bot/internal/domain/services/autobuy"
	marketservice "github.com/rail-service/invest_bot/internal/domain/services/market"
	"github.com/rail-service/invest_bot/internal/infrastructure/adapters"
	"github.com/rail-service/invest_bot/internal/infrastructure/cache"
	"github.com/rail-service/invest_bot/internal/infrastructure/config"
	"github.com/rail-service/invest_bot/internal/infrastructure/settings"
	"github.com/rail-service/invest_bot/internal/workers/autobuy_worker"
	"github.com/rail-service/invest_bot/pkg/logger"
	"github.com/rail-service/invest_bot/pkg/retry"
)

// Container holds all application dependencies
type Container struct {
	Config *config.Config
	Logger *logger.Logger
	ZapLog *zap.Logger

	// Infrastructure
	SettingsStore *settings.Store
	TTLCache      *cache.TTLCache
	LastKnown     cache.LastKnownStore
	Broker        *tinvest.Client
	Bot           *telegram.Bot
	Notifier      autobuy.Notifier

	// Domain services
	MarketService    *marketservice.MarketDataService
	PortfolioService *marketservice.PortfolioService
	AutobuyRunner    *autobuy.Runner
	AutobuyService   *autobuy.Service
	AutobuyWorker    *autobuy_worker.Worker

	// Handlers
	BotHandlers     *handlers.BotHandlers
	CoreHandlers    *handlers.CoreHandlers
	AutobuyHandlers *handlers.AutobuyHandlers
}

// NewContainer creates a new dependency injection container. The bot
// authenticates against the Bot API here, so a bad token fails startup.
func NewContainer(cfg *config.Config, log *logger.Logger) (*Container, error) {
	c := &Container{
		Config: cfg,
		Logger: log,
		ZapLog: log.Zap(),
	}

	c.initializeInfrastructure()

	if err := c.initializeTransport(); err != nil {
		return nil, err
	}

	c.initializeDomainServices()
	c.initializeHandlers()

	return c, nil
}

func (c *Container) initializeInfrastructure() {
	cfg := c.Config

	c.SettingsStore = settings.NewStore(cfg.Autobuy.SettingsPath, autobuy.Defaults{
		DailyTime: cfg.Autobuy.DefaultDailyTime,
		Timezone:  cfg.Autobuy.DefaultTimezone,
	}, c.ZapLog.Named("settings"))

	c.TTLCache = cache.NewTTLCache(time.Now)
	c.LastKnown = newLastKnownStore(cfg.Redis, c.ZapLog)

	c.Broker = tinvest.NewClient(tinvest.Config{
		Token:     cfg.TInvest.Token,
		AccountID: cfg.TInvest.AccountID,
		BaseURL:   cfg.TInvest.BaseURL,
		AppName:   cfg.TInvest.AppName,
		Timeout:   time.Duration(cfg.TInvest.Timeout) * time.Second,
	}, c.ZapLog.Named("tinvest"))
	if !c.Broker.HasToken() {
		c.Logger.Warn("TINVEST_TOKEN is not set, portfolio and autobuy orders will fail until it is configured")
	}
}

// newLastKnownStore falls back to memory when Redis is disabled or unreachable
func newLastKnownStore(cfg config.RedisConfig, log *zap.Logger) cache.LastKnownStore {
	if !cfg.Enabled {
		log.Info("Redis disabled, using in-memory last-known store")
		return cache.NewMemoryStore()
	}
	store, err := cache.NewRedisStore(cfg, log.Named("redis"))
	if err != nil {
		log.Warn("Redis unavailable, using in-memory last-known store", zap.Error(err))
		return cache.NewMemoryStore()
	}
	return store
}

func (c *Container) initializeTransport() error {
	cfg := c.Config

	bot, err := telegram.NewBot(telegram.Config{
		Token:         cfg.Telegram.BotToken,
		APIEndpoint:   cfg.Telegram.APIEndpoint,
		PollTimeout:   cfg.Telegram.PollTimeout,
		SendPerSecond: cfg.Telegram.SendPerSecond,
		Debug:         cfg.Telegram.Debug,
	}, c.ZapLog.Named("telegram"))
	if err != nil {
		return fmt.Errorf("failed to initialize telegram bot: %w", err)
	}
	c.Bot = bot

	sinks := []adapters.Notifier{adapters.NewTelegramNotifier(bot, cfg.Telegram.NotifyChatID)}
	if cfg.Email.Provider != "" {
		emailService, err := adapters.NewEmailService(c.ZapLog.Named("email"), adapters.EmailServiceConfig{
			Provider:  cfg.Email.Provider,
			APIKey:    cfg.Email.APIKey,
			FromEmail: cfg.Email.FromEmail,
			FromName:  cfg.Email.FromName,
			To:        cfg.Email.SummaryTo,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize email notifications: %w", err)
		}
		sinks = append(sinks, emailService)
	}
	c.Notifier = adapters.NewMultiNotifier(c.ZapLog.Named("notify"), sinks...)
	return nil
}

func (c *Container) initializeDomainServices() {
	cfg := c.Config

	c.MarketService = marketservice.NewMarketDataService(
		buildChains(cfg.MarketData, c.ZapLog.Named("marketdata")),
		c.TTLCache,
		cfg.MarketData.CacheTTLDuration(),
		retry.NewRetrier(marketRetryPolicy(cfg.MarketData), c.ZapLog.Named("retry")),
		c.LastKnown,
		c.ZapLog.Named("market"),
	)
	c.PortfolioService = marketservice.NewPortfolioService(c.Broker, c.ZapLog.Named("portfolio"))

	executor := autobuy.NewExecutor(c.Broker, uuid.NewString)
	c.AutobuyRunner = autobuy.NewRunner(c.SettingsStore, c.Broker, executor, c.Notifier, time.Now, c.Logger.With("component", "autobuy_runner"))
	c.AutobuyWorker = autobuy_worker.NewWorker(c.AutobuyRunner, c.ZapLog.Named("autobuy_worker"))
	c.AutobuyService = autobuy.NewService(c.SettingsStore, c.AutobuyRunner, c.AutobuyWorker, c.Logger.With("component", "autobuy"))
}

func (c *Container) initializeHandlers() {
	c.BotHandlers = handlers.NewBotHandlers(
		c.AutobuyService,
		c.MarketService,
		c.PortfolioService,
		c.Config.Telegram.AllowedChatIDs,
		c.ZapLog.Named("bot_handlers"),
	)
	c.CoreHandlers = handlers.NewCoreHandlers(map[string]handlers.Pinger{
		"last_known_store": c.LastKnown,
		"settings": handlers.PingFunc(func(context.Context) error {
			_, err := c.SettingsStore.Load()
			return err
		}),
	}, c.Logger)
	c.AutobuyHandlers = handlers.NewAutobuyHandlers(c.AutobuyService, c.MarketService, c.ZapLog.Named("http"))
}

func marketRetryPolicy(cfg config.MarketDataConfig) retry.Policy {
	policy := retry.Policy{
		MaxAttempts:   cfg.RetryAttempts,
		DelayMin:      time.Duration(cfg.RetryDelayMin) * time.Millisecond,
		DelayMax:      time.Duration(cfg.RetryDelayMax) * time.Millisecond,
		RetryableFunc: marketdata.IsRetryable,
	}
	if policy.Validate() != nil {
		policy = retry.DefaultPolicy()
		policy.RetryableFunc = marketdata.IsRetryable
	}
	return policy
}

// buildChains wires the primary and fallback provider for every quote kind
func buildChains(cfg config.MarketDataConfig, log *zap.Logger) map[entities.QuoteKind]marketservice.Chain {
	opts := func(baseURL string) marketdata.Options {
		return marketdata.Options{
			BaseURL:       baseURL,
			Timeout:       cfg.RequestTimeoutDuration(),
			RatePerSecond: cfg.RatePerSecond,
			Logger:        log,
		}
	}

	return map[entities.QuoteKind]marketservice.Chain{
		entities.QuoteKindCurrency: {
			Primary:   marketdata.NewCBRProvider(opts(cfg.CBRURL)),
			Secondary: marketdata.NewERAPIProvider(opts(cfg.ERAPIURL)),
			Symbols:   cfg.Currencies,
		},
		entities.QuoteKindCrypto: {
			Primary:   marketdata.NewCoinGeckoProvider(opts(cfg.CoinGeckoURL)),
			Secondary: marketdata.NewBinanceProvider(opts(cfg.BinanceURL)),
			Symbols:   cfg.CryptoIDs,
		},
		entities.QuoteKindEquity: {
			Primary:   marketdata.NewMOEXSharesProvider(opts(cfg.MOEXURL)),
			Secondary: marketdata.NewYahooMOEXProvider(opts(cfg.YahooURL), entities.QuoteKindEquity),
			Symbols:   cfg.Equities,
		},
		entities.QuoteKindIndex: {
			Primary:   marketdata.NewMOEXIndicesProvider(opts(cfg.MOEXURL)),
			Secondary: marketdata.NewYahooMOEXProvider(opts(cfg.YahooURL), entities.QuoteKindIndex),
			Symbols:   cfg.Indices,
		},
		entities.QuoteKindCommodity: {
			Primary: marketdata.NewYahooCommoditiesProvider(opts(cfg.YahooURL)),
			Symbols: cfg.Commodities,
		},
	}
}

// Shutdown releases the infrastructure the container owns
func (c *Container) Shutdown(ctx context.Context) error {
	return c.LastKnown.Close()
}
