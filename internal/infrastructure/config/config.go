package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Environment string           `mapstructure:"environment" validate:"required"`
	LogLevel    string           `mapstructure:"log_level" validate:"oneof=debug info warn warning error"`
	Server      ServerConfig     `mapstructure:"server"`
	Redis       RedisConfig      `mapstructure:"redis"`
	Telegram    TelegramConfig   `mapstructure:"telegram"`
	TInvest     TInvestConfig    `mapstructure:"tinvest"`
	Autobuy     AutobuyConfig    `mapstructure:"autobuy"`
	MarketData  MarketDataConfig `mapstructure:"market_data"`
	Email       EmailConfig      `mapstructure:"email"`
	Tracing     TracingConfig    `mapstructure:"tracing"`
}

type ServerConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Port            int    `mapstructure:"port" validate:"min=1,max=65535"`
	Host            string `mapstructure:"host"`
	ReadTimeout     int    `mapstructure:"read_timeout"`
	WriteTimeout    int    `mapstructure:"write_timeout"`
	RateLimitPerMin int    `mapstructure:"rate_limit_per_min" validate:"min=0"`
}

// RedisConfig configures the optional last-known-value store.
// When disabled an in-memory store is used.
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	URL          string        `mapstructure:"url"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
	LastKnownTTL time.Duration `mapstructure:"last_known_ttl"`
}

type TelegramConfig struct {
	BotToken       string  `mapstructure:"bot_token" validate:"required"`
	AllowedChatIDs []int64 `mapstructure:"allowed_chat_ids"`
	// NotifyChatID receives autobuy summaries; defaults to the first allowed chat
	NotifyChatID  int64   `mapstructure:"notify_chat_id"`
	APIEndpoint   string  `mapstructure:"api_endpoint"`
	PollTimeout   int     `mapstructure:"poll_timeout" validate:"min=0"`
	SendPerSecond float64 `mapstructure:"send_per_second" validate:"gt=0"`
	Debug         bool    `mapstructure:"debug"`
}

// TInvestConfig configures the brokerage REST client
type TInvestConfig struct {
	Token     string `mapstructure:"token"`
	AccountID string `mapstructure:"account_id"`
	BaseURL   string `mapstructure:"base_url" validate:"required,url"`
	Timeout   int    `mapstructure:"timeout" validate:"min=1"` // Request timeout in seconds
	AppName   string `mapstructure:"app_name"`
}

type AutobuyConfig struct {
	SettingsPath     string `mapstructure:"settings_path" validate:"required"`
	DefaultDailyTime string `mapstructure:"default_daily_time"`
	DefaultTimezone  string `mapstructure:"default_timezone"`
}

// MarketDataConfig configures the market data providers and the fetch layer
type MarketDataConfig struct {
	CacheTTL       int     `mapstructure:"cache_ttl" validate:"min=0"` // seconds
	RetryAttempts  int     `mapstructure:"retry_attempts" validate:"min=1"`
	RetryDelayMin  int     `mapstructure:"retry_delay_min" validate:"min=0"` // milliseconds
	RetryDelayMax  int     `mapstructure:"retry_delay_max" validate:"min=0"` // milliseconds
	RequestTimeout int     `mapstructure:"request_timeout" validate:"min=1"` // seconds
	RatePerSecond  float64 `mapstructure:"rate_per_second" validate:"gt=0"`

	CBRURL       string `mapstructure:"cbr_url" validate:"required,url"`
	ERAPIURL     string `mapstructure:"erapi_url" validate:"required,url"`
	CoinGeckoURL string `mapstructure:"coingecko_url" validate:"required,url"`
	BinanceURL   string `mapstructure:"binance_url" validate:"required,url"`
	MOEXURL      string `mapstructure:"moex_url" validate:"required,url"`
	YahooURL     string `mapstructure:"yahoo_url" validate:"required,url"`

	Currencies  []string `mapstructure:"currencies"`
	CryptoIDs   []string `mapstructure:"crypto_ids"`
	Equities    []string `mapstructure:"equities"`
	Indices     []string `mapstructure:"indices"`
	Commodities []string `mapstructure:"commodities"`
}

// CacheTTLDuration returns the cache ttl as a duration
func (m MarketDataConfig) CacheTTLDuration() time.Duration {
	return time.Duration(m.CacheTTL) * time.Second
}

// RequestTimeoutDuration returns the per-request HTTP timeout
func (m MarketDataConfig) RequestTimeoutDuration() time.Duration {
	return time.Duration(m.RequestTimeout) * time.Second
}

type EmailConfig struct {
	Provider  string `mapstructure:"provider"` // "sendgrid" or empty to disable
	APIKey    string `mapstructure:"api_key"`
	FromEmail string `mapstructure:"from_email"`
	FromName  string `mapstructure:"from_name"`
	SummaryTo string `mapstructure:"summary_to"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	CollectorURL string  `mapstructure:"collector_url"`
	SampleRate   float64 `mapstructure:"sample_rate" validate:"min=0,max=1"`
}

// Load reads .env, an optional config.yaml and the environment
func Load() (*Config, error) {
	// Load .env file if it exists (ignore errors if file doesn't exist)
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	overrideFromEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if config.Telegram.NotifyChatID == 0 && len(config.Telegram.AllowedChatIDs) > 0 {
		config.Telegram.NotifyChatID = config.Telegram.AllowedChatIDs[0]
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	viper.SetDefault("server.enabled", true)
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)
	viper.SetDefault("server.rate_limit_per_min", 60)

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.key_prefix", "invest_bot:lastknown:")
	viper.SetDefault("redis.last_known_ttl", 7*24*time.Hour)

	viper.SetDefault("telegram.poll_timeout", 30)
	viper.SetDefault("telegram.send_per_second", 1.0)
	viper.SetDefault("telegram.debug", false)

	viper.SetDefault("tinvest.base_url", "https://invest-public-api.tinkoff.ru/rest")
	viper.SetDefault("tinvest.timeout", 15)
	viper.SetDefault("tinvest.app_name", "invest_bot")

	viper.SetDefault("autobuy.settings_path", "data/autobuy.json")
	viper.SetDefault("autobuy.default_daily_time", "10:00")
	viper.SetDefault("autobuy.default_timezone", "Europe/Moscow")

	viper.SetDefault("market_data.cache_ttl", 60)
	viper.SetDefault("market_data.retry_attempts", 3)
	viper.SetDefault("market_data.retry_delay_min", 1000)
	viper.SetDefault("market_data.retry_delay_max", 8000)
	viper.SetDefault("market_data.request_timeout", 10)
	viper.SetDefault("market_data.rate_per_second", 5.0)
	viper.SetDefault("market_data.cbr_url", "https://www.cbr-xml-daily.ru/daily_json.js")
	viper.SetDefault("market_data.erapi_url", "https://open.er-api.com/v6/latest")
	viper.SetDefault("market_data.coingecko_url", "https://api.coingecko.com/api/v3")
	viper.SetDefault("market_data.binance_url", "https://api.binance.com/api/v3")
	viper.SetDefault("market_data.moex_url", "https://iss.moex.com/iss")
	viper.SetDefault("market_data.yahoo_url", "https://query1.finance.yahoo.com/v8/finance/chart")
	viper.SetDefault("market_data.currencies", []string{"USD", "EUR", "CNY"})
	viper.SetDefault("market_data.crypto_ids", []string{"bitcoin", "ethereum", "toncoin"})
	viper.SetDefault("market_data.equities", []string{"SBER", "GAZP", "LKOH", "YDEX"})
	viper.SetDefault("market_data.indices", []string{"IMOEX", "RTSI"})
	viper.SetDefault("market_data.commodities", []string{"BZ=F", "GC=F", "NG=F"})

	viper.SetDefault("email.provider", "")
	viper.SetDefault("email.from_name", "Invest Bot")

	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.collector_url", "localhost:4317")
	viper.SetDefault("tracing.sample_rate", 1.0)
}

func overrideFromEnv() {
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		viper.Set("environment", env)
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		viper.Set("log_level", strings.ToLower(level))
	}

	// Server
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			viper.Set("server.port", p)
		}
	}

	// Redis
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		viper.Set("redis.url", redisURL)
		viper.Set("redis.enabled", true)
	}
	if redisHost := os.Getenv("REDIS_HOST"); redisHost != "" {
		viper.Set("redis.host", redisHost)
		viper.Set("redis.enabled", true)
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		viper.Set("redis.password", redisPassword)
	}

	// Telegram
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		viper.Set("telegram.bot_token", token)
	}
	if chatIDs := os.Getenv("TELEGRAM_CHAT_ID"); chatIDs != "" {
		if ids := parseChatIDs(chatIDs); len(ids) > 0 {
			viper.Set("telegram.allowed_chat_ids", ids)
		}
	}

	// Brokerage
	if token := os.Getenv("TINVEST_TOKEN"); token != "" {
		viper.Set("tinvest.token", token)
	}
	if accountID := os.Getenv("TINVEST_ACCOUNT_ID"); accountID != "" {
		viper.Set("tinvest.account_id", accountID)
	}

	// Autobuy
	if path := os.Getenv("AUTOBUY_SETTINGS_PATH"); path != "" {
		viper.Set("autobuy.settings_path", path)
	}

	// Email
	if sendgridKey := os.Getenv("SENDGRID_API_KEY"); sendgridKey != "" {
		viper.Set("email.api_key", sendgridKey)
		viper.Set("email.provider", "sendgrid")
	}
	if summaryTo := os.Getenv("SUMMARY_EMAIL_TO"); summaryTo != "" {
		viper.Set("email.summary_to", summaryTo)
	}

	// Tracing
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		viper.Set("tracing.collector_url", endpoint)
		viper.Set("tracing.enabled", true)
	}
}

// parseChatIDs splits a comma separated list of numeric chat ids, skipping junk
func parseChatIDs(s string) []int64 {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err == nil && id != 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

func validate(config *Config) error {
	if err := validator.New().Struct(config); err != nil {
		return err
	}

	if config.MarketData.RetryDelayMax < config.MarketData.RetryDelayMin {
		return fmt.Errorf("market_data.retry_delay_max must not be below retry_delay_min")
	}

	if len(config.Telegram.AllowedChatIDs) == 0 {
		return fmt.Errorf("at least one allowed telegram chat id is required")
	}

	if config.Email.Provider == "sendgrid" && (config.Email.APIKey == "" || config.Email.FromEmail == "" || config.Email.SummaryTo == "") {
		return fmt.Errorf("sendgrid email requires api_key, from_email and summary_to")
	}

	return nil
}
