package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("reads environment overrides", func(t *testing.T) {
		viper.Reset()
		t.Chdir(t.TempDir())
		t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
		t.Setenv("TELEGRAM_CHAT_ID", "42, junk, 77")
		t.Setenv("TINVEST_TOKEN", "t.secret")
		t.Setenv("AUTOBUY_SETTINGS_PATH", "/tmp/autobuy.json")
		t.Setenv("PORT", "9090")
		t.Setenv("REDIS_URL", "redis://localhost:6379/1")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "123:abc", cfg.Telegram.BotToken)
		assert.Equal(t, []int64{42, 77}, cfg.Telegram.AllowedChatIDs)
		assert.Equal(t, int64(42), cfg.Telegram.NotifyChatID)
		assert.Equal(t, "t.secret", cfg.TInvest.Token)
		assert.Equal(t, "/tmp/autobuy.json", cfg.Autobuy.SettingsPath)
		assert.Equal(t, 9090, cfg.Server.Port)
		assert.True(t, cfg.Redis.Enabled)
		assert.Equal(t, "redis://localhost:6379/1", cfg.Redis.URL)
		assert.Equal(t, "10:00", cfg.Autobuy.DefaultDailyTime)
		assert.Equal(t, 3, cfg.MarketData.RetryAttempts)
	})

	t.Run("requires a bot token", func(t *testing.T) {
		viper.Reset()
		t.Chdir(t.TempDir())
		t.Setenv("TELEGRAM_BOT_TOKEN", "")
		t.Setenv("TELEGRAM_CHAT_ID", "42")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("requires an allowed chat", func(t *testing.T) {
		viper.Reset()
		t.Chdir(t.TempDir())
		t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
		t.Setenv("TELEGRAM_CHAT_ID", "")

		_, err := Load()
		assert.Error(t, err)
	})
}

func TestParseChatIDs(t *testing.T) {
	assert.Equal(t, []int64{1, -100200}, parseChatIDs("1,-100200"))
	assert.Nil(t, parseChatIDs("x,0"))
}
