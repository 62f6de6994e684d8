package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf16"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeBotAPI struct {
	mu   sync.Mutex
	sent []sentMessage
}

type sentMessage struct {
	chatID string
	text   string
}

func (f *fakeBotAPI) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_, _ = w.Write([]byte(`{"ok": true, "result": {"id": 1, "is_bot": true, "first_name": "Invest", "username": "invest_test_bot"}}`))
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			assert.NoError(t, r.ParseForm())
			f.mu.Lock()
			f.sent = append(f.sent, sentMessage{chatID: r.FormValue("chat_id"), text: r.FormValue("text")})
			f.mu.Unlock()
			_, _ = w.Write([]byte(`{"ok": true, "result": {"message_id": 7, "date": 0, "chat": {"id": 42, "type": "private"}, "text": "ok"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"ok": false, "error_code": 404, "description": "Not Found"}`))
		}
	}
}

func newTestBot(t *testing.T) (*Bot, *fakeBotAPI) {
	t.Helper()
	fake := &fakeBotAPI{}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	bot, err := NewBot(Config{
		Token:         "123:abc",
		APIEndpoint:   srv.URL + "/bot%s/%s",
		SendPerSecond: 100,
	}, zap.NewNop())
	require.NoError(t, err)
	return bot, fake
}

func TestNewBot(t *testing.T) {
	bot, _ := newTestBot(t)
	assert.Equal(t, "invest_test_bot", bot.UserName())

	_, err := NewBot(Config{}, zap.NewNop())
	assert.Error(t, err)
}

func TestBot_Send(t *testing.T) {
	bot, fake := newTestBot(t)

	require.NoError(t, bot.Send(context.Background(), 42, "hello"))

	require.Len(t, fake.sent, 1)
	assert.Equal(t, "42", fake.sent[0].chatID)
	assert.Equal(t, "hello", fake.sent[0].text)
}

func TestBot_SendSplitsLongText(t *testing.T) {
	bot, fake := newTestBot(t)
	line := strings.Repeat("x", 99) + "\n"
	text := strings.Repeat(line, 50) // 5000 runes

	require.NoError(t, bot.Send(context.Background(), 42, text))

	require.Len(t, fake.sent, 2)
	assert.Equal(t, text, fake.sent[0].text+fake.sent[1].text)
}

func TestBot_Dispatch(t *testing.T) {
	bot, fake := newTestBot(t)

	var got Command
	bot.dispatch(context.Background(), func(ctx context.Context, cmd Command) string {
		got = cmd
		return "done"
	}, Command{ChatID: 42, Name: "autobuy_list"})

	assert.Equal(t, "autobuy_list", got.Name)
	require.Len(t, fake.sent, 1)
	assert.Equal(t, "done", fake.sent[0].text)

	bot.dispatch(context.Background(), func(ctx context.Context, cmd Command) string {
		return ""
	}, Command{ChatID: 42, Name: "noop"})
	assert.Len(t, fake.sent, 1, "empty replies are not sent")

	assert.NotPanics(t, func() {
		bot.dispatch(context.Background(), func(ctx context.Context, cmd Command) string {
			panic("boom")
		}, Command{ChatID: 42, Name: "broken"})
	})
}

func TestCommandFromUpdate(t *testing.T) {
	message := func(text string, entityLen int) tgbotapi.Update {
		msg := &tgbotapi.Message{
			Text: text,
			Chat: &tgbotapi.Chat{ID: 42},
			From: &tgbotapi.User{UserName: "alice"},
		}
		if entityLen > 0 {
			msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: entityLen}}
		}
		return tgbotapi.Update{Message: msg}
	}

	t.Run("command with arguments", func(t *testing.T) {
		cmd, ok := CommandFromUpdate(message("/autobuy_add  SBER 2", len("/autobuy_add")))
		require.True(t, ok)
		assert.Equal(t, int64(42), cmd.ChatID)
		assert.Equal(t, "alice", cmd.UserName)
		assert.Equal(t, "autobuy_add", cmd.Name)
		assert.Equal(t, []string{"SBER", "2"}, cmd.Args)
	})

	t.Run("mention suffix is dropped", func(t *testing.T) {
		cmd, ok := CommandFromUpdate(message("/Rates@invest_test_bot", len("/Rates@invest_test_bot")))
		require.True(t, ok)
		assert.Equal(t, "rates", cmd.Name)
		assert.Empty(t, cmd.Args)
	})

	t.Run("plain text is ignored", func(t *testing.T) {
		_, ok := CommandFromUpdate(message("hello", 0))
		assert.False(t, ok)
	})

	t.Run("non message update is ignored", func(t *testing.T) {
		_, ok := CommandFromUpdate(tgbotapi.Update{})
		assert.False(t, ok)
	})
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{"short"}, SplitMessage("short", 10))

	chunks := SplitMessage("aaaa\nbbbb\ncccc", 10)
	assert.Equal(t, []string{"aaaa\nbbbb\n", "cccc"}, chunks)

	chunks = SplitMessage(strings.Repeat("я", 25), 10)
	require.Len(t, chunks, 3)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 10)
	}
	assert.Equal(t, strings.Repeat("я", 25), strings.Join(chunks, ""))

	t.Run("counts utf-16 code units", func(t *testing.T) {
		text := strings.Repeat("🔒", 5)
		chunks := SplitMessage(text, 4)
		assert.Equal(t, []string{"🔒🔒", "🔒🔒", "🔒"}, chunks)
		for _, c := range chunks {
			assert.LessOrEqual(t, len(utf16.Encode([]rune(c))), 4)
		}

		// four runes but six code units
		chunks = SplitMessage("ok\n⏳🔒🔒", 5)
		assert.Equal(t, []string{"ok\n", "⏳🔒🔒"}, chunks)
		chunks = SplitMessage("ok\n🔒🔒🔒", 5)
		assert.Equal(t, []string{"ok\n", "🔒🔒", "🔒"}, chunks)
	})
}
