package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quotefeed/internal/config"
)

func TestNewDisabledIsNoOp(t *testing.T) {
	n := New(config.NotificationConfig{Enabled: false, Webhook: config.WebhookConfig{Enabled: true, URL: "http://x"}})
	assert.IsType(t, NoOpNotifier{}, n)
	assert.NoError(t, n.Notify(context.Background(), Alert{Title: "ignored"}))
}

func TestWebhookPostsAlert(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := New(config.NotificationConfig{
		Enabled: true,
		Webhook: config.WebhookConfig{Enabled: true, URL: srv.URL},
	})
	err := n.Notify(context.Background(), Alert{
		Level:     LevelWarning,
		Title:     "Quotes stale",
		Message:   "no update for 6m",
		Fields:    map[string]interface{}{"symbols": 50},
		Timestamp: time.Date(2026, 10, 14, 5, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.Equal(t, "warning", got["level"])
	assert.Equal(t, "Quotes stale", got["title"])
	assert.Equal(t, "2026-10-14T05:00:00Z", got["timestamp"])
	assert.EqualValues(t, 50, got["fields"].(map[string]interface{})["symbols"])
}

func TestWebhookErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	w := NewWebhookNotifier(config.WebhookConfig{Enabled: true, URL: srv.URL})
	err := w.Send(context.Background(), Alert{Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestTelegramFormatsMessage(t *testing.T) {
	var got map[string]string
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	tg := NewTelegramNotifier(config.TelegramConfig{Enabled: true, BotToken: "123:abc", ChatID: "42"})
	tg.apiBase = srv.URL

	err := tg.Send(context.Background(), Alert{Level: LevelCritical, Title: "Key <invalid>", Message: "a & b"})
	require.NoError(t, err)

	assert.Equal(t, "/bot123:abc/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "HTML", got["parse_mode"])
	assert.Equal(t, "🚨 <b>Key &lt;invalid&gt;</b>\n\na &amp; b", got["text"])
}

func TestTelegramDisabledWithoutCredentials(t *testing.T) {
	tg := NewTelegramNotifier(config.TelegramConfig{Enabled: true, BotToken: "t"})
	assert.False(t, tg.IsEnabled())
	assert.NoError(t, tg.Send(context.Background(), Alert{}))
}

type stubChannel struct {
	name    string
	enabled bool
	err     error
	sent    []Alert
}

func (s *stubChannel) Name() string    { return s.name }
func (s *stubChannel) IsEnabled() bool { return s.enabled }
func (s *stubChannel) Send(ctx context.Context, a Alert) error {
	s.sent = append(s.sent, a)
	return s.err
}

func TestMultiNotifierCollectsErrors(t *testing.T) {
	ok := &stubChannel{name: "ok", enabled: true}
	bad := &stubChannel{name: "bad", enabled: true, err: errors.New("timeout")}
	off := &stubChannel{name: "off"}

	mn := &MultiNotifier{}
	mn.AddChannel(bad)
	mn.AddChannel(ok)
	mn.AddChannel(off)

	err := mn.Notify(context.Background(), Alert{Title: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: timeout")

	require.Len(t, ok.sent, 1)
	assert.Equal(t, LevelInfo, ok.sent[0].Level)
	assert.False(t, ok.sent[0].Timestamp.IsZero())
	assert.Empty(t, off.sent)
}
