// Package notify delivers operational alerts over webhook and Telegram.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"quotefeed/internal/config"
)

// Level is the severity of an alert.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Alert is one operational notification.
type Alert struct {
	Level     Level
	Title     string
	Message   string
	Fields    map[string]interface{}
	Timestamp time.Time
}

// Notifier delivers alerts.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// Channel is a single delivery target.
type Channel interface {
	Name() string
	Send(ctx context.Context, a Alert) error
	IsEnabled() bool
}

// MultiNotifier fans an alert out to every enabled channel.
type MultiNotifier struct {
	mu       sync.RWMutex
	channels []Channel
}

// New builds a notifier from configuration. When notifications are disabled
// it returns a NoOpNotifier.
func New(cfg config.NotificationConfig) Notifier {
	if !cfg.Enabled {
		return NoOpNotifier{}
	}
	mn := &MultiNotifier{}
	if cfg.Webhook.Enabled {
		mn.AddChannel(NewWebhookNotifier(cfg.Webhook))
	}
	if cfg.Telegram.Enabled {
		mn.AddChannel(NewTelegramNotifier(cfg.Telegram))
	}
	return mn
}

// AddChannel adds a delivery channel.
func (mn *MultiNotifier) AddChannel(ch Channel) {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	mn.channels = append(mn.channels, ch)
}

// Notify sends a to all enabled channels. Failures of individual channels
// are collected; delivery to the others continues.
func (mn *MultiNotifier) Notify(ctx context.Context, a Alert) error {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}
	if a.Level == "" {
		a.Level = LevelInfo
	}

	mn.mu.RLock()
	channels := mn.channels
	mn.mu.RUnlock()

	var errs []string
	for _, ch := range channels {
		if !ch.IsEnabled() {
			continue
		}
		if err := ch.Send(ctx, a); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", ch.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// WebhookNotifier posts alerts as JSON.
type WebhookNotifier struct {
	url     string
	enabled bool
	client  *http.Client
}

// NewWebhookNotifier creates a WebhookNotifier.
func NewWebhookNotifier(cfg config.WebhookConfig) *WebhookNotifier {
	return &WebhookNotifier{
		url:     cfg.URL,
		enabled: cfg.Enabled && cfg.URL != "",
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookNotifier) Name() string    { return "webhook" }
func (w *WebhookNotifier) IsEnabled() bool { return w.enabled }

// Send posts a to the webhook URL.
func (w *WebhookNotifier) Send(ctx context.Context, a Alert) error {
	if !w.enabled {
		return nil
	}

	body, err := json.Marshal(map[string]interface{}{
		"level":     a.Level,
		"title":     a.Title,
		"message":   a.Message,
		"fields":    a.Fields,
		"timestamp": a.Timestamp.Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "quotefeed/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

const telegramAPI = "https://api.telegram.org"

// TelegramNotifier sends alerts through a Telegram bot.
type TelegramNotifier struct {
	apiBase  string
	botToken string
	chatID   string
	enabled  bool
	client   *http.Client
}

// NewTelegramNotifier creates a TelegramNotifier.
func NewTelegramNotifier(cfg config.TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		apiBase:  telegramAPI,
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		enabled:  cfg.Enabled && cfg.BotToken != "" && cfg.ChatID != "",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Name() string    { return "telegram" }
func (t *TelegramNotifier) IsEnabled() bool { return t.enabled }

// Send delivers a as an HTML-formatted bot message.
func (t *TelegramNotifier) Send(ctx context.Context, a Alert) error {
	if !t.enabled {
		return nil
	}

	body, err := json.Marshal(map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       formatTelegram(a),
		"parse_mode": "HTML",
	})
	if err != nil {
		return fmt.Errorf("marshaling telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}
	return nil
}

func formatTelegram(a Alert) string {
	icon := "ℹ️"
	switch a.Level {
	case LevelWarning:
		icon = "⚠️"
	case LevelCritical:
		icon = "🚨"
	}
	return fmt.Sprintf("%s <b>%s</b>\n\n%s", icon, escapeHTML(a.Title), escapeHTML(a.Message))
}

// escapeHTML escapes the characters Telegram's HTML mode reserves.
func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// NoOpNotifier discards alerts.
type NoOpNotifier struct{}

func (NoOpNotifier) Notify(ctx context.Context, a Alert) error { return nil }
