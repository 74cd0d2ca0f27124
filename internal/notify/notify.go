// Package notify delivers decision results to downstream channels with
// priority-dependent routing and delays.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"epl-engine/internal/config"
	"epl-engine/internal/models"
)

// Channel is one delivery target. Primary channels receive high-priority
// decisions; passive channels receive the slower tiers.
type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
	IsEnabled() bool
	Primary() bool
}

// Notification is a formatted message ready for delivery.
type Notification struct {
	Title     string
	Message   string
	Data      map[string]interface{}
	Timestamp time.Time
}

// FormatResult renders a decision result into a notification.
func FormatResult(r *models.EPLDecisionResult) Notification {
	var emoji string
	switch r.Decision {
	case models.ReplacePosition:
		emoji = "🔄"
	case models.StrengthenPosition:
		emoji = "📈"
	case models.CreateNewPosition:
		emoji = "🆕"
	default:
		emoji = "🚫"
	}

	title := fmt.Sprintf("%s %s: %s %s", emoji, r.Decision, r.Direction, r.Symbol)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Symbol: %s\nDecision: %s\nPriority: %s\nScore: %.2f | Confidence: %.2f",
		r.Symbol, r.Decision, r.Priority, r.Score, r.Confidence))
	if r.Execution != nil {
		sb.WriteString(fmt.Sprintf("\nSize: %.4f\nStop: %.2f | Target: %.2f\nRisk/Trade: %.2f%%",
			r.Execution.Size, r.Execution.StopLoss, r.Execution.TakeProfit,
			r.Execution.RiskPerTrade*100))
		if r.Execution.TrailingStop {
			sb.WriteString("\nTrailing stop active")
		}
	}
	if r.IgnoreReason != models.IgnoreNone {
		sb.WriteString(fmt.Sprintf("\nIgnore reason: %s", r.IgnoreReason))
	}
	if len(r.Reasons) > 0 {
		sb.WriteString("\n\nReasoning: " + strings.Join(r.Reasons, "; "))
	}

	data := map[string]interface{}{
		"candidate_id": r.CandidateID,
		"symbol":       r.Symbol,
		"direction":    string(r.Direction),
		"decision":     string(r.Decision),
		"priority":     string(r.Priority),
		"score":        r.Score,
		"confidence":   r.Confidence,
	}
	if r.Execution != nil {
		data["size"] = r.Execution.Size
		data["stop_loss"] = r.Execution.StopLoss
		data["take_profit"] = r.Execution.TakeProfit
	}

	return Notification{
		Title:     title,
		Message:   sb.String(),
		Data:      data,
		Timestamp: r.Timestamp,
	}
}

// WebhookNotifier posts notifications as JSON to an HTTP endpoint.
type WebhookNotifier struct {
	url     string
	enabled bool
	primary bool
	client  *http.Client
}

// NewWebhookNotifier creates a WebhookNotifier from configuration.
func NewWebhookNotifier(cfg config.WebhookConfig) *WebhookNotifier {
	return &WebhookNotifier{
		url:     cfg.URL,
		enabled: cfg.Enabled && cfg.URL != "",
		primary: cfg.Primary,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name returns the name of the channel.
func (w *WebhookNotifier) Name() string {
	return "webhook"
}

// IsEnabled returns whether the channel is enabled.
func (w *WebhookNotifier) IsEnabled() bool {
	return w.enabled
}

// Primary reports whether the channel carries high-priority traffic.
func (w *WebhookNotifier) Primary() bool {
	return w.primary
}

// Send posts the notification to the webhook endpoint.
func (w *WebhookNotifier) Send(ctx context.Context, n Notification) error {
	if !w.enabled {
		return nil
	}

	payload := map[string]interface{}{
		"title":     n.Title,
		"message":   n.Message,
		"data":      n.Data,
		"timestamp": n.Timestamp.Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "EPLEngine/1.0")

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

// TelegramNotifier delivers notifications through a Telegram bot.
type TelegramNotifier struct {
	botToken string
	chatID   string
	enabled  bool
	primary  bool
	client   *http.Client
}

// NewTelegramNotifier creates a TelegramNotifier from configuration.
func NewTelegramNotifier(cfg config.TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		enabled:  cfg.Enabled && cfg.BotToken != "" && cfg.ChatID != "",
		primary:  cfg.Primary,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name returns the name of the channel.
func (t *TelegramNotifier) Name() string {
	return "telegram"
}

// IsEnabled returns whether the channel is enabled.
func (t *TelegramNotifier) IsEnabled() bool {
	return t.enabled
}

// Primary reports whether the channel carries high-priority traffic.
func (t *TelegramNotifier) Primary() bool {
	return t.primary
}

// Send delivers the notification via the Telegram bot API.
func (t *TelegramNotifier) Send(ctx context.Context, n Notification) error {
	if !t.enabled {
		return nil
	}

	text := fmt.Sprintf("<b>%s</b>\n\n%s", escapeHTML(n.Title), escapeHTML(n.Message))

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)

	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "HTML",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling telegram payload: %w", err)
	}

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

// escapeHTML escapes HTML special characters for Telegram.
func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}
