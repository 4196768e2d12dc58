package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

func postJSON(client *http.Client, url string, payload interface{}) (int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	resp, err := client.Post(url, "application/json", bytes.NewBuffer(data))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// TelegramNotifier sends alerts via Telegram Bot API
type TelegramNotifier struct {
	BotToken string
	ChatID   string
	APIBase  string
	client   *http.Client
}

// NewTelegramNotifier creates a new Telegram notifier
func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		BotToken: botToken,
		ChatID:   chatID,
		APIBase:  "https://api.telegram.org",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Name() string { return "telegram" }

func (t *TelegramNotifier) Send(alert Alert) error {
	text := fmt.Sprintf("*%s*\n\n%s\n\n_%s_",
		escapeMarkdown(alert.Title),
		escapeMarkdown(alert.Message),
		alert.Timestamp.Format("2006-01-02 15:04:05 UTC"))

	status, err := postJSON(t.client, fmt.Sprintf("%s/bot%s/sendMessage", t.APIBase, t.BotToken), map[string]interface{}{
		"chat_id":    t.ChatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", status)
	}
	return nil
}

var markdownEscaper = strings.NewReplacer(
	"_", "\\_",
	"*", "\\*",
	"[", "\\[",
	"]", "\\]",
	"`", "\\`",
)

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

// SlackNotifier sends alerts via Slack webhooks
type SlackNotifier struct {
	WebhookURL string
	Channel    string
	client     *http.Client
}

// NewSlackNotifier creates a new Slack notifier
func NewSlackNotifier(webhookURL, channel string) *SlackNotifier {
	return &SlackNotifier{
		WebhookURL: webhookURL,
		Channel:    channel,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *SlackNotifier) Name() string { return "slack" }

func severityColor(severity string) int {
	switch severity {
	case "HIGH":
		return 0xff4444
	case "MEDIUM":
		return 0xffaa00
	case "LOW":
		return 0x0088ff
	}
	return 0x36a64f
}

func (s *SlackNotifier) Send(alert Alert) error {
	payload := map[string]interface{}{
		"attachments": []map[string]interface{}{
			{
				"color":  fmt.Sprintf("#%06x", severityColor(alert.Severity)),
				"title":  alert.Title,
				"text":   alert.Message,
				"footer": "stackscope",
				"ts":     alert.Timestamp.Unix(),
			},
		},
	}
	if s.Channel != "" {
		payload["channel"] = s.Channel
	}

	status, err := postJSON(s.client, s.WebhookURL, payload)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("slack webhook returned status %d", status)
	}
	return nil
}

// DiscordNotifier sends alerts via Discord webhooks
type DiscordNotifier struct {
	WebhookURL string
	client     *http.Client
}

// NewDiscordNotifier creates a new Discord notifier
func NewDiscordNotifier(webhookURL string) *DiscordNotifier {
	return &DiscordNotifier{
		WebhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordNotifier) Name() string { return "discord" }

func (d *DiscordNotifier) Send(alert Alert) error {
	status, err := postJSON(d.client, d.WebhookURL, map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":       alert.Title,
				"description": alert.Message,
				"color":       severityColor(alert.Severity),
				"footer":      map[string]string{"text": "stackscope"},
				"timestamp":   alert.Timestamp.Format(time.RFC3339),
			},
		},
	})
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return fmt.Errorf("discord webhook returned status %d", status)
	}
	return nil
}

// WebhookNotifier posts the whole alert as JSON to any endpoint
type WebhookNotifier struct {
	URL    string
	client *http.Client
}

// NewWebhookNotifier creates a new generic webhook notifier
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		URL:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookNotifier) Name() string { return "webhook" }

func (w *WebhookNotifier) Send(alert Alert) error {
	status, err := postJSON(w.client, w.URL, alert)
	if err != nil {
		return err
	}
	if status >= 400 {
		return fmt.Errorf("webhook returned status %d", status)
	}
	return nil
}
