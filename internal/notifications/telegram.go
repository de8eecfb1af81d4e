package notifications

import (
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramNotifier delivers alerts through the Telegram bot API. The
// message body comes from the caller; only the level heading is added
// here.
type TelegramNotifier struct {
	token   string
	chatID  string
	apiBase string
	client  *http.Client
}

func NewTelegramNotifier(token, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		token:   token,
		chatID:  chatID,
		apiBase: telegramAPIBase,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) SendAlert(level, message string) error {
	form := url.Values{}
	form.Set("chat_id", t.chatID)
	form.Set("text", headingFor(level)+"\n\n"+message)
	form.Set("parse_mode", "Markdown")

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.token)
	resp, err := t.client.PostForm(endpoint, form)
	if err != nil {
		return fmt.Errorf("telegram send failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}
	return nil
}

func headingFor(level string) string {
	switch level {
	case "warning":
		return "⚠️ *Pyramid Bot Warning*"
	case "error":
		return "🚨 *Pyramid Bot Alert*"
	case "success":
		return "✅ *Pyramid Bot*"
	default:
		return "ℹ️ *Pyramid Bot*"
	}
}
