package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTelegramBaseURL = "https://api.telegram.org"
	telegramMaxAttempts    = 3
)

// Telegram 通知器：轮次摘要与熔断事件推送至指定群/频道。
type Telegram struct {
	BotToken string
	ChatID   string
	BaseURL  string
	Client   *http.Client

	backoff func(attempt int) time.Duration
}

func NewTelegram(botToken, chatID string) *Telegram {
	return &Telegram{
		BotToken: botToken,
		ChatID:   chatID,
		BaseURL:  defaultTelegramBaseURL,
		Client:   &http.Client{Timeout: 15 * time.Second},
		backoff:  func(attempt int) time.Duration { return time.Duration(attempt) * time.Second },
	}
}

// SendText 发送 Markdown 文本消息（最多 3 次尝试，ctx 取消时立即放弃）。
func (t *Telegram) SendText(ctx context.Context, text string) error {
	if t.BotToken == "" || t.ChatID == "" {
		return fmt.Errorf("telegram config incomplete")
	}
	base := strings.TrimRight(t.BaseURL, "/")
	if base == "" {
		base = defaultTelegramBaseURL
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", base, t.BotToken)
	body, err := json.Marshal(map[string]any{
		"chat_id":    t.ChatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return fmt.Errorf("encode telegram payload: %w", err)
	}
	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}

	var lastErr error
	for i := 1; i <= telegramMaxAttempts; i++ {
		lastErr = t.post(ctx, client, url, body)
		if lastErr == nil {
			return nil
		}
		if i == telegramMaxAttempts {
			break
		}
		if err := t.wait(ctx, i); err != nil {
			return err
		}
	}
	return lastErr
}

func (t *Telegram) post(ctx context.Context, client *http.Client, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("telegram status=%d", resp.StatusCode)
	}
	return nil
}

func (t *Telegram) wait(ctx context.Context, attempt int) error {
	if t.backoff == nil {
		return ctx.Err()
	}
	timer := time.NewTimer(t.backoff(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
