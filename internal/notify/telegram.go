// Package notify delivers alert messages to the chat endpoint.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"ssh-sentry/internal/logging"
	"ssh-sentry/internal/metrics"
	"ssh-sentry/internal/types"
)

const (
	// DefaultAPIURL is the public Telegram Bot API
	DefaultAPIURL = "https://api.telegram.org"

	DefaultTimeout = 10 * time.Second
)

// Notifier sends a single message. It reports success and never returns an error.
type Notifier interface {
	Send(ctx context.Context, msg string) bool
}

// Telegram posts messages through the Bot API sendMessage method
type Telegram struct {
	client  *http.Client
	apiURL  string
	token   string
	chatID  string
	topicID int
	timeout time.Duration
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	MessageThreadID       int    `json:"message_thread_id,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

// NewTelegram builds a dispatcher from config. A non-numeric topic id is ignored.
func NewTelegram(cfg types.TelegramConfig) *Telegram {
	t := &Telegram{
		apiURL:  strings.TrimRight(cfg.APIURL, "/"),
		token:   cfg.BotToken,
		chatID:  cfg.ChatID,
		timeout: cfg.Timeout,
	}
	if t.apiURL == "" {
		t.apiURL = DefaultAPIURL
	}
	if t.timeout <= 0 {
		t.timeout = DefaultTimeout
	}
	t.client = &http.Client{Timeout: t.timeout}

	if cfg.TopicID != "" {
		id, err := strconv.Atoi(cfg.TopicID)
		if err != nil {
			logging.Warn().Str("topic_id", cfg.TopicID).Msg("[NOTIFY] Ignoring non-numeric topic id")
		} else {
			t.topicID = id
		}
	}
	return t
}

// Configured reports whether both token and chat id are set
func (t *Telegram) Configured() bool {
	return t.token != "" && t.chatID != ""
}

// Send implements Notifier
func (t *Telegram) Send(ctx context.Context, msg string) bool {
	if !t.Configured() {
		logging.Warn().Msg("[NOTIFY] Telegram credentials not set, skipping notification")
		metrics.NotificationsSent.WithLabelValues("skipped").Inc()
		return false
	}

	if err := t.send(ctx, msg); err != nil {
		logging.Error().Err(err).Msg("[NOTIFY] Failed to send Telegram alert")
		metrics.NotificationsSent.WithLabelValues("failed").Inc()
		return false
	}

	logging.Info().Msg("[NOTIFY] Alert sent")
	metrics.NotificationsSent.WithLabelValues("sent").Inc()
	return true
}

func (t *Telegram) send(ctx context.Context, msg string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	body, err := json.Marshal(sendMessageRequest{
		ChatID:                t.chatID,
		Text:                  msg,
		MessageThreadID:       t.topicID,
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	u := fmt.Sprintf("%s/bot%s/sendMessage", t.apiURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// The URL carries the bot token; keep it out of the log.
		return fmt.Errorf("request failed: %w", redact(err, t.token))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var out sendMessageResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("invalid response (status %d): %w", resp.StatusCode, err)
	}
	if !out.OK {
		return fmt.Errorf("telegram rejected message (status %d): %s", resp.StatusCode, out.Description)
	}
	return nil
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

func redact(err error, secret string) error {
	if secret == "" {
		return err
	}
	return &redactedError{msg: strings.ReplaceAll(err.Error(), secret, "<redacted>"), err: err}
}
