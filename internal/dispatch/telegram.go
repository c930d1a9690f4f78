package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/shiomiya/notihub/internal/db"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramSender delivers messages through the Telegram Bot API
// sendMessage endpoint using the channel's bot token and chat id.
type TelegramSender struct {
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
	base    string
}

// TelegramConfig tunes the sender.
type TelegramConfig struct {
	Timeout       time.Duration // per provider call, default 10s
	RatePerSecond float64       // default 25/s (Bot API allows ~30)
	BaseURL       string        // override for tests
}

// NewTelegramSender creates a Telegram sender.
func NewTelegramSender(logger *zap.Logger, cfg TelegramConfig) *TelegramSender {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RatePerSecond
	if rps == 0 {
		rps = 25
	}
	base := cfg.BaseURL
	if base == "" {
		base = telegramAPIBase
	}
	return &TelegramSender{
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		logger:  logger,
		base:    base,
	}
}

// SupportsType reports whether this sender handles the channel type.
func (s *TelegramSender) SupportsType(t db.ChannelType) bool {
	return t == db.ChannelTelegram
}

type telegramSendRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

// Send performs one sendMessage call. Recipient narrowing overrides the
// channel's configured chat id when present (first entry wins; Telegram
// channels target a single chat).
func (s *TelegramSender) Send(ctx context.Context, msg *db.Message, ch *db.Channel, recipients []string) Outcome {
	start := time.Now()

	if ch.Config.Telegram == nil || ch.Config.Telegram.BotToken == "" {
		return Failure(fmt.Errorf("telegram channel %s has no bot token", ch.ID), 0, time.Since(start))
	}

	chatID := ch.Config.Telegram.ChatID
	if len(recipients) > 0 {
		chatID = recipients[0]
	}
	if chatID == "" {
		return Failure(fmt.Errorf("telegram channel %s has no chat id", ch.ID), 0, time.Since(start))
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return Failure(fmt.Errorf("rate limiter: %w", err), 0, time.Since(start))
	}

	payload, err := json.Marshal(telegramSendRequest{ChatID: chatID, Text: renderText(msg)})
	if err != nil {
		return Failure(fmt.Errorf("marshal telegram request: %w", err), 0, time.Since(start))
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.base, ch.Config.Telegram.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Failure(fmt.Errorf("build telegram request: %w", err), 0, time.Since(start))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Failure(fmt.Errorf("telegram request failed: %w", err), 0, time.Since(start))
	}
	defer resp.Body.Close()

	preview, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	elapsed := time.Since(start)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.logger.Warn("telegram api rejected message",
			zap.Int("status_code", resp.StatusCode),
			zap.String("response", string(preview)),
		)
		return Outcome{
			StatusCode: resp.StatusCode,
			Duration:   elapsed,
			Response:   string(preview),
			Error:      fmt.Sprintf("telegram api status %d: %s", resp.StatusCode, string(preview)),
		}
	}

	return Outcome{
		Success:    true,
		StatusCode: resp.StatusCode,
		Duration:   elapsed,
		Response:   string(preview),
	}
}
