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

const (
	linePushURL      = "https://api.line.me/v2/bot/message/push"
	lineBroadcastURL = "https://api.line.me/v2/bot/message/broadcast"
)

// LineSender delivers messages through the LINE Messaging API. With a
// recipient list it pushes once per user id, otherwise it broadcasts to
// the channel's whole audience.
type LineSender struct {
	client       *http.Client
	limiter      *rate.Limiter
	logger       *zap.Logger
	pushURL      string
	broadcastURL string
}

// LineConfig tunes the sender.
type LineConfig struct {
	Timeout time.Duration // per provider call, default 10s
	// RatePerSecond caps outbound pushes; LINE enforces its own quota
	// and answers 429 beyond it. Default 10/s.
	RatePerSecond float64
	BaseURL       string // override for tests
}

// NewLineSender creates a LINE sender.
func NewLineSender(logger *zap.Logger, cfg LineConfig) *LineSender {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RatePerSecond
	if rps == 0 {
		rps = 10
	}
	pushURL, broadcastURL := linePushURL, lineBroadcastURL
	if cfg.BaseURL != "" {
		pushURL = cfg.BaseURL + "/v2/bot/message/push"
		broadcastURL = cfg.BaseURL + "/v2/bot/message/broadcast"
	}
	return &LineSender{
		client:       &http.Client{Timeout: timeout},
		limiter:      rate.NewLimiter(rate.Limit(rps), 1),
		logger:       logger,
		pushURL:      pushURL,
		broadcastURL: broadcastURL,
	}
}

// SupportsType reports whether this sender handles the channel type.
func (s *LineSender) SupportsType(t db.ChannelType) bool {
	return t == db.ChannelLine
}

type lineTextMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type linePushRequest struct {
	To       string            `json:"to,omitempty"`
	Messages []lineTextMessage `json:"messages"`
}

// Send performs the provider call(s) and aggregates them into one
// outcome. A multi-recipient push fails as a whole when any single push
// fails; the error names the recipient that broke.
func (s *LineSender) Send(ctx context.Context, msg *db.Message, ch *db.Channel, recipients []string) Outcome {
	start := time.Now()

	if ch.Config.Line == nil || ch.Config.Line.AccessToken == "" {
		return Failure(fmt.Errorf("line channel %s has no access token", ch.ID), 0, time.Since(start))
	}
	token := ch.Config.Line.AccessToken
	text := renderText(msg)

	if len(recipients) == 0 {
		body := linePushRequest{Messages: []lineTextMessage{{Type: "text", Text: text}}}
		return s.post(ctx, s.broadcastURL, token, body, start)
	}

	var last Outcome
	for _, to := range recipients {
		body := linePushRequest{To: to, Messages: []lineTextMessage{{Type: "text", Text: text}}}
		last = s.post(ctx, s.pushURL, token, body, start)
		if !last.Success {
			last.Error = fmt.Sprintf("push to %s: %s", to, last.Error)
			last.Duration = time.Since(start)
			return last
		}
	}
	last.Duration = time.Since(start)
	return last
}

func (s *LineSender) post(ctx context.Context, url, token string, body any, start time.Time) Outcome {
	if err := s.limiter.Wait(ctx); err != nil {
		return Failure(fmt.Errorf("rate limiter: %w", err), 0, time.Since(start))
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Failure(fmt.Errorf("marshal line request: %w", err), 0, time.Since(start))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Failure(fmt.Errorf("build line request: %w", err), 0, time.Since(start))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.client.Do(req)
	if err != nil {
		return Failure(fmt.Errorf("line request failed: %w", err), 0, time.Since(start))
	}
	defer resp.Body.Close()

	preview, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	elapsed := time.Since(start)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.logger.Warn("line api rejected message",
			zap.Int("status_code", resp.StatusCode),
			zap.String("response", string(preview)),
		)
		return Outcome{
			StatusCode: resp.StatusCode,
			Duration:   elapsed,
			Response:   string(preview),
			Error:      fmt.Sprintf("line api status %d: %s", resp.StatusCode, string(preview)),
		}
	}

	return Outcome{
		Success:    true,
		StatusCode: resp.StatusCode,
		Duration:   elapsed,
		Response:   string(preview),
	}
}

func renderText(msg *db.Message) string {
	if msg.Title == "" {
		return msg.Content
	}
	return msg.Title + "\n\n" + msg.Content
}
