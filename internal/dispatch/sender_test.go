package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shiomiya/notihub/internal/db"
)

func makeTestMessage() *db.Message {
	return &db.Message{
		ID:      uuid.New(),
		UserID:  uuid.New(),
		Title:   "Deploy finished",
		Content: "v2.3.1 is live",
	}
}

func lineChannel(token string) *db.Channel {
	return &db.Channel{
		ID:     uuid.New(),
		Type:   db.ChannelLine,
		Name:   "ops-line",
		Config: db.ChannelConfig{Line: &db.LineConfig{AccessToken: token}},
	}
}

func telegramChannel(botToken, chatID string) *db.Channel {
	return &db.Channel{
		ID:     uuid.New(),
		Type:   db.ChannelTelegram,
		Name:   "ops-telegram",
		Config: db.ChannelConfig{Telegram: &db.TelegramConfig{BotToken: botToken, ChatID: chatID}},
	}
}

func TestMultiSenderRouting(t *testing.T) {
	logger := zap.NewNop()
	multi := NewMultiSender(
		NewLineSender(logger, LineConfig{}),
		NewTelegramSender(logger, TelegramConfig{}),
	)

	tests := []struct {
		name string
		t    db.ChannelType
		want bool
	}{
		{"line_supported", db.ChannelLine, true},
		{"telegram_supported", db.ChannelTelegram, true},
		{"email_not_supported", db.ChannelType("email"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := multi.SupportsType(tt.t); got != tt.want {
				t.Errorf("SupportsType(%s) = %v, want %v", tt.t, got, tt.want)
			}
		})
	}
}

func TestMultiSenderUnroutableType(t *testing.T) {
	multi := NewMultiSender(NewLineSender(zap.NewNop(), LineConfig{}))

	ch := telegramChannel("bot", "42")
	outcome := multi.Send(context.Background(), makeTestMessage(), ch, nil)
	if outcome.Success {
		t.Fatal("expected failure for unroutable channel type")
	}
	if !strings.Contains(outcome.Error, "no sender for channel type") {
		t.Errorf("unexpected error: %s", outcome.Error)
	}
}

func TestLineSenderBroadcast(t *testing.T) {
	var gotAuth string
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("{}"))
	}))
	defer srv.Close()

	sender := NewLineSender(zap.NewNop(), LineConfig{BaseURL: srv.URL})
	outcome := sender.Send(context.Background(), makeTestMessage(), lineChannel("tok-1"), nil)

	if !outcome.Success {
		t.Fatalf("expected success, got error: %s", outcome.Error)
	}
	if outcome.StatusCode != http.StatusOK {
		t.Errorf("status code = %d, want 200", outcome.StatusCode)
	}
	if gotAuth != "Bearer tok-1" {
		t.Errorf("authorization header = %q", gotAuth)
	}
	if gotPath != "/v2/bot/message/broadcast" {
		t.Errorf("no recipients should broadcast, hit %s", gotPath)
	}
}

func TestLineSenderPushPerRecipient(t *testing.T) {
	var targets []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			To string `json:"to"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		targets = append(targets, body.To)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := NewLineSender(zap.NewNop(), LineConfig{BaseURL: srv.URL, RatePerSecond: 1000})
	outcome := sender.Send(context.Background(), makeTestMessage(), lineChannel("tok"), []string{"U1", "U2"})

	if !outcome.Success {
		t.Fatalf("expected success, got error: %s", outcome.Error)
	}
	if len(targets) != 2 || targets[0] != "U1" || targets[1] != "U2" {
		t.Errorf("pushed to %v, want [U1 U2]", targets)
	}
}

func TestLineSenderProviderRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"invalid token"}`))
	}))
	defer srv.Close()

	sender := NewLineSender(zap.NewNop(), LineConfig{BaseURL: srv.URL})
	outcome := sender.Send(context.Background(), makeTestMessage(), lineChannel("bad"), nil)

	if outcome.Success {
		t.Fatal("expected failure on 401")
	}
	if outcome.StatusCode != http.StatusUnauthorized {
		t.Errorf("status code = %d, want 401", outcome.StatusCode)
	}
	if !strings.Contains(outcome.Error, "invalid token") {
		t.Errorf("error should carry provider response, got: %s", outcome.Error)
	}
}

func TestLineSenderMissingToken(t *testing.T) {
	sender := NewLineSender(zap.NewNop(), LineConfig{})
	ch := &db.Channel{ID: uuid.New(), Type: db.ChannelLine}

	outcome := sender.Send(context.Background(), makeTestMessage(), ch, nil)
	if outcome.Success {
		t.Fatal("expected failure for channel without access token")
	}
}

func TestLineSenderTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	sender := NewLineSender(zap.NewNop(), LineConfig{BaseURL: srv.URL, Timeout: 20 * time.Millisecond})
	outcome := sender.Send(context.Background(), makeTestMessage(), lineChannel("tok"), nil)

	if outcome.Success {
		t.Fatal("expected failure on timeout")
	}
	if outcome.Error == "" {
		t.Error("timeout outcome should carry an error")
	}
}

func TestTelegramSenderSend(t *testing.T) {
	var gotPath string
	var gotBody telegramSendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	sender := NewTelegramSender(zap.NewNop(), TelegramConfig{BaseURL: srv.URL})
	msg := makeTestMessage()
	outcome := sender.Send(context.Background(), msg, telegramChannel("bot-9", "-100123"), nil)

	if !outcome.Success {
		t.Fatalf("expected success, got error: %s", outcome.Error)
	}
	if gotPath != "/botbot-9/sendMessage" {
		t.Errorf("path = %s", gotPath)
	}
	if gotBody.ChatID != "-100123" {
		t.Errorf("chat_id = %s, want -100123", gotBody.ChatID)
	}
	if !strings.Contains(gotBody.Text, msg.Title) || !strings.Contains(gotBody.Text, msg.Content) {
		t.Errorf("text should carry title and content, got: %q", gotBody.Text)
	}
}

func TestTelegramSenderRecipientOverride(t *testing.T) {
	var gotBody telegramSendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	sender := NewTelegramSender(zap.NewNop(), TelegramConfig{BaseURL: srv.URL})
	outcome := sender.Send(context.Background(), makeTestMessage(), telegramChannel("bot", "default"), []string{"override"})

	if !outcome.Success {
		t.Fatalf("expected success, got error: %s", outcome.Error)
	}
	if gotBody.ChatID != "override" {
		t.Errorf("chat_id = %s, want override", gotBody.ChatID)
	}
}

func TestTelegramSenderMissingChatID(t *testing.T) {
	sender := NewTelegramSender(zap.NewNop(), TelegramConfig{})
	outcome := sender.Send(context.Background(), makeTestMessage(), telegramChannel("bot", ""), nil)

	if outcome.Success {
		t.Fatal("expected failure without a chat id")
	}
}

func TestTelegramSenderProviderRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"ok":false,"description":"Too Many Requests"}`))
	}))
	defer srv.Close()

	sender := NewTelegramSender(zap.NewNop(), TelegramConfig{BaseURL: srv.URL})
	outcome := sender.Send(context.Background(), makeTestMessage(), telegramChannel("bot", "42"), nil)

	if outcome.Success {
		t.Fatal("expected failure on 429")
	}
	if outcome.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status code = %d, want 429", outcome.StatusCode)
	}
}

func TestRenderText(t *testing.T) {
	if got := renderText(&db.Message{Title: "T", Content: "C"}); got != "T\n\nC" {
		t.Errorf("renderText = %q", got)
	}
	if got := renderText(&db.Message{Content: "just body"}); got != "just body" {
		t.Errorf("renderText without title = %q", got)
	}
}
