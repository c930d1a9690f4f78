package db

import (
	"testing"

	"github.com/google/uuid"
)

func TestValidTransition(t *testing.T) {
	tests := []struct {
		name string
		from MessageStatus
		to   MessageStatus
		want bool
	}{
		{"pending_to_sending", StatusPending, StatusSending, true},
		{"scheduled_to_sending", StatusScheduled, StatusSending, true},
		{"sending_to_sent", StatusSending, StatusSent, true},
		{"sending_to_partial", StatusSending, StatusPartial, true},
		{"sending_to_failed", StatusSending, StatusFailed, true},
		{"sending_to_scheduled_reclaim", StatusSending, StatusScheduled, true},
		{"pending_to_sent", StatusPending, StatusSent, false},
		{"scheduled_to_failed", StatusScheduled, StatusFailed, false},
		{"sent_to_sending", StatusSent, StatusSending, false},
		{"failed_to_scheduled", StatusFailed, StatusScheduled, false},
		{"partial_to_sent", StatusPartial, StatusSent, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("ValidTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestTerminal(t *testing.T) {
	terminal := []MessageStatus{StatusSent, StatusPartial, StatusFailed}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	live := []MessageStatus{StatusPending, StatusScheduled, StatusSending}
	for _, s := range live {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func result(success bool) *DeliveryResult {
	return &DeliveryResult{ID: uuid.New(), Success: success}
}

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name    string
		results []*DeliveryResult
		want    MessageStatus
	}{
		{"no_results", nil, StatusFailed},
		{"all_success", []*DeliveryResult{result(true), result(true)}, StatusSent},
		{"all_failure", []*DeliveryResult{result(false), result(false)}, StatusFailed},
		{"mixed", []*DeliveryResult{result(true), result(false)}, StatusPartial},
		{"single_success", []*DeliveryResult{result(true)}, StatusSent},
		{"single_failure", []*DeliveryResult{result(false)}, StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveStatus(tt.results); got != tt.want {
				t.Errorf("DeriveStatus() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestChannelValidate(t *testing.T) {
	tests := []struct {
		name    string
		channel Channel
		wantErr bool
	}{
		{
			"valid_line",
			Channel{Type: ChannelLine, Config: ChannelConfig{Line: &LineConfig{AccessToken: "tok"}}},
			false,
		},
		{
			"line_missing_token",
			Channel{Type: ChannelLine, Config: ChannelConfig{Line: &LineConfig{}}},
			true,
		},
		{
			"line_missing_config",
			Channel{Type: ChannelLine},
			true,
		},
		{
			"valid_telegram",
			Channel{Type: ChannelTelegram, Config: ChannelConfig{Telegram: &TelegramConfig{BotToken: "bot", ChatID: "42"}}},
			false,
		},
		{
			"telegram_missing_chat_id",
			Channel{Type: ChannelTelegram, Config: ChannelConfig{Telegram: &TelegramConfig{BotToken: "bot"}}},
			true,
		},
		{
			"unknown_type",
			Channel{Type: "email"},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.channel.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestKnownChannelType(t *testing.T) {
	if !KnownChannelType(ChannelLine) || !KnownChannelType(ChannelTelegram) {
		t.Error("line and telegram should be known channel types")
	}
	if KnownChannelType("email") || KnownChannelType("") {
		t.Error("unknown types should not be accepted")
	}
}
