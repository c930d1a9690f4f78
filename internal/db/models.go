package db

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageStatus is the lifecycle state of a message. Transitions are
// forward only; ValidTransition is the single authority on what is legal.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusScheduled MessageStatus = "scheduled"
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusPartial   MessageStatus = "partial"
	StatusFailed    MessageStatus = "failed"
)

// Terminal reports whether no further transition may leave this status.
func (s MessageStatus) Terminal() bool {
	return s == StatusSent || s == StatusPartial || s == StatusFailed
}

// ValidTransition reports whether from -> to is a legal status change.
//
//	pending   -> sending
//	scheduled -> sending
//	sending   -> sent | partial | failed
//	sending   -> scheduled   (reclamation of a stuck message only)
func ValidTransition(from, to MessageStatus) bool {
	switch from {
	case StatusPending, StatusScheduled:
		return to == StatusSending
	case StatusSending:
		return to == StatusSent || to == StatusPartial || to == StatusFailed || to == StatusScheduled
	default:
		return false
	}
}

// ChannelType identifies the outbound provider backing a channel.
type ChannelType string

const (
	ChannelLine     ChannelType = "line"
	ChannelTelegram ChannelType = "telegram"
)

// KnownChannelType reports whether t is a provider this hub can dispatch to.
func KnownChannelType(t ChannelType) bool {
	return t == ChannelLine || t == ChannelTelegram
}

// Message is one notification unit: title + content, a target channel
// selection, and a delivery lifecycle driven by the scheduler.
type Message struct {
	ID          uuid.UUID     `json:"id"`
	UserID      uuid.UUID     `json:"user_id"`
	Title       string        `json:"title"`
	Content     string        `json:"content"`
	Status      MessageStatus `json:"status"`
	ScheduledAt *time.Time    `json:"scheduled_at,omitempty"`
	SentAt      *time.Time    `json:"sent_at,omitempty"`

	// Target selection: explicit channel ids and/or a type filter.
	// Recipients optionally narrows delivery per channel (LINE user ids).
	ChannelIDs  []uuid.UUID            `json:"channel_ids,omitempty"`
	ChannelType ChannelType            `json:"channel_type,omitempty"`
	Recipients  map[uuid.UUID][]string `json:"recipients,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Channel is a configured outbound destination. Config is the
// provider-specific credential set for the channel's type.
type Channel struct {
	ID         uuid.UUID     `json:"id"`
	UserID     uuid.UUID     `json:"user_id"`
	Type       ChannelType   `json:"type"`
	Name       string        `json:"name"`
	Enabled    bool          `json:"enabled"`
	Config     ChannelConfig `json:"config"`
	WebhookKey string        `json:"webhook_key,omitempty"` // LINE only, immutable once issued
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// ChannelConfig is the tagged union of per-provider credentials. Exactly
// one variant is populated, keyed by Channel.Type.
type ChannelConfig struct {
	Line     *LineConfig     `json:"line,omitempty"`
	Telegram *TelegramConfig `json:"telegram,omitempty"`
}

// LineConfig holds LINE Messaging API credentials.
type LineConfig struct {
	AccessToken   string `json:"access_token"`
	ChannelSecret string `json:"channel_secret"`
}

// TelegramConfig holds Telegram Bot API credentials.
type TelegramConfig struct {
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

// Validate checks that the config variant matches the channel type and
// carries the credentials the dispatcher needs.
func (c *Channel) Validate() error {
	switch c.Type {
	case ChannelLine:
		if c.Config.Line == nil || c.Config.Line.AccessToken == "" {
			return fmt.Errorf("line channel %s missing access token", c.ID)
		}
	case ChannelTelegram:
		if c.Config.Telegram == nil || c.Config.Telegram.BotToken == "" || c.Config.Telegram.ChatID == "" {
			return fmt.Errorf("telegram channel %s missing bot token or chat id", c.ID)
		}
	default:
		return fmt.Errorf("unknown channel type: %s", c.Type)
	}
	return nil
}

// DeliveryResult is one outcome of attempting to send one message through
// one channel. Channel name and type are cached at send time so deleting
// the channel later does not corrupt history. Rows are never mutated.
type DeliveryResult struct {
	ID           uuid.UUID   `json:"id"`
	MessageID    uuid.UUID   `json:"message_id"`
	ChannelID    uuid.UUID   `json:"channel_id"`
	ChannelName  string      `json:"channel_name"`
	ChannelType  ChannelType `json:"channel_type"`
	Success      bool        `json:"success"`
	StatusCode   int         `json:"status_code"`
	ResponseTime int64       `json:"response_time_ms"`
	ErrorMessage *string     `json:"error_message,omitempty"`
	SentAt       time.Time   `json:"sent_at"`
}

// DeriveStatus computes a message's aggregate status from its delivery
// results: all success -> sent, all failure -> failed, mixed -> partial.
// No results at all (zero viable channels) is a failure.
func DeriveStatus(results []*DeliveryResult) MessageStatus {
	if len(results) == 0 {
		return StatusFailed
	}
	ok, bad := 0, 0
	for _, r := range results {
		if r.Success {
			ok++
		} else {
			bad++
		}
	}
	switch {
	case bad == 0:
		return StatusSent
	case ok == 0:
		return StatusFailed
	default:
		return StatusPartial
	}
}
