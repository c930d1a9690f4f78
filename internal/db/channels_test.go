package db

import (
	"testing"

	"github.com/google/uuid"
)

func targetTestChannel(userID uuid.UUID, typ ChannelType, name string, enabled bool) *Channel {
	return &Channel{
		ID:      uuid.New(),
		UserID:  userID,
		Type:    typ,
		Name:    name,
		Enabled: enabled,
	}
}

func TestSelectTargetsSkipsDisabledChannels(t *testing.T) {
	userID := uuid.New()
	line := targetTestChannel(userID, ChannelLine, "line-ok", true)
	telegram := targetTestChannel(userID, ChannelTelegram, "tg-off", false)

	msg := &Message{
		UserID:     userID,
		ChannelIDs: []uuid.UUID{line.ID, telegram.ID},
	}

	got := selectTargets(msg, []*Channel{line, telegram})
	if len(got) != 1 {
		t.Fatalf("targets = %d, want 1", len(got))
	}
	if got[0].ID != line.ID {
		t.Errorf("selected %s, want %s", got[0].Name, line.Name)
	}
}

func TestSelectTargetsTypeFilterSkipsDisabled(t *testing.T) {
	userID := uuid.New()
	enabled := targetTestChannel(userID, ChannelTelegram, "tg-on", true)
	disabled := targetTestChannel(userID, ChannelTelegram, "tg-off", false)

	msg := &Message{UserID: userID, ChannelType: ChannelTelegram}

	got := selectTargets(msg, []*Channel{enabled, disabled})
	if len(got) != 1 || got[0].ID != enabled.ID {
		t.Fatalf("targets = %v, want only the enabled telegram channel", names(got))
	}
}

func TestSelectTargetsUnionDeduplicates(t *testing.T) {
	userID := uuid.New()
	line := targetTestChannel(userID, ChannelLine, "line", true)
	telegram := targetTestChannel(userID, ChannelTelegram, "tg", true)

	// line is named both by id and by the type filter; it must still
	// appear exactly once.
	msg := &Message{
		UserID:      userID,
		ChannelIDs:  []uuid.UUID{line.ID, telegram.ID},
		ChannelType: ChannelLine,
	}

	got := selectTargets(msg, []*Channel{line, telegram})
	if len(got) != 2 {
		t.Fatalf("targets = %v, want line and tg once each", names(got))
	}
}

func TestTargetsChannel(t *testing.T) {
	userID := uuid.New()
	ch := targetTestChannel(userID, ChannelLine, "line", true)

	tests := []struct {
		name string
		msg  *Message
		want bool
	}{
		{"by_id", &Message{UserID: userID, ChannelIDs: []uuid.UUID{ch.ID}}, true},
		{"by_type", &Message{UserID: userID, ChannelType: ChannelLine}, true},
		{"other_type", &Message{UserID: userID, ChannelType: ChannelTelegram}, false},
		{"no_selection", &Message{UserID: userID}, false},
		{"other_user", &Message{UserID: uuid.New(), ChannelIDs: []uuid.UUID{ch.ID}}, false},
		{"unknown_id", &Message{UserID: userID, ChannelIDs: []uuid.UUID{uuid.New()}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := targetsChannel(tt.msg, ch); got != tt.want {
				t.Errorf("targetsChannel = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTargetsChannelDisabled(t *testing.T) {
	userID := uuid.New()
	ch := targetTestChannel(userID, ChannelLine, "line", false)

	msg := &Message{UserID: userID, ChannelIDs: []uuid.UUID{ch.ID}, ChannelType: ChannelLine}
	if targetsChannel(msg, ch) {
		t.Error("disabled channel must never be targeted")
	}
}

func names(channels []*Channel) []string {
	out := make([]string, len(channels))
	for i, ch := range channels {
		out[i] = ch.Name
	}
	return out
}
