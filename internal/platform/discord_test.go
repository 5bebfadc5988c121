package platform

import (
	"errors"
	"net/http"
	"testing"

	"github.com/bwmarrin/discordgo"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		notFound bool
	}{
		{
			name:     "404 status",
			err:      &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusNotFound}},
			notFound: true,
		},
		{
			name: "unknown member code",
			err: &discordgo.RESTError{
				Response: &http.Response{StatusCode: http.StatusBadRequest},
				Message:  &discordgo.APIErrorMessage{Code: discordgo.ErrCodeUnknownMember},
			},
			notFound: true,
		},
		{
			name: "missing permissions",
			err: &discordgo.RESTError{
				Response: &http.Response{StatusCode: http.StatusForbidden},
				Message:  &discordgo.APIErrorMessage{Code: discordgo.ErrCodeMissingPermissions},
			},
		},
		{
			name: "plain error",
			err:  errors.New("connection reset"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapError(tt.err)
			if errors.Is(got, ErrNotFound) != tt.notFound {
				t.Errorf("errors.Is(ErrNotFound) = %v, want %v", !tt.notFound, tt.notFound)
			}
		})
	}
}

func TestToMember(t *testing.T) {
	m := toMember(&discordgo.Member{
		User:  &discordgo.User{ID: "123456789012345678", Username: "tony"},
		Nick:  "Tony M",
		Roles: []string{"1", "2"},
	})
	if m.UserID != "123456789012345678" {
		t.Errorf("unexpected user id %s", m.UserID)
	}
	if m.Name != "Tony M" {
		t.Errorf("expected nickname to win, got %s", m.Name)
	}
	if !m.HasRole("2") || m.HasRole("3") || m.HasRole("") {
		t.Error("unexpected HasRole result")
	}
}

func TestEmbedRoundTrip(t *testing.T) {
	in := Embed{
		Title:  "Warning",
		Color:  ColorWarn,
		Footer: "MW-2026-000001",
		Fields: []EmbedField{{Name: "Reason", Value: "test", Inline: true}},
	}
	out := fromDiscordEmbed(DiscordEmbed(in))
	if out.Title != in.Title || out.Color != in.Color || out.Footer != in.Footer {
		t.Errorf("unexpected embed %+v", out)
	}
	if len(out.Fields) != 1 || out.Fields[0].Value != "test" || !out.Fields[0].Inline {
		t.Errorf("unexpected fields %+v", out.Fields)
	}

	if e := DiscordEmbed(Embed{Title: "x"}); e.Footer != nil {
		t.Error("expected empty footer to be omitted")
	}
}

func TestIsTextChannel(t *testing.T) {
	if !isTextChannel(discordgo.ChannelTypeGuildText) {
		t.Error("expected guild text to be text")
	}
	if isTextChannel(discordgo.ChannelTypeGuildVoice) {
		t.Error("expected voice not to be text")
	}
}
