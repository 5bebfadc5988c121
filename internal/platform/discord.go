package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
)

// memberPageSize is the largest page the members endpoint returns.
const memberPageSize = 1000

// Discord implements Client on top of a discordgo session.
type Discord struct {
	session *discordgo.Session
	logger  zerolog.Logger
}

// NewDiscord creates a Client backed by session.
func NewDiscord(session *discordgo.Session, logger zerolog.Logger) *Discord {
	return &Discord{
		session: session,
		logger:  logger.With().Str("component", "discord").Logger(),
	}
}

// Session returns the underlying session.
func (d *Discord) Session() *discordgo.Session {
	return d.session
}

// Guild fetches a guild.
func (d *Discord) Guild(ctx context.Context, guildID string) (*Guild, error) {
	g, err := d.session.Guild(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch guild %s: %w", guildID, mapError(err))
	}
	return &Guild{ID: g.ID, Name: g.Name, OwnerID: g.OwnerID}, nil
}

// Members fetches every member of a guild, following pagination.
func (d *Discord) Members(ctx context.Context, guildID string) ([]*Member, error) {
	var (
		out   []*Member
		after string
	)
	for {
		page, err := d.session.GuildMembers(guildID, after, memberPageSize, discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("fetch guild members: %w", mapError(err))
		}
		for _, m := range page {
			if m.User == nil {
				continue
			}
			out = append(out, toMember(m))
		}
		if len(page) < memberPageSize {
			break
		}
		last := page[len(page)-1]
		if last.User == nil {
			break
		}
		after = last.User.ID
	}
	d.logger.Debug().Int("members", len(out)).Msg("fetched guild members")
	return out, nil
}

// Member fetches a single member.
func (d *Discord) Member(ctx context.Context, guildID, userID string) (*Member, error) {
	m, err := d.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch member %s: %w", userID, mapError(err))
	}
	return toMember(m), nil
}

// AddRole grants roleID to a member.
func (d *Discord) AddRole(ctx context.Context, guildID, userID, roleID string) error {
	if err := d.session.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("add role %s to %s: %w", roleID, userID, mapError(err))
	}
	return nil
}

// RemoveRole revokes roleID from a member.
func (d *Discord) RemoveRole(ctx context.Context, guildID, userID, roleID string) error {
	if err := d.session.GuildMemberRoleRemove(guildID, userID, roleID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("remove role %s from %s: %w", roleID, userID, mapError(err))
	}
	return nil
}

// Channel fetches a channel.
func (d *Discord) Channel(ctx context.Context, channelID string) (*Channel, error) {
	c, err := d.session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch channel %s: %w", channelID, mapError(err))
	}
	return &Channel{ID: c.ID, Name: c.Name, IsText: isTextChannel(c.Type)}, nil
}

// Message fetches a message.
func (d *Discord) Message(ctx context.Context, channelID, messageID string) (*Message, error) {
	m, err := d.session.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch message %s: %w", messageID, mapError(err))
	}
	return toMessage(m), nil
}

// SendEmbed posts a message containing a single embed.
func (d *Discord) SendEmbed(ctx context.Context, channelID string, embed Embed) (*Message, error) {
	m, err := d.session.ChannelMessageSendEmbed(channelID, DiscordEmbed(embed), discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("send message to %s: %w", channelID, mapError(err))
	}
	return toMessage(m), nil
}

// EditEmbeds replaces the embeds of a message.
func (d *Discord) EditEmbeds(ctx context.Context, channelID, messageID string, embeds []Embed) error {
	out := make([]*discordgo.MessageEmbed, 0, len(embeds))
	for _, e := range embeds {
		out = append(out, DiscordEmbed(e))
	}
	if _, err := d.session.ChannelMessageEditEmbeds(channelID, messageID, out, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("edit message %s: %w", messageID, mapError(err))
	}
	return nil
}

// mapError turns a 404 REST error into ErrNotFound and keeps the REST error wrapped.
func mapError(err error) error {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) {
		if restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		if restErr.Message != nil {
			switch restErr.Message.Code {
			case discordgo.ErrCodeUnknownMember, discordgo.ErrCodeUnknownUser,
				discordgo.ErrCodeUnknownMessage, discordgo.ErrCodeUnknownChannel,
				discordgo.ErrCodeUnknownGuild, discordgo.ErrCodeUnknownRole:
				return fmt.Errorf("%w: %v", ErrNotFound, err)
			}
		}
	}
	return err
}

func isTextChannel(t discordgo.ChannelType) bool {
	switch t {
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews,
		discordgo.ChannelTypeGuildPublicThread, discordgo.ChannelTypeGuildPrivateThread,
		discordgo.ChannelTypeGuildNewsThread:
		return true
	}
	return false
}

func toMember(m *discordgo.Member) *Member {
	out := &Member{RoleIDs: append([]string(nil), m.Roles...)}
	if m.User != nil {
		out.UserID = m.User.ID
		out.Name = m.User.Username
	}
	if m.Nick != "" {
		out.Name = m.Nick
	}
	return out
}

func toMessage(m *discordgo.Message) *Message {
	out := &Message{ID: m.ID, ChannelID: m.ChannelID, Content: m.Content}
	for _, e := range m.Embeds {
		if e == nil {
			continue
		}
		out.Embeds = append(out.Embeds, fromDiscordEmbed(e))
	}
	return out
}

func fromDiscordEmbed(e *discordgo.MessageEmbed) Embed {
	out := Embed{
		Title:       e.Title,
		Description: e.Description,
		Color:       e.Color,
		Timestamp:   e.Timestamp,
	}
	if e.Footer != nil {
		out.Footer = e.Footer.Text
	}
	for _, f := range e.Fields {
		if f == nil {
			continue
		}
		out.Fields = append(out.Fields, EmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	return out
}

// DiscordEmbed converts an Embed to its discordgo form.
func DiscordEmbed(e Embed) *discordgo.MessageEmbed {
	out := &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: e.Description,
		Color:       e.Color,
		Timestamp:   e.Timestamp,
	}
	if e.Footer != "" {
		out.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
	}
	for _, f := range e.Fields {
		out.Fields = append(out.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	return out
}
