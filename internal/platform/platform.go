// Package platform abstracts the chat platform the bot manages.
package platform

import (
	"context"
	"errors"
	"slices"
)

// ErrNotFound is returned when a guild, member, channel or message does not exist.
var ErrNotFound = errors.New("platform: not found")

// Guild is the community server the bot manages.
type Guild struct {
	ID      string
	Name    string
	OwnerID string
}

// Member is a guild member with the roles they currently hold.
type Member struct {
	UserID  string
	Name    string
	RoleIDs []string
}

// HasRole reports whether the member holds roleID. The empty id is never held.
func (m *Member) HasRole(roleID string) bool {
	return roleID != "" && slices.Contains(m.RoleIDs, roleID)
}

// Channel is a guild channel.
type Channel struct {
	ID     string
	Name   string
	IsText bool
}

// EmbedField is a name/value pair inside an Embed.
type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

// Embed is a rich message block.
type Embed struct {
	Title       string
	Description string
	Color       int
	Footer      string
	Timestamp   string
	Fields      []EmbedField
}

// Message is a posted channel message.
type Message struct {
	ID        string
	ChannelID string
	Content   string
	Embeds    []Embed
}

// Client is the set of platform calls the bot makes. Every call can fail
// independently.
type Client interface {
	Guild(ctx context.Context, guildID string) (*Guild, error)
	Members(ctx context.Context, guildID string) ([]*Member, error)
	Member(ctx context.Context, guildID, userID string) (*Member, error)
	AddRole(ctx context.Context, guildID, userID, roleID string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID string) error
	Channel(ctx context.Context, channelID string) (*Channel, error)
	Message(ctx context.Context, channelID, messageID string) (*Message, error)
	SendEmbed(ctx context.Context, channelID string, embed Embed) (*Message, error)
	EditEmbeds(ctx context.Context, channelID, messageID string, embeds []Embed) error
}

// Colors used by bot embeds.
const (
	ColorInfo    = 0x5865F2
	ColorSuccess = 0x57F287
	ColorWarn    = 0xFEE75C
	ColorDanger  = 0xED4245
)
