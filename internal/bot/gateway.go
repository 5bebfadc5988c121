package bot

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/XpNow/PHX-Bot/internal/platform"
	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
)

// DefaultCommandTimeout bounds the work done for a single interaction.
const DefaultCommandTimeout = 10 * time.Second

const msgShuttingDown = "The bot is restarting. Try again in a moment."

// Gate reports whether new interactions may start.
type Gate interface {
	IsAccepting() bool
}

// GuildLookup fetches guild metadata when it is missing from the gateway state.
type GuildLookup interface {
	Guild(ctx context.Context, guildID string) (*platform.Guild, error)
}

// Gateway connects a discordgo session to a Dispatcher.
type Gateway struct {
	session    *discordgo.Session
	dispatcher *Dispatcher
	guilds     GuildLookup
	guildID    string
	timeout    time.Duration
	gate       Gate
	logger     zerolog.Logger

	inFlight      atomic.Int64
	removeHandler func()
}

// NewGateway creates a Gateway serving interactions from guildID only.
func NewGateway(session *discordgo.Session, dispatcher *Dispatcher, guilds GuildLookup, guildID string, logger zerolog.Logger) *Gateway {
	return &Gateway{
		session:    session,
		dispatcher: dispatcher,
		guilds:     guilds,
		guildID:    guildID,
		timeout:    DefaultCommandTimeout,
		logger:     logger.With().Str("component", "gateway").Logger(),
	}
}

// SetGate makes the gateway refuse interactions while gate is closed.
func (g *Gateway) SetGate(gate Gate) {
	g.gate = gate
}

// InFlight returns the number of interactions being handled.
func (g *Gateway) InFlight() int {
	return int(g.inFlight.Load())
}

// Open connects to the gateway and registers the guild's slash commands.
func (g *Gateway) Open(ctx context.Context) error {
	g.session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers
	g.removeHandler = g.session.AddHandler(g.onInteraction)

	if err := g.session.Open(); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}

	appID := g.session.State.User.ID
	cmds, err := g.session.ApplicationCommandBulkOverwrite(appID, g.guildID, Commands(), discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("register commands: %w", err)
	}
	g.logger.Info().
		Str("application_id", appID).
		Str("guild_id", g.guildID).
		Int("commands", len(cmds)).
		Msg("gateway connected")
	return nil
}

// Close disconnects from the gateway.
func (g *Gateway) Close() error {
	if g.removeHandler != nil {
		g.removeHandler()
	}
	return g.session.Close()
}

func (g *Gateway) accepts(i *discordgo.InteractionCreate) bool {
	return i.Type == discordgo.InteractionApplicationCommand &&
		i.GuildID == g.guildID &&
		i.Member != nil && i.Member.User != nil
}

func (g *Gateway) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !g.accepts(i) {
		return
	}
	g.inFlight.Add(1)
	defer g.inFlight.Add(-1)

	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()

	logger := g.logger.With().Str("interaction_id", i.ID).Logger()

	if g.gate != nil && !g.gate.IsAccepting() {
		err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{Content: msgShuttingDown, Flags: discordgo.MessageFlagsEphemeral},
		}, discordgo.WithContext(ctx))
		if err != nil {
			logger.Debug().Err(err).Msg("failed to refuse interaction")
		}
		return
	}

	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	}, discordgo.WithContext(ctx))
	if err != nil {
		logger.Error().Err(err).Msg("failed to acknowledge interaction")
		return
	}

	cmd := CommandFromInteraction(i)
	cmd.GuildOwnerID = g.guildOwner(ctx, i.GuildID)

	reply := g.dispatcher.Handle(ctx, cmd)
	if _, err := s.InteractionResponseEdit(i.Interaction, webhookEdit(reply), discordgo.WithContext(ctx)); err != nil {
		logger.Error().Err(err).Str("command", cmd.Name).Msg("failed to send reply")
	}
}

// guildOwner returns the guild owner's id, preferring the gateway state.
func (g *Gateway) guildOwner(ctx context.Context, guildID string) string {
	if g.session.State != nil {
		if guild, err := g.session.State.Guild(guildID); err == nil && guild.OwnerID != "" {
			return guild.OwnerID
		}
	}
	if g.guilds == nil {
		return ""
	}
	guild, err := g.guilds.Guild(ctx, guildID)
	if err != nil {
		g.logger.Warn().Err(err).Str("guild_id", guildID).Msg("failed to fetch guild owner")
		return ""
	}
	return guild.OwnerID
}

func webhookEdit(r Reply) *discordgo.WebhookEdit {
	edit := &discordgo.WebhookEdit{}
	if r.Content != "" {
		content := r.Content
		edit.Content = &content
	}
	if len(r.Embeds) > 0 {
		embeds := make([]*discordgo.MessageEmbed, 0, len(r.Embeds))
		for _, e := range r.Embeds {
			embeds = append(embeds, platform.DiscordEmbed(e))
		}
		edit.Embeds = &embeds
	}
	return edit
}
