package bot

import (
	"fmt"

	"github.com/XpNow/PHX-Bot/internal/models"
	"github.com/bwmarrin/discordgo"
)

// Command and subcommand names.
const (
	CommandStatus   = "fstatus"
	CommandOrg      = "org"
	CommandCooldown = "cooldown"
	CommandWarn     = "warn"
	CommandWarnings = "warnings"
	CommandAlert    = "falert"

	SubAdd       = "add"
	SubRemove    = "remove"
	SubRoster    = "roster"
	SubCooldowns = "cooldowns"
	SubRank      = "rank"
	SubDelete    = "delete"
	SubSet       = "set"
	SubClear     = "clear"
)

// Option names.
const (
	OptUser         = "user"
	OptOrganization = "organization"
	OptPK           = "pk"
	OptKind         = "kind"
	OptDays         = "days"
	OptReason       = "reason"
	OptSanction     = "sanction"
	OptTarget       = "target"
	OptRank         = "rank"
	OptLocation     = "location"
	OptDetails      = "details"
)

// Commands returns the slash command definitions registered for the guild.
func Commands() []*discordgo.ApplicationCommand {
	dm := false
	minDays := 1.0

	userOpt := func(desc string, required bool) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionUser,
			Name:        OptUser,
			Description: desc,
			Required:    required,
		}
	}
	daysOpt := func(desc string) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionInteger,
			Name:        OptDays,
			Description: desc,
			MinValue:    &minDays,
			MaxValue:    3650,
		}
	}

	orgOpt := func(desc string, required bool) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        OptOrganization,
			Description: desc,
			Required:    required,
		}
	}

	kindChoices := make([]*discordgo.ApplicationCommandOptionChoice, 0, 2)
	for _, k := range models.CooldownKinds() {
		kindChoices = append(kindChoices, &discordgo.ApplicationCommandOptionChoice{Name: string(k), Value: string(k)})
	}

	return []*discordgo.ApplicationCommand{
		{
			Name:         CommandStatus,
			Description:  "Show organization, rank and cooldown status",
			DMPermission: &dm,
			Options:      []*discordgo.ApplicationCommandOption{userOpt("Member to inspect (defaults to you)", false)},
		},
		{
			Name:         CommandOrg,
			Description:  "Manage organization members",
			DMPermission: &dm,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        SubAdd,
					Description: "Add a member to an organization",
					Options: []*discordgo.ApplicationCommandOption{
						userOpt("Member to add", true),
						orgOpt("Organization id", true),
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        SubRemove,
					Description: "Remove a member from their organization",
					Options: []*discordgo.ApplicationCommandOption{
						userOpt("Member to remove", true),
						{
							Type:        discordgo.ApplicationCommandOptionBoolean,
							Name:        OptPK,
							Description: "Apply a PK cooldown",
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        SubRoster,
					Description: "List the members of an organization",
					Options:     []*discordgo.ApplicationCommandOption{orgOpt("Organization id (defaults to yours)", false)},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        SubCooldowns,
					Description: "List cooldowns of former members",
					Options:     []*discordgo.ApplicationCommandOption{orgOpt("Organization id (defaults to yours)", false)},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        SubRank,
					Description: "Change a member's rank",
					Options: []*discordgo.ApplicationCommandOption{
						userOpt("Member", true),
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        OptRank,
							Description: "Rank key",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        SubDelete,
					Description: "Deactivate an organization",
					Options:     []*discordgo.ApplicationCommandOption{orgOpt("Organization id", true)},
				},
			},
		},
		{
			Name:         CommandCooldown,
			Description:  "Manage member cooldowns",
			DMPermission: &dm,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        SubSet,
					Description: "Place a member in cooldown",
					Options: []*discordgo.ApplicationCommandOption{
						userOpt("Member", true),
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        OptKind,
							Description: "Cooldown kind",
							Required:    true,
							Choices:     kindChoices,
						},
						daysOpt("Length in days (defaults to the configured length)"),
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        SubClear,
					Description: "Lift a member's cooldown",
					Options:     []*discordgo.ApplicationCommandOption{userOpt("Member", true)},
				},
			},
		},
		{
			Name:         CommandWarn,
			Description:  "Issue an organization warning",
			DMPermission: &dm,
			Options: []*discordgo.ApplicationCommandOption{
				orgOpt("Organization id", true),
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        OptReason,
					Description: "Reason",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        OptSanction,
					Description: "Sanction applied",
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        OptTarget,
					Description: "Who the warning concerns",
				},
				daysOpt("Days until the warning expires (never when omitted)"),
			},
		},
		{
			Name:         CommandWarnings,
			Description:  "List an organization's active warnings",
			DMPermission: &dm,
			Options:      []*discordgo.ApplicationCommandOption{orgOpt("Organization id", true)},
		},
		{
			Name:         CommandAlert,
			Description:  "Raise a faction alert",
			DMPermission: &dm,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        OptLocation,
					Description: "Where it is happening",
					Required:    true,
					MaxLength:   200,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        OptDetails,
					Description: "What is happening",
					MaxLength:   1000,
				},
			},
		},
	}
}

// CommandFromInteraction flattens a slash command interaction into a Command.
func CommandFromInteraction(i *discordgo.InteractionCreate) Command {
	data := i.ApplicationCommandData()
	cmd := Command{
		Name:    data.Name,
		Options: make(map[string]any),
	}
	if i.Member != nil {
		if i.Member.User != nil {
			cmd.CallerID = i.Member.User.ID
		}
		cmd.CallerRoleIDs = i.Member.Roles
	}

	opts := data.Options
	if len(opts) == 1 && opts[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		cmd.Subcommand = opts[0].Name
		opts = opts[0].Options
	}
	for _, o := range opts {
		switch o.Type {
		case discordgo.ApplicationCommandOptionInteger:
			cmd.Options[o.Name] = o.IntValue()
		case discordgo.ApplicationCommandOptionBoolean:
			cmd.Options[o.Name] = o.BoolValue()
		default:
			cmd.Options[o.Name] = fmt.Sprint(o.Value)
		}
	}
	return cmd
}
