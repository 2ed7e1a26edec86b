package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
)

const replyColor = 0xFD6A02

type commandHandler func(ctx context.Context, b *Bot, s *discordgo.Session, i *discordgo.InteractionCreate) error

var adminOnly int64 = discordgo.PermissionManageServer

// commandDefs and commandHandlers together form the static registry. They are
// cross-checked at startup so a definition without a handler (or the reverse)
// fails fast instead of silently dropping interactions.
var commandDefs = []*discordgo.ApplicationCommand{
	{
		Name:                     "watch",
		Description:              "Announce the given Twitch streamers in a channel when they go live",
		DefaultMemberPermissions: &adminOnly,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "streamers",
				Description: "Twitch logins, separated by spaces",
				Required:    true,
			},
			{
				Type:         discordgo.ApplicationCommandOptionChannel,
				Name:         "channel",
				Description:  "Channel to announce in (default: this one)",
				ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
			},
			{
				Type:        discordgo.ApplicationCommandOptionRole,
				Name:        "role",
				Description: "Role to mention in announcements",
			},
		},
	},
	{
		Name:                     "unwatch",
		Description:              "Stop announcing a streamer",
		DefaultMemberPermissions: &adminOnly,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "streamer",
				Description: "Twitch login to stop watching",
				Required:    true,
			},
			{
				Type:         discordgo.ApplicationCommandOptionChannel,
				Name:         "channel",
				Description:  "Only remove from this channel (default: whole server)",
				ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
			},
		},
	},
	{
		Name:                     "list",
		Description:              "Show the streamers watched on this server",
		DefaultMemberPermissions: &adminOnly,
	},
	{
		Name:                     "reset",
		Description:              "Remove every watch entry on this server",
		DefaultMemberPermissions: &adminOnly,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionBoolean,
				Name:        "confirm",
				Description: "Set to True to confirm",
				Required:    true,
			},
		},
	},
}

var commandHandlers = map[string]commandHandler{
	"watch":   handleWatch,
	"unwatch": handleUnwatch,
	"list":    handleList,
	"reset":   handleReset,
}

func validateRegistry() error {
	defined := make(map[string]bool, len(commandDefs))
	for _, c := range commandDefs {
		defined[c.Name] = true
		if commandHandlers[c.Name] == nil {
			return fmt.Errorf("command %q has no handler", c.Name)
		}
	}
	for name := range commandHandlers {
		if !defined[name] {
			return fmt.Errorf("handler %q has no command definition", name)
		}
	}
	return nil
}

// ParseStreamerArg splits the space-separated streamer option into logins.
func ParseStreamerArg(raw string) []string {
	return strings.Fields(raw)
}

func optionMap(i *discordgo.InteractionCreate) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	opts := i.ApplicationCommandData().Options
	m := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(opts))
	for _, o := range opts {
		m[o.Name] = o
	}
	return m
}

func handleWatch(ctx context.Context, b *Bot, s *discordgo.Session, i *discordgo.InteractionCreate) error {
	opts := optionMap(i)

	channelID := i.ChannelID
	if o, ok := opts["channel"]; ok {
		channelID = o.ChannelValue(nil).ID
	}
	roleID := ""
	if o, ok := opts["role"]; ok {
		roleID = o.RoleValue(nil, "").ID
	}
	logins := ParseStreamerArg(opts["streamers"].StringValue())
	if len(logins) == 0 {
		b.replyText(s, i, "Give me at least one streamer login.")
		return nil
	}

	res, err := b.store.AddWatchEntries(ctx, i.GuildID, channelID, roleID, logins)
	if err != nil {
		return err
	}

	var lines []string
	if len(res.Added) > 0 {
		lines = append(lines, fmt.Sprintf("Now watching: **%s** in <#%s>", strings.Join(res.Added, ", "), channelID))
	}
	if len(res.Skipped) > 0 {
		lines = append(lines, fmt.Sprintf("Skipped (already watched or invalid): %s", strings.Join(res.Skipped, ", ")))
	}
	if len(lines) == 0 {
		lines = append(lines, "Nothing to add.")
	}
	return b.replyEmbed(s, i, strings.Join(lines, "\n"))
}

func handleUnwatch(ctx context.Context, b *Bot, s *discordgo.Session, i *discordgo.InteractionCreate) error {
	opts := optionMap(i)
	channelID := ""
	if o, ok := opts["channel"]; ok {
		channelID = o.ChannelValue(nil).ID
	}
	login := opts["streamer"].StringValue()

	n, err := b.store.RemoveWatchEntry(ctx, i.GuildID, channelID, login)
	if err != nil {
		return err
	}
	if n == 0 {
		return b.replyEmbed(s, i, fmt.Sprintf("**%s** was not being watched.", login))
	}
	return b.replyEmbed(s, i, fmt.Sprintf("Stopped watching **%s** (%d entries removed). Any live announcement will be cleaned up shortly.", login, n))
}

func handleList(ctx context.Context, b *Bot, s *discordgo.Session, i *discordgo.InteractionCreate) error {
	entries, err := b.store.ListWatchEntries(ctx, i.GuildID)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return b.replyEmbed(s, i, "No streamers watched on this server. Add some with `/watch`.")
	}
	byChannel := map[string][]string{}
	var order []string
	for _, e := range entries {
		if _, seen := byChannel[e.ChannelID]; !seen {
			order = append(order, e.ChannelID)
		}
		name := e.Streamer
		if e.MessageID != "" {
			name += " (live)"
		}
		byChannel[e.ChannelID] = append(byChannel[e.ChannelID], name)
	}
	var lines []string
	for _, ch := range order {
		lines = append(lines, fmt.Sprintf("<#%s>: %s", ch, strings.Join(byChannel[ch], ", ")))
	}
	return b.replyEmbed(s, i, strings.Join(lines, "\n"))
}

func handleReset(ctx context.Context, b *Bot, s *discordgo.Session, i *discordgo.InteractionCreate) error {
	opts := optionMap(i)
	if !opts["confirm"].BoolValue() {
		return b.replyEmbed(s, i, "Not resetting. Run again with `confirm: True` to wipe all watch entries.")
	}
	if err := b.store.RemoveAllForGuild(ctx, i.GuildID); err != nil {
		return err
	}
	if err := b.store.EnsureGuildConfig(ctx, i.GuildID); err != nil {
		return err
	}
	return b.replyEmbed(s, i, "All watch entries removed.")
}

func (b *Bot) replyEmbed(s *discordgo.Session, i *discordgo.InteractionCreate, description string) error {
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Flags: discordgo.MessageFlagsEphemeral,
			Embeds: []*discordgo.MessageEmbed{{
				Title:       "**Twitch Monitor**",
				Description: description,
				Color:       replyColor,
			}},
		},
	})
}

func (b *Bot) replyText(s *discordgo.Session, i *discordgo.InteractionCreate, msg string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Flags:   discordgo.MessageFlagsEphemeral,
			Content: msg,
		},
	})
	if err != nil {
		b.log.Warn("interaction reply", slog.Any("err", err))
	}
}
