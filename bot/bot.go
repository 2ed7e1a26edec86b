// Package bot owns the Discord session: slash commands, guild lifecycle and
// the presence line. It talks to the poller only through the database.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/calyptra/twitch-monitor/db"
)

// Bot wraps the gateway session and the command surface.
type Bot struct {
	session     *discordgo.Session
	store       *db.Store
	callTimeout time.Duration
	log         *slog.Logger
}

func New(token string, store *db.Store, callTimeout time.Duration) (*Bot, error) {
	if err := validateRegistry(); err != nil {
		return nil, err
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds

	b := &Bot{
		session:     session,
		store:       store,
		callTimeout: callTimeout,
		log:         slog.Default().With(slog.String("component", "bot")),
	}
	session.AddHandler(b.onReady)
	session.AddHandler(b.onInteraction)
	session.AddHandler(b.onGuildCreate)
	session.AddHandler(b.onGuildDelete)
	return b, nil
}

// Session exposes the underlying session for the message gateway.
func (b *Bot) Session() *discordgo.Session {
	return b.session
}

// Start opens the gateway connection and registers the command set globally.
func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}
	if _, err := b.session.ApplicationCommandBulkOverwrite(b.session.State.User.ID, "", commandDefs); err != nil {
		return fmt.Errorf("register commands: %w", err)
	}
	b.log.Info("command set registered", slog.Int("commands", len(commandDefs)))
	return nil
}

func (b *Bot) Close() error {
	return b.session.Close()
}

// UpdatePresence sets the "Watching N streams" activity line.
func (b *Bot) UpdatePresence(live int) {
	noun := "streams"
	if live == 1 {
		noun = "stream"
	}
	if err := b.session.UpdateWatchStatus(0, fmt.Sprintf("%d %s", live, noun)); err != nil {
		b.log.Warn("update presence", slog.Any("err", err))
	}
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.log.Info("gateway ready",
		slog.String("user", r.User.Username),
		slog.Int("guilds", len(r.Guilds)))
}

func (b *Bot) onGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), b.callTimeout)
	defer cancel()
	if err := b.store.EnsureGuildConfig(ctx, g.ID); err != nil {
		b.log.Error("ensure guild config", slog.String("guild", g.ID), slog.Any("err", err))
		return
	}
	b.log.Info("guild available", slog.String("guild", g.ID), slog.String("name", g.Name))
}

// onGuildDelete cascades removal when the bot is kicked or the guild is
// deleted. Unavailable guilds (outages) are not removals.
func (b *Bot) onGuildDelete(s *discordgo.Session, g *discordgo.GuildDelete) {
	if g.Unavailable {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.callTimeout)
	defer cancel()
	if err := b.store.RemoveAllForGuild(ctx, g.ID); err != nil {
		b.log.Error("remove guild data", slog.String("guild", g.ID), slog.Any("err", err))
		return
	}
	b.log.Info("guild removed, data dropped", slog.String("guild", g.ID))
}

func (b *Bot) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	name := i.ApplicationCommandData().Name
	handler, ok := commandHandlers[name]
	if !ok {
		b.log.Warn("unknown command", slog.String("command", name))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.callTimeout)
	defer cancel()
	if err := handler(ctx, b, s, i); err != nil {
		b.log.Error("command failed", slog.String("command", name), slog.Any("err", err))
		b.replyText(s, i, "Something went wrong, try again.")
	}
}
