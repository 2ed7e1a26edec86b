// Package reconcile drives the announcement state toward the observed live
// state of Twitch. Each tick works in two phases over the full watch table:
// first delete announcements that should no longer exist, then post or
// refresh announcements for streams that are live. The ledger (the message
// column on watch rows, plus the orphan queue) is only ever written after a
// Discord call resolves, so a crashed or failed tick leaves it describing
// what actually happened.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/calyptra/twitch-monitor/announce"
	"github.com/calyptra/twitch-monitor/db"
	"github.com/calyptra/twitch-monitor/discord"
	"github.com/calyptra/twitch-monitor/telemetry"
	"github.com/calyptra/twitch-monitor/twitchapi"
)

// Store is the persistence surface the reconciler needs.
type Store interface {
	ListDistinctStreamers(ctx context.Context) ([]string, error)
	ListWatchEntries(ctx context.Context, guildID string) ([]db.WatchEntry, error)
	SetMessage(ctx context.Context, guildID, channelID, streamer, messageID string) error
	ClearMessage(ctx context.Context, guildID, channelID, streamer string) error
	ListOrphans(ctx context.Context) ([]db.OrphanMessage, error)
	DeleteOrphan(ctx context.Context, o db.OrphanMessage) error
	SetLastTick(ctx context.Context, t time.Time) error
}

// Source reports which watched logins are currently live.
type Source interface {
	FetchLive(ctx context.Context, logins []string) ([]twitchapi.Stream, error)
}

// Gateway is the Discord message surface.
type Gateway interface {
	Send(ctx context.Context, channelID, content string, embed *discordgo.MessageEmbed) (string, error)
	Edit(ctx context.Context, channelID, messageID, content string, embed *discordgo.MessageEmbed) error
	Delete(ctx context.Context, channelID, messageID string) error
}

// Reconciler runs the tick loop.
type Reconciler struct {
	store   Store
	source  Source
	gateway Gateway

	callTimeout time.Duration
	concurrency int
	log         *slog.Logger

	now    func() time.Time
	onTick func(live int) // optional, called after each completed tick
}

type Option func(*Reconciler)

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithOnTick registers a hook invoked with the live-stream count after every
// completed tick. Used for the presence updater.
func WithOnTick(fn func(live int)) Option {
	return func(r *Reconciler) { r.onTick = fn }
}

// WithConcurrency bounds the Discord fan-out inside each phase.
func WithConcurrency(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

func New(store Store, source Source, gateway Gateway, callTimeout time.Duration, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:       store,
		source:      source,
		gateway:     gateway,
		callTimeout: callTimeout,
		concurrency: 4,
		log:         slog.Default().With(slog.String("component", "reconcile")),
		now:         time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run ticks immediately, then on every interval. Ticks never overlap: the
// body runs inline on the loop goroutine, and an overrunning tick picks up
// the single pending fire right after it finishes.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	r.log.Info("reconciler started", slog.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		tickCtx := telemetry.WithCorrelation(ctx, uuid.NewString())
		if err := r.Tick(tickCtx); err != nil && ctx.Err() == nil {
			telemetry.LoggerWithCorr(tickCtx).Error("tick failed", slog.Any("err", err))
		}
		select {
		case <-ctx.Done():
			r.log.Info("reconciler stopped")
			return
		case <-ticker.C:
		}
	}
}

// Tick runs one full reconciliation pass. An error means the pass produced no
// intents at all (stream fetch or store read failed); partial per-cell
// failures are absorbed, logged and retried next tick.
func (r *Reconciler) Tick(ctx context.Context) error {
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "reconcile"))
	if telemetry.TicksTotal != nil {
		telemetry.TicksTotal.Inc()
	}

	ctx, span := telemetry.StartSpan(ctx, "reconciler", "tick")
	defer span.End()

	var tickErr error
	telemetry.TimeFunc(telemetry.TickDuration, func() {
		tickErr = r.tick(ctx, log)
	})
	if tickErr != nil {
		telemetry.RecordError(span, tickErr)
		if telemetry.TickFailures != nil {
			telemetry.TickFailures.Inc()
		}
	} else {
		telemetry.SetSpanSuccess(span)
	}
	return tickErr
}

func (r *Reconciler) tick(ctx context.Context, log *slog.Logger) error {
	logins, err := r.store.ListDistinctStreamers(ctx)
	if err != nil {
		return err
	}
	telemetry.SetWatchedStreamers(len(logins))

	// A failed fetch aborts the tick before any intent is computed. Treating
	// it as mass-offline would delete every announcement on a Twitch outage.
	streams, err := r.source.FetchLive(ctx, logins)
	if err != nil {
		return err
	}
	live := make(map[string]twitchapi.Stream, len(streams))
	for _, s := range streams {
		live[s.UserLogin] = s
	}
	telemetry.SetLiveStreams(len(live))

	entries, err := r.store.ListWatchEntries(ctx, "")
	if err != nil {
		return err
	}
	orphans, err := r.store.ListOrphans(ctx)
	if err != nil {
		return err
	}

	r.deletePhase(ctx, log, entries, orphans, live)
	r.upsertPhase(ctx, log, entries, live)

	if err := r.store.SetLastTick(ctx, r.now()); err != nil {
		log.Warn("record last tick", slog.Any("err", err))
	}
	if r.onTick != nil {
		r.onTick(len(live))
	}
	log.Debug("tick complete",
		slog.Int("watched", len(logins)),
		slog.Int("live", len(live)),
		slog.Int("orphans", len(orphans)))
	return nil
}

// deletePhase removes announcements whose cell is gone (orphans) or whose
// streamer went offline. It runs before the upsert phase so a streamer moving
// between channels never shows two simultaneous announcements mid-tick.
func (r *Reconciler) deletePhase(ctx context.Context, log *slog.Logger, entries []db.WatchEntry, orphans []db.OrphanMessage, live map[string]twitchapi.Stream) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for _, o := range orphans {
		o := o
		g.Go(func() error {
			if r.deleteMessage(gctx, log, o.ChannelID, o.MessageID) {
				if err := r.store.DeleteOrphan(gctx, o); err != nil {
					log.Warn("drop orphan row", slog.Any("err", err))
				}
			}
			return nil
		})
	}

	for _, e := range entries {
		if e.MessageID == "" {
			continue
		}
		if _, isLive := live[e.Streamer]; isLive {
			continue
		}
		e := e
		g.Go(func() error {
			if r.deleteMessage(gctx, log, e.ChannelID, e.MessageID) {
				if err := r.store.ClearMessage(gctx, e.GuildID, e.ChannelID, e.Streamer); err != nil {
					log.Warn("clear ledger entry", slog.Any("err", err))
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}

// deleteMessage reports whether the ledger entry should be cleared. A message
// that is already gone, or that the bot can no longer touch, counts as
// cleaned up; only transient failures keep the entry for a retry.
func (r *Reconciler) deleteMessage(ctx context.Context, log *slog.Logger, channelID, messageID string) bool {
	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()
	err := r.gateway.Delete(callCtx, channelID, messageID)
	if err == nil {
		telemetry.CountGatewayCall("delete", "ok")
		return true
	}
	class := discord.Classify(err)
	telemetry.CountGatewayCall("delete", class.String())
	if class == discord.ClassTransient {
		log.Warn("delete announcement", slog.String("channel", channelID), slog.Any("err", err))
		return false
	}
	log.Debug("announcement already unreachable", slog.String("channel", channelID), slog.String("class", class.String()))
	return true
}

// upsertPhase refreshes existing announcements and posts missing ones for
// every live cell.
func (r *Reconciler) upsertPhase(ctx context.Context, log *slog.Logger, entries []db.WatchEntry, live map[string]twitchapi.Stream) {
	now := r.now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for _, e := range entries {
		stream, isLive := live[e.Streamer]
		if !isLive {
			continue
		}
		e := e
		content, embed := announce.Render(stream, e.RoleID, now)
		if e.MessageID != "" {
			g.Go(func() error {
				r.editAnnouncement(gctx, log, e, content, embed)
				return nil
			})
		} else {
			g.Go(func() error {
				r.sendAnnouncement(gctx, log, e, content, embed)
				return nil
			})
		}
	}
	_ = g.Wait()
}

func (r *Reconciler) editAnnouncement(ctx context.Context, log *slog.Logger, e db.WatchEntry, content string, embed *discordgo.MessageEmbed) {
	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()
	err := r.gateway.Edit(callCtx, e.ChannelID, e.MessageID, content, embed)
	if err == nil {
		telemetry.CountGatewayCall("edit", "ok")
		return
	}
	class := discord.Classify(err)
	telemetry.CountGatewayCall("edit", class.String())
	switch class {
	case discord.ClassNotFound, discord.ClassForbidden:
		// The tracked message is gone (manual deletion, channel removal).
		// Clearing the ledger makes the next tick recreate it when possible.
		if cerr := r.store.ClearMessage(ctx, e.GuildID, e.ChannelID, e.Streamer); cerr != nil {
			log.Warn("clear ledger entry", slog.Any("err", cerr))
		}
		log.Info("announcement vanished, will repost",
			slog.String("streamer", e.Streamer), slog.String("channel", e.ChannelID))
	default:
		log.Warn("edit announcement", slog.String("streamer", e.Streamer), slog.Any("err", err))
	}
}

func (r *Reconciler) sendAnnouncement(ctx context.Context, log *slog.Logger, e db.WatchEntry, content string, embed *discordgo.MessageEmbed) {
	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()
	id, err := r.gateway.Send(callCtx, e.ChannelID, content, embed)
	if err != nil {
		telemetry.CountGatewayCall("send", discord.Classify(err).String())
		log.Warn("post announcement", slog.String("streamer", e.Streamer), slog.String("channel", e.ChannelID), slog.Any("err", err))
		return
	}
	telemetry.CountGatewayCall("send", "ok")
	// Record only after the message exists. On the opposite ordering a send
	// failure would strand a ledger entry pointing at nothing.
	if err := r.store.SetMessage(ctx, e.GuildID, e.ChannelID, e.Streamer, id); err != nil {
		log.Warn("record announcement", slog.String("streamer", e.Streamer), slog.Any("err", err))
	}
	log.Info("announced live stream", slog.String("streamer", e.Streamer), slog.String("channel", e.ChannelID))
}
