package db

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"
)

// WatchEntry is one configured (guild, channel, streamer) watch relationship.
// MessageID is the live-announcement ledger: non-empty while a message for
// this cell is (believed to be) posted. RoleID and MessageID map to NULLable
// columns; empty string means NULL.
type WatchEntry struct {
	GuildID   string
	ChannelID string
	RoleID    string
	Streamer  string
	MessageID string
}

// OrphanMessage is an announcement whose watch row was removed while the
// message was still posted. The reconciler deletes the message and the row.
type OrphanMessage struct {
	GuildID   string
	ChannelID string
	MessageID string
	Streamer  string
}

// AddResult reports which logins were stored and which were skipped
// (invalid or already present). Both slices are sorted.
type AddResult struct {
	Added   []string
	Skipped []string
}

// NormalizeLogin canonicalizes a Twitch login: trim, strip one leading '@',
// lowercase. Returns ok=false for empty results and for names longer than the
// 30 characters Twitch allows.
func NormalizeLogin(raw string) (string, bool) {
	login := strings.TrimSpace(raw)
	login = strings.TrimPrefix(login, "@")
	login = strings.ToLower(login)
	if login == "" || len(login) > 30 {
		return login, false
	}
	return login, true
}

// Store wraps all watch/ledger/config persistence. Safe for concurrent use;
// the poller and the command surface serialize on row locks only.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ListDistinctStreamers returns every watched login across all guilds,
// used to build the Twitch query.
func (s *Store) ListDistinctStreamers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT streamer FROM watch ORDER BY streamer`)
	if err != nil {
		return nil, fmt.Errorf("list streamers: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var login string
		if err := rows.Scan(&login); err != nil {
			return nil, err
		}
		out = append(out, login)
	}
	return out, rows.Err()
}

// ListWatchEntries returns watch entries, all guilds when guildID is empty.
func (s *Store) ListWatchEntries(ctx context.Context, guildID string) ([]WatchEntry, error) {
	q := `SELECT guildid, channelid, COALESCE(roleid,''), streamer, COALESCE(message,'')
		FROM watch`
	args := []any{}
	if guildID != "" {
		q += ` WHERE guildid = $1`
		args = append(args, guildID)
	}
	q += ` ORDER BY guildid, channelid, streamer`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list watch entries: %w", err)
	}
	defer rows.Close()
	var out []WatchEntry
	for rows.Next() {
		var e WatchEntry
		if err := rows.Scan(&e.GuildID, &e.ChannelID, &e.RoleID, &e.Streamer, &e.MessageID); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AddWatchEntries stores one watch row per valid login. Invalid logins and
// exact-key duplicates are skipped, never errors.
func (s *Store) AddWatchEntries(ctx context.Context, guildID, channelID, roleID string, logins []string) (AddResult, error) {
	var res AddResult
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("add watch entries: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, raw := range logins {
		login, ok := NormalizeLogin(raw)
		if !ok {
			if login != "" {
				res.Skipped = append(res.Skipped, login)
			}
			continue
		}
		r, err := tx.ExecContext(ctx, `INSERT INTO watch (guildid, channelid, roleid, streamer)
			VALUES ($1, $2, NULLIF($3,''), $4)
			ON CONFLICT (guildid, channelid, streamer) DO NOTHING`,
			guildID, channelID, roleID, login)
		if err != nil {
			return AddResult{}, fmt.Errorf("add %s: %w", login, err)
		}
		if n, _ := r.RowsAffected(); n == 0 {
			res.Skipped = append(res.Skipped, login)
		} else {
			res.Added = append(res.Added, login)
		}
	}
	if err := tx.Commit(); err != nil {
		return AddResult{}, fmt.Errorf("add watch entries: %w", err)
	}
	sort.Strings(res.Added)
	sort.Strings(res.Skipped)
	return res, nil
}

// RemoveWatchEntry deletes watch rows for a login, in one channel or (when
// channelID is empty) across the whole guild. Rows with a posted message are
// queued as orphans in the same transaction so the reconciler can delete the
// announcement on its next pass.
func (s *Store) RemoveWatchEntry(ctx context.Context, guildID, channelID, rawLogin string) (int64, error) {
	login, ok := NormalizeLogin(rawLogin)
	if !ok {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("remove watch entry: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	where := `guildid = $1 AND streamer = $2`
	args := []any{guildID, login}
	if channelID != "" {
		where += ` AND channelid = $3`
		args = append(args, channelID)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO orphan_messages (guildid, channelid, messageid, streamer)
		SELECT guildid, channelid, message, streamer FROM watch
		WHERE `+where+` AND message IS NOT NULL
		ON CONFLICT (guildid, channelid, messageid) DO NOTHING`, args...); err != nil {
		return 0, fmt.Errorf("queue orphans: %w", err)
	}
	r, err := tx.ExecContext(ctx, `DELETE FROM watch WHERE `+where, args...)
	if err != nil {
		return 0, fmt.Errorf("remove watch entry: %w", err)
	}
	n, _ := r.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("remove watch entry: %w", err)
	}
	return n, nil
}

// RemoveAllForGuild cascade-deletes everything the bot knows about a guild.
// Used on guild-leave and by the reset command. Messages cannot be cleaned on
// a guild the bot no longer belongs to, so orphans are dropped, not queued.
func (s *Store) RemoveAllForGuild(ctx context.Context, guildID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("remove guild: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, q := range []string{
		`DELETE FROM watch WHERE guildid = $1`,
		`DELETE FROM orphan_messages WHERE guildid = $1`,
		`DELETE FROM guild_config WHERE guildid = $1`,
	} {
		if _, err := tx.ExecContext(ctx, q, guildID); err != nil {
			return fmt.Errorf("remove guild: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("remove guild: %w", err)
	}
	return nil
}

// EnsureGuildConfig creates the per-guild config row if absent.
func (s *Store) EnsureGuildConfig(ctx context.Context, guildID string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO guild_config (guildid) VALUES ($1)
		ON CONFLICT (guildid) DO NOTHING`, guildID)
	if err != nil {
		return fmt.Errorf("ensure guild config: %w", err)
	}
	return nil
}

// SetMessage records a freshly posted announcement for a cell.
func (s *Store) SetMessage(ctx context.Context, guildID, channelID, streamer, messageID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE watch SET message = $4, updated_at = NOW()
		WHERE guildid = $1 AND channelid = $2 AND streamer = $3`,
		guildID, channelID, streamer, messageID)
	if err != nil {
		return fmt.Errorf("set message: %w", err)
	}
	return nil
}

// ClearMessage drops the ledger entry for a cell. Clearing an already-clear
// (or already-deleted) cell is a no-op, which makes it safe against guild
// removal racing an in-flight tick.
func (s *Store) ClearMessage(ctx context.Context, guildID, channelID, streamer string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE watch SET message = NULL, updated_at = NOW()
		WHERE guildid = $1 AND channelid = $2 AND streamer = $3`,
		guildID, channelID, streamer)
	if err != nil {
		return fmt.Errorf("clear message: %w", err)
	}
	return nil
}

// ListOrphans returns queued orphan announcements.
func (s *Store) ListOrphans(ctx context.Context) ([]OrphanMessage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT guildid, channelid, messageid, streamer FROM orphan_messages`)
	if err != nil {
		return nil, fmt.Errorf("list orphans: %w", err)
	}
	defer rows.Close()
	var out []OrphanMessage
	for rows.Next() {
		var o OrphanMessage
		if err := rows.Scan(&o.GuildID, &o.ChannelID, &o.MessageID, &o.Streamer); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// DeleteOrphan removes a drained orphan row. No-op if already gone.
func (s *Store) DeleteOrphan(ctx context.Context, o OrphanMessage) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM orphan_messages
		WHERE guildid = $1 AND channelid = $2 AND messageid = $3`,
		o.GuildID, o.ChannelID, o.MessageID)
	if err != nil {
		return fmt.Errorf("delete orphan: %w", err)
	}
	return nil
}

// SetLastTick records the completion time of the latest reconciliation pass.
func (s *Store) SetLastTick(ctx context.Context, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO kv (key, value, updated_at) VALUES ('last_tick', $1, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		t.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("set last tick: %w", err)
	}
	return nil
}

// LastTick returns the recorded completion time of the latest tick, zero if
// none has completed yet.
func (s *Store) LastTick(ctx context.Context) (time.Time, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = 'last_tick'`).Scan(&v)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("last tick: %w", err)
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("last tick: %w", err)
	}
	return t, nil
}

// Stats returns the distinct watched-streamer count and the number of
// currently posted announcements, for the status endpoint.
func (s *Store) Stats(ctx context.Context) (watched, posted int, err error) {
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT streamer) FROM watch`).Scan(&watched); err != nil {
		return 0, 0, fmt.Errorf("stats: %w", err)
	}
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM watch WHERE message IS NOT NULL`).Scan(&posted); err != nil {
		return 0, 0, fmt.Errorf("stats: %w", err)
	}
	return watched, posted, nil
}
