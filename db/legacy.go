package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// Schema marker written after a successful legacy backfill so startup never
// has to re-introspect table shapes.
const backfillMarkerKey = "schema_backfill"

// BackfillLegacy migrates data left behind by older deployments into the
// current schema. Two legacy shapes are recognized:
//
//   - monitor(guildid, streamer) plus config(guildid, prefix, channelid):
//     watch entries carried no channel of their own; the guild's configured
//     channel is fanned out onto each entry.
//   - monitor(guildid, channelid, roleid[, message], streamer): the
//     per-channel shape under the old table name; rows copy over directly.
//
// Affected tables are backed up before any destructive step and restored if
// the backfill fails partway. Runs after RunMigrations (the new tables must
// exist) and is a no-op once the schema marker is set.
func BackfillLegacy(ctx context.Context, db *sql.DB) error {
	logger := slog.Default().With(slog.String("component", "db_backfill"))

	var marker string
	err := db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = $1`, backfillMarkerKey).Scan(&marker)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("read schema marker: %w", err)
	}
	if marker == "done" {
		return nil
	}

	monitorExists, err := tableExists(ctx, db, "monitor")
	if err != nil {
		return err
	}
	if !monitorExists {
		// Fresh install; nothing to carry over.
		return setBackfillMarker(ctx, db)
	}

	cols, err := tableColumns(ctx, db, "monitor")
	if err != nil {
		return err
	}
	configExists, err := tableExists(ctx, db, "config")
	if err != nil {
		return err
	}

	logger.Info("legacy tables detected, starting backfill",
		slog.Bool("per_channel_shape", cols["channelid"]),
		slog.Bool("legacy_config", configExists))

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS monitor_backup AS SELECT * FROM monitor`); err != nil {
		return fmt.Errorf("back up monitor: %w", err)
	}
	if configExists {
		if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS config_backup AS SELECT * FROM config`); err != nil {
			return fmt.Errorf("back up config: %w", err)
		}
	}

	if err := copyLegacyRows(ctx, db, cols, configExists); err != nil {
		restoreFromBackup(ctx, db, configExists, logger)
		return fmt.Errorf("legacy backfill: %w", err)
	}

	for _, stmt := range []string{
		`DROP TABLE IF EXISTS monitor`,
		`DROP TABLE IF EXISTS config`,
		`DROP TABLE IF EXISTS monitor_backup`,
		`DROP TABLE IF EXISTS config_backup`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("drop legacy table: %w", err)
		}
	}

	logger.Info("legacy backfill complete")
	return setBackfillMarker(ctx, db)
}

func copyLegacyRows(ctx context.Context, db *sql.DB, cols map[string]bool, configExists bool) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	switch {
	case cols["channelid"] && cols["message"]:
		// Newest legacy shape: only the table name changed.
		if _, err := tx.ExecContext(ctx, `INSERT INTO watch (guildid, channelid, roleid, streamer, message)
			SELECT guildid, channelid, roleid, streamer, message FROM monitor
			ON CONFLICT (guildid, channelid, streamer) DO NOTHING`); err != nil {
			return err
		}
	case cols["channelid"]:
		if _, err := tx.ExecContext(ctx, `INSERT INTO watch (guildid, channelid, roleid, streamer)
			SELECT guildid, channelid, roleid, streamer FROM monitor
			ON CONFLICT (guildid, channelid, streamer) DO NOTHING`); err != nil {
			return err
		}
	default:
		if !configExists {
			return fmt.Errorf("monitor table lacks channelid and no config table to derive channels from")
		}
		// Entries without a channel inherit the guild's configured channel.
		// Monitor rows for guilds with no config row are orphans and skipped.
		if _, err := tx.ExecContext(ctx, `INSERT INTO watch (guildid, channelid, roleid, streamer)
			SELECT m.guildid, c.channelid, NULL, m.streamer
			FROM monitor m JOIN config c ON c.guildid = m.guildid
			WHERE c.channelid IS NOT NULL
			ON CONFLICT (guildid, channelid, streamer) DO NOTHING`); err != nil {
			return err
		}
	}

	if configExists {
		if _, err := tx.ExecContext(ctx, `INSERT INTO guild_config (guildid, prefix, channelid)
			SELECT guildid, prefix, channelid FROM config
			ON CONFLICT (guildid) DO NOTHING`); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func restoreFromBackup(ctx context.Context, db *sql.DB, configExists bool, logger *slog.Logger) {
	logger.Warn("backfill failed, restoring legacy tables from backup")
	stmts := []string{
		`DROP TABLE IF EXISTS monitor`,
		`CREATE TABLE monitor AS SELECT * FROM monitor_backup`,
		`DROP TABLE monitor_backup`,
	}
	if configExists {
		stmts = append(stmts,
			`DROP TABLE IF EXISTS config`,
			`CREATE TABLE config AS SELECT * FROM config_backup`,
			`DROP TABLE config_backup`,
		)
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			logger.Error("restore from backup failed", slog.Any("err", err), slog.String("stmt", stmt))
			return
		}
	}
	logger.Info("legacy tables restored from backup")
}

func setBackfillMarker(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `INSERT INTO kv (key, value, updated_at) VALUES ($1, 'done', NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`, backfillMarkerKey)
	if err != nil {
		return fmt.Errorf("set schema marker: %w", err)
	}
	return nil
}

func tableExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var reg sql.NullString
	if err := db.QueryRowContext(ctx, `SELECT to_regclass('public.'||$1)::text`, name).Scan(&reg); err != nil {
		return false, fmt.Errorf("check table %s: %w", name, err)
	}
	return reg.Valid && reg.String != "", nil
}

func tableColumns(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT column_name FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1`, table)
	if err != nil {
		return nil, fmt.Errorf("columns of %s: %w", table, err)
	}
	defer rows.Close()
	cols := make(map[string]bool)
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		cols[c] = true
	}
	return cols, rows.Err()
}
