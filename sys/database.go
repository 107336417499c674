package sys

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/leeineian/jukebox/media"
	"github.com/mattn/go-sqlite3"
)

// --- Database Connection & Lifecycle ---

var DB *sql.DB

func InitDatabase(ctx context.Context, dataSourceName string) error {
	// The driver registers itself via its init() function
	_ = sqlite3.SQLiteDriver{}

	var err error
	DB, err = sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return err
	}

	DB.SetMaxOpenConns(5)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA cache_size=-2000;",
	}

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	for _, p := range pragmas {
		if _, err := DB.ExecContext(initCtx, p); err != nil {
			return fmt.Errorf(MsgDatabasePragmaError, p, err)
		}
	}

	tx, err := DB.BeginTx(initCtx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	tableQueries := []string{
		`CREATE TABLE IF NOT EXISTS bot_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS media_cache (
			item_id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			size INTEGER DEFAULT 0,
			stored_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, q := range tableQueries {
		if _, err := tx.ExecContext(initCtx, q); err != nil {
			return fmt.Errorf(MsgDatabaseTableError, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	LogDatabase(MsgDatabaseInitSuccess)
	return nil
}

func CloseDatabase() {
	if DB != nil {
		DB.Close()
	}
}

// --- Bot Persistence ---

// BotConfig helpers are used by the loader for mode tracking and state.
func GetBotConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := DB.QueryRowContext(ctx, "SELECT value FROM bot_config WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func SetBotConfig(ctx context.Context, key, value string) error {
	_, err := DB.ExecContext(ctx, `
		INSERT INTO bot_config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	return err
}

// --- Media Cache Index ---

// CacheIndex persists media cache entries so the cache can be re-warmed
// after a restart. It satisfies media.Index.
type CacheIndex struct {
	db *sql.DB
}

func NewCacheIndex(db *sql.DB) *CacheIndex {
	return &CacheIndex{db: db}
}

func (x *CacheIndex) Record(ctx context.Context, rec media.CacheRecord) error {
	storedAt := rec.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now().UTC()
	}
	_, err := x.db.ExecContext(ctx, `
		INSERT INTO media_cache (item_id, path, size, stored_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET path = excluded.path, size = excluded.size, stored_at = excluded.stored_at
	`, rec.ID, rec.Path, rec.Size, storedAt)
	return err
}

func (x *CacheIndex) Records(ctx context.Context) ([]media.CacheRecord, error) {
	rows, err := x.db.QueryContext(ctx, `SELECT item_id, path, size, stored_at FROM media_cache ORDER BY stored_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []media.CacheRecord
	for rows.Next() {
		var rec media.CacheRecord
		if err := rows.Scan(&rec.ID, &rec.Path, &rec.Size, &rec.StoredAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
