package chatsync

import (
	"context"
	"fmt"
	"time"

	"go.mau.fi/util/dbutil"

	_ "github.com/mattn/go-sqlite3"
)

// WarmCache persists the last-known message list per chat so a re-entered
// chat paints instantly before the authoritative list returns. The cache is
// advisory only: Hydrate fully supersedes whatever was restored from it.
type WarmCache struct {
	db *dbutil.Database
}

// OpenWarmCache opens (or creates) the cache database at path and ensures
// its schema.
func OpenWarmCache(ctx context.Context, path string) (*WarmCache, error) {
	db, err := dbutil.NewWithDialect(path, "sqlite3")
	if err != nil {
		return nil, fmt.Errorf("failed to open warm cache: %w", err)
	}
	c := &WarmCache{db: db}
	if err := c.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *WarmCache) ensureSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS chat_message_cache (
			chat_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			id TEXT NOT NULL,
			sender TEXT NOT NULL,
			text TEXT,
			created_ms BIGINT NOT NULL,
			audio_ref TEXT,
			video_ref TEXT,
			thumbnail_ref TEXT,
			persisted BOOLEAN NOT NULL,
			failed BOOLEAN NOT NULL,
			updated_ts BIGINT NOT NULL,
			PRIMARY KEY (chat_id, position)
		)`,
		`CREATE INDEX IF NOT EXISTS chat_message_cache_id_idx
			ON chat_message_cache (chat_id, id)`,
	}
	for _, query := range queries {
		if _, err := c.db.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to ensure warm cache schema: %w", err)
		}
	}
	return nil
}

// StoreSnapshot replaces the cached list for a chat with the given snapshot.
func (c *WarmCache) StoreSnapshot(ctx context.Context, chatID string, msgs []Message) error {
	if _, err := c.db.Exec(ctx, `DELETE FROM chat_message_cache WHERE chat_id=$1`, chatID); err != nil {
		return fmt.Errorf("failed to clear cached messages: %w", err)
	}
	now := time.Now().UnixMilli()
	for i, msg := range msgs {
		_, err := c.db.Exec(ctx, `
			INSERT INTO chat_message_cache
				(chat_id, position, id, sender, text, created_ms,
				 audio_ref, video_ref, thumbnail_ref, persisted, failed, updated_ts)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`, chatID, i, msg.ID, msg.Sender, msg.Text, msg.CreatedAt.UnixMilli(),
			msg.AudioRef, msg.VideoRef, msg.ThumbnailRef, msg.Persisted, msg.Failed, now)
		if err != nil {
			return fmt.Errorf("failed to cache message %s: %w", msg.ID, err)
		}
	}
	return nil
}

// Load returns the cached list for a chat in stored order.
func (c *WarmCache) Load(ctx context.Context, chatID string) ([]Message, error) {
	rows, err := c.db.Query(ctx, `
		SELECT id, sender, text, created_ms, audio_ref, video_ref, thumbnail_ref, persisted, failed
		FROM chat_message_cache WHERE chat_id=$1 ORDER BY position
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cached messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var msg Message
		var createdMS int64
		err = rows.Scan(&msg.ID, &msg.Sender, &msg.Text, &createdMS,
			&msg.AudioRef, &msg.VideoRef, &msg.ThumbnailRef, &msg.Persisted, &msg.Failed)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cached message: %w", err)
		}
		msg.CreatedAt = time.UnixMilli(createdMS)
		out = append(out, msg)
	}
	return out, rows.Err()
}

// Forget drops the cached list for a chat.
func (c *WarmCache) Forget(ctx context.Context, chatID string) error {
	_, err := c.db.Exec(ctx, `DELETE FROM chat_message_cache WHERE chat_id=$1`, chatID)
	return err
}

func (c *WarmCache) Close() error {
	return c.db.Close()
}
