// Package catalog persists the searchable index of media objects. Each
// entry is identified by the (channel, message) pair addressing the object
// in the upstream store; that identity is immutable once created, while
// the remaining attributes are overwritten on re-ingestion.
package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Johnmclane5/TgSearchBot/internal/database"
	"github.com/Masterminds/squirrel"
)

var (
	ErrFileNotFound    = errors.New("file does not exist in the catalog")
	ErrChannelNotFound = errors.New("channel does not exist in the catalog")
)

type (
	MediaKind string

	// File is a single catalogued media object. FileName holds the
	// normalized display name (normalization happens at ingestion, before
	// the record reaches this store). FileRef is the upstream file handle
	// used to open the object for streaming.
	File struct {
		ChannelID int64     `db:"channel_id"`
		MessageID int64     `db:"message_id"`
		FileName  string    `db:"file_name"`
		FileSize  int64     `db:"file_size"`
		MediaKind MediaKind `db:"media_kind"`
		MimeType  string    `db:"mime_type"`
		FileRef   string    `db:"file_ref"`
		CreatedAt time.Time `db:"created_at"`
		UpdatedAt time.Time `db:"updated_at"`
	}

	// Channel is a search scope: a source channel whose files are indexed.
	Channel struct {
		ChannelID   int64  `db:"channel_id"`
		ChannelName string `db:"channel_name"`
	}

	// SearchPage is one ordered page of search results, together with the
	// total number of matches for the query across all pages.
	SearchPage struct {
		Files []*File
		Total int
	}

	Store struct{}
)

const (
	KindDocument MediaKind = "document"
	KindVideo    MediaKind = "video"
	KindAudio    MediaKind = "audio"
	KindImage    MediaKind = "image"
)

func NewStore() *Store {
	return &Store{}
}

// Upsert persists the file record, inserting it if the (channel, message)
// identity is unseen and overwriting the attribute columns otherwise. The
// operation is idempotent: repeating it with an identical record leaves
// the catalog in the same observable state.
func (store *Store) Upsert(db database.Queryable, file *File) error {
	_, err := db.Exec(db.Rebind(`
		INSERT INTO files(channel_id, message_id, file_name, file_size, media_kind, mime_type, file_ref, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, current_timestamp, current_timestamp)
		ON CONFLICT (channel_id, message_id) DO UPDATE
		SET file_name=excluded.file_name, file_size=excluded.file_size, media_kind=excluded.media_kind,
		    mime_type=excluded.mime_type, file_ref=excluded.file_ref, updated_at=current_timestamp
	`), file.ChannelID, file.MessageID, file.FileName, file.FileSize, file.MediaKind, file.MimeType, file.FileRef)
	if err != nil {
		return fmt.Errorf("failed to upsert file %d/%d: %w", file.ChannelID, file.MessageID, err)
	}

	return nil
}

// Find returns the file with the exact (channel, message) identity given,
// or ErrFileNotFound.
func (store *Store) Find(db database.Queryable, channelID int64, messageID int64) (*File, error) {
	query, args, err := selectFileBuilder().
		Where("channel_id=? AND message_id=?", channelID, messageID).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct find file query: %w", err)
	}

	var file File
	if err := db.Get(&file, db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrFileNotFound
		}

		return nil, err
	}

	return &file, nil
}

// FindByName returns the first file inside the given channel whose
// normalized name matches exactly. Used by the ingestion duplicate check.
func (store *Store) FindByName(db database.Queryable, channelID int64, name string) (*File, error) {
	query, args, err := selectFileBuilder().
		Where("channel_id=? AND file_name=?", channelID, name).
		OrderBy("message_id ASC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct find file by name query: %w", err)
	}

	var file File
	if err := db.Get(&file, db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrFileNotFound
		}

		return nil, err
	}

	return &file, nil
}

// Search performs bounded free-text matching of the (already sanitized)
// query against the normalized file names of a single channel. Every token
// of the query must appear in the name. Results are ordered newest-first
// and paged via offset/limit; the returned page carries the total match
// count so callers can render pagination.
func (store *Store) Search(db database.Queryable, channelID int64, sanitizedQuery string, offset int, limit int) (*SearchPage, error) {
	conditions := squirrel.And{squirrel.Expr("channel_id=?", channelID)}
	for _, token := range tokenize(sanitizedQuery) {
		conditions = append(conditions, squirrel.Expr("file_name LIKE ?", "%"+token+"%"))
	}

	query, args, err := selectFileBuilder().
		Where(conditions).
		OrderBy("message_id DESC").
		Offset(uint64(offset)).
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct search query: %w", err)
	}

	files := make([]*File, 0)
	if err := db.Select(&files, db.Rebind(query), args...); err != nil {
		return nil, err
	}

	countQuery, countArgs, err := squirrel.
		Select("COUNT(*)").
		From("files").
		Where(conditions).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct search count query: %w", err)
	}

	var total int
	if err := db.Get(&total, db.Rebind(countQuery), countArgs...); err != nil {
		return nil, err
	}

	return &SearchPage{Files: files, Total: total}, nil
}

// Delete removes a file record. This is an administrative operation; the
// ingestion path never deletes.
func (store *Store) Delete(db database.Queryable, channelID int64, messageID int64) error {
	result, err := db.Exec(db.Rebind(`DELETE FROM files WHERE channel_id=? AND message_id=?`), channelID, messageID)
	if err != nil {
		return fmt.Errorf("failed to delete file %d/%d: %w", channelID, messageID, err)
	}

	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrFileNotFound
	}

	return nil
}

// ListChannels enumerates all known search scopes.
func (store *Store) ListChannels(db database.Queryable) ([]*Channel, error) {
	channels := make([]*Channel, 0)
	if err := db.Select(&channels, `SELECT channel_id, channel_name FROM channels ORDER BY channel_name ASC`); err != nil {
		return nil, err
	}

	return channels, nil
}

// GetChannel returns the channel with the ID provided, or ErrChannelNotFound.
func (store *Store) GetChannel(db database.Queryable, channelID int64) (*Channel, error) {
	var channel Channel
	if err := db.Get(&channel, db.Rebind(`SELECT channel_id, channel_name FROM channels WHERE channel_id=?`), channelID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrChannelNotFound
		}

		return nil, err
	}

	return &channel, nil
}

// SaveChannel upserts a channel scope, keyed by the channel ID.
func (store *Store) SaveChannel(db database.Queryable, channel *Channel) error {
	_, err := db.Exec(db.Rebind(`
		INSERT INTO channels(channel_id, channel_name)
		VALUES (?, ?)
		ON CONFLICT (channel_id) DO UPDATE SET channel_name=excluded.channel_name
	`), channel.ChannelID, channel.ChannelName)
	if err != nil {
		return fmt.Errorf("failed to save channel %d: %w", channel.ChannelID, err)
	}

	return nil
}

// Stats aggregates per-channel file counts and the total stored byte size
// across the whole catalog.
func (store *Store) Stats(db database.Queryable) (map[int64]int, int64, error) {
	rows := make([]struct {
		ChannelID int64 `db:"channel_id"`
		Count     int   `db:"count"`
		Bytes     int64 `db:"bytes"`
	}, 0)

	err := db.Select(&rows, `
		SELECT channel_id, COUNT(*) AS count, COALESCE(SUM(file_size), 0) AS bytes
		FROM files GROUP BY channel_id ORDER BY count DESC
	`)
	if err != nil {
		return nil, 0, err
	}

	counts := make(map[int64]int, len(rows))
	var totalBytes int64
	for _, row := range rows {
		counts[row.ChannelID] = row.Count
		totalBytes += row.Bytes
	}

	return counts, totalBytes, nil
}

func selectFileBuilder() squirrel.SelectBuilder {
	return squirrel.
		Select("channel_id", "message_id", "file_name", "file_size", "media_kind", "mime_type", "file_ref", "created_at", "updated_at").
		From("files")
}

func tokenize(sanitizedQuery string) []string {
	return strings.Fields(sanitizedQuery)
}
