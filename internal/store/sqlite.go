package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"fieldsync/internal/models"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// SQLiteStore is the primary durable store. It implements both KV (queue
// blob, merge settings, sync tokens) and NoteStore (local field notes).
type SQLiteStore struct {
	db     *sql.DB
	logger *zerolog.Logger
}

func NewSQLiteStore(path string, logger *zerolog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("sqlite store initialized")
	return &SQLiteStore{db: db, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS kv (
            key TEXT PRIMARY KEY,
            value BLOB NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS field_notes (
            id TEXT PRIMARY KEY,
            parcel_key TEXT NOT NULL,
            text TEXT NOT NULL,
            tags TEXT,
            author TEXT,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_field_notes_parcel_key ON field_notes(parcel_key)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("executing query %s: %w", query, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
         ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertNote(ctx context.Context, note *models.FieldNote) error {
	tags, err := encodeTags(note.Tags)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO field_notes (id, parcel_key, text, tags, author, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET
             parcel_key = excluded.parcel_key,
             text = excluded.text,
             tags = excluded.tags,
             author = excluded.author,
             updated_at = excluded.updated_at`,
		note.ID, note.ParcelKey, note.Text, tags, note.Author, note.CreatedAt, note.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert note %q: %w", note.ID, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteNote(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM field_notes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete note %q: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) NoteByID(ctx context.Context, id string) (*models.FieldNote, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, parcel_key, text, tags, author, created_at, updated_at
         FROM field_notes WHERE id = ?`, id)

	note, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get note %q: %w", id, err)
	}
	return note, nil
}

func (s *SQLiteStore) NotesByParcel(ctx context.Context, parcelKey string) ([]models.FieldNote, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, parcel_key, text, tags, author, created_at, updated_at
         FROM field_notes WHERE parcel_key = ? ORDER BY created_at ASC`, parcelKey)
	if err != nil {
		return nil, fmt.Errorf("notes for parcel %q: %w", parcelKey, err)
	}
	defer rows.Close()

	var notes []models.FieldNote
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, *note)
	}
	return notes, rows.Err()
}

// ReplaceParcelNotes swaps the full local note set for a parcel in one
// transaction. Used by the fetch-and-replace step of parcel sync.
func (s *SQLiteStore) ReplaceParcelNotes(ctx context.Context, parcelKey string, notes []models.FieldNote) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM field_notes WHERE parcel_key = ?`, parcelKey); err != nil {
		return fmt.Errorf("clear parcel %q: %w", parcelKey, err)
	}

	for i := range notes {
		note := &notes[i]
		tags, err := encodeTags(note.Tags)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO field_notes (id, parcel_key, text, tags, author, created_at, updated_at)
             VALUES (?, ?, ?, ?, ?, ?, ?)`,
			note.ID, parcelKey, note.Text, tags, note.Author, note.CreatedAt, note.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert note %q: %w", note.ID, err)
		}
	}

	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(row rowScanner) (*models.FieldNote, error) {
	var note models.FieldNote
	var tags sql.NullString
	var author sql.NullString
	if err := row.Scan(&note.ID, &note.ParcelKey, &note.Text, &tags, &author, &note.CreatedAt, &note.UpdatedAt); err != nil {
		return nil, err
	}
	note.Author = author.String
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &note.Tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
	}
	return &note, nil
}

func encodeTags(tags []string) (string, error) {
	if len(tags) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encode tags: %w", err)
	}
	return string(raw), nil
}
