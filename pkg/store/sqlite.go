package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite stores documents in a single sqlite table. An attachment is present
// when attachment_name is not null.
type SQLite struct {
	database *sql.DB
}

func OpenSQLite(ctx context.Context, dsn string) (*SQLite, error) {
	if dsn == "" {
		dsn = "copypad.sqlite3"
	}
	slog.Info("Opening database", "driver", "sqlite3", "dsn", dsn)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	s := &SQLite{database: db}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) init(ctx context.Context) error {
	if _, err := s.database.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS documents (
		path text not null primary key,
		text text not null default '',
		attachment blob,
		attachment_name text,
		updated_at integer not null
		)`,
	); err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}
	if _, err := s.database.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS documents_updated_at ON documents (updated_at)`,
	); err != nil {
		return fmt.Errorf("failed to create updated_at index: %w", err)
	}
	slog.Info("Ensured initial tables exist")
	return nil
}

func (s *SQLite) Load(ctx context.Context, path string) (Document, error) {
	if err := ValidatePath(path); err != nil {
		return Document{}, err
	}
	var text string
	var data []byte
	var name sql.NullString
	var updatedAt int64
	if err := s.database.QueryRowContext(ctx,
		`SELECT text, attachment, attachment_name, updated_at FROM documents WHERE path = ?`,
		path,
	).Scan(&text, &data, &name, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{Path: path}, nil
		}
		return Document{}, fmt.Errorf("failed to query document: %w", err)
	}
	doc := Document{Path: path, Text: text, UpdatedAt: time.Unix(0, updatedAt)}
	if name.Valid {
		if data == nil {
			data = []byte{}
		}
		doc.Attachment = &Attachment{Name: name.String, Data: data}
	}
	return doc, nil
}

func (s *SQLite) SaveText(ctx context.Context, path, text string) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	if _, err := s.database.ExecContext(ctx,
		`INSERT INTO documents (path, text, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET text = excluded.text, updated_at = excluded.updated_at`,
		path, text, time.Now().UnixNano(),
	); err != nil {
		return fmt.Errorf("failed to save text: %w", err)
	}
	return nil
}

func (s *SQLite) SaveAttachment(ctx context.Context, path string, attachment *Attachment) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	var data []byte
	var name sql.NullString
	if attachment != nil {
		data = attachment.Data
		if data == nil {
			data = []byte{}
		}
		name = sql.NullString{String: attachment.Name, Valid: true}
	}
	if _, err := s.database.ExecContext(ctx,
		`INSERT INTO documents (path, attachment, attachment_name, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET attachment = excluded.attachment,
		attachment_name = excluded.attachment_name, updated_at = excluded.updated_at`,
		path, data, name, time.Now().UnixNano(),
	); err != nil {
		return fmt.Errorf("failed to save attachment: %w", err)
	}
	return nil
}

func (s *SQLite) Expire(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.database.ExecContext(ctx, `DELETE FROM documents WHERE updated_at < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to expire documents: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count expired documents: %w", err)
	}
	return n, nil
}

func (s *SQLite) Close() error {
	return s.database.Close()
}
